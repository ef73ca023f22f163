package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// StrmURLMapping caches one resolved upstream URL per episode identity
// and provider for the STRM reverse proxy.
type StrmURLMapping struct {
	Site         string
	Slug         string
	Season       int
	Episode      int
	Language     string
	Provider     string
	ResolvedURL  string
	ProviderUsed string
	ResolvedAt   time.Time
	UpdatedAt    time.Time
}

// GetStrmMapping reads a cached resolved URL.
func (s *Store) GetStrmMapping(ctx context.Context, site, slug string, season, episode int, language, provider string) (*StrmURLMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT site, slug, season, episode, language, provider, resolved_url, provider_used, resolved_at, updated_at
		 FROM strm_url_mappings
		 WHERE site = ? AND slug = ? AND season = ? AND episode = ? AND language = ? AND provider = ?`,
		site, slug, season, episode, language, provider)

	var m StrmURLMapping
	err := row.Scan(&m.Site, &m.Slug, &m.Season, &m.Episode, &m.Language, &m.Provider,
		&m.ResolvedURL, &m.ProviderUsed, &m.ResolvedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpsertStrmMapping writes a resolved URL in one statement so readers
// never see a partial row.
func (s *Store) UpsertStrmMapping(ctx context.Context, m *StrmURLMapping) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strm_url_mappings (site, slug, season, episode, language, provider, resolved_url, provider_used, resolved_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (site, slug, season, episode, language, provider) DO UPDATE SET
		   resolved_url = excluded.resolved_url,
		   provider_used = excluded.provider_used,
		   resolved_at = excluded.resolved_at,
		   updated_at = excluded.updated_at`,
		m.Site, m.Slug, m.Season, m.Episode, m.Language, m.Provider,
		m.ResolvedURL, m.ProviderUsed, now, now)
	return err
}

// DeleteStrmMapping invalidates a cached URL after a refresh-eligible
// upstream failure.
func (s *Store) DeleteStrmMapping(ctx context.Context, site, slug string, season, episode int, language, provider string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM strm_url_mappings
		 WHERE site = ? AND slug = ? AND season = ? AND episode = ? AND language = ? AND provider = ?`,
		site, slug, season, episode, language, provider)
	return err
}
