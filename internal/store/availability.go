package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// EpisodeAvailability caches one probe result per episode identity.
type EpisodeAvailability struct {
	Site      string
	Slug      string
	Season    int
	Episode   int
	Language  string
	Available bool
	Height    int
	VCodec    string
	Provider  string
	CheckedAt time.Time
	Extra     string
}

// Fresh reports whether the row is inside the TTL window.
func (a *EpisodeAvailability) Fresh(ttl time.Duration) bool {
	return time.Since(a.CheckedAt) < ttl
}

// GetAvailability reads a cached probe result. Stale rows are returned
// as-is; freshness is the caller's decision via Fresh.
func (s *Store) GetAvailability(ctx context.Context, site, slug string, season, episode int, language string) (*EpisodeAvailability, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT site, slug, season, episode, language, available, height, vcodec, provider, checked_at, extra
		 FROM episode_availability
		 WHERE site = ? AND slug = ? AND season = ? AND episode = ? AND language = ?`,
		site, slug, season, episode, language)

	var a EpisodeAvailability
	var available int
	err := row.Scan(&a.Site, &a.Slug, &a.Season, &a.Episode, &a.Language,
		&available, &a.Height, &a.VCodec, &a.Provider, &a.CheckedAt, &a.Extra)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Available = available != 0
	return &a, nil
}

// UpsertAvailability writes a probe result. The upsert replaces the full
// row in one statement so concurrent readers never observe a
// half-written entry.
func (s *Store) UpsertAvailability(ctx context.Context, a *EpisodeAvailability) error {
	checkedAt := a.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episode_availability (site, slug, season, episode, language, available, height, vcodec, provider, checked_at, extra)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (site, slug, season, episode, language) DO UPDATE SET
		   available = excluded.available,
		   height = excluded.height,
		   vcodec = excluded.vcodec,
		   provider = excluded.provider,
		   checked_at = excluded.checked_at,
		   extra = excluded.extra`,
		a.Site, a.Slug, a.Season, a.Episode, a.Language,
		boolInt(a.Available), a.Height, a.VCodec, a.Provider, checkedAt, a.Extra)
	return err
}

// ListAvailableEpisodes returns the cached available episode numbers for
// one season. Used as a probe-free hint during season searches.
func (s *Store) ListAvailableEpisodes(ctx context.Context, site, slug string, season int, language string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT episode FROM episode_availability
		 WHERE site = ? AND slug = ? AND season = ? AND language = ? AND available = 1
		 ORDER BY episode`,
		site, slug, season, language)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var episodes []int
	for rows.Next() {
		var e int
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		episodes = append(episodes, e)
	}
	return episodes, rows.Err()
}
