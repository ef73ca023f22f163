package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// EpisodeNumberMapping relates a series' absolute episode index to its
// (season, episode) pair. Two uniqueness constraints on the table keep
// the relation 1:1 in both directions.
type EpisodeNumberMapping struct {
	SeriesSlug     string
	AbsoluteNumber int
	Season         int
	Episode        int
	Title          string
}

// GetMappingByAbsolute looks up the (season, episode) for an absolute
// episode number.
func (s *Store) GetMappingByAbsolute(ctx context.Context, slug string, absolute int) (*EpisodeNumberMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT series_slug, absolute_number, season, episode, title
		 FROM episode_number_mappings WHERE series_slug = ? AND absolute_number = ?`,
		slug, absolute)
	return scanMapping(row)
}

// GetMappingByEpisode looks up the absolute number for a (season,
// episode) pair.
func (s *Store) GetMappingByEpisode(ctx context.Context, slug string, season, episode int) (*EpisodeNumberMapping, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT series_slug, absolute_number, season, episode, title
		 FROM episode_number_mappings WHERE series_slug = ? AND season = ? AND episode = ?`,
		slug, season, episode)
	return scanMapping(row)
}

func scanMapping(row *sql.Row) (*EpisodeNumberMapping, error) {
	var m EpisodeNumberMapping
	err := row.Scan(&m.SeriesSlug, &m.AbsoluteNumber, &m.Season, &m.Episode, &m.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ReplaceMappings swaps the full absolute-number mapping of one series
// in a transaction. The mapping is derived data, so a full rebuild is
// always safe.
func (s *Store) ReplaceMappings(ctx context.Context, slug string, mappings []EpisodeNumberMapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM episode_number_mappings WHERE series_slug = ?`, slug); err != nil {
		return err
	}
	for _, m := range mappings {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO episode_number_mappings (series_slug, absolute_number, season, episode, title)
			 VALUES (?, ?, ?, ?, ?)`,
			slug, m.AbsoluteNumber, m.Season, m.Episode, m.Title)
		if err != nil {
			return fmt.Errorf("insert mapping %s abs=%d: %w", slug, m.AbsoluteNumber, err)
		}
	}

	return tx.Commit()
}

// CountMappings returns the number of stored mappings for a series.
func (s *Store) CountMappings(ctx context.Context, slug string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM episode_number_mappings WHERE series_slug = ?`, slug).Scan(&n)
	return n, err
}
