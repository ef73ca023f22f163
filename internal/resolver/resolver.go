// Package resolver maps free-text queries and catalogue URLs to a
// (site, slug) pair using per-site title indices with scored fuzzy
// matching and fallback strategies.
package resolver

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/catalog"
)

// ErrNoMatch is returned when no candidate clears the confidence floor.
var ErrNoMatch = errors.New("resolver: no match")

// Match is a resolved (site, slug) with scoring context.
type Match struct {
	Site  catalog.Site
	Slug  string
	Title string
	Score float64
}

// Config tunes the resolver.
type Config struct {
	// Sites in priority order. Megakino, having no index, only ever
	// matches via URL recognition or the search-only fallback.
	Sites        []catalog.Site
	MinScore     float64
	RefreshAfter time.Duration
	DebugScores  bool
}

// Service resolves titles against catalogue site indices.
type Service struct {
	client *catalog.Client
	cfg    Config
	logger *zerolog.Logger

	mu      sync.RWMutex
	indices map[catalog.Site]*siteIndex
}

type siteIndex struct {
	entries []catalog.IndexEntry
	builtAt time.Time
}

// NewService creates a resolver service.
func NewService(client *catalog.Client, cfg Config, logger *zerolog.Logger) *Service {
	if cfg.MinScore == 0 {
		cfg.MinScore = 3.5
	}
	if cfg.RefreshAfter == 0 {
		cfg.RefreshAfter = 24 * time.Hour
	}
	subLogger := logger.With().Str("component", "resolver").Logger()
	return &Service{
		client:  client,
		cfg:     cfg,
		logger:  &subLogger,
		indices: make(map[catalog.Site]*siteIndex),
	}
}

// looksLikeSlug matches bare slug candidates for the megakino fallback.
var looksLikeSlug = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Resolve maps a query to the best-scoring (site, slug). The query may be
// free text or a URL of a configured site. Returns ErrNoMatch when
// nothing clears the confidence floor; it never fails on upstream errors
// alone, since a partial index can still produce a match.
func (s *Service) Resolve(ctx context.Context, query string) (*Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrNoMatch
	}

	// URL recognition wins outright.
	if m := s.matchURL(query); m != nil {
		return m, nil
	}

	best := s.scoreAcrossSites(ctx, query)
	if best != nil && best.Score >= s.cfg.MinScore {
		return best, nil
	}

	// Suggest-API fallback, s.to only.
	if m := s.suggestFallback(ctx, query); m != nil {
		return m, nil
	}

	// Megakino is search-only: accept the query as a slug candidate.
	if s.siteEnabled(catalog.SiteMegakino) && looksLikeSlug.MatchString(strings.ToLower(query)) {
		return &Match{
			Site: catalog.SiteMegakino,
			Slug: strings.ToLower(query),
		}, nil
	}

	return nil, ErrNoMatch
}

func (s *Service) siteEnabled(site catalog.Site) bool {
	for _, enabled := range s.cfg.Sites {
		if enabled == site {
			return true
		}
	}
	return false
}

// matchURL applies each enabled site's slug pattern to the query.
func (s *Service) matchURL(query string) *Match {
	if !strings.Contains(query, "/") {
		return nil
	}
	for _, site := range s.cfg.Sites {
		desc := catalog.Describe(site)
		if slug := desc.SlugFromURL(query); slug != "" {
			return &Match{Site: site, Slug: slug}
		}
	}
	return nil
}

func (s *Service) scoreAcrossSites(ctx context.Context, query string) *Match {
	var best *Match

	for _, site := range s.cfg.Sites {
		if !catalog.Describe(site).HasAlphabetIndex {
			continue
		}

		entries, err := s.index(ctx, site)
		if err != nil {
			s.logger.Warn().Err(err).Str("site", string(site)).Msg("index unavailable, skipping site")
			continue
		}

		for i := range entries {
			entry := &entries[i]
			titles := append([]string{entry.Title}, entry.AltTitles...)
			score := ScoreTitles(query, titles)

			if s.cfg.DebugScores && score > 0 {
				s.logger.Debug().
					Str("site", string(site)).
					Str("slug", entry.Slug).
					Float64("score", score).
					Msg("candidate score")
			}

			if best == nil || score > best.Score {
				best = &Match{
					Site:  site,
					Slug:  entry.Slug,
					Title: entry.Title,
					Score: score,
				}
			}
		}
	}

	return best
}

func (s *Service) suggestFallback(ctx context.Context, query string) *Match {
	if !s.siteEnabled(catalog.SiteSTO) {
		return nil
	}

	hits, err := s.client.Suggest(ctx, catalog.SiteSTO, query)
	if err != nil {
		s.logger.Debug().Err(err).Str("query", query).Msg("suggest fallback failed")
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	desc := catalog.Describe(catalog.SiteSTO)
	slug := desc.SlugFromURL(hits[0].Link)
	if slug == "" {
		return nil
	}
	return &Match{
		Site:  catalog.SiteSTO,
		Slug:  slug,
		Title: hits[0].Title,
	}
}

// index returns a site's entries, rebuilding when stale. The rebuilt
// index replaces the old one in a single swap; readers either see the old
// or the new slice, never a partial one.
func (s *Service) index(ctx context.Context, site catalog.Site) ([]catalog.IndexEntry, error) {
	s.mu.RLock()
	idx := s.indices[site]
	s.mu.RUnlock()

	if idx != nil && time.Since(idx.builtAt) < s.cfg.RefreshAfter {
		return idx.entries, nil
	}

	entries, err := s.client.FetchIndex(ctx, site)
	if err != nil {
		if idx != nil {
			// Stale beats nothing.
			return idx.entries, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.indices[site] = &siteIndex{entries: entries, builtAt: time.Now()}
	s.mu.Unlock()

	s.logger.Info().
		Str("site", string(site)).
		Int("entries", len(entries)).
		Msg("title index rebuilt")

	return entries, nil
}

// RefreshIndices rebuilds every indexable site's index regardless of age.
// Called by the background refresh loop.
func (s *Service) RefreshIndices(ctx context.Context) error {
	var firstErr error
	for _, site := range s.cfg.Sites {
		if !catalog.Describe(site).HasAlphabetIndex {
			continue
		}
		entries, err := s.client.FetchIndex(ctx, site)
		if err != nil {
			s.logger.Warn().Err(err).Str("site", string(site)).Msg("index refresh failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.mu.Lock()
		s.indices[site] = &siteIndex{entries: entries, builtAt: time.Now()}
		s.mu.Unlock()
	}
	return firstErr
}

// SeedIndex injects a prebuilt index. Used by tests and snapshot loads.
func (s *Service) SeedIndex(site catalog.Site, entries []catalog.IndexEntry) {
	s.mu.Lock()
	s.indices[site] = &siteIndex{entries: entries, builtAt: time.Now()}
	s.mu.Unlock()
}
