// Package specials reconciles AniWorld's /filme numbering with the
// canonical season-zero numbering a Sonarr-style client expects. The
// site lists films and OVAs as film-1, film-2, ... in an order unrelated
// to any TV schedule, so every request involving a special needs a
// title-level match between the two worlds.
package specials

import (
	"context"
	"errors"
	"fmt"

	"github.com/hbollon/go-edlib"
	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/metadata/sonarr"
	"github.com/anibridge/anibridge/internal/resolver"
)

// ErrNoMapping means no special cleared the match threshold.
var ErrNoMapping = errors.New("specials: no confident mapping")

// Mapping relates the catalogue's film index to canonical numbering.
// Probing and downloading use the source pair; release naming and import
// use the alias pair.
type Mapping struct {
	SourceSeason  int // always 0
	SourceEpisode int // film index on the catalogue
	AliasSeason   int
	AliasEpisode  int
	Title         string
}

// matchThreshold gates acceptance. Specials match stricter than series
// resolution: titles like "OVA 1" and "OVA 2" differ by one token, so a
// loose matcher would cross-map them.
const matchThreshold = 0.85

// Service maps special episodes between numbering schemes.
type Service struct {
	catalog *catalog.Client
	sonarr  *sonarr.Client
	logger  *zerolog.Logger
}

// NewService creates a specials mapper. The Sonarr client may be nil;
// canonical-driven mapping then fails with a clear error while
// free-text mapping still works.
func NewService(cat *catalog.Client, sc *sonarr.Client, logger *zerolog.Logger) *Service {
	subLogger := logger.With().Str("component", "specials").Logger()
	return &Service{
		catalog: cat,
		sonarr:  sc,
		logger:  &subLogger,
	}
}

// scoreSpecial is the strict title match: normalised exact match wins
// outright, otherwise Jaro-Winkler over the normalised strings, zeroed
// when token overlap is weak. Returns a 0..1 confidence.
func scoreSpecial(query, candidate string) float64 {
	normQuery := resolver.NormalizeTitle(query)
	normCandidate := resolver.NormalizeTitle(candidate)
	if normQuery == "" || normCandidate == "" {
		return 0
	}
	if normQuery == normCandidate {
		return 1
	}

	similarity := float64(edlib.JaroWinklerSimilarity(normQuery, normCandidate))

	// Titles that share almost no tokens can still be lexically close
	// ("Movie 1" vs "Movie 2"). Demand real token agreement.
	overlap := tokenAgreement(normQuery, normCandidate)
	if overlap < 0.5 {
		return similarity * overlap
	}
	return similarity
}

func tokenAgreement(a, b string) float64 {
	at := map[string]bool{}
	for _, t := range splitTokens(a) {
		at[t] = true
	}
	bt := splitTokens(b)
	if len(at) == 0 || len(bt) == 0 {
		return 0
	}
	matched := 0
	for _, t := range bt {
		if at[t] {
			matched++
		}
	}
	union := len(at) + len(bt) - matched
	return float64(matched) / float64(union)
}

func splitTokens(s string) []string {
	var tokens []string
	start := -1
	for i, r := range s {
		if r == ' ' {
			if start >= 0 {
				tokens = append(tokens, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

// bestEntry finds the catalogue special whose title (German or
// alternative) best matches the query.
func bestEntry(query string, entries []catalog.SpecialEntry) (catalog.SpecialEntry, float64) {
	var best catalog.SpecialEntry
	bestScore := 0.0
	for _, e := range entries {
		score := scoreSpecial(query, e.DeTitle)
		if alt := scoreSpecial(query, e.AltTitle); alt > score {
			score = alt
		}
		if score > bestScore {
			bestScore = score
			best = e
		}
	}
	return best, bestScore
}

// MatchAll returns every catalogue special clearing the threshold for a
// free-text query, at source numbering. Used by text searches that hit
// a special title.
func (s *Service) MatchAll(ctx context.Context, site catalog.Site, slug, query string) ([]Mapping, error) {
	entries, err := s.catalog.FetchSpecials(ctx, site, slug)
	if err != nil {
		return nil, err
	}

	var mappings []Mapping
	for _, e := range entries {
		score := scoreSpecial(query, e.DeTitle)
		if alt := scoreSpecial(query, e.AltTitle); alt > score {
			score = alt
		}
		if score < matchThreshold {
			continue
		}
		mappings = append(mappings, Mapping{
			SourceSeason:  0,
			SourceEpisode: e.FilmIndex,
			AliasSeason:   0,
			AliasEpisode:  e.FilmIndex,
			Title:         e.DeTitle,
		})
	}
	if len(mappings) == 0 {
		return nil, ErrNoMapping
	}
	return mappings, nil
}

// MapByCanonical maps a canonical special request (season 0, episode N
// of a TVDB-identified series) onto the catalogue's film index. The
// canonical episode title comes from the metadata service, then matches
// against the /filme listing.
func (s *Service) MapByCanonical(ctx context.Context, site catalog.Site, slug string, tvdbID, aliasEpisode int) (*Mapping, error) {
	if s.sonarr == nil {
		return nil, fmt.Errorf("specials: metadata service not configured")
	}

	series, err := s.sonarr.SeriesByTvdbID(ctx, tvdbID)
	if err != nil {
		return nil, err
	}
	canonical, err := s.sonarr.SpecialsBySeries(ctx, series.ID)
	if err != nil {
		return nil, err
	}

	var title string
	for _, ep := range canonical {
		if ep.EpisodeNumber == aliasEpisode {
			title = ep.Title
			break
		}
	}
	if title == "" {
		return nil, fmt.Errorf("specials: series %d has no special E%02d", tvdbID, aliasEpisode)
	}

	entries, err := s.catalog.FetchSpecials(ctx, site, slug)
	if err != nil {
		return nil, err
	}

	entry, score := bestEntry(title, entries)
	if score < matchThreshold {
		s.logger.Debug().
			Str("slug", slug).
			Str("title", title).
			Float64("best_score", score).
			Msg("no special cleared the threshold")
		return nil, ErrNoMapping
	}

	s.logger.Info().
		Str("slug", slug).
		Str("title", title).
		Int("film_index", entry.FilmIndex).
		Int("alias_episode", aliasEpisode).
		Float64("score", score).
		Msg("mapped canonical special to catalogue film")

	return &Mapping{
		SourceSeason:  0,
		SourceEpisode: entry.FilmIndex,
		AliasSeason:   0,
		AliasEpisode:  aliasEpisode,
		Title:         title,
	}, nil
}

// MapByQuery maps a free-text query onto a catalogue special, then
// reverses the alias numbering through the metadata service when one is
// configured. Without metadata, the alias pair mirrors the source pair.
func (s *Service) MapByQuery(ctx context.Context, site catalog.Site, slug, query string, tvdbID int) (*Mapping, error) {
	entries, err := s.catalog.FetchSpecials(ctx, site, slug)
	if err != nil {
		return nil, err
	}

	entry, score := bestEntry(query, entries)
	if score < matchThreshold {
		return nil, ErrNoMapping
	}

	mapping := &Mapping{
		SourceSeason:  0,
		SourceEpisode: entry.FilmIndex,
		AliasSeason:   0,
		AliasEpisode:  entry.FilmIndex,
		Title:         entry.DeTitle,
	}

	if s.sonarr != nil && tvdbID > 0 {
		if series, err := s.sonarr.SeriesByTvdbID(ctx, tvdbID); err == nil {
			if canonical, err := s.sonarr.SpecialsBySeries(ctx, series.ID); err == nil {
				best, bestScore := 0, 0.0
				var bestTitle string
				for _, ep := range canonical {
					sc := scoreSpecial(entry.DeTitle, ep.Title)
					if alt := scoreSpecial(entry.AltTitle, ep.Title); alt > sc {
						sc = alt
					}
					if sc > bestScore {
						bestScore = sc
						best = ep.EpisodeNumber
						bestTitle = ep.Title
					}
				}
				if bestScore >= matchThreshold {
					mapping.AliasEpisode = best
					mapping.Title = bestTitle
				}
			}
		}
	}

	s.logger.Debug().
		Str("slug", slug).
		Str("query", query).
		Int("film_index", mapping.SourceEpisode).
		Int("alias_episode", mapping.AliasEpisode).
		Float64("score", score).
		Msg("mapped query to catalogue special")

	return mapping, nil
}
