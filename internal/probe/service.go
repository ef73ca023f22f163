// Package probe answers "is this episode actually watchable, and at
// what quality" by extracting a direct URL and inspecting it with
// ffprobe. Results are cached per episode identity with a TTL so
// repeated indexer searches do not hammer the provider sites.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/extractor"
	"github.com/anibridge/anibridge/internal/store"
)

// ErrNoProvider means no configured provider produced a working stream.
var ErrNoProvider = errors.New("probe: no provider yielded a stream")

// Config holds probe behavior settings.
type Config struct {
	ProviderOrder []string
	TTL           time.Duration
	ProbeTimeout  time.Duration
	FFprobePath   string
	// SkipFFprobe records availability from extraction alone, without
	// quality metadata. Used when ffprobe is not installed.
	SkipFFprobe bool
}

// Service probes episode availability with a TTL cache in front.
type Service struct {
	store     *store.Store
	catalog   *catalog.Client
	extractor *extractor.Service
	cfg       Config
	logger    *zerolog.Logger
	group     singleflight.Group
}

// NewService creates an availability probe service.
func NewService(st *store.Store, cat *catalog.Client, ext *extractor.Service, cfg Config, logger *zerolog.Logger) *Service {
	subLogger := logger.With().Str("component", "probe").Logger()
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	if cfg.FFprobePath == "" && !cfg.SkipFFprobe {
		cfg.FFprobePath = FindFFprobe("")
		if cfg.FFprobePath == "" {
			subLogger.Warn().Msg("ffprobe not found, probing without quality metadata")
			cfg.SkipFFprobe = true
		}
	}
	return &Service{
		store:     st,
		catalog:   cat,
		extractor: ext,
		cfg:       cfg,
		logger:    &subLogger,
	}
}

// Availability returns the cached probe result for an episode identity,
// probing and caching first when the cache is cold or stale. Concurrent
// requests for the same identity share one probe.
func (s *Service) Availability(ctx context.Context, site catalog.Site, slug string, season, episode int, language string) (*store.EpisodeAvailability, error) {
	cached, err := s.store.GetAvailability(ctx, string(site), slug, season, episode, language)
	if err == nil && cached.Fresh(s.cfg.TTL) {
		return cached, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	key := fmt.Sprintf("%s|%s|%d|%d|%s", site, slug, season, episode, language)
	v, err, _ := s.group.Do(key, func() (any, error) {
		// Another waiter may have filled the cache while this call was
		// queued behind the in-flight probe.
		if a, err := s.store.GetAvailability(ctx, string(site), slug, season, episode, language); err == nil && a.Fresh(s.cfg.TTL) {
			return a, nil
		}
		return s.probeAndCache(ctx, site, slug, season, episode, language)
	})
	if err != nil {
		// A failed probe with a stale row on hand beats no answer.
		if cached != nil {
			return cached, nil
		}
		return nil, err
	}
	return v.(*store.EpisodeAvailability), nil
}

func (s *Service) probeAndCache(ctx context.Context, site catalog.Site, slug string, season, episode int, language string) (*store.EpisodeAvailability, error) {
	result := &store.EpisodeAvailability{
		Site:      string(site),
		Slug:      slug,
		Season:    season,
		Episode:   episode,
		Language:  language,
		CheckedAt: time.Now().UTC(),
	}

	res, provider, err := s.ResolveStream(ctx, site, slug, season, episode, language, "")
	if err != nil {
		// A negative result is cached too: the episode page either does
		// not exist or lists no working provider right now.
		if upErr := s.store.UpsertAvailability(ctx, result); upErr != nil {
			s.logger.Error().Err(upErr).Str("slug", slug).Msg("failed to cache negative probe")
		}
		s.logger.Debug().
			Str("site", string(site)).
			Str("slug", slug).
			Int("season", season).
			Int("episode", episode).
			Str("language", language).
			Err(err).
			Msg("probe negative")
		return result, nil
	}

	result.Available = true
	result.Provider = provider

	if !s.cfg.SkipFFprobe {
		info, err := ProbeURL(ctx, s.cfg.FFprobePath, res.URL, res.Referer, s.cfg.ProbeTimeout)
		if err != nil {
			s.logger.Debug().Err(err).Str("provider", provider).Msg("ffprobe failed, keeping availability without quality")
		} else {
			result.Height = info.Height
			result.VCodec = info.VideoCodec
		}
	}

	if err := s.store.UpsertAvailability(ctx, result); err != nil {
		return nil, fmt.Errorf("cache probe result: %w", err)
	}

	s.logger.Info().
		Str("site", string(site)).
		Str("slug", slug).
		Int("season", season).
		Int("episode", episode).
		Str("language", language).
		Str("provider", provider).
		Int("height", result.Height).
		Msg("probe positive")

	return result, nil
}

// ResolveStream walks the episode's hosters in configured provider order
// and returns the first successful extraction. When preferred is set,
// only that provider is tried first before falling back to the rest.
// Shared by the probe, the download runner, and the stream proxy.
func (s *Service) ResolveStream(ctx context.Context, site catalog.Site, slug string, season, episode int, language, preferred string) (*extractor.Result, string, error) {
	offerings, err := s.catalog.FetchEpisodeOfferings(ctx, site, slug, season, episode)
	if err != nil {
		return nil, "", err
	}

	hosters := offerings.HostersFor(language)
	if len(hosters) == 0 {
		return nil, "", fmt.Errorf("no hosters carry language %q", language)
	}

	var lastErr error
	for _, h := range s.orderHosters(hosters, preferred) {
		if !s.extractor.Supported(h.Provider) {
			continue
		}
		res, err := s.extractor.Extract(ctx, h.Provider, h.RedirectURL)
		if err != nil {
			lastErr = err
			s.logger.Debug().Err(err).Str("provider", h.Provider).Msg("extraction failed, trying next provider")
			continue
		}
		return res, h.Provider, nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNoProvider, lastErr)
	}
	return nil, "", ErrNoProvider
}

// orderHosters sorts page hosters by the configured provider order, with
// a preferred provider promoted to the front. Providers absent from the
// order keep page order at the tail.
func (s *Service) orderHosters(hosters []catalog.Hoster, preferred string) []catalog.Hoster {
	rank := func(provider string) int {
		if preferred != "" && strings.EqualFold(provider, preferred) {
			return -1
		}
		for i, p := range s.cfg.ProviderOrder {
			if strings.EqualFold(p, provider) {
				return i
			}
		}
		return len(s.cfg.ProviderOrder)
	}

	ordered := make([]catalog.Hoster, len(hosters))
	copy(ordered, hosters)
	// Insertion sort keeps page order between equal ranks.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && rank(ordered[j].Provider) < rank(ordered[j-1].Provider); j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	return ordered
}
