package strm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/probe"
	"github.com/anibridge/anibridge/internal/store"
)

// Identity is the episode coordinate a proxy request addresses.
type Identity struct {
	Site     catalog.Site
	Slug     string
	Season   int
	Episode  int
	Language string
	Provider string // "" means configured provider order
}

func (id Identity) cacheKey() string {
	return fmt.Sprintf("%s|%s|%d|%d|%s|%s", id.Site, id.Slug, id.Season, id.Episode, id.Language, id.Provider)
}

// Config holds proxy behavior settings.
type Config struct {
	AuthMode  AuthMode
	APIKey    string
	BaseURL   string // externally reachable base, e.g. http://bridge:8788
	ChunkSize int
	// MappingTTL bounds the in-memory resolved-URL cache; the DB mapping
	// has no TTL and is only dropped on upstream failure.
	MappingTTL time.Duration
	// UpstreamTimeout bounds connection setup and header wait per
	// upstream request.
	UpstreamTimeout time.Duration
	RemuxEnabled    bool
	FFmpegPath      string
	// RedirectMode answers /strm/stream with a redirect to the live
	// upstream instead of proxying bytes.
	RedirectMode bool
}

type cachedURL struct {
	url        string
	referer    string
	isHLS      bool
	resolvedAt time.Time
}

// Service resolves episode identities to upstream URLs and serves them
// through the bridge.
type Service struct {
	store  *store.Store
	probe  *probe.Service
	signer *Signer
	cfg    Config
	logger *zerolog.Logger

	// Upstream client: no global timeout, media transfers run long.
	// Connection setup and response headers are still bounded.
	httpClient *http.Client

	mu    sync.Mutex
	cache map[string]cachedURL
}

// NewService creates the STRM proxy service.
func NewService(st *store.Store, pb *probe.Service, signer *Signer, cfg Config, logger *zerolog.Logger) *Service {
	subLogger := logger.With().Str("component", "strm").Logger()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 * 1024
	}
	if cfg.MappingTTL <= 0 {
		cfg.MappingTTL = 6 * time.Hour
	}
	if cfg.UpstreamTimeout <= 0 {
		cfg.UpstreamTimeout = 30 * time.Second
	}
	return &Service{
		store:  st,
		probe:  pb,
		signer: signer,
		cfg:    cfg,
		logger: &subLogger,
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: cfg.UpstreamTimeout,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		cache: make(map[string]cachedURL),
	}
}

// Signer exposes the signer for .strm writers building entry URLs.
func (s *Service) Signer() *Signer { return s.signer }

// StreamURL builds the signed /strm/stream URL written into .strm
// files for an episode identity.
func (s *Service) StreamURL(id Identity) (string, error) {
	params := url.Values{}
	params.Set("site", string(id.Site))
	params.Set("slug", id.Slug)
	params.Set("s", strconv.Itoa(id.Season))
	params.Set("e", strconv.Itoa(id.Episode))
	params.Set("lang", id.Language)
	if id.Provider != "" {
		params.Set("provider", id.Provider)
	}

	endpoint := s.cfg.BaseURL + "/strm/stream"
	switch s.cfg.AuthMode {
	case AuthToken:
		return s.signer.SignURL(endpoint, params)
	case AuthAPIKey:
		params.Set("apikey", s.cfg.APIKey)
		return endpoint + "?" + params.Encode(), nil
	default:
		return endpoint + "?" + params.Encode(), nil
	}
}

// resolveUpstream finds the direct upstream URL for an identity:
// memory cache, then DB mapping, then live provider resolution.
func (s *Service) resolveUpstream(ctx context.Context, id Identity) (cachedURL, error) {
	key := id.cacheKey()

	s.mu.Lock()
	if c, ok := s.cache[key]; ok && time.Since(c.resolvedAt) < s.cfg.MappingTTL {
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	if m, err := s.store.GetStrmMapping(ctx, string(id.Site), id.Slug, id.Season, id.Episode, id.Language, id.Provider); err == nil {
		c := cachedURL{
			url:        m.ResolvedURL,
			isHLS:      IsPlaylistContentType("", m.ResolvedURL),
			resolvedAt: m.ResolvedAt,
		}
		s.remember(key, c)
		return c, nil
	}

	return s.resolveLive(ctx, id)
}

// resolveLive runs provider extraction and persists the result in both
// cache layers.
func (s *Service) resolveLive(ctx context.Context, id Identity) (cachedURL, error) {
	res, provider, err := s.probe.ResolveStream(ctx, id.Site, id.Slug, id.Season, id.Episode, id.Language, id.Provider)
	if err != nil {
		return cachedURL{}, err
	}

	if err := s.store.UpsertStrmMapping(ctx, &store.StrmURLMapping{
		Site:         string(id.Site),
		Slug:         id.Slug,
		Season:       id.Season,
		Episode:      id.Episode,
		Language:     id.Language,
		Provider:     id.Provider,
		ResolvedURL:  res.URL,
		ProviderUsed: provider,
	}); err != nil {
		s.logger.Error().Err(err).Str("slug", id.Slug).Msg("failed to persist strm mapping")
	}

	c := cachedURL{
		url:        res.URL,
		referer:    res.Referer,
		isHLS:      res.IsHLS,
		resolvedAt: time.Now(),
	}
	s.remember(id.cacheKey(), c)
	return c, nil
}

// Prime resolves an identity live and persists the mapping. Used by the
// .strm writer in proxy mode so the first player request finds a warm
// mapping.
func (s *Service) Prime(ctx context.Context, id Identity) error {
	_, err := s.resolveLive(ctx, id)
	return err
}

func (s *Service) remember(key string, c cachedURL) {
	s.mu.Lock()
	s.cache[key] = c
	s.mu.Unlock()
}

// invalidate drops both cache layers for an identity after an upstream
// failure that suggests the URL expired.
func (s *Service) invalidate(ctx context.Context, id Identity) {
	s.mu.Lock()
	delete(s.cache, id.cacheKey())
	s.mu.Unlock()

	if err := s.store.DeleteStrmMapping(ctx, string(id.Site), id.Slug, id.Season, id.Episode, id.Language, id.Provider); err != nil {
		s.logger.Error().Err(err).Str("slug", id.Slug).Msg("failed to invalidate strm mapping")
	}
}

// refreshEligible are the upstream statuses that mean "this URL went
// stale", worth one re-resolution.
func refreshEligible(status int) bool {
	switch status {
	case http.StatusForbidden,
		http.StatusNotFound,
		http.StatusGone,
		http.StatusUnavailableForLegalReasons,
		http.StatusTooManyRequests:
		return true
	}
	return false
}
