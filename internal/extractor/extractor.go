// Package extractor turns provider embed pages into direct media URLs.
// Each supported video hoster gets one extraction function; the service
// dispatches by provider name after following the catalogue site's
// redirect to the embed page.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Typed extraction failures.
var (
	ErrUnknownProvider = errors.New("extractor: unknown provider")
	ErrNoStream        = errors.New("extractor: no stream found on embed page")
)

// Result is a successfully extracted direct URL.
type Result struct {
	URL      string
	IsHLS    bool
	Provider string
	// Referer some CDNs require on the media request.
	Referer string
}

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// maxEmbedBytes bounds how much of an embed page is read.
const maxEmbedBytes = 2 << 20

type extractFunc func(ctx context.Context, s *Service, embedURL string) (*Result, error)

// Service extracts direct URLs from provider embeds.
type Service struct {
	httpClient *http.Client
	logger     *zerolog.Logger
	registry   map[string]extractFunc
}

// NewService creates an extractor service sharing the outbound HTTP
// client.
func NewService(httpClient *http.Client, logger *zerolog.Logger) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	subLogger := logger.With().Str("component", "extractor").Logger()
	s := &Service{
		httpClient: httpClient,
		logger:     &subLogger,
	}
	s.registry = map[string]extractFunc{
		"voe":        extractVOE,
		"filemoon":   extractFilemoon,
		"vidoza":     extractVidoza,
		"streamtape": extractStreamtape,
		"doodstream": extractDoodstream,
		"loadx":      extractLoadX,
	}
	return s
}

// Supported reports whether a provider has an extraction function.
func (s *Service) Supported(provider string) bool {
	_, ok := s.registry[strings.ToLower(provider)]
	return ok
}

// Extract resolves a catalogue redirect URL for the named provider into
// a direct media URL. The redirect is followed first; extraction then
// runs against the final embed page.
func (s *Service) Extract(ctx context.Context, provider, redirectURL string) (*Result, error) {
	fn, ok := s.registry[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	embedURL, err := s.followRedirect(ctx, redirectURL)
	if err != nil {
		return nil, err
	}

	result, err := fn(ctx, s, embedURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", strings.ToLower(provider), err)
	}
	result.Provider = provider
	if result.Referer == "" {
		result.Referer = embedURL
	}

	s.logger.Debug().
		Str("provider", provider).
		Bool("hls", result.IsHLS).
		Msg("extracted direct url")

	return result, nil
}

// followRedirect resolves the catalogue's /redirect/N hop to the embed
// page URL without fetching the embed body.
func (s *Service) followRedirect(ctx context.Context, redirectURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, redirectURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("follow redirect: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("follow redirect: status %d", resp.StatusCode)
	}
	// The client followed intermediate hops; the final request URL is
	// the embed page.
	return resp.Request.URL.String(), nil
}

// fetchEmbed GETs an embed page and returns its body.
func (s *Service) fetchEmbed(ctx context.Context, embedURL, referer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, embedURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch embed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbedBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
