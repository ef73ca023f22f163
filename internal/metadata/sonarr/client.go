// Package sonarr talks to a Sonarr-compatible metadata service. The
// bridge uses it for one thing only: resolving canonical episode
// numbering and titles so specials listed under catalogue-local indices
// can be mapped onto the numbering the initiating client expects.
package sonarr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 30 * time.Second
	//nolint:gosec // header name constant, not a credential
	apiKeyHeader = "X-Api-Key"
)

// Series is the subset of a Sonarr series record the mapper needs.
type Series struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	TitleSlug string `json:"titleSlug"`
	TvdbID    int    `json:"tvdbId"`
	ImdbID    string `json:"imdbId"`
	TvMazeID  int    `json:"tvMazeId"`
}

// Episode is one canonical episode of a series.
type Episode struct {
	ID                    int    `json:"id"`
	SeriesID              int    `json:"seriesId"`
	SeasonNumber          int    `json:"seasonNumber"`
	EpisodeNumber         int    `json:"episodeNumber"`
	AbsoluteEpisodeNumber int    `json:"absoluteEpisodeNumber"`
	Title                 string `json:"title"`
}

// Client provides HTTP communication with a Sonarr server.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

// ClientConfig contains configuration for creating a new Sonarr client.
type ClientConfig struct {
	URL     string
	APIKey  string
	Timeout int
	Logger  *zerolog.Logger
}

// NewClient creates a new Sonarr HTTP client. Both URL and API key are
// required; callers treat a nil client as "metadata disabled".
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sonarr URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sonarr API key is required")
	}

	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	logger := cfg.Logger.With().
		Str("component", "sonarr-client").
		Logger()

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     &logger,
	}, nil
}

// doJSON executes a GET request with the API key header and decodes the
// JSON response.
func (c *Client) doJSON(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// TestConnection verifies connectivity by fetching system status.
func (c *Client) TestConnection(ctx context.Context) error {
	var status struct {
		Version string `json:"version"`
	}
	if err := c.doJSON(ctx, "/api/v3/system/status", &status); err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	c.logger.Info().Str("version", status.Version).Msg("connection test successful")
	return nil
}

// SeriesByTvdbID looks up the library series carrying a TVDB id.
func (c *Client) SeriesByTvdbID(ctx context.Context, tvdbID int) (*Series, error) {
	var series []Series
	if err := c.doJSON(ctx, "/api/v3/series?tvdbId="+strconv.Itoa(tvdbID), &series); err != nil {
		return nil, fmt.Errorf("failed to fetch series: %w", err)
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("no series with tvdbid %d", tvdbID)
	}
	return &series[0], nil
}

// LookupSeries resolves a free-text term to series candidates via
// Sonarr's lookup endpoint.
func (c *Client) LookupSeries(ctx context.Context, term string) ([]Series, error) {
	var series []Series
	path := "/api/v3/series/lookup?term=" + url.QueryEscape(term)
	if err := c.doJSON(ctx, path, &series); err != nil {
		return nil, fmt.Errorf("series lookup failed: %w", err)
	}
	return series, nil
}

// EpisodesBySeries fetches the full canonical episode list of a series.
func (c *Client) EpisodesBySeries(ctx context.Context, seriesID int) ([]Episode, error) {
	var episodes []Episode
	if err := c.doJSON(ctx, "/api/v3/episode?seriesId="+strconv.Itoa(seriesID), &episodes); err != nil {
		return nil, fmt.Errorf("failed to fetch episodes: %w", err)
	}

	c.logger.Debug().
		Int("series_id", seriesID).
		Int("count", len(episodes)).
		Msg("fetched canonical episodes")

	return episodes, nil
}

// SpecialsBySeries returns only the season-zero episodes of a series.
func (c *Client) SpecialsBySeries(ctx context.Context, seriesID int) ([]Episode, error) {
	episodes, err := c.EpisodesBySeries(ctx, seriesID)
	if err != nil {
		return nil, err
	}
	var specials []Episode
	for _, ep := range episodes {
		if ep.SeasonNumber == 0 {
			specials = append(specials, ep)
		}
	}
	return specials, nil
}
