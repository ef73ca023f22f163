package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
)

const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

// Client fetches and parses catalogue site pages.
type Client struct {
	httpClient  *http.Client
	logger      *zerolog.Logger
	snapshotDir string
}

// NewClient creates a catalogue page client. snapshotDir may be empty;
// when set, index pages are read from <snapshotDir>/<site>.html instead
// of the network.
func NewClient(httpClient *http.Client, snapshotDir string, logger *zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	subLogger := logger.With().Str("component", "catalog").Logger()
	return &Client{
		httpClient:  httpClient,
		logger:      &subLogger,
		snapshotDir: snapshotDir,
	}
}

// fetchDocument GETs a page and parses it into a goquery document.
func (c *Client) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "de,en;q=0.8")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	return doc, nil
}

// snapshotDocument loads a local HTML snapshot for a site, if present.
func (c *Client) snapshotDocument(site Site) (*goquery.Document, bool) {
	if c.snapshotDir == "" {
		return nil, false
	}
	name := strings.ReplaceAll(string(site), ".", "_") + ".html"
	f, err := os.Open(filepath.Join(c.snapshotDir, name))
	if err != nil {
		return nil, false
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		c.logger.Warn().Err(err).Str("site", string(site)).Msg("failed to parse index snapshot")
		return nil, false
	}
	return doc, true
}

// fetchBody GETs a URL and returns the raw body, bounded by limit bytes.
func (c *Client) fetchBody(ctx context.Context, pageURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", pageURL, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// resolveHref makes a possibly relative href absolute against a base URL.
func resolveHref(base, href string) string {
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
