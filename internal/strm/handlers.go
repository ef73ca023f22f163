package strm

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/anibridge/anibridge/internal/catalog"
)

const hlsContentType = "application/vnd.apple.mpegurl"

// maxPlaylistBytes bounds how much of a playlist response is read
// before rewriting.
const maxPlaylistBytes = 10 << 20

// RegisterRoutes registers the proxy endpoints.
func (s *Service) RegisterRoutes(e *echo.Echo) {
	e.GET("/strm/stream", s.handleStream)
	e.HEAD("/strm/stream", s.handleStream)
	e.GET("/strm/proxy", s.handleProxy)
	e.HEAD("/strm/proxy", s.handleProxy)
}

// authenticate enforces the configured auth mode on a proxy request.
func (s *Service) authenticate(c echo.Context) error {
	switch s.cfg.AuthMode {
	case AuthNone:
		return nil
	case AuthAPIKey:
		given := c.QueryParam("apikey")
		if given == "" || subtle.ConstantTimeCompare([]byte(given), []byte(s.cfg.APIKey)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid api key")
		}
		return nil
	default:
		if err := s.signer.Verify(c.QueryParams()); err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		return nil
	}
}

// handleStream serves the entry endpoint: episode identity in, media
// bytes or rewritten playlist out.
func (s *Service) handleStream(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return err
	}

	id, err := parseIdentity(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	resolved, err := s.resolveUpstream(ctx, id)
	if err != nil {
		s.logger.Warn().Err(err).Str("slug", id.Slug).Msg("upstream resolution failed")
		return echo.NewHTTPError(http.StatusBadGateway, "no upstream available")
	}

	if s.cfg.RedirectMode {
		return c.Redirect(http.StatusFound, resolved.url)
	}

	if s.cfg.RemuxEnabled && resolved.isHLS && c.Request().Method == http.MethodGet {
		if err := s.serveRemux(c, resolved); err == nil {
			return nil
		} else if c.Response().Committed {
			return nil
		} else {
			s.logger.Warn().Err(err).Msg("remux failed, falling back to rewrite path")
		}
	}

	eligible, err := s.proxyOnce(c, resolved)
	if err == nil {
		return nil
	}
	if !eligible {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}

	// The cached URL went stale upstream. Invalidate, re-resolve once,
	// and retry; a second failure goes back to the client.
	s.logger.Info().Str("slug", id.Slug).Err(err).Msg("refreshing stale upstream mapping")
	s.invalidate(ctx, id)
	fresh, rerr := s.resolveLive(ctx, id)
	if rerr != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "refresh failed")
	}
	if _, err := s.proxyOnce(c, fresh); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return nil
}

// handleProxy serves rewritten child URLs. The upstream is opaque; no
// identity is known, so there is no refresh path.
func (s *Service) handleProxy(c echo.Context) error {
	if err := s.authenticate(c); err != nil {
		return err
	}

	raw := c.QueryParam("u")
	if raw == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing u parameter")
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid upstream url")
	}

	if _, err := s.proxyOnce(c, cachedURL{url: target.String()}); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return nil
}

func parseIdentity(c echo.Context) (Identity, error) {
	site, err := catalog.ParseSite(c.QueryParam("site"))
	if err != nil {
		return Identity{}, err
	}
	slug := c.QueryParam("slug")
	if slug == "" {
		return Identity{}, fmt.Errorf("missing slug")
	}
	season, err := strconv.Atoi(c.QueryParam("s"))
	if err != nil || season < 0 {
		return Identity{}, fmt.Errorf("invalid season")
	}
	episode, err := strconv.Atoi(c.QueryParam("e"))
	if err != nil || episode < 1 {
		return Identity{}, fmt.Errorf("invalid episode")
	}
	lang := c.QueryParam("lang")
	if lang == "" {
		return Identity{}, fmt.Errorf("missing lang")
	}
	return Identity{
		Site:     site,
		Slug:     slug,
		Season:   season,
		Episode:  episode,
		Language: lang,
		Provider: c.QueryParam("provider"),
	}, nil
}

// proxyOnce performs one upstream round trip and writes the response.
// The eligible return marks failures worth a refresh retry; nothing has
// been written to the client in that case.
func (s *Service) proxyOnce(c echo.Context, upstream cachedURL) (eligible bool, err error) {
	ctx := c.Request().Context()

	method := http.MethodGet
	if c.Request().Method == http.MethodHead {
		method = http.MethodHead
	}

	req, err := http.NewRequestWithContext(ctx, method, upstream.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("User-Agent", c.Request().UserAgent())
	if upstream.referer != "" {
		req.Header.Set("Referer", upstream.referer)
	}
	if rng := c.Request().Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures count as stale.
		return true, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if refreshEligible(resp.StatusCode) {
		return true, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	// HEAD not supported upstream: synthesize from a one-byte ranged GET.
	if method == http.MethodHead && resp.StatusCode == http.StatusMethodNotAllowed {
		return s.synthesizeHead(c, upstream)
	}

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		copyProxyHeaders(c.Response().Header(), resp.Header)
		return false, c.NoContent(http.StatusRequestedRangeNotSatisfiable)
	}
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	finalURL := resp.Request.URL
	if IsPlaylistContentType(resp.Header.Get("Content-Type"), finalURL.Path) {
		return false, s.servePlaylist(c, resp, finalURL)
	}
	return false, s.serveBytes(c, resp, method)
}

// servePlaylist reads an HLS playlist fully, rewrites its URIs to point
// back at the bridge, and returns it with the HLS media type.
func (s *Service) servePlaylist(c echo.Context, resp *http.Response, playlistURL *url.URL) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPlaylistBytes))
	if err != nil {
		return fmt.Errorf("read playlist: %w", err)
	}

	rewritten := RewritePlaylist(string(body), playlistURL, s.wrapFunc())

	s.logger.Debug().
		Bool("master", IsMasterPlaylist(rewritten)).
		Int("bytes", len(rewritten)).
		Msg("rewrote playlist")

	return c.Blob(http.StatusOK, hlsContentType, []byte(rewritten))
}

// serveBytes streams a non-playlist response transparently, preserving
// range semantics, in bounded chunks.
func (s *Service) serveBytes(c echo.Context, resp *http.Response, method string) error {
	copyProxyHeaders(c.Response().Header(), resp.Header)

	status := http.StatusOK
	if resp.StatusCode == http.StatusPartialContent {
		status = http.StatusPartialContent
	}
	c.Response().WriteHeader(status)

	if method == http.MethodHead {
		return nil
	}

	buf := make([]byte, s.cfg.ChunkSize)
	_, err := io.CopyBuffer(c.Response(), resp.Body, buf)
	if err != nil {
		// Mid-stream failure: the status line is gone, nothing to do but
		// drop the connection.
		s.logger.Debug().Err(err).Msg("stream interrupted")
	}
	return nil
}

// synthesizeHead answers a HEAD request from a single-byte ranged GET
// when the upstream rejects HEAD.
func (s *Service) synthesizeHead(c echo.Context, upstream cachedURL) (bool, error) {
	req, err := http.NewRequestWithContext(c.Request().Context(), http.MethodGet, upstream.url, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Range", "bytes=0-0")
	if upstream.referer != "" {
		req.Header.Set("Referer", upstream.referer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1))

	copyProxyHeaders(c.Response().Header(), resp.Header)
	// The ranged response's length describes one byte; report the full
	// size from Content-Range instead.
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		if idx := strings.LastIndex(cr, "/"); idx >= 0 && cr[idx+1:] != "*" {
			c.Response().Header().Set("Content-Length", cr[idx+1:])
		}
		c.Response().Header().Del("Content-Range")
	}
	return false, c.NoContent(http.StatusOK)
}

// proxiedHeaders are the end-to-end headers forwarded from upstream.
// Everything else, hop-by-hop headers included, is dropped.
var proxiedHeaders = []string{
	"Content-Type",
	"Content-Length",
	"Content-Range",
	"Accept-Ranges",
	"ETag",
	"Last-Modified",
}

func copyProxyHeaders(dst http.Header, src http.Header) {
	for _, name := range proxiedHeaders {
		if v := src.Get(name); v != "" {
			dst.Set(name, v)
		}
	}
}

// wrapFunc builds the child-URL wrapper used by the playlist rewriter.
func (s *Service) wrapFunc() WrapFunc {
	bridge, _ := url.Parse(s.cfg.BaseURL)

	return func(absolute string) (string, bool) {
		parsed, err := url.Parse(absolute)
		if err != nil {
			return "", false
		}
		// Never wrap a URL that already points at this bridge.
		if bridge != nil && parsed.Host == bridge.Host && strings.HasPrefix(parsed.Path, "/strm/") {
			return "", false
		}

		params := url.Values{}
		params.Set("u", absolute)
		endpoint := s.cfg.BaseURL + "/strm/proxy"

		switch s.cfg.AuthMode {
		case AuthToken:
			signed, err := s.signer.SignURL(endpoint, params)
			if err != nil {
				return "", false
			}
			return signed, true
		case AuthAPIKey:
			params.Set("apikey", s.cfg.APIKey)
			return endpoint + "?" + params.Encode(), true
		default:
			return endpoint + "?" + params.Encode(), true
		}
	}
}
