package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/probe"
	"github.com/anibridge/anibridge/internal/release"
	"github.com/anibridge/anibridge/internal/scheduler"
	"github.com/anibridge/anibridge/internal/store"
	"github.com/anibridge/anibridge/internal/strm"
)

// ProxyMode selects what URL a .strm file carries.
type ProxyMode string

const (
	// ProxyDirect writes the provider's direct URL. Cheapest, but the
	// file dies when the provider token expires.
	ProxyDirect ProxyMode = "direct"
	// ProxyBridge writes a signed URL on this bridge; the proxy keeps it
	// stable across token expiry.
	ProxyBridge ProxyMode = "proxy"
	// ProxyRedirect writes a bridge URL that answers with a redirect to
	// the live upstream instead of proxying bytes.
	ProxyRedirect ProxyMode = "redirect"
)

// StrmConfig holds .strm writer settings.
type StrmConfig struct {
	DownloadDir string
	ProxyMode   ProxyMode
}

// StrmRunner executes strm-mode jobs: resolve the episode once, then
// write a one-line .strm pointer file.
type StrmRunner struct {
	probe  *probe.Service
	strm   *strm.Service
	store  *store.Store
	cfg    StrmConfig
	logger *zerolog.Logger
}

// NewStrmRunner creates a .strm writer runner.
func NewStrmRunner(pb *probe.Service, ss *strm.Service, st *store.Store, cfg StrmConfig, logger *zerolog.Logger) *StrmRunner {
	subLogger := logger.With().Str("component", "strm-writer").Logger()
	if cfg.ProxyMode == "" {
		cfg.ProxyMode = ProxyDirect
	}
	return &StrmRunner{
		probe:  pb,
		strm:   ss,
		store:  st,
		cfg:    cfg,
		logger: &subLogger,
	}
}

// Run implements scheduler.Runner for strm mode.
func (r *StrmRunner) Run(ctx context.Context, jobID string, req scheduler.Request, progress scheduler.ProgressFunc) (string, error) {
	identity := strm.Identity{
		Site:     req.Site,
		Slug:     req.Slug,
		Season:   req.Season,
		Episode:  req.Episode,
		Language: req.Language,
		Provider: req.Provider,
	}

	var content string
	switch r.cfg.ProxyMode {
	case ProxyDirect:
		res, _, err := r.probe.ResolveStream(ctx, req.Site, req.Slug, req.Season, req.Episode, req.Language, req.Provider)
		if err != nil {
			return "", fmt.Errorf("resolve stream: %w", err)
		}
		content = res.URL
	default:
		// proxy and redirect both point the file at this bridge; the
		// stream handler decides whether to proxy bytes or redirect.
		if err := r.strm.Prime(ctx, identity); err != nil {
			return "", fmt.Errorf("prime mapping: %w", err)
		}
		streamURL, err := r.strm.StreamURL(identity)
		if err != nil {
			return "", fmt.Errorf("build stream url: %w", err)
		}
		content = streamURL
	}

	name := r.releaseName(ctx, req)
	fileName := release.SanitizeFilename(name + ".strm")
	finalPath := filepath.Join(r.cfg.DownloadDir, fileName)

	if err := writeStrmFile(finalPath, content); err != nil {
		return "", err
	}

	if progress != nil {
		progress(100, int64(len(content)+1), int64(len(content)+1), 0, 0)
	}

	r.logger.Info().
		Str("job_id", jobID).
		Str("file", fileName).
		Str("mode", string(r.cfg.ProxyMode)).
		Msg("wrote strm file")

	return finalPath, nil
}

func (r *StrmRunner) releaseName(ctx context.Context, req scheduler.Request) string {
	height, vcodec := 0, ""
	if a, err := r.store.GetAvailability(ctx, string(req.Site), req.Slug, req.Season, req.Episode, req.Language); err == nil {
		height, vcodec = a.Height, a.VCodec
	}
	return release.Name(release.Params{
		Title:     release.TitleFromSlug(req.Slug),
		Season:    req.Season,
		Episode:   req.Episode,
		Height:    height,
		VCodec:    vcodec,
		Language:  catalog.LanguageTag(req.Language),
		Group:     catalog.Describe(req.Site).ReleaseGroup,
		TitleHint: req.TitleHint,
	})
}

// writeStrmFile writes the one-line pointer file atomically: exactly
// one URL, one trailing newline, UTF-8.
func writeStrmFile(path, targetURL string) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(targetURL+"\n"), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}
