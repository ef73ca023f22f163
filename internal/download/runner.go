package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/probe"
	"github.com/anibridge/anibridge/internal/release"
	"github.com/anibridge/anibridge/internal/scheduler"
	"github.com/anibridge/anibridge/internal/store"
)

// Config holds runner settings.
type Config struct {
	DownloadDir string
	ChunkSize   int
	FFmpegPath  string
}

// Runner executes download-mode jobs: resolve a direct URL, fetch the
// media, and move the finished file into the download directory under
// its release name.
type Runner struct {
	probe      *probe.Service
	store      *store.Store
	httpClient *http.Client
	cfg        Config
	logger     *zerolog.Logger
}

// NewRunner creates a download runner.
func NewRunner(pb *probe.Service, st *store.Store, cfg Config, logger *zerolog.Logger) *Runner {
	subLogger := logger.With().Str("component", "download").Logger()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64 * 1024
	}
	return &Runner{
		probe: pb,
		store: st,
		// No global timeout: media transfers run long. Connection setup
		// and response headers are still bounded; body duration is
		// governed by the job context.
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		cfg:    cfg,
		logger: &subLogger,
	}
}

// Run implements scheduler.Runner for download mode.
func (r *Runner) Run(ctx context.Context, jobID string, req scheduler.Request, progress scheduler.ProgressFunc) (string, error) {
	res, provider, err := r.probe.ResolveStream(ctx, req.Site, req.Slug, req.Season, req.Episode, req.Language, req.Provider)
	if err != nil {
		return "", fmt.Errorf("resolve stream: %w", err)
	}

	name := r.releaseName(ctx, req) + extensionFor(res.URL, res.IsHLS)
	fileName := release.SanitizeFilename(name)
	tempPath := filepath.Join(r.cfg.DownloadDir, "."+jobID+".part")
	finalPath := filepath.Join(r.cfg.DownloadDir, fileName)

	r.logger.Info().
		Str("job_id", jobID).
		Str("provider", provider).
		Str("file", fileName).
		Bool("hls", res.IsHLS).
		Msg("starting media fetch")

	if res.IsHLS {
		err = fetchHLS(ctx, r.cfg.FFmpegPath, res.URL, res.Referer, tempPath, progress)
	} else {
		err = fetchFile(ctx, r.httpClient, res.URL, res.Referer, tempPath, r.cfg.ChunkSize, progress)
	}
	if err != nil {
		// Keep partials for resumable direct downloads unless the job was
		// cancelled; cancelled jobs clean up.
		if errors.Is(err, context.Canceled) || res.IsHLS {
			os.Remove(tempPath)
		}
		return "", err
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("finalize download: %w", err)
	}

	if progress != nil {
		if fi, statErr := os.Stat(finalPath); statErr == nil {
			progress(100, fi.Size(), fi.Size(), 0, 0)
		}
	}
	return finalPath, nil
}

// releaseName builds the dotted release name, folding in cached probe
// quality when the availability cache has it.
func (r *Runner) releaseName(ctx context.Context, req scheduler.Request) string {
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

func extensionFor(mediaURL string, isHLS bool) string {
	if isHLS {
		return ".mkv"
	}
	if idx := strings.LastIndex(mediaURL, "."); idx >= 0 {
		ext := mediaURL[idx:]
		if end := strings.IndexAny(ext, "?#"); end >= 0 {
			ext = ext[:end]
		}
		switch strings.ToLower(ext) {
		case ".mp4", ".mkv", ".webm", ".avi":
			return strings.ToLower(ext)
		}
	}
	return ".mp4"
}
