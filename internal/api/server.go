// Package api assembles the HTTP server and the service graph behind
// it: the Torznab indexer façade, the qBittorrent control façade, the
// STRM reverse proxy, and the health endpoint.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/config"
	"github.com/anibridge/anibridge/internal/database"
	"github.com/anibridge/anibridge/internal/download"
	"github.com/anibridge/anibridge/internal/extractor"
	"github.com/anibridge/anibridge/internal/health"
	"github.com/anibridge/anibridge/internal/magnet"
	"github.com/anibridge/anibridge/internal/metadata/sonarr"
	"github.com/anibridge/anibridge/internal/probe"
	"github.com/anibridge/anibridge/internal/qbt"
	"github.com/anibridge/anibridge/internal/resolver"
	"github.com/anibridge/anibridge/internal/scheduler"
	"github.com/anibridge/anibridge/internal/scheduler/tasks"
	"github.com/anibridge/anibridge/internal/specials"
	"github.com/anibridge/anibridge/internal/store"
	"github.com/anibridge/anibridge/internal/strm"
	"github.com/anibridge/anibridge/internal/torznab"
)

// Server owns the HTTP listener and the bridge's service graph.
type Server struct {
	echo   *echo.Echo
	logger zerolog.Logger
	cfg    *config.Config

	store     *store.Store
	catalog   *catalog.Client
	resolver  *resolver.Service
	extractor *extractor.Service
	probe     *probe.Service
	specials  *specials.Service
	sonarr    *sonarr.Client
	strm      *strm.Service
	pool      *scheduler.Pool
	sched     *scheduler.Scheduler
	qbt       *qbt.Service
	torznab   *torznab.Service
}

// Version is stamped by the build; the default marks dev builds.
var Version = "dev"

// NewServer builds the full service graph.
func NewServer(cfg *config.Config, db *database.DB, logger zerolog.Logger) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		logger: logger,
		cfg:    cfg,
	}

	outbound := &http.Client{Timeout: 45 * time.Second}

	s.store = store.New(db.Conn(), &logger)
	s.catalog = catalog.NewClient(outbound, cfg.Catalog.SnapshotDir, &logger)

	sites := make([]catalog.Site, 0, len(cfg.Catalog.Sites))
	for _, raw := range cfg.Catalog.Sites {
		site, err := catalog.ParseSite(raw)
		if err != nil {
			logger.Warn().Str("site", raw).Msg("unknown catalogue site, skipping")
			continue
		}
		sites = append(sites, site)
	}

	s.resolver = resolver.NewService(s.catalog, resolver.Config{
		Sites:        sites,
		MinScore:     cfg.Resolver.MinScore,
		RefreshAfter: time.Duration(cfg.Catalog.IndexRefreshHours) * time.Hour,
		DebugScores:  cfg.Resolver.DebugScores,
	}, &logger)

	s.extractor = extractor.NewService(outbound, &logger)

	s.probe = probe.NewService(s.store, s.catalog, s.extractor, probe.Config{
		ProviderOrder: cfg.Providers.Order,
		TTL:           cfg.Availability.TTL,
		ProbeTimeout:  cfg.Availability.ProbeTimeout,
	}, &logger)

	if cfg.Sonarr.URL != "" && cfg.Sonarr.APIKey != "" {
		client, err := sonarr.NewClient(sonarr.ClientConfig{
			URL:    cfg.Sonarr.URL,
			APIKey: cfg.Sonarr.APIKey,
			Logger: &logger,
		})
		if err != nil {
			return nil, err
		}
		s.sonarr = client
	}

	s.specials = specials.NewService(s.catalog, s.sonarr, &logger)

	signer := strm.NewSigner(cfg.Strm.ProxySecret, cfg.Strm.TokenTTL)
	s.strm = strm.NewService(s.store, s.probe, signer, strm.Config{
		AuthMode:        strm.AuthMode(cfg.Strm.ProxyAuth),
		APIKey:          cfg.Torznab.APIKey,
		BaseURL:         cfg.Server.BaseURL(),
		ChunkSize:       cfg.Strm.ChunkSize,
		MappingTTL:      cfg.Strm.MappingTTL,
		UpstreamTimeout: cfg.Strm.UpstreamTimeout,
		RemuxEnabled:    cfg.Strm.HlsRemux,
		FFmpegPath:      download.FindFFmpeg(""),
		RedirectMode:    cfg.Strm.ProxyMode == string(download.ProxyRedirect),
	}, &logger)

	s.pool = scheduler.NewPool(s.store, cfg.Scheduler.MaxConcurrency, &logger)
	s.pool.RegisterRunner(magnet.ModeDownload, download.NewRunner(s.probe, s.store, download.Config{
		DownloadDir: cfg.Paths.DownloadDir,
		ChunkSize:   cfg.Strm.ChunkSize,
		FFmpegPath:  download.FindFFmpeg(""),
	}, &logger))
	s.pool.RegisterRunner(magnet.ModeStrm, download.NewStrmRunner(s.probe, s.strm, s.store, download.StrmConfig{
		DownloadDir: cfg.Paths.DownloadDir,
		ProxyMode:   download.ProxyMode(cfg.Strm.ProxyMode),
	}, &logger))

	sched, err := scheduler.New(logger)
	if err != nil {
		return nil, err
	}
	s.sched = sched

	if err := s.registerTasks(outbound); err != nil {
		return nil, err
	}

	s.qbt = qbt.NewService(s.store, s.pool, qbt.Config{
		SavePath: cfg.Paths.DownloadDir,
	}, &logger)

	s.torznab = torznab.NewService(s.resolver, s.probe, s.specials, s.sonarr, s.store, s.catalog, torznab.Config{
		APIKey:               cfg.Torznab.APIKey,
		MaxEpisodes:          cfg.Torznab.MaxEpisodes,
		MaxConsecutiveMisses: cfg.Torznab.MaxConsecutiveMisses,
		ConnectivityItem:     cfg.Torznab.TestItem,
		StrmFilesMode:        cfg.Strm.FilesMode,
		FallbackAllEpisodes:  cfg.Torznab.FallbackAllEpisodes,
		Version:              Version,
	}, &logger)

	s.setupMiddleware()
	s.setupRoutes(db)

	return s, nil
}

func (s *Server) registerTasks(outbound *http.Client) error {
	ttl := time.Duration(s.cfg.Scheduler.DownloadsTTLHours) * time.Hour
	if err := tasks.RegisterDownloadsCleanupTask(s.sched, s.store, ttl, s.cfg.Scheduler.CleanupScanInterval, &s.logger); err != nil {
		return err
	}
	if err := tasks.RegisterIndexRefreshTask(s.sched, s.resolver); err != nil {
		return err
	}
	if s.cfg.Scheduler.IPCheckEnabled {
		if err := tasks.RegisterIPCheckTask(s.sched, outbound, &s.logger); err != nil {
			return err
		}
	}
	return nil
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))
}

// setupRoutes mounts every surface.
func (s *Server) setupRoutes(db *database.DB) {
	torznab.NewHandlers(s.torznab).RegisterRoutes(s.echo)
	qbt.NewHandlers(s.qbt).RegisterRoutes(s.echo)
	s.strm.RegisterRoutes(s.echo)
	health.NewHandlers(db, s.sched, s.cfg.Paths.DownloadDir, Version).RegisterRoutes(s.echo)
}

// Echo exposes the router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start reaps dangling jobs, starts background tasks, and serves HTTP.
func (s *Server) Start(address string) error {
	reaped, err := s.store.ReapDanglingJobs(context.Background())
	if err != nil {
		return err
	}
	if reaped > 0 {
		s.logger.Warn().Int64("count", reaped).Msg("reaped dangling jobs from previous run")
	}

	if err := s.sched.Start(); err != nil {
		return err
	}

	go s.warmIndices()

	s.logger.Info().Str("address", address).Msg("starting HTTP server")
	return s.echo.Start(address)
}

// warmIndices builds the title indices ahead of the first search.
// Transient network failures at boot are retried with backoff; after
// that the indices build lazily on first use.
func (s *Server) warmIndices() {
	backoff := 5 * time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err := s.resolver.RefreshIndices(ctx)
		cancel()
		if err == nil {
			return
		}
		s.logger.Warn().Err(err).Int("attempt", attempt).Msg("index warm-up failed, retrying")
		time.Sleep(backoff)
		backoff *= 2
	}
	s.logger.Warn().Msg("index warm-up gave up, indices will build on demand")
}

// Shutdown stops the HTTP server, the scheduler, and the worker pool.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.sched.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("scheduler stop failed")
	}
	if err := s.pool.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("worker pool shutdown timed out")
	}
	return s.echo.Shutdown(ctx)
}
