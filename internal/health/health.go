// Package health answers the liveness endpoint.
package health

import (
	"net/http"
	"os"
	"path/filepath"
	"runtime"

	"github.com/labstack/echo/v4"

	"github.com/anibridge/anibridge/internal/database"
	"github.com/anibridge/anibridge/internal/scheduler"
)

// Response is the /health document.
type Response struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Scheduler   string `json:"scheduler"`
	DownloadDir string `json:"download_dir"`
	Version     string `json:"version"`
	Runtime     string `json:"runtime"`
}

// Handlers serves health checks.
type Handlers struct {
	db          *database.DB
	sched       *scheduler.Scheduler
	downloadDir string
	version     string
}

// NewHandlers creates health handlers.
func NewHandlers(db *database.DB, sched *scheduler.Scheduler, downloadDir, version string) *Handlers {
	return &Handlers{
		db:          db,
		sched:       sched,
		downloadDir: downloadDir,
		version:     version,
	}
}

// RegisterRoutes registers the health endpoint.
func (h *Handlers) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Get)
}

// Get reports overall status: ok only when migrations are applied, the
// scheduler is live, and the download dir is writable.
func (h *Handlers) Get(c echo.Context) error {
	resp := Response{
		Status:      "ok",
		Database:    "ok",
		Scheduler:   "ok",
		DownloadDir: "ok",
		Version:     h.version,
		Runtime:     runtime.Version(),
	}

	if err := h.db.Conn().PingContext(c.Request().Context()); err != nil {
		resp.Database = "unreachable"
	}

	if len(h.sched.ListTasks()) == 0 {
		resp.Scheduler = "no tasks registered"
	}

	if err := checkWritable(h.downloadDir); err != nil {
		resp.DownloadDir = err.Error()
	}

	status := http.StatusOK
	if resp.Database != "ok" || resp.Scheduler != "ok" || resp.DownloadDir != "ok" {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}

func checkWritable(dir string) error {
	probe := filepath.Join(dir, ".health-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return err
	}
	os.Remove(probe)
	return nil
}
