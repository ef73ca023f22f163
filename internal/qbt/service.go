// Package qbt exposes a path-compatible subset of the qBittorrent v2
// web API over the job store, so arr clients can drive the bridge as if
// it were a torrent client.
package qbt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/magnet"
	"github.com/anibridge/anibridge/internal/scheduler"
	"github.com/anibridge/anibridge/internal/store"
)

// Version strings reported to clients. They track a real qBittorrent
// release because some arr clients gate features on them.
const (
	appVersion    = "v4.6.7"
	webAPIVersion = "2.9.3"
)

// Config holds façade settings.
type Config struct {
	SavePath        string
	DefaultCategory string
}

// Service projects jobs into qBittorrent wire shapes.
type Service struct {
	store  *store.Store
	pool   *scheduler.Pool
	cfg    Config
	logger *zerolog.Logger

	mu         sync.RWMutex
	categories map[string]string // name -> save path
}

// NewService creates the façade service.
func NewService(st *store.Store, pool *scheduler.Pool, cfg Config, logger *zerolog.Logger) *Service {
	subLogger := logger.With().Str("component", "qbt").Logger()
	if cfg.DefaultCategory == "" {
		cfg.DefaultCategory = "anibridge"
	}
	s := &Service{
		store:      st,
		pool:       pool,
		cfg:        cfg,
		logger:     &subLogger,
		categories: make(map[string]string),
	}
	s.categories[cfg.DefaultCategory] = cfg.SavePath
	return s
}

// AddMagnet decodes a synthetic magnet and submits the job it carries.
// Duplicate adds (same infohash) are deduplicated by the task store.
func (s *Service) AddMagnet(ctx context.Context, magnetURI, category string) error {
	payload, err := magnet.Decode(magnetURI)
	if err != nil {
		return fmt.Errorf("decode magnet: %w", err)
	}

	if category == "" {
		category = s.cfg.DefaultCategory
	}
	s.mu.Lock()
	if _, ok := s.categories[category]; !ok {
		s.categories[category] = s.cfg.SavePath
	}
	s.mu.Unlock()

	// An existing task with this hash means the magnet was added before;
	// the protocol treats re-adding as success.
	if _, err := s.store.GetClientTask(ctx, payload.InfoHash()); err == nil {
		return nil
	}

	_, err = s.pool.Submit(ctx, scheduler.Request{
		Site:        payload.Site,
		Slug:        payload.Slug,
		Season:      payload.Season,
		Episode:     payload.Episode,
		Language:    payload.Language,
		Provider:    payload.Provider,
		Mode:        payload.Mode,
		TitleHint:   payload.DisplayName,
		Absolute:    payload.Absolute,
		Hash:        payload.InfoHash(),
		DisplayName: payload.DisplayName,
		SavePath:    s.cfg.SavePath,
		Category:    category,
	})
	return err
}

// Delete removes tasks by hash, cancelling live jobs and optionally
// deleting produced files.
func (s *Service) Delete(ctx context.Context, hashes []string, deleteFiles bool) error {
	for _, hash := range hashes {
		task, err := s.store.GetClientTask(ctx, hash)
		if err != nil {
			continue // unknown hash, idempotent
		}

		if task.JobID != "" {
			if job, err := s.store.GetJob(ctx, task.JobID); err == nil {
				if !job.Status.IsTerminal() {
					if err := s.pool.Cancel(task.JobID); err != nil {
						s.logger.Debug().Err(err).Str("job_id", task.JobID).Msg("cancel on delete")
					}
				}
				if deleteFiles && job.ResultPath != "" {
					if err := os.Remove(job.ResultPath); err != nil && !os.IsNotExist(err) {
						s.logger.Warn().Err(err).Str("path", job.ResultPath).Msg("failed to delete file")
					}
				}
			}
		}

		if err := s.store.DeleteClientTask(ctx, hash); err != nil {
			return err
		}
	}
	return nil
}

// SetPaused flips the façade-only paused flag; jobs keep running.
func (s *Service) SetPaused(ctx context.Context, hashes []string, paused bool) error {
	for _, hash := range hashes {
		if err := s.store.SetClientTaskPaused(ctx, hash, paused); err != nil {
			return err
		}
	}
	return nil
}

// Categories returns the category map in wire shape.
func (s *Service) Categories() map[string]categoryInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]categoryInfo, len(s.categories))
	for name, savePath := range s.categories {
		out[name] = categoryInfo{Name: name, SavePath: savePath}
	}
	return out
}

// CreateCategory adds a category.
func (s *Service) CreateCategory(name, savePath string) {
	if savePath == "" {
		savePath = s.cfg.SavePath
	}
	s.mu.Lock()
	s.categories[name] = savePath
	s.mu.Unlock()
}

// RemoveCategories drops categories; tasks keep their assignment string.
func (s *Service) RemoveCategories(names []string) {
	s.mu.Lock()
	for _, name := range names {
		if name != s.cfg.DefaultCategory {
			delete(s.categories, name)
		}
	}
	s.mu.Unlock()
}

type categoryInfo struct {
	Name     string `json:"name"`
	SavePath string `json:"savePath"`
}

// torrentInfo is the wire shape of one entry in torrents/info and
// sync/maindata.
type torrentInfo struct {
	Hash              string  `json:"hash"`
	Name              string  `json:"name"`
	Size              int64   `json:"size"`
	Progress          float64 `json:"progress"`
	DlSpeed           int64   `json:"dlspeed"`
	UpSpeed           int64   `json:"upspeed"`
	NumSeeds          int     `json:"num_seeds"`
	NumLeechs         int     `json:"num_leechs"`
	Ratio             float64 `json:"ratio"`
	ETA               int64   `json:"eta"`
	State             string  `json:"state"`
	Category          string  `json:"category"`
	Tags              string  `json:"tags"`
	SavePath          string  `json:"save_path"`
	ContentPath       string  `json:"content_path"`
	AddedOn           int64   `json:"added_on"`
	CompletionOn      int64   `json:"completion_on"`
	ForceStart        bool    `json:"force_start"`
	AnibridgeAbsolute int     `json:"anibridgeAbsolute,omitempty"`
}

// projectTask joins a task with its job into the wire shape.
func (s *Service) projectTask(ctx context.Context, task *store.ClientTask) torrentInfo {
	info := torrentInfo{
		Hash:      task.Hash,
		Name:      displayName(task),
		Size:      0,
		NumSeeds:  99,
		NumLeechs: 0,
		Category:  task.Category,
		SavePath:  task.SavePath,
		AddedOn:   task.AddedAt.Unix(),
		State:     stateFor(task, nil),
	}
	if task.CompletedAt != nil {
		info.CompletionOn = task.CompletedAt.Unix()
	}
	if task.AbsoluteNum > 0 {
		info.AnibridgeAbsolute = task.AbsoluteNum
	}

	job, err := s.store.GetJob(ctx, task.JobID)
	if err != nil {
		return info
	}

	info.State = stateFor(task, job)
	info.Progress = job.Progress / 100
	info.DlSpeed = int64(job.Speed)
	info.ETA = job.ETASeconds
	info.Size = job.TotalBytes
	if job.ResultPath != "" {
		info.ContentPath = job.ResultPath
		info.SavePath = filepath.Dir(job.ResultPath)
	}
	if job.Status == store.JobCompleted {
		info.Progress = 1
		if info.Size == 0 {
			info.Size = job.DownloadedBytes
		}
	}
	return info
}

// displayName applies the absolute-number prefix the import-side alias
// numbering relies on.
func displayName(task *store.ClientTask) string {
	if task.AbsoluteNum > 0 {
		return fmt.Sprintf("[ABS %03d] %s", task.AbsoluteNum, task.Name)
	}
	return task.Name
}

// stateFor maps the job lifecycle onto qBittorrent state strings.
func stateFor(task *store.ClientTask, job *store.Job) string {
	if task.Paused {
		return "pausedDL"
	}
	if job == nil {
		switch task.State {
		case string(store.JobCompleted):
			return "pausedUP"
		case string(store.JobFailed), string(store.JobCancelled):
			return "error"
		default:
			return "queuedDL"
		}
	}
	switch job.Status {
	case store.JobQueued:
		return "queuedDL"
	case store.JobDownloading:
		return "downloading"
	case store.JobCompleted:
		return "pausedUP"
	default:
		return "error"
	}
}

// listTorrents projects every task, optionally filtered.
func (s *Service) listTorrents(ctx context.Context, hashFilter map[string]bool, category string) ([]torrentInfo, error) {
	tasks, err := s.store.ListClientTasks(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]torrentInfo, 0, len(tasks))
	for _, task := range tasks {
		if len(hashFilter) > 0 && !hashFilter[task.Hash] {
			continue
		}
		if category != "" && task.Category != category {
			continue
		}
		infos = append(infos, s.projectTask(ctx, task))
	}
	return infos, nil
}
