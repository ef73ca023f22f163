package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/magnet"
	"github.com/anibridge/anibridge/internal/store"
)

// ErrNotRunning is returned by Cancel when the job has no live worker.
var ErrNotRunning = errors.New("scheduler: job is not running")

// Request describes one unit of work submitted to the pool.
type Request struct {
	Site      catalog.Site
	Slug      string
	Season    int
	Episode   int
	Language  string
	Provider  string // preferred provider, "" for configured order
	Mode      magnet.Mode
	TitleHint string
	Absolute  int

	// Client task mirror, populated when the work came in as a magnet
	// through the qBittorrent façade.
	Hash        string
	DisplayName string
	SavePath    string
	Category    string
}

// ProgressFunc receives runner progress. Implementations debounce
// persistence themselves; runners may call as often as they like.
type ProgressFunc func(percent float64, downloaded, total int64, speed float64, etaSeconds int64)

// Runner executes one job mode. The returned path is the produced file;
// a context cancellation must surface as ctx.Err so the pool can record
// the job as cancelled rather than failed.
type Runner interface {
	Run(ctx context.Context, jobID string, req Request, progress ProgressFunc) (string, error)
}

// progressPersistInterval bounds how often runner progress reaches the
// database per job.
const progressPersistInterval = 500 * time.Millisecond

// Pool is the bounded worker pool. Submissions beyond MaxConcurrency
// queue on the semaphore; job rows are persisted before dispatch so
// state survives restarts.
type Pool struct {
	store   *store.Store
	sem     *semaphore.Weighted
	logger  *zerolog.Logger
	runners map[magnet.Mode]Runner

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewPool creates a worker pool with the given concurrency bound.
func NewPool(st *store.Store, maxConcurrency int, logger *zerolog.Logger) *Pool {
	if maxConcurrency <= 0 {
		maxConcurrency = 3
	}
	subLogger := logger.With().Str("component", "pool").Logger()
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Pool{
		store:    st,
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
		logger:   &subLogger,
		runners:  make(map[magnet.Mode]Runner),
		baseCtx:  baseCtx,
		shutdown: cancel,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// RegisterRunner binds a runner to a job mode. Must happen before the
// first Submit for that mode.
func (p *Pool) RegisterRunner(mode magnet.Mode, r Runner) {
	p.runners[mode] = r
}

// Submit persists a queued job (and its client task mirror, when the
// request carries a hash) and dispatches it to a worker. Returns the new
// job id immediately; execution is asynchronous.
func (p *Pool) Submit(ctx context.Context, req Request) (string, error) {
	if _, ok := p.runners[req.Mode]; !ok {
		return "", fmt.Errorf("scheduler: no runner for mode %q", req.Mode)
	}

	jobID := uuid.NewString()
	if _, err := p.store.CreateJob(ctx, jobID, string(req.Site)); err != nil {
		return "", err
	}

	if req.Hash != "" {
		task := &store.ClientTask{
			Hash:        req.Hash,
			Name:        req.DisplayName,
			Site:        string(req.Site),
			Slug:        req.Slug,
			Season:      req.Season,
			Episode:     req.Episode,
			Language:    req.Language,
			Provider:    req.Provider,
			SavePath:    req.SavePath,
			Category:    req.Category,
			State:       string(store.JobQueued),
			AbsoluteNum: req.Absolute,
			JobID:       jobID,
		}
		if err := p.store.CreateClientTask(ctx, task); err != nil {
			return "", err
		}
	}

	p.wg.Add(1)
	go p.run(jobID, req)

	p.logger.Info().
		Str("job_id", jobID).
		Str("site", string(req.Site)).
		Str("slug", req.Slug).
		Int("season", req.Season).
		Int("episode", req.Episode).
		Str("mode", string(req.Mode)).
		Msg("job submitted")

	return jobID, nil
}

func (p *Pool) run(jobID string, req Request) {
	defer p.wg.Done()

	// The cancel func is registered before the semaphore wait so jobs
	// queued behind it stay cancellable.
	jobCtx, cancel := context.WithCancel(p.baseCtx)
	defer cancel()

	p.mu.Lock()
	p.cancels[jobID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, jobID)
		p.mu.Unlock()
	}()

	if err := p.sem.Acquire(jobCtx, 1); err != nil {
		if p.baseCtx.Err() != nil {
			p.finish(jobID, req, store.JobFailed, "shutdown before job started", "")
		} else {
			p.finish(jobID, req, store.JobCancelled, "cancelled while queued", "")
		}
		return
	}
	defer p.sem.Release(1)

	if err := p.store.MarkJobDownloading(jobCtx, jobID); err != nil {
		// Cancelled in the window between acquire and the state write;
		// finish is a no-op when the job already reached a terminal state.
		if jobCtx.Err() != nil || errors.Is(err, store.ErrInvalidTransition) {
			p.finish(jobID, req, store.JobCancelled, "cancelled while queued", "")
			return
		}
		p.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to mark job downloading")
		return
	}
	p.setTaskState(req.Hash, store.JobDownloading)

	resultPath, err := p.runners[req.Mode].Run(jobCtx, jobID, req, p.progressFunc(jobID))
	switch {
	case err == nil:
		p.finish(jobID, req, store.JobCompleted, "", resultPath)
	case errors.Is(err, context.Canceled):
		p.finish(jobID, req, store.JobCancelled, "cancelled", "")
	default:
		p.finish(jobID, req, store.JobFailed, err.Error(), "")
	}
}

func (p *Pool) finish(jobID string, req Request, status store.JobStatus, message, resultPath string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.store.FinishJob(ctx, jobID, status, message, resultPath); err != nil {
		if !errors.Is(err, store.ErrInvalidTransition) {
			p.logger.Error().Err(err).Str("job_id", jobID).Msg("failed to finish job")
		}
		return
	}
	p.setTaskState(req.Hash, status)

	evt := p.logger.Info()
	if status == store.JobFailed {
		evt = p.logger.Warn()
	}
	evt.Str("job_id", jobID).
		Str("status", string(status)).
		Str("message", message).
		Msg("job finished")
}

func (p *Pool) setTaskState(hash string, status store.JobStatus) {
	if hash == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.store.SetClientTaskState(ctx, hash, string(status)); err != nil {
		p.logger.Error().Err(err).Str("hash", hash).Msg("failed to update client task state")
	}
}

// progressFunc returns a debounced progress callback for one job.
func (p *Pool) progressFunc(jobID string) ProgressFunc {
	var mu sync.Mutex
	var lastPersist time.Time

	return func(percent float64, downloaded, total int64, speed float64, etaSeconds int64) {
		mu.Lock()
		if time.Since(lastPersist) < progressPersistInterval && percent < 100 {
			mu.Unlock()
			return
		}
		lastPersist = time.Now()
		mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.store.UpdateJobProgress(ctx, jobID, percent, downloaded, total, speed, etaSeconds); err != nil {
			p.logger.Debug().Err(err).Str("job_id", jobID).Msg("progress update failed")
		}
	}
}

// Cancel requests cancellation of a running or queued job. The worker
// observes it at its next I/O boundary.
func (p *Pool) Cancel(jobID string) error {
	p.mu.Lock()
	cancel, ok := p.cancels[jobID]
	p.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	cancel()
	return nil
}

// CancelByHash cancels the job backing a client task.
func (p *Pool) CancelByHash(ctx context.Context, hash string) error {
	task, err := p.store.GetClientTask(ctx, hash)
	if err != nil {
		return err
	}
	return p.Cancel(task.JobID)
}

// Shutdown stops accepting work, cancels running jobs, and waits for
// workers to exit or the context to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdown()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
