package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anibridge/anibridge/internal/catalog"
	"github.com/anibridge/anibridge/internal/magnet"
	"github.com/anibridge/anibridge/internal/scheduler"
	"github.com/anibridge/anibridge/internal/store"
	"github.com/anibridge/anibridge/internal/testutil"
)

// fakeRunner blocks until released so tests can observe in-flight jobs.
type fakeRunner struct {
	mu      sync.Mutex
	active  int32
	maxSeen int32
	block   chan struct{}
	result  string
	err     error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{block: make(chan struct{}), result: "/downloads/out.mkv"}
}

func (r *fakeRunner) Run(ctx context.Context, jobID string, req scheduler.Request, progress scheduler.ProgressFunc) (string, error) {
	n := atomic.AddInt32(&r.active, 1)
	defer atomic.AddInt32(&r.active, -1)

	r.mu.Lock()
	if n > r.maxSeen {
		r.maxSeen = n
	}
	r.mu.Unlock()

	if progress != nil {
		progress(50, 500, 1000, 100, 5)
	}

	select {
	case <-r.block:
		return r.result, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *fakeRunner) maxConcurrent() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxSeen
}

func newPool(t *testing.T, concurrency int) (*scheduler.Pool, *store.Store, *fakeRunner) {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	logger := zerolog.Nop()
	st := store.New(tdb.Conn, &logger)
	pool := scheduler.NewPool(st, concurrency, &logger)
	runner := newFakeRunner()
	pool.RegisterRunner(magnet.ModeDownload, runner)
	return pool, st, runner
}

func request(episode int) scheduler.Request {
	return scheduler.Request{
		Site:     catalog.SiteAniWorld,
		Slug:     "frieren",
		Season:   1,
		Episode:  episode,
		Language: "German Sub",
		Mode:     magnet.ModeDownload,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSubmitRequiresRunner(t *testing.T) {
	tdb := testutil.NewTestDB(t)
	logger := zerolog.Nop()
	pool := scheduler.NewPool(store.New(tdb.Conn, &logger), 1, &logger)

	_, err := pool.Submit(context.Background(), request(1))
	assert.Error(t, err)
}

func TestConcurrencyBound(t *testing.T) {
	pool, st, runner := newPool(t, 2)
	ctx := context.Background()

	var ids []string
	for i := 1; i <= 4; i++ {
		id, err := pool.Submit(ctx, request(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// Exactly two workers run; the rest wait on the semaphore.
	waitFor(t, func() bool { return atomic.LoadInt32(&runner.active) == 2 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.active))

	close(runner.block)
	waitFor(t, func() bool {
		for _, id := range ids {
			job, err := st.GetJob(ctx, id)
			if err != nil || !job.Status.IsTerminal() {
				return false
			}
		}
		return true
	})

	assert.LessOrEqual(t, runner.maxConcurrent(), int32(2))
	for _, id := range ids {
		job, err := st.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.JobCompleted, job.Status)
		assert.Equal(t, "/downloads/out.mkv", job.ResultPath)
	}
}

func TestCancelRunningJob(t *testing.T) {
	pool, st, runner := newPool(t, 1)
	ctx := context.Background()

	id, err := pool.Submit(ctx, request(1))
	require.NoError(t, err)

	waitFor(t, func() bool { return atomic.LoadInt32(&runner.active) == 1 })
	require.NoError(t, pool.Cancel(id))

	waitFor(t, func() bool {
		job, err := st.GetJob(ctx, id)
		return err == nil && job.Status.IsTerminal()
	})

	job, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, job.Status)
}

func TestCancelQueuedJob(t *testing.T) {
	pool, st, runner := newPool(t, 1)
	ctx := context.Background()

	running, err := pool.Submit(ctx, request(1))
	require.NoError(t, err)
	waitFor(t, func() bool { return atomic.LoadInt32(&runner.active) == 1 })

	// The second job waits behind the single worker slot.
	queued, err := pool.Submit(ctx, request(2))
	require.NoError(t, err)

	require.NoError(t, pool.Cancel(queued))
	waitFor(t, func() bool {
		job, err := st.GetJob(ctx, queued)
		return err == nil && job.Status.IsTerminal()
	})

	job, err := st.GetJob(ctx, queued)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, job.Status)

	// The cancelled job never took the slot; the running one completes.
	close(runner.block)
	waitFor(t, func() bool {
		job, err := st.GetJob(ctx, running)
		return err == nil && job.Status == store.JobCompleted
	})
	assert.Equal(t, int32(1), runner.maxConcurrent())
}

func TestCancelUnknownJob(t *testing.T) {
	pool, _, _ := newPool(t, 1)
	assert.ErrorIs(t, pool.Cancel("nope"), scheduler.ErrNotRunning)
}

func TestSubmitMirrorsClientTask(t *testing.T) {
	pool, st, runner := newPool(t, 1)
	ctx := context.Background()

	req := request(1)
	req.Hash = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	req.DisplayName = "Frieren.S01E01.1080p.WEB.H264.GER.SUB-ANIWORLD"
	req.SavePath = "/downloads"
	req.Category = "anibridge"

	id, err := pool.Submit(ctx, req)
	require.NoError(t, err)

	task, err := st.GetClientTask(ctx, req.Hash)
	require.NoError(t, err)
	assert.Equal(t, id, task.JobID)
	assert.Equal(t, req.DisplayName, task.Name)

	close(runner.block)
	waitFor(t, func() bool {
		task, err := st.GetClientTask(ctx, req.Hash)
		return err == nil && task.State == string(store.JobCompleted)
	})
}

func TestShutdownCancelsWork(t *testing.T) {
	pool, st, runner := newPool(t, 1)
	ctx := context.Background()

	id, err := pool.Submit(ctx, request(1))
	require.NoError(t, err)
	waitFor(t, func() bool { return atomic.LoadInt32(&runner.active) == 1 })

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Shutdown(shutdownCtx))

	job, err := st.GetJob(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, job.Status)
}
