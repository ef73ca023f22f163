package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anibridge/anibridge/internal/store"
	"github.com/anibridge/anibridge/internal/testutil"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	tdb := testutil.NewTestDB(t)
	return store.New(tdb.Conn, &tdb.Logger)
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	job, err := st.CreateJob(ctx, "job-1", "aniworld.to")
	require.NoError(t, err)
	assert.Equal(t, store.JobQueued, job.Status)
	assert.Equal(t, "aniworld.to", job.SourceSite)

	require.NoError(t, st.MarkJobDownloading(ctx, "job-1"))

	require.NoError(t, st.UpdateJobProgress(ctx, "job-1", 42.5, 425, 1000, 512.0, 30))
	job, err = st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobDownloading, job.Status)
	assert.InDelta(t, 42.5, job.Progress, 0.001)
	assert.Equal(t, int64(1000), job.TotalBytes)

	require.NoError(t, st.FinishJob(ctx, "job-1", store.JobCompleted, "", "/downloads/file.mkv"))
	job, err = st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, job.Status)
	assert.Equal(t, float64(100), job.Progress)
	assert.Equal(t, "/downloads/file.mkv", job.ResultPath)
}

func TestJobTransitionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	_, err := st.CreateJob(ctx, "job-1", "s.to")
	require.NoError(t, err)

	// Finishing a queued job is allowed (cancel before start).
	require.NoError(t, st.FinishJob(ctx, "job-1", store.JobCancelled, "cancelled", ""))

	// Once terminal, nothing moves it.
	assert.ErrorIs(t, st.MarkJobDownloading(ctx, "job-1"), store.ErrInvalidTransition)
	assert.ErrorIs(t, st.FinishJob(ctx, "job-1", store.JobCompleted, "", "/x"), store.ErrInvalidTransition)

	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobCancelled, job.Status)

	// A non-terminal target status is rejected outright.
	_, err = st.CreateJob(ctx, "job-2", "s.to")
	require.NoError(t, err)
	assert.ErrorIs(t, st.FinishJob(ctx, "job-2", store.JobDownloading, "", ""), store.ErrInvalidTransition)
}

func TestProgressIgnoredAfterTerminal(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	_, err := st.CreateJob(ctx, "job-1", "aniworld.to")
	require.NoError(t, err)
	require.NoError(t, st.MarkJobDownloading(ctx, "job-1"))
	require.NoError(t, st.FinishJob(ctx, "job-1", store.JobFailed, "provider gone", ""))

	// Late progress from a racing worker must not resurrect the row.
	require.NoError(t, st.UpdateJobProgress(ctx, "job-1", 99, 990, 1000, 100, 1))

	job, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, job.Status)
	assert.NotEqual(t, float64(99), job.Progress)
}

func TestReapDanglingJobs(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	_, err := st.CreateJob(ctx, "queued", "aniworld.to")
	require.NoError(t, err)
	_, err = st.CreateJob(ctx, "running", "aniworld.to")
	require.NoError(t, err)
	require.NoError(t, st.MarkJobDownloading(ctx, "running"))
	_, err = st.CreateJob(ctx, "done", "aniworld.to")
	require.NoError(t, err)
	require.NoError(t, st.FinishJob(ctx, "done", store.JobCompleted, "", "/x"))

	reaped, err := st.ReapDanglingJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reaped)

	for _, id := range []string{"queued", "running"} {
		job, err := st.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.JobFailed, job.Status)
	}
	done, err := st.GetJob(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, done.Status)
}

func TestGetJobNotFound(t *testing.T) {
	st := newStore(t)
	_, err := st.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClientTaskDedupAndState(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	task := &store.ClientTask{
		Hash:     "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Name:     "Frieren.S01E05",
		Site:     "aniworld.to",
		Slug:     "frieren",
		Season:   1,
		Episode:  5,
		Language: "German Sub",
		Category: "anibridge",
		State:    "queued",
		JobID:    "job-1",
	}
	require.NoError(t, st.CreateClientTask(ctx, task))

	// Re-inserting the same hash is a silent no-op.
	dup := *task
	dup.Name = "different name"
	require.NoError(t, st.CreateClientTask(ctx, &dup))

	got, err := st.GetClientTask(ctx, task.Hash)
	require.NoError(t, err)
	assert.Equal(t, "Frieren.S01E05", got.Name)
	assert.Nil(t, got.CompletedAt)

	require.NoError(t, st.SetClientTaskState(ctx, task.Hash, "completed"))
	got, err = st.GetClientTask(ctx, task.Hash)
	require.NoError(t, err)
	assert.Equal(t, "completed", got.State)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, st.SetClientTaskPaused(ctx, task.Hash, true))
	got, err = st.GetClientTask(ctx, task.Hash)
	require.NoError(t, err)
	assert.True(t, got.Paused)

	require.NoError(t, st.DeleteClientTask(ctx, task.Hash))
	_, err = st.GetClientTask(ctx, task.Hash)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Deleting again stays idempotent.
	require.NoError(t, st.DeleteClientTask(ctx, task.Hash))
}

func TestAvailabilityCache(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	row := &store.EpisodeAvailability{
		Site:      "aniworld.to",
		Slug:      "frieren",
		Season:    1,
		Episode:   5,
		Language:  "German Sub",
		Available: true,
		Height:    1080,
		VCodec:    "h264",
		Provider:  "VOE",
	}
	require.NoError(t, st.UpsertAvailability(ctx, row))

	got, err := st.GetAvailability(ctx, "aniworld.to", "frieren", 1, 5, "German Sub")
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, 1080, got.Height)
	assert.True(t, got.Fresh(time.Hour))
	assert.False(t, got.Fresh(0))

	// Upsert replaces in place, including negative results.
	row.Available = false
	row.Height = 0
	require.NoError(t, st.UpsertAvailability(ctx, row))
	got, err = st.GetAvailability(ctx, "aniworld.to", "frieren", 1, 5, "German Sub")
	require.NoError(t, err)
	assert.False(t, got.Available)

	_, err = st.GetAvailability(ctx, "aniworld.to", "frieren", 1, 99, "German Sub")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListAvailableEpisodes(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	for _, e := range []int{3, 1, 2} {
		require.NoError(t, st.UpsertAvailability(ctx, &store.EpisodeAvailability{
			Site: "aniworld.to", Slug: "frieren", Season: 1, Episode: e,
			Language: "German Sub", Available: true,
		}))
	}
	require.NoError(t, st.UpsertAvailability(ctx, &store.EpisodeAvailability{
		Site: "aniworld.to", Slug: "frieren", Season: 1, Episode: 4,
		Language: "German Sub", Available: false,
	}))

	episodes, err := st.ListAvailableEpisodes(ctx, "aniworld.to", "frieren", 1, "German Sub")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, episodes)
}
