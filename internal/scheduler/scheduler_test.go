package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anibridge/anibridge/internal/scheduler"
)

func TestRegisterIntervalTask(t *testing.T) {
	sched, err := scheduler.New(zerolog.Nop())
	require.NoError(t, err)
	defer sched.Stop()

	// Intervals beyond 59 minutes cannot be expressed as */N cron
	// minutes, so they register as duration jobs.
	err = sched.RegisterTask(&scheduler.TaskConfig{
		ID:    "long-interval",
		Name:  "Long Interval",
		Every: 2 * time.Hour,
		Func:  func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)

	infos := sched.ListTasks()
	require.Len(t, infos, 1)
	assert.Equal(t, "every 2h0m0s", infos[0].Cron)
}

func TestRegisterCronTask(t *testing.T) {
	sched, err := scheduler.New(zerolog.Nop())
	require.NoError(t, err)
	defer sched.Stop()

	err = sched.RegisterTask(&scheduler.TaskConfig{
		ID:   "nightly",
		Name: "Nightly",
		Cron: "0 2 * * *",
		Func: func(ctx context.Context) error { return nil },
	})
	require.NoError(t, err)

	err = sched.RegisterTask(&scheduler.TaskConfig{
		ID:   "nightly",
		Name: "Nightly",
		Cron: "0 2 * * *",
		Func: func(ctx context.Context) error { return nil },
	})
	assert.Error(t, err)
}
