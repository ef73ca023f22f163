package tasks_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/anibridge/anibridge/internal/scheduler"
	"github.com/anibridge/anibridge/internal/scheduler/tasks"
)

func TestCleanupTaskRegistersWithLongScanInterval(t *testing.T) {
	sched, err := scheduler.New(zerolog.Nop())
	require.NoError(t, err)
	defer sched.Stop()

	logger := zerolog.Nop()
	err = tasks.RegisterDownloadsCleanupTask(sched, nil, 24*time.Hour, 2*time.Hour, &logger)
	require.NoError(t, err)

	infos := sched.ListTasks()
	require.Len(t, infos, 1)
	require.Equal(t, tasks.DownloadsCleanupTaskID, infos[0].ID)
}

func TestCleanupTaskDisabledWithoutTTL(t *testing.T) {
	sched, err := scheduler.New(zerolog.Nop())
	require.NoError(t, err)
	defer sched.Stop()

	logger := zerolog.Nop()
	err = tasks.RegisterDownloadsCleanupTask(sched, nil, 0, 15*time.Minute, &logger)
	require.NoError(t, err)
	require.Empty(t, sched.ListTasks())
}
