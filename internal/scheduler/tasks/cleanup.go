// Package tasks wires the bridge's recurring maintenance jobs into the
// scheduler.
package tasks

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/scheduler"
	"github.com/anibridge/anibridge/internal/store"
)

const DownloadsCleanupTaskID = "downloads-cleanup"

// RegisterDownloadsCleanupTask registers the TTL cleanup of completed
// download files. Runs on the configured scan interval; files whose job
// completed more than ttl ago are removed and the job's result path is
// cleared.
func RegisterDownloadsCleanupTask(sched *scheduler.Scheduler, st *store.Store, ttl, scanInterval time.Duration, logger *zerolog.Logger) error {
	if ttl <= 0 {
		return nil // retention disabled
	}
	if scanInterval <= 0 {
		scanInterval = 30 * time.Minute
	}

	taskLogger := logger.With().Str("component", "downloads-cleanup").Logger()

	return sched.RegisterTask(&scheduler.TaskConfig{
		ID:          DownloadsCleanupTaskID,
		Name:        "Downloads Cleanup",
		Description: "Deletes completed download files older than the retention period",
		Every:       scanInterval,
		RunOnStart:  true,
		Func: func(ctx context.Context) error {
			cutoff := time.Now().Add(-ttl)
			jobs, err := st.ListExpiredCompletedJobs(ctx, cutoff)
			if err != nil {
				return err
			}

			removed := 0
			for _, job := range jobs {
				if err := os.Remove(job.ResultPath); err != nil && !os.IsNotExist(err) {
					taskLogger.Warn().Err(err).Str("path", job.ResultPath).Msg("failed to remove expired file")
					continue
				}
				if err := st.ClearJobResultPath(ctx, job.ID); err != nil {
					return err
				}
				removed++
			}

			if removed > 0 {
				taskLogger.Info().Int("removed", removed).Msg("expired download files removed")
			}
			return nil
		},
	})
}
