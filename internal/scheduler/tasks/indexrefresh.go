package tasks

import (
	"context"

	"github.com/anibridge/anibridge/internal/resolver"
	"github.com/anibridge/anibridge/internal/scheduler"
)

const IndexRefreshTaskID = "index-refresh"

// RegisterIndexRefreshTask keeps the resolver's per-site title indices
// warm so searches never block on a cold catalogue fetch.
func RegisterIndexRefreshTask(sched *scheduler.Scheduler, rs *resolver.Service) error {
	return sched.RegisterTask(&scheduler.TaskConfig{
		ID:          IndexRefreshTaskID,
		Name:        "Index Refresh",
		Description: "Refreshes the per-site series title indices",
		Cron:        "15 */6 * * *",
		RunOnStart:  true,
		Func: func(ctx context.Context) error {
			return rs.RefreshIndices(ctx)
		},
	})
}
