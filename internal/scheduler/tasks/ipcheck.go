package tasks

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/anibridge/anibridge/internal/scheduler"
)

const IPCheckTaskID = "ip-check"

const ipEchoURL = "https://api.ipify.org"

// RegisterIPCheckTask logs the public egress IP hourly. Useful when the
// bridge is expected to route catalogue traffic through a VPN: a sudden
// IP change shows up in the logs next to any scraping failures.
func RegisterIPCheckTask(sched *scheduler.Scheduler, httpClient *http.Client, logger *zerolog.Logger) error {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	taskLogger := logger.With().Str("component", "ip-check").Logger()

	return sched.RegisterTask(&scheduler.TaskConfig{
		ID:          IPCheckTaskID,
		Name:        "Public IP Check",
		Description: "Logs the public egress IP of the outbound network",
		Cron:        "0 * * * *",
		RunOnStart:  true,
		Func: func(ctx context.Context) error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, ipEchoURL, nil)
			if err != nil {
				return err
			}
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 256))
			if err != nil {
				return err
			}

			taskLogger.Info().Str("ip", strings.TrimSpace(string(body))).Msg("public egress IP")
			return nil
		},
	})
}
