package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// JobStatus is the closed set of job lifecycle states.
type JobStatus string

const (
	JobQueued      JobStatus = "queued"
	JobDownloading JobStatus = "downloading"
	JobCompleted   JobStatus = "completed"
	JobFailed      JobStatus = "failed"
	JobCancelled   JobStatus = "cancelled"
)

// IsTerminal reports whether a status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ErrInvalidTransition is returned when a status update would move a job
// backwards. Transitions are strictly queued → downloading → terminal.
var ErrInvalidTransition = errors.New("store: invalid job status transition")

// Job is one download or STRM work item.
type Job struct {
	ID              string
	Status          JobStatus
	Progress        float64 // percent, 0–100
	DownloadedBytes int64
	TotalBytes      int64
	Speed           float64 // bytes per second
	ETASeconds      int64
	Message         string
	ResultPath      string
	SourceSite      string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const jobColumns = `id, status, progress, downloaded_bytes, total_bytes, speed, eta_seconds, message, result_path, source_site, created_at, updated_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.Status, &j.Progress, &j.DownloadedBytes, &j.TotalBytes,
		&j.Speed, &j.ETASeconds, &j.Message, &j.ResultPath, &j.SourceSite,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob inserts a new job in queued state.
func (s *Store) CreateJob(ctx context.Context, id, sourceSite string) (*Job, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, status, source_site, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, JobQueued, sourceSite, now, now)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns all jobs, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// MarkJobDownloading transitions a queued job to downloading. The WHERE
// clause enforces monotonicity: a terminal or already running job is not
// touched.
func (s *Store) MarkJobDownloading(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		JobDownloading, time.Now().UTC(), id, JobQueued)
	if err != nil {
		return err
	}
	return transitionResult(res)
}

// FinishJob transitions a job to a terminal state with a message and,
// for completed jobs, the result path. Already terminal jobs are left
// untouched so no resurrection is observable.
func (s *Store) FinishJob(ctx context.Context, id string, status JobStatus, message, resultPath string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, status)
	}
	progressExpr := "progress"
	if status == JobCompleted {
		progressExpr = "100"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, message = ?, result_path = ?, progress = `+progressExpr+`, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		status, message, resultPath, time.Now().UTC(), id, JobQueued, JobDownloading)
	if err != nil {
		return err
	}
	return transitionResult(res)
}

func transitionResult(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// UpdateJobProgress records runner progress. Only the owning worker
// calls this; callers debounce so at most a few updates land per second.
func (s *Store) UpdateJobProgress(ctx context.Context, id string, percent float64, downloaded, total int64, speed float64, etaSeconds int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?, downloaded_bytes = ?, total_bytes = ?, speed = ?, eta_seconds = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		percent, downloaded, total, speed, etaSeconds, time.Now().UTC(), id, JobDownloading)
	return err
}

// ReapDanglingJobs fails every non-terminal job. Called once at startup:
// a queued or downloading row at that point belongs to a previous
// process and its worker is gone.
func (s *Store) ReapDanglingJobs(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, message = ?, updated_at = ? WHERE status IN (?, ?)`,
		JobFailed, "dangling job from previous run", time.Now().UTC(), JobQueued, JobDownloading)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListExpiredCompletedJobs returns completed jobs whose files are older
// than the retention cutoff and still have a result path recorded.
func (s *Store) ListExpiredCompletedJobs(ctx context.Context, cutoff time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? AND result_path != '' AND updated_at < ?`,
		JobCompleted, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClearJobResultPath empties a job's result path after its file has been
// removed by TTL cleanup.
func (s *Store) ClearJobResultPath(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET result_path = '', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	return err
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}
