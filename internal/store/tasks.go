package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClientTask mirrors a job for the qBittorrent façade, keyed by the
// synthetic 40-hex info hash. Façade-only fields (category, paused) are
// owned by the façade; everything else is derived from the job.
type ClientTask struct {
	Hash        string
	Name        string
	Site        string
	Slug        string
	Season      int
	Episode     int
	Language    string
	Provider    string
	SavePath    string
	Category    string
	State       string
	Paused      bool
	AbsoluteNum int // 0 when the magnet carried no absolute number
	AddedAt     time.Time
	CompletedAt *time.Time
	JobID       string
}

const taskColumns = `hash, name, site, slug, season, episode, language, provider, save_path, category, state, paused, absolute_num, added_at, completed_at, job_id`

func scanTask(row interface{ Scan(...any) error }) (*ClientTask, error) {
	var t ClientTask
	var paused int
	var absolute sql.NullInt64
	var completed sql.NullTime
	err := row.Scan(&t.Hash, &t.Name, &t.Site, &t.Slug, &t.Season, &t.Episode,
		&t.Language, &t.Provider, &t.SavePath, &t.Category, &t.State, &paused,
		&absolute, &t.AddedAt, &completed, &t.JobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Paused = paused != 0
	if absolute.Valid {
		t.AbsoluteNum = int(absolute.Int64)
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return &t, nil
}

// CreateClientTask inserts a task row. Inserting the same hash twice is
// a no-op so repeated magnet adds stay deduplicated.
func (s *Store) CreateClientTask(ctx context.Context, t *ClientTask) error {
	var absolute any
	if t.AbsoluteNum > 0 {
		absolute = t.AbsoluteNum
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO client_tasks
		 (hash, name, site, slug, season, episode, language, provider, save_path, category, state, paused, absolute_num, added_at, job_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Hash, t.Name, t.Site, t.Slug, t.Season, t.Episode, t.Language, t.Provider,
		t.SavePath, t.Category, t.State, boolInt(t.Paused), absolute, time.Now().UTC(), t.JobID)
	if err != nil {
		return fmt.Errorf("create client task: %w", err)
	}
	return nil
}

// GetClientTask fetches a task by info hash.
func (s *Store) GetClientTask(ctx context.Context, hash string) (*ClientTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM client_tasks WHERE hash = ?`, hash)
	return scanTask(row)
}

// ListClientTasks returns every task, newest first.
func (s *Store) ListClientTasks(ctx context.Context) ([]*ClientTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM client_tasks ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*ClientTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SetClientTaskState updates the façade-visible state and, for
// completion, the completion timestamp.
func (s *Store) SetClientTaskState(ctx context.Context, hash, state string) error {
	var completedAt any
	if state == "completed" {
		completedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE client_tasks SET state = ?, completed_at = COALESCE(?, completed_at) WHERE hash = ?`,
		state, completedAt, hash)
	return err
}

// SetClientTaskPaused flips the façade-only paused flag.
func (s *Store) SetClientTaskPaused(ctx context.Context, hash string, paused bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE client_tasks SET paused = ? WHERE hash = ?`, boolInt(paused), hash)
	return err
}

// SetClientTaskCategory moves a task into a category.
func (s *Store) SetClientTaskCategory(ctx context.Context, hash, category string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE client_tasks SET category = ? WHERE hash = ?`, category, hash)
	return err
}

// DeleteClientTask removes a task row. Idempotent.
func (s *Store) DeleteClientTask(ctx context.Context, hash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_tasks WHERE hash = ?`, hash)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
