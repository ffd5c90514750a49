package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mediatasks/internal/task"
	logx "mediatasks/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const taskColumns = `id, item_id, item_title, name, type, schedule, enabled, next_run, last_run,
	last_run_status, last_run_error, consecutive_failures, created_at, updated_at`

func (s *sqliteStore) List(ctx context.Context) ([]task.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RFC3339Nano text does not sort lexically.
	sortTasks(out)
	return out, nil
}

func (s *sqliteStore) Get(ctx context.Context, id string) (task.ScheduledTask, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.ScheduledTask{}, false, nil
	}
	if err != nil {
		return task.ScheduledTask{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) Add(ctx context.Context, t task.ScheduledTask) error {
	args, err := taskArgs(t)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO NOTHING`,
		args...,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (s *sqliteStore) Update(ctx context.Context, t task.ScheduledTask) (bool, error) {
	args, err := taskArgs(t)
	if err != nil {
		return false, err
	}
	// id goes last for the WHERE clause
	args = append(args[1:], args[0])
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET item_id=?, item_title=?, name=?, type=?, schedule=?, enabled=?, next_run=?, last_run=?,
		 last_run_status=?, last_run_error=?, consecutive_failures=?, created_at=?, updated_at=?
		 WHERE id = ?`,
		args...,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) ListItems(ctx context.Context) ([]task.Item, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []task.Item
	for rows.Next() {
		var it task.Item
		if err := rows.Scan(&it.ID, &it.Title); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetItem(ctx context.Context, id string) (task.Item, bool, error) {
	var it task.Item
	err := s.db.QueryRowContext(ctx, `SELECT id, title FROM items WHERE id = ?`, id).Scan(&it.ID, &it.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Item{}, false, nil
	}
	if err != nil {
		return task.Item{}, false, err
	}
	return it, true, nil
}

func (s *sqliteStore) PutItem(ctx context.Context, it task.Item) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO items(id, title) VALUES(?,?)
		 ON CONFLICT(id) DO UPDATE SET title=excluded.title`,
		it.ID, it.Title,
	)
	return err
}

func (s *sqliteStore) DeleteItem(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (task.ScheduledTask, error) {
	var (
		t                         task.ScheduledTask
		typ, sched, status        string
		enabled                   int
		nextRun, lastRun, lastErr sql.NullString
		createdAt, updatedAt      string
	)
	if err := r.Scan(&t.ID, &t.ItemID, &t.ItemTitle, &t.Name, &typ, &sched, &enabled, &nextRun, &lastRun,
		&status, &lastErr, &t.ConsecutiveFailures, &createdAt, &updatedAt); err != nil {
		return task.ScheduledTask{}, err
	}
	if err := json.Unmarshal([]byte(sched), &t.Schedule); err != nil {
		return task.ScheduledTask{}, fmt.Errorf("task %s: decode schedule: %w", t.ID, err)
	}
	t.Type = task.Type(typ)
	t.Enabled = enabled != 0
	t.LastRunStatus = task.RunStatus(status)
	t.LastRunError = lastErr.String
	t.NextRun = parseTime(nextRun.String)
	t.LastRun = parseTime(lastRun.String)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return t, nil
}

func taskArgs(t task.ScheduledTask) ([]any, error) {
	sched, err := json.Marshal(t.Schedule)
	if err != nil {
		return nil, err
	}
	status := t.LastRunStatus
	if status == "" {
		status = task.StatusNever
	}
	enabled := 0
	if t.Enabled {
		enabled = 1
	}
	return []any{
		t.ID, t.ItemID, t.ItemTitle, t.Name, string(t.Type), string(sched), enabled,
		nullTime(t.NextRun), nullTime(t.LastRun), string(status), nullStr(t.LastRunError),
		t.ConsecutiveFailures, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
