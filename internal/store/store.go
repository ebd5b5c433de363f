// Package store implements the on-device task store over embedded
// SQLite.
//
// The store owns local identity (local_id) and the per-record synced
// flag. It is deliberately conservative about timestamps: any write
// path that would persist an empty created_at or updated_at substitutes
// the current time instead, so the NOT NULL constraints can never trip
// on data arriving from loosely-typed upstream payloads.
//
// Reminder side effects are delegated to the notify collaborator: the
// store schedules a reminder when a task gains a scheduled time and
// cancels it when that time is cleared or the task is deleted.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/taskweave/taskweave/internal/notify"
	"github.com/taskweave/taskweave/internal/task"
)

// timeLayout is the storage encoding for timestamps. RFC 3339 with
// nanoseconds keeps updated_at comparisons lossless across a round trip.
const timeLayout = time.RFC3339Nano

// Store wraps the SQLite connection with task-store operations.
type Store struct {
	conn     *sql.DB
	path     string
	notifier notify.Notifier
	logger   *log.Logger

	// now is swappable for tests.
	now func() time.Time

	initMu      sync.Mutex
	initialized bool
}

// Open creates a store at the given database path. The parent directory
// is created if needed. Call Init before first use and Close when done.
//
// If notifier is nil, reminders are disabled. If logger is nil, a
// default logger writing to stderr is used.
func Open(path string, notifier notify.Notifier, logger *log.Logger) (*Store, error) {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:     conn,
		path:     path,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}

	// WAL for concurrent reads during a sync cycle's writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.logger.Printf("Warning: failed to checkpoint WAL: %v", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// Init runs any pending schema migrations. It is idempotent, and
// concurrent callers collapse to a single in-flight initialization:
// later callers block until the first finishes and then return without
// re-running it. A failed initialization is retried by the next caller.
func (s *Store) Init(ctx context.Context) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized {
		return nil
	}
	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	s.initialized = true
	return nil
}

// Create validates and inserts a new task, assigning a local id if the
// caller did not provide one. Empty timestamps are coerced to now.
// Returns the persisted record.
func (s *Store) Create(ctx context.Context, t *task.Task) (*task.Task, error) {
	rec := t.Clone()
	if rec.LocalID == "" {
		rec.LocalID = uuid.NewString()
	}
	rec.SetDefaults(s.now())

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	query := `
	INSERT INTO tasks (
		local_id, server_id, title, description, status,
		scheduled_at, created_at, updated_at, synced
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.LocalID,
		rec.ServerID,
		rec.Title,
		rec.Description,
		string(rec.Status),
		timeToNullString(rec.ScheduledAt),
		rec.CreatedAt.Format(timeLayout),
		rec.UpdatedAt.Format(timeLayout),
		boolToInt(rec.Synced),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert task: %w", err)
	}

	if rec.ScheduledAt != nil {
		if err := s.notifier.ScheduleReminder(rec.LocalID, *rec.ScheduledAt, rec.Title); err != nil {
			s.logger.Printf("Warning: failed to schedule reminder for %s: %v", rec.LocalID, err)
		}
	}

	return rec, nil
}

// Patch describes a partial update. Nil fields are left unchanged;
// ClearScheduledAt removes the scheduled time.
type Patch struct {
	Title            *string
	Description      *string
	Status           *task.Status
	ScheduledAt      *time.Time
	ClearScheduledAt bool
}

// Update applies a partial update to the task. UpdatedAt is recomputed
// to now on every call regardless of which fields changed, and the
// record is marked unsynced so the next cycle pushes it. Returns the
// full post-update record, or task.ErrNotFound.
func (s *Store) Update(ctx context.Context, localID string, p Patch) (*task.Task, error) {
	existing, err := s.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}

	rec := existing.Clone()
	if p.Title != nil {
		rec.Title = *p.Title
	}
	if p.Description != nil {
		rec.Description = *p.Description
	}
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.ClearScheduledAt {
		rec.ScheduledAt = nil
	} else if p.ScheduledAt != nil {
		at := *p.ScheduledAt
		rec.ScheduledAt = &at
	}
	rec.Touch(s.now())
	rec.Synced = false

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	query := `
	UPDATE tasks SET
		title = ?, description = ?, status = ?,
		scheduled_at = ?, updated_at = ?, synced = 0
	WHERE local_id = ?
	`
	if _, err := s.conn.ExecContext(ctx, query,
		rec.Title,
		rec.Description,
		string(rec.Status),
		timeToNullString(rec.ScheduledAt),
		rec.UpdatedAt.Format(timeLayout),
		rec.LocalID,
	); err != nil {
		return nil, fmt.Errorf("failed to update task %s: %w", localID, err)
	}

	s.reconcileReminder(existing, rec)
	return rec, nil
}

// Delete removes a task and cancels any pending reminder. Returns false
// if no task existed for the id.
func (s *Store) Delete(ctx context.Context, localID string) (bool, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM tasks WHERE local_id = ?`, localID)
	if err != nil {
		return false, fmt.Errorf("failed to delete task %s: %w", localID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete task %s: %w", localID, err)
	}
	if n == 0 {
		return false, nil
	}
	s.notifier.CancelReminder(localID)
	return true, nil
}

// GetByID returns the task with the given local id, or task.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, localID string) (*task.Task, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+` WHERE local_id = ?`, localID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", localID, err)
	}
	return t, nil
}

// GetByServerID returns the local task linked to the given server id,
// or task.ErrNotFound. At most one local record may hold a server id.
func (s *Store) GetByServerID(ctx context.Context, serverID string) (*task.Task, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+` WHERE server_id = ?`, serverID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, task.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task by server id %s: %w", serverID, err)
	}
	return t, nil
}

// Filter configures ListAll.
type Filter struct {
	// Status filters by task status (empty = all).
	Status task.Status
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// ListAll returns tasks matching the filter, ordered by created_at.
func (s *Store) ListAll(ctx context.Context, filter Filter) ([]*task.Task, error) {
	query := selectColumns
	var args []interface{}

	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListUnsynced returns every task whose synced flag is false, including
// linked tasks that were re-edited after their last push.
func (s *Store) ListUnsynced(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.conn.QueryContext(ctx, selectColumns+` WHERE synced = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unsynced tasks: %w", err)
	}
	defer rows.Close()

	return scanTasks(rows)
}

// MarkSynced sets synced = true for the given local ids.
func (s *Store) MarkSynced(ctx context.Context, localIDs []string) error {
	if len(localIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(localIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(localIDs))
	for i, id := range localIDs {
		args[i] = id
	}

	query := `UPDATE tasks SET synced = 1 WHERE local_id IN (` + placeholders + `)`
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark tasks synced: %w", err)
	}
	return nil
}

// Link records the server identity for a local task and marks it
// synced. Once set, a server id never changes for the life of the
// local record.
func (s *Store) Link(ctx context.Context, localID, serverID string) error {
	query := `UPDATE tasks SET server_id = ?, synced = 1 WHERE local_id = ?`
	if _, err := s.conn.ExecContext(ctx, query, serverID, localID); err != nil {
		return fmt.Errorf("failed to link task %s to %s: %w", localID, serverID, err)
	}
	return nil
}

// Unlink clears the server identity and synced flag so the task is
// re-pushed on the next cycle. Used to self-heal orphans whose server
// id no longer resolves in the remote listing.
func (s *Store) Unlink(ctx context.Context, localID string) error {
	query := `UPDATE tasks SET server_id = '', synced = 0 WHERE local_id = ?`
	if _, err := s.conn.ExecContext(ctx, query, localID); err != nil {
		return fmt.Errorf("failed to unlink task %s: %w", localID, err)
	}
	return nil
}

// CreateFromRemote inserts a local record for a remote-originated task,
// preserving the remote's created_at/updated_at rather than
// substituting local creation time. The record is born linked and
// synced. A reminder is scheduled if the task carries a scheduled time.
func (s *Store) CreateFromRemote(ctx context.Context, r *task.Task) (*task.Task, error) {
	rec := r.Clone()
	rec.LocalID = uuid.NewString()
	rec.Synced = true
	rec.SetDefaults(s.now())

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	query := `
	INSERT INTO tasks (
		local_id, server_id, title, description, status,
		scheduled_at, created_at, updated_at, synced
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	_, err := s.conn.ExecContext(ctx, query,
		rec.LocalID,
		rec.ServerID,
		rec.Title,
		rec.Description,
		string(rec.Status),
		timeToNullString(rec.ScheduledAt),
		rec.CreatedAt.Format(timeLayout),
		rec.UpdatedAt.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert remote task: %w", err)
	}

	if rec.ScheduledAt != nil {
		if err := s.notifier.ScheduleReminder(rec.LocalID, *rec.ScheduledAt, rec.Title); err != nil {
			s.logger.Printf("Warning: failed to schedule reminder for %s: %v", rec.LocalID, err)
		}
	}

	return rec, nil
}

// OverwriteFromRemote replaces the mutable fields of a local task with
// a newer remote snapshot. Local created_at is preserved; updated_at
// takes the remote value so that the very next cycle sees the two sides
// as equal and does nothing.
func (s *Store) OverwriteFromRemote(ctx context.Context, localID string, r *task.Task) (*task.Task, error) {
	existing, err := s.GetByID(ctx, localID)
	if err != nil {
		return nil, err
	}

	rec := existing.Clone()
	rec.Title = r.Title
	rec.Description = r.Description
	rec.Status = r.Status
	if r.ScheduledAt != nil {
		at := *r.ScheduledAt
		rec.ScheduledAt = &at
	} else {
		rec.ScheduledAt = nil
	}
	rec.UpdatedAt = r.UpdatedAt
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = s.now()
	}
	rec.Synced = true

	if err := rec.Validate(); err != nil {
		return nil, err
	}

	query := `
	UPDATE tasks SET
		title = ?, description = ?, status = ?,
		scheduled_at = ?, updated_at = ?, synced = 1
	WHERE local_id = ?
	`
	if _, err := s.conn.ExecContext(ctx, query,
		rec.Title,
		rec.Description,
		string(rec.Status),
		timeToNullString(rec.ScheduledAt),
		rec.UpdatedAt.Format(timeLayout),
		rec.LocalID,
	); err != nil {
		return nil, fmt.Errorf("failed to overwrite task %s: %w", localID, err)
	}

	s.reconcileReminder(existing, rec)
	return rec, nil
}

// reconcileReminder schedules or cancels the reminder when scheduled_at
// transitions between runs.
func (s *Store) reconcileReminder(before, after *task.Task) {
	switch {
	case after.ScheduledAt == nil && before.ScheduledAt != nil:
		s.notifier.CancelReminder(after.LocalID)
	case after.ScheduledAt != nil && (before.ScheduledAt == nil || !before.ScheduledAt.Equal(*after.ScheduledAt)):
		if err := s.notifier.ScheduleReminder(after.LocalID, *after.ScheduledAt, after.Title); err != nil {
			s.logger.Printf("Warning: failed to schedule reminder for %s: %v", after.LocalID, err)
		}
	}
}

const selectColumns = `
	SELECT local_id, server_id, title, description, status,
	       scheduled_at, created_at, updated_at, synced
	FROM tasks`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var status, createdAt, updatedAt string
	var scheduledAt sql.NullString
	var synced int

	err := row.Scan(
		&t.LocalID,
		&t.ServerID,
		&t.Title,
		&t.Description,
		&status,
		&scheduledAt,
		&createdAt,
		&updatedAt,
		&synced,
	)
	if err != nil {
		return nil, err
	}

	t.Status = task.Status(status)
	t.Synced = synced != 0

	// A zero timestamp would lose every last-write-wins comparison and
	// never match the identity heuristic, so corruption is an error,
	// not a default.
	if t.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("task %s has unparseable created_at %q: %w", t.LocalID, createdAt, err)
	}
	if t.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("task %s has unparseable updated_at %q: %w", t.LocalID, updatedAt, err)
	}
	t.ScheduledAt = nullStringToTime(scheduledAt)

	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(timeLayout), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
