package store

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/taskweave/taskweave/internal/task"
)

// fakeNotifier records reminder calls for assertions.
type fakeNotifier struct {
	mu        sync.Mutex
	scheduled map[string]time.Time
	cancelled []string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{scheduled: make(map[string]time.Time)}
}

func (f *fakeNotifier) ScheduleReminder(taskID string, when time.Time, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled[taskID] = when
	return nil
}

func (f *fakeNotifier) CancelReminder(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	delete(f.scheduled, taskID)
}

func setupStore(t *testing.T) (*Store, *fakeNotifier) {
	t.Helper()

	fn := newFakeNotifier()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"), fn, log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	return s, fn
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	before := time.Now()
	rec, err := s.Create(ctx, &task.Task{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	after := time.Now()

	if rec.LocalID == "" {
		t.Error("expected a generated local id")
	}
	if rec.Status != task.StatusPending {
		t.Errorf("expected default status pending, got %q", rec.Status)
	}
	if rec.CreatedAt.Before(before) || rec.CreatedAt.After(after) {
		t.Errorf("created_at not coerced to call time: %v", rec.CreatedAt)
	}
	if rec.Synced {
		t.Error("new local task must start unsynced")
	}

	got, err := s.GetByID(ctx, rec.LocalID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at changed across round trip: %v vs %v", got.CreatedAt, rec.CreatedAt)
	}
}

func TestCreateRejectsEmptyTitle(t *testing.T) {
	s, _ := setupStore(t)

	for _, title := range []string{"", "   ", "\t\n"} {
		_, err := s.Create(context.Background(), &task.Task{Title: title})
		if !task.IsValidation(err) {
			t.Errorf("title %q: expected ValidationError, got %v", title, err)
		}
	}
}

func TestUpdateRefreshesTimestampAndUnsyncs(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, &task.Task{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.MarkSynced(ctx, []string{rec.LocalID}); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	// Pin the clock forward so updated_at visibly moves even on a
	// no-field update.
	later := rec.UpdatedAt.Add(time.Minute)
	s.now = func() time.Time { return later }

	updated, err := s.Update(ctx, rec.LocalID, Patch{})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.UpdatedAt.Equal(later) {
		t.Errorf("updated_at not recomputed: got %v, want %v", updated.UpdatedAt, later)
	}
	if updated.Synced {
		t.Error("update must clear the synced flag")
	}
	if !updated.CreatedAt.Equal(rec.CreatedAt) {
		t.Error("update must not touch created_at")
	}
}

func TestUpdateFields(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, &task.Task{Title: "Buy milk"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	title := "Buy oat milk"
	status := task.StatusCompleted
	updated, err := s.Update(ctx, rec.LocalID, Patch{Title: &title, Status: &status})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Title != title || updated.Status != status {
		t.Errorf("patch not applied: %+v", updated)
	}
}

func TestUpdateNotFound(t *testing.T) {
	s, _ := setupStore(t)
	_, err := s.Update(context.Background(), "missing", Patch{})
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s, fn := setupStore(t)
	ctx := context.Background()

	sched := time.Now().Add(time.Hour)
	rec, err := s.Create(ctx, &task.Task{Title: "Buy milk", ScheduledAt: &sched})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	ok, err := s.Delete(ctx, rec.LocalID)
	if err != nil || !ok {
		t.Fatalf("Delete failed: ok=%v err=%v", ok, err)
	}

	fn.mu.Lock()
	cancelled := len(fn.cancelled)
	fn.mu.Unlock()
	if cancelled != 1 {
		t.Errorf("expected reminder cancellation on delete, got %d", cancelled)
	}

	ok, err = s.Delete(ctx, rec.LocalID)
	if err != nil {
		t.Fatalf("second Delete errored: %v", err)
	}
	if ok {
		t.Error("deleting a missing task should report false")
	}
}

func TestListUnsyncedAndMarkSynced(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	a, _ := s.Create(ctx, &task.Task{Title: "A"})
	b, _ := s.Create(ctx, &task.Task{Title: "B"})
	if err := s.MarkSynced(ctx, []string{a.LocalID}); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	unsynced, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced failed: %v", err)
	}
	if len(unsynced) != 1 || unsynced[0].LocalID != b.LocalID {
		t.Errorf("expected only task B unsynced, got %d records", len(unsynced))
	}

	// A linked task re-edited after its push is unsynced again.
	if err := s.Link(ctx, a.LocalID, "srv-a"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	title := "A2"
	if _, err := s.Update(ctx, a.LocalID, Patch{Title: &title}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	unsynced, err = s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced failed: %v", err)
	}
	if len(unsynced) != 2 {
		t.Errorf("expected re-edited linked task in unsynced set, got %d records", len(unsynced))
	}
}

func TestLinkUnlink(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, &task.Task{Title: "Buy milk"})
	if err := s.Link(ctx, rec.LocalID, "srv-1"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	got, err := s.GetByServerID(ctx, "srv-1")
	if err != nil {
		t.Fatalf("GetByServerID failed: %v", err)
	}
	if got.LocalID != rec.LocalID || !got.Synced {
		t.Errorf("link state wrong: %+v", got)
	}

	if err := s.Unlink(ctx, rec.LocalID); err != nil {
		t.Fatalf("Unlink failed: %v", err)
	}
	got, _ = s.GetByID(ctx, rec.LocalID)
	if got.Linked() || got.Synced {
		t.Errorf("unlink state wrong: %+v", got)
	}
	if _, err := s.GetByServerID(ctx, "srv-1"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound after unlink, got %v", err)
	}
}

func TestCreateFromRemotePreservesTimestamps(t *testing.T) {
	s, fn := setupStore(t)
	ctx := context.Background()

	created := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	updated := created.Add(time.Hour)
	sched := created.Add(48 * time.Hour)
	remote := &task.Task{
		ServerID:    "srv-7",
		Title:       "From WhatsApp",
		Status:      task.StatusPending,
		ScheduledAt: &sched,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}

	rec, err := s.CreateFromRemote(ctx, remote)
	if err != nil {
		t.Fatalf("CreateFromRemote failed: %v", err)
	}
	if !rec.CreatedAt.Equal(created) || !rec.UpdatedAt.Equal(updated) {
		t.Errorf("remote timestamps not preserved: %+v", rec)
	}
	if !rec.Synced || rec.ServerID != "srv-7" {
		t.Errorf("remote task should be born linked and synced: %+v", rec)
	}

	fn.mu.Lock()
	_, scheduled := fn.scheduled[rec.LocalID]
	fn.mu.Unlock()
	if !scheduled {
		t.Error("expected reminder scheduled for remote task with scheduled_at")
	}
}

func TestOverwriteFromRemote(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, &task.Task{Title: "Old title"})
	if err := s.Link(ctx, rec.LocalID, "srv-1"); err != nil {
		t.Fatalf("Link failed: %v", err)
	}

	remoteUpdated := rec.UpdatedAt.Add(time.Hour)
	remote := &task.Task{
		ServerID:  "srv-1",
		Title:     "New title",
		Status:    task.StatusInProgress,
		CreatedAt: rec.CreatedAt.Add(-time.Hour), // remote clock differs
		UpdatedAt: remoteUpdated,
	}

	got, err := s.OverwriteFromRemote(ctx, rec.LocalID, remote)
	if err != nil {
		t.Fatalf("OverwriteFromRemote failed: %v", err)
	}
	if got.Title != "New title" || got.Status != task.StatusInProgress {
		t.Errorf("remote fields not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Error("overwrite must preserve local created_at")
	}
	if !got.UpdatedAt.Equal(remoteUpdated) {
		t.Error("overwrite must take remote updated_at")
	}
	if !got.Synced {
		t.Error("overwritten task must be synced")
	}
}

func TestReminderTransitions(t *testing.T) {
	s, fn := setupStore(t)
	ctx := context.Background()

	rec, _ := s.Create(ctx, &task.Task{Title: "Buy milk"})

	sched := time.Now().Add(time.Hour)
	if _, err := s.Update(ctx, rec.LocalID, Patch{ScheduledAt: &sched}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	fn.mu.Lock()
	_, ok := fn.scheduled[rec.LocalID]
	fn.mu.Unlock()
	if !ok {
		t.Fatal("expected reminder after scheduled_at set")
	}

	if _, err := s.Update(ctx, rec.LocalID, Patch{ClearScheduledAt: true}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	fn.mu.Lock()
	_, still := fn.scheduled[rec.LocalID]
	fn.mu.Unlock()
	if still {
		t.Error("expected reminder cancelled after scheduled_at cleared")
	}
}

func TestInitConcurrent(t *testing.T) {
	fn := newFakeNotifier()
	s, err := Open(filepath.Join(t.TempDir(), "tasks.db"), fn, log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Init(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Init failed: %v", err)
		}
	}

	if _, err := s.Create(context.Background(), &task.Task{Title: "After init"}); err != nil {
		t.Fatalf("Create after concurrent init failed: %v", err)
	}
}

func TestLegacyColumnMigration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.db")

	// Simulate a database written by an old client: camelCase columns,
	// no schema_migrations table.
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("failed to open raw database: %v", err)
	}
	if _, err := conn.Exec(`
		CREATE TABLE tasks (
			local_id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			scheduledAt TEXT,
			createdAt TEXT NOT NULL,
			updatedAt TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}
	now := time.Now().Format(timeLayout)
	if _, err := conn.Exec(
		`INSERT INTO tasks (local_id, title, createdAt, updatedAt) VALUES ('l1', 'Legacy row', ?, ?)`,
		now, now); err != nil {
		t.Fatalf("failed to insert legacy row: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("failed to close raw database: %v", err)
	}

	s, err := Open(path, nil, log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init on legacy database failed: %v", err)
	}

	got, err := s.GetByID(context.Background(), "l1")
	if err != nil {
		t.Fatalf("legacy row unreadable after migration: %v", err)
	}
	if got.Title != "Legacy row" {
		t.Errorf("unexpected legacy row: %+v", got)
	}
}

func TestFullyLegacyColumnMigration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "legacy.db")

	// A database where every column, the id columns included, still uses
	// the old camelCase names. The repair has to land before the server_id
	// index is created or Init fails outright.
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		t.Fatalf("failed to open raw database: %v", err)
	}
	if _, err := conn.Exec(`
		CREATE TABLE tasks (
			localId TEXT PRIMARY KEY,
			serverId TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			scheduledAt TEXT,
			createdAt TEXT NOT NULL,
			updatedAt TEXT NOT NULL,
			synced INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		t.Fatalf("failed to create legacy table: %v", err)
	}
	now := time.Now().Format(timeLayout)
	if _, err := conn.Exec(
		`INSERT INTO tasks (localId, serverId, title, createdAt, updatedAt) VALUES ('l1', 'srv-1', 'Old row', ?, ?)`,
		now, now); err != nil {
		t.Fatalf("failed to insert legacy row: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("failed to close raw database: %v", err)
	}

	s, err := Open(path, nil, log.New(os.Stderr, "[test] ", 0))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer s.Close()
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init on fully legacy database failed: %v", err)
	}

	got, err := s.GetByServerID(context.Background(), "srv-1")
	if err != nil {
		t.Fatalf("legacy row unreadable by server id after migration: %v", err)
	}
	if got.LocalID != "l1" || got.Title != "Old row" {
		t.Errorf("unexpected legacy row: %+v", got)
	}
}

func TestCorruptTimestampIsAnError(t *testing.T) {
	s, _ := setupStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, &task.Task{Title: "Good row"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE tasks SET created_at = 'not-a-timestamp' WHERE local_id = ?`,
		created.LocalID); err != nil {
		t.Fatalf("failed to corrupt row: %v", err)
	}

	// A zero timestamp would silently lose every last-write-wins merge,
	// so the read has to fail loudly instead.
	if _, err := s.GetByID(ctx, created.LocalID); err == nil {
		t.Fatal("expected error reading row with corrupt created_at")
	} else if errors.Is(err, task.ErrNotFound) {
		t.Fatalf("corruption misreported as not-found: %v", err)
	}
}
