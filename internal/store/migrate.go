package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// migrations run in order at store startup. Each entry executes at most
// once per database; applied versions are recorded in schema_migrations.
var migrations = []struct {
	version int
	name    string
	run     func(ctx context.Context, tx *sql.Tx) error
}{
	{1, "repair legacy camelCase columns", migrateRepairLegacyColumns},
	{2, "create tasks table", migrateCreateTasks},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}

		if err := m.run(ctx, tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().Format(timeLayout)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}

		s.logger.Printf("Applied migration %d: %s", m.version, m.name)
	}

	return nil
}

func migrateCreateTasks(ctx context.Context, tx *sql.Tx) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		local_id TEXT PRIMARY KEY,
		server_id TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		scheduled_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_server_id
	    ON tasks(server_id) WHERE server_id != '';
	CREATE INDEX IF NOT EXISTS idx_tasks_synced ON tasks(synced);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// legacyColumns maps column names written by old clients to the current
// snake_case schema.
var legacyColumns = map[string]string{
	"localId":     "local_id",
	"serverId":    "server_id",
	"scheduledAt": "scheduled_at",
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
}

// migrateRepairLegacyColumns renames camelCase columns left behind by
// old clients. It runs before the table migration so the server_id
// index is created against snake_case columns; fresh databases have no
// tasks table yet and nothing to repair.
func migrateRepairLegacyColumns(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `PRAGMA table_info(tasks)`)
	if err != nil {
		return fmt.Errorf("failed to inspect tasks table: %w", err)
	}
	defer rows.Close()

	var present []string
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to scan table info: %w", err)
		}
		if _, ok := legacyColumns[name]; ok {
			present = append(present, name)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, old := range present {
		stmt := fmt.Sprintf(`ALTER TABLE tasks RENAME COLUMN "%s" TO "%s"`, old, legacyColumns[old])
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to rename column %s: %w", old, err)
		}
	}

	return nil
}
