package db

import (
	"database/sql"
	"fmt"
)

// column is a column added to a table after it was first shipped.
type column struct {
	table, name, decl string
}

// addedColumns are added to databases created before the column existed.
// Append new columns at the end.
var addedColumns = []column{
	// The trigger time a job was registered for; retries move run_at, not due_at.
	{"alert_jobs", "due_at", "INTEGER NOT NULL DEFAULT 0"},
}

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent. Append new migrations at the end.
var migrations = []string{
	// Migration 1: the job runner scans pending rows by due time.
	`CREATE INDEX IF NOT EXISTS idx_alert_jobs_due ON alert_jobs(status, run_at)`,
	// Migration 2: inbox listing is newest first.
	`CREATE INDEX IF NOT EXISTS idx_notifications_created ON notifications(created_at)`,
	// Migration 3: lookups of the alerts belonging to one item.
	`CREATE INDEX IF NOT EXISTS idx_notifications_dedupe_key ON notifications(dedupe_key)`,
}

func migrate(db *sql.DB) error {
	for _, c := range addedColumns {
		if err := addColumn(db, c); err != nil {
			return err
		}
	}
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}

// addColumn adds c unless the table already has it.
func addColumn(db *sql.DB, c column) error {
	var exists bool
	err := db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM pragma_table_info(?) WHERE name = ?)`, c.table, c.name,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("inspecting %s.%s: %w", c.table, c.name, err)
	}
	if exists {
		return nil
	}
	if _, err := db.Exec(`ALTER TABLE ` + c.table + ` ADD COLUMN ` + c.name + ` ` + c.decl); err != nil {
		return fmt.Errorf("adding %s.%s: %w", c.table, c.name, err)
	}
	return nil
}
