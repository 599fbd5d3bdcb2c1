package vfs

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

func timeFromNanos(n int64) time.Time {
	return time.Unix(0, n)
}

const ledgerSchemaVersion = 1

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS operations (
    id              TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    source_id       TEXT NOT NULL,
    source_category TEXT NOT NULL,
    source_path     TEXT NOT NULL,
    dest_path       TEXT,
    bytes_processed INTEGER NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    error           TEXT,
    started_at      INTEGER NOT NULL,
    completed_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ops_category_completed
    ON operations(source_category, completed_at DESC);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// defaultRetentionPerCategory bounds how many records each source category
// keeps. Pruning is advisory for display only and never touches in-flight
// TransferRecords.
const defaultRetentionPerCategory = 10

// Ledger is the append-only record of completed and failed file operations.
// Entries are never mutated after reaching a terminal status.
type Ledger struct {
	db        *sql.DB
	retention int
}

// OpenLedger opens (or creates) the operation ledger at dbPath.
func OpenLedger(dbPath string) (*Ledger, error) {
	l := sub("ledger")
	l.Info("opening operation ledger", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := migrateLedger(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Ledger{db: db, retention: defaultRetentionPerCategory}, nil
}

func migrateLedger(db *sql.DB) error {
	l := sub("ledger")
	var version int
	err := db.QueryRow("SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	if err != nil {
		// meta table doesn't exist or no row — fresh database
		if _, execErr := db.Exec(ledgerSchema); execErr != nil {
			return fmt.Errorf("create schema: %w", execErr)
		}
		if _, execErr := db.Exec(
			"INSERT INTO meta (key, value) VALUES ('schema_version', ?)", ledgerSchemaVersion,
		); execErr != nil {
			return fmt.Errorf("set schema version: %w", execErr)
		}
		l.Info("schema created", "version", ledgerSchemaVersion)
		return nil
	}
	l.Debug("schema up to date", "version", version)
	return nil
}

// Close closes the underlying database.
func (g *Ledger) Close() error {
	return g.db.Close()
}

// SetRetention overrides the per-category retention bound.
func (g *Ledger) SetRetention(n int) {
	if n > 0 {
		g.retention = n
	}
}

// Record appends a terminal operation record and prunes the oldest entries
// of its category past the retention bound.
func (g *Ledger) Record(op OperationRecord) error {
	l := sub("ledger")
	var destPath, opErr sql.NullString
	if op.DestPath != "" {
		destPath = sql.NullString{String: op.DestPath, Valid: true}
	}
	if op.Error != "" {
		opErr = sql.NullString{String: op.Error, Valid: true}
	}

	_, err := g.db.Exec(`
		INSERT INTO operations
			(id, type, source_id, source_category, source_path, dest_path,
			 bytes_processed, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.Type, op.SourceID, op.SourceCategory, op.SourcePath, destPath,
		op.BytesProcessed, op.Status, opErr,
		op.StartedAt.UnixNano(), op.CompletedAt.UnixNano())
	if err != nil {
		l.Error("record operation failed", "id", op.ID, "err", err)
		return fmt.Errorf("record operation: %w", err)
	}

	// Advisory prune: keep the newest N per category.
	_, err = g.db.Exec(`
		DELETE FROM operations
		WHERE source_category = ?
		  AND id NOT IN (
			SELECT id FROM operations
			WHERE source_category = ?
			ORDER BY completed_at DESC
			LIMIT ?
		  )
	`, op.SourceCategory, op.SourceCategory, g.retention)
	if err != nil {
		return fmt.Errorf("prune operations: %w", err)
	}

	l.Debug("operation recorded", "id", op.ID, "type", op.Type, "status", op.Status, "path", op.SourcePath)
	return nil
}

// List returns records ordered by recency, optionally filtered to a set of
// source categories.
func (g *Ledger) List(categories []SourceCategory) ([]OperationRecord, error) {
	query := `
		SELECT id, type, source_id, source_category, source_path, dest_path,
		       bytes_processed, status, error, started_at, completed_at
		FROM operations
	`
	var args []any
	if len(categories) > 0 {
		placeholders := make([]string, len(categories))
		for i, c := range categories {
			placeholders[i] = "?"
			args = append(args, c)
		}
		query += " WHERE source_category IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY completed_at DESC"

	rows, err := g.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	var out []OperationRecord
	for rows.Next() {
		var op OperationRecord
		var destPath, opErr sql.NullString
		var startedAt, completedAt int64
		if err := rows.Scan(&op.ID, &op.Type, &op.SourceID, &op.SourceCategory,
			&op.SourcePath, &destPath, &op.BytesProcessed, &op.Status, &opErr,
			&startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		op.DestPath = destPath.String
		op.Error = opErr.String
		op.StartedAt = timeFromNanos(startedAt)
		op.CompletedAt = timeFromNanos(completedAt)
		out = append(out, op)
	}
	return out, rows.Err()
}

// CountByStatus returns how many recorded operations completed and failed.
func (g *Ledger) CountByStatus() (completed, failed int, err error) {
	err = g.db.QueryRow(`
		SELECT
			COALESCE(SUM(status = 'completed'), 0),
			COALESCE(SUM(status = 'failed'), 0)
		FROM operations
	`).Scan(&completed, &failed)
	if err != nil {
		return 0, 0, fmt.Errorf("count operations: %w", err)
	}
	return completed, failed, nil
}
