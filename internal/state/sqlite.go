package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	source_id  TEXT PRIMARY KEY,
	keys       TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);`

// SQLiteBackend stores the mapping in a single-table SQLite file. Save
// replaces every row inside one transaction.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fingerprints table: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context) (map[string]Fingerprint, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT source_id, keys FROM fingerprints`)
	if err != nil {
		return nil, fmt.Errorf("query fingerprints: %w", err)
	}
	defer rows.Close()

	entries := map[string]Fingerprint{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		var fp Fingerprint
		if err := json.Unmarshal([]byte(raw), &fp); err != nil {
			return nil, fmt.Errorf("decode fingerprint of %s: %w", id, err)
		}
		entries[id] = fp
	}
	return entries, rows.Err()
}

// Save implements Backend.
func (b *SQLiteBackend) Save(ctx context.Context, entries map[string]Fingerprint) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM fingerprints`); err != nil {
		return fmt.Errorf("clear fingerprints: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO fingerprints (source_id, keys) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for id, fp := range entries {
		if fp.IsZero() {
			continue
		}
		raw, err := json.Marshal(fp)
		if err != nil {
			return fmt.Errorf("encode fingerprint of %s: %w", id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, string(raw)); err != nil {
			return fmt.Errorf("insert fingerprint of %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close implements Backend.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
