// Package archive is a local, embedded provenance store: normalized
// items are appended to a SQLite table keyed by (source, id, cycle),
// independent of and outliving the single-slot fleet state. The cycle
// appends a source's items only when that source changed and returned
// at least one item.
package archive

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/deltafeed/engine/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	source      TEXT NOT NULL,
	id          TEXT NOT NULL,
	cycle_id    TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	title       TEXT,
	url         TEXT,
	content     TEXT,
	source_payload TEXT,
	fetched_at  TEXT NOT NULL,
	PRIMARY KEY (source, id, cycle_id)
);
CREATE INDEX IF NOT EXISTS idx_items_source_id ON items(source, id);
`

// Store is a handle to the provenance archive database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive: migrate %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendCycle records every item fetched this cycle for one source.
func (s *Store) AppendCycle(cycleID string, items []model.NormalizedItem, hashes map[string]string, at time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("archive: begin tx: %w", err)
	}
	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO items
			(source, id, cycle_id, content_hash, title, url, content, source_payload, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("archive: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		payload := ""
		if it.SourcePayload != nil {
			if b, err := json.Marshal(it.SourcePayload); err == nil {
				payload = string(b)
			}
		}
		if _, err := stmt.Exec(it.Source, it.ID, cycleID, hashes[it.ID], it.Title, it.URL, it.Content, payload, at.UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("archive: insert %s/%s: %w", it.Source, it.ID, err)
		}
	}
	return tx.Commit()
}

// History returns every recorded cycle for one item, newest first,
// bounded to limit rows.
func (s *Store) History(source, id string, limit int) ([]CycleRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT cycle_id, content_hash, title, url, content, fetched_at
		FROM items WHERE source = ? AND id = ?
		ORDER BY fetched_at DESC LIMIT ?`, source, id, limit)
	if err != nil {
		return nil, fmt.Errorf("archive: query history: %w", err)
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var r CycleRecord
		if err := rows.Scan(&r.CycleID, &r.ContentHash, &r.Title, &r.URL, &r.Content, &r.FetchedAt); err != nil {
			return nil, fmt.Errorf("archive: scan history row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CycleRecord is one archived observation of an item.
type CycleRecord struct {
	CycleID     string
	ContentHash string
	Title       string
	URL         string
	Content     string
	FetchedAt   string
}
