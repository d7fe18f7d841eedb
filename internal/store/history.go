// Package store persists the download history. The original keeps a
// plain append-only id file per source; here it is a small SQLite
// database so lookups stay cheap as the history grows.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
	source       TEXT NOT NULL,
	remote_id    TEXT NOT NULL,
	filename     TEXT NOT NULL,
	dest_path    TEXT NOT NULL,
	size         INTEGER NOT NULL,
	completed_at INTEGER NOT NULL,
	PRIMARY KEY (source, remote_id)
);
CREATE INDEX IF NOT EXISTS idx_downloads_completed_at
	ON downloads (completed_at DESC);
`

// Entry is one recorded download.
type Entry struct {
	Source      string
	RemoteID    string
	Filename    string
	DestPath    string
	Size        int64
	CompletedAt time.Time
}

// History is a SQLite-backed record of completed downloads, used both as
// a log and as the one-time-download filter.
type History struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// The engine writes from multiple workers; a single connection
	// avoids SQLITE_BUSY without needing a WAL dance.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &History{db: db}, nil
}

// Close releases the database handle.
func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// Seen reports whether a (source, remote id) pair has been recorded.
func (h *History) Seen(source, remoteID string) (bool, error) {
	if h == nil {
		return false, nil
	}
	var one int
	err := h.db.QueryRow(
		`SELECT 1 FROM downloads WHERE source = ? AND remote_id = ?`,
		source, remoteID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("history lookup: %w", err)
	}
	return true, nil
}

// Record inserts or refreshes an entry for a completed download.
func (h *History) Record(e Entry) error {
	if h == nil {
		return nil
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	_, err := h.db.Exec(
		`INSERT INTO downloads (source, remote_id, filename, dest_path, size, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (source, remote_id) DO UPDATE SET
			filename = excluded.filename,
			dest_path = excluded.dest_path,
			size = excluded.size,
			completed_at = excluded.completed_at`,
		e.Source, e.RemoteID, e.Filename, e.DestPath, e.Size, e.CompletedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("history record: %w", err)
	}
	return nil
}

// List returns recorded downloads, newest first. An empty source matches
// all sources; limit <= 0 means no limit.
func (h *History) List(source string, limit int) ([]Entry, error) {
	if h == nil {
		return nil, nil
	}
	query := `SELECT source, remote_id, filename, dest_path, size, completed_at
		FROM downloads`
	args := []any{}
	if source != "" {
		query += ` WHERE source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY completed_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.Source, &e.RemoteID, &e.Filename, &e.DestPath, &e.Size, &ts); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		e.CompletedAt = time.Unix(ts, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
