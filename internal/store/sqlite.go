package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS project_state (
	key           TEXT PRIMARY KEY,
	project_name  TEXT NOT NULL,
	project_path  TEXT NOT NULL,
	phase         TEXT NOT NULL,
	description   TEXT,
	revision      INTEGER NOT NULL,
	last_activity TEXT NOT NULL,
	doc           TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	seq   INTEGER PRIMARY KEY AUTOINCREMENT,
	id    TEXT NOT NULL,
	key   TEXT NOT NULL,
	at    TEXT NOT NULL,
	kind  TEXT NOT NULL,
	entry TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_key ON history(key, seq);
`

// SQLiteStore keeps documents and history in one SQLite database.
type SQLiteStore struct {
	db           *sql.DB
	historyLimit int
}

// NewSQLiteStore opens (creating if needed) the database at path and runs
// an integrity check. A database that fails the check is reported as
// ErrCorrupt.
func NewSQLiteStore(ctx context.Context, path string, historyLimit int) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite store: database path required")
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, historyLimit: historyLimit}
	if err := s.initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initialize(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("applying %q: %w", pragma, err)
		}
	}
	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: integrity check: %v", ErrCorrupt, err)
	}
	if result != "ok" {
		return fmt.Errorf("%w: integrity check: %s", ErrCorrupt, result)
	}
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Load reads the document for key.
func (s *SQLiteStore) Load(ctx context.Context, key string) (taskstate.Snapshot, error) {
	var snap taskstate.Snapshot
	if err := ValidateKey(key); err != nil {
		return snap, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM project_state WHERE key = ?`, key).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("loading state for %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(doc), &snap); err != nil {
		return snap, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	return snap, nil
}

// Save upserts the document for snap.Key.
func (s *SQLiteStore) Save(ctx context.Context, snap taskstate.Snapshot) error {
	if err := ValidateKey(snap.Key); err != nil {
		return err
	}
	doc, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", snap.Key, err)
	}
	info := InfoFromSnapshot(snap)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_state (key, project_name, project_path, phase, description, revision, last_activity, doc, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			project_name = excluded.project_name,
			project_path = excluded.project_path,
			phase = excluded.phase,
			description = excluded.description,
			revision = excluded.revision,
			last_activity = excluded.last_activity,
			doc = excluded.doc,
			updated_at = excluded.updated_at`,
		info.Key, info.ProjectName, info.ProjectPath, info.Phase, info.Description,
		int64(snap.Revision), info.LastActivity.UTC().Format(time.RFC3339Nano),
		string(doc), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("saving state for %s: %w", snap.Key, err)
	}
	return nil
}

// List returns every project, most recently active first.
func (s *SQLiteStore) List(ctx context.Context) ([]ProjectInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, project_name, project_path, phase, COALESCE(description, ''), last_activity
		FROM project_state ORDER BY last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []ProjectInfo
	for rows.Next() {
		var info ProjectInfo
		var last string
		if err := rows.Scan(&info.Key, &info.ProjectName, &info.ProjectPath, &info.Phase, &info.Description, &last); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		info.LastActivity, _ = time.Parse(time.RFC3339Nano, last)
		out = append(out, info)
	}
	return out, rows.Err()
}

// AppendHistory inserts an entry and drops entries beyond the limit.
func (s *SQLiteStore) AppendHistory(ctx context.Context, key string, entry HistoryEntry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning history append: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (id, key, at, kind, entry) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, key, entry.At.UTC().Format(time.RFC3339Nano), string(entry.Kind), string(data),
	); err != nil {
		return fmt.Errorf("appending history for %s: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history WHERE key = ? AND seq NOT IN (
			SELECT seq FROM history WHERE key = ? ORDER BY seq DESC LIMIT ?
		)`, key, key, s.historyLimit); err != nil {
		return fmt.Errorf("trimming history for %s: %w", key, err)
	}
	return tx.Commit()
}

// History returns the newest limit entries, oldest first.
func (s *SQLiteStore) History(ctx context.Context, key string, limit int) ([]HistoryEntry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM history WHERE key = ? ORDER BY seq DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("reading history for %s: %w", key, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		var e HistoryEntry
		if err := json.NewDecoder(strings.NewReader(raw)).Decode(&e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
