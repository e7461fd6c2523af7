// Package store persists project state documents and the per-project
// history log.
//
// Two drivers exist: "file" keeps one JSON document and one JSON-lines
// history file per project under a root directory, "sqlite" keeps both in
// a single database. Both are safe for concurrent use.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

var (
	// ErrNotFound is returned by Load when no document exists for the key.
	ErrNotFound = errors.New("project state not found")

	// ErrCorrupt is returned when a stored document cannot be decoded.
	ErrCorrupt = errors.New("project state corrupt")

	// ErrInvalidKey is returned for keys that are not safe identifiers.
	ErrInvalidKey = errors.New("invalid project key")
)

// DefaultHistoryLimit is the number of history entries kept per project.
const DefaultHistoryLimit = 500

// HistoryKind classifies history entries.
type HistoryKind string

const (
	HistoryScope  HistoryKind = "scope"
	HistoryFinish HistoryKind = "finish"
)

// HistoryEntry is one record of the durable per-project log.
type HistoryEntry struct {
	ID            string      `json:"id"`
	At            time.Time   `json:"at"`
	Kind          HistoryKind `json:"kind"`
	Summary       string      `json:"summary"`
	Mode          string      `json:"mode,omitempty"`
	Phase         string      `json:"phase,omitempty"`
	Forced        bool        `json:"forced,omitempty"`
	CriteriaDone  int         `json:"criteria_done,omitempty"`
	CriteriaTotal int         `json:"criteria_total,omitempty"`
	Files         []string    `json:"files,omitempty"`
}

// ProjectInfo is the listing form of a stored project.
type ProjectInfo struct {
	Key          string    `json:"key"`
	ProjectName  string    `json:"project_name"`
	ProjectPath  string    `json:"project_path"`
	Phase        string    `json:"phase"`
	Description  string    `json:"description,omitempty"`
	LastActivity time.Time `json:"last_activity"`
}

// Store is the durable backend behind the persistence writer.
type Store interface {
	// Load returns the stored document for key, ErrNotFound or ErrCorrupt.
	Load(ctx context.Context, key string) (taskstate.Snapshot, error)
	// Save replaces the stored document for snap.Key.
	Save(ctx context.Context, snap taskstate.Snapshot) error
	// List returns every stored project, most recently active first.
	List(ctx context.Context) ([]ProjectInfo, error)
	// AppendHistory adds an entry to the project's history log.
	AppendHistory(ctx context.Context, key string, entry HistoryEntry) error
	// History returns up to limit of the most recent entries, oldest first.
	History(ctx context.Context, key string, limit int) ([]HistoryEntry, error)
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver       string
	Path         string
	HistoryLimit int
}

// Open creates the configured store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	switch cfg.Driver {
	case "", "file":
		return NewFileStore(cfg.Path, cfg.HistoryLimit)
	case "sqlite":
		return NewSQLiteStore(ctx, cfg.Path, cfg.HistoryLimit)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// ValidateKey rejects keys that could escape the storage root.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// InfoFromSnapshot derives the listing form of a document.
func InfoFromSnapshot(snap taskstate.Snapshot) ProjectInfo {
	info := ProjectInfo{
		Key:          snap.Key,
		ProjectName:  snap.ProjectName,
		ProjectPath:  snap.ProjectPath,
		Phase:        string(snap.Phase),
		LastActivity: snap.LastActivity,
	}
	if snap.Scope != nil {
		info.Description = snap.Scope.Description
	}
	return info
}
