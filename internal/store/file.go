package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

const (
	stateFileName   = "state.json"
	historyFileName = "history.jsonl"
	projectsDirName = "projects"
)

// FileStore keeps one directory per project below root.
//
//	<root>/projects/<key>/state.json
//	<root>/projects/<key>/history.jsonl
type FileStore struct {
	root         string
	historyLimit int

	// historyMu serialises history appends and trims.
	historyMu sync.Mutex
}

// NewFileStore creates the directory layout under root.
func NewFileStore(root string, historyLimit int) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("file store: root directory required")
	}
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if err := os.MkdirAll(filepath.Join(root, projectsDirName), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &FileStore{root: root, historyLimit: historyLimit}, nil
}

func (s *FileStore) projectDir(key string) string {
	return filepath.Join(s.root, projectsDirName, key)
}

// Load reads <key>/state.json.
func (s *FileStore) Load(_ context.Context, key string) (taskstate.Snapshot, error) {
	var snap taskstate.Snapshot
	if err := ValidateKey(key); err != nil {
		return snap, err
	}
	data, err := os.ReadFile(filepath.Join(s.projectDir(key), stateFileName))
	if errors.Is(err, os.ErrNotExist) {
		return snap, ErrNotFound
	}
	if err != nil {
		return snap, fmt.Errorf("reading state for %s: %w", key, err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
	}
	if snap.Key != key {
		return snap, fmt.Errorf("%w: %s: document belongs to %q", ErrCorrupt, key, snap.Key)
	}
	return snap, nil
}

// Save atomically replaces <key>/state.json.
func (s *FileStore) Save(_ context.Context, snap taskstate.Snapshot) error {
	if err := ValidateKey(snap.Key); err != nil {
		return err
	}
	dir := s.projectDir(snap.Key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state for %s: %w", snap.Key, err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, stateFileName), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing state for %s: %w", snap.Key, err)
	}
	return nil
}

// List reads every project document. Unreadable documents are skipped.
func (s *FileStore) List(ctx context.Context) ([]ProjectInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, projectsDirName))
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	var out []ProjectInfo
	for _, e := range entries {
		if !e.IsDir() || ValidateKey(e.Name()) != nil {
			continue
		}
		snap, err := s.Load(ctx, e.Name())
		if err != nil {
			continue
		}
		out = append(out, InfoFromSnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// AppendHistory appends one JSON line and trims the file once it grows
// past the history limit.
func (s *FileStore) AppendHistory(_ context.Context, key string, entry HistoryEntry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding history entry: %w", err)
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	dir := s.projectDir(key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}
	path := filepath.Join(dir, historyFileName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening history for %s: %w", key, err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("appending history for %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing history for %s: %w", key, err)
	}
	return s.trimHistory(path)
}

func (s *FileStore) trimHistory(path string) error {
	lines, err := readLines(path)
	if err != nil {
		return err
	}
	if len(lines) <= s.historyLimit {
		return nil
	}
	lines = lines[len(lines)-s.historyLimit:]
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l)
		buf.WriteByte('\n')
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("trimming history: %w", err)
	}
	return nil
}

// History returns the newest limit entries, oldest first. Malformed lines
// are skipped.
func (s *FileStore) History(_ context.Context, key string, limit int) ([]HistoryEntry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	s.historyMu.Lock()
	lines, err := readLines(filepath.Join(s.projectDir(key), historyFileName))
	s.historyMu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []HistoryEntry
	for _, l := range lines {
		var e HistoryEntry
		if json.Unmarshal(l, &e) == nil {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return lines, nil
}
