package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	fs, err := Open(ctx, Config{Driver: "file", Path: t.TempDir(), HistoryLimit: 3})
	require.NoError(t, err)

	db, err := Open(ctx, Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "chainguard.db"), HistoryLimit: 3})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return map[string]Store{"file": fs, "sqlite": db}
}

func sampleSnapshot(key string, last time.Time) taskstate.Snapshot {
	yes := true
	return taskstate.Snapshot{
		Key:         key,
		ProjectPath: "/work/" + key,
		ProjectName: key,
		Phase:       taskstate.PhaseImplementation,
		Scope: &taskstate.Scope{
			Description: "task for " + key,
			Mode:        taskstate.ModeProgramming,
			Modules:     []string{"src/**"},
			Criteria:    []taskstate.Criterion{{Text: "works", Fulfilled: &yes}},
		},
		Changes:      []taskstate.ChangeEvent{{Path: "src/a.go", Action: taskstate.ActionEdit, At: last}},
		FilesChanged: 1,
		LastActivity: last,
		Revision:     7,
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "postgres"})
	assert.Error(t, err)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
			snap := sampleSnapshot("proj1", now)

			require.NoError(t, s.Save(ctx, snap))
			got, err := s.Load(ctx, "proj1")
			require.NoError(t, err)

			assert.Equal(t, snap.Key, got.Key)
			assert.Equal(t, snap.Revision, got.Revision)
			assert.Equal(t, snap.Scope.Modules, got.Scope.Modules)
			require.NotNil(t, got.Scope.Criteria[0].Fulfilled)
			assert.True(t, *got.Scope.Criteria[0].Fulfilled)
			assert.True(t, snap.LastActivity.Equal(got.LastActivity))

			snap.Revision = 8
			snap.Phase = taskstate.PhaseDone
			require.NoError(t, s.Save(ctx, snap))
			got, err = s.Load(ctx, "proj1")
			require.NoError(t, err)
			assert.Equal(t, uint64(8), got.Revision)
			assert.Equal(t, taskstate.PhaseDone, got.Phase)
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(context.Background(), "nothere")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.Load(ctx, "../etc")
			assert.ErrorIs(t, err, ErrInvalidKey)
			err = s.Save(ctx, taskstate.Snapshot{Key: "a/b"})
			assert.ErrorIs(t, err, ErrInvalidKey)
			err = s.AppendHistory(ctx, "", HistoryEntry{})
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
			require.NoError(t, s.Save(ctx, sampleSnapshot("old", base)))
			require.NoError(t, s.Save(ctx, sampleSnapshot("new", base.Add(time.Hour))))

			list, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "new", list[0].Key)
			assert.Equal(t, "task for new", list[0].Description)
			assert.Equal(t, "implementation", list[0].Phase)
		})
	}
}

func TestStore_HistoryIsBoundedAndOrdered(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
			for i := 0; i < 5; i++ {
				require.NoError(t, s.AppendHistory(ctx, "proj1", HistoryEntry{
					ID:      fmt.Sprintf("h%d", i),
					At:      base.Add(time.Duration(i) * time.Minute),
					Kind:    HistoryFinish,
					Summary: fmt.Sprintf("task %d", i),
				}))
			}

			all, err := s.History(ctx, "proj1", 0)
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, "h2", all[0].ID)
			assert.Equal(t, "h4", all[2].ID)

			last, err := s.History(ctx, "proj1", 1)
			require.NoError(t, err)
			require.Len(t, last, 1)
			assert.Equal(t, "h4", last[0].ID)

			none, err := s.History(ctx, "other", 10)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestFileStore_CorruptDocument(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root, 0)
	require.NoError(t, err)

	dir := filepath.Join(root, "projects", "broken")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{not json"), 0o600))

	_, err = s.Load(context.Background(), "broken")
	assert.ErrorIs(t, err, ErrCorrupt)

	list, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileStore_KeyMismatchIsCorrupt(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root, 0)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), sampleSnapshot("one", time.Now())))

	require.NoError(t, os.Rename(filepath.Join(root, "projects", "one"), filepath.Join(root, "projects", "two")))

	_, err = s.Load(context.Background(), "two")
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLiteStore_CorruptDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database at all, just text padding padding"), 0o600))

	_, err := NewSQLiteStore(context.Background(), path, 0)
	assert.Error(t, err)
}
