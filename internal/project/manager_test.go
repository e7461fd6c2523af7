package project

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
	"github.com/fyrsmithlabs/chainguard/internal/writer"
)

// flakyStore fails saves while failing is set.
type flakyStore struct {
	store.Store
	failing atomic.Bool
	saves   atomic.Int32
}

func (s *flakyStore) Save(ctx context.Context, snap taskstate.Snapshot) error {
	s.saves.Add(1)
	if s.failing.Load() {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, snap)
}

type fixture struct {
	store   *flakyStore
	writer  *writer.Writer
	manager *Manager
}

func newFixture(t *testing.T, maxProjects int) *fixture {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir(), 10)
	require.NoError(t, err)
	st := &flakyStore{Store: fs}

	// A long window keeps timers out of the way; tests flush explicitly.
	w := writer.New(st, writer.Options{Window: time.Hour})
	t.Cleanup(func() {
		st.failing.Store(false)
		_ = w.Close(context.Background())
	})

	m := NewManager(NewResolver(time.Minute, 16), st, w, ManagerOptions{MaxProjects: maxProjects})
	return &fixture{store: st, writer: w, manager: m}
}

func (f *fixture) acquire(t *testing.T, dir string) *Project {
	t.Helper()
	p, release, err := f.manager.Acquire(context.Background(), dir)
	require.NoError(t, err)
	release()
	return p
}

func setScope(t *testing.T, p *Project, desc string) {
	t.Helper()
	require.NoError(t, p.State.SetScope(taskstate.ScopeInput{Description: desc}))
}

func TestAcquire_NewProject(t *testing.T) {
	f := newFixture(t, 4)
	dir := t.TempDir()

	p := f.acquire(t, dir)

	assert.Equal(t, hashKey(dir), p.Key)
	assert.Equal(t, p.Key, p.State.Key())
	assert.False(t, p.State.HasScope())
	assert.Equal(t, []string{p.Key}, f.manager.Resident())
}

func TestAcquire_ReturnsResidentInstance(t *testing.T) {
	f := newFixture(t, 4)
	dir := t.TempDir()

	a := f.acquire(t, dir)
	b := f.acquire(t, dir)
	assert.Same(t, a.State, b.State)
}

func TestAcquire_MutationSchedulesWrite(t *testing.T) {
	f := newFixture(t, 4)
	p := f.acquire(t, t.TempDir())

	setScope(t, p, "add login")

	assert.Equal(t, []string{p.Key}, f.writer.PendingKeys())
	require.NoError(t, f.writer.Flush(context.Background(), p.Key))
	assert.False(t, p.State.Dirty())
}

func TestAcquire_EvictionFlushesDirtyVictim(t *testing.T) {
	f := newFixture(t, 1)
	first := f.acquire(t, t.TempDir())
	setScope(t, first, "first task")

	second := f.acquire(t, t.TempDir())

	assert.Equal(t, []string{second.Key}, f.manager.Resident())
	assert.Empty(t, f.writer.PendingKeys(), "victim flushed before Acquire returned")

	snap, err := f.store.Load(context.Background(), first.Key)
	require.NoError(t, err)
	require.NotNil(t, snap.Scope)
	assert.Equal(t, "first task", snap.Scope.Description)
}

func TestAcquire_ReloadsEvictedProjectFromStore(t *testing.T) {
	f := newFixture(t, 1)
	dirA, dirB := t.TempDir(), t.TempDir()

	a := f.acquire(t, dirA)
	setScope(t, a, "task a")
	_ = f.acquire(t, dirB)

	again := f.acquire(t, dirA)
	assert.NotSame(t, a.State, again.State)
	assert.True(t, again.State.HasScope())
	assert.Equal(t, "task a", again.State.View().Scope.Description)
	assert.False(t, again.State.Dirty())
}

func TestAcquire_FailedEvictionFlushKeepsStateReachable(t *testing.T) {
	f := newFixture(t, 1)
	dirA, dirB := t.TempDir(), t.TempDir()

	a := f.acquire(t, dirA)
	setScope(t, a, "unsaved work")

	f.store.failing.Store(true)
	_ = f.acquire(t, dirB)
	f.store.failing.Store(false)

	var perr *writer.PersistenceError
	require.ErrorAs(t, f.writer.TakeError(a.Key), &perr)

	again := f.acquire(t, dirA)
	assert.Same(t, a.State, again.State, "pending instance adopted instead of a stale load")
	assert.Equal(t, "unsaved work", again.State.View().Scope.Description)
}

func TestAcquire_CorruptDocument(t *testing.T) {
	f := newFixture(t, 4)
	dir := t.TempDir()
	key := hashKey(dir)

	bad := &corruptStore{Store: f.store}
	m := NewManager(NewResolver(time.Minute, 4), bad, f.writer, ManagerOptions{})

	_, _, err := m.Acquire(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrCorrupt)
	assert.Contains(t, err.Error(), key)
}

type corruptStore struct{ store.Store }

func (corruptStore) Load(context.Context, string) (taskstate.Snapshot, error) {
	return taskstate.Snapshot{}, store.ErrCorrupt
}

func TestAcquire_SerializesSameProject(t *testing.T) {
	f := newFixture(t, 4)
	dir := t.TempDir()

	_, release, err := f.manager.Acquire(context.Background(), dir)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		_, rel, err := f.manager.Acquire(context.Background(), dir)
		if assert.NoError(t, err) {
			rel()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Acquire did not wait for release")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	<-acquired
}

func TestAcquire_DifferentProjectsInParallel(t *testing.T) {
	f := newFixture(t, 4)

	_, releaseA, err := f.manager.Acquire(context.Background(), t.TempDir())
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, releaseB, err := f.manager.Acquire(ctx, t.TempDir())
	require.NoError(t, err)
	releaseB()
}

func TestAcquire_ContextCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t, 4)
	dir := t.TempDir()

	_, release, err := f.manager.Acquire(context.Background(), dir)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err = f.manager.Acquire(ctx, dir)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquire_ConcurrentMutationsAcrossEviction(t *testing.T) {
	f := newFixture(t, 2)
	dirs := []string{t.TempDir(), t.TempDir(), t.TempDir(), t.TempDir()}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, release, err := f.manager.Acquire(context.Background(), dirs[i%len(dirs)])
			if !assert.NoError(t, err) {
				return
			}
			defer release()
			p.State.NoteAction("touch")
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, len(f.manager.Resident()), 2)
	require.NoError(t, f.writer.FlushAll(context.Background()))
	for _, dir := range dirs {
		_, err := f.store.Load(context.Background(), hashKey(dir))
		assert.NoError(t, err, "every project persisted")
	}
}

func TestProjects_MergesResidentAndStored(t *testing.T) {
	f := newFixture(t, 1)
	a := f.acquire(t, t.TempDir())
	setScope(t, a, "stored task")
	b := f.acquire(t, t.TempDir()) // evicts and stores a
	setScope(t, b, "resident task")

	infos, err := f.manager.Projects(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)

	byKey := map[string]store.ProjectInfo{}
	for _, info := range infos {
		byKey[info.Key] = info
	}
	assert.Equal(t, "stored task", byKey[a.Key].Description)
	assert.Equal(t, "resident task", byKey[b.Key].Description)
}
