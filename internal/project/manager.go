package project

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/cache"
	"github.com/fyrsmithlabs/chainguard/internal/keylock"
	"github.com/fyrsmithlabs/chainguard/internal/logging"
	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
	"github.com/fyrsmithlabs/chainguard/internal/writer"
)

// DefaultMaxProjects bounds the number of resident project states.
const DefaultMaxProjects = 20

// Project is an acquired project: its identity and live state.
type Project struct {
	Identity
	State *taskstate.ProjectState
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	MaxProjects  int
	StateOptions taskstate.Options
	Observer     cache.Observer
	Logger       *logging.Logger
}

// Manager owns the resident project states.
type Manager struct {
	resolver  *Resolver
	store     store.Store
	writer    *writer.Writer
	locks     *keylock.Locker
	states    *cache.LRU[string, *taskstate.ProjectState]
	stateOpts taskstate.Options
	logger    *logging.Logger
}

// NewManager creates a manager.
func NewManager(resolver *Resolver, st store.Store, w *writer.Writer, opts ManagerOptions) *Manager {
	if opts.MaxProjects < 1 {
		opts.MaxProjects = DefaultMaxProjects
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	states := cache.New[string, *taskstate.ProjectState](opts.MaxProjects)
	if opts.Observer != nil {
		states.SetObserver(opts.Observer)
	}
	return &Manager{
		resolver:  resolver,
		store:     st,
		writer:    w,
		locks:     keylock.New(),
		states:    states,
		stateOpts: opts.StateOptions,
		logger:    opts.Logger,
	}
}

// Acquire resolves workingDir and returns its project with the project
// lock held. The caller must call release exactly once when done.
func (m *Manager) Acquire(ctx context.Context, workingDir string) (*Project, func(), error) {
	id, err := m.resolver.Resolve(ctx, workingDir)
	if err != nil {
		return nil, nil, err
	}

	release, err := m.locks.Lock(ctx, id.Key)
	if err != nil {
		return nil, nil, err
	}

	st, err := m.load(ctx, id)
	if err != nil {
		release()
		return nil, nil, err
	}
	return &Project{Identity: id, State: st}, release, nil
}

// load returns the resident state for id, adopting a pending instance or
// reading the store on a miss. Caller holds id's lock.
func (m *Manager) load(ctx context.Context, id Identity) (*taskstate.ProjectState, error) {
	if st, ok := m.states.Get(id.Key); ok {
		return st, nil
	}

	var st *taskstate.ProjectState
	if src, ok := m.writer.Pending(id.Key); ok {
		if pending, ok := src.(*taskstate.ProjectState); ok {
			st = pending
			m.logger.Debug(ctx, "adopted pending project state", zap.String("project.key", id.Key))
		}
	}

	if st == nil {
		snap, err := m.store.Load(ctx, id.Key)
		switch {
		case errors.Is(err, store.ErrNotFound):
			st = taskstate.New(id.Key, id.Root, m.stateOpts)
		case err != nil:
			return nil, fmt.Errorf("loading project %s: %w", id.Key, err)
		default:
			st = taskstate.FromSnapshot(snap, m.stateOpts)
		}
	}
	st.SetNotify(func(s *taskstate.ProjectState) { m.writer.Schedule(s) })

	if evKey, evicted, ok := m.states.Set(id.Key, st); ok {
		m.evict(ctx, evKey, evicted)
	}
	return st, nil
}

// evict persists a state pushed out of the LRU. A failed flush leaves the
// state pending in the writer, where the next Acquire finds it.
func (m *Manager) evict(ctx context.Context, key string, st *taskstate.ProjectState) {
	if !st.Dirty() {
		return
	}
	if err := m.writer.Flush(ctx, key); err != nil {
		m.logger.Warn(ctx, "flush of evicted project failed; state kept pending",
			zap.String("evicted.key", key), zap.Error(err))
		return
	}
	m.logger.Debug(ctx, "evicted project flushed", zap.String("evicted.key", key))
}

// Resident returns the keys of the resident states, least recently used first.
func (m *Manager) Resident() []string {
	return m.states.Keys()
}

// Projects lists every known project, most recently active first. Resident
// states override their stored listing.
func (m *Manager) Projects(ctx context.Context) ([]store.ProjectInfo, error) {
	stored, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]store.ProjectInfo, len(stored))
	for _, info := range stored {
		byKey[info.Key] = info
	}
	for _, key := range m.states.Keys() {
		if st, ok := m.states.Peek(key); ok {
			byKey[key] = store.InfoFromSnapshot(st.View())
		}
	}

	out := make([]store.ProjectInfo, 0, len(byKey))
	for _, info := range byKey {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].Key < out[j].Key
		}
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

// TakePersistenceError returns and clears the last background flush error
// recorded for key.
func (m *Manager) TakePersistenceError(key string) error {
	return m.writer.TakeError(key)
}
