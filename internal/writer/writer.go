// Package writer coalesces project state mutations into debounced saves.
//
// Every mutation re-arms a per-project timer; when the timer fires without
// being re-armed the latest snapshot is written once. Flush forces an
// immediate synchronous write (used on cache eviction and shutdown). Saves
// of the same project never overlap: a second flush queues behind the
// first. A save that still fails after the retry is remembered as a
// *PersistenceError and handed to the next caller of TakeError; the
// in-memory state stays dirty and pending.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/keylock"
	"github.com/fyrsmithlabs/chainguard/internal/logging"
	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

const (
	// DefaultWindow is the debounce window.
	DefaultWindow = 500 * time.Millisecond
	// DefaultSaveTimeout bounds one save attempt.
	DefaultSaveTimeout = 10 * time.Second
)

// Source is a persistable project state.
type Source interface {
	Key() string
	Dirty() bool
	View() taskstate.Snapshot
	MarkClean(revision uint64) bool
}

// PersistenceError reports a save that failed after all retries.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting project %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Options configure a Writer.
type Options struct {
	Window      time.Duration
	Retries     int
	SaveTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *Metrics
	Now         func() time.Time
}

type entry struct {
	src   Source
	timer *time.Timer
	gen   uint64
}

// Writer is the debounced persistence writer.
type Writer struct {
	store store.Store
	opts  Options
	locks *keylock.Locker

	mu       sync.Mutex
	entries  map[string]*entry
	errs     map[string]error
	closed   bool
	inFlight sync.WaitGroup
}

// New creates a writer saving to st.
func New(st store.Store, opts Options) *Writer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = DefaultSaveTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Writer{
		store:   st,
		opts:    opts,
		locks:   keylock.New(),
		entries: make(map[string]*entry),
		errs:    make(map[string]error),
	}
}

// Schedule (re)starts the debounce timer for src's project.
func (w *Writer) Schedule(src Source) {
	key := src.Key()

	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entries[key]
	if !ok {
		e = &entry{}
		w.entries[key] = e
		w.opts.Metrics.Pending.Set(float64(len(w.entries)))
	}
	e.src = src
	e.gen++
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if w.closed {
		// Picked up by the final FlushAll.
		return
	}
	gen := e.gen
	e.timer = time.AfterFunc(w.opts.Window, func() { w.fire(key, gen) })
	w.opts.Logger.Log(logging.TraceLevel, "flush scheduled",
		zap.String("project.key", key),
		zap.Uint64("generation", gen),
		zap.Duration("window", w.opts.Window))
}

func (w *Writer) fire(key string, gen uint64) {
	w.mu.Lock()
	e, ok := w.entries[key]
	if w.closed || !ok || e.gen != gen {
		w.mu.Unlock()
		w.opts.Logger.Log(logging.TraceLevel, "debounce timer superseded", zap.String("project.key", key))
		return
	}
	w.inFlight.Add(1)
	w.mu.Unlock()
	defer w.inFlight.Done()

	_ = w.Flush(context.Background(), key)
}

// Pending returns the state waiting to be flushed for key, if any. A
// reload of an evicted project adopts this instance instead of reading a
// stale document.
func (w *Writer) Pending(key string) (Source, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.entries[key]
	if !ok {
		return nil, false
	}
	return e.src, true
}

// TakeError returns and clears the last persistence failure for key.
func (w *Writer) TakeError(key string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.errs[key]
	delete(w.errs, key)
	return err
}

// Flush synchronously writes key's pending state, if any.
func (w *Writer) Flush(ctx context.Context, key string) error {
	unlock, err := w.locks.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()

	w.mu.Lock()
	e, ok := w.entries[key]
	if !ok {
		w.mu.Unlock()
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	src, gen := e.src, e.gen
	w.mu.Unlock()

	if !src.Dirty() {
		w.opts.Metrics.Flushes.WithLabelValues("clean").Inc()
		w.drop(key, gen)
		return nil
	}

	snap := src.View()
	snap.SavedAt = w.opts.Now()
	if err := w.save(ctx, snap); err != nil {
		perr := &PersistenceError{Key: key, Err: err}
		w.mu.Lock()
		w.errs[key] = perr
		w.mu.Unlock()
		w.opts.Logger.Error("state flush failed; keeping in-memory state",
			zap.String("project.key", key),
			zap.Uint64("revision", snap.Revision),
			zap.Error(err))
		return perr
	}

	if src.MarkClean(snap.Revision) {
		w.drop(key, gen)
	}
	w.opts.Logger.Debug("state flushed",
		zap.String("project.key", key),
		zap.Uint64("revision", snap.Revision))
	return nil
}

func (w *Writer) save(ctx context.Context, snap taskstate.Snapshot) error {
	var err error
	for attempt := 0; attempt <= w.opts.Retries; attempt++ {
		start := time.Now()
		saveCtx, cancel := context.WithTimeout(ctx, w.opts.SaveTimeout)
		err = w.store.Save(saveCtx, snap)
		cancel()
		w.opts.Metrics.FlushDuration.Observe(time.Since(start).Seconds())
		if err == nil {
			if attempt > 0 {
				w.opts.Metrics.Flushes.WithLabelValues("retried").Inc()
			} else {
				w.opts.Metrics.Flushes.WithLabelValues("ok").Inc()
			}
			return nil
		}
		if ctx.Err() != nil {
			break
		}
		w.opts.Logger.Warn("state save failed",
			zap.String("project.key", snap.Key),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	w.opts.Metrics.Flushes.WithLabelValues("failed").Inc()
	return err
}

// drop forgets the entry unless it was re-scheduled since gen.
func (w *Writer) drop(key string, gen uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e, ok := w.entries[key]; ok && e.gen == gen {
		delete(w.entries, key)
		w.opts.Metrics.Pending.Set(float64(len(w.entries)))
	}
}

// PendingKeys returns the keys with a pending flush, sorted.
func (w *Writer) PendingKeys() []string {
	w.mu.Lock()
	keys := make([]string, 0, len(w.entries))
	for k := range w.entries {
		keys = append(keys, k)
	}
	w.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// FlushAll flushes every pending project and joins the failures.
func (w *Writer) FlushAll(ctx context.Context) error {
	var errs []error
	for _, key := range w.PendingKeys() {
		if err := w.Flush(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops all timers, waits for in-flight timer flushes and flushes
// whatever is still pending. Later Schedule calls no longer arm timers.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	for _, e := range w.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
	}
	w.mu.Unlock()

	w.inFlight.Wait()
	return w.FlushAll(ctx)
}
