// Package taskstate holds the per-project task state and the mutators that
// enforce its invariants: scope replacement with a full per-task reset,
// bounded change history, phase transitions and the alert bookkeeping the
// finish protocol relies on.
//
// Every successful mutation increments the revision, marks the state dirty
// and fires the notify hook once the internal lock has been released.
// Callers are expected to serialise mutations per project; the internal
// mutex only protects readers such as the persistence writer.
package taskstate

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"
)

const (
	// DefaultMaxChanges bounds the change log.
	DefaultMaxChanges = 50
	// DefaultMaxRecentActions bounds the recent action list.
	DefaultMaxRecentActions = 5
)

// Options tune a ProjectState.
type Options struct {
	MaxChanges       int
	MaxRecentActions int
	Policy           AlertPolicy
	Now              func() time.Time
	NewID            func() string
}

func (o Options) withDefaults() Options {
	if o.MaxChanges <= 0 {
		o.MaxChanges = DefaultMaxChanges
	}
	if o.MaxRecentActions <= 0 {
		o.MaxRecentActions = DefaultMaxRecentActions
	}
	if o.Policy == nil {
		o.Policy = DefaultAlertPolicy()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	return o
}

// ProjectState is the live task state of one project.
type ProjectState struct {
	mu     sync.Mutex
	data   Snapshot
	dirty  bool
	opts   Options
	notify func(*ProjectState)
}

// New creates an empty state in the planning phase.
func New(key, projectPath string, opts Options) *ProjectState {
	opts = opts.withDefaults()
	name := filepath.Base(projectPath)
	if projectPath == "" {
		name = key
	}
	return &ProjectState{
		opts: opts,
		data: Snapshot{
			Key:          key,
			ProjectPath:  projectPath,
			ProjectName:  name,
			Phase:        PhasePlanning,
			LastActivity: opts.Now(),
		},
	}
}

// FromSnapshot rebuilds a clean state from its durable document.
func FromSnapshot(snap Snapshot, opts Options) *ProjectState {
	opts = opts.withDefaults()
	data := snap.clone()
	if !data.Phase.Valid() {
		data.Phase = PhasePlanning
	}
	if len(data.Changes) > opts.MaxChanges {
		data.Changes = data.Changes[len(data.Changes)-opts.MaxChanges:]
	}
	return &ProjectState{opts: opts, data: data}
}

// SetNotify installs the hook fired after every mutation.
func (s *ProjectState) SetNotify(fn func(*ProjectState)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

// Key returns the project key.
func (s *ProjectState) Key() string {
	return s.data.Key
}

// View returns a deep copy of the current state.
func (s *ProjectState) View() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.clone()
}

// Revision returns the mutation counter.
func (s *ProjectState) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Revision
}

// Dirty reports whether there are mutations not yet persisted.
func (s *ProjectState) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// HasScope reports whether a scope is declared.
func (s *ProjectState) HasScope() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Scope != nil
}

// MarkClean clears the dirty flag if no mutation happened after revision
// was captured. It reports whether the state is now clean.
func (s *ProjectState) MarkClean(revision uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Revision == revision {
		s.dirty = false
	}
	return !s.dirty
}

// errUnchanged lets a mutate callback report that it changed nothing.
var errUnchanged = errors.New("unchanged")

// mutate runs fn under the lock, bumps the revision and notifies. fn
// returning an error, including errUnchanged, leaves the state untouched.
func (s *ProjectState) mutate(fn func(now time.Time) error) error {
	s.mu.Lock()
	now := s.opts.Now()
	if err := fn(now); err != nil {
		s.mu.Unlock()
		return err
	}
	s.data.Revision++
	s.data.LastActivity = now
	s.dirty = true
	notify := s.notify
	s.mu.Unlock()

	if notify != nil {
		notify(s)
	}
	return nil
}

func (s *ProjectState) newAlert(now time.Time, msg string, src Source, sev Severity) Alert {
	if sev == "" {
		sev = s.opts.Policy.SeverityFor(src)
	}
	a := Alert{
		ID:        s.opts.NewID(),
		Message:   msg,
		Severity:  sev,
		Source:    src,
		CreatedAt: now,
	}
	s.data.Alerts = append(s.data.Alerts, a)
	return a
}

func (s *ProjectState) pushRecent(action string) {
	s.data.RecentActions = append(s.data.RecentActions, action)
	if n := len(s.data.RecentActions); n > s.opts.MaxRecentActions {
		s.data.RecentActions = s.data.RecentActions[n-s.opts.MaxRecentActions:]
	}
}

// ScopeInput is the caller-supplied scope definition.
type ScopeInput struct {
	Description string
	WorkingDir  string
	Mode        Mode
	Modules     []string
	Criteria    []string
	Checklist   []ChecklistItem
}

// SetScope replaces the scope and resets every per-task field. The phase
// returns to planning.
func (s *ProjectState) SetScope(in ScopeInput) error {
	desc := strings.TrimSpace(in.Description)
	if desc == "" {
		return fmt.Errorf("%w: description must not be empty", ErrInvalidScope)
	}
	mode := in.Mode
	if mode == "" {
		mode = ModeProgramming
	}
	if !mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidScope, mode)
	}

	modules, err := normalizeModules(in.Modules)
	if err != nil {
		return err
	}
	criteria := dedupe(in.Criteria)

	var checklist []ChecklistItem
	for _, c := range in.Checklist {
		name, cmd := strings.TrimSpace(c.Name), strings.TrimSpace(c.Command)
		if cmd == "" {
			return fmt.Errorf("%w: checklist item %q has no command", ErrInvalidScope, c.Name)
		}
		if name == "" {
			name = cmd
		}
		checklist = append(checklist, ChecklistItem{Name: name, Command: cmd})
	}

	return s.mutate(func(now time.Time) error {
		sc := &Scope{
			Description: desc,
			WorkingDir:  in.WorkingDir,
			Mode:        mode,
			Modules:     modules,
			Checklist:   checklist,
			CreatedAt:   now,
		}
		for _, c := range criteria {
			sc.Criteria = append(sc.Criteria, Criterion{Text: c})
		}

		s.data.Scope = sc
		s.data.Phase = PhasePlanning
		s.data.CurrentTask = ""
		s.data.Changes = nil
		s.data.Alerts = nil
		s.data.SymbolWarnings = nil
		s.data.Checklist = nil
		s.data.FilesChanged = 0
		s.data.FilesSinceValidation = 0
		s.data.ValidationsPassed = 0
		s.data.ValidationsFailed = 0
		s.data.RecentActions = nil
		s.data.ImpactPreviewShown = false
		s.pushRecent("scope set")
		return nil
	})
}

func normalizeModules(in []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, m := range in {
		m = strings.TrimSpace(filepath.ToSlash(m))
		m = strings.TrimPrefix(m, "./")
		if m == "" || seen[m] {
			continue
		}
		if !doublestar.ValidatePattern(m) {
			return nil, fmt.Errorf("%w: malformed module pattern %q", ErrInvalidScope, m)
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

func dedupe(in []string) []string {
	var out []string
	seen := make(map[string]bool, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// CheckFileInScope reports whether the project-relative path matches any
// module glob. With no scope or no modules every path is in scope.
func (s *ProjectState) CheckFileInScope(p string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inScopeLocked(p)
}

func (s *ProjectState) inScopeLocked(p string) bool {
	if s.data.Scope == nil || len(s.data.Scope.Modules) == 0 {
		return true
	}
	p = strings.TrimPrefix(filepath.ToSlash(p), "./")
	for _, pattern := range s.data.Scope.Modules {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
		// A bare directory module covers everything below it.
		if !strings.ContainsAny(pattern, "*?[{") && strings.HasPrefix(p, strings.TrimSuffix(pattern, "/")+"/") {
			return true
		}
	}
	return false
}

// NormalizePath turns p into a slash-separated path relative to root.
// Relative inputs are taken as relative to root. Paths escaping root are
// rejected.
func NormalizePath(root, p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathOutsideProject)
	}
	if filepath.IsAbs(p) {
		if root == "" {
			return filepath.ToSlash(filepath.Clean(p)), nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrPathOutsideProject, p)
		}
		p = rel
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == ".." || strings.HasPrefix(clean, "../") || clean == "." {
		return "", fmt.Errorf("%w: %s", ErrPathOutsideProject, p)
	}
	return clean, nil
}

// ChangeInput describes one tracked change.
type ChangeInput struct {
	Path       string
	Action     Action
	Validation string
}

// RecordChange appends to the change log and updates the counters. An
// out-of-scope path raises exactly one alert, which is returned.
func (s *ProjectState) RecordChange(in ChangeInput) (*Alert, error) {
	action := in.Action
	if action == "" {
		action = ActionEdit
	}
	if !action.Valid() {
		return nil, fmt.Errorf("unknown action %q", in.Action)
	}

	var raised *Alert
	err := s.mutate(func(now time.Time) error {
		s.data.Changes = append(s.data.Changes, ChangeEvent{
			Path:       in.Path,
			Action:     action,
			At:         now,
			Validation: in.Validation,
		})
		if n := len(s.data.Changes); n > s.opts.MaxChanges {
			s.data.Changes = s.data.Changes[n-s.opts.MaxChanges:]
		}
		s.data.FilesChanged++
		s.data.FilesSinceValidation++
		s.pushRecent(fmt.Sprintf("%s %s", action, path.Base(in.Path)))

		if !s.inScopeLocked(in.Path) {
			a := s.newAlert(now, fmt.Sprintf("out of scope: %s", in.Path), SourceScope, "")
			raised = &a
		}
		return nil
	})
	return raised, err
}

// SetPhase moves the task to p. Every transition is allowed; leaving done
// raises an advisory alert, which is returned.
func (s *ProjectState) SetPhase(p Phase, task string) (*Alert, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPhase, p)
	}
	var raised *Alert
	err := s.mutate(func(now time.Time) error {
		prev := s.data.Phase
		s.data.Phase = p
		if task != "" {
			s.data.CurrentTask = task
		}
		if prev == PhaseDone && p != PhaseDone {
			a := s.newAlert(now, fmt.Sprintf("phase moved back from done to %s", p), SourcePhase, "")
			raised = &a
		}
		s.pushRecent("phase " + string(p))
		return nil
	})
	return raised, err
}

// MarkCriterion records the outcome of the criterion whose text matches.
func (s *ProjectState) MarkCriterion(text string, fulfilled bool) error {
	text = strings.TrimSpace(text)
	return s.mutate(func(time.Time) error {
		if s.data.Scope == nil {
			return ErrNoScope
		}
		for i := range s.data.Scope.Criteria {
			if s.data.Scope.Criteria[i].Text == text {
				v := fulfilled
				s.data.Scope.Criteria[i].Fulfilled = &v
				return nil
			}
		}
		return fmt.Errorf("%w: %q", ErrUnknownCriterion, text)
	})
}

// AddAlert raises an alert. An empty severity takes the policy default for
// src.
func (s *ProjectState) AddAlert(msg string, src Source, sev Severity) (Alert, error) {
	if sev != "" && !sev.Valid() {
		return Alert{}, fmt.Errorf("unknown severity %q", sev)
	}
	var a Alert
	err := s.mutate(func(now time.Time) error {
		a = s.newAlert(now, msg, src, sev)
		return nil
	})
	return a, err
}

// AcknowledgeAlerts acknowledges every non-blocking alert, and blocking
// ones too when force is set. It returns how many alerts were acknowledged
// and how many blocking alerts remain unacknowledged.
// Nothing to acknowledge leaves the revision unchanged.
func (s *ProjectState) AcknowledgeAlerts(force bool) (acked, blockingLeft int) {
	_ = s.mutate(func(time.Time) error {
		var pending []int
		for i := range s.data.Alerts {
			a := &s.data.Alerts[i]
			if a.Acknowledged {
				continue
			}
			if a.Blocking() && !force {
				blockingLeft++
				continue
			}
			pending = append(pending, i)
		}
		if len(pending) == 0 {
			return errUnchanged
		}
		for _, i := range pending {
			s.data.Alerts[i].Acknowledged = true
		}
		acked = len(pending)
		return nil
	})
	return acked, blockingLeft
}

// AddSymbolWarnings appends scanner findings that have not been seen yet.
func (s *ProjectState) AddSymbolWarnings(ws []string) {
	if len(ws) == 0 {
		return
	}
	_ = s.mutate(func(time.Time) error {
		seen := make(map[string]bool, len(s.data.SymbolWarnings))
		for _, w := range s.data.SymbolWarnings {
			seen[w] = true
		}
		for _, w := range ws {
			if !seen[w] {
				seen[w] = true
				s.data.SymbolWarnings = append(s.data.SymbolWarnings, w)
			}
		}
		return nil
	})
}

// RecordValidation records a manual validation verdict and resets the
// files-since-validation counter. A failure raises an alert.
func (s *ProjectState) RecordValidation(passed bool, note string) *Alert {
	var raised *Alert
	_ = s.mutate(func(now time.Time) error {
		s.data.FilesSinceValidation = 0
		if passed {
			s.data.ValidationsPassed++
			s.pushRecent("validation passed")
			return nil
		}
		s.data.ValidationsFailed++
		msg := "validation failed"
		if note != "" {
			msg += ": " + note
		}
		a := s.newAlert(now, msg, SourceValidation, "")
		raised = &a
		s.pushRecent("validation failed")
		return nil
	})
	return raised
}

// RecordChecklist stores the latest checklist outcomes. Each failing item
// raises an alert; the raised alerts are returned.
func (s *ProjectState) RecordChecklist(outcomes []CheckOutcome) []Alert {
	var raised []Alert
	_ = s.mutate(func(now time.Time) error {
		s.data.Checklist = append([]CheckOutcome(nil), outcomes...)
		for _, o := range outcomes {
			if o.Passed {
				continue
			}
			msg := fmt.Sprintf("checklist %q failed", o.Name)
			if o.Detail != "" {
				msg += ": " + o.Detail
			}
			raised = append(raised, s.newAlert(now, msg, SourceChecklist, ""))
		}
		s.pushRecent("checklist run")
		return nil
	})
	return raised
}

// NoteAction appends to the recent action list.
func (s *ProjectState) NoteAction(action string) {
	_ = s.mutate(func(time.Time) error {
		s.pushRecent(action)
		return nil
	})
}
