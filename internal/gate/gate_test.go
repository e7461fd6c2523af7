package gate

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/chainguard/internal/checklist"
	"github.com/fyrsmithlabs/chainguard/internal/config"
	"github.com/fyrsmithlabs/chainguard/internal/execx"
	"github.com/fyrsmithlabs/chainguard/internal/logging"
	"github.com/fyrsmithlabs/chainguard/internal/project"
	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
	"github.com/fyrsmithlabs/chainguard/internal/validate"
	"github.com/fyrsmithlabs/chainguard/internal/writer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// flakyStore fails saves while failing is set.
type flakyStore struct {
	store.Store
	failing atomic.Bool
}

func (s *flakyStore) Save(ctx context.Context, snap taskstate.Snapshot) error {
	if s.failing.Load() {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, snap)
}

type scannerFunc func(ctx context.Context, root, path string) ([]string, error)

func (f scannerFunc) Scan(ctx context.Context, root, path string) ([]string, error) {
	return f(ctx, root, path)
}

type fixture struct {
	t        *testing.T
	dir      string
	store    *flakyStore
	writer   *writer.Writer
	manager  *project.Manager
	settings *config.Runtime
	metrics  *Metrics
	gate     *Dispatcher
}

type fixtureOption func(*Options)

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir(), 50)
	require.NoError(t, err)
	st := &flakyStore{Store: fs}

	w := writer.New(st, writer.Options{Window: time.Hour})
	t.Cleanup(func() {
		st.failing.Store(false)
		_ = w.Close(context.Background())
	})

	m := project.NewManager(project.NewResolver(time.Minute, 16), st, w, project.ManagerOptions{MaxProjects: 4})
	runner := execx.New(execx.Options{Allowed: []string{"test"}, Timeout: 5 * time.Second, Rate: 100, Burst: 10})

	f := &fixture{
		t:        t,
		dir:      t.TempDir(),
		store:    st,
		writer:   w,
		manager:  m,
		settings: config.NewRuntime(config.Default(t.TempDir()), false),
		metrics:  NewMetrics(prometheus.NewRegistry()),
	}
	o := Options{
		Validator: validate.NewSyntax(nil),
		Checklist: checklist.NewRunner(runner, checklist.Options{Parallelism: 2}),
		Settings:  f.settings,
		Metrics:   f.metrics,
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.gate = New(m, st, o)
	return f
}

func (f *fixture) call(op Operation, args map[string]any) *Response {
	f.t.Helper()
	if args == nil {
		args = map[string]any{}
	}
	if _, ok := args["working_dir"]; !ok {
		args["working_dir"] = f.dir
	}
	if _, ok := args["ctx"]; !ok {
		args["ctx"] = DefaultMarker
	}
	return f.gate.Dispatch(context.Background(), Request{Operation: op, Args: args})
}

func (f *fixture) state() *taskstate.ProjectState {
	f.t.Helper()
	p, release, err := f.manager.Acquire(context.Background(), f.dir)
	require.NoError(f.t, err)
	release()
	return p.State
}

func (f *fixture) scope(args map[string]any) {
	f.t.Helper()
	if _, ok := args["description"]; !ok {
		args["description"] = "add login form"
	}
	resp := f.call(OpSetScope, args)
	require.True(f.t, resp.OK(), resp.Text())
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	full := filepath.Join(f.dir, filepath.FromSlash(rel))
	require.NoError(f.t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(f.t, os.WriteFile(full, []byte(content), 0o644))
}

func TestDispatch_TracesRequest(t *testing.T) {
	tl := logging.NewTestLogger()
	f := newFixture(t, func(o *Options) { o.Logger = tl.Logger })

	f.call(OpStatus, nil)

	tl.AssertLogged(t, logging.TraceLevel, "dispatch request")
	tl.AssertField(t, "dispatch request", "operation", string(OpStatus))
	entries := tl.FilterMessage("dispatch request").All()
	require.Len(t, entries, 1)
	args, ok := entries[0].ContextMap()["args"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, DefaultMarker, args["ctx"])
	tl.AssertLogged(t, zapcore.DebugLevel, "dispatched")
}

func TestRegistry_EveryOperationHasHandler(t *testing.T) {
	f := newFixture(t)
	ops := Operations()
	assert.Len(t, ops, 15)
	for _, spec := range ops {
		_, ok := f.gate.handlers[spec.Name]
		assert.True(t, ok, "no handler for %s", spec.Name)
		assert.NotEmpty(t, spec.Description, spec.Name)
		assert.NotNil(t, spec.Args, spec.Name)
	}

	exempt := map[Operation]bool{}
	for _, spec := range ops {
		if spec.Exempt {
			exempt[spec.Name] = true
		}
	}
	assert.Equal(t, map[Operation]bool{
		OpSetScope: true, OpStatus: true, OpProjects: true, OpConfig: true, OpHistory: true,
	}, exempt)
}

func TestDispatch_UnknownOperation(t *testing.T) {
	f := newFixture(t)
	resp := f.call("deploy", nil)

	assert.Equal(t, StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindUnknownOperation, resp.Error.Kind)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.Dispatches.WithLabelValues("deploy", "error")))
}

func TestDispatch_BlockedWithoutScope(t *testing.T) {
	f := newFixture(t)
	f.write("a.json", "{}")
	before := f.state().Revision()

	for _, spec := range Operations() {
		if spec.Exempt {
			continue
		}
		t.Run(string(spec.Name), func(t *testing.T) {
			resp := f.call(spec.Name, map[string]any{
				"file": "a.json", "files": []any{"a.json"}, "phase": "testing",
				"status": "PASS", "message": "x", "confirmed": true, "force": true,
			})
			assert.Equal(t, StatusBlocked, resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, KindBlocked, resp.Error.Kind)
			assert.Contains(t, resp.Message, "set_scope")
		})
	}

	assert.Equal(t, before, f.state().Revision(), "blocked calls must not mutate state")
	_, err := os.Stat(filepath.Join(f.dir, ".chainguard"))
	assert.True(t, os.IsNotExist(err))
}

func TestDispatch_ExemptWithoutScope(t *testing.T) {
	f := newFixture(t)
	for _, op := range []Operation{OpStatus, OpProjects, OpConfig, OpHistory} {
		resp := f.call(op, nil)
		assert.True(t, resp.OK(), "%s: %s", op, resp.Text())
	}
	assert.Contains(t, f.call(OpStatus, nil).Message, "no scope")
}

func TestSetScope(t *testing.T) {
	f := newFixture(t)
	resp := f.call(OpSetScope, map[string]any{
		"description":         "Fix checkout rounding",
		"modules":             []any{"src/checkout/**", "src/checkout/**", "tests/"},
		"acceptance_criteria": []any{"totals round half-up", "tests pass"},
		"checklist":           []any{map[string]any{"name": "readme", "command": "test -f README.md"}},
	})
	require.True(t, resp.OK(), resp.Text())

	view, ok := resp.Data.(ScopeView)
	require.True(t, ok)
	assert.Equal(t, taskstate.ModeProgramming, view.Mode)
	assert.Equal(t, "auto-detected", view.ModeSource)
	assert.Equal(t, []string{"src/checkout/**", "tests/"}, view.Modules)
	assert.Equal(t, []string{"totals round half-up", "tests pass"}, view.Criteria)
	assert.Equal(t, []string{"readme"}, view.Checks)

	snap := f.state().View()
	require.NotNil(t, snap.Scope)
	assert.Equal(t, taskstate.PhasePlanning, snap.Phase)

	entries, err := f.store.History(context.Background(), snap.Key, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, store.HistoryScope, entries[0].Kind)
	assert.Equal(t, 2, entries[0].CriteriaTotal)

	marker, err := os.ReadFile(filepath.Join(f.dir, ".chainguard", "marker"))
	require.NoError(t, err)
	assert.Contains(t, string(marker), "mode: programming")
}

func TestSetScope_ExplicitModeAndWarnings(t *testing.T) {
	f := newFixture(t)
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'x'
	}
	resp := f.call(OpSetScope, map[string]any{"description": string(long), "mode": "Research"})

	assert.Equal(t, StatusWarning, resp.Status)
	assert.Equal(t, taskstate.ModeResearch, resp.Data.(ScopeView).Mode)
	assert.Equal(t, "explicit", resp.Data.(ScopeView).ModeSource)
	require.Len(t, resp.Warnings, 2)
	assert.Contains(t, resp.Warnings[0], "600 characters")
}

func TestSetScope_Invalid(t *testing.T) {
	f := newFixture(t)

	resp := f.call(OpSetScope, map[string]any{"description": "   "})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInvalidScope, resp.Error.Kind)

	resp = f.call(OpSetScope, map[string]any{"description": "x", "mode": "poetry"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInvalidScope, resp.Error.Kind)

	assert.False(t, f.state().HasScope())
}

func TestSetScope_ReplacesPreviousTask(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})
	f.write("a.json", "{}")
	require.True(t, f.call(OpTrack, map[string]any{"file": "a.json"}).OK())

	f.scope(map[string]any{"description": "second task"})

	snap := f.state().View()
	assert.Equal(t, "second task", snap.Scope.Description)
	assert.Zero(t, snap.FilesChanged)
	assert.Empty(t, snap.Changes)
}

func TestTrack(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{"modules": []any{"src/**"}})
	f.write("src/app.json", `{"ok": true}`)

	resp := f.call(OpTrack, map[string]any{"file": "src/app.json"})
	require.Equal(t, StatusOK, resp.Status, resp.Text())
	tv := resp.Data.(TrackView)
	assert.Equal(t, "PASS", tv.Validation)
	assert.True(t, tv.InScope)
	assert.Equal(t, taskstate.ActionEdit, tv.Action)

	abs := filepath.Join(f.dir, "src", "app.json")
	resp = f.call(OpTrack, map[string]any{"file": abs, "action": "create"})
	assert.Equal(t, "src/app.json", resp.Data.(TrackView).File)

	snap := f.state().View()
	assert.Equal(t, 2, snap.FilesChanged)
	assert.Equal(t, "PASS", snap.Changes[0].Validation)
}

func TestTrack_OutOfScope(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{"modules": []any{"src/**"}})

	resp := f.call(OpTrack, map[string]any{"file": "docs/notes.md"})
	assert.Equal(t, StatusWarning, resp.Status)
	assert.False(t, resp.Data.(TrackView).InScope)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "out of scope")

	alerts := f.state().View().UnacknowledgedAlerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, taskstate.SourceScope, alerts[0].Source)
}

func TestTrack_SyntaxErrorRaisesBlockingAlert(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})
	f.write("broken.json", `{"a": }`)

	resp := f.call(OpTrack, map[string]any{"file": "broken.json"})
	assert.Equal(t, StatusWarning, resp.Status)
	tv := resp.Data.(TrackView)
	assert.Contains(t, tv.Validation, "FAIL:")
	require.NotEmpty(t, tv.Issues)
	assert.Contains(t, resp.Message, "[FAIL]")

	alerts := f.state().View().UnacknowledgedAlerts()
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Blocking())
	assert.Equal(t, taskstate.SourceSyntax, alerts[0].Source)
}

func TestTrack_ModeSkipsValidation(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{"mode": "content"})
	f.write("broken.json", `{"a": }`)

	resp := f.call(OpTrack, map[string]any{"file": "broken.json"})
	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Data.(TrackView).Validation)
	assert.Empty(t, f.state().View().Alerts)
}

func TestTrack_SkipValidationAndDelete(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})
	f.write("broken.json", `{`)

	resp := f.call(OpTrack, map[string]any{"file": "broken.json", "skip_validation": true})
	assert.Empty(t, resp.Data.(TrackView).Validation)

	resp = f.call(OpTrack, map[string]any{"file": "broken.json", "action": "delete"})
	assert.Empty(t, resp.Data.(TrackView).Validation)
	assert.Empty(t, f.state().View().Alerts)
}

func TestTrack_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})
	before := f.state().Revision()

	for name, args := range map[string]map[string]any{
		"missing file":  {},
		"outside":       {"file": "../escape.go"},
		"bad action":    {"file": "a.go", "action": "rename"},
		"wrong type":    {"file": []any{"a"}},
		"absolute else": {"file": "/etc/passwd"},
	} {
		t.Run(name, func(t *testing.T) {
			resp := f.call(OpTrack, args)
			require.NotNil(t, resp.Error, resp.Text())
			assert.Equal(t, KindInvalidArgument, resp.Error.Kind)
		})
	}
	assert.Equal(t, before, f.state().Revision())
}

func TestTrack_ValidationThresholdHint(t *testing.T) {
	f := newFixture(t)
	_, err := f.settings.Update(func(s *config.Settings) { s.ValidationThreshold = 2 })
	require.NoError(t, err)
	f.scope(map[string]any{"mode": "generic"})

	assert.Equal(t, StatusOK, f.call(OpTrack, map[string]any{"file": "a.txt"}).Status)
	resp := f.call(OpTrack, map[string]any{"file": "b.txt"})
	assert.Equal(t, StatusWarning, resp.Status)
	assert.Contains(t, resp.Warnings[0], "2 changes since the last validation")

	require.True(t, f.call(OpValidate, map[string]any{"status": "pass"}).OK())
	assert.Equal(t, StatusOK, f.call(OpTrack, map[string]any{"file": "c.txt"}).Status)
}

func TestTrack_SymbolScanner(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Scanner = scannerFunc(func(_ context.Context, _, path string) ([]string, error) {
			return []string{"unknown function fetchUsr in " + path}, nil
		})
	})
	f.scope(map[string]any{})

	resp := f.call(OpTrack, map[string]any{"file": "main.go", "skip_validation": true})
	assert.Equal(t, StatusWarning, resp.Status)
	assert.Equal(t, []string{"unknown function fetchUsr in main.go"}, f.state().View().SymbolWarnings)
}

func TestTrackBatch(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{"modules": []any{"src/**"}})
	f.write("src/a.json", "{}")
	f.write("src/b.json", "{")

	resp := f.call(OpTrackBatch, map[string]any{"files": []any{"src/a.json", "src/b.json", "lib/c.txt"}})
	view := resp.Data.(TrackBatchView)
	require.Len(t, view.Files, 3)
	assert.Equal(t, "PASS", view.Files[0].Validation)
	assert.Contains(t, view.Files[1].Validation, "FAIL")
	assert.False(t, view.Files[2].InScope)
	assert.Contains(t, resp.Message, "1 failed validation")
	assert.Equal(t, 3, f.state().View().FilesChanged)
}

func TestTrackBatch_RejectsWholeBatch(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.MaxBatchFiles = 2 })
	f.scope(map[string]any{})

	resp := f.call(OpTrackBatch, map[string]any{"files": []any{"a", "b", "c"}})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInvalidArgument, resp.Error.Kind)

	resp = f.call(OpTrackBatch, map[string]any{"files": []any{"a", "../b"}})
	require.NotNil(t, resp.Error)
	assert.Zero(t, f.state().View().FilesChanged, "no file recorded when one path is invalid")

	resp = f.call(OpTrackBatch, map[string]any{"files": []any{}})
	require.NotNil(t, resp.Error)
}

func TestSetPhase(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})

	resp := f.call(OpSetPhase, map[string]any{"phase": "Implementation", "task": "wire handler"})
	require.Equal(t, StatusOK, resp.Status, resp.Text())
	snap := f.state().View()
	assert.Equal(t, taskstate.PhaseImplementation, snap.Phase)
	assert.Equal(t, "wire handler", snap.CurrentTask)

	resp = f.call(OpSetPhase, map[string]any{"phase": "shipping"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInvalidArgument, resp.Error.Kind)

	resp = f.call(OpSetPhase, map[string]any{"phase": "done"})
	assert.Equal(t, StatusWarning, resp.Status)
	resp = f.call(OpSetPhase, map[string]any{"phase": "testing"})
	assert.Equal(t, StatusWarning, resp.Status)
	assert.Contains(t, resp.Warnings[0], "moved back from done")
}

func TestCheckCriteria(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{"acceptance_criteria": []any{"form renders", "errors shown"}})

	resp := f.call(OpCheckCriteria, nil)
	view := resp.Data.(CriteriaView)
	assert.Equal(t, 2, view.Pending)
	assert.Equal(t, "open", view.Criteria[0].State)

	resp = f.call(OpCheckCriteria, map[string]any{"criterion": "form renders"})
	require.True(t, resp.OK(), resp.Text())
	assert.Equal(t, 1, resp.Data.(CriteriaView).Done)

	resp = f.call(OpCheckCriteria, map[string]any{"criterion": "errors shown", "fulfilled": false})
	view = resp.Data.(CriteriaView)
	assert.Equal(t, 1, view.Failed)
	assert.Equal(t, "failed", view.Criteria[1].State)

	resp = f.call(OpCheckCriteria, map[string]any{"criterion": "fast"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindUnknownCriterion, resp.Error.Kind)
}

func TestValidate(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})

	resp := f.call(OpValidate, map[string]any{"status": "FAIL", "note": "login broken"})
	assert.Equal(t, StatusWarning, resp.Status)
	snap := f.state().View()
	assert.Equal(t, 1, snap.ValidationsFailed)
	require.Len(t, snap.Alerts, 1)
	assert.Contains(t, snap.Alerts[0].Message, "login broken")

	resp = f.call(OpValidate, map[string]any{"status": "maybe"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInvalidArgument, resp.Error.Kind)
}

func TestAlertAndClear(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})

	resp := f.call(OpAlert, map[string]any{"message": "API key in config"})
	require.True(t, resp.OK())
	assert.Equal(t, taskstate.SeverityWarning, resp.Data.(AlertView).Severity)

	resp = f.call(OpAlert, map[string]any{"message": "prod migration pending", "severity": "blocking"})
	assert.True(t, resp.Data.(AlertView).Blocking())

	resp = f.call(OpAlert, map[string]any{"message": "x", "severity": "fatal"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInvalidArgument, resp.Error.Kind)

	resp = f.call(OpClearAlerts, nil)
	assert.Equal(t, StatusWarning, resp.Status)
	view := resp.Data.(AlertsView)
	assert.Equal(t, 1, view.Acknowledged)
	assert.Equal(t, 1, view.BlockingLeft)

	resp = f.call(OpClearAlerts, map[string]any{"force": true})
	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, f.state().View().UnacknowledgedAlerts())
}

func TestFinish_TwoStep(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{"acceptance_criteria": []any{"works"}})
	f.write("app/models/user.php", "<?php")
	require.True(t, f.call(OpTrack, map[string]any{"file": "app/models/user.php", "skip_validation": true}).OK())

	resp := f.call(OpFinish, nil)
	require.True(t, resp.OK(), resp.Text())
	assert.Contains(t, resp.Message, "impact preview")
	assert.NotEqual(t, taskstate.PhaseDone, f.state().View().Phase)

	preview := resp.Data.(PreviewView)
	assert.Equal(t, []string{"works"}, preview.UnresolvedCriteria)
	assert.Equal(t, []string{"app/models/user.php"}, preview.ChangedFiles)

	resp = f.call(OpFinish, map[string]any{"confirmed": true})
	require.Equal(t, StatusOK, resp.Status, resp.Text())
	sum := resp.Data.(FinishView)
	assert.Equal(t, "add login form", sum.Description)
	assert.Equal(t, 1, sum.CriteriaTotal)
	assert.False(t, sum.Forced)

	snap := f.state().View()
	assert.Equal(t, taskstate.PhaseDone, snap.Phase)
	assert.NotNil(t, snap.Scope, "scope is kept until the next set_scope")

	entries, err := f.store.History(context.Background(), snap.Key, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, store.HistoryFinish, entries[1].Kind)
	assert.Equal(t, []string{"app/models/user.php"}, entries[1].Files)
}

func TestFinish_PreviewDoesNotComplete(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})

	for i := 0; i < 2; i++ {
		resp := f.call(OpFinish, nil)
		require.True(t, resp.OK())
		assert.Contains(t, resp.Message, "impact preview")
	}
	assert.Equal(t, taskstate.PhasePlanning, f.state().View().Phase)
}

func TestFinish_BlockedByAlerts(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})
	f.write("broken.json", "{")
	f.call(OpTrack, map[string]any{"file": "broken.json"})

	resp := f.call(OpFinish, nil)
	assert.Equal(t, StatusWarning, resp.Status)
	assert.Len(t, resp.Data.(PreviewView).BlockingAlerts, 1)

	before := f.state().Revision()
	resp = f.call(OpFinish, map[string]any{"confirmed": true})
	assert.Equal(t, StatusBlocked, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindBlockedByAlerts, resp.Error.Kind)
	assert.Contains(t, resp.Error.Detail, "syntax error in broken.json")
	assert.Equal(t, before, f.state().Revision())

	resp = f.call(OpFinish, map[string]any{"confirmed": true, "force": true})
	require.True(t, resp.OK(), resp.Text())
	assert.True(t, resp.Data.(FinishView).Forced)
	assert.Equal(t, StatusWarning, resp.Status)
	assert.Equal(t, taskstate.PhaseDone, f.state().View().Phase)
}

func TestFinish_ConfirmedWithoutPreview(t *testing.T) {
	t.Run("completes", func(t *testing.T) {
		f := newFixture(t)
		f.scope(map[string]any{})

		resp := f.call(OpFinish, map[string]any{"confirmed": true})
		require.Equal(t, StatusOK, resp.Status, resp.Text())
		assert.False(t, resp.Data.(FinishView).Forced)
		assert.Equal(t, taskstate.PhaseDone, f.state().View().Phase)
	})

	t.Run("blocked by alerts", func(t *testing.T) {
		f := newFixture(t)
		f.scope(map[string]any{})
		f.write("broken.json", "{")
		f.call(OpTrack, map[string]any{"file": "broken.json"})

		before := f.state().Revision()
		resp := f.call(OpFinish, map[string]any{"confirmed": true})
		assert.Equal(t, StatusBlocked, resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, KindBlockedByAlerts, resp.Error.Kind)
		assert.Equal(t, before, f.state().Revision())
		assert.Equal(t, taskstate.PhasePlanning, f.state().View().Phase)
	})

	t.Run("forced", func(t *testing.T) {
		f := newFixture(t)
		f.scope(map[string]any{})
		f.write("broken.json", "{")
		f.call(OpTrack, map[string]any{"file": "broken.json"})

		resp := f.call(OpFinish, map[string]any{"confirmed": true, "force": true})
		require.True(t, resp.OK(), resp.Text())
		assert.True(t, resp.Data.(FinishView).Forced)
		assert.Equal(t, taskstate.PhaseDone, f.state().View().Phase)
	})
}

func TestFinish_RunsChecklistFirst(t *testing.T) {
	f := newFixture(t)
	f.write("README.md", "# app")
	f.write(checklist.FileName, "[[check]]\nname = \"license\"\ncommand = \"test -f LICENSE\"\n")
	f.scope(map[string]any{
		"checklist": []any{map[string]any{"name": "readme", "command": "test -f README.md"}},
	})

	resp := f.call(OpFinish, nil)
	require.True(t, resp.OK(), resp.Text())
	preview := resp.Data.(PreviewView)
	require.Len(t, preview.Checklist, 2)
	assert.True(t, preview.Checklist[0].Passed)
	assert.False(t, preview.Checklist[1].Passed)
	assert.Len(t, preview.OtherAlerts, 1, "failed check raises a non-blocking alert")
}

func TestRunChecklist(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{
		"mode": "devops",
		"checklist": []any{
			map[string]any{"name": "readme", "command": "test -f README.md"},
			map[string]any{"name": "shell", "command": "rm -rf /tmp/x"},
		},
	})
	f.write("README.md", "# app")

	resp := f.call(OpRunChecklist, nil)
	assert.Equal(t, StatusWarning, resp.Status)
	view := resp.Data.(ChecklistView)
	assert.Equal(t, 1, view.Passed)
	assert.Equal(t, 1, view.Failed)
	assert.Equal(t, KindDisallowedCommand, view.Results[1].ErrorKind)

	snap := f.state().View()
	require.Len(t, snap.Checklist, 2)
	assert.Contains(t, snap.RecentActions, "ran test -f README.md")
}

func TestRunChecklist_None(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})
	resp := f.call(OpRunChecklist, nil)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Contains(t, resp.Message, "no checklist")
}

func TestStatusAndContext(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{
		"description":         "Write chapter one of the book",
		"acceptance_criteria": []any{"intro", "outro"},
	})
	f.call(OpCheckCriteria, map[string]any{"criterion": "intro"})
	f.call(OpTrack, map[string]any{"file": "ch1.md"})

	resp := f.call(OpStatus, nil)
	view := resp.Data.(StatusView)
	assert.Equal(t, taskstate.ModeContent, view.Mode)
	assert.Equal(t, 1, view.CriteriaDone)
	assert.Equal(t, 2, view.CriteriaTotal)
	assert.Equal(t, 1, view.FilesChanged)
	assert.Contains(t, resp.Message, "criteria 1/2")
	assert.Contains(t, resp.Message, "Write chapter one of the book")

	resp = f.call(OpContext, nil)
	cv := resp.Data.(ContextView)
	assert.Equal(t, "Write chapter one of the book", cv.Description)
	assert.Contains(t, cv.Rules, "Mode: content")
	assert.Contains(t, resp.Text(), "[x] intro")
}

func TestContextCanary(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{"mode": "devops"})

	resp := f.call(OpStatus, map[string]any{"ctx": ""})
	assert.Contains(t, resp.ContextRefresh, "context refresh")
	assert.Contains(t, resp.ContextRefresh, "Mode: devops")
	assert.Contains(t, resp.Text(), resp.ContextRefresh)

	resp = f.call(OpStatus, nil)
	assert.Empty(t, resp.ContextRefresh)

	// Missing marker never prevents the operation.
	resp = f.gate.Dispatch(context.Background(), Request{
		Operation: OpTrack, WorkingDir: f.dir, Args: map[string]any{"file": "x.yaml", "skip_validation": true},
	})
	assert.True(t, resp.OK())
	assert.NotEmpty(t, resp.ContextRefresh)
	assert.Equal(t, 1, f.state().View().FilesChanged)

	marker := DefaultMarker
	resp = f.gate.Dispatch(context.Background(), Request{
		Operation: OpStatus, WorkingDir: f.dir, ContextMarker: &marker,
	})
	assert.Empty(t, resp.ContextRefresh)

	// Set scope does not check the marker.
	resp = f.call(OpSetScope, map[string]any{"description": "again", "ctx": ""})
	assert.Empty(t, resp.ContextRefresh)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.ContextRefreshes))
}

func TestDispatch_RecoversFromPanic(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Scanner = scannerFunc(func(context.Context, string, string) ([]string, error) {
			panic("scanner exploded")
		})
	})
	f.scope(map[string]any{})

	resp := f.call(OpTrack, map[string]any{"file": "main.go", "skip_validation": true})
	assert.Equal(t, StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInternal, resp.Error.Kind)

	// The project lock was released.
	assert.True(t, f.call(OpStatus, nil).OK())
}

func TestDispatch_PersistenceErrorWarning(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{})
	key := f.state().Key()

	f.store.failing.Store(true)
	require.Error(t, f.writer.Flush(context.Background(), key))
	f.store.failing.Store(false)

	resp := f.call(OpStatus, nil)
	assert.Equal(t, StatusWarning, resp.Status)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "could not be saved")
	assert.Contains(t, resp.Warnings[0], "disk full")

	// Reported once.
	assert.Equal(t, StatusOK, f.call(OpStatus, nil).Status)
}

func TestDispatch_InvalidWorkingDir(t *testing.T) {
	f := newFixture(t)
	resp := f.call(OpStatus, map[string]any{"working_dir": filepath.Join(f.dir, "missing")})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInvalidArgument, resp.Error.Kind)
}

func TestConfig(t *testing.T) {
	f := newFixture(t)

	resp := f.call(OpConfig, nil)
	view := resp.Data.(SettingsView)
	assert.Equal(t, 8, view.ValidationThreshold)
	assert.Equal(t, "text", view.Format)

	resp = f.call(OpConfig, map[string]any{"validation_threshold": 3, "format": "JSON"})
	require.True(t, resp.OK(), resp.Text())
	assert.Equal(t, config.Settings{ValidationThreshold: 3, ResponseFormat: "json"}, f.settings.Get())

	resp = f.call(OpConfig, map[string]any{"validation_threshold": 0})
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindInvalidArgument, resp.Error.Kind)
	assert.Equal(t, 3, f.settings.Get().ValidationThreshold)

	out, err := f.gate.Render(f.call(OpStatus, nil))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "status", decoded["operation"])
}

func TestProjectsAndHistory(t *testing.T) {
	f := newFixture(t)
	f.scope(map[string]any{"description": "first"})
	f.scope(map[string]any{"description": "second"})

	resp := f.call(OpProjects, nil)
	view := resp.Data.(ProjectsView)
	require.Len(t, view.Projects, 1)
	assert.Equal(t, "second", view.Projects[0].Description)

	resp = f.call(OpHistory, map[string]any{"limit": 1})
	hv := resp.Data.(HistoryView)
	require.Len(t, hv.Entries, 1)
	assert.Equal(t, "second", hv.Entries[0].Summary)

	other := newFixture(t)
	resp = other.call(OpHistory, nil)
	assert.Contains(t, resp.Message, "no history")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{taskstate.ErrInvalidScope, KindInvalidScope},
		{taskstate.ErrUnknownCriterion, KindUnknownCriterion},
		{taskstate.ErrNoScope, KindBlocked},
		{&taskstate.BlockedByAlertsError{}, KindBlockedByAlerts},
		{&execx.DisallowedCommandError{Command: "rm"}, KindDisallowedCommand},
		{execx.ErrTimedOut, KindTimedOut},
		{&writer.PersistenceError{Key: "k", Err: errors.New("x")}, KindPersistenceError},
		{store.ErrCorrupt, KindStorageCorrupt},
		{project.ErrInvalidWorkingDir, KindInvalidArgument},
		{invalidArgf("bad"), KindInvalidArgument},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kindOf(tt.err), "%v", tt.err)
	}
}
