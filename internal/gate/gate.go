// Package gate is the single entry point for every caller-facing
// operation. It resolves the project, holds the project lock for the
// whole call, refuses non-exempt operations until a scope is declared,
// converts handler errors and panics into typed responses and attaches a
// context refresh when the caller dropped the context marker.
package gate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/checklist"
	"github.com/fyrsmithlabs/chainguard/internal/config"
	"github.com/fyrsmithlabs/chainguard/internal/logging"
	"github.com/fyrsmithlabs/chainguard/internal/project"
	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
	"github.com/fyrsmithlabs/chainguard/internal/validate"
)

const instrumentationName = "github.com/fyrsmithlabs/chainguard/internal/gate"

const (
	DefaultMarker           = "🔗"
	DefaultMaxBatchFiles    = 50
	DefaultDescriptionLimit = 500
	DefaultHistoryLimit     = 20
)

// SymbolScanner looks for references to symbols or packages that do not
// exist. Findings are surfaced in the finish preview.
type SymbolScanner interface {
	Scan(ctx context.Context, root, path string) ([]string, error)
}

// NopScanner finds nothing.
type NopScanner struct{}

// Scan implements SymbolScanner.
func (NopScanner) Scan(context.Context, string, string) ([]string, error) { return nil, nil }

// Request is one operation call.
type Request struct {
	Operation Operation
	Args      map[string]any
	// ContextMarker overrides args["ctx"] when set.
	ContextMarker *string
	// WorkingDir overrides args["working_dir"] when set.
	WorkingDir string
}

// Options configure a Dispatcher.
type Options struct {
	Marker           string
	MaxBatchFiles    int
	DescriptionLimit int
	// DefaultDir is used when a request names no working directory.
	DefaultDir string
	Validator  validate.Validator
	Checklist  *checklist.Runner
	Scanner    SymbolScanner
	Settings   *config.Runtime
	Metrics    *Metrics
	Logger     *logging.Logger
	Now        func() time.Time
}

type handlerFunc func(ctx context.Context, c *call) (*Response, error)

// call carries one dispatch through its handler.
type call struct {
	op   Operation
	args map[string]any
	proj *project.Project
}

// Dispatcher routes requests to handlers.
type Dispatcher struct {
	projects *project.Manager
	store    store.Store
	opts     Options
	handlers map[Operation]handlerFunc
	tracer   trace.Tracer
}

// New creates a dispatcher.
func New(projects *project.Manager, st store.Store, opts Options) *Dispatcher {
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.MaxBatchFiles < 1 {
		opts.MaxBatchFiles = DefaultMaxBatchFiles
	}
	if opts.DescriptionLimit < 1 {
		opts.DescriptionLimit = DefaultDescriptionLimit
	}
	if opts.DefaultDir == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.DefaultDir = wd
		}
	}
	if opts.Validator == nil {
		opts.Validator = validate.NewSyntax(nil)
	}
	if opts.Scanner == nil {
		opts.Scanner = NopScanner{}
	}
	if opts.Settings == nil {
		opts.Settings = config.NewRuntime(config.Default(""), false)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	d := &Dispatcher{
		projects: projects,
		store:    st,
		opts:     opts,
		tracer:   otel.Tracer(instrumentationName),
	}
	d.handlers = map[Operation]handlerFunc{
		OpSetScope:      d.setScope,
		OpTrack:         d.track,
		OpTrackBatch:    d.trackBatch,
		OpStatus:        d.status,
		OpContext:       d.showContext,
		OpSetPhase:      d.setPhase,
		OpFinish:        d.finish,
		OpCheckCriteria: d.checkCriteria,
		OpValidate:      d.recordValidation,
		OpRunChecklist:  d.runChecklist,
		OpAlert:         d.alert,
		OpClearAlerts:   d.clearAlerts,
		OpProjects:      d.listProjects,
		OpConfig:        d.configure,
		OpHistory:       d.history,
	}
	return d
}

// Render formats resp in the configured response format.
func (d *Dispatcher) Render(resp *Response) (string, error) {
	return resp.Render(d.opts.Settings.Get().ResponseFormat)
}

// Dispatch runs one request. It never panics and always returns a
// response.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) *Response {
	start := time.Now()
	ctx = logging.WithOperation(ctx, string(req.Operation))
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	ctx, span := d.tracer.Start(ctx, "gate.dispatch",
		trace.WithAttributes(attribute.String("operation", string(req.Operation))))
	defer span.End()
	d.opts.Logger.Trace(ctx, "dispatch request",
		zap.Any("args", req.Args),
		zap.Bool("marker_override", req.ContextMarker != nil),
		zap.String("working_dir", req.WorkingDir))

	var resp *Response
	spec, ok := Lookup(req.Operation)
	if !ok {
		resp = errorResponse(req.Operation, KindUnknownOperation,
			fmt.Sprintf("unknown operation %q", req.Operation))
	} else {
		resp = d.run(ctx, spec, req)
	}

	span.SetAttributes(attribute.String("status", string(resp.Status)))
	if resp.Error != nil {
		span.SetStatus(codes.Error, string(resp.Error.Kind))
	}
	if m := d.opts.Metrics; m != nil {
		m.Dispatches.WithLabelValues(string(req.Operation), string(resp.Status)).Inc()
		m.Duration.WithLabelValues(string(req.Operation)).Observe(time.Since(start).Seconds())
		if resp.ContextRefresh != "" {
			m.ContextRefreshes.Inc()
		}
	}
	d.opts.Logger.Debug(ctx, "dispatched",
		zap.String("status", string(resp.Status)),
		zap.Duration("duration", time.Since(start)))
	return resp
}

func (d *Dispatcher) run(ctx context.Context, spec Spec, req Request) (resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			d.opts.Logger.Error(ctx, "handler panicked",
				zap.Any("panic", r), zap.Stack("stack"))
			resp = errorResponse(spec.Name, KindInternal,
				fmt.Sprintf("internal error in %s", spec.Name))
		}
	}()

	args := req.Args
	if args == nil {
		args = map[string]any{}
	}
	c := &call{op: spec.Name, args: args}

	if spec.Global {
		return d.invoke(ctx, c)
	}

	dir := req.WorkingDir
	if dir == "" {
		dir, _ = args["working_dir"].(string)
	}
	if dir == "" {
		dir = d.opts.DefaultDir
	}
	p, release, err := d.projects.Acquire(ctx, dir)
	if err != nil {
		return d.fail(ctx, spec.Name, err)
	}
	defer release()
	c.proj = p
	ctx = logging.WithProjectKey(ctx, p.Key)

	if !spec.Exempt && !p.State.HasScope() {
		resp = errorResponse(spec.Name, KindBlocked,
			fmt.Sprintf("no scope set for %s: call set_scope before %s", p.Name, spec.Name))
	} else {
		resp = d.invoke(ctx, c)
	}

	if perr := d.projects.TakePersistenceError(p.Key); perr != nil {
		resp.warn("project state could not be saved: %v", perr)
	}
	if spec.Canary && !hasMarker(markerOf(req, args), d.opts.Marker) {
		mode := taskstate.ModeProgramming
		if view := p.State.View(); view.Scope != nil {
			mode = view.Scope.Mode
		}
		resp.ContextRefresh = refreshText(d.opts.Marker, mode)
	}
	return resp
}

func (d *Dispatcher) invoke(ctx context.Context, c *call) *Response {
	resp, err := d.handlers[c.op](ctx, c)
	if err != nil {
		return d.fail(ctx, c.op, err)
	}
	return resp
}

// fail converts err into an error response.
func (d *Dispatcher) fail(ctx context.Context, op Operation, err error) *Response {
	kind := kindOf(err)
	if kind == KindInternal || kind == KindStorageCorrupt {
		d.opts.Logger.Error(ctx, "operation failed", zap.Error(err))
	} else {
		d.opts.Logger.Debug(ctx, "operation rejected", zap.String("kind", string(kind)), zap.Error(err))
	}
	return errorResponse(op, kind, err.Error())
}

func markerOf(req Request, args map[string]any) *string {
	if req.ContextMarker != nil {
		return req.ContextMarker
	}
	if s, ok := args["ctx"].(string); ok {
		return &s
	}
	return nil
}
