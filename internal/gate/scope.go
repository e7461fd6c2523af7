package gate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

// markerFile is created in the project on set_scope so that hooks can
// tell chainguard-managed projects apart.
const markerFile = ".chainguard/marker"

func (d *Dispatcher) setScope(ctx context.Context, c *call) (*Response, error) {
	var a SetScopeArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	p := c.proj

	mode := taskstate.Mode(strings.ToLower(strings.TrimSpace(a.Mode)))
	source := "explicit"
	if mode == "" {
		mode = taskstate.DetectMode(a.Description, p.Root)
		source = "auto-detected"
	}
	checks := make([]taskstate.ChecklistItem, 0, len(a.Checklist))
	for _, ch := range a.Checklist {
		checks = append(checks, taskstate.ChecklistItem{Name: ch.Name, Command: ch.Command})
	}

	if err := p.State.SetScope(taskstate.ScopeInput{
		Description: a.Description,
		WorkingDir:  p.Root,
		Mode:        mode,
		Modules:     a.Modules,
		Criteria:    a.AcceptanceCriteria,
		Checklist:   checks,
	}); err != nil {
		return nil, err
	}

	snap := p.State.View()
	view := ScopeView{
		Project:    snap.ProjectName,
		Key:        snap.Key,
		Mode:       snap.Scope.Mode,
		ModeSource: source,
		Modules:    snap.Scope.Modules,
		Phase:      snap.Phase,
	}
	for _, cr := range snap.Scope.Criteria {
		view.Criteria = append(view.Criteria, cr.Text)
	}
	for _, ch := range snap.Scope.Checklist {
		view.Checks = append(view.Checks, ch.Name)
	}
	resp := okResponse(c.op, fmt.Sprintf("scope set for %s: %s", snap.ProjectName, truncate(snap.Scope.Description, 60)), view)

	if n := len([]rune(snap.Scope.Description)); n > d.opts.DescriptionLimit {
		resp.warn("description is %d characters (limit %d): keep it short and move details into acceptance criteria",
			n, d.opts.DescriptionLimit)
	}
	if len(snap.Scope.Modules) == 0 {
		resp.warn("no modules declared: every file counts as in scope")
	}

	entry := store.HistoryEntry{
		ID:            uuid.NewString(),
		At:            d.opts.Now(),
		Kind:          store.HistoryScope,
		Summary:       snap.Scope.Description,
		Mode:          string(snap.Scope.Mode),
		Phase:         string(snap.Phase),
		CriteriaTotal: len(snap.Scope.Criteria),
	}
	if err := d.store.AppendHistory(ctx, p.Key, entry); err != nil {
		d.opts.Logger.Warn(ctx, "appending scope history failed", zap.Error(err))
		resp.warn("history not recorded: %v", err)
	}

	if err := writeMarker(p.Root, snap.Scope.Mode, d.opts.Now().Format(time.RFC3339)); err != nil {
		d.opts.Logger.Debug(ctx, "project marker not written", zap.Error(err))
	}
	return resp, nil
}

// writeMarker creates the project marker unless it exists.
func writeMarker(root string, mode taskstate.Mode, created string) error {
	path := filepath.Join(root, filepath.FromSlash(markerFile))
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	content := fmt.Sprintf("# chainguard project marker\n# created: %s\n# mode: %s\n", created, mode)
	return atomic.WriteFile(path, bytes.NewBufferString(content))
}

func (d *Dispatcher) status(_ context.Context, c *call) (*Response, error) {
	view := newStatusView(c.proj.State.View())
	resp := okResponse(c.op, view.Line(), view)
	if !view.HasScope {
		resp.Status = StatusWarning
	}
	return resp, nil
}

func (d *Dispatcher) showContext(_ context.Context, c *call) (*Response, error) {
	snap := c.proj.State.View()
	view := ContextView{
		Status:         newStatusView(snap),
		Description:    snap.Scope.Description,
		Modules:        snap.Scope.Modules,
		Criteria:       newCriteriaView(snap).Criteria,
		RecentActions:  snap.RecentActions,
		OpenAlerts:     snap.UnacknowledgedAlerts(),
		SymbolWarnings: snap.SymbolWarnings,
		Checklist:      snap.Checklist,
		Rules:          refreshText(d.opts.Marker, snap.Scope.Mode),
	}
	return okResponse(c.op, "context for "+snap.ProjectName, view), nil
}

func (d *Dispatcher) setPhase(_ context.Context, c *call) (*Response, error) {
	var a SetPhaseArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	phase := taskstate.Phase(strings.ToLower(strings.TrimSpace(a.Phase)))
	raised, err := c.proj.State.SetPhase(phase, strings.TrimSpace(a.Task))
	if err != nil {
		return nil, err
	}
	view := newStatusView(c.proj.State.View())
	resp := okResponse(c.op, "phase: "+string(phase), view)
	if raised != nil {
		resp.warn("%s", raised.Message)
	}
	if phase == taskstate.PhaseDone {
		resp.warn("use finish to complete the task; set_phase does not run the finish checks")
	}
	return resp, nil
}

func (d *Dispatcher) checkCriteria(_ context.Context, c *call) (*Response, error) {
	var a CheckCriteriaArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	st := c.proj.State

	if strings.TrimSpace(a.Criterion) == "" {
		view := newCriteriaView(st.View())
		if len(view.Criteria) == 0 {
			return okResponse(c.op, "no acceptance criteria defined", view), nil
		}
		return okResponse(c.op, fmt.Sprintf("criteria %d/%d fulfilled", view.Done, len(view.Criteria)), view), nil
	}

	fulfilled := true
	if a.Fulfilled != nil {
		fulfilled = *a.Fulfilled
	}
	if err := st.MarkCriterion(a.Criterion, fulfilled); err != nil {
		return nil, err
	}
	view := newCriteriaView(st.View())
	state := "fulfilled"
	if !fulfilled {
		state = "not fulfilled"
	}
	return okResponse(c.op, fmt.Sprintf("criterion %s: %s (%d/%d)",
		state, strings.TrimSpace(a.Criterion), view.Done, len(view.Criteria)), view), nil
}
