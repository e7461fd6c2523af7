package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/checklist"
	"github.com/fyrsmithlabs/chainguard/internal/project"
	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

// finish implements the two-step completion. Without confirmation it
// returns the impact preview and leaves the phase alone; a confirmed call
// completes the task or reports the blocking alerts in the way.
func (d *Dispatcher) finish(ctx context.Context, c *call) (*Response, error) {
	var a FinishArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	if !a.Confirmed {
		return d.finishPreview(ctx, c)
	}
	st := c.proj.State

	sum, err := st.Complete(a.Force)
	if err != nil {
		var blocked *taskstate.BlockedByAlertsError
		if errors.As(err, &blocked) {
			resp := errorResponse(c.op, KindBlockedByAlerts, err.Error())
			resp.Data = AlertsView{BlockingLeft: len(blocked.Alerts), Open: blocked.Alerts}
			resp.warn("clear_alerts(force=true) or finish(confirmed=true, force=true) overrides blocking alerts")
			return resp, nil
		}
		return nil, err
	}

	resp := okResponse(c.op, "task completed: "+truncate(sum.Description, 60), FinishView{Summary: sum})
	if sum.Forced {
		resp.warn("completed despite %d blocking alert(s)", len(sum.Overridden))
	}
	entry := store.HistoryEntry{
		ID:            uuid.NewString(),
		At:            sum.CompletedAt,
		Kind:          store.HistoryFinish,
		Summary:       sum.Description,
		Mode:          string(sum.Mode),
		Phase:         string(sum.PreviousPhase),
		Forced:        sum.Forced,
		CriteriaDone:  sum.CriteriaDone,
		CriteriaTotal: sum.CriteriaTotal,
		Files:         sum.Files,
	}
	if err := d.store.AppendHistory(ctx, c.proj.Key, entry); err != nil {
		d.opts.Logger.Warn(ctx, "appending finish history failed", zap.Error(err))
		resp.warn("history not recorded: %v", err)
	}
	d.opts.Logger.Info(ctx, "task finished",
		zap.Bool("forced", sum.Forced),
		zap.Int("files", len(sum.Files)))
	return resp, nil
}

func (d *Dispatcher) finishPreview(ctx context.Context, c *call) (*Response, error) {
	st := c.proj.State
	if len(st.View().Checklist) == 0 {
		if _, err := d.runChecks(ctx, c.proj); err != nil {
			return nil, err
		}
	}

	preview, err := st.Preview()
	if err != nil {
		return nil, err
	}
	view := PreviewView{ImpactPreview: preview, Checklist: st.View().Checklist}

	resp := okResponse(c.op, "impact preview: review it, then call finish(confirmed=true)", view)
	if len(preview.BlockingAlerts) > 0 {
		resp.warn("%d blocking alert(s) will stop completion", len(preview.BlockingAlerts))
	}
	if len(preview.UnresolvedCriteria) > 0 {
		resp.warn("%d acceptance criteria not checked", len(preview.UnresolvedCriteria))
	}
	return resp, nil
}

func (d *Dispatcher) runChecklist(ctx context.Context, c *call) (*Response, error) {
	view, err := d.runChecks(ctx, c.proj)
	if err != nil {
		return nil, err
	}
	if len(view.Results) == 0 {
		return okResponse(c.op, fmt.Sprintf("no checklist defined (scope checklist or %s)", checklist.FileName), view), nil
	}
	resp := okResponse(c.op, fmt.Sprintf("checklist: %d passed, %d failed", view.Passed, view.Failed), view)
	if view.Failed > 0 {
		resp.Status = StatusWarning
	}
	return resp, nil
}

// runChecks runs the scope checklist merged with the project checklist
// file and records the outcomes. No checks is not an error.
func (d *Dispatcher) runChecks(ctx context.Context, p *project.Project) (ChecklistView, error) {
	snap := p.State.View()
	var scopeChecks []checklist.Check
	if snap.Scope != nil {
		for _, it := range snap.Scope.Checklist {
			scopeChecks = append(scopeChecks, checklist.Check{Name: it.Name, Command: it.Command})
		}
	}
	fileChecks, err := checklist.Load(p.Root)
	if err != nil {
		return ChecklistView{}, invalidArgf("%v", err)
	}
	checks := checklist.Merge(scopeChecks, fileChecks)
	if len(checks) == 0 {
		return ChecklistView{}, nil
	}
	if d.opts.Checklist == nil {
		return ChecklistView{}, errors.New("checklist runner not configured")
	}

	results := d.opts.Checklist.RunAll(ctx, p.Root, checks)
	now := d.opts.Now()
	outcomes := make([]taskstate.CheckOutcome, 0, len(results))
	view := ChecklistView{Results: make([]CheckView, 0, len(results))}
	for _, r := range results {
		cv := CheckView{Name: r.Name, Passed: r.Passed, Duration: r.Duration.Round(time.Millisecond)}
		if !r.Passed {
			cv.Detail = r.Detail()
			if r.Err != nil {
				cv.ErrorKind = kindOf(r.Err)
			}
			view.Failed++
		} else {
			view.Passed++
		}
		view.Results = append(view.Results, cv)
		outcomes = append(outcomes, taskstate.CheckOutcome{Name: r.Name, Passed: r.Passed, Detail: cv.Detail, At: now})
	}
	p.State.RecordChecklist(outcomes)

	if snap.Scope != nil && taskstate.FeaturesFor(snap.Scope.Mode).CommandLogging {
		for _, ch := range checks {
			p.State.NoteAction("ran " + ch.Command)
		}
	}
	return view, nil
}
