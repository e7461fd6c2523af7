package gate

import (
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/project"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
	"github.com/fyrsmithlabs/chainguard/internal/validate"
)

const maxValidationDetail = 50

func (d *Dispatcher) track(ctx context.Context, c *call) (*Response, error) {
	var a TrackArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	if strings.TrimSpace(a.File) == "" {
		return nil, invalidArgf("file is required")
	}
	action, err := parseAction(a.Action)
	if err != nil {
		return nil, err
	}
	rel, err := taskstate.NormalizePath(c.proj.Root, a.File)
	if err != nil {
		return nil, err
	}

	resp := okResponse(c.op, "", nil)
	tv := d.trackOne(ctx, c.proj, rel, action, a.SkipValidation, resp)
	resp.Data = tv
	resp.Message = fmt.Sprintf("tracked %s %s", action, rel)
	if tv.Validation != "" {
		resp.Message += " [" + validationLabel(tv.Validation) + "]"
	}
	d.thresholdHint(c.proj.State.View(), resp)
	return resp, nil
}

func (d *Dispatcher) trackBatch(ctx context.Context, c *call) (*Response, error) {
	var a TrackBatchArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	if len(a.Files) == 0 {
		return nil, invalidArgf("files must not be empty")
	}
	if len(a.Files) > d.opts.MaxBatchFiles {
		return nil, invalidArgf("at most %d files per batch, got %d", d.opts.MaxBatchFiles, len(a.Files))
	}
	action, err := parseAction(a.Action)
	if err != nil {
		return nil, err
	}

	// Reject the whole batch before recording anything.
	rels := make([]string, 0, len(a.Files))
	for _, f := range a.Files {
		rel, err := taskstate.NormalizePath(c.proj.Root, f)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}

	resp := okResponse(c.op, "", nil)
	view := TrackBatchView{Files: make([]TrackView, 0, len(rels))}
	failed := 0
	for _, rel := range rels {
		tv := d.trackOne(ctx, c.proj, rel, action, a.SkipValidation, resp)
		if strings.HasPrefix(tv.Validation, "FAIL") {
			failed++
		}
		view.Files = append(view.Files, tv)
	}
	resp.Data = view
	resp.Message = fmt.Sprintf("tracked %d file(s)", len(rels))
	if failed > 0 {
		resp.Message += fmt.Sprintf(", %d failed validation", failed)
	}
	d.thresholdHint(c.proj.State.View(), resp)
	return resp, nil
}

// trackOne validates, scans and records one normalized path. Findings are
// reported as warnings on resp.
func (d *Dispatcher) trackOne(ctx context.Context, p *project.Project, rel string, action taskstate.Action, skip bool, resp *Response) TrackView {
	st := p.State
	snap := st.View()
	features := taskstate.FeaturesFor(snap.Scope.Mode)
	tv := TrackView{File: rel, Action: action}

	if !skip && action != taskstate.ActionDelete && features.ShouldValidate(rel) {
		res, err := d.opts.Validator.Validate(ctx, p.Root, rel)
		switch {
		case err != nil:
			tv.Validation = "SKIP"
			resp.warn("validation of %s did not complete: %v", rel, err)
		case res.Skipped != "":
			tv.Validation = "SKIP"
		case res.OK:
			tv.Validation = "PASS"
		default:
			tv.Issues = res.Errors
			tv.Validation = "FAIL:" + failureDetail(res.Errors)
		}
	}

	raised, err := st.RecordChange(taskstate.ChangeInput{Path: rel, Action: action, Validation: tv.Validation})
	if err != nil {
		// Arguments were checked by the caller.
		resp.warn("%s not recorded: %v", rel, err)
		return tv
	}
	tv.InScope = raised == nil
	if raised != nil {
		resp.warn("%s", raised.Message)
	}

	if len(tv.Issues) > 0 {
		issue := tv.Issues[0]
		a, err := st.AddAlert(fmt.Sprintf("syntax error in %s: %s", path.Base(rel), issue.Message),
			taskstate.SourceSyntax, "")
		if err == nil {
			resp.warn("%s", a.Message)
		}
	}

	if features.SymbolScan && action != taskstate.ActionDelete {
		found, err := d.opts.Scanner.Scan(ctx, p.Root, rel)
		if err != nil {
			d.opts.Logger.Debug(ctx, "symbol scan failed", zap.String("file", rel), zap.Error(err))
		}
		if len(found) > 0 {
			st.AddSymbolWarnings(found)
			for _, w := range found {
				resp.warn("symbol: %s", w)
			}
		}
	}
	return tv
}

// thresholdHint nudges towards a validation once enough changes piled up.
func (d *Dispatcher) thresholdHint(snap taskstate.Snapshot, resp *Response) {
	threshold := d.opts.Settings.Get().ValidationThreshold
	if threshold > 0 && snap.FilesSinceValidation >= threshold {
		resp.warn("%d changes since the last validation: check your work and call validate", snap.FilesSinceValidation)
	}
}

func (d *Dispatcher) recordValidation(_ context.Context, c *call) (*Response, error) {
	var a ValidateArgs
	if err := decodeArgs(c.args, &a); err != nil {
		return nil, err
	}
	var passed bool
	switch strings.ToUpper(strings.TrimSpace(a.Status)) {
	case "PASS":
		passed = true
	case "FAIL":
	default:
		return nil, invalidArgf("status must be PASS or FAIL, got %q", a.Status)
	}

	raised := c.proj.State.RecordValidation(passed, strings.TrimSpace(a.Note))
	view := newStatusView(c.proj.State.View())
	msg := "validation passed"
	if !passed {
		msg = "validation failed"
	}
	resp := okResponse(c.op, msg, view)
	if raised != nil {
		resp.warn("%s", raised.Message)
	}
	return resp, nil
}

func parseAction(s string) (taskstate.Action, error) {
	a := taskstate.Action(strings.ToLower(strings.TrimSpace(s)))
	if a == "" {
		return taskstate.ActionEdit, nil
	}
	if !a.Valid() {
		return "", invalidArgf("action must be edit, create or delete, got %q", s)
	}
	return a, nil
}

func failureDetail(issues []validate.Issue) string {
	if len(issues) == 0 {
		return "unknown"
	}
	return issues[0].Type + ":" + truncate(issues[0].Message, maxValidationDetail)
}

func validationLabel(v string) string {
	if strings.HasPrefix(v, "FAIL") {
		return "FAIL"
	}
	return v
}
