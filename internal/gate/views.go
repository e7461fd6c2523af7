package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/chainguard/internal/store"
	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
	"github.com/fyrsmithlabs/chainguard/internal/validate"
)

const scopePreviewLen = 30

// StatusView is the data of status.
type StatusView struct {
	Project              string          `json:"project"`
	Key                  string          `json:"key"`
	HasScope             bool            `json:"has_scope"`
	Scope                string          `json:"scope,omitempty"`
	Mode                 taskstate.Mode  `json:"mode,omitempty"`
	Phase                taskstate.Phase `json:"phase"`
	Task                 string          `json:"task,omitempty"`
	FilesChanged         int             `json:"files_changed"`
	FilesSinceValidation int             `json:"files_since_validation"`
	ValidationsPassed    int             `json:"validations_passed"`
	ValidationsFailed    int             `json:"validations_failed"`
	Alerts               int             `json:"alerts"`
	BlockingAlerts       int             `json:"blocking_alerts"`
	CriteriaDone         int             `json:"criteria_done"`
	CriteriaTotal        int             `json:"criteria_total"`
}

func newStatusView(snap taskstate.Snapshot) StatusView {
	v := StatusView{
		Project:              snap.ProjectName,
		Key:                  snap.Key,
		Phase:                snap.Phase,
		Task:                 snap.CurrentTask,
		FilesChanged:         snap.FilesChanged,
		FilesSinceValidation: snap.FilesSinceValidation,
		ValidationsPassed:    snap.ValidationsPassed,
		ValidationsFailed:    snap.ValidationsFailed,
	}
	for _, a := range snap.UnacknowledgedAlerts() {
		v.Alerts++
		if a.Blocking() {
			v.BlockingAlerts++
		}
	}
	if snap.Scope != nil {
		v.HasScope = true
		v.Scope = truncate(snap.Scope.Description, scopePreviewLen)
		v.Mode = snap.Scope.Mode
		v.CriteriaDone, _, _ = snap.CriteriaProgress()
		v.CriteriaTotal = len(snap.Scope.Criteria)
	}
	return v
}

// Line renders the view as a single status line.
func (v StatusView) Line() string {
	if !v.HasScope {
		return fmt.Sprintf("[%s|%s] no scope: call set_scope first", v.Project, v.Phase)
	}
	parts := []string{
		fmt.Sprintf("[%s|%s|%s] %s", v.Project, v.Phase, v.Mode, v.Scope),
		fmt.Sprintf("files %d (%d unvalidated)", v.FilesChanged, v.FilesSinceValidation),
	}
	if v.CriteriaTotal > 0 {
		parts = append(parts, fmt.Sprintf("criteria %d/%d", v.CriteriaDone, v.CriteriaTotal))
	}
	if v.ValidationsPassed+v.ValidationsFailed > 0 {
		parts = append(parts, fmt.Sprintf("validations %d✓ %d✗", v.ValidationsPassed, v.ValidationsFailed))
	}
	if v.Alerts > 0 {
		parts = append(parts, fmt.Sprintf("alerts %d (%d blocking)", v.Alerts, v.BlockingAlerts))
	}
	return strings.Join(parts, " | ")
}

func (v StatusView) lines() []string { return nil }

// ScopeView is the data of set_scope.
type ScopeView struct {
	Project    string          `json:"project"`
	Key        string          `json:"key"`
	Mode       taskstate.Mode  `json:"mode"`
	ModeSource string          `json:"mode_source"`
	Modules    []string        `json:"modules,omitempty"`
	Criteria   []string        `json:"criteria,omitempty"`
	Checks     []string        `json:"checks,omitempty"`
	Phase      taskstate.Phase `json:"phase"`
}

func (v ScopeView) lines() []string {
	out := []string{fmt.Sprintf("mode: %s (%s)", v.Mode, v.ModeSource)}
	if len(v.Modules) > 0 {
		out = append(out, "modules: "+strings.Join(v.Modules, ", "))
	}
	for _, c := range v.Criteria {
		out = append(out, "  [ ] "+c)
	}
	if len(v.Checks) > 0 {
		out = append(out, "checks: "+strings.Join(v.Checks, ", "))
	}
	return out
}

// TrackView is the outcome of one tracked file.
type TrackView struct {
	File       string           `json:"file"`
	Action     taskstate.Action `json:"action"`
	Validation string           `json:"validation,omitempty"`
	Issues     []validate.Issue `json:"issues,omitempty"`
	InScope    bool             `json:"in_scope"`
}

func (v TrackView) lines() []string {
	var out []string
	for _, is := range v.Issues {
		out = append(out, fmt.Sprintf("  ✗ %s: %s", is.Type, is.Message))
	}
	return out
}

// TrackBatchView is the data of track_batch.
type TrackBatchView struct {
	Files []TrackView `json:"files"`
}

func (v TrackBatchView) lines() []string {
	out := make([]string, 0, len(v.Files))
	for _, f := range v.Files {
		line := fmt.Sprintf("  %s %s", f.Action, f.File)
		if f.Validation != "" {
			line += " " + f.Validation
		}
		if !f.InScope {
			line += " (out of scope)"
		}
		out = append(out, line)
		out = append(out, f.lines()...)
	}
	return out
}

// CriterionView is one acceptance criterion.
type CriterionView struct {
	Text  string `json:"text"`
	State string `json:"state"` // open, fulfilled or failed
}

// CriteriaView is the data of check_criteria.
type CriteriaView struct {
	Criteria []CriterionView `json:"criteria"`
	Done     int             `json:"done"`
	Failed   int             `json:"failed"`
	Pending  int             `json:"pending"`
}

func newCriteriaView(snap taskstate.Snapshot) CriteriaView {
	var v CriteriaView
	v.Done, v.Failed, v.Pending = snap.CriteriaProgress()
	if snap.Scope == nil {
		return v
	}
	for _, c := range snap.Scope.Criteria {
		state := "open"
		if c.Fulfilled != nil {
			state = "failed"
			if *c.Fulfilled {
				state = "fulfilled"
			}
		}
		v.Criteria = append(v.Criteria, CriterionView{Text: c.Text, State: state})
	}
	return v
}

func (v CriteriaView) lines() []string {
	out := make([]string, 0, len(v.Criteria))
	for _, c := range v.Criteria {
		mark := "[ ]"
		switch c.State {
		case "fulfilled":
			mark = "[x]"
		case "failed":
			mark = "[✗]"
		}
		out = append(out, "  "+mark+" "+c.Text)
	}
	return out
}

// ContextView is the data of context.
type ContextView struct {
	Status         StatusView               `json:"status"`
	Description    string                   `json:"description,omitempty"`
	Modules        []string                 `json:"modules,omitempty"`
	Criteria       []CriterionView          `json:"criteria,omitempty"`
	RecentActions  []string                 `json:"recent_actions,omitempty"`
	OpenAlerts     []taskstate.Alert        `json:"open_alerts,omitempty"`
	SymbolWarnings []string                 `json:"symbol_warnings,omitempty"`
	Checklist      []taskstate.CheckOutcome `json:"checklist,omitempty"`
	Rules          string                   `json:"rules"`
}

func (v ContextView) lines() []string {
	out := []string{v.Status.Line()}
	if v.Description != "" {
		out = append(out, "scope: "+v.Description)
	}
	if len(v.Modules) > 0 {
		out = append(out, "modules: "+strings.Join(v.Modules, ", "))
	}
	if len(v.Criteria) > 0 {
		out = append(out, "criteria:")
		out = append(out, CriteriaView{Criteria: v.Criteria}.lines()...)
	}
	if len(v.RecentActions) > 0 {
		out = append(out, "recent: "+strings.Join(v.RecentActions, " → "))
	}
	for _, a := range v.OpenAlerts {
		out = append(out, fmt.Sprintf("alert [%s] %s", a.Severity, a.Message))
	}
	for _, w := range v.SymbolWarnings {
		out = append(out, "symbol: "+w)
	}
	for _, c := range v.Checklist {
		mark := "✓"
		if !c.Passed {
			mark = "✗"
		}
		out = append(out, fmt.Sprintf("check %s %s", mark, c.Name))
	}
	return append(out, "", v.Rules)
}

// PreviewView is the data of the first finish step.
type PreviewView struct {
	taskstate.ImpactPreview
	Checklist []taskstate.CheckOutcome `json:"checklist,omitempty"`
}

func (v PreviewView) lines() []string {
	var out []string
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		out = append(out, title+":")
		for _, it := range items {
			out = append(out, "  - "+it)
		}
	}
	section("unresolved criteria", v.UnresolvedCriteria)
	section("failed criteria", v.FailedCriteria)
	section("blocking alerts", alertMessages(v.BlockingAlerts))
	section("other alerts", alertMessages(v.OtherAlerts))
	section("symbol warnings", v.SymbolWarnings)
	var checks []string
	for _, c := range v.Checklist {
		state := "passed"
		if !c.Passed {
			state = "FAILED"
			if c.Detail != "" {
				state += ": " + c.Detail
			}
		}
		checks = append(checks, c.Name+" "+state)
	}
	section("checklist", checks)
	section("changed files", v.ChangedFiles)
	section("consider", v.Hints)
	return out
}

// FinishView is the data of a completed finish.
type FinishView struct {
	taskstate.Summary
}

func (v FinishView) lines() []string {
	out := []string{fmt.Sprintf("criteria %d/%d, %d file(s)", v.CriteriaDone, v.CriteriaTotal, len(v.Files))}
	for _, a := range v.Overridden {
		out = append(out, "  overridden: "+a.Message)
	}
	return out
}

// ChecklistView is the data of run_checklist.
type ChecklistView struct {
	Results []CheckView `json:"results"`
	Passed  int         `json:"passed"`
	Failed  int         `json:"failed"`
}

// CheckView is one checklist result.
type CheckView struct {
	Name      string        `json:"name"`
	Passed    bool          `json:"passed"`
	Detail    string        `json:"detail,omitempty"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Duration  time.Duration `json:"duration"`
}

func (v ChecklistView) lines() []string {
	out := make([]string, 0, len(v.Results))
	for _, r := range v.Results {
		if r.Passed {
			out = append(out, "  ✓ "+r.Name)
			continue
		}
		line := "  ✗ " + r.Name
		if r.Detail != "" {
			line += ": " + r.Detail
		}
		out = append(out, line)
	}
	return out
}

// AlertsView lists alerts.
type AlertsView struct {
	Acknowledged int               `json:"acknowledged"`
	BlockingLeft int               `json:"blocking_left"`
	Open         []taskstate.Alert `json:"open,omitempty"`
}

func (v AlertsView) lines() []string {
	out := make([]string, 0, len(v.Open))
	for _, a := range v.Open {
		out = append(out, fmt.Sprintf("  [%s] %s", a.Severity, a.Message))
	}
	return out
}

// AlertView is the data of alert.
type AlertView struct {
	taskstate.Alert
}

func (v AlertView) lines() []string { return nil }

// ProjectsView is the data of projects.
type ProjectsView struct {
	Projects []store.ProjectInfo `json:"projects"`
}

func (v ProjectsView) lines() []string {
	out := make([]string, 0, len(v.Projects))
	for _, p := range v.Projects {
		line := fmt.Sprintf("  %s [%s] %s", p.ProjectName, p.Phase, p.ProjectPath)
		if p.Description != "" {
			line += ": " + truncate(p.Description, scopePreviewLen)
		}
		out = append(out, line)
	}
	return out
}

// SettingsView is the data of config.
type SettingsView struct {
	ValidationThreshold int    `json:"validation_threshold"`
	Format              string `json:"format"`
}

func (v SettingsView) lines() []string {
	return []string{
		fmt.Sprintf("  validation_threshold: %d", v.ValidationThreshold),
		fmt.Sprintf("  format: %s", v.Format),
	}
}

// HistoryView is the data of history.
type HistoryView struct {
	Entries []store.HistoryEntry `json:"entries"`
}

func (v HistoryView) lines() []string {
	out := make([]string, 0, len(v.Entries))
	for _, e := range v.Entries {
		line := fmt.Sprintf("  %s %-6s %s", e.At.Format(time.RFC3339), e.Kind, truncate(e.Summary, 60))
		if e.Kind == store.HistoryFinish && e.CriteriaTotal > 0 {
			line += fmt.Sprintf(" (criteria %d/%d)", e.CriteriaDone, e.CriteriaTotal)
		}
		if e.Forced {
			line += " [forced]"
		}
		out = append(out, line)
	}
	return out
}

func alertMessages(as []taskstate.Alert) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Message)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
