package taskstate

import (
	"time"
)

// Phase is the coarse lifecycle position of the current task.
type Phase string

const (
	PhasePlanning       Phase = "planning"
	PhaseImplementation Phase = "implementation"
	PhaseTesting        Phase = "testing"
	PhaseReview         Phase = "review"
	PhaseDone           Phase = "done"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{PhasePlanning, PhaseImplementation, PhaseTesting, PhaseReview, PhaseDone}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, known := range Phases {
		if p == known {
			return true
		}
	}
	return false
}

// Severity orders alerts. Only blocking alerts can stop finish.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityBlocking Severity = "blocking"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityBlocking:
		return true
	}
	return false
}

// Source names what raised an alert. The alert policy maps sources to
// severities.
type Source string

const (
	SourceScope      Source = "scope"
	SourceSyntax     Source = "syntax"
	SourceValidation Source = "validation"
	SourceChecklist  Source = "checklist"
	SourcePhase      Source = "phase"
	SourceSymbol     Source = "symbol"
	SourceManual     Source = "manual"
)

// Sources lists every alert source.
var Sources = []Source{
	SourceScope, SourceSyntax, SourceValidation, SourceChecklist,
	SourcePhase, SourceSymbol, SourceManual,
}

// Action is the kind of file change being tracked.
type Action string

const (
	ActionEdit   Action = "edit"
	ActionCreate Action = "create"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionEdit, ActionCreate, ActionDelete:
		return true
	}
	return false
}

// Criterion is one acceptance criterion of a scope.
type Criterion struct {
	Text      string `json:"text"`
	Fulfilled *bool  `json:"fulfilled,omitempty"`
}

// Resolved reports whether the criterion has been marked either way.
func (c Criterion) Resolved() bool {
	return c.Fulfilled != nil
}

// ChecklistItem is a named shell check attached to a scope.
type ChecklistItem struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// CheckOutcome is the last recorded result of a checklist item.
type CheckOutcome struct {
	Name   string    `json:"name"`
	Passed bool      `json:"passed"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Scope is the declared boundary of the current task.
type Scope struct {
	Description string          `json:"description"`
	WorkingDir  string          `json:"working_dir,omitempty"`
	Mode        Mode            `json:"mode"`
	Modules     []string        `json:"modules,omitempty"`
	Criteria    []Criterion     `json:"criteria,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Alert is a user-visible warning attached to the project.
type Alert struct {
	ID           string    `json:"id"`
	Message      string    `json:"message"`
	Severity     Severity  `json:"severity"`
	Source       Source    `json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	Acknowledged bool      `json:"acknowledged,omitempty"`
}

// Blocking reports whether the alert can stop finish.
func (a Alert) Blocking() bool {
	return a.Severity == SeverityBlocking
}

// ChangeEvent is one tracked file change.
type ChangeEvent struct {
	Path       string    `json:"path"`
	Action     Action    `json:"action"`
	At         time.Time `json:"at"`
	Validation string    `json:"validation,omitempty"`
}

// Snapshot is a point-in-time copy of a project's state and also its
// durable document form.
type Snapshot struct {
	Key                  string         `json:"key"`
	ProjectPath          string         `json:"project_path"`
	ProjectName          string         `json:"project_name"`
	Scope                *Scope         `json:"scope,omitempty"`
	Phase                Phase          `json:"phase"`
	CurrentTask          string         `json:"current_task,omitempty"`
	Changes              []ChangeEvent  `json:"changes,omitempty"`
	Alerts               []Alert        `json:"alerts,omitempty"`
	SymbolWarnings       []string       `json:"symbol_warnings,omitempty"`
	Checklist            []CheckOutcome `json:"checklist,omitempty"`
	FilesChanged         int            `json:"files_changed"`
	FilesSinceValidation int            `json:"files_since_validation"`
	ValidationsPassed    int            `json:"validations_passed"`
	ValidationsFailed    int            `json:"validations_failed"`
	RecentActions        []string       `json:"recent_actions,omitempty"`
	ImpactPreviewShown   bool           `json:"impact_preview_shown,omitempty"`
	LastActivity         time.Time      `json:"last_activity"`
	Revision             uint64         `json:"revision"`
	SavedAt              time.Time      `json:"saved_at,omitempty"`
}

// UnacknowledgedAlerts returns alerts that have not been acknowledged.
func (s Snapshot) UnacknowledgedAlerts() []Alert {
	var out []Alert
	for _, a := range s.Alerts {
		if !a.Acknowledged {
			out = append(out, a)
		}
	}
	return out
}

// CriteriaProgress returns how many criteria are fulfilled, failed and
// still unresolved.
func (s Snapshot) CriteriaProgress() (done, failed, pending int) {
	if s.Scope == nil {
		return 0, 0, 0
	}
	for _, c := range s.Scope.Criteria {
		switch {
		case c.Fulfilled == nil:
			pending++
		case *c.Fulfilled:
			done++
		default:
			failed++
		}
	}
	return done, failed, pending
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Scope != nil {
		sc := *s.Scope
		sc.Modules = append([]string(nil), s.Scope.Modules...)
		sc.Checklist = append([]ChecklistItem(nil), s.Scope.Checklist...)
		sc.Criteria = make([]Criterion, len(s.Scope.Criteria))
		for i, c := range s.Scope.Criteria {
			sc.Criteria[i] = Criterion{Text: c.Text}
			if c.Fulfilled != nil {
				v := *c.Fulfilled
				sc.Criteria[i].Fulfilled = &v
			}
		}
		out.Scope = &sc
	}
	out.Changes = append([]ChangeEvent(nil), s.Changes...)
	out.Alerts = append([]Alert(nil), s.Alerts...)
	out.SymbolWarnings = append([]string(nil), s.SymbolWarnings...)
	out.Checklist = append([]CheckOutcome(nil), s.Checklist...)
	out.RecentActions = append([]string(nil), s.RecentActions...)
	return out
}
