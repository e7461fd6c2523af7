package gate

import "sort"

// Operation names a caller-facing operation.
type Operation string

const (
	OpSetScope      Operation = "set_scope"
	OpTrack         Operation = "track"
	OpTrackBatch    Operation = "track_batch"
	OpStatus        Operation = "status"
	OpContext       Operation = "context"
	OpSetPhase      Operation = "set_phase"
	OpFinish        Operation = "finish"
	OpCheckCriteria Operation = "check_criteria"
	OpValidate      Operation = "validate"
	OpRunChecklist  Operation = "run_checklist"
	OpAlert         Operation = "alert"
	OpClearAlerts   Operation = "clear_alerts"
	OpProjects      Operation = "projects"
	OpConfig        Operation = "config"
	OpHistory       Operation = "history"
)

// Category groups operations for listings.
type Category string

const (
	CategoryScope    Category = "scope"
	CategoryTracking Category = "tracking"
	CategoryFinish   Category = "finish"
	CategoryAlerts   Category = "alerts"
	CategoryAdmin    Category = "admin"
)

// Spec describes one operation.
type Spec struct {
	Name        Operation
	Category    Category
	Description string
	// Exempt operations run without a declared scope.
	Exempt bool
	// Canary operations attach a context refresh when the request lacks
	// the context marker.
	Canary bool
	// Global operations do not act on a project and take no working_dir.
	Global bool
	// Args is the zero value of the argument struct.
	Args any
}

var registry = map[Operation]Spec{
	OpSetScope: {
		Category: CategoryScope, Exempt: true, Args: SetScopeArgs{},
		Description: "Declare the task scope before any other work: description, modules (globs), acceptance criteria, checklist and mode. Replaces any previous scope and resets task bookkeeping.",
	},
	OpTrack: {
		Category: CategoryTracking, Canary: true, Args: TrackArgs{},
		Description: "Record a file change. Runs syntax validation for the task mode and warns when the file is outside the declared modules.",
	},
	OpTrackBatch: {
		Category: CategoryTracking, Canary: true, Args: TrackBatchArgs{},
		Description: "Record several file changes at once.",
	},
	OpStatus: {
		Category: CategoryScope, Exempt: true, Canary: true, Args: StatusArgs{},
		Description: "One-line project status: phase, mode, changes, alerts and criteria progress.",
	},
	OpContext: {
		Category: CategoryScope, Canary: true, Args: ContextArgs{},
		Description: "Full task context: scope, criteria, recent actions, open alerts and the rules for the current mode.",
	},
	OpSetPhase: {
		Category: CategoryScope, Canary: true, Args: SetPhaseArgs{},
		Description: "Move the task to planning, implementation, testing, review or done.",
	},
	OpFinish: {
		Category: CategoryFinish, Canary: true, Args: FinishArgs{},
		Description: "Complete the task. Without confirmed it shows the impact preview; confirmed=true finishes. Blocking alerts stop completion unless force=true.",
	},
	OpCheckCriteria: {
		Category: CategoryFinish, Canary: true, Args: CheckCriteriaArgs{},
		Description: "List acceptance criteria, or mark one as fulfilled or not.",
	},
	OpValidate: {
		Category: CategoryFinish, Canary: true, Args: ValidateArgs{},
		Description: "Record a manual validation result (PASS or FAIL) and reset the validation counter.",
	},
	OpRunChecklist: {
		Category: CategoryFinish, Canary: true, Args: RunChecklistArgs{},
		Description: "Run the scope checklist and the project checklist file.",
	},
	OpAlert: {
		Category: CategoryAlerts, Canary: true, Args: AlertArgs{},
		Description: "Raise an alert on the current task.",
	},
	OpClearAlerts: {
		Category: CategoryAlerts, Canary: true, Args: ClearAlertsArgs{},
		Description: "Acknowledge open alerts. Blocking alerts need force=true.",
	},
	OpProjects: {
		Category: CategoryAdmin, Exempt: true, Global: true, Args: ProjectsArgs{},
		Description: "List known projects, most recently active first.",
	},
	OpConfig: {
		Category: CategoryAdmin, Exempt: true, Global: true, Args: ConfigArgs{},
		Description: "Show or change runtime settings (validation_threshold, format).",
	},
	OpHistory: {
		Category: CategoryAdmin, Exempt: true, Args: HistoryArgs{},
		Description: "Show the durable scope and finish history of the project.",
	},
}

func init() {
	for name, spec := range registry {
		spec.Name = name
		registry[name] = spec
	}
}

// Lookup returns the spec of op.
func Lookup(op Operation) (Spec, bool) {
	s, ok := registry[op]
	return s, ok
}

// Operations returns every operation spec sorted by name.
func Operations() []Spec {
	out := make([]Spec, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
