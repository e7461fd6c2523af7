package gate

import (
	"github.com/go-viper/mapstructure/v2"

	"github.com/fyrsmithlabs/chainguard/internal/checklist"
)

// SetScopeArgs are the arguments of set_scope.
type SetScopeArgs struct {
	WorkingDir         string            `json:"working_dir,omitempty" jsonschema:"Project directory (defaults to the server working directory)"`
	Description        string            `json:"description" jsonschema:"What the task is about"`
	Mode               string            `json:"mode,omitempty" jsonschema:"programming, content, devops, research or generic (auto-detected when empty)"`
	Modules            []string          `json:"modules,omitempty" jsonschema:"Glob patterns of the files the task may touch"`
	AcceptanceCriteria []string          `json:"acceptance_criteria,omitempty" jsonschema:"Conditions that must hold when the task is finished"`
	Checklist          []checklist.Check `json:"checklist,omitempty" jsonschema:"Named commands that verify the task"`
	Ctx                string            `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// TrackArgs are the arguments of track.
type TrackArgs struct {
	WorkingDir     string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	File           string `json:"file" jsonschema:"Changed file, relative to the project root or absolute inside it"`
	Action         string `json:"action,omitempty" jsonschema:"edit, create or delete (default edit)"`
	SkipValidation bool   `json:"skip_validation,omitempty" jsonschema:"Do not run syntax validation"`
	Ctx            string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// TrackBatchArgs are the arguments of track_batch.
type TrackBatchArgs struct {
	WorkingDir     string   `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Files          []string `json:"files" jsonschema:"Changed files"`
	Action         string   `json:"action,omitempty" jsonschema:"edit, create or delete (default edit)"`
	SkipValidation bool     `json:"skip_validation,omitempty" jsonschema:"Do not run syntax validation"`
	Ctx            string   `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// StatusArgs are the arguments of status.
type StatusArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// ContextArgs are the arguments of context.
type ContextArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// SetPhaseArgs are the arguments of set_phase.
type SetPhaseArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Phase      string `json:"phase" jsonschema:"planning, implementation, testing, review or done"`
	Task       string `json:"task,omitempty" jsonschema:"Current sub-task"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// FinishArgs are the arguments of finish.
type FinishArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Confirmed  bool   `json:"confirmed,omitempty" jsonschema:"Complete the task instead of showing the impact preview"`
	Force      bool   `json:"force,omitempty" jsonschema:"Complete despite blocking alerts"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// CheckCriteriaArgs are the arguments of check_criteria.
type CheckCriteriaArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Criterion  string `json:"criterion,omitempty" jsonschema:"Criterion text to mark; empty lists all criteria"`
	Fulfilled  *bool  `json:"fulfilled,omitempty" jsonschema:"Whether the criterion holds"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// ValidateArgs are the arguments of validate.
type ValidateArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Status     string `json:"status" jsonschema:"PASS or FAIL"`
	Note       string `json:"note,omitempty" jsonschema:"What was validated or what failed"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// RunChecklistArgs are the arguments of run_checklist.
type RunChecklistArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// AlertArgs are the arguments of alert.
type AlertArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Message    string `json:"message" jsonschema:"Alert text"`
	Severity   string `json:"severity,omitempty" jsonschema:"info, warning or blocking (default from the alert policy)"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// ClearAlertsArgs are the arguments of clear_alerts.
type ClearAlertsArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Force      bool   `json:"force,omitempty" jsonschema:"Also acknowledge blocking alerts"`
	Ctx        string `json:"ctx,omitempty" jsonschema:"Context marker"`
}

// ProjectsArgs are the arguments of projects.
type ProjectsArgs struct{}

// ConfigArgs are the arguments of config.
type ConfigArgs struct {
	ValidationThreshold *int   `json:"validation_threshold,omitempty" jsonschema:"Changes after which a validation reminder is shown"`
	Format              string `json:"format,omitempty" jsonschema:"Response format: text or json"`
}

// HistoryArgs are the arguments of history.
type HistoryArgs struct {
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Project directory"`
	Limit      int    `json:"limit,omitempty" jsonschema:"Maximum number of entries (default 20)"`
}

// decodeArgs decodes a request argument map into out.
func decodeArgs(args map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(args); err != nil {
		return invalidArgf("%v", err)
	}
	return nil
}

// ArgsToMap converts a typed argument struct into a request argument map.
func ArgsToMap(in any) (map[string]any, error) {
	out := make(map[string]any)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &out,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(in); err != nil {
		return nil, err
	}
	return out, nil
}
