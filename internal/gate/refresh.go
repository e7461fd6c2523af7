package gate

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/chainguard/internal/taskstate"
)

const refreshTemplate = `── chainguard context refresh ──
Your context was refreshed. Mandatory rules for this session:
1. chainguard_set_scope(...) before any work on a new task
2. chainguard_track(file="...", ctx="%[1]s") after EVERY file change
3. chainguard_validate(status="PASS") when the task has been checked
4. chainguard_finish(confirmed=true) to complete the task
Pass ctx="%[1]s" on every chainguard tool call.`

var modeRules = map[taskstate.Mode]string{
	taskstate.ModeProgramming: `Mode: programming
- Syntax validation is active for tracked files
- Track every change, then chainguard_finish(confirmed=true) at the end`,
	taskstate.ModeContent: `Mode: content
- No syntax validation; writing is not blocked
- Use acceptance criteria as a chapter checklist:
  chainguard_check_criteria(criterion="Chapter 1", fulfilled=true)`,
	taskstate.ModeDevOps: `Mode: devops
- Config validation (YAML, JSON, TOML) is active
- Checklist commands are logged in recent actions`,
	taskstate.ModeResearch: `Mode: research
- No syntax validation
- Use acceptance criteria as research questions and mark them when answered`,
	taskstate.ModeGeneric: `Mode: generic
- Minimal tracking, no validation`,
}

// refreshText returns the context refresh payload for mode.
func refreshText(marker string, mode taskstate.Mode) string {
	rules, ok := modeRules[mode]
	if !ok {
		rules = modeRules[taskstate.ModeProgramming]
	}
	return fmt.Sprintf(refreshTemplate, marker) + "\n\n" + rules
}

// hasMarker reports whether ctx carries the configured marker.
func hasMarker(ctx *string, marker string) bool {
	return ctx != nil && strings.TrimSpace(*ctx) == marker
}
