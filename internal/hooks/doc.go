// Package hooks implements agent lifecycle hooks.
//
// The only event handled today is user_prompt_submit: before the agent
// acts on a prompt, the scope reminder checks whether the project has a
// declared scope and, if not, prints a reminder to call
// chainguard_set_scope. Reminders are rate limited per project.
package hooks
