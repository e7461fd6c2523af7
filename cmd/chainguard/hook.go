package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/hooks"
	"github.com/fyrsmithlabs/chainguard/internal/logging"
	"github.com/fyrsmithlabs/chainguard/internal/project"
	"github.com/fyrsmithlabs/chainguard/internal/store"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Agent hook handlers",
}

var scopeReminderCmd = &cobra.Command{
	Use:   "scope-reminder",
	Short: "Remind the agent to declare a scope (user prompt submit hook)",
	Long: `Read the prompt-submit hook payload from stdin and print a reminder to
call chainguard_set_scope when the project has no active scope.

Short or conversational prompts are ignored and each project is reminded
at most once per cooldown. The hook never fails: any error results in no
output and a zero exit code, so the prompt is never blocked.

Example hook configuration:
  {"hooks": {"UserPromptSubmit": [{"hooks": [
    {"type": "command", "command": "chainguard hook scope-reminder"}
  ]}]}}`,
	Args: cobra.NoArgs,
	Run:  runScopeReminder,
}

func init() {
	hookCmd.AddCommand(scopeReminderCmd)
}

func runScopeReminder(cmd *cobra.Command, _ []string) {
	ctx := cmd.Context()
	in := hooks.ReadInput(cmd.InOrStdin())

	cfg, err := loadConfig()
	if err != nil {
		return
	}
	logger, err := initLogger(cfg)
	if err != nil {
		logger = logging.NewNop()
	}
	defer func() {
		_ = logger.Sync()
	}()

	hcfg := hooks.ConfigFromApp(cfg.Hook)
	if err := hcfg.Validate(); err != nil {
		logger.Warn(ctx, "invalid hook configuration", zap.Error(err))
		return
	}

	st, err := store.Open(ctx, store.Config{
		Driver:       cfg.Storage.Driver,
		Path:         cfg.Storage.Path,
		HistoryLimit: cfg.Storage.HistoryLimit,
	})
	if err != nil {
		logger.Warn(ctx, "opening store failed", zap.Error(err))
		return
	}
	defer st.Close()

	resolver := project.NewResolver(cfg.Cache.RepoTTL.Duration(), cfg.Cache.RepoEntries)
	reminder := hooks.NewScopeReminder(hcfg, resolver, st, cfg.Home, logger.Underlying().Named("hook"))

	hm := hooks.NewHookManager()
	hm.RegisterHandler(hooks.HookUserPromptSubmit, reminder.Handle)
	out, err := hm.Execute(ctx, hooks.HookUserPromptSubmit, in)
	if err != nil {
		logger.Warn(ctx, "hook failed", zap.Error(err))
		return
	}
	if out != "" {
		fmt.Fprintln(cmd.OutOrStdout(), out)
	}
}
