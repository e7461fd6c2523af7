// Chainguard is a task-state engine for coding agents.
//
// It tracks the scope, phase and file changes of the task an agent is
// working on, gates tool calls on a declared scope and runs the two-step
// finish protocol. Agents talk to it over MCP on stdio.
//
// Usage:
//
//	# Serve MCP tools on stdio
//	chainguard serve
//
//	# Run one operation from the shell
//	chainguard call status --args '{"working_dir":"."}'
//
//	# Prompt-submit hook
//	chainguard hook scope-reminder < hook.json
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// homeDir overrides CHAINGUARD_HOME.
	homeDir string
	// configPath overrides <home>/config.yaml.
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "chainguard",
	Short: "Task-state engine for coding agents",
	Long: `chainguard tracks the scope, phase and file changes of an agent's task.

Tool calls are gated on a declared scope, changed files are validated and
finishing a task is a two-step protocol: an impact preview first, then
confirmation.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "chainguard home directory (default $CHAINGUARD_HOME or ~/.chainguard)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <home>/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "chainguard by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}
