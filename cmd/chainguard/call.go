package main

import (
	"encoding/json"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/chainguard/internal/gate"
)

var (
	callArgs    string
	callDir     string
	callMetrics bool
)

var callCmd = &cobra.Command{
	Use:   "call <operation>",
	Short: "Run one chainguard operation",
	Long: `Run one operation through the dispatch gate and print the response.

The response is rendered in the configured format (text or json). The
command exits non-zero when the operation is blocked or fails. Pending
state is flushed before exit.

Examples:
  # Declare a scope for the current project
  chainguard call set_scope --args '{"description":"Add health endpoint","modules":["cmd/**"]}'

  # Preview, then confirm, finishing the task
  chainguard call finish
  chainguard call finish --args '{"confirmed":true}'

  # Inspect another project
  chainguard call status -C ~/src/shop`,
	Args: cobra.ExactArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callArgs, "args", "{}", "operation arguments as a JSON object")
	callCmd.Flags().StringVarP(&callDir, "dir", "C", "", "project directory (default: current directory)")
	callCmd.Flags().BoolVar(&callMetrics, "metrics", false, "print the collected metrics to stderr after the call")
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var opArgs map[string]any
	if err := json.Unmarshal([]byte(callArgs), &opArgs); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	opts := stackOptions{forceMetrics: callMetrics}
	if callMetrics {
		opts.snapshot = func(g prometheus.Gatherer) error { return writeMetrics(cmd.ErrOrStderr(), g) }
	}
	st, err := newStack(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}

	req := gate.Request{
		Operation:  gate.Operation(args[0]),
		Args:       opArgs,
		WorkingDir: callDir,
	}
	// A shell caller has no conversation context to lose.
	if _, ok := opArgs["ctx"]; !ok {
		req.ContextMarker = &cfg.Context.Marker
	}
	resp := st.gate.Dispatch(ctx, req)

	text, err := st.gate.Render(resp)
	if err != nil {
		text = resp.Text()
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)

	if err := st.Close(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}

	if !resp.OK() {
		return fmt.Errorf("%s: %s", resp.Operation, resp.Status)
	}
	return nil
}
