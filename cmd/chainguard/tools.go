package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/chainguard/internal/gate"
	"github.com/fyrsmithlabs/chainguard/internal/logging"
	"github.com/fyrsmithlabs/chainguard/internal/mcp"
)

var toolsSchema bool

var toolsCmd = &cobra.Command{
	Use:   "tools [query]",
	Short: "List the MCP tools",
	Long: `List the MCP tools served by "chainguard serve".

With a query, tools are ranked by how well their name, description or
keywords match it. The query may be a regular expression.

Examples:
  chainguard tools
  chainguard tools finish
  chainguard tools track --schema`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsSchema, "schema", false, "print each tool's input schema")
}

func runTools(cmd *cobra.Command, args []string) error {
	// The catalogue is static; no store is opened.
	d := gate.New(nil, nil, gate.Options{Logger: logging.NewNop()})
	server, err := mcp.NewServer(nil, d)
	if err != nil {
		return err
	}

	tools := server.Tools().List()
	if len(args) == 1 {
		results := server.Tools().Search(args[0])
		if len(results) == 0 {
			return fmt.Errorf("no tool matches %q", args[0])
		}
		tools = make([]*mcp.ToolMetadata, 0, len(results))
		for _, r := range results {
			tools = append(tools, r.Tool)
		}
	}

	out := cmd.OutOrStdout()
	if toolsSchema {
		return printSchemas(out, tools)
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOOL\tCATEGORY\tSCOPE\tDESCRIPTION")
	for _, tool := range tools {
		scope := "required"
		if tool.Exempt {
			scope = "exempt"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", tool.Name, tool.Category, scope, tool.Description)
	}
	return tw.Flush()
}

func printSchemas(w io.Writer, tools []*mcp.ToolMetadata) error {
	for _, tool := range tools {
		data, err := json.MarshalIndent(tool.InputSchema, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding %s schema: %w", tool.Name, err)
		}
		fmt.Fprintf(w, "%s\n%s\n\n", tool.Name, data)
	}
	return nil
}
