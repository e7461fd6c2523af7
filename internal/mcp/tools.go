package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/chainguard/internal/gate"
)

// registerTools registers one tool per gate operation.
func (s *Server) registerTools() error {
	err := errors.Join(
		// Scope tools
		addGateTool[gate.SetScopeArgs](s, gate.OpSetScope),
		addGateTool[gate.StatusArgs](s, gate.OpStatus),
		addGateTool[gate.ContextArgs](s, gate.OpContext),
		addGateTool[gate.SetPhaseArgs](s, gate.OpSetPhase),

		// Tracking tools
		addGateTool[gate.TrackArgs](s, gate.OpTrack),
		addGateTool[gate.TrackBatchArgs](s, gate.OpTrackBatch),

		// Finish tools
		addGateTool[gate.FinishArgs](s, gate.OpFinish),
		addGateTool[gate.CheckCriteriaArgs](s, gate.OpCheckCriteria),
		addGateTool[gate.ValidateArgs](s, gate.OpValidate),
		addGateTool[gate.RunChecklistArgs](s, gate.OpRunChecklist),

		// Alert tools
		addGateTool[gate.AlertArgs](s, gate.OpAlert),
		addGateTool[gate.ClearAlertsArgs](s, gate.OpClearAlerts),

		// Admin tools
		addGateTool[gate.ProjectsArgs](s, gate.OpProjects),
		addGateTool[gate.ConfigArgs](s, gate.OpConfig),
		addGateTool[gate.HistoryArgs](s, gate.OpHistory),
	)
	if err != nil {
		return err
	}

	for _, spec := range gate.Operations() {
		if _, ok := s.toolRegistry.Get(ToolName(spec.Name)); !ok {
			return fmt.Errorf("operation %s has no tool", spec.Name)
		}
	}
	return nil
}

// addGateTool registers the tool for op with In as its input schema.
func addGateTool[In any](s *Server, op gate.Operation) error {
	spec, ok := gate.Lookup(op)
	if !ok {
		return fmt.Errorf("unknown operation %s", op)
	}
	name := ToolName(op)
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("inferring %s input schema: %w", name, err)
	}
	if err := s.toolRegistry.Register(&ToolMetadata{
		Name:        name,
		Operation:   op,
		Description: spec.Description,
		Category:    spec.Category,
		Exempt:      spec.Exempt,
		Keywords:    []string{string(op), string(spec.Category)},
		InputSchema: schema,
	}); err != nil {
		return err
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: spec.Description,
		InputSchema: schema,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, any, error) {
		res, err := s.dispatch(ctx, name, op, args)
		return res, nil, err
	})
	return nil
}

// dispatch runs one tool call through the gate. Gate errors become tool
// results with IsError set; only argument encoding failures are returned
// as protocol errors.
func (s *Server) dispatch(ctx context.Context, name string, op gate.Operation, in any) (*mcp.CallToolResult, error) {
	start := time.Now()
	s.metrics.IncrementActive(ctx, name)
	var kind string
	defer func() {
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), kind)
	}()

	args, err := gate.ArgsToMap(in)
	if err != nil {
		kind = string(gate.KindInvalidArgument)
		return nil, fmt.Errorf("encoding %s arguments: %w", name, err)
	}

	resp := s.gate.Dispatch(ctx, gate.Request{Operation: op, Args: args})
	if resp.Error != nil {
		kind = string(resp.Error.Kind)
	}
	text, err := s.gate.Render(resp)
	if err != nil {
		s.logger.Warn("rendering response failed, falling back to text",
			zap.String("tool", name), zap.Error(err))
		text = resp.Text()
	}

	return &mcp.CallToolResult{
		IsError: resp.Error != nil,
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, nil
}
