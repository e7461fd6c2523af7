package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// HookType represents different lifecycle hooks
type HookType string

const (
	// HookUserPromptSubmit is called before the agent processes a prompt
	HookUserPromptSubmit HookType = "user_prompt_submit"
)

// Input is the JSON document a hook receives on stdin.
type Input struct {
	SessionID     string `json:"session_id,omitempty"`
	HookEventName string `json:"hook_event_name,omitempty"`
	Prompt        string `json:"prompt"`
	Cwd           string `json:"cwd"`
}

// ReadInput decodes hook input from r. Empty or malformed input yields a
// zero Input: hooks must never break the agent.
func ReadInput(r io.Reader) Input {
	var in Input
	data, err := io.ReadAll(r)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return in
	}
	_ = json.Unmarshal(data, &in)
	return in
}

// HookHandler handles a hook event. The returned text is shown to the
// agent; empty means nothing to say.
type HookHandler func(ctx context.Context, in Input) (string, error)

// HookManager manages lifecycle hooks
type HookManager struct {
	handlers map[HookType][]HookHandler
}

// NewHookManager creates a new hook manager
func NewHookManager() *HookManager {
	return &HookManager{
		handlers: make(map[HookType][]HookHandler),
	}
}

// RegisterHandler registers a handler for a hook type
func (h *HookManager) RegisterHandler(hookType HookType, handler HookHandler) {
	h.handlers[hookType] = append(h.handlers[hookType], handler)
}

// Execute runs all handlers for hookType in registration order and joins
// their output. The first error stops execution.
func (h *HookManager) Execute(ctx context.Context, hookType HookType, in Input) (string, error) {
	handlers, ok := h.handlers[hookType]
	if !ok {
		// No handlers registered - not an error
		return "", nil
	}

	var out []string
	for _, handler := range handlers {
		text, err := handler(ctx, in)
		if err != nil {
			return strings.Join(out, "\n\n"), fmt.Errorf("hook %s failed: %w", hookType, err)
		}
		if text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n\n"), nil
}
