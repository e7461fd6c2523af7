package mcp

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/fyrsmithlabs/chainguard/internal/gate"
)

// ToolPrefix is prepended to every operation name to form the tool name.
const ToolPrefix = "chainguard_"

// ToolName returns the MCP tool name of op.
func ToolName(op gate.Operation) string {
	return ToolPrefix + string(op)
}

// ToolMetadata contains metadata about a registered MCP tool.
type ToolMetadata struct {
	// Name is the unique tool name (e.g., "chainguard_track").
	Name string `json:"name"`

	// Operation is the gate operation the tool dispatches to.
	Operation gate.Operation `json:"operation"`

	// Description is a human-readable description of what the tool does.
	Description string `json:"description"`

	// Category is the functional category of the tool.
	Category gate.Category `json:"category"`

	// Exempt tools work before a scope is set.
	Exempt bool `json:"exempt"`

	// Keywords are additional searchable terms for this tool.
	Keywords []string `json:"keywords,omitempty"`

	// InputSchema is the JSON schema of the tool arguments.
	InputSchema *jsonschema.Schema `json:"input_schema,omitempty"`
}

// ToolRegistry is the catalogue of registered tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*ToolMetadata),
	}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(tool *ToolMetadata) error {
	if tool == nil || tool.Name == "" {
		return errors.New("tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[tool.Name]; ok {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Get returns the metadata for a specific tool.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *ToolRegistry) List() []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ListByCategory returns all tools in a specific category, sorted by name.
func (r *ToolRegistry) ListByCategory(category gate.Category) []*ToolMetadata {
	var result []*ToolMetadata
	for _, tool := range r.List() {
		if tool.Category == category {
			result = append(result, tool)
		}
	}
	return result
}

// Count returns the total number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult contains a tool match from a search query.
type SearchResult struct {
	Tool *ToolMetadata `json:"tool"`

	// Score indicates match quality (higher is better).
	// 3 = exact name match
	// 2 = name contains query
	// 1 = description/keywords match
	Score int `json:"score"`

	MatchReason string `json:"match_reason"`
}

// Search finds tools matching query, case-insensitively, against names,
// descriptions and keywords. A query that compiles as a regular
// expression is also matched as one. Results are ordered by score, then
// name.
func (r *ToolRegistry) Search(query string) []*SearchResult {
	if query == "" {
		return nil
	}
	queryLower := strings.ToLower(query)
	var regex *regexp.Regexp
	if re, err := regexp.Compile("(?i)" + query); err == nil {
		regex = re
	}

	var results []*SearchResult
	add := func(tool *ToolMetadata, score int, reason string) {
		results = append(results, &SearchResult{Tool: tool, Score: score, MatchReason: reason})
	}

	for _, tool := range r.List() {
		nameLower := strings.ToLower(tool.Name)
		switch {
		case nameLower == queryLower || string(tool.Operation) == queryLower:
			add(tool, 3, "exact name match")
		case strings.Contains(nameLower, queryLower):
			add(tool, 2, "name contains query")
		case regex != nil && regex.MatchString(tool.Name):
			add(tool, 2, "name matches pattern")
		case strings.Contains(strings.ToLower(tool.Description), queryLower):
			add(tool, 1, "description contains query")
		case regex != nil && regex.MatchString(tool.Description):
			add(tool, 1, "description matches pattern")
		default:
			for _, kw := range tool.Keywords {
				if strings.Contains(strings.ToLower(kw), queryLower) {
					add(tool, 1, "keyword contains query")
					break
				}
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}
