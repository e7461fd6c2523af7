package gate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the outcome class of a dispatch.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusBlocked Status = "blocked"
	StatusError   Status = "error"
)

// Response is the result of one dispatch.
type Response struct {
	Operation      Operation  `json:"operation"`
	Status         Status     `json:"status"`
	Message        string     `json:"message"`
	Data           any        `json:"data,omitempty"`
	Warnings       []string   `json:"warnings,omitempty"`
	ContextRefresh string     `json:"context_refresh,omitempty"`
	Error          *ErrorInfo `json:"error,omitempty"`
}

// textLiner is implemented by data payloads with a text rendering.
type textLiner interface {
	lines() []string
}

func okResponse(op Operation, msg string, data any) *Response {
	return &Response{Operation: op, Status: StatusOK, Message: msg, Data: data}
}

func errorResponse(op Operation, kind ErrorKind, detail string) *Response {
	return &Response{
		Operation: op,
		Status:    statusFor(kind),
		Message:   detail,
		Error:     &ErrorInfo{Kind: kind, Detail: detail},
	}
}

// warn adds a warning and downgrades an ok status.
func (r *Response) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	if r.Status == StatusOK {
		r.Status = StatusWarning
	}
}

// OK reports whether the operation succeeded, possibly with warnings.
func (r *Response) OK() bool {
	return r.Status == StatusOK || r.Status == StatusWarning
}

// Render formats the response as "text" or "json".
func (r *Response) Render(format string) (string, error) {
	if format == "json" {
		b, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("encoding response: %w", err)
		}
		return string(b), nil
	}
	return r.Text(), nil
}

// Text renders the response as compact text.
func (r *Response) Text() string {
	var b strings.Builder
	switch r.Status {
	case StatusOK:
		b.WriteString("✓ ")
	case StatusWarning:
		b.WriteString("⚠ ")
	case StatusBlocked:
		b.WriteString("⛔ BLOCKED: ")
	case StatusError:
		if r.Error != nil {
			fmt.Fprintf(&b, "✗ %s: ", r.Error.Kind)
		} else {
			b.WriteString("✗ ")
		}
	}
	b.WriteString(r.Message)

	switch d := r.Data.(type) {
	case nil:
	case textLiner:
		for _, l := range d.lines() {
			b.WriteString("\n")
			b.WriteString(l)
		}
	default:
		if raw, err := json.Marshal(d); err == nil {
			b.WriteString("\n")
			b.Write(raw)
		}
	}

	for _, w := range r.Warnings {
		b.WriteString("\n⚠ ")
		b.WriteString(w)
	}
	if r.ContextRefresh != "" {
		b.WriteString("\n\n")
		b.WriteString(r.ContextRefresh)
	}
	return b.String()
}
