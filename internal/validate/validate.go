// Package validate checks changed files for syntax errors.
//
// Structured formats (JSON, JSONC, YAML, TOML) are parsed in-process.
// Source languages are checked with their own toolchains (php -l,
// node --check, python3 -m py_compile) through the command runner; a
// missing or disallowed toolchain skips the check instead of failing it.
package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/fyrsmithlabs/chainguard/internal/execx"
)

// MaxFileSize is the largest file that is validated.
const MaxFileSize = 2 << 20

// Issue is one syntax problem.
type Issue struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	File    string `json:"file"`
}

// Result is the outcome of validating one file.
type Result struct {
	OK      bool    `json:"ok"`
	Errors  []Issue `json:"errors,omitempty"`
	Checked string  `json:"checked"`
	// Skipped explains why nothing was checked.
	Skipped string `json:"skipped,omitempty"`
}

// Validator checks one file, given relative to root.
type Validator interface {
	Validate(ctx context.Context, root, path string) (Result, error)
}

// jsoncNames are JSON files that conventionally carry comments.
var jsoncNames = map[string]bool{
	"tsconfig.json":     true,
	"jsconfig.json":     true,
	".eslintrc.json":    true,
	"devcontainer.json": true,
	"settings.json":     true,
}

// Syntax is the built-in validator.
type Syntax struct {
	runner *execx.Runner
}

// NewSyntax creates a syntax validator. runner may be nil, which disables
// the toolchain-backed checks.
func NewSyntax(runner *execx.Runner) *Syntax {
	return &Syntax{runner: runner}
}

// Validate checks root/path. Only a timed out or cancelled toolchain run
// is returned as an error.
func (s *Syntax) Validate(ctx context.Context, root, path string) (Result, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, path)
	}
	ext := strings.ToLower(filepath.Ext(full))
	base := strings.ToLower(filepath.Base(full))
	res := Result{OK: true, Checked: strings.TrimPrefix(ext, ".")}
	if res.Checked == "" {
		res.Checked = "unknown"
	}

	info, err := os.Stat(full)
	switch {
	case errors.Is(err, os.ErrNotExist):
		res.Skipped = "file does not exist"
		return res, nil
	case err != nil:
		return res, fmt.Errorf("stat %s: %w", path, err)
	case info.IsDir():
		res.Skipped = "is a directory"
		return res, nil
	case info.Size() > MaxFileSize:
		res.Skipped = "file too large"
		return res, nil
	}

	var issue *Issue
	switch {
	case ext == ".jsonc" || jsoncNames[base]:
		issue, err = checkJSON(full, true)
	case ext == ".json":
		issue, err = checkJSON(full, false)
	case ext == ".yaml" || ext == ".yml":
		issue, err = checkYAML(full)
	case ext == ".toml":
		issue, err = checkTOML(full)
	case ext == ".php":
		return s.external(ctx, res, path, "PHP Syntax", []string{"php", "-l", full}, phpError)
	case ext == ".js" || ext == ".mjs" || ext == ".cjs":
		return s.external(ctx, res, path, "JS Syntax", []string{"node", "--check", full}, firstMatching("SyntaxError", "Error"))
	case ext == ".py":
		return s.external(ctx, res, path, "Python Syntax", []string{"python3", "-m", "py_compile", full}, firstMatching("SyntaxError", "IndentationError", "TabError"))
	default:
		res.Skipped = "no validator for this file type"
		return res, nil
	}
	if err != nil {
		return res, err
	}
	if issue != nil {
		issue.File = path
		res.OK = false
		res.Errors = append(res.Errors, *issue)
	}
	return res, nil
}

func (s *Syntax) external(ctx context.Context, res Result, path, kind string, args []string, extract func(string) string) (Result, error) {
	if s.runner == nil {
		res.Skipped = "external validators disabled"
		return res, nil
	}
	out, err := s.runner.Run(ctx, execx.Cmd{Args: args})
	var derr *execx.DisallowedCommandError
	switch {
	case errors.As(err, &derr):
		res.Skipped = fmt.Sprintf("%s not allowed", args[0])
		return res, nil
	case errors.Is(err, exec.ErrNotFound):
		res.Skipped = fmt.Sprintf("%s not installed", args[0])
		return res, nil
	case err != nil:
		return res, err
	}
	if !out.OK() {
		res.OK = false
		res.Errors = append(res.Errors, Issue{Type: kind, Message: extract(out.Stdout + "\n" + out.Stderr), File: path})
	}
	return res, nil
}

func checkJSON(path string, comments bool) (*Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if comments {
		data = jsonc.ToJSON(data)
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		kind := "JSON"
		if comments {
			kind = "JSONC"
		}
		msg := err.Error()
		var serr *json.SyntaxError
		if errors.As(err, &serr) {
			msg = fmt.Sprintf("Line %d: %s", lineAt(data, serr.Offset), serr.Error())
		}
		return &Issue{Type: kind, Message: msg}, nil
	}
	return nil, nil
}

func checkYAML(path string) (*Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc yaml.Node
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return &Issue{Type: "YAML", Message: strings.TrimPrefix(err.Error(), "yaml: ")}, nil
		}
	}
}

func checkTOML(path string) (*Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v map[string]interface{}
	if _, err := toml.Decode(string(data), &v); err != nil {
		msg := err.Error()
		var perr toml.ParseError
		if errors.As(err, &perr) {
			msg = fmt.Sprintf("Line %d: %s", perr.Position.Line, perr.Message)
		}
		return &Issue{Type: "TOML", Message: msg}, nil
	}
	return nil, nil
}

// lineAt returns the 1-based line containing byte offset off.
func lineAt(data []byte, off int64) int {
	if off > int64(len(data)) {
		off = int64(len(data))
	}
	return bytes.Count(data[:off], []byte("\n")) + 1
}

const maxMessage = 100

func clip(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxMessage {
		return s[:maxMessage]
	}
	return s
}

func phpError(out string) string {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "Parse error") || strings.Contains(line, "Fatal error") || strings.Contains(line, "syntax error") {
			if i := strings.Index(line, " in "); i > 0 {
				return clip(line[:i])
			}
			return clip(line)
		}
	}
	return clip(out)
}

func firstMatching(markers ...string) func(string) string {
	return func(out string) string {
		for _, line := range strings.Split(out, "\n") {
			for _, m := range markers {
				if strings.Contains(line, m) {
					return clip(line)
				}
			}
		}
		return clip(out)
	}
}
