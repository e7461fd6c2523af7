// Package checklist runs a task's verification commands.
//
// Checks come from the scope and from the project's
// .chainguard/checklist.toml. They run concurrently with a bounded fan-out;
// each check has its own timeout and a failing check never cancels its
// siblings.
package checklist

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/chainguard/internal/execx"
)

const (
	// FileName is the project checklist file, relative to the project root.
	FileName = ".chainguard/checklist.toml"

	DefaultParallelism = 4
	DefaultTimeout     = 60 * time.Second
)

// ErrInvalidChecklist is returned for malformed checklist files.
var ErrInvalidChecklist = errors.New("invalid checklist")

// Check is one named verification command.
type Check struct {
	Name    string `toml:"name" json:"name"`
	Command string `toml:"command" json:"command"`
}

// Result is the outcome of one check.
type Result struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Output   string        `json:"output,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Detail returns a one-line explanation of a failed check.
func (r Result) Detail() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	line, _, _ := strings.Cut(r.Output, "\n")
	return line
}

// Options configure a Runner.
type Options struct {
	Parallelism int
	Timeout     time.Duration
	Logger      *zap.Logger
}

// Runner executes checklists.
type Runner struct {
	exec *execx.Runner
	opts Options
}

// NewRunner creates a checklist runner on top of an execx runner.
func NewRunner(r *execx.Runner, opts Options) *Runner {
	if opts.Parallelism < 1 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{exec: r, opts: opts}
}

// RunAll runs every check in root and returns results in input order.
func (r *Runner) RunAll(ctx context.Context, root string, checks []Check) []Result {
	results := make([]Result, len(checks))

	var g errgroup.Group
	g.SetLimit(r.opts.Parallelism)
	for i, c := range checks {
		g.Go(func() error {
			results[i] = r.run(ctx, root, c)
			return nil
		})
	}
	_ = g.Wait()

	passed := 0
	for _, res := range results {
		if res.Passed {
			passed++
		}
	}
	r.opts.Logger.Info("checklist finished",
		zap.String("root", root),
		zap.Int("checks", len(checks)),
		zap.Int("passed", passed))
	return results
}

func (r *Runner) run(ctx context.Context, root string, c Check) Result {
	start := time.Now()
	out, err := r.exec.RunLine(ctx, root, c.Command, r.opts.Timeout)
	res := Result{
		Name:     c.Name,
		Passed:   err == nil && out.OK(),
		Output:   out.Output(),
		Err:      err,
		Duration: time.Since(start),
	}
	if !res.Passed {
		r.opts.Logger.Debug("check failed",
			zap.String("check", c.Name),
			zap.Int("exit_code", out.ExitCode),
			zap.Error(err))
	}
	return res
}

type file struct {
	Check []Check `toml:"check"`
}

// Load reads root's checklist file. A missing file yields no checks.
func Load(root string) ([]Check, error) {
	path := filepath.Join(root, FileName)
	var f file
	if _, err := toml.DecodeFile(path, &f); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidChecklist, path, err)
	}
	for i, c := range f.Check {
		if strings.TrimSpace(c.Command) == "" {
			return nil, fmt.Errorf("%w: %s: check %d has no command", ErrInvalidChecklist, path, i+1)
		}
		if strings.TrimSpace(c.Name) == "" {
			f.Check[i].Name = c.Command
		}
	}
	return f.Check, nil
}

// Merge returns primary followed by the checks of extra whose names are
// not already present.
func Merge(primary, extra []Check) []Check {
	seen := make(map[string]bool, len(primary))
	out := make([]Check, 0, len(primary)+len(extra))
	for _, c := range primary {
		seen[c.Name] = true
		out = append(out, c)
	}
	for _, c := range extra {
		if !seen[c.Name] {
			seen[c.Name] = true
			out = append(out, c)
		}
	}
	return out
}
