// Package execx runs external commands for validators and checklists.
//
// Every command must name an allow-listed program. Command lines are split
// without a shell and any shell metacharacter is rejected, so a check can
// never chain, redirect or substitute. Each run is bounded by a timeout and
// the spawn rate is limited across the whole process.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds a single command.
	DefaultTimeout = 10 * time.Second
	// DefaultMaxOutput caps captured stdout and stderr, each.
	DefaultMaxOutput = 64 * 1024
)

var (
	// ErrTimedOut is returned when a command outlives its timeout.
	ErrTimedOut = errors.New("command timed out")
	// ErrEmptyCommand is returned for blank command lines.
	ErrEmptyCommand = errors.New("empty command")
)

// DisallowedCommandError rejects a command before it is started.
type DisallowedCommandError struct {
	Command string
	Reason  string
}

func (e *DisallowedCommandError) Error() string {
	return fmt.Sprintf("command %q not allowed: %s", e.Command, e.Reason)
}

// Options configure a Runner.
type Options struct {
	Allowed   []string
	Timeout   time.Duration
	Rate      float64 // spawns per second
	Burst     int
	MaxOutput int
	Logger    *zap.Logger
	Metrics   *Metrics
}

// Cmd is one command invocation.
type Cmd struct {
	Dir  string
	Args []string
	// Timeout overrides the runner default when positive.
	Timeout time.Duration
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// OK reports a zero exit code.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Output returns stderr when present, stdout otherwise.
func (r Result) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// Runner executes allow-listed commands.
type Runner struct {
	allowed map[string]bool
	opts    Options
	limiter *rate.Limiter
}

// New creates a runner.
func New(opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Rate <= 0 {
		opts.Rate = 10
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	allowed := make(map[string]bool, len(opts.Allowed))
	for _, name := range opts.Allowed {
		allowed[name] = true
	}
	return &Runner{
		allowed: allowed,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
	}
}

// Allowed returns the allow-listed program names, sorted.
func (r *Runner) Allowed() []string {
	out := make([]string, 0, len(r.allowed))
	for name := range r.allowed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Check reports whether args may be run.
func (r *Runner) Check(args []string) error {
	if len(args) == 0 || args[0] == "" {
		return ErrEmptyCommand
	}
	prog := args[0]
	if strings.ContainsAny(prog, `/\`) {
		return &DisallowedCommandError{Command: prog, Reason: "program must be a bare name"}
	}
	if !r.allowed[prog] {
		return &DisallowedCommandError{Command: prog, Reason: "not in allow-list"}
	}
	return nil
}

// Run executes c. A non-zero exit is reported in the Result, not as an
// error. Errors mean the command was rejected, could not start or timed out.
func (r *Runner) Run(ctx context.Context, c Cmd) (Result, error) {
	if err := r.Check(c.Args); err != nil {
		r.opts.Metrics.Commands.WithLabelValues("rejected").Inc()
		return Result{}, err
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("waiting to run %s: %w", c.Args[0], err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = r.opts.Timeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Args[0], c.Args[1:]...)
	cmd.Dir = c.Dir
	cmd.WaitDelay = time.Second
	stdout := &cappedBuffer{max: r.opts.MaxOutput}
	stderr := &cappedBuffer{max: r.opts.MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}
	r.opts.Metrics.Duration.Observe(res.Duration.Seconds())

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			r.opts.Metrics.Commands.WithLabelValues("error").Inc()
			return res, fmt.Errorf("running %s: %w", c.Args[0], ctx.Err())
		}
		r.opts.Metrics.Commands.WithLabelValues("timeout").Inc()
		r.opts.Logger.Warn("command timed out",
			zap.String("command", c.Args[0]),
			zap.Duration("timeout", timeout))
		return res, fmt.Errorf("%s after %v: %w", c.Args[0], timeout, ErrTimedOut)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		r.opts.Metrics.Commands.WithLabelValues("ok").Inc()
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		r.opts.Metrics.Commands.WithLabelValues("failed").Inc()
	default:
		r.opts.Metrics.Commands.WithLabelValues("error").Inc()
		return res, fmt.Errorf("running %s: %w", c.Args[0], err)
	}

	r.opts.Logger.Debug("command finished",
		zap.String("command", c.Args[0]),
		zap.Int("exit_code", res.ExitCode),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// RunLine parses line with Split and runs it in dir.
func (r *Runner) RunLine(ctx context.Context, dir, line string, timeout time.Duration) (Result, error) {
	args, err := Split(line)
	if err != nil {
		r.opts.Metrics.Commands.WithLabelValues("rejected").Inc()
		return Result{}, err
	}
	return r.Run(ctx, Cmd{Dir: dir, Args: args, Timeout: timeout})
}

// cappedBuffer keeps the first max bytes written and discards the rest.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
			b.truncated = true
		} else {
			b.buf.Write(p)
		}
	} else if len(p) > 0 {
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]"
	}
	return b.buf.String()
}
