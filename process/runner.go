package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os/exec"
	"syscall"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/observability"
	"github.com/rs/zerolog"
)

const (
	DefaultGracePeriod = 5 * time.Second
	DefaultMaxOutput   = 4 << 20
	stderrTailBytes    = 2048
)

// ErrTimeout is returned when a command exceeds its Command.Timeout.
var ErrTimeout = errors.New("process timed out")

// Command describes one invocation of an external tool.
type Command struct {
	// Tool is a short label used in logs and metrics ("ffmpeg").
	Tool    string
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
	Stdin   io.Reader
}

type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner abstracts external command execution so adapters can be tested
// without the real binaries.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExitError reports a non-zero exit with the tail of the tool's stderr.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with code %d: %v", e.Tool, e.Code, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d: %v\nStderr: %s", e.Tool, e.Code, e.Err, e.Stderr)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExecRunner executes commands on the local host.
type ExecRunner struct {
	Logger      zerolog.Logger
	GracePeriod time.Duration
	MaxOutput   int
}

func NewExecRunner(logger zerolog.Logger, gracePeriod time.Duration) *ExecRunner {
	return &ExecRunner{Logger: logger, GracePeriod: gracePeriod}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	tool := c.Tool
	if tool == "" {
		tool = c.Path
	}

	runCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeoutCause(ctx, c.Timeout, ErrTimeout)
		defer cancel()
	}

	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}

	cmd := exec.CommandContext(runCtx, c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	cmd.Stdin = c.Stdin
	stdout := newTailBuffer(limit)
	stderr := newTailBuffer(limit)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// SIGTERM first so ffmpeg can finalize; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	r.Logger.Debug().Str("tool", tool).Strs("args", c.Args).Msg("process start")

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}

	if err == nil {
		observability.RecordProcessRun(tool, "ok", res.Duration)
		r.Logger.Debug().Str("tool", tool).Dur("duration", res.Duration).Msg("process done")
		return res, nil
	}

	res.ExitCode = exitCode(err)

	if ctxErr := runCtx.Err(); ctxErr != nil {
		outcome := "cancelled"
		cause := context.Cause(runCtx)
		if errors.Is(cause, ErrTimeout) {
			outcome = "timeout"
		} else if parentErr := ctx.Err(); parentErr != nil {
			cause = parentErr
		}
		observability.RecordProcessRun(tool, outcome, res.Duration)
		r.Logger.Warn().Str("tool", tool).Str("outcome", outcome).Dur("duration", res.Duration).Msg("process interrupted")
		return res, fmt.Errorf("%s: %w", tool, cause)
	}

	observability.RecordProcessRun(tool, "error", res.Duration)
	r.Logger.Warn().Err(err).Str("tool", tool).Int("exit_code", res.ExitCode).Msg("process failed")
	return res, &ExitError{
		Tool:   tool,
		Code:   res.ExitCode,
		Stderr: StderrTail(res.Stderr),
		Err:    err,
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return 1
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) || errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return 127
	}
	return 1
}

// StderrTail returns at most the last 2 KiB of stderr output.
func StderrTail(stderr []byte) string {
	if len(stderr) > stderrTailBytes {
		stderr = stderr[len(stderr)-stderrTailBytes:]
	}
	return string(stderr)
}

// LookPath resolves a tool binary, failing early when it is not installed.
func LookPath(path string) (string, error) {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", fmt.Errorf("required tool %q not found: %w", path, err)
	}
	return resolved, nil
}
