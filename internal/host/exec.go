// Package host runs processes on the local machine: systemd units, camera
// tools and the deferred actions requested over SMS.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout is used by adapters that poll hardware tools (mmcli,
// i2cget). Actions run on behalf of a command are not bounded.
const DefaultTimeout = 30 * time.Second

// Result is the outcome of one process invocation.
type Result struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// OK reports whether the process ran and exited with status 0.
func (r Result) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// String renders the result in the arg/out/err layout used by the logs.
func (r Result) String() string {
	return fmt.Sprintf("arg:\n%s\nexit: %d\nout:\n%s\nerr:\n%s",
		strings.Join(r.Args, " "), r.ExitCode, r.Stdout, r.Stderr)
}

// Runner starts processes. A zero Runner applies no deadline.
type Runner struct {
	Timeout time.Duration
}

// NewRunner returns a Runner that bounds every invocation by timeout.
func NewRunner(timeout time.Duration) *Runner {
	return &Runner{Timeout: timeout}
}

// Run executes args[0] with the remaining arguments and waits for it.
// stdout and stderr are captured separately.
func (r *Runner) Run(ctx context.Context, args ...string) Result {
	res := Result{Args: args}
	if len(args) == 0 {
		res.ExitCode = -1
		res.Err = errors.New("empty command")
		return res
	}

	if r != nil && r.Timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.Timeout)
			defer cancel()
		}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExitCode = ExitCode(err)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%s: command timed out", args[0])
		}
		res.Err = err
	}
	return res
}

// ExitCode returns the process exit status carried by err: 0 for nil, the
// exit code for *exec.ExitError, -1 when the process never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
	}
	return -1
}

// Describe returns a short message for err without leaking output.
func Describe(operation string, err error) string {
	if err == nil {
		return ""
	}
	if strings.Contains(err.Error(), "timed out") || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("%s: command timed out", operation)
	}
	if code := ExitCode(err); code >= 0 {
		return fmt.Sprintf("%s failed (exit code %d)", operation, code)
	}
	return fmt.Sprintf("%s failed", operation)
}
