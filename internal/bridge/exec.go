package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// commandOutput captures one helper invocation.
type commandOutput struct {
	Stdout string
	Stderr string
}

// commandFunc runs the helper once. Injectable so tests never spawn a
// process.
type commandFunc func(ctx context.Context, helperPath string, args []string) (commandOutput, error)

// runHelper executes the compiled UIA helper with a hard deadline. Timeouts
// and non-zero exits come back as *CommandError so the retry policy can
// classify them; a failure to launch at all is returned unwrapped.
func runHelper(ctx context.Context, helperPath string, args []string) (commandOutput, error) {
	cmd := exec.CommandContext(ctx, helperPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := commandOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return out, &CommandError{
			TimedOut: true,
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			Err:      ctx.Err(),
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, &CommandError{
			ExitCode: exitErr.ExitCode(),
			Stdout:   out.Stdout,
			Stderr:   out.Stderr,
			Err:      err,
		}
	}

	return out, fmt.Errorf("launch helper %s: %w", helperPath, err)
}

// withTimeout narrows the parent context to the per-call budget.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
