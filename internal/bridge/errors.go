package bridge

import (
	"fmt"
	"strings"
)

// Error reports a communication failure with the UIA helper after the retry
// budget is exhausted. It is scan-fatal: the orchestrator aborts the run
// rather than retrying at batch level.
type Error struct {
	Action      string
	Key         string
	Attempts    int
	Diagnostics []string // captured output of every attempt
	Err         error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("failed to %s %q after %d attempt(s): %v", e.Action, e.Key, e.Attempts, e.Err)
	if len(e.Diagnostics) > 0 {
		msg += "\n" + strings.Join(e.Diagnostics, "\n")
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ProtocolError reports a structurally invalid or empty response from the
// control surface. It is never retried: the surface answered, the answer is
// just unusable, so the external state must be treated as inconsistent.
type ProtocolError struct {
	Key string
	Msg string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %q: %s", e.Key, e.Msg)
}

// CommandError is one failed helper invocation: a timeout or a non-zero
// exit. Both are transient classes the retry policy may attempt again.
type CommandError struct {
	ExitCode int
	TimedOut bool
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("helper timed out: %v", e.Err)
	}
	return fmt.Sprintf("helper exited with code %d: %v", e.ExitCode, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }
