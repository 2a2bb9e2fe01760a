// Package bridge is the narrow, retryable request/response interface to the
// external control surface: invoke a named control, set a control's value,
// and collect a tabular control's contents. Control keys are opaque, stable
// identifiers; resolving them to on-screen elements is the helper's concern.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/drillops/cerberus/internal/model"
)

const (
	actionInvoke  = "invoke"
	actionSet     = "set-value"
	actionCollect = "collect-table"
)

// Table is the parsed contents of a tabular control.
type Table struct {
	Headers []string   `json:"Headers"`
	Rows    [][]string `json:"Rows"`
}

// Bridge drives the compiled UIA helper subprocess with bounded retry.
type Bridge struct {
	cfg    model.BridgeConfig
	policy Policy
	logger *log.Logger

	// Injection points for tests.
	runCommand commandFunc
	sleep      func(time.Duration)
}

// New builds a bridge from config with the default transient-failure policy.
func New(cfg model.BridgeConfig, logger *log.Logger) *Bridge {
	base := time.Duration(cfg.BackoffBaseMs) * time.Millisecond
	max := time.Duration(cfg.BackoffCapMs) * time.Millisecond
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 2 * time.Second
	}
	return &Bridge{
		cfg:        cfg,
		policy:     DefaultPolicy(cfg.MaxAttempts, base, max),
		logger:     logger,
		runCommand: runHelper,
		sleep:      time.Sleep,
	}
}

// SetPolicy overrides the retry policy (tests, tuning).
func (b *Bridge) SetPolicy(p Policy) { b.policy = p }

// SetCommandFunc overrides the helper launcher for testing.
func (b *Bridge) SetCommandFunc(f commandFunc) { b.runCommand = f }

// SetSleepFunc overrides the backoff sleep for testing.
func (b *Bridge) SetSleepFunc(f func(time.Duration)) { b.sleep = f }

// Invoke triggers the named control (menu item, button, tab).
func (b *Bridge) Invoke(ctx context.Context, key string, timeout time.Duration) error {
	_, err := b.execute(ctx, actionInvoke, key, nil, timeout)
	return err
}

// SetValue writes a value into the named control (edit field, checkbox).
func (b *Bridge) SetValue(ctx context.Context, key, value string, timeout time.Duration) error {
	_, err := b.execute(ctx, actionSet, key, []string{value}, timeout)
	return err
}

// CollectTable reads the named tabular control. A malformed or empty payload
// is a *ProtocolError and is never retried: the retry policy covers only
// communication failures, not structurally invalid answers.
func (b *Bridge) CollectTable(ctx context.Context, key string, timeout time.Duration) (Table, error) {
	stdout, err := b.execute(ctx, actionCollect, key, nil, timeout)
	if err != nil {
		return Table{}, err
	}

	var table Table
	if err := json.Unmarshal([]byte(stdout), &table); err != nil {
		return Table{}, &ProtocolError{Key: key, Msg: fmt.Sprintf("malformed table payload: %v", err)}
	}
	if len(table.Rows) == 0 {
		return Table{}, &ProtocolError{Key: key, Msg: "table returned no rows"}
	}
	return table, nil
}

func (b *Bridge) execute(ctx context.Context, action, key string, extra []string, timeout time.Duration) (string, error) {
	args := b.commandArgs(action, key, extra)

	var diagnostics []string
	for attempt := 1; ; attempt++ {
		callCtx, cancel := withTimeout(ctx, timeout)
		out, err := b.runCommand(callCtx, b.cfg.HelperPath, args)
		cancel()
		if err == nil {
			return out.Stdout, nil
		}

		diagnostics = append(diagnostics, formatDiagnostic(attempt, err, out))

		if attempt >= b.policy.MaxAttempts || !b.policy.Retryable(err) {
			return "", &Error{
				Action:      action,
				Key:         key,
				Attempts:    attempt,
				Diagnostics: diagnostics,
				Err:         err,
			}
		}

		wait := b.policy.Backoff(attempt)
		b.logf("%s %q failed (attempt %d/%d); retrying in %s", action, key, attempt, b.policy.MaxAttempts, wait)
		b.sleep(wait)
	}
}

func (b *Bridge) commandArgs(action, key string, extra []string) []string {
	var args []string
	if b.cfg.DumpPath != "" {
		args = append(args, "--dump", b.cfg.DumpPath)
	}
	if b.cfg.WindowRegex != "" {
		args = append(args, "--window-regex", b.cfg.WindowRegex)
	}
	args = append(args, action, key)
	return append(args, extra...)
}

func formatDiagnostic(attempt int, err error, out commandOutput) string {
	parts := []string{fmt.Sprintf("attempt %d: %v", attempt, err)}
	if text := strings.TrimSpace(out.Stdout); text != "" {
		parts = append(parts, "stdout: "+text)
	}
	if text := strings.TrimSpace(out.Stderr); text != "" {
		parts = append(parts, "stderr: "+text)
	}
	return strings.Join(parts, "\n")
}

func (b *Bridge) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf("[bridge] "+format, args...)
	}
}
