package bridge

import (
	"errors"
	"time"
)

// Policy bounds how helper invocations are retried: a fixed attempt count, a
// backoff schedule, and a classifier separating transient communication
// failures from fatal ones.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(err error) bool
}

// LinearBackoff grows the wait linearly with the attempt number, capped.
func LinearBackoff(base, cap time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		wait := base * time.Duration(attempt)
		if wait > cap {
			wait = cap
		}
		return wait
	}
}

// IsTransient classifies helper failures: timeouts and non-zero exits are
// communication failures worth another attempt; anything else (helper binary
// missing, protocol errors) fails immediately.
func IsTransient(err error) bool {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.TimedOut || cmdErr.ExitCode != 0
	}
	return false
}

// DefaultPolicy is the bounded two-attempt policy with linear backoff the
// bridge ships with.
func DefaultPolicy(maxAttempts int, base, cap time.Duration) Policy {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	return Policy{
		MaxAttempts: maxAttempts,
		Backoff:     LinearBackoff(base, cap),
		Retryable:   IsTransient,
	}
}
