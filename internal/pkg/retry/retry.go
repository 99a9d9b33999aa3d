// Package retry provides bounded retry with exponential backoff and a
// small closed error taxonomy for external-call failures. Classification
// drives both whether a failure is retried and how fast: authorization
// failures (credential propagation races) back off from a doubled base,
// validation failures are never retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Class categorizes a failure for retry purposes.
type Class int

const (
	// Connectivity covers offline, timeout and transient server errors.
	Connectivity Class = iota
	// Authorization covers credential-not-yet-propagated failures. These
	// resolve only after token propagation completes, which takes longer
	// than a network blip, so they back off from a doubled base delay.
	Authorization
	// Validation covers deterministic payload errors. Retrying cannot
	// succeed, so these fail after a single attempt.
	Validation
	// Unknown is everything else; treated like Connectivity for backoff.
	Unknown
)

var classNames = map[Class]string{
	Connectivity:  "connectivity",
	Authorization: "authorization",
	Validation:    "validation",
	Unknown:       "unknown",
}

// String returns the lowercase class name used in logs and telemetry.
func (c Class) String() string { return classNames[c] }

// ClassifiedError wraps an error with an explicit retry class. Callers that
// know the nature of a failure (an API client mapping status codes, for
// example) should return one of these so Execute doesn't have to guess.
type ClassifiedError struct {
	Class Class
	Err   error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %v", classNames[e.Class], e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Connectivityf returns a Connectivity-class error.
func Connectivityf(format string, args ...interface{}) error {
	return &ClassifiedError{Class: Connectivity, Err: fmt.Errorf(format, args...)}
}

// Authorizationf returns an Authorization-class error.
func Authorizationf(format string, args ...interface{}) error {
	return &ClassifiedError{Class: Authorization, Err: fmt.Errorf(format, args...)}
}

// Validationf returns a Validation-class error.
func Validationf(format string, args ...interface{}) error {
	return &ClassifiedError{Class: Validation, Err: fmt.Errorf(format, args...)}
}

// Classify determines the retry class of err. Explicitly classified errors
// win; otherwise network timeouts and context deadlines map to Connectivity
// and anything else to Unknown.
func Classify(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return Connectivity
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Connectivity
	}
	return Unknown
}

// Policy executes operations with classified exponential backoff.
// The zero value is not usable; construct with NewPolicy.
type Policy struct {
	maxAttempts int
	baseDelay   time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPolicy creates a retry policy. maxAttempts includes the first attempt
// (maxAttempts=3 means at most two retries). baseDelay is the first backoff
// interval for connectivity-class failures.
func NewPolicy(maxAttempts int, baseDelay time.Duration) *Policy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	return &Policy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepCtx,
	}
}

// SetSleep replaces the backoff sleep function (useful for testing).
func (p *Policy) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	p.sleep = fn
}

// Delay returns the backoff delay before retrying after the given attempt
// (1-based) failed with the given class: base*2^(attempt-1), with the base
// doubled for authorization failures.
func (p *Policy) Delay(attempt int, class Class) time.Duration {
	base := p.baseDelay
	if class == Authorization {
		base *= 2
	}
	return base << (attempt - 1)
}

// Execute invokes op up to maxAttempts times. Validation-class failures
// return immediately; other classes back off per Delay and retry. After
// exhaustion the last error is returned unchanged so callers can still
// inspect its class.
func (p *Policy) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		class := Classify(lastErr)
		if class == Validation {
			return lastErr
		}
		if attempt == p.maxAttempts {
			return lastErr
		}

		if err := p.sleep(ctx, p.Delay(attempt, class)); err != nil {
			return lastErr
		}
	}

	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
