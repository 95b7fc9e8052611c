// Package retry classifies chunk failures and drives bounded exponential
// backoff around a single chunk invocation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrRetriesExhausted wraps the last transient error once MaxAttempts is reached.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Class is a failure classification.
type Class int

const (
	ClassNone      Class = iota // No failure
	ClassTransient              // Eligible for retry
	ClassFatal                  // Surfaces immediately
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Policy holds retry configuration for one chunk invocation.
type Policy struct {
	MaxAttempts int           // Total attempts including the first (default: 3)
	BackoffBase time.Duration // Delay before the second attempt (default: 1s)
	MaxBackoff  time.Duration // Upper bound on any single delay (default: 60s, 0 = unbounded)
	Jitter      float64       // Random extra delay as a fraction of BackoffBase, in [0, 1)
}

// DefaultPolicy returns the default retry configuration.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		MaxBackoff:  60 * time.Second,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1 (got %d)", p.MaxAttempts)
	}
	if p.BackoffBase < 0 {
		return fmt.Errorf("backoff_base cannot be negative (got %v)", p.BackoffBase)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1) (got %v)", p.Jitter)
	}
	return nil
}

// Delay returns the wait after the given failed attempt (1-based):
// BackoffBase * 2^(attempt-1), capped at MaxBackoff. Jitter is not applied.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Class Class
	Retry bool
	Wait  time.Duration
}

// Decide reports whether a failed attempt should be retried and how long to
// wait first. It has no side effects.
func (p Policy) Decide(attempt int, err error) Decision {
	class := Classify(err)
	d := Decision{Class: class}
	if class == ClassTransient && attempt < p.MaxAttempts {
		d.Retry = true
		d.Wait = p.Delay(attempt)
	}
	return d
}

// Schedule adapts a Policy to backoff.BackOff. It returns backoff.Stop once
// MaxAttempts attempts have been made.
type Schedule struct {
	policy  Policy
	attempt int
}

// NewSchedule creates a fresh schedule for one chunk.
func (p Policy) NewSchedule() *Schedule {
	return &Schedule{policy: p}
}

// NextBackOff implements backoff.BackOff.
func (s *Schedule) NextBackOff() time.Duration {
	s.attempt++
	if s.attempt >= s.policy.MaxAttempts {
		return backoff.Stop
	}
	d := s.policy.Delay(s.attempt)
	if s.policy.Jitter > 0 && s.policy.BackoffBase > 0 {
		d += time.Duration(rand.Float64() * s.policy.Jitter * float64(s.policy.BackoffBase))
	}
	return d
}

// Reset implements backoff.BackOff.
func (s *Schedule) Reset() {
	s.attempt = 0
}

// Operation is one attempt. attempt is 1-based.
type Operation func(ctx context.Context, attempt int) error

// Notify is called after each failed attempt that will be retried.
type Notify func(attempt int, err error, wait time.Duration)

// Do runs op until it succeeds, fails fatally, or exhausts MaxAttempts.
// It returns the number of attempts made. After the cap the returned error
// wraps both ErrRetriesExhausted and the last failure.
func (p Policy) Do(ctx context.Context, op Operation, notify Notify) (int, error) {
	attempts := 0
	var lastClass Class

	operation := func() error {
		attempts++
		err := op(ctx, attempts)
		if err == nil {
			return nil
		}
		lastClass = Classify(err)
		if lastClass == ClassFatal {
			return backoff.Permanent(err)
		}
		return err
	}

	onRetry := func(err error, wait time.Duration) {
		slog.Debug("Retrying after transient failure",
			"attempt", attempts,
			"maxAttempts", p.MaxAttempts,
			"wait", wait,
			"error", err)
		if notify != nil {
			notify(attempts, err, wait)
		}
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(p.NewSchedule(), ctx), onRetry)
	if err == nil {
		return attempts, nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return attempts, err
	}
	if lastClass == ClassTransient && attempts >= p.MaxAttempts {
		return attempts, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
	return attempts, err
}

// temporary is implemented by errors that know their own retry class,
// such as provider failures.
type temporary interface {
	Temporary() bool
}

// Classify determines whether an error is transient or fatal.
//
// Order: context cancellation, missing binary, self-classifying errors,
// then string markers. Unrecognized failures are treated as transient.
func Classify(err error) Class {
	if err == nil {
		return ClassNone
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var execErr *exec.Error
	if errors.Is(err, exec.ErrNotFound) || errors.As(err, &execErr) {
		return ClassFatal
	}

	var t temporary
	if errors.As(err, &t) {
		if t.Temporary() {
			return ClassTransient
		}
		return ClassFatal
	}

	return ClassifyText(err.Error())
}

// Status codes only count as whole tokens so digits inside request ids,
// durations or token counts do not match.
var (
	fatalStatusRegex     = regexp.MustCompile(`\b(401|403)\b`)
	transientStatusRegex = regexp.MustCompile(`\b(429|500|502|503|504|529)\b`)
)

var fatalMarkers = []string{
	"authentication",
	"unauthorized",
	"invalid api key",
	"invalid x-api-key",
	"not logged in",
	"please run /login",
	"permission denied",
	"unknown option",
	"unknown argument",
	"unrecognized option",
	"unexpected argument",
	"invalid value for",
	"command not found",
	"executable file not found",
}

var transientMarkers = []string{
	"rate limit",
	"overloaded",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"temporary failure",
	"network",
}

// ClassifyText classifies a failure from its message or stderr text.
// Fatal markers win over transient ones.
func ClassifyText(text string) Class {
	lower := strings.ToLower(text)
	if fatalStatusRegex.MatchString(lower) {
		return ClassFatal
	}
	for _, m := range fatalMarkers {
		if strings.Contains(lower, m) {
			return ClassFatal
		}
	}
	if transientStatusRegex.MatchString(lower) {
		return ClassTransient
	}
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return ClassTransient
		}
	}
	return ClassTransient
}

// HasTransientMarker reports whether text contains a recognizable
// transient-failure marker.
func HasTransientMarker(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range transientMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
