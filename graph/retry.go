// ABOUTME: Retry executor wrapping unreliable remote calls with timeout enforcement and classified backoff.
// ABOUTME: Timeouts retry on a fixed base delay; rate limits back off exponentially unless the server hints a delay.
package graph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Policy bounds a retried operation.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay seeds backoff: the fixed delay after a timeout, and the base
	// of the exponential delay after a rate limit.
	BaseDelay time.Duration
	// Timeout is the wall-clock budget per attempt. Zero means no budget.
	Timeout time.Duration
}

// DefaultPolicy mirrors the pipeline defaults: 3 attempts, 2s base delay,
// 5 minute per-attempt budget.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Timeout: 5 * time.Minute}
}

// ErrorKind classifies a remote-call failure.
type ErrorKind int

const (
	// KindFatal covers errors that are not retried.
	KindFatal ErrorKind = iota
	// KindTimeout covers wall-clock budget exhaustion.
	KindTimeout
	// KindRateLimited covers quota and backpressure signals.
	KindRateLimited
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

// ExhaustedError is the terminal error after MaxAttempts retryable failures.
// Kind records the classification of the final attempt, distinguishing
// "exceeded retries due to timeout" from "exceeded retries due to rate
// limiting".
type ExhaustedError struct {
	Kind     ErrorKind
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	switch e.Kind {
	case KindTimeout:
		return fmt.Sprintf("exceeded %d attempt(s) due to timeouts: %v", e.Attempts, e.Last)
	case KindRateLimited:
		return fmt.Sprintf("exceeded %d attempt(s) due to rate limiting: %v", e.Attempts, e.Last)
	default:
		return fmt.Sprintf("exceeded %d attempt(s): %v", e.Attempts, e.Last)
	}
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// retryAfterHinter is implemented by errors that carry a server-provided
// delay hint (e.g. a 429 with Retry-After).
type retryAfterHinter interface {
	RetryAfterSeconds() (float64, bool)
}

// retryInPattern matches delay hints embedded in provider error messages,
// e.g. "quota exceeded, retry in 2.5s".
var retryInPattern = regexp.MustCompile(`retry in ([0-9]*\.?[0-9]+)s`)

// Classify maps an error to its retry classification. Deadline errors and
// net-style Timeout() errors are timeouts; recognizable quota/backpressure
// signals are rate limits; everything else is fatal and propagates without
// automatic retry.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindFatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var timeoutErr interface{ Timeout() bool }
	if errors.As(err, &timeoutErr) && timeoutErr.Timeout() {
		return KindTimeout
	}
	var hinter retryAfterHinter
	if errors.As(err, &hinter) {
		return KindRateLimited
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate") || strings.Contains(msg, "quota") {
		return KindRateLimited
	}
	return KindFatal
}

// serverDelayHint extracts a server-provided retry delay from an error,
// either via the retryAfterHinter interface or a "retry in Xs" message
// fragment. The hint takes precedence over computed backoff.
func serverDelayHint(err error) (time.Duration, bool) {
	var hinter retryAfterHinter
	if errors.As(err, &hinter) {
		if secs, ok := hinter.RetryAfterSeconds(); ok {
			return time.Duration(secs * float64(time.Second)), true
		}
	}
	if m := retryInPattern.FindStringSubmatch(err.Error()); m != nil {
		if secs, parseErr := strconv.ParseFloat(m[1], 64); parseErr == nil {
			return time.Duration(secs * float64(time.Second)), true
		}
	}
	return 0, false
}

// Executor runs operations under a retry Policy. The zero value is usable;
// Sleep and OnRetry exist so tests can observe delays without waiting.
type Executor struct {
	// Sleep is the delay function; nil means a context-aware real sleep.
	Sleep func(ctx context.Context, d time.Duration)
	// OnRetry, if set, is called before each retry sleep with the attempt
	// number (1-based), the failure classification, and the chosen delay.
	OnRetry func(attempt int, kind ErrorKind, delay time.Duration, err error)
}

// Do executes op under the policy. Each retry re-executes the entire
// operation; partial results from a failed attempt are never reused. Fatal
// errors propagate immediately. After MaxAttempts retryable failures Do
// returns an ExhaustedError carrying the dominant failure kind.
func (x *Executor) Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) error {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	baseDelay := policy.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}

	var lastErr error
	var lastKind ErrorKind

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if policy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
		}
		err := op(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		// Budget exhaustion inside the attempt surfaces as the attempt
		// context's deadline; the parent being cancelled is not a timeout.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		kind := Classify(err)
		if kind == KindFatal {
			return err
		}
		lastErr = err
		lastKind = kind

		if attempt == maxAttempts-1 {
			break
		}

		var delay time.Duration
		switch kind {
		case KindTimeout:
			delay = baseDelay
		case KindRateLimited:
			if hint, ok := serverDelayHint(err); ok {
				delay = hint
			} else {
				delay = baseDelay << uint(attempt)
			}
		}
		if x.OnRetry != nil {
			x.OnRetry(attempt+1, kind, delay, err)
		}
		x.sleep(ctx, delay)
	}

	return &ExhaustedError{Kind: lastKind, Attempts: maxAttempts, Last: lastErr}
}

func (x *Executor) sleep(ctx context.Context, d time.Duration) {
	if x.Sleep != nil {
		x.Sleep(ctx, d)
		return
	}
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Execute runs an operation returning a value under the policy. The zero
// value of T is returned alongside any terminal error; results from failed
// attempts are discarded, never merged with a later attempt's result.
func Execute[T any](ctx context.Context, x *Executor, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := x.Do(ctx, policy, func(attemptCtx context.Context) error {
		var zero T
		result = zero
		v, opErr := op(attemptCtx)
		if opErr != nil {
			return opErr
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
