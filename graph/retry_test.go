// ABOUTME: Tests for retry classification, backoff computation, and server delay hints.
// ABOUTME: Uses an injected sleep recorder so no test actually waits.
package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type timeoutNetErr struct{}

func (timeoutNetErr) Error() string { return "dial tcp: i/o timeout" }
func (timeoutNetErr) Timeout() bool { return true }

type rateLimitHintErr struct {
	after float64
	ok    bool
}

func (e rateLimitHintErr) Error() string { return "too many requests" }
func (e rateLimitHintErr) RetryAfterSeconds() (float64, bool) {
	return e.after, e.ok
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindFatal},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped deadline", fmt.Errorf("stage: %w", context.DeadlineExceeded), KindTimeout},
		{"net timeout", timeoutNetErr{}, KindTimeout},
		{"hinter", rateLimitHintErr{after: 5, ok: true}, KindRateLimited},
		{"status 429", errors.New("unexpected status 429"), KindRateLimited},
		{"rate message", errors.New("rate limit exceeded"), KindRateLimited},
		{"quota message", errors.New("quota exhausted for model"), KindRateLimited},
		{"transient other", errors.New("connection reset by peer"), KindFatal},
		{"malformed payload", errors.New("invalid character '<'"), KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// sleepRecorder captures requested delays instead of waiting.
func sleepRecorder(delays *[]time.Duration) func(context.Context, time.Duration) {
	return func(_ context.Context, d time.Duration) {
		*delays = append(*delays, d)
	}
}

func TestDoFatalErrorNoRetry(t *testing.T) {
	var delays []time.Duration
	x := &Executor{Sleep: sleepRecorder(&delays)}
	calls := 0
	err := x.Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second}, func(context.Context) error {
		calls++
		return errors.New("boom")
	})
	if err == nil || err.Error() != "boom" {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (fatal errors must not retry)", calls)
	}
	if len(delays) != 0 {
		t.Errorf("delays = %v, want none", delays)
	}
}

func TestDoTimeoutFixedDelay(t *testing.T) {
	var delays []time.Duration
	x := &Executor{Sleep: sleepRecorder(&delays)}
	calls := 0
	err := x.Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}, func(context.Context) error {
		calls++
		return timeoutNetErr{}
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Kind != KindTimeout {
		t.Errorf("kind = %v, want timeout", exhausted.Kind)
	}
	if exhausted.Attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3 each", exhausted.Attempts, calls)
	}
	want := []time.Duration{2 * time.Second, 2 * time.Second}
	if len(delays) != 2 || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("delays = %v, want %v (timeouts use a fixed delay)", delays, want)
	}
}

func TestDoRateLimitExponentialDelay(t *testing.T) {
	var delays []time.Duration
	x := &Executor{Sleep: sleepRecorder(&delays)}
	err := x.Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}, func(context.Context) error {
		return errors.New("429 too many requests")
	})

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if exhausted.Kind != KindRateLimited {
		t.Errorf("kind = %v, want rate-limited", exhausted.Kind)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(delays) != 2 || delays[0] != want[0] || delays[1] != want[1] {
		t.Errorf("delays = %v, want %v (rate limits back off exponentially)", delays, want)
	}
}

func TestDoServerHintOverridesBackoff(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"interface hint", rateLimitHintErr{after: 7.5, ok: true}, 7500 * time.Millisecond},
		{"message hint", errors.New("rate limited, retry in 2.5s"), 2500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var delays []time.Duration
			x := &Executor{Sleep: sleepRecorder(&delays)}
			attempts := 0
			err := x.Do(context.Background(), Policy{MaxAttempts: 2, BaseDelay: time.Minute}, func(context.Context) error {
				attempts++
				if attempts == 1 {
					return tt.err
				}
				return nil
			})
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			if len(delays) != 1 || delays[0] != tt.want {
				t.Errorf("delays = %v, want [%v]", delays, tt.want)
			}
		})
	}
}

func TestDoRecoversBeforeExhaustion(t *testing.T) {
	var delays []time.Duration
	x := &Executor{Sleep: sleepRecorder(&delays)}
	attempts := 0
	err := x.Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second}, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return timeoutNetErr{}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoParentCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	x := &Executor{Sleep: func(context.Context, time.Duration) {}}
	calls := 0
	err := x.Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Second}, func(context.Context) error {
		calls++
		cancel()
		return timeoutNetErr{}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoOnRetryCallback(t *testing.T) {
	type retryCall struct {
		attempt int
		kind    ErrorKind
	}
	var seen []retryCall
	x := &Executor{
		Sleep: func(context.Context, time.Duration) {},
		OnRetry: func(attempt int, kind ErrorKind, _ time.Duration, _ error) {
			seen = append(seen, retryCall{attempt, kind})
		},
	}
	_ = x.Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second}, func(context.Context) error {
		return errors.New("429")
	})
	if len(seen) != 2 {
		t.Fatalf("OnRetry calls = %d, want 2", len(seen))
	}
	if seen[0].attempt != 1 || seen[1].attempt != 2 {
		t.Errorf("attempts = %v, want 1 then 2", seen)
	}
	if seen[0].kind != KindRateLimited {
		t.Errorf("kind = %v, want rate-limited", seen[0].kind)
	}
}

func TestExecuteReturnsValue(t *testing.T) {
	x := &Executor{Sleep: func(context.Context, time.Duration) {}}
	attempts := 0
	got, err := Execute(context.Background(), x, Policy{MaxAttempts: 2, BaseDelay: time.Second}, func(context.Context) (string, error) {
		attempts++
		if attempts == 1 {
			return "partial", timeoutNetErr{}
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got != "done" {
		t.Errorf("got %q, want done (partial results must be discarded)", got)
	}
}
