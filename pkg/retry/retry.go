package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Ratio1/collection_sdk_go/internal/logger"
	"github.com/Ratio1/collection_sdk_go/internal/metrics"
)

// Policy bounds the retry loop for one invocation.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the wait after the first failed attempt.
	BaseDelay time.Duration
	// Factor multiplies the delay after each further failure.
	Factor float64
}

// DefaultPolicy retries three times starting at 300ms and doubling.
var DefaultPolicy = Policy{
	MaxRetries: 3,
	BaseDelay:  300 * time.Millisecond,
	Factor:     2,
}

// Normalize fills zero BaseDelay and Factor with the defaults and clamps
// negative retry counts to zero.
func (p Policy) Normalize() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.Factor <= 0 {
		p.Factor = DefaultPolicy.Factor
	}
	return p
}

// Error is returned once an operation has exhausted its retries.
type Error struct {
	Op       string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Op == "" {
		return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes the error returned by the final attempt.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the sink for attempt and terminal-failure logs.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNotifier sets the user-facing notification channel.
func WithNotifier(n Notifier) Option {
	return func(e *Executor) {
		if n != nil {
			e.notifier = n
		}
	}
}

// WithSleep overrides how the executor waits between attempts (useful in tests).
func WithSleep(fn SleepFunc) Option {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// Executor holds the reporting sinks shared by all invocations. It carries no
// per-invocation state, so one Executor may serve any number of concurrent calls.
type Executor struct {
	logger   *zap.SugaredLogger
	notifier Notifier
	sleep    SleepFunc
}

// NewExecutor builds an Executor; without options it logs nowhere and notifies nobody.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		logger:   logger.OrNop(nil),
		notifier: nopNotifier{},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do runs op until it succeeds or policy.MaxRetries retries have failed. Each
// failed attempt is logged under label; the final failure is additionally
// reported once through the notifier and returned as *Error wrapping the last
// error. Cancelling ctx stops the loop and returns ctx.Err() without a
// notification.
func Do[T any](ctx context.Context, exec *Executor, policy Policy, label string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if op == nil {
		return zero, errors.New("retry: operation is nil")
	}
	if exec == nil {
		exec = NewExecutor()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	policy = policy.Normalize()
	backoff := NewBackoff(policy.BaseDelay, policy.Factor, 0, 0)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		metrics.ObserveAttempt(label, err)
		if err == nil {
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			exec.logger.Debugw("operation abandoned", "context", label, "attempt", attempt+1, "error", err)
			return zero, ctxErr
		}

		exec.logger.Warnw("operation attempt failed",
			"context", label,
			"attempt", attempt+1,
			"maxRetries", policy.MaxRetries,
			"error", err)

		if attempt >= policy.MaxRetries {
			final := &Error{Op: label, Attempts: attempt + 1, Err: err}
			exec.reportTerminal(label, final)
			return zero, final
		}

		delay := backoff.ForAttempt(attempt)
		exec.logger.Debugw("retrying operation", "context", label, "retry", attempt+1, "delay", delay)
		if err := exec.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func (e *Executor) reportTerminal(label string, err *Error) {
	metrics.ObserveTerminalFailure(label)
	e.logger.Errorw("operation failed", "context", label, "attempts", err.Attempts, "error", err.Err)

	summary := label
	if summary == "" {
		summary = "API error"
	}
	e.notifier.Notify(Notification{
		Severity: SeverityError,
		Summary:  summary,
		Detail:   MessageOf(err.Err),
		Life:     5 * time.Second,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
