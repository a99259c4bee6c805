// Package retry wraps external calls in the classification state machine
// that turns raw provider failures into one of a closed set of outcomes:
// auto-retry with backoff, an operator prompt, or a fatal abort.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"lectern/internal/logging"
	"lectern/internal/services"
)

// Kind is the terminal classification of one wrapped invocation.
type Kind int

const (
	// Success means the operation produced its artifact.
	Success Kind = iota
	// Degraded means an optional input failed and the job proceeds without it.
	Degraded
	// NeedsOperator means automatic options are exhausted and a human must
	// choose retry, cancel, or change_key.
	NeedsOperator
	// Fatal means the failure is permanently unrecoverable.
	Fatal
	// Cancelled means the enclosing job was cancelled mid-invocation.
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Degraded:
		return "degraded"
	case NeedsOperator:
		return "needs_operator"
	case Fatal:
		return "fatal"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome reports how an invocation resolved.
type Outcome struct {
	Kind     Kind
	Reason   string
	Err      error
	Attempts int
}

// Policy bounds automatic retries.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the ceiling used for model calls.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Controller executes operations under a retry policy. It holds no per-call
// state; the per-invocation record lives on the stack of Invoke and is
// discarded when the outcome is returned.
type Controller struct {
	policy Policy
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

// New constructs a controller. A zero policy falls back to DefaultPolicy.
func New(policy Policy, logger *slog.Logger) *Controller {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	return &Controller{
		policy: policy,
		logger: logging.NewComponentLogger(logger, "retry"),
		sleep:  sleepContext,
	}
}

// WithSleeper overrides how backoff waits are performed (used in tests).
func (c *Controller) WithSleeper(sleep func(context.Context, time.Duration) error) *Controller {
	if sleep != nil {
		c.sleep = sleep
	}
	return c
}

// Options vary classification per call site.
type Options struct {
	// Stage names the wrapped call in logs and outcome reasons.
	Stage string
	// Optional marks stages whose permanent failure degrades the job
	// instead of requiring an operator or aborting it.
	Optional bool
}

// Invoke runs op until it succeeds, exhausts the attempt ceiling, or fails
// permanently. Classification:
//   - transient, timeout, and tool errors: backoff and retry
//   - rate limited with an advertised delay and no usable rotation left at
//     the call site: wait out the delay and retry, then surface to operator
//   - exhausted credential pool: operator prompt (or degraded when optional)
//   - validation/configuration/not-found: fatal immediately
func (c *Controller) Invoke(ctx context.Context, opts Options, op func(context.Context) error) Outcome {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return Outcome{Kind: Success, Attempts: attempt}
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return Outcome{Kind: Cancelled, Reason: "cancelled", Err: context.Canceled, Attempts: attempt}
		}
		if services.IsFatal(err) {
			return c.permanent(opts, err, attempt)
		}
		if errors.Is(err, services.ErrExhausted) {
			return c.blocked(opts, "all credentials cooling down", err, attempt)
		}

		if attempt == c.policy.MaxAttempts {
			break
		}

		// Transient, timeout, and unclassified errors all back off the same
		// way; only an advertised rate-limit delay overrides the schedule.
		delay := c.backoff(attempt)
		if errors.Is(err, services.ErrRateLimited) {
			if advertised := services.RetryAfter(err); advertised > 0 && advertised < c.policy.MaxDelay {
				delay = advertised
			}
		}

		c.logger.Warn("retrying after failure",
			logging.String(logging.FieldStage, opts.Stage),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.Error(err))
		if err := c.sleep(ctx, delay); err != nil {
			return Outcome{Kind: Cancelled, Reason: "cancelled", Err: err, Attempts: attempt}
		}
	}
	return c.blocked(opts, "attempt ceiling reached", lastErr, c.policy.MaxAttempts)
}

func (c *Controller) permanent(opts Options, err error, attempts int) Outcome {
	reason := services.Details(err).Message
	if opts.Optional {
		return Outcome{Kind: Degraded, Reason: reason, Err: err, Attempts: attempts}
	}
	return Outcome{Kind: Fatal, Reason: reason, Err: err, Attempts: attempts}
}

func (c *Controller) blocked(opts Options, reason string, err error, attempts int) Outcome {
	if err != nil {
		if detail := services.Details(err).Message; detail != "" {
			reason = reason + ": " + detail
		}
	}
	if opts.Optional {
		return Outcome{Kind: Degraded, Reason: reason, Err: err, Attempts: attempts}
	}
	return Outcome{Kind: NeedsOperator, Reason: reason, Err: err, Attempts: attempts}
}

func (c *Controller) backoff(attempt int) time.Duration {
	delay := c.policy.BaseDelay
	for i := 1; i < attempt; i++ {
		if delay > c.policy.MaxDelay/2 {
			return c.policy.MaxDelay
		}
		delay *= 2
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
