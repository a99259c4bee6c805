package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTransient marks network/timeout/empty-output failures that are safe
	// to retry automatically.
	ErrTransient = errors.New("transient failure")
	// ErrRateLimited marks provider rate-limit responses. Resolved by
	// credential rotation, or by the operator once the pool is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrExhausted signals that automatic recovery ran out of options: every
	// credential in a pool is cooling down, or a stage hit its retry ceiling.
	// Jobs carrying it park for an operator decision instead of failing.
	ErrExhausted = errors.New("recovery options exhausted")
	// ErrValidation marks permanently invalid input. Never retried.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or malformed operator configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrNotFound marks a missing external resource.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks an external call that exceeded its maximum wait.
	ErrTimeout = errors.New("timeout")
	// ErrExternalTool marks a subprocess (yt-dlp, ffmpeg) failure.
	ErrExternalTool = errors.New("external tool error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// RateLimitError wraps ErrRateLimited and carries the provider's advertised
// retry delay so the key pool can set an accurate cooldown.
type RateLimitError struct {
	Detail     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Detail, e.RetryAfter)
	}
	return "rate limited: " + e.Detail
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// NewRateLimit constructs a RateLimitError with stage context.
func NewRateLimit(stage, operation string, retryAfter time.Duration, err error) error {
	detail := buildDetail(stage, operation, "")
	if err != nil {
		detail = detail + ": " + err.Error()
	}
	return &RateLimitError{Detail: detail, RetryAfter: retryAfter}
}

// RetryAfter extracts the provider-advertised cooldown from a rate-limit
// error chain. Returns zero when the provider did not advertise one.
func RetryAfter(err error) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}

// IsFatal reports whether an error is permanently unrecoverable and must
// abort the enclosing stage without further attempts.
func IsFatal(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrConfiguration) || errors.Is(err, ErrNotFound)
}

// IsTransient reports whether an error may be retried automatically.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrExternalTool)
}

// Details carries the human-readable portion of a wrapped stage error.
type ErrorDetails struct {
	Message string
}

// Details extracts the message portion of a wrapped stage error, stripping
// the sentinel prefix when present.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	msg := err.Error()
	for _, marker := range []error{
		ErrTransient, ErrRateLimited, ErrExhausted, ErrValidation,
		ErrConfiguration, ErrNotFound, ErrTimeout, ErrExternalTool,
	} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return ErrorDetails{Message: strings.TrimPrefix(msg, prefix)}
		}
	}
	return ErrorDetails{Message: msg}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
