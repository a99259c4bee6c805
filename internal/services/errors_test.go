package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWrapTagsMarker(t *testing.T) {
	inner := errors.New("connection reset")
	err := Wrap(ErrTransient, "acquiring", "fetch media", "download interrupted", inner)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want ErrTransient in chain", err)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("err = %v, want inner cause in chain", err)
	}
	want := "transient failure: acquiring: fetch media: download interrupted: connection reset"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "stage", "op", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("err = %v, want transient default", err)
	}
}

func TestDetailsStripsSentinelPrefix(t *testing.T) {
	err := Wrap(ErrValidation, "api", "submit", "source must not be empty", nil)
	got := Details(err).Message
	if got != "api: submit: source must not be empty" {
		t.Fatalf("message = %q", got)
	}
	if Details(nil).Message != "" {
		t.Fatal("nil error should yield empty details")
	}
	plain := errors.New("plain failure")
	if Details(plain).Message != "plain failure" {
		t.Fatalf("plain message = %q", Details(plain).Message)
	}
}

func TestRateLimitCarriesRetryAfter(t *testing.T) {
	err := NewRateLimit("model", "generate", 42*time.Second, errors.New("429"))
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", err)
	}
	if got := RetryAfter(err); got != 42*time.Second {
		t.Fatalf("RetryAfter = %v", got)
	}

	wrapped := Wrap(ErrExhausted, "summarizing", "summarize", "pool cooling", err)
	if got := RetryAfter(wrapped); got != 42*time.Second {
		t.Fatalf("RetryAfter through chain = %v", got)
	}
	if got := RetryAfter(errors.New("nope")); got != 0 {
		t.Fatalf("RetryAfter on unrelated error = %v", got)
	}
}

func TestClassificationPredicates(t *testing.T) {
	fatal := []error{ErrValidation, ErrConfiguration, ErrNotFound}
	for _, marker := range fatal {
		if !IsFatal(Wrap(marker, "s", "o", "m", nil)) {
			t.Fatalf("IsFatal(%v) = false", marker)
		}
		if IsTransient(Wrap(marker, "s", "o", "m", nil)) {
			t.Fatalf("IsTransient(%v) = true", marker)
		}
	}
	retryable := []error{ErrTransient, ErrTimeout, ErrExternalTool}
	for _, marker := range retryable {
		if !IsTransient(Wrap(marker, "s", "o", "m", nil)) {
			t.Fatalf("IsTransient(%v) = false", marker)
		}
		if IsFatal(Wrap(marker, "s", "o", "m", nil)) {
			t.Fatalf("IsFatal(%v) = true", marker)
		}
	}
	if IsFatal(Wrap(ErrExhausted, "s", "o", "m", nil)) || IsTransient(Wrap(ErrExhausted, "s", "o", "m", nil)) {
		t.Fatal("ErrExhausted is neither fatal nor transient; it escalates")
	}
}

func TestContextAnnotations(t *testing.T) {
	ctx := context.Background()

	if _, ok := JobIDFromContext(ctx); ok {
		t.Fatal("unannotated context reported a job id")
	}

	ctx = WithRequestID(WithSegment(WithStage(WithJobID(ctx, 42), "summarize"), 3), "req-1")

	if id, ok := JobIDFromContext(ctx); !ok || id != 42 {
		t.Fatalf("job id = %d, %v", id, ok)
	}
	if stage, ok := StageFromContext(ctx); !ok || stage != "summarize" {
		t.Fatalf("stage = %q, %v", stage, ok)
	}
	if seg, ok := SegmentFromContext(ctx); !ok || seg != 3 {
		t.Fatalf("segment = %d, %v", seg, ok)
	}
	if req, ok := RequestIDFromContext(ctx); !ok || req != "req-1" {
		t.Fatalf("request id = %q, %v", req, ok)
	}

	// Empty annotations are no-ops.
	if got := WithStage(context.Background(), ""); got != context.Background() {
		t.Fatal("empty stage should not allocate a new context")
	}
	if got := WithSegment(context.Background(), -1); got != context.Background() {
		t.Fatal("negative segment should not allocate a new context")
	}
}
