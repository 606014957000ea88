package services_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/tgdscott/DoneCast-sub003/internal/services"
)

func TestWrapTagsSentinel(t *testing.T) {
	cause := errors.New("connection reset")
	err := services.Wrap(services.ErrTransient, "assembly", "fetch input", "primary bucket unreachable", cause)

	if !errors.Is(err, services.ErrTransient) {
		t.Fatal("wrapped error should match ErrTransient")
	}
	if !errors.Is(err, cause) {
		t.Fatal("wrapped error should match its cause")
	}
	if !strings.Contains(err.Error(), "assembly: fetch input") {
		t.Fatalf("unexpected error text: %v", err)
	}
}

func TestDetailsClassification(t *testing.T) {
	err := services.WrapHint(services.ErrMissingInput, "assembly", "resolve media",
		"intro.mp3 not found in any backend", "re-upload the missing asset", nil)

	details := services.Details(err)
	if details.Kind != services.KindMissingInput {
		t.Fatalf("expected missing_input kind, got %s", details.Kind)
	}
	if details.Hint == "" {
		t.Fatal("expected hint to survive wrapping")
	}
	if details.Stage != "assembly" || details.Operation != "resolve media" {
		t.Fatalf("unexpected details: %+v", details)
	}
}

func TestDetailsUnwrappedError(t *testing.T) {
	details := services.Details(errors.New("plain failure"))
	if details.Kind != services.KindUnknown {
		t.Fatalf("expected unknown kind, got %s", details.Kind)
	}
	if details.Message != "plain failure" {
		t.Fatalf("unexpected message %q", details.Message)
	}
}

func TestIsRetryable(t *testing.T) {
	if services.IsRetryable(services.Wrap(services.ErrMissingInput, "s", "op", "gone", nil)) {
		t.Fatal("missing input must never be retryable")
	}
	if !services.IsRetryable(services.Wrap(services.ErrTransient, "s", "op", "hiccup", nil)) {
		t.Fatal("transient errors must be retryable")
	}
	if services.IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
}
