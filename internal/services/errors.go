package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors classify pipeline failures. Missing input is never retried;
// transient failures get bounded retry with backoff.
var (
	ErrMissingInput  = errors.New("missing input")
	ErrTransient     = errors.New("transient failure")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
)

// Kind names an error classification for logs and status records.
type Kind string

const (
	KindMissingInput  Kind = "missing_input"
	KindTransient     Kind = "transient"
	KindValidation    Kind = "validation"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// ErrorDetails carries the classified failure information the workflow
// persists and logs when a stage fails.
type ErrorDetails struct {
	Kind      Kind
	Stage     string
	Operation string
	Message   string
	Hint      string
	Cause     error
}

type taggedError struct {
	marker  error
	details ErrorDetails
	cause   error
}

func (e *taggedError) Error() string {
	detail := buildDetail(e.details.Stage, e.details.Operation, e.details.Message)
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.marker.Error(), detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.marker.Error(), detail)
}

func (e *taggedError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.marker, e.cause}
	}
	return []error{e.marker}
}

// Wrap tags an error with stage context and one of the sentinel markers above
// for later classification. A nil marker defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &taggedError{
		marker: marker,
		details: ErrorDetails{
			Kind:      kindOf(marker),
			Stage:     strings.TrimSpace(stage),
			Operation: strings.TrimSpace(operation),
			Message:   strings.TrimSpace(message),
		},
		cause: err,
	}
}

// WrapHint is Wrap with an operator-facing remediation hint attached.
func WrapHint(marker error, stage, operation, message, hint string, err error) error {
	wrapped := Wrap(marker, stage, operation, message, err)
	if tagged, ok := wrapped.(*taggedError); ok {
		tagged.details.Hint = strings.TrimSpace(hint)
	}
	return wrapped
}

// Details extracts classified failure information from an error chain.
func Details(err error) ErrorDetails {
	var tagged *taggedError
	if errors.As(err, &tagged) {
		details := tagged.details
		details.Cause = tagged.cause
		return details
	}
	details := ErrorDetails{Kind: KindUnknown}
	if err != nil {
		details.Kind = classify(err)
		details.Message = strings.TrimSpace(err.Error())
	}
	return details
}

// IsRetryable reports whether an error belongs to the transient class that
// bounded-retry paths may attempt again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingInput) || errors.Is(err, ErrValidation) || errors.Is(err, ErrConfiguration) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, ErrMissingInput):
		return KindMissingInput
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

func kindOf(marker error) Kind {
	return classify(marker)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage != "" {
		parts = append(parts, stage)
	}
	if operation != "" {
		parts = append(parts, operation)
	}
	if message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
