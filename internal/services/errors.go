package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failure so job records and API responses can report
// it without parsing messages.
type ErrorKind string

const (
	ErrorKindNotFound          ErrorKind = "not_found"
	ErrorKindNoMatchingStream  ErrorKind = "no_matching_stream"
	ErrorKindTransfer          ErrorKind = "transfer"
	ErrorKindInsufficientSpace ErrorKind = "insufficient_space"
	ErrorKindMuxTimeout        ErrorKind = "mux_timeout"
	ErrorKindMuxFailed         ErrorKind = "mux_failed"
	ErrorKindPublish           ErrorKind = "publish"
	ErrorKindCancelled         ErrorKind = "cancelled"
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindConfiguration     ErrorKind = "configuration"
	ErrorKindTransient         ErrorKind = "transient"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrNoMatchingStream  = errors.New("no matching stream")
	ErrTransfer          = errors.New("transfer error")
	ErrInsufficientSpace = errors.New("insufficient space")
	ErrMuxTimeout        = errors.New("mux timeout")
	ErrMuxFailed         = errors.New("mux failed")
	ErrPublish           = errors.New("publish error")
	ErrCancelled         = errors.New("cancelled")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrTransient         = errors.New("transient failure")
)

var markerKinds = []struct {
	marker error
	kind   ErrorKind
}{
	{ErrCancelled, ErrorKindCancelled},
	{ErrNotFound, ErrorKindNotFound},
	{ErrNoMatchingStream, ErrorKindNoMatchingStream},
	{ErrInsufficientSpace, ErrorKindInsufficientSpace},
	{ErrTransfer, ErrorKindTransfer},
	{ErrMuxTimeout, ErrorKindMuxTimeout},
	{ErrMuxFailed, ErrorKindMuxFailed},
	{ErrPublish, ErrorKindPublish},
	{ErrValidation, ErrorKindValidation},
	{ErrConfiguration, ErrorKindConfiguration},
	{ErrTransient, ErrorKindTransient},
}

// Error is the structured failure produced at component boundaries.
type Error struct {
	Kind      ErrorKind
	Stage     string
	Operation string
	Message   string
	Hint      string
	// Diagnostic holds verbatim tool output (ffmpeg stderr and similar).
	Diagnostic string
	Cause      error

	marker error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.marker, detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.marker, detail)
}

// Unwrap exposes both the marker and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.marker != nil {
		out = append(out, e.marker)
	}
	if e.Cause != nil {
		out = append(out, e.Cause)
	}
	return out
}

// ErrorKind satisfies the classifier contract used by the job store.
func (e *Error) ErrorKind() string {
	if e == nil {
		return ""
	}
	return string(e.Kind)
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later status classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Kind:      kindForMarker(marker),
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
		marker:    marker,
	}
}

// WithHint attaches an operator hint to a structured error. Other errors are
// returned unchanged.
func WithHint(err error, hint string) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		svcErr.Hint = strings.TrimSpace(hint)
	}
	return err
}

// WithDiagnostic attaches verbatim tool output to a structured error.
func WithDiagnostic(err error, diagnostic string) error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		svcErr.Diagnostic = diagnostic
	}
	return err
}

// ErrorDetails is the flattened view of a failure used for logging and job records.
type ErrorDetails struct {
	Kind       ErrorKind
	Stage      string
	Operation  string
	Message    string
	Hint       string
	Diagnostic string
	Cause      error
}

// Details extracts structured failure information from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	var svcErr *Error
	if errors.As(err, &svcErr) {
		message := svcErr.Message
		if message == "" {
			message = buildDetail(svcErr.Stage, svcErr.Operation, "")
		}
		if svcErr.Cause != nil && svcErr.Diagnostic == "" {
			message = fmt.Sprintf("%s: %v", message, svcErr.Cause)
		}
		if svcErr.Diagnostic != "" {
			message = fmt.Sprintf("%s: %s", message, svcErr.Diagnostic)
		}
		return ErrorDetails{
			Kind:       svcErr.Kind,
			Stage:      svcErr.Stage,
			Operation:  svcErr.Operation,
			Message:    message,
			Hint:       svcErr.Hint,
			Diagnostic: svcErr.Diagnostic,
			Cause:      svcErr.Cause,
		}
	}
	return ErrorDetails{Kind: KindOf(err), Message: err.Error(), Cause: err}
}

// KindOf classifies any error, falling back to transient.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var svcErr *Error
	if errors.As(err, &svcErr) && svcErr.Kind != "" {
		return svcErr.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}
	for _, entry := range markerKinds {
		if errors.Is(err, entry.marker) {
			return entry.kind
		}
	}
	return ErrorKindTransient
}

func kindForMarker(marker error) ErrorKind {
	for _, entry := range markerKinds {
		if errors.Is(marker, entry.marker) {
			return entry.kind
		}
	}
	return ErrorKindTransient
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

// MarkerFor returns the sentinel error for kind, falling back to ErrTransient.
// Clients use it to rebuild classified errors from wire responses.
func MarkerFor(kind ErrorKind) error {
	for _, entry := range markerKinds {
		if entry.kind == kind {
			return entry.marker
		}
	}
	return ErrTransient
}
