package jobs

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a job id is unknown.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when an update targets a finished job.
	ErrTerminal = errors.New("job already finished")
)

// ErrorClassifier allows errors to declare their classification for job records.
type ErrorClassifier interface {
	ErrorKind() string
}

// FailureKind returns the error kind recorded for err: the classifier's kind
// when err declares one, "cancelled" for context cancellation, else "transient".
func FailureKind(err error) string {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		if kind := classifier.ErrorKind(); kind != "" {
			return kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return "transient"
}

// FailureStatus maps a pipeline error to the terminal status the workflow
// persists. Cancellation is kept distinct from other failures.
func FailureStatus(err error) Status {
	if FailureKind(err) == "cancelled" {
		return StatusCancelled
	}
	return StatusFailed
}
