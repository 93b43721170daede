// Package notifications delivers job outcome events to ntfy.
//
// NewService returns a no-op implementation when no topic is configured, so
// the workflow can publish unconditionally. Per-event toggles in the
// [notifications] config section suppress ready or failed messages.
package notifications
