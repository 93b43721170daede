// Package api defines wire-format types, converters and the HTTP client for
// the tubemux daemon API. It translates internal job records into
// transport-friendly DTOs so the CLI and other consumers can render them
// without coupling to internal types.
//
// # Key Types
//
// JobView: transport representation of a job with progress, per-stream byte
// counts, artifact details and failure classification.
//
// DaemonStatus: daemon running state, job counts, workflow diagnostics and
// dependency availability.
//
// PlaylistRequest / PlaylistResponse: POST /api/playlists, one job per entry.
//
// LogTailResponse: a slice of the daemon log plus the offset to resume from.
//
// # Converters
//
// FromJob / FromJobs: jobs.Job -> JobView.
//
// FromStatusSummary: workflow.StatusSummary -> WorkflowStatus.
//
// HTTPStatus: services error kind -> HTTP status code, shared by the server
// and the client's error decoding.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Internal enums (jobs.Status, media.Tier,
// services.ErrorKind) are exposed as lowercase strings. Timestamps use RFC3339
// with milliseconds.
package api
