// Package services defines the failure taxonomy and context helpers shared by
// the catalog, fetch, mux and workflow packages.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging and tracing.
//   - Sentinel markers plus the Wrap helper that tag failures with an
//     ErrorKind, so job records and API responses report the kind without
//     parsing messages.
//   - Details/KindOf to flatten any error into the fields persisted on a job.
//
// Use these helpers at component boundaries so failure reporting stays uniform
// across the pipeline.
package services
