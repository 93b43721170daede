// Package workflow runs download jobs from submission to a published artifact.
//
// A Manager owns one goroutine per job. Each job resolves its URL against the
// stream catalog, fetches the video and audio streams concurrently into a
// per-job scratch directory, muxes them with ffmpeg, and moves the result into
// the output directory under a sanitized name. Progress is folded into the job
// record and persisted through jobs.Store at a bounded cadence.
//
// SubmitPlaylist expands a playlist through the catalog source and submits
// one ordinary job per entry.
//
// Every exit path removes the scratch directory. Only a ready job leaves a
// file behind, and the terminal status of a job is written exactly once.
package workflow
