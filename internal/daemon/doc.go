// Package daemon coordinates the long-running tubemuxd process.
//
// It wires configuration, job storage, the workflow manager and the HTTP API
// into a single lifecycle with flock-based locking to prevent multiple
// instances. On start it fails jobs a previous process left unfinished, clears
// orphaned scratch directories and reports preflight problems. While running
// it sweeps stale scratch directories that no active job owns.
//
// Keep orchestration logic here: pipeline steps live in the workflow package
// and wire types in api, while the daemon focuses on startup, shutdown and
// request routing.
package daemon
