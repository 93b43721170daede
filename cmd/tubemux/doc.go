// Package main hosts the tubemux CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into HTTP
// calls against tubemuxd (submit, status, list, fetch, cancel, logs), runs one-shot
// jobs in process with get, checks the host with doctor, and scaffolds
// configuration. submit and get take --playlist and --max-items to turn a
// playlist URL into one job per entry. It centralizes configuration
// resolution and daemon address discovery so subcommands can focus on
// presentation.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
