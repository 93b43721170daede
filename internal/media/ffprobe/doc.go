// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// The muxer uses Inspect to confirm a finished container carries the expected
// audio and video streams before the artifact is published.
package ffprobe
