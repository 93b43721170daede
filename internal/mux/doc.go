// Package mux combines fetched video and audio streams into a single container
// with ffmpeg stream copy. No re-encoding happens; the muxer only rewrites the
// container and moves the index to the front for progressive playback.
package mux
