// Package preflight provides readiness checks for the executables and
// filesystem paths tubemux depends on.
//
// The daemon runs RunAll at startup and logs failures; `tubemux doctor` and
// the /api/status endpoint render the same results. Checks for the yt-dlp
// catalog backend and ffprobe verification only run when those features are
// configured.
package preflight
