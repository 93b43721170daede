// Package logs tails the daemon log file for the API and the CLI.
//
// Reads are offset based so a client can resume where its previous call left
// off: a negative offset returns the last Limit lines, a positive one returns
// everything appended since. Follow mode waits up to Wait for new lines.
// Match keeps only lines containing one of a set of substrings, which is how
// callers narrow the log to a single job.
package logs
