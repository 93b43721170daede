// Package fetch streams selected catalog streams to local scratch files.
//
// A Fetcher hands back a Task immediately and performs the transfer in the
// background: it reserves free space on the destination volume through a
// shared Reserver, streams the HTTP body straight to disk, resumes with Range
// requests after transient failures and reports throttled progress. The
// Reserver and the optional bandwidth limiter are owned by whoever builds the
// Fetcher so that every job in the process draws from the same budget.
package fetch
