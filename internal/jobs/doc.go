// Package jobs persists tubemux job records in SQLite.
//
// The Store owns connection setup (WAL, busy timeout, retry on SQLITE_BUSY),
// schema initialization from the embedded schema.sql, CRUD for job rows,
// status counts and startup recovery of jobs a previous process left
// unfinished. Terminal records (ready, failed, cancelled) are write-once: the
// update statements refuse to touch them, so a late progress write can never
// resurrect a finished job.
//
// The database is transient storage for recent jobs rather than an archive.
// Schema changes bump schemaVersion; operators delete jobs.db to adopt them.
package jobs
