// Package staging manages per-job scratch directories under paths.staging_dir.
//
// Each job owns <staging>/<jobID>; the workflow removes it on every exit path.
// CleanStaleInactive and CleanOrphaned sweep directories a crashed process left behind.
package staging
