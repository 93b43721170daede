// Package logging builds the slog loggers used by tubemux.
//
// Two formats are supported: a console layout that puts the component, job
// and stage in the header line and lists a handful of readable fields under
// it, and a flat JSON layout for the daemon log file. Context helpers tag
// records with the job ID, stage and request ID carried in a context.Context.
package logging
