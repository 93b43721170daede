package workflow

import (
	"context"
	"log/slog"
	"strings"

	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/services"
)

func (m *Manager) fail(ctx context.Context, entry *activeJob, jobErr error, logger *slog.Logger) {
	status := jobs.FailureStatus(jobErr)
	kind := jobs.FailureKind(jobErr)
	details := services.Details(jobErr)
	message := classifyFailure(details, jobErr)

	var failedIn jobs.Status
	job, ok := m.finalize(ctx, entry, func(job *jobs.Job) {
		failedIn = job.Status
		job.Status = status
		job.OutputPath = ""
		job.ArtifactSize = 0
		job.ErrorKind = kind
		job.ErrorMessage = message
		job.ErrorHint = details.Hint
		job.ProgressStage = jobs.StageLabel(status)
		job.ProgressMessage = message
	})
	if !ok {
		return
	}
	m.setLastError(jobErr)

	attrs := []logging.Attr{
		logging.String("resolved_status", string(status)),
		logging.String("failed_stage", string(failedIn)),
		logging.String("error_message", message),
		logging.String(logging.FieldErrorKind, kind),
		logging.String("error_operation", details.Operation),
		logging.String(logging.FieldErrorHint, details.Hint),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(jobErr))
	}
	if status == jobs.StatusCancelled {
		attrs = append(attrs, logging.String(logging.FieldEventType, "job_cancelled"))
		logger.Info("job cancelled", logging.Args(attrs...)...)
		return
	}
	attrs = append(attrs, logging.Alert("job_failure"), logging.String(logging.FieldEventType, "job_failed"))
	logger.Error("job failed", logging.Args(attrs...)...)
	m.notifyFailure(ctx, job)
}

func classifyFailure(details services.ErrorDetails, jobErr error) string {
	message := strings.TrimSpace(details.Message)
	if message == "" && jobErr != nil {
		message = strings.TrimSpace(jobErr.Error())
	}
	if message == "" {
		message = "job failed without error detail"
	}
	return message
}
