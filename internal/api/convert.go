package api

import (
	"net/http"
	"path/filepath"

	"tubemux/internal/deps"
	"tubemux/internal/jobs"
	"tubemux/internal/services"
	"tubemux/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *jobs.Job) JobView {
	if job == nil {
		return JobView{}
	}
	dto := JobView{
		ID:       job.ID,
		URL:      job.SourceURL,
		Tier:     job.Tier.Label(),
		Title:    job.Title,
		Status:   string(job.Status),
		Terminal: job.Status.IsTerminal(),
		Progress: JobProgress{
			Stage:   job.ProgressStage,
			Percent: job.ProgressPercent,
			Message: job.ProgressMessage,
		},
		Video:        StreamBytes{Transferred: job.VideoBytes, Total: job.VideoTotal},
		Audio:        StreamBytes{Transferred: job.AudioBytes, Total: job.AudioTotal},
		OutputPath:   job.OutputPath,
		ArtifactSize: job.ArtifactSize,
		ErrorKind:    job.ErrorKind,
		ErrorMessage: job.ErrorMessage,
		ErrorHint:    job.ErrorHint,
	}
	if job.OutputPath != "" {
		dto.Filename = filepath.Base(job.OutputPath)
	}
	if dto.Progress.Stage == "" {
		dto.Progress.Stage = jobs.StageLabel(job.Status)
	}
	if !job.CreatedAt.IsZero() {
		dto.CreatedAt = job.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !job.UpdatedAt.IsZero() {
		dto.UpdatedAt = job.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = job.CompletedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromJobs converts job records into API DTOs.
func FromJobs(list []jobs.Job) []JobView {
	out := make([]JobView, 0, len(list))
	for i := range list {
		out = append(out, FromJob(&list[i]))
	}
	return out
}

// FromStatusSummary converts workflow diagnostics.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	stats := make(map[string]int, len(summary.JobStats))
	for status, count := range summary.JobStats {
		stats[string(status)] = count
	}
	dto := WorkflowStatus{
		Running:    summary.Running,
		ActiveJobs: summary.ActiveJobs,
		Finished:   summary.Finished,
		JobStats:   stats,
		LastError:  summary.LastError,
	}
	if summary.LastJob != nil {
		view := FromJob(summary.LastJob)
		dto.LastJob = &view
	}
	return dto
}

// FromDependencies converts dependency checks.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Path:        dep.Path,
			Version:     dep.Version,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return out
}

// FromError builds the JSON error body for err.
func FromError(err error) ErrorResponse {
	details := services.Details(err)
	message := details.Message
	if message == "" && err != nil {
		message = err.Error()
	}
	return ErrorResponse{Error: message, Kind: string(details.Kind), Hint: details.Hint}
}

// HTTPStatus maps an error kind to the status code the API answers with.
func HTTPStatus(kind services.ErrorKind) int {
	switch kind {
	case services.ErrorKindValidation:
		return http.StatusBadRequest
	case services.ErrorKindNotFound:
		return http.StatusNotFound
	case services.ErrorKindConfiguration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
