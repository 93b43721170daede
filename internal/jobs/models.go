package jobs

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tubemux/internal/media"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusResolving  Status = "resolving"
	StatusFetching   Status = "fetching"
	StatusMuxing     Status = "muxing"
	StatusSanitizing Status = "sanitizing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// InterruptedMessage is recorded on jobs a previous daemon left unfinished.
const InterruptedMessage = "daemon stopped before the job finished"

var allStatuses = []Status{
	StatusResolving,
	StatusFetching,
	StatusMuxing,
	StatusSanitizing,
	StatusReady,
	StatusFailed,
	StatusCancelled,
}

var terminalStatuses = []Status{StatusReady, StatusFailed, StatusCancelled}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus validates a status name.
func ParseStatus(value string) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q", value)
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusCancelled
}

// IsFailure reports whether the status ended the job without an artifact.
// Cancelled counts as a failure variant.
func (s Status) IsFailure() bool {
	return s == StatusFailed || s == StatusCancelled
}

// IsActive reports whether the job is still moving through the pipeline.
func (s Status) IsActive() bool {
	return !s.IsTerminal() && s != ""
}

var titleCaser = cases.Title(language.English)

// StageLabel renders a status for people ("Resolving", "Ready").
func StageLabel(s Status) string {
	return titleCaser.String(string(s))
}

// Job is one submitted URL moving through the pipeline.
type Job struct {
	ID              string
	SourceURL       string
	Tier            media.Tier
	Title           string
	Status          Status
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	VideoBytes      int64
	VideoTotal      int64
	AudioBytes      int64
	AudioTotal      int64
	// OutputPath is set iff Status is ready.
	OutputPath   string
	ArtifactSize int64
	ErrorKind    string
	ErrorMessage string
	ErrorHint    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		out.CompletedAt = &completed
	}
	return &out
}

// TransferredBytes sums fetched bytes across both streams.
func (j *Job) TransferredBytes() int64 {
	return j.VideoBytes + j.AudioBytes
}

// ExpectedBytes sums the expected sizes of both streams.
func (j *Job) ExpectedBytes() int64 {
	return j.VideoTotal + j.AudioTotal
}

func (j *Job) validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	if _, err := ParseStatus(string(j.Status)); err != nil {
		return err
	}
	if j.Status == StatusReady && j.OutputPath == "" {
		return fmt.Errorf("job %s: ready without output path", j.ID)
	}
	if j.Status != StatusReady && j.OutputPath != "" {
		return fmt.Errorf("job %s: output path set while %s", j.ID, j.Status)
	}
	return nil
}

// HealthSummary aggregates job counts per lifecycle group.
type HealthSummary struct {
	Total     int
	Active    int
	Ready     int
	Failed    int
	Cancelled int
}

// DatabaseHealth captures diagnostic information about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
