package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// JobView describes a job in a transport-friendly format.
type JobView struct {
	ID           string      `json:"id"`
	URL          string      `json:"url"`
	Tier         string      `json:"tier"`
	Title        string      `json:"title,omitempty"`
	Status       string      `json:"status"`
	Terminal     bool        `json:"terminal"`
	Progress     JobProgress `json:"progress"`
	Video        StreamBytes `json:"video"`
	Audio        StreamBytes `json:"audio"`
	Filename     string      `json:"filename,omitempty"`
	OutputPath   string      `json:"outputPath,omitempty"`
	ArtifactSize int64       `json:"artifactSize,omitempty"`
	ErrorKind    string      `json:"errorKind,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	ErrorHint    string      `json:"errorHint,omitempty"`
	CreatedAt    string      `json:"createdAt,omitempty"`
	UpdatedAt    string      `json:"updatedAt,omitempty"`
	CompletedAt  string      `json:"completedAt,omitempty"`
}

// JobProgress captures stage progress information for a job.
type JobProgress struct {
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Message string  `json:"message"`
}

// StreamBytes reports transfer progress of one stream.
type StreamBytes struct {
	Transferred int64 `json:"transferred"`
	Total       int64 `json:"total"`
}

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	URL  string `json:"url"`
	Tier string `json:"tier"`
}

// PlaylistRequest is the body of POST /api/playlists. MaxItems 0 submits
// every entry.
type PlaylistRequest struct {
	URL      string `json:"url"`
	Tier     string `json:"tier"`
	MaxItems int    `json:"maxItems,omitempty"`
}

// PlaylistResponse lists the jobs created for a playlist, in playlist order.
type PlaylistResponse struct {
	Title string    `json:"title,omitempty"`
	Jobs  []JobView `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}

// WorkflowStatus summarizes workflow execution state.
type WorkflowStatus struct {
	Running    bool           `json:"running"`
	ActiveJobs int            `json:"activeJobs"`
	Finished   int            `json:"finished"`
	JobStats   map[string]int `json:"jobStats"`
	LastError  string         `json:"lastError,omitempty"`
	LastJob    *JobView       `json:"lastJob,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Path        string `json:"path,omitempty"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	JobsDBPath   string             `json:"jobsDbPath"`
	LockFilePath string             `json:"lockFilePath"`
	StagingDir   string             `json:"stagingDir"`
	OutputDir    string             `json:"outputDir"`
	Catalog      string             `json:"catalog"`
	Workflow     WorkflowStatus     `json:"workflow"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// LogTailResponse carries a slice of the daemon log and the offset to resume from.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
