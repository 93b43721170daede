package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tubemux/internal/api"
	"tubemux/internal/config"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/logs"
	"tubemux/internal/services"
	"tubemux/internal/workflow"
)

const (
	maxSubmitBody   = 64 << 10
	defaultLogLines = 200
	maxLogWait      = 30 * time.Second
)

// jobService is the subset of the workflow manager the API drives.
type jobService interface {
	Submit(ctx context.Context, rawURL, tier string) (string, error)
	SubmitPlaylist(ctx context.Context, rawURL, tier string, maxItems int) (workflow.PlaylistSubmission, error)
	Poll(ctx context.Context, jobID string) (jobs.Job, error)
	List(ctx context.Context, statuses ...jobs.Status) ([]jobs.Job, error)
	Cancel(ctx context.Context, jobID string) error
	OpenArtifact(ctx context.Context, jobID string) (*os.File, workflow.Artifact, error)
}

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	jobs    jobService
	limiter *rate.Limiter
	logPath string

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, svc jobService, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		logger:  logging.NewComponentLogger(logger, "api-server"),
		daemon:  d,
		jobs:    svc,
		logPath: cfg.LogPath(),
	}
	if perMinute := cfg.Workflow.SubmitRatePerMinute; perMinute > 0 {
		srv.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}

	srv.server = &http.Server{
		Handler:           srv.routes(strings.TrimSpace(cfg.Paths.APIToken)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: artifact downloads stream for as long as the client reads.
		IdleTimeout: 60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("POST /api/playlists", s.handleSubmitPlaylist)
	mux.HandleFunc("GET /api/jobs", s.handleList)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGet)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancel)
	mux.HandleFunc("GET /api/jobs/{id}/artifact", s.handleArtifact)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	return requestIDMiddleware(authMiddleware(token, mux))
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "api_serve_failed"),
				logging.String(logging.FieldErrorHint, "check paths.api_bind"),
			)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String(logging.FieldEventType, "api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	_ = s.listener.Close()
	s.listener = nil
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// admit applies the submit rate limit, answering 429 when it is exhausted. A
// playlist counts as one submission.
func (s *apiServer) admit(w http.ResponseWriter) bool {
	if s.limiter == nil {
		return true
	}
	reservation := s.limiter.Reserve()
	delay := reservation.Delay()
	if delay == 0 {
		return true
	}
	reservation.Cancel()
	w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
	writeJSON(w, http.StatusTooManyRequests, api.ErrorResponse{
		Error: "submit rate exceeded",
		Kind:  string(services.ErrorKindValidation),
		Hint:  "raise workflow.submit_rate_per_minute or retry later",
	})
	return false
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w) {
		return
	}

	var req api.SubmitRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "submit", "invalid request body", err))
		return
	}
	id, err := s.jobs.Submit(r.Context(), req.URL, req.Tier)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.jobs.Poll(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log(r).Info("job submitted via api",
		logging.String(logging.FieldEventType, "api_job_submitted"),
		logging.String(logging.FieldJobID, id),
	)
	writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(&job)})
}

func (s *apiServer) handleSubmitPlaylist(w http.ResponseWriter, r *http.Request) {
	if !s.admit(w) {
		return
	}

	var req api.PlaylistRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "", "submit playlist", "invalid request body", err))
		return
	}
	sub, err := s.jobs.SubmitPlaylist(r.Context(), req.URL, req.Tier, req.MaxItems)
	if err != nil && len(sub.JobIDs) == 0 {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		logging.WarnWithContext(s.log(r), "playlist partially submitted", "api_playlist_partial",
			logging.Int("jobs", len(sub.JobIDs)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "resubmit the remaining entries once the daemon accepts jobs"),
			logging.String(logging.FieldImpact, "later playlist entries were not queued"),
		)
	}

	resp := api.PlaylistResponse{Title: sub.Title, Jobs: make([]api.JobView, 0, len(sub.JobIDs))}
	for _, id := range sub.JobIDs {
		job, pollErr := s.jobs.Poll(r.Context(), id)
		if pollErr != nil {
			s.writeError(w, r, pollErr)
			return
		}
		resp.Jobs = append(resp.Jobs, api.FromJob(&job))
	}
	s.log(r).Info("playlist submitted via api",
		logging.String(logging.FieldEventType, "api_playlist_submitted"),
		logging.Int("jobs", len(resp.Jobs)),
	)
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	var statuses []jobs.Status
	for _, value := range r.URL.Query()["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := jobs.ParseStatus(part)
			if err != nil {
				s.writeError(w, r, services.Wrap(services.ErrValidation, "", "list", err.Error(), nil))
				return
			}
			statuses = append(statuses, status)
		}
	}
	list, err := s.jobs.List(r.Context(), statuses...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(list)})
}

func (s *apiServer) handleGet(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Poll(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(&job)})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.jobs.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.jobs.Poll(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(&job)})
}

func (s *apiServer) handleArtifact(w http.ResponseWriter, r *http.Request) {
	file, artifact, err := s.jobs.OpenArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		if services.KindOf(err) == services.ErrorKindValidation {
			writeJSON(w, http.StatusConflict, api.FromError(err))
			return
		}
		s.writeError(w, r, err)
		return
	}
	defer file.Close()

	contentType := "video/mp4"
	switch strings.ToLower(filepath.Ext(artifact.Filename)) {
	case ".m4a":
		contentType = "audio/mp4"
	case ".mka":
		contentType = "audio/x-matroska"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Filename}))
	http.ServeContent(w, r, artifact.Filename, artifact.CreatedAt, file)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		JobsDBPath:   status.JobsDBPath,
		LockFilePath: status.LockFilePath,
		StagingDir:   s.daemon.cfg.Paths.StagingDir,
		OutputDir:    s.daemon.cfg.Paths.OutputDir,
		Catalog:      s.daemon.cfg.Catalog.Backend,
		Workflow:     api.FromStatusSummary(status.Workflow),
		Dependencies: api.FromDependencies(status.Dependencies),
	})
}

func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := logs.TailOptions{
		Offset: -1,
		Limit:  defaultLogLines,
		Match:  jobLogNeedles(query.Get("job")),
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "", "logs", "invalid offset", err))
			return
		}
		opts.Offset = offset
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "", "logs", "limit must be a positive integer", err))
			return
		}
		opts.Limit = limit
	}
	if follow, _ := strconv.ParseBool(query.Get("follow")); follow {
		opts.Follow = true
		opts.Wait = 10 * time.Second
		if raw := query.Get("wait_ms"); raw != "" {
			if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
				opts.Wait = min(time.Duration(ms)*time.Millisecond, maxLogWait)
			}
		}
	}

	result, err := logs.Tail(r.Context(), s.logPath, opts)
	if err != nil && r.Context().Err() == nil {
		s.writeError(w, r, services.Wrap(services.ErrTransient, "", "logs", "read daemon log", err))
		return
	}
	lines := result.Lines
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, api.LogTailResponse{Lines: lines, Offset: result.Offset})
}

// jobLogNeedles matches a job in both log formats: JSON lines carry the
// full ID, console headers only its first eight characters.
func jobLogNeedles(id string) []string {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	needles := []string{id}
	if len(id) > 8 {
		needles = append(needles, "Job "+id[:8])
	}
	return needles
}

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := api.HTTPStatus(services.KindOf(err))
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(s.log(r), "api request failed", "api_request_failed",
			logging.Error(err),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorHint, "check daemon logs and job database access"),
		)
	}
	writeJSON(w, status, api.FromError(err))
}

func (s *apiServer) log(r *http.Request) *slog.Logger {
	return logging.WithContext(r.Context(), s.logger)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
