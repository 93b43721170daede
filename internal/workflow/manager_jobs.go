package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/media"
	"tubemux/internal/services"
)

// Artifact describes the published file of a ready job.
type Artifact struct {
	Filename  string
	Path      string
	Size      int64
	CreatedAt time.Time
}

// ErrShuttingDown is returned by Submit once Shutdown has begun.
var ErrShuttingDown = errors.New("workflow manager is shutting down")

// Submit validates the request, persists a resolving job and starts its
// pipeline. It returns the new job ID without waiting for any work.
func (m *Manager) Submit(ctx context.Context, rawURL, tierValue string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", services.Wrap(services.ErrValidation, "", "submit", "url is required", nil)
	}
	tier, err := media.ParseTier(tierValue)
	if err != nil {
		return "", err
	}

	job := &jobs.Job{
		ID:              uuid.NewString(),
		SourceURL:       rawURL,
		Tier:            tier,
		Status:          jobs.StatusResolving,
		ProgressStage:   jobs.StageLabel(jobs.StatusResolving),
		ProgressMessage: "Queued",
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", services.Wrap(services.ErrConfiguration, "", "submit", ErrShuttingDown.Error(), ErrShuttingDown)
	}
	if err := m.store.Create(ctx, job); err != nil {
		m.mu.Unlock()
		return "", services.Wrap(services.ErrTransient, "", "submit", "persist job", err)
	}
	// Jobs outlive the submitting request.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	entry := &activeJob{job: job.Clone(), cancel: cancel, done: make(chan struct{})}
	m.active[job.ID] = entry
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info("job submitted",
		logging.String(logging.FieldEventType, "job_submitted"),
		logging.String(logging.FieldJobID, job.ID),
		logging.String("url", rawURL),
		logging.String("tier", tier.Label()),
	)

	go m.run(runCtx, entry)
	return job.ID, nil
}

// Poll returns the current record for jobID: the live record while the job
// runs, the persisted one afterwards.
func (m *Manager) Poll(ctx context.Context, jobID string) (jobs.Job, error) {
	if entry := m.lookup(jobID); entry != nil {
		return *entry.snapshot(), nil
	}
	job, err := m.store.Get(ctx, jobID)
	if err != nil {
		return jobs.Job{}, services.Wrap(services.ErrTransient, "", "poll", "read job", err)
	}
	if job == nil {
		return jobs.Job{}, services.Wrap(services.ErrNotFound, "", "poll", "unknown job "+jobID, nil)
	}
	return *job, nil
}

// List returns persisted jobs, overlaying the live state of running ones.
func (m *Manager) List(ctx context.Context, statuses ...jobs.Status) ([]jobs.Job, error) {
	persisted, err := m.store.List(ctx, statuses...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "list", "read jobs", err)
	}
	out := make([]jobs.Job, 0, len(persisted))
	for _, job := range persisted {
		if entry := m.lookup(job.ID); entry != nil {
			live := entry.snapshot()
			if len(statuses) > 0 && !containsStatus(statuses, live.Status) {
				continue
			}
			out = append(out, *live)
			continue
		}
		out = append(out, *job)
	}
	return out, nil
}

// Cancel stops a running job. Finished jobs are left untouched.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	if entry := m.lookup(jobID); entry != nil {
		m.logger.Info("job cancel requested",
			logging.String(logging.FieldEventType, "job_cancel_requested"),
			logging.String(logging.FieldJobID, jobID),
		)
		entry.cancel()
		return nil
	}
	_, err := m.Poll(ctx, jobID)
	return err
}

// Wait blocks until jobID finishes (or ctx ends) and returns its record.
func (m *Manager) Wait(ctx context.Context, jobID string) (jobs.Job, error) {
	if entry := m.lookup(jobID); entry != nil {
		select {
		case <-entry.done:
		case <-ctx.Done():
			return jobs.Job{}, ctx.Err()
		}
	}
	return m.Poll(ctx, jobID)
}

// OpenArtifact opens the published file of a ready job. The caller closes it.
func (m *Manager) OpenArtifact(ctx context.Context, jobID string) (*os.File, Artifact, error) {
	job, err := m.Poll(ctx, jobID)
	if err != nil {
		return nil, Artifact{}, err
	}
	if job.Status != jobs.StatusReady {
		return nil, Artifact{}, services.Wrap(services.ErrValidation, "", "open artifact", "job not ready: "+string(job.Status), nil)
	}
	file, err := os.Open(job.OutputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Artifact{}, services.WithHint(
				services.Wrap(services.ErrNotFound, "", "open artifact", "artifact missing from output directory", err),
				"the file was moved or deleted after the job finished",
			)
		}
		return nil, Artifact{}, services.Wrap(services.ErrTransient, "", "open artifact", "", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, Artifact{}, services.Wrap(services.ErrTransient, "", "open artifact", "stat", err)
	}
	created := info.ModTime()
	if job.CompletedAt != nil {
		created = *job.CompletedAt
	}
	return file, Artifact{
		Filename:  filepath.Base(job.OutputPath),
		Path:      job.OutputPath,
		Size:      info.Size(),
		CreatedAt: created,
	}, nil
}

// Shutdown rejects new submissions, cancels running jobs and waits for them
// to finish or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*activeJob, 0, len(m.active))
	for _, entry := range m.active {
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	for _, entry := range entries {
		entry.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveJobs returns the IDs of jobs with a running pipeline.
func (m *Manager) ActiveJobs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) lookup(jobID string) *activeJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active[strings.TrimSpace(jobID)]
}

func (m *Manager) forget(jobID string) {
	m.mu.Lock()
	delete(m.active, jobID)
	m.mu.Unlock()
}

func containsStatus(statuses []jobs.Status, status jobs.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
