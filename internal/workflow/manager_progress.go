package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tubemux/internal/fetch"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/media"
)

const mib = 1 << 20

// fetchProgress folds a task's snapshots into the job record.
func (m *Manager) fetchProgress(ctx context.Context, entry *activeJob, kind media.Kind) fetch.ProgressFunc {
	return func(snap fetch.Snapshot) {
		var (
			logIt   bool
			percent float64
			message string
		)
		entry.update(func(job *jobs.Job) {
			if kind == media.KindVideo {
				job.VideoBytes = snap.BytesTransferred
				if snap.TotalBytes > 0 {
					job.VideoTotal = snap.TotalBytes
				}
			} else {
				job.AudioBytes = snap.BytesTransferred
				if snap.TotalBytes > 0 {
					job.AudioTotal = snap.TotalBytes
				}
			}
			if job.Status != jobs.StatusFetching {
				return
			}
			if expected := job.ExpectedBytes(); expected > 0 {
				job.ProgressPercent = min(float64(job.TransferredBytes())/float64(expected)*100, 100)
			}
			job.ProgressMessage = fmt.Sprintf("%.1f / %.1f MiB", float64(job.TransferredBytes())/mib, float64(job.ExpectedBytes())/mib)
			if entry.sampler == nil {
				entry.sampler = logging.NewProgressSampler(25)
			}
			percent = job.ProgressPercent
			message = job.ProgressMessage
			logIt = entry.sampler.ShouldLog(percent, string(job.Status))
		})
		if logIt {
			logging.WithContext(ctx, m.logger).Info("fetch progress",
				logging.String(logging.FieldEventType, "fetch_progress"),
				logging.Float64(logging.FieldProgressPercent, percent),
				logging.String(logging.FieldProgressMessage, message),
			)
		}
		m.persist(ctx, entry, false)
	}
}

// persist writes the live record. Unforced writes are throttled to the
// workflow progress interval. Nothing is written once the job is terminal.
func (m *Manager) persist(ctx context.Context, entry *activeJob, force bool) {
	entry.persistMu.Lock()
	defer entry.persistMu.Unlock()

	entry.mu.Lock()
	if entry.terminal || (!force && time.Since(entry.lastPersist) < m.progressInterval) {
		entry.mu.Unlock()
		return
	}
	entry.lastPersist = time.Now()
	job := entry.job.Clone()
	entry.mu.Unlock()

	if err := m.store.Update(context.WithoutCancel(ctx), job); err != nil {
		m.setLastError(err)
		logging.WarnWithContext(logging.WithContext(ctx, m.logger), "job progress not persisted", "job_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
			logging.String(logging.FieldImpact, "polled progress may lag until the next write"),
		)
	}
}

// finalize applies the terminal transition exactly once and persists it.
// It reports false when the job had already finished.
func (m *Manager) finalize(ctx context.Context, entry *activeJob, apply func(job *jobs.Job)) (*jobs.Job, bool) {
	entry.persistMu.Lock()
	defer entry.persistMu.Unlock()

	entry.mu.Lock()
	if entry.terminal {
		entry.mu.Unlock()
		return nil, false
	}
	apply(entry.job)
	now := time.Now().UTC()
	entry.job.UpdatedAt = now
	entry.job.CompletedAt = &now
	entry.terminal = true
	job := entry.job.Clone()
	entry.mu.Unlock()

	if err := m.store.Update(context.WithoutCancel(ctx), job); err != nil {
		m.setLastError(err)
		eventType := "job_persist_failed"
		if errors.Is(err, jobs.ErrTerminal) {
			eventType = "job_already_terminal"
		}
		logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "terminal job state not persisted", eventType,
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
		)
	}
	m.setLastJob(job)
	return job, true
}
