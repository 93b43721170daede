package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tubemux/internal/fetch"
	"tubemux/internal/fileutil"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/media"
	"tubemux/internal/services"
	"tubemux/internal/staging"
	"tubemux/internal/textutil"
)

// pipeline holds the per-run resources that cleanup must release.
type pipeline struct {
	entry  *activeJob
	job    *jobs.Job
	ws     staging.Workspace
	tasks  []*fetch.Task
	logger *slog.Logger
}

func (m *Manager) run(ctx context.Context, entry *activeJob) {
	defer m.wg.Done()
	defer entry.cancel()

	job := entry.snapshot()
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, m.logger)
	started := time.Now()

	p := &pipeline{entry: entry, job: job, logger: logger}
	outputPath, size, err := m.execute(ctx, p)
	p.cleanup()

	if err != nil {
		if ctx.Err() != nil && services.KindOf(err) != services.ErrorKindCancelled {
			err = services.Wrap(services.ErrCancelled, "", "job", "job cancelled", err)
		}
		m.fail(ctx, entry, err, logger)
	} else {
		m.complete(ctx, entry, outputPath, size, logger)
	}
	logger.Debug("job pipeline exited", logging.Duration("elapsed", time.Since(started)))

	m.forget(job.ID)
	close(entry.done)
}

func (m *Manager) execute(ctx context.Context, p *pipeline) (string, int64, error) {
	ws, err := staging.Prepare(m.cfg.Paths.StagingDir, p.job.ID)
	if err != nil {
		return "", 0, services.WithHint(
			services.Wrap(services.ErrConfiguration, string(jobs.StatusResolving), "prepare scratch", "", err),
			"check paths.staging_dir exists and is writable",
		)
	}
	p.ws = ws

	resolveCtx := services.WithStage(ctx, string(jobs.StatusResolving))
	selection, err := m.resolver.Resolve(resolveCtx, p.job.SourceURL, p.job.Tier)
	if err != nil {
		return "", 0, err
	}
	p.entry.update(func(job *jobs.Job) {
		job.Title = selection.Title
		job.AudioTotal = selection.Audio.ApproximateSize
		if selection.Video != nil {
			job.VideoTotal = selection.Video.ApproximateSize
		}
	})
	p.logger.Info("streams resolved",
		logging.String(logging.FieldEventType, "streams_resolved"),
		logging.String("title", selection.Title),
		logging.String("video", videoSummary(selection)),
		logging.String("audio", selection.Audio.Summary()),
		logging.Int64("approximate_bytes", selection.ApproximateSize()),
	)

	if err := m.transition(ctx, p.entry, jobs.StatusFetching, "Fetching streams"); err != nil {
		return "", 0, err
	}
	videoPath, audioPath, err := m.fetchStreams(services.WithStage(ctx, string(jobs.StatusFetching)), p, selection)
	if err != nil {
		return "", 0, err
	}

	muxedPath := p.ws.MuxedPath(selection.OutputExtension(p.job.Tier))
	if err := m.transition(ctx, p.entry, jobs.StatusMuxing, "Muxing streams"); err != nil {
		staging.RemoveFiles(videoPath, audioPath)
		return "", 0, err
	}
	_, muxErr := m.muxer.Mux(services.WithStage(ctx, string(jobs.StatusMuxing)), videoPath, audioPath, muxedPath)
	if err := staging.RemoveFiles(videoPath, audioPath); err != nil {
		logging.WarnWithContext(p.logger, "raw stream cleanup failed", "scratch_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "workspace removal will retry when the job exits"),
		)
	}
	if muxErr != nil {
		return "", 0, muxErr
	}

	if err := m.transition(ctx, p.entry, jobs.StatusSanitizing, "Publishing artifact"); err != nil {
		return "", 0, err
	}
	return m.publish(services.WithStage(ctx, string(jobs.StatusSanitizing)), p, selection, muxedPath)
}

// cleanup stops any fetch still running and removes the job's scratch
// directory. Fetch tasks are drained first so no file is recreated after the
// directory is gone.
func (p *pipeline) cleanup() {
	for _, task := range p.tasks {
		task.Cancel()
		<-task.Done()
	}
	if err := p.ws.Remove(); err != nil {
		logging.WarnWithContext(p.logger, "scratch directory removal failed", "scratch_cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the directory manually or restart the daemon to sweep it"),
			logging.String(logging.FieldImpact, "intermediate files remain in the staging directory"),
		)
	}
}

// transition moves a running job to status and persists it. A cancelled job
// does not advance.
func (m *Manager) transition(ctx context.Context, entry *activeJob, status jobs.Status, message string) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, string(status), "transition", "job cancelled", err)
	}
	entry.update(func(job *jobs.Job) {
		job.Status = status
		job.ProgressStage = jobs.StageLabel(status)
		job.ProgressMessage = message
		if status != jobs.StatusFetching {
			job.ProgressPercent = 0
		}
	})
	m.persist(ctx, entry, true)
	logging.WithContext(services.WithStage(ctx, string(status)), m.logger).Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String(logging.FieldProgressMessage, message),
	)
	return nil
}

func (m *Manager) fetchStreams(ctx context.Context, p *pipeline, selection media.Selection) (string, string, error) {
	audioPath := p.ws.AudioPath(selection.Audio.Extension())
	videoPath := ""

	if selection.Video != nil {
		videoPath = p.ws.VideoPath(selection.Video.Extension())
		p.tasks = append(p.tasks, m.fetcher.Fetch(ctx, *selection.Video, videoPath,
			fetch.WithProgress(m.fetchProgress(ctx, p.entry, media.KindVideo))))
	}
	p.tasks = append(p.tasks, m.fetcher.Fetch(ctx, selection.Audio, audioPath,
		fetch.WithProgress(m.fetchProgress(ctx, p.entry, media.KindAudio))))

	finished := make(chan *fetch.Task, len(p.tasks))
	for _, task := range p.tasks {
		go func(task *fetch.Task) {
			<-task.Done()
			finished <- task
		}(task)
	}

	for range p.tasks {
		select {
		case task := <-finished:
			if err := task.Err(); err != nil {
				failed := task.Snapshot()
				for _, other := range p.tasks {
					if other != task {
						other.Cancel()
					}
				}
				p.logger.Warn("stream fetch failed; sibling fetch cancelled",
					logging.String(logging.FieldEventType, "fetch_failed"),
					logging.String("stream", failed.Descriptor.Summary()),
					logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
					logging.String(logging.FieldErrorHint, "see the job error for the failing request"),
					logging.String(logging.FieldImpact, "job will fail"),
				)
				return "", "", err
			}
		case <-ctx.Done():
			for _, task := range p.tasks {
				task.Cancel()
			}
			return "", "", services.Wrap(services.ErrCancelled, string(jobs.StatusFetching), "fetch", "job cancelled", ctx.Err())
		}
	}
	m.persist(ctx, p.entry, true)
	return videoPath, audioPath, nil
}

func (m *Manager) publish(ctx context.Context, p *pipeline, selection media.Selection, muxedPath string) (string, int64, error) {
	stage := string(jobs.StatusSanitizing)
	name := textutil.ArtifactName(selection.Title, p.job.Tier, p.job.ID, filepath.Ext(muxedPath))
	target := filepath.Join(m.cfg.Paths.OutputDir, name)

	if err := os.MkdirAll(m.cfg.Paths.OutputDir, 0o755); err != nil {
		return "", 0, services.WithHint(
			services.Wrap(services.ErrPublish, stage, "create output dir", m.cfg.Paths.OutputDir, err),
			"check paths.output_dir permissions",
		)
	}
	copied, err := fileutil.MoveNoReplace(muxedPath, target)
	if err != nil {
		if errors.Is(err, fileutil.ErrDestinationExists) {
			return "", 0, services.Wrap(services.ErrPublish, stage, "move artifact", "target already exists: "+target, err)
		}
		return "", 0, services.Wrap(services.ErrPublish, stage, "move artifact", target, err)
	}
	info, err := os.Stat(target)
	if err != nil {
		return "", 0, services.Wrap(services.ErrPublish, stage, "stat artifact", target, err)
	}

	logging.WithContext(ctx, m.logger).Info("artifact published",
		logging.String(logging.FieldEventType, "artifact_published"),
		logging.String("output_path", target),
		logging.Int64("artifact_size", info.Size()),
		logging.Bool("copied", copied),
	)
	return target, info.Size(), nil
}

func (m *Manager) complete(ctx context.Context, entry *activeJob, outputPath string, size int64, logger *slog.Logger) {
	job, ok := m.finalize(ctx, entry, func(job *jobs.Job) {
		job.Status = jobs.StatusReady
		job.OutputPath = outputPath
		job.ArtifactSize = size
		job.ProgressStage = jobs.StageLabel(jobs.StatusReady)
		job.ProgressPercent = 100
		job.ProgressMessage = fmt.Sprintf("Ready: %s", filepath.Base(outputPath))
		job.ErrorKind = ""
		job.ErrorMessage = ""
		job.ErrorHint = ""
	})
	if !ok {
		return
	}
	logger.Info("job ready",
		logging.String(logging.FieldEventType, "job_ready"),
		logging.String("output_path", outputPath),
		logging.Int64("artifact_size", size),
		logging.Duration("duration", job.UpdatedAt.Sub(job.CreatedAt)),
	)
	m.notifyReady(ctx, job)
}

func videoSummary(selection media.Selection) string {
	if selection.Video == nil {
		return "none"
	}
	return selection.Video.Summary()
}
