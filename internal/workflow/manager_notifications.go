package workflow

import (
	"context"
	"errors"
	"path/filepath"

	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/notifications"
)

func (m *Manager) notifyReady(ctx context.Context, job *jobs.Job) {
	m.sendNotification(ctx, notifications.EventJobReady, notifications.Payload{
		"title": job.Title,
		"url":   job.SourceURL,
		"tier":  job.Tier.Label(),
		"file":  filepath.Base(job.OutputPath),
	})
}

func (m *Manager) notifyFailure(ctx context.Context, job *jobs.Job) {
	m.sendNotification(ctx, notifications.EventJobFailed, notifications.Payload{
		"title": job.Title,
		"url":   job.SourceURL,
		"kind":  job.ErrorKind,
		"error": job.ErrorMessage,
	})
}

func (m *Manager) sendNotification(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	logger := logging.WithContext(ctx, m.logger)
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not send notification")
			return
		}
		logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}
