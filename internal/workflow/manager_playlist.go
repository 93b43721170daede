package workflow

import (
	"context"
	"strings"

	"tubemux/internal/catalog"
	"tubemux/internal/logging"
	"tubemux/internal/media"
	"tubemux/internal/services"
)

// PlaylistSubmission lists the jobs created for a playlist, in playlist
// order.
type PlaylistSubmission struct {
	Title  string
	JobIDs []string
}

// ExpandPlaylist lists up to maxItems playlist entries (all when 0) through
// the configured catalog source.
func (m *Manager) ExpandPlaylist(ctx context.Context, rawURL string, maxItems int) (catalog.Playlist, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return catalog.Playlist{}, services.Wrap(services.ErrValidation, "", "expand playlist", "url is required", nil)
	}
	return catalog.ExpandPlaylist(ctx, m.source, rawURL, maxItems)
}

// SubmitPlaylist submits one job per playlist entry at tierValue. The tier is
// validated before the playlist is listed. When a submit fails part way, the
// jobs already created keep running and are returned with the error.
func (m *Manager) SubmitPlaylist(ctx context.Context, rawURL, tierValue string, maxItems int) (PlaylistSubmission, error) {
	if _, err := media.ParseTier(tierValue); err != nil {
		return PlaylistSubmission{}, err
	}
	listed, err := m.ExpandPlaylist(ctx, rawURL, maxItems)
	if err != nil {
		return PlaylistSubmission{}, err
	}

	out := PlaylistSubmission{Title: listed.Title, JobIDs: make([]string, 0, len(listed.Entries))}
	for _, entry := range listed.Entries {
		id, err := m.Submit(ctx, entry.URL, tierValue)
		if err != nil {
			return out, err
		}
		out.JobIDs = append(out.JobIDs, id)
	}

	m.logger.Info("playlist submitted",
		logging.String(logging.FieldEventType, "playlist_submitted"),
		logging.String("url", strings.TrimSpace(rawURL)),
		logging.String("playlist", listed.Title),
		logging.Int("jobs", len(out.JobIDs)),
	)
	return out, nil
}
