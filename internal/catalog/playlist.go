package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"tubemux/internal/services"
)

const expandStage = "expanding"

// Playlist is the ordered list of item URLs behind a playlist URL.
type Playlist struct {
	Title   string
	Entries []PlaylistEntry
}

// PlaylistEntry is one item of a playlist. URL is a single-video URL that
// Resolve accepts.
type PlaylistEntry struct {
	ID    string
	Title string
	URL   string
}

// PlaylistSource is implemented by sources that can enumerate playlists.
type PlaylistSource interface {
	Playlist(ctx context.Context, url string) (*Playlist, error)
}

// IsPlaylistURL reports whether raw names a playlist page: a URL carrying a
// list parameter without a v parameter selecting one video of it.
func IsPlaylistURL(raw string) bool {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	query := parsed.Query()
	return query.Get("list") != "" && query.Get("v") == ""
}

// ExpandPlaylist lists the items of a playlist URL through source, keeping at
// most maxItems entries when maxItems is positive. Entries without a URL are
// dropped; an empty result is NotFound.
func ExpandPlaylist(ctx context.Context, source Source, rawURL string, maxItems int) (Playlist, error) {
	target, err := ValidateURL(rawURL)
	if err != nil {
		return Playlist{}, services.Wrap(services.ErrNotFound, expandStage, "validate url", "", err)
	}
	if maxItems < 0 {
		return Playlist{}, services.Wrap(services.ErrValidation, expandStage, "expand", fmt.Sprintf("max items must not be negative, got %d", maxItems), nil)
	}
	lister, ok := source.(PlaylistSource)
	if !ok || lister == nil {
		name := "catalog"
		if source != nil {
			name = source.Name()
		}
		return Playlist{}, services.WithHint(
			services.Wrap(services.ErrConfiguration, expandStage, "expand", name+" source cannot list playlists", nil),
			"set catalog.backend to youtube or ytdlp",
		)
	}

	listed, err := lister.Playlist(ctx, target)
	if err != nil {
		var svcErr *services.Error
		switch {
		case errors.As(err, &svcErr):
			return Playlist{}, err
		case errors.Is(err, context.Canceled):
			return Playlist{}, services.Wrap(services.ErrCancelled, expandStage, "expand", "", err)
		default:
			return Playlist{}, services.Wrap(services.ErrTransient, expandStage, "expand", source.Name(), err)
		}
	}
	if listed == nil {
		return Playlist{}, services.Wrap(services.ErrNotFound, expandStage, "expand", "playlist has no entries", nil)
	}

	out := Playlist{Title: strings.TrimSpace(listed.Title)}
	for _, entry := range listed.Entries {
		entry.URL = strings.TrimSpace(entry.URL)
		if entry.URL == "" {
			continue
		}
		entry.Title = strings.TrimSpace(entry.Title)
		out.Entries = append(out.Entries, entry)
		if maxItems > 0 && len(out.Entries) == maxItems {
			break
		}
	}
	if len(out.Entries) == 0 {
		return Playlist{}, services.Wrap(services.ErrNotFound, expandStage, "expand", "playlist has no entries", nil)
	}
	return out, nil
}
