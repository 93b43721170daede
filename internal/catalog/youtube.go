package catalog

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"tubemux/internal/services"
)

// YouTubeSource lists YouTube formats through github.com/kkdai/youtube/v2.
type YouTubeSource struct {
	client *youtube.Client
}

// NewYouTubeSource builds a source using httpClient for every catalog request.
func NewYouTubeSource(httpClient *http.Client) *YouTubeSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YouTubeSource{client: &youtube.Client{HTTPClient: httpClient}}
}

// Name identifies the source in logs.
func (s *YouTubeSource) Name() string { return "youtube" }

// Lookup fetches the video metadata and its adaptive formats. Progressive
// formats (audio and video in one stream) are left out.
func (s *YouTubeSource) Lookup(ctx context.Context, url string) (*Listing, error) {
	video, err := s.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classifyYouTubeError(err, "get video")
	}
	listing := listingFromVideo(video)
	return listing, nil
}

// Locate resolves the signed stream URL of the chosen format.
func (s *YouTubeSource) Locate(ctx context.Context, listing *Listing, record Record) (string, error) {
	video, ok := listing.handle.(*youtube.Video)
	if !ok || video == nil {
		return "", services.Wrap(services.ErrNotFound, stageName, "locate", "listing was not produced by the youtube source", nil)
	}
	itag, err := strconv.Atoi(record.ID)
	if err != nil {
		return "", services.Wrap(services.ErrNotFound, stageName, "locate", fmt.Sprintf("invalid itag %q", record.ID), err)
	}
	for i := range video.Formats {
		format := video.Formats[i]
		if format.ItagNo != itag {
			continue
		}
		streamURL, err := s.client.GetStreamURLContext(ctx, video, &format)
		if err != nil {
			return "", classifyYouTubeError(err, "stream url")
		}
		return streamURL, nil
	}
	return "", services.Wrap(services.ErrNotFound, stageName, "locate", fmt.Sprintf("itag %d not in listing", itag), nil)
}

// Playlist enumerates the videos of a playlist through GetPlaylistContext.
func (s *YouTubeSource) Playlist(ctx context.Context, url string) (*Playlist, error) {
	listed, err := s.client.GetPlaylistContext(ctx, url)
	if err != nil {
		return nil, classifyYouTubeError(err, "get playlist")
	}
	return playlistFromYouTube(listed), nil
}

func playlistFromYouTube(listed *youtube.Playlist) *Playlist {
	if listed == nil {
		return nil
	}
	out := &Playlist{Title: listed.Title}
	for _, entry := range listed.Videos {
		if entry == nil || strings.TrimSpace(entry.ID) == "" {
			continue
		}
		out.Entries = append(out.Entries, PlaylistEntry{
			ID:    entry.ID,
			Title: entry.Title,
			URL:   "https://www.youtube.com/watch?v=" + entry.ID,
		})
	}
	return out
}

func listingFromVideo(video *youtube.Video) *Listing {
	if video == nil {
		return nil
	}
	listing := &Listing{
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
		handle:   video,
	}
	for _, format := range video.Formats {
		record, ok := recordFromFormat(format, video)
		if !ok {
			continue
		}
		listing.Records = append(listing.Records, record)
	}
	return listing
}

func recordFromFormat(format youtube.Format, video *youtube.Video) (Record, bool) {
	container, codec := parseMimeType(format.MimeType)
	record := Record{
		ID:           strconv.Itoa(format.ItagNo),
		Codec:        codec,
		Container:    container,
		QualityLabel: format.QualityLabel,
		Width:        format.Width,
		Height:       format.Height,
		Bitrate:      int64(bitrateForFormat(format)),
	}
	switch {
	case format.AudioChannels > 0 && format.Height > 0:
		return Record{}, false
	case format.AudioChannels > 0 || strings.HasPrefix(format.MimeType, "audio/"):
		record.Kind = "audio"
		record.Width, record.Height = 0, 0
	case format.Height > 0 || strings.HasPrefix(format.MimeType, "video/"):
		record.Kind = "video"
	default:
		return Record{}, false
	}
	record.ApproximateSize = int64(format.ContentLength)
	if record.ApproximateSize <= 0 && record.Bitrate > 0 && video.Duration > 0 {
		record.ApproximateSize = int64(float64(record.Bitrate) / 8 * video.Duration.Seconds())
	}
	return record, true
}

func bitrateForFormat(f youtube.Format) int {
	if f.AverageBitrate > 0 {
		return f.AverageBitrate
	}
	if f.Bitrate > 0 {
		return f.Bitrate
	}
	return 0
}

// parseMimeType splits `video/mp4; codecs="avc1.640028"` into ("mp4", "avc1.640028").
func parseMimeType(value string) (string, string) {
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		return "", ""
	}
	container := mediaType
	if idx := strings.Index(mediaType, "/"); idx >= 0 {
		container = mediaType[idx+1:]
	}
	if container == "3gpp" {
		container = "3gp"
	}
	codec := strings.TrimSpace(strings.Split(params["codecs"], ",")[0])
	return container, codec
}

func classifyYouTubeError(err error, operation string) error {
	switch {
	case errors.Is(err, context.Canceled):
		return services.Wrap(services.ErrCancelled, stageName, operation, "", err)
	case errors.Is(err, youtube.ErrLoginRequired),
		errors.Is(err, youtube.ErrVideoPrivate),
		errors.Is(err, youtube.ErrNotPlayableInEmbed),
		errors.Is(err, youtube.ErrInvalidCharactersInVideoID),
		errors.Is(err, youtube.ErrVideoIDMinLength),
		errors.Is(err, youtube.ErrInvalidPlaylist):
		return services.Wrap(services.ErrNotFound, stageName, operation, "content unavailable", err)
	}
	var statusErr *youtube.ErrPlayabiltyStatus
	if errors.As(err, &statusErr) {
		return services.Wrap(services.ErrNotFound, stageName, operation, "content unavailable", err)
	}
	var playlistErr youtube.ErrPlaylistStatus
	if errors.As(err, &playlistErr) {
		return services.Wrap(services.ErrNotFound, stageName, operation, "playlist unavailable", err)
	}
	var httpErr youtube.ErrUnexpectedStatusCode
	if errors.As(err, &httpErr) && (int(httpErr) == http.StatusNotFound || int(httpErr) == http.StatusGone) {
		return services.Wrap(services.ErrNotFound, stageName, operation, "content unavailable", err)
	}
	return services.Wrap(services.ErrTransient, stageName, operation, "youtube request failed", err)
}
