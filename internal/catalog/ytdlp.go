package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os/exec"
	"strings"
	"time"

	"tubemux/internal/services"
)

// YTDLPSource lists formats by running `yt-dlp -J`.
type YTDLPSource struct {
	binary  string
	timeout time.Duration
}

// NewYTDLPSource builds a source around the yt-dlp executable.
func NewYTDLPSource(binary string, timeout time.Duration) *YTDLPSource {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	return &YTDLPSource{binary: binary, timeout: timeout}
}

// Name identifies the source in logs.
func (s *YTDLPSource) Name() string { return "ytdlp" }

type ytdlpInfo struct {
	Title    string        `json:"title"`
	Uploader string        `json:"uploader"`
	Channel  string        `json:"channel"`
	Duration float64       `json:"duration"`
	Formats  []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID       string  `json:"format_id"`
	FormatNote     string  `json:"format_note"`
	Ext            string  `json:"ext"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	TBR            float64 `json:"tbr"`
	ABR            float64 `json:"abr"`
	VBR            float64 `json:"vbr"`
	Filesize       int64   `json:"filesize"`
	FilesizeApprox int64   `json:"filesize_approx"`
	Protocol       string  `json:"protocol"`
	URL            string  `json:"url"`
}

var ytdlpNotFoundMarkers = []string{
	"not available",
	"unsupported url",
	"video unavailable",
	"private video",
	"http error 404",
	"does not exist",
}

type ytdlpPlaylist struct {
	Title   string `json:"title"`
	Entries []struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		URL        string `json:"url"`
		WebpageURL string `json:"webpage_url"`
	} `json:"entries"`
}

// Lookup runs yt-dlp once and decodes its JSON dump.
func (s *YTDLPSource) Lookup(ctx context.Context, url string) (*Listing, error) {
	var info ytdlpInfo
	if err := s.dump(ctx, &info, "--no-playlist", url); err != nil {
		return nil, err
	}
	return listingFromYTDLP(info), nil
}

// Playlist lists playlist items without resolving each one.
func (s *YTDLPSource) Playlist(ctx context.Context, url string) (*Playlist, error) {
	var dump ytdlpPlaylist
	if err := s.dump(ctx, &dump, "--flat-playlist", url); err != nil {
		return nil, err
	}
	out := &Playlist{Title: dump.Title}
	for _, entry := range dump.Entries {
		link := entry.URL
		if link == "" {
			link = entry.WebpageURL
		}
		out.Entries = append(out.Entries, PlaylistEntry{ID: entry.ID, Title: entry.Title, URL: link})
	}
	return out, nil
}

// dump runs `yt-dlp -J <mode> -- url` and decodes stdout into out.
func (s *YTDLPSource) dump(ctx context.Context, out any, mode, url string) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.binary, "-J", mode, "--no-warnings", "--", url)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return services.Wrap(services.ErrCancelled, stageName, "yt-dlp", "", ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		lowered := strings.ToLower(detail)
		for _, marker := range ytdlpNotFoundMarkers {
			if strings.Contains(lowered, marker) {
				return services.Wrap(services.ErrNotFound, stageName, "yt-dlp", detail, err)
			}
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return services.WithHint(
				services.Wrap(services.ErrConfiguration, stageName, "yt-dlp", "binary not runnable", err),
				"install yt-dlp or set catalog.ytdlp_binary",
			)
		}
		return services.Wrap(services.ErrTransient, stageName, "yt-dlp", detail, err)
	}
	if err := json.Unmarshal(stdout.Bytes(), out); err != nil {
		return services.Wrap(services.ErrNotFound, stageName, "yt-dlp", "malformed metadata", err)
	}
	return nil
}

// Locate returns the URL yt-dlp already reported; Resolver only calls it when
// the record had none.
func (s *YTDLPSource) Locate(_ context.Context, _ *Listing, record Record) (string, error) {
	if record.URL == "" {
		return "", fmt.Errorf("yt-dlp format %s has no direct url", record.ID)
	}
	return record.URL, nil
}

func listingFromYTDLP(info ytdlpInfo) *Listing {
	author := info.Uploader
	if author == "" {
		author = info.Channel
	}
	listing := &Listing{
		Title:    info.Title,
		Author:   author,
		Duration: time.Duration(info.Duration * float64(time.Second)),
	}
	for _, f := range info.Formats {
		record, ok := recordFromYTDLP(f, info.Duration)
		if ok {
			listing.Records = append(listing.Records, record)
		}
	}
	return listing
}

func recordFromYTDLP(f ytdlpFormat, durationSeconds float64) (Record, bool) {
	switch strings.ToLower(f.Protocol) {
	case "http", "https", "":
	default:
		// Fragmented protocols (m3u8, dash segments) need a downloader of their own.
		return Record{}, false
	}
	hasVideo := f.VCodec != "" && f.VCodec != "none"
	hasAudio := f.ACodec != "" && f.ACodec != "none"
	record := Record{
		ID:           f.FormatID,
		Container:    f.Ext,
		QualityLabel: f.FormatNote,
		URL:          f.URL,
	}
	var kbps float64
	switch {
	case hasVideo && hasAudio:
		return Record{}, false
	case hasVideo:
		record.Kind = "video"
		record.Codec = f.VCodec
		record.Width = f.Width
		record.Height = f.Height
		kbps = firstPositive(f.VBR, f.TBR)
	case hasAudio:
		record.Kind = "audio"
		record.Codec = f.ACodec
		kbps = firstPositive(f.ABR, f.TBR)
	default:
		return Record{}, false
	}
	record.Bitrate = int64(math.Round(kbps * 1000))
	record.ApproximateSize = f.Filesize
	if record.ApproximateSize <= 0 {
		record.ApproximateSize = f.FilesizeApprox
	}
	if record.ApproximateSize <= 0 && kbps > 0 && durationSeconds > 0 {
		record.ApproximateSize = int64(kbps * 1000 / 8 * durationSeconds)
	}
	return record, true
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
