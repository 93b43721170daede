package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/kkdai/youtube/v2"

	"tubemux/internal/services"
)

func TestParseMimeType(t *testing.T) {
	cases := []struct {
		in        string
		container string
		codec     string
	}{
		{`video/mp4; codecs="avc1.640028"`, "mp4", "avc1.640028"},
		{`audio/webm; codecs="opus"`, "webm", "opus"},
		{`video/3gpp; codecs="mp4v.20.3, mp4a.40.2"`, "3gp", "mp4v.20.3"},
		{"", "", ""},
	}
	for _, tc := range cases {
		container, codec := parseMimeType(tc.in)
		if container != tc.container || codec != tc.codec {
			t.Fatalf("parseMimeType(%q) = %q, %q", tc.in, container, codec)
		}
	}
}

func TestListingFromVideo(t *testing.T) {
	video := &youtube.Video{
		Title:    "Clip",
		Author:   "Channel",
		Duration: 100 * time.Second,
		Formats: youtube.FormatList{
			{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Height: 360, AudioChannels: 2},
			{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Height: 1080, QualityLabel: "1080p", Bitrate: 4_000_000, ContentLength: 50_000_000},
			{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2, AverageBitrate: 130_000},
		},
	}
	listing := listingFromVideo(video)
	if listing.handle != video {
		t.Fatal("expected listing to carry the video handle")
	}
	if len(listing.Records) != 2 {
		t.Fatalf("expected progressive itag dropped, got %+v", listing.Records)
	}
	v := listing.Records[0]
	if v.ID != "137" || v.Kind != "video" || v.Container != "mp4" || v.ApproximateSize != 50_000_000 {
		t.Fatalf("unexpected video record %+v", v)
	}
	a := listing.Records[1]
	if a.Kind != "audio" || a.Height != 0 || a.Bitrate != 130_000 || a.ApproximateSize != 130_000/8*100 {
		t.Fatalf("unexpected audio record %+v", a)
	}
}

func TestListingFromVideoKeepsFrameWidth(t *testing.T) {
	video := &youtube.Video{Formats: youtube.FormatList{
		{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, QualityLabel: "1080p", Width: 1920, Height: 800},
		{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, AudioChannels: 2, Width: 0, Height: 0},
	}}
	listing := listingFromVideo(video)
	if len(listing.Records) != 2 {
		t.Fatalf("unexpected records %+v", listing.Records)
	}
	v := listing.Records[0]
	if v.Width != 1920 || v.Height != 800 || v.QualityLabel != "1080p" {
		t.Fatalf("unexpected video record %+v", v)
	}
	desc, ok := toDescriptor(v)
	if !ok || desc.Height != 1080 {
		t.Fatalf("expected nominal 1080, got %+v ok=%v", desc, ok)
	}
}

func TestLabelHeight(t *testing.T) {
	cases := map[string]int{
		"1080p":   1080,
		"1080p60": 1080,
		"720P":    720,
		" 2160p ": 2160,
		"1080":    0,
		"medium":  0,
		"":        0,
		"p":       0,
	}
	for in, want := range cases {
		if got := labelHeight(in); got != want {
			t.Fatalf("labelHeight(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestPlaylistFromYouTube(t *testing.T) {
	listed := playlistFromYouTube(&youtube.Playlist{
		Title: "Launch Week",
		Videos: []*youtube.PlaylistEntry{
			{ID: "aaaaaaaaaaa", Title: "Day 1"},
			nil,
			{ID: " "},
			{ID: "bbbbbbbbbbb", Title: "Day 2"},
		},
	})
	if listed.Title != "Launch Week" || len(listed.Entries) != 2 {
		t.Fatalf("unexpected playlist %+v", listed)
	}
	if listed.Entries[1].URL != "https://www.youtube.com/watch?v=bbbbbbbbbbb" {
		t.Fatalf("unexpected entry url %q", listed.Entries[1].URL)
	}
	if playlistFromYouTube(nil) != nil {
		t.Fatal("nil playlist should map to nil")
	}
}

func TestClassifyYouTubeError(t *testing.T) {
	cases := []struct {
		err    error
		marker error
	}{
		{youtube.ErrVideoPrivate, services.ErrNotFound},
		{&youtube.ErrPlayabiltyStatus{Status: "ERROR", Reason: "removed"}, services.ErrNotFound},
		{youtube.ErrUnexpectedStatusCode(404), services.ErrNotFound},
		{youtube.ErrInvalidPlaylist, services.ErrNotFound},
		{youtube.ErrPlaylistStatus{Reason: "private"}, services.ErrNotFound},
		{youtube.ErrUnexpectedStatusCode(503), services.ErrTransient},
		{errors.New("dial tcp: refused"), services.ErrTransient},
	}
	for _, tc := range cases {
		if got := classifyYouTubeError(tc.err, "get video"); !errors.Is(got, tc.marker) {
			t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.marker)
		}
	}
}
