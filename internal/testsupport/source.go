package testsupport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tubemux/internal/catalog"
	"tubemux/internal/services"
)

// StaticSource is a catalog.Source that serves a fixed listing whose records
// carry direct URLs, so Locate is never needed.
type StaticSource struct {
	mu       sync.Mutex
	listing  catalog.Listing
	onLookup func(ctx context.Context)
	lookups  int
	playlist *catalog.Playlist
}

// NewStaticSource returns a source serving listing for every URL.
func NewStaticSource(listing catalog.Listing) *StaticSource {
	return &StaticSource{listing: listing}
}

// NewClipSource serves a four minute clip with 360p, 480p and 720p video plus
// one 128k audio stream from origin. The origin must serve the paths v360,
// v480, v720 and a128.
func NewClipSource(origin *Origin, sizes map[string]int) *StaticSource {
	record := func(id, kind string, height int, bitrate int64) catalog.Record {
		return catalog.Record{
			ID:              id,
			Kind:            kind,
			Container:       "mp4",
			Height:          height,
			Bitrate:         bitrate,
			ApproximateSize: int64(sizes[id]),
			URL:             origin.URL(id),
		}
	}
	return NewStaticSource(catalog.Listing{
		Title:    "Four Minute Clip",
		Duration: 4 * time.Minute,
		Records: []catalog.Record{
			record("v360", "video", 360, 0),
			record("v480", "video", 480, 0),
			record("v720", "video", 720, 0),
			record("a128", "audio", 0, 128_000),
		},
	})
}

// AddRecord appends a record to every later listing.
func (s *StaticSource) AddRecord(record catalog.Record) {
	s.mu.Lock()
	s.listing.Records = append(s.listing.Records, record)
	s.mu.Unlock()
}

// SetPlaylist makes Playlist return entries, each titled and addressed
// "<url>?item=N" so every entry resolves to the static listing.
func (s *StaticSource) SetPlaylist(title, url string, entries int) {
	listed := &catalog.Playlist{Title: title}
	for i := 1; i <= entries; i++ {
		id := fmt.Sprintf("item-%d", i)
		listed.Entries = append(listed.Entries, catalog.PlaylistEntry{
			ID:    id,
			Title: id,
			URL:   fmt.Sprintf("%s?item=%d", url, i),
		})
	}
	s.mu.Lock()
	s.playlist = listed
	s.mu.Unlock()
}

// Playlist returns the playlist installed by SetPlaylist, or NotFound.
func (s *StaticSource) Playlist(context.Context, string) (*catalog.Playlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playlist == nil {
		return nil, services.Wrap(services.ErrNotFound, "expanding", "playlist", "static source has no playlist", nil)
	}
	copied := *s.playlist
	copied.Entries = append([]catalog.PlaylistEntry(nil), s.playlist.Entries...)
	return &copied, nil
}

// OnLookup installs a hook that runs inside every Lookup with the job context.
func (s *StaticSource) OnLookup(fn func(ctx context.Context)) {
	s.mu.Lock()
	s.onLookup = fn
	s.mu.Unlock()
}

// Lookups reports how many times Lookup ran.
func (s *StaticSource) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Lookup(ctx context.Context, _ string) (*catalog.Listing, error) {
	s.mu.Lock()
	s.lookups++
	hook := s.onLookup
	listing := s.listing
	listing.Records = append([]catalog.Record(nil), s.listing.Records...)
	s.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}
	return &listing, nil
}

func (s *StaticSource) Locate(context.Context, *catalog.Listing, catalog.Record) (string, error) {
	return "", services.Wrap(services.ErrNotFound, "resolving", "locate", "records carry direct urls", nil)
}
