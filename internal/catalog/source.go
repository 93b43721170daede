package catalog

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"tubemux/internal/config"
)

// Record is one raw catalog entry as reported by a Source, before validation.
type Record struct {
	ID              string
	Kind            string
	Codec           string
	Container       string
	QualityLabel    string
	Width           int
	Height          int
	Bitrate         int64
	ApproximateSize int64
	// URL is set when the source already knows the direct stream location.
	URL string
}

// Listing is the raw catalog for one URL.
type Listing struct {
	Title    string
	Author   string
	Duration time.Duration
	Records  []Record
	// handle carries source-specific state from Lookup to Locate.
	handle any
}

// Source lists the streams available for a URL and locates the direct URL of
// a chosen record.
type Source interface {
	Name() string
	Lookup(ctx context.Context, url string) (*Listing, error)
	Locate(ctx context.Context, listing *Listing, record Record) (string, error)
}

// NewSource builds the backend selected by catalog.backend.
func NewSource(cfg *config.Config) (Source, error) {
	if cfg == nil {
		return nil, fmt.Errorf("catalog source: config is nil")
	}
	timeout := time.Duration(cfg.Catalog.RequestTimeout) * time.Second
	switch cfg.Catalog.Backend {
	case "", "youtube":
		return NewYouTubeSource(&http.Client{Timeout: timeout}), nil
	case "ytdlp":
		return NewYTDLPSource(cfg.YTDLPBinary(), timeout), nil
	default:
		return nil, fmt.Errorf("catalog source: unknown backend %q", cfg.Catalog.Backend)
	}
}
