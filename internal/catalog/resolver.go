package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"tubemux/internal/logging"
	"tubemux/internal/media"
	"tubemux/internal/services"
)

const stageName = "resolving"

// Resolver selects the stream pair for a URL and tier.
type Resolver struct {
	source Source
	logger *slog.Logger
}

// NewResolver constructs a resolver over source.
func NewResolver(source Source, logger *slog.Logger) *Resolver {
	return &Resolver{source: source, logger: logging.NewComponentLogger(logger, "catalog")}
}

// Resolve looks the URL up exactly once and returns the highest video at or
// below tier plus the best audio stream. The audio tier returns no video.
func (r *Resolver) Resolve(ctx context.Context, rawURL string, tier media.Tier) (media.Selection, error) {
	if r == nil || r.source == nil {
		return media.Selection{}, services.Wrap(services.ErrConfiguration, stageName, "resolve", "catalog source unavailable", nil)
	}
	target, err := ValidateURL(rawURL)
	if err != nil {
		return media.Selection{}, services.Wrap(services.ErrNotFound, stageName, "validate url", "", err)
	}
	logger := logging.WithContext(ctx, r.logger)

	listing, err := r.source.Lookup(ctx, target)
	if err != nil {
		return media.Selection{}, classifyLookupError(err, r.source.Name())
	}
	candidates := mapListing(listing)
	if len(candidates) == 0 {
		return media.Selection{}, services.Wrap(services.ErrNotFound, stageName, "lookup", "catalog has no usable streams", nil)
	}

	selection := media.Selection{
		Title:    strings.TrimSpace(listing.Title),
		Author:   strings.TrimSpace(listing.Author),
		Duration: listing.Duration,
	}

	audioIdx := pickAudio(candidates)
	if audioIdx < 0 {
		return media.Selection{}, services.Wrap(services.ErrNoMatchingStream, stageName, "select audio", "catalog has no audio stream", nil)
	}

	videoIdx := -1
	if !tier.AudioOnly() {
		videoIdx, err = selectVideo(candidates, tier)
		if err != nil {
			return media.Selection{}, err
		}
	}

	if videoIdx >= 0 {
		video, err := r.locate(ctx, listing, candidates[videoIdx])
		if err != nil {
			return media.Selection{}, err
		}
		selection.Video = &video
	}
	audio, err := r.locate(ctx, listing, candidates[audioIdx])
	if err != nil {
		return media.Selection{}, err
	}
	selection.Audio = audio

	attrs := []logging.Attr{
		logging.String("title", selection.Title),
		logging.String("tier", tier.String()),
		logging.String("audio_stream", selection.Audio.Summary()),
		logging.Int("catalog_streams", len(candidates)),
		logging.String("catalog_source", r.source.Name()),
	}
	if selection.Video != nil {
		attrs = append(attrs, logging.String("video_stream", selection.Video.Summary()))
	}
	logger.Info("streams selected", logging.Args(attrs...)...)
	return selection, nil
}

// selectVideo fails when the tier is above the highest video the source
// offers; otherwise it picks the highest video at or below the tier.
func selectVideo(candidates []candidate, tier media.Tier) (int, error) {
	highest := highestVideo(candidates)
	if highest == 0 {
		return -1, services.Wrap(services.ErrNoMatchingStream, stageName, "select video", "catalog has no video stream", nil)
	}
	ceiling := tier.MaxHeight()
	if ceiling > highest {
		msg := fmt.Sprintf("requested %s but source tops out at %dp", tier, highest)
		return -1, services.Wrap(services.ErrNoMatchingStream, stageName, "select video", msg, nil)
	}
	idx := pickVideo(candidates, ceiling)
	if idx < 0 {
		msg := fmt.Sprintf("no video stream at or below %s", tier)
		return -1, services.Wrap(services.ErrNoMatchingStream, stageName, "select video", msg, nil)
	}
	return idx, nil
}

func (r *Resolver) locate(ctx context.Context, listing *Listing, c candidate) (media.StreamDescriptor, error) {
	desc := c.desc
	if ref := strings.TrimSpace(c.record.URL); ref != "" {
		desc.SourceReference = ref
		return desc, nil
	}
	ref, err := r.source.Locate(ctx, listing, c.record)
	if err != nil {
		if ctx.Err() != nil {
			return media.StreamDescriptor{}, services.Wrap(services.ErrCancelled, stageName, "locate", "", ctx.Err())
		}
		var svcErr *services.Error
		if errors.As(err, &svcErr) {
			return media.StreamDescriptor{}, err
		}
		return media.StreamDescriptor{}, services.Wrap(services.ErrNotFound, stageName, "locate", fmt.Sprintf("stream %s", desc.ID), err)
	}
	if strings.TrimSpace(ref) == "" {
		return media.StreamDescriptor{}, services.Wrap(services.ErrNotFound, stageName, "locate", fmt.Sprintf("stream %s has no url", desc.ID), nil)
	}
	desc.SourceReference = ref
	return desc, nil
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errors.New("invalid URL: empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid URL: unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("invalid URL: missing host")
	}
	return parsed.String(), nil
}

func classifyLookupError(err error, source string) error {
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrCancelled, stageName, "lookup", source, err)
	}
	if errors.Is(err, services.ErrNotFound) {
		return services.Wrap(services.ErrNotFound, stageName, "lookup", source, err)
	}
	return services.Wrap(services.ErrTransient, stageName, "lookup", source, err)
}
