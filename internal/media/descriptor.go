package media

import (
	"fmt"
	"strings"
	"time"
)

// mp4AudioCodecs are codec prefixes the mp4/m4a muxer accepts on stream copy.
var mp4AudioCodecs = []string{"mp4a", "aac", "alac", "ac-3", "ec-3", "mp3"}

// StreamDescriptor describes one downloadable stream from a catalog listing.
// Values are treated as immutable once returned by the resolver.
type StreamDescriptor struct {
	ID              string
	Kind            Kind
	Codec           string
	Container       string
	QualityLabel    string
	Height          int
	Bitrate         int64
	ApproximateSize int64
	// SourceReference is the direct stream URL; only the selected pair carries one.
	SourceReference string
}

// Extension returns the scratch file extension for the stream's container.
func (d StreamDescriptor) Extension() string {
	switch d.Container {
	case "":
		if d.Kind == KindAudio {
			return ".m4a"
		}
		return ".mp4"
	case "mp4":
		if d.Kind == KindAudio {
			return ".m4a"
		}
		return ".mp4"
	default:
		return "." + d.Container
	}
}

// FitsMP4 reports whether the stream can be copied into an mp4 or m4a
// container without re-encoding. Streams with neither codec nor container
// reported are assumed to fit.
func (d StreamDescriptor) FitsMP4() bool {
	codec := strings.ToLower(d.Codec)
	if codec == "" {
		return d.Container == "" || d.Container == "mp4" || d.Container == "m4a"
	}
	for _, prefix := range mp4AudioCodecs {
		if strings.HasPrefix(codec, prefix) {
			return true
		}
	}
	return false
}

// Summary renders a short human-readable description for logs and the CLI.
func (d StreamDescriptor) Summary() string {
	label := d.QualityLabel
	if label == "" && d.Height > 0 {
		label = fmt.Sprintf("%dp", d.Height)
	}
	if d.Kind == KindAudio {
		label = fmt.Sprintf("%d kbps", d.Bitrate/1000)
	}
	if d.Codec != "" {
		return fmt.Sprintf("%s %s (%s)", d.ID, label, d.Codec)
	}
	return fmt.Sprintf("%s %s", d.ID, label)
}

// Selection is the resolver's result: at most one video stream plus one audio
// stream. Video is nil for the audio tier.
type Selection struct {
	Title    string
	Author   string
	Duration time.Duration
	Video    *StreamDescriptor
	Audio    StreamDescriptor
}

// OutputExtension is the artifact extension for tier. Audio that cannot be
// copied into m4a goes into Matroska instead.
func (s Selection) OutputExtension(tier Tier) string {
	if tier.AudioOnly() && !s.Audio.FitsMP4() {
		return ".mka"
	}
	return tier.Extension()
}

// ApproximateSize sums the approximate sizes of the selected streams.
func (s Selection) ApproximateSize() int64 {
	total := s.Audio.ApproximateSize
	if s.Video != nil {
		total += s.Video.ApproximateSize
	}
	return total
}
