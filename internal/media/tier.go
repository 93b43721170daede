package media

import (
	"fmt"
	"strconv"
	"strings"

	"tubemux/internal/services"
)

// Kind distinguishes video and audio streams.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
)

// Tier is a requested quality level.
type Tier string

const (
	TierBest      Tier = "best"
	Tier2160p     Tier = "2160p"
	Tier1440p     Tier = "1440p"
	Tier1080p     Tier = "1080p"
	Tier720p      Tier = "720p"
	Tier480p      Tier = "480p"
	Tier360p      Tier = "360p"
	TierAudioOnly Tier = "audio"
)

var tierHeights = map[Tier]int{
	TierBest:      0,
	Tier2160p:     2160,
	Tier1440p:     1440,
	Tier1080p:     1080,
	Tier720p:      720,
	Tier480p:      480,
	Tier360p:      360,
	TierAudioOnly: 0,
}

var orderedTiers = []Tier{TierBest, Tier2160p, Tier1440p, Tier1080p, Tier720p, Tier480p, Tier360p, TierAudioOnly}

// AllTiers returns every accepted tier, best first.
func AllTiers() []Tier {
	out := make([]Tier, len(orderedTiers))
	copy(out, orderedTiers)
	return out
}

// ParseTier accepts tier labels case-insensitively, bare heights ("720") and
// the aliases max, audio-only and audio_only.
func ParseTier(value string) (Tier, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", "best", "max":
		return TierBest, nil
	case "audio", "audio-only", "audio_only":
		return TierAudioOnly, nil
	}
	if _, err := strconv.Atoi(normalized); err == nil {
		normalized += "p"
	}
	tier := Tier(normalized)
	if _, ok := tierHeights[tier]; ok {
		return tier, nil
	}
	return "", services.Wrap(services.ErrValidation, "", "parse tier", fmt.Sprintf("unknown tier %q", value), nil)
}

// MaxHeight returns the height ceiling for video selection; 0 means unbounded.
func (t Tier) MaxHeight() int {
	return tierHeights[t]
}

// AudioOnly reports whether the tier skips video entirely.
func (t Tier) AudioOnly() bool {
	return t == TierAudioOnly
}

// Label is the tier as it appears in artifact filenames.
func (t Tier) Label() string {
	return string(t)
}

// Extension is the container extension for the tier's artifact.
func (t Tier) Extension() string {
	if t.AudioOnly() {
		return ".m4a"
	}
	return ".mp4"
}

func (t Tier) String() string {
	return string(t)
}
