package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"tubemux/internal/media"
)

const (
	// MaxArtifactNameLength caps the artifact filename in characters.
	MaxArtifactNameLength = 180
	// maxArtifactNameBytes keeps names under the common NAME_MAX.
	maxArtifactNameBytes = 255
	disambiguatorLength  = 8
	fallbackStem         = "untitled"
	reservedCharacters   = `<>:"/\|?*`
)

// ArtifactName returns "<clean title>_<tier>_<8 hex of job ID><ext>". An
// empty ext falls back to the tier's default extension.
func ArtifactName(title string, tier media.Tier, jobID, ext string) string {
	if ext == "" {
		ext = tier.Extension()
	}
	suffix := "_" + tier.Label() + "_" + Disambiguator(jobID) + ext

	title = norm.NFC.String(strings.TrimSpace(title))
	title = strings.TrimSuffix(title, suffix)

	budget := MaxArtifactNameLength - utf8.RuneCountInString(suffix)
	stem := cleanStem(title, budget, maxArtifactNameBytes-len(suffix))
	return stem + suffix
}

// Disambiguator returns the first eight lowercase hex digits of jobID, padded
// with zeros when the ID is shorter.
func Disambiguator(jobID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(jobID) {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
			if b.Len() == disambiguatorLength {
				break
			}
		}
	}
	for b.Len() < disambiguatorLength {
		b.WriteByte('0')
	}
	return b.String()
}

// SanitizeFileName replaces reserved and control characters with underscores
// and collapses whitespace and underscore runs. It does not truncate.
func SanitizeFileName(name string) string {
	return cleanStem(norm.NFC.String(name), 0, 0)
}

func cleanStem(title string, maxRunes, maxBytes int) string {
	var b strings.Builder
	b.Grow(len(title))
	var prev rune
	for _, r := range title {
		switch {
		case unicode.IsSpace(r):
			r = ' '
		case r == 0, unicode.IsControl(r), strings.ContainsRune(reservedCharacters, r):
			r = '_'
		}
		if (r == ' ' || r == '_') && r == prev {
			continue
		}
		b.WriteRune(r)
		prev = r
	}
	stem := trimStem(b.String())
	if maxRunes > 0 || maxBytes > 0 {
		stem = truncateStem(stem, maxRunes, maxBytes)
	}
	if stem == "" {
		return fallbackStem
	}
	return stem
}

func truncateStem(stem string, maxRunes, maxBytes int) string {
	runes := 0
	for idx, r := range stem {
		if (maxRunes > 0 && runes == maxRunes) || (maxBytes > 0 && idx+utf8.RuneLen(r) > maxBytes) {
			return trimStem(stem[:idx])
		}
		runes++
	}
	return stem
}

func trimStem(stem string) string {
	return strings.Trim(stem, " _.")
}
