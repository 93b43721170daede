package catalog

import (
	"strconv"
	"strings"

	"tubemux/internal/media"
)

// toDescriptor validates a raw record. Records with an unknown kind, an empty
// ID, or a video record without a nominal height are rejected. A video's
// Height is its nominal height (see nominalHeight), not its pixel height.
func toDescriptor(record Record) (media.StreamDescriptor, bool) {
	id := strings.TrimSpace(record.ID)
	if id == "" {
		return media.StreamDescriptor{}, false
	}
	var kind media.Kind
	switch strings.ToLower(strings.TrimSpace(record.Kind)) {
	case string(media.KindVideo):
		kind = media.KindVideo
	case string(media.KindAudio):
		kind = media.KindAudio
	default:
		return media.StreamDescriptor{}, false
	}
	height := 0
	if kind == media.KindVideo {
		height = nominalHeight(record)
		if height <= 0 {
			return media.StreamDescriptor{}, false
		}
	}
	desc := media.StreamDescriptor{
		ID:              id,
		Kind:            kind,
		Codec:           strings.TrimSpace(record.Codec),
		Container:       strings.ToLower(strings.TrimSpace(record.Container)),
		QualityLabel:    strings.TrimSpace(record.QualityLabel),
		Height:          height,
		Bitrate:         max(record.Bitrate, 0),
		ApproximateSize: max(record.ApproximateSize, 0),
	}
	return desc, true
}

// nominalHeight is the height a video is marketed at: the digits of a
// "1080p60" style quality label, else the short side of the frame. A
// 1920x800 widescreen encode and a 1080x1920 vertical one are both 1080p.
func nominalHeight(record Record) int {
	if h := labelHeight(record.QualityLabel); h > 0 {
		return h
	}
	if record.Width > 0 && record.Height > 0 {
		return min(record.Width, record.Height)
	}
	return max(record.Height, 0)
}

func labelHeight(label string) int {
	label = strings.TrimSpace(label)
	end := 0
	for end < len(label) && label[end] >= '0' && label[end] <= '9' {
		end++
	}
	if end == 0 || end == len(label) || (label[end] != 'p' && label[end] != 'P') {
		return 0
	}
	h, err := strconv.Atoi(label[:end])
	if err != nil {
		return 0
	}
	return h
}

type candidate struct {
	desc   media.StreamDescriptor
	record Record
}

func mapListing(listing *Listing) []candidate {
	if listing == nil {
		return nil
	}
	out := make([]candidate, 0, len(listing.Records))
	for _, record := range listing.Records {
		desc, ok := toDescriptor(record)
		if !ok {
			continue
		}
		out = append(out, candidate{desc: desc, record: record})
	}
	return out
}

// pickVideo returns the index of the highest video at or below maxHeight
// (unbounded when 0). Ties go to the larger approximate size, then to the
// earlier catalog entry.
func pickVideo(candidates []candidate, maxHeight int) int {
	best := -1
	for idx, c := range candidates {
		if c.desc.Kind != media.KindVideo {
			continue
		}
		if maxHeight > 0 && c.desc.Height > maxHeight {
			continue
		}
		if best < 0 {
			best = idx
			continue
		}
		cur := candidates[best].desc
		if c.desc.Height > cur.Height || (c.desc.Height == cur.Height && c.desc.ApproximateSize > cur.ApproximateSize) {
			best = idx
		}
	}
	return best
}

// pickAudio returns the index of the best audio stream. Streams that copy
// into mp4 rank first; then highest bitrate, larger approximate size and
// catalog order.
func pickAudio(candidates []candidate) int {
	best := -1
	for idx, c := range candidates {
		if c.desc.Kind != media.KindAudio {
			continue
		}
		if best < 0 {
			best = idx
			continue
		}
		cur := candidates[best].desc
		if fits, curFits := c.desc.FitsMP4(), cur.FitsMP4(); fits != curFits {
			if fits {
				best = idx
			}
			continue
		}
		if c.desc.Bitrate > cur.Bitrate || (c.desc.Bitrate == cur.Bitrate && c.desc.ApproximateSize > cur.ApproximateSize) {
			best = idx
		}
	}
	return best
}

func highestVideo(candidates []candidate) int {
	height := 0
	for _, c := range candidates {
		if c.desc.Kind == media.KindVideo && c.desc.Height > height {
			height = c.desc.Height
		}
	}
	return height
}
