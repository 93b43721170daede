package ffprobe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Report is the subset of `ffprobe -show_format -show_streams` output the
// muxer checks.
type Report struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

type Stream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Height    int    `json:"height,omitempty"`
	Channels  int    `json:"channels,omitempty"`
}

// Format holds container fields; ffprobe reports numbers as strings.
type Format struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// Inspect runs binary (ffprobe when blank) against path.
func Inspect(ctx context.Context, binary, path string) (Report, error) {
	if strings.TrimSpace(path) == "" {
		return Report{}, errors.New("ffprobe: empty path")
	}
	if binary = strings.TrimSpace(binary); binary == "" {
		binary = "ffprobe"
	}

	cmd := exec.CommandContext(ctx, binary,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json", "--", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout, cmd.Stderr = &stdout, &stderr
	if err := cmd.Run(); err != nil {
		return Report{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	var report Report
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		return Report{}, fmt.Errorf("ffprobe %s: decode output: %w", path, err)
	}
	return report, nil
}

// Count returns how many streams have the codec type ("video", "audio").
func (p Report) Count(codecType string) int {
	n := 0
	for _, s := range p.Streams {
		if strings.EqualFold(s.CodecType, codecType) {
			n++
		}
	}
	return n
}

// IsMP4 reports whether the demuxer recognised an ISO-BMFF container.
func (p Report) IsMP4() bool {
	return p.formatIs("mp4", "mov")
}

// IsMatroska reports whether the demuxer recognised Matroska or WebM.
func (p Report) IsMatroska() bool {
	return p.formatIs("matroska", "webm")
}

func (p Report) formatIs(names ...string) bool {
	for _, name := range strings.Split(p.Format.FormatName, ",") {
		if slices.Contains(names, name) {
			return true
		}
	}
	return false
}

// Duration is zero when ffprobe did not report a usable value.
func (p Report) Duration() time.Duration {
	seconds, ok := positive(p.Format.Duration)
	if !ok {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

// Size is zero when ffprobe did not report a usable value.
func (p Report) Size() int64 {
	size, ok := positive(p.Format.Size)
	if !ok {
		return 0
	}
	return int64(size)
}

func positive(raw string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}
