package logging

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	maxInfoLines    = 8
	maxInfoValueLen = 120
	maxErrorLen     = 200
)

type infoLine struct {
	label string
	value string
}

// infoOrder lists the keys shown first on info lines, most important first.
var infoOrder = []string{
	FieldAlert,
	FieldEventType,
	FieldErrorKind,
	"title",
	"tier",
	"status",
	FieldProgressStage,
	FieldProgressPercent,
	FieldProgressMessage,
	"video_stream",
	"audio_stream",
	"attempt",
	"backoff",
	"command",
	"error_message",
	"error",
	FieldErrorHint,
	FieldImpact,
	"artifact",
	"artifact_bytes",
	"bytes_transferred",
	"stage_duration",
	"mux_duration",
	"timeout",
	"removed",
	"reason",
}

var infoLabels = map[string]string{
	FieldAlert:           "Alert",
	FieldEventType:       "Event",
	FieldErrorKind:       "Error Kind",
	FieldErrorHint:       "Hint",
	FieldProgressStage:   "Progress Stage",
	FieldProgressMessage: "Progress",
	"stage_duration":     "Duration",
	"mux_duration":       "Duration",
	"artifact_bytes":     "Size",
	"bytes_transferred":  "Transferred",
	"video_stream":       "Video",
	"audio_stream":       "Audio",
}

func infoRank(key string) int {
	for i, k := range infoOrder {
		if k == key {
			return i
		}
	}
	return len(infoOrder)
}

// infoLines picks the readable fields for an info-or-higher record and
// reports how many were left out.
func infoLines(fields []field) ([]infoLine, int) {
	ordered := append([]field(nil), fields...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return infoRank(ordered[i].key) < infoRank(ordered[j].key)
	})

	var lines []infoLine
	hidden := 0
	for _, f := range ordered {
		switch f.key {
		case FieldJobID, FieldStage, FieldComponent:
			continue
		}
		if debugOnly(f.key) {
			hidden++
			continue
		}
		value := formatForKey(f.key, f.value)
		if len(value) > maxInfoValueLen && !alwaysShown(f.key) {
			hidden++
			continue
		}
		if len(lines) >= maxInfoLines {
			hidden++
			continue
		}
		lines = append(lines, infoLine{label: labelFor(f.key), value: value})
	}
	return lines, hidden
}

func debugOnly(key string) bool {
	switch key {
	case FieldCorrelationID, "url", "source_url", "stream_url", "itag", "args":
		return true
	}
	return strings.HasSuffix(key, "_id") ||
		strings.Contains(key, "_path") ||
		strings.Contains(key, "_dir")
}

func alwaysShown(key string) bool {
	switch key {
	case "error", "error_message", "command", "title":
		return true
	}
	return false
}

func labelFor(key string) string {
	if label, ok := infoLabels[key]; ok {
		return label
	}
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
	}
	return strings.Join(words, " ")
}

func formatForKey(key string, v slog.Value) string {
	switch {
	case isByteKey(key) && v.Kind() == slog.KindInt64:
		if n := v.Int64(); n >= 0 {
			return humanize.IBytes(uint64(n))
		}
	case isByteKey(key) && v.Kind() == slog.KindUint64:
		return humanize.IBytes(v.Uint64())
	case v.Kind() == slog.KindDuration:
		return roundDuration(v.Duration()).String()
	case strings.HasSuffix(key, "_percent") && v.Kind() == slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', 1, 64) + "%"
	case v.Kind() == slog.KindBool:
		if v.Bool() {
			return "yes"
		}
		return "no"
	case key == "error" || key == "error_message":
		text := strings.TrimSpace(plainString(v))
		if len(text) > maxErrorLen {
			text = text[:maxErrorLen] + "…"
		}
		return text
	}
	return formatValue(v)
}

func isByteKey(key string) bool {
	return strings.HasSuffix(key, "_bytes") || strings.HasSuffix(key, "_size") ||
		key == "size" || key == "bytes_transferred"
}

func roundDuration(d time.Duration) time.Duration {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond)
	case d < time.Minute:
		return d.Round(100 * time.Millisecond)
	default:
		return d.Round(time.Second)
	}
}

// plainString renders v without quoting.
func plainString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	case slog.KindTime:
		return v.Time().In(time.Local).Format(headerTimeLayout)
	default:
		return v.String()
	}
}

// formatValue renders v for the console, quoting strings that contain
// spaces, quotes or equals signs.
func formatValue(v slog.Value) string {
	text := plainString(v)
	if v.Kind() != slog.KindString && v.Kind() != slog.KindAny {
		return text
	}
	if text == "" || strings.ContainsFunc(text, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(text)
	}
	return text
}
