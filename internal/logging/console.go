package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const headerTimeLayout = "2006-01-02 15:04:05"

// consoleState is shared by every handler derived from one logger so writes
// stay serialized and repeat suppression sees all records.
type consoleState struct {
	mu   sync.Mutex
	w    io.Writer
	seen map[string]map[string]string
}

type consoleHandler struct {
	state      *consoleState
	level      slog.Leveler
	withSource bool
	attrs      []field
	prefix     string
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, withSource bool) *consoleHandler {
	return &consoleHandler{
		state:      &consoleState{w: w, seen: make(map[string]map[string]string)},
		level:      level,
		withSource: withSource,
	}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]field(nil), h.attrs...)
	for _, attr := range attrs {
		next.attrs = appendFlattened(next.attrs, h.prefix, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]field, 0, len(h.attrs)+record.NumAttrs())
	fields = append(fields, h.attrs...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendFlattened(fields, h.prefix, attr)
		return true
	})
	fields = lastValueWins(fields)

	var component, jobID, stage string
	body := make([]field, 0, len(fields))
	for _, f := range fields {
		switch f.key {
		case FieldComponent:
			component = plainString(f.value)
			continue
		case FieldJobID:
			jobID = plainString(f.value)
		case FieldStage:
			stage = plainString(f.value)
		}
		body = append(body, f)
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var buf bytes.Buffer
	buf.WriteString(ts.In(time.Local).Format(headerTimeLayout))
	buf.WriteByte(' ')
	buf.WriteString(levelName(record.Level))
	if component != "" {
		fmt.Fprintf(&buf, " [%s]", component)
	}
	if subject := jobSubject(jobID, stage); subject != "" {
		buf.WriteByte(' ')
		buf.WriteString(subject)
	}
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}
	buf.WriteString(" – ")
	buf.WriteString(message)
	if src := record.Source(); h.withSource && src != nil {
		fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(src.File), src.Line)
	}

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	if record.Level < slog.LevelInfo {
		for _, f := range body {
			fmt.Fprintf(&buf, "\n    %s: %s", f.key, formatValue(f.value))
		}
	} else {
		lines, hidden := infoLines(body)
		scope := jobID
		if scope == "" {
			scope = component
		}
		lines = h.state.dropRepeats(scope, lines, record.Level > slog.LevelInfo)
		for _, line := range lines {
			fmt.Fprintf(&buf, "\n    - %s: %s", line.label, line.value)
		}
		if hidden == 1 {
			buf.WriteString("\n    + 1 more field hidden")
		} else if hidden > 1 {
			fmt.Fprintf(&buf, "\n    + %d more fields hidden", hidden)
		}
	}
	buf.WriteByte('\n')
	_, err := h.state.w.Write(buf.Bytes())
	return err
}

// dropRepeats hides info fields whose value has not changed since the last
// record in the same scope. Warnings and errors always show every field.
func (s *consoleState) dropRepeats(scope string, lines []infoLine, showAll bool) []infoLine {
	if scope == "" || len(lines) == 0 {
		return lines
	}
	last, ok := s.seen[scope]
	if !ok {
		last = make(map[string]string)
		s.seen[scope] = last
	}
	kept := lines[:0]
	for _, line := range lines {
		if prev, ok := last[line.label]; ok && prev == line.value && !showAll {
			continue
		}
		last[line.label] = line.value
		kept = append(kept, line)
	}
	return kept
}

// jobSubject renders "Job 1a2b3c4d (fetching)" using the first eight
// characters of the job ID.
func jobSubject(jobID, stage string) string {
	jobID = strings.TrimSpace(jobID)
	stage = strings.TrimSpace(stage)
	if len(jobID) > 8 {
		jobID = jobID[:8]
	}
	switch {
	case jobID == "":
		return stage
	case stage == "":
		return "Job " + jobID
	default:
		return "Job " + jobID + " (" + stage + ")"
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

func appendFlattened(dst []field, prefix string, attr slog.Attr) []field {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner = prefix + attr.Key + "."
		}
		for _, child := range value.Group() {
			dst = appendFlattened(dst, inner, child)
		}
		return dst
	}
	return append(dst, field{key: prefix + attr.Key, value: value})
}

// lastValueWins keeps the first position of each key with its latest value.
func lastValueWins(fields []field) []field {
	index := make(map[string]int, len(fields))
	out := fields[:0:0]
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, ok := index[f.key]; ok {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}
