package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"tubemux/internal/logging"
	"tubemux/internal/services"
)

func TestConsoleHandlerRendersJobSubject(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := services.WithJobID(context.Background(), "0b7c9d4e-1111-2222-3333-444455556666")
	ctx = services.WithStage(ctx, "fetching")
	logger = logging.NewComponentLogger(logging.WithContext(ctx, logger), "workflow")

	logger.Info("stage started", logging.String(logging.FieldEventType, "stage_start"), logging.Int64("artifact_bytes", 3*1024*1024))

	out := buf.String()
	for _, fragment := range []string{"INFO", "[workflow]", "Job 0b7c9d4e (fetching)", "– stage started", "- Event: stage_start", "- Size: 3.0 MiB"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output:\n%s", fragment, out)
		}
	}
	if strings.Contains(out, "correlation") {
		t.Fatalf("debug-only fields leaked into info output:\n%s", out)
	}
}

func TestConsoleHandlerDedupesRepeatedInfoFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger = logger.With(logging.String(logging.FieldJobID, "job-1"))
	logger.Info("first", logging.String("tier", "720p"))
	logger.Info("second", logging.String("tier", "720p"))
	if got := strings.Count(buf.String(), "Tier: 720p"); got != 1 {
		t.Fatalf("expected repeated field once, got %d:\n%s", got, buf.String())
	}
}

func TestJSONHandlerShape(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Warn("fetch retry", logging.Error(errors.New("connection reset")))

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode json log: %v (%s)", err, buf.String())
	}
	if payload["level"] != "warn" || payload["msg"] != "fetch retry" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	if _, ok := payload["ts"]; !ok {
		t.Fatalf("expected ts key: %v", payload)
	}
	if payload["error"] != "connection reset" {
		t.Fatalf("unexpected error field: %v", payload["error"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml", Writer: &bytes.Buffer{}}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestWarnWithContextInjectsDefaults(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := logging.New(logging.Options{Level: "info", Format: "json", Writer: &buf})
	logging.WarnWithContext(logger, "scratch cleanup failed", "staging_cleanup_failed")

	var payload map[string]any
	if err := json.Unmarshal(buf.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, key := range []string{logging.FieldEventType, logging.FieldErrorHint, logging.FieldImpact} {
		if _, ok := payload[key]; !ok {
			t.Fatalf("expected %s in %v", key, payload)
		}
	}
}

func TestConsoleHandlerGroupsAndDebugFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.WithGroup("fetch").Debug("range request", logging.String("stream_url", "https://cdn.invalid/v"), logging.Int64("offset", 42))

	out := buf.String()
	for _, fragment := range []string{"DEBUG", "fetch.stream_url: https://cdn.invalid/v", "fetch.offset: 42"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in output:\n%s", fragment, out)
		}
	}
}

func TestConsoleHandlerCountsHiddenFields(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "console", Writer: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("job published", logging.String("output_path", "/srv/out/clip.mp4"), logging.String("source_url", "https://example.invalid"))

	if !strings.Contains(buf.String(), "+ 2 more fields hidden") {
		t.Fatalf("expected hidden field count:\n%s", buf.String())
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := logging.NewProgressSampler(25)
	steps := []struct {
		percent float64
		stage   string
		want    bool
	}{
		{0, "fetching", true},
		{10, "fetching", false},
		{25, "fetching", true},
		{49, "fetching", false},
		{120, "fetching", true},
		{100, "fetching", false},
		{0, "muxing", true},
		{-1, "muxing", false},
	}
	for i, step := range steps {
		if got := s.ShouldLog(step.percent, step.stage); got != step.want {
			t.Fatalf("step %d (%v, %s): got %v want %v", i, step.percent, step.stage, got, step.want)
		}
	}
	s.Reset()
	if !s.ShouldLog(0, "muxing") {
		t.Fatal("expected emit after reset")
	}

	var nilSampler *logging.ProgressSampler
	if !nilSampler.ShouldLog(50, "x") {
		t.Fatal("nil sampler should always log")
	}
}
