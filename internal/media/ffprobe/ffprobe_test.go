package ffprobe_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tubemux/internal/media/ffprobe"
)

func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestInspectDecodesStreams(t *testing.T) {
	stub := writeStub(t, `cat <<'JSON'
{"streams":[{"index":0,"codec_type":"video","codec_name":"h264","height":720},{"index":1,"codec_type":"audio","codec_name":"aac","channels":2}],"format":{"duration":"12.5","size":"4096","format_name":"mov,mp4,m4a,3gp,3g2,mj2"}}
JSON`)
	report, err := ffprobe.Inspect(context.Background(), stub, "/tmp/out.mp4")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if report.Count("video") != 1 || report.Count("AUDIO") != 1 || report.Count("subtitle") != 0 {
		t.Fatalf("unexpected stream counts: %+v", report.Streams)
	}
	if report.Duration() != 12500*time.Millisecond || report.Size() != 4096 {
		t.Fatalf("unexpected format: %+v", report.Format)
	}
	if !report.IsMP4() {
		t.Fatalf("expected mp4 container, got %q", report.Format.FormatName)
	}
}

func TestInspectReportsStderr(t *testing.T) {
	stub := writeStub(t, `echo "moov atom not found" >&2; exit 1`)
	_, err := ffprobe.Inspect(context.Background(), stub, "/tmp/broken.mp4")
	if err == nil || !strings.Contains(err.Error(), "moov atom not found") {
		t.Fatalf("expected stderr in error, got %v", err)
	}
}

func TestInspectRejectsEmptyPath(t *testing.T) {
	if _, err := ffprobe.Inspect(context.Background(), "ffprobe", " "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestProbeIgnoresUnusableNumbers(t *testing.T) {
	report := ffprobe.Report{Format: ffprobe.Format{Duration: "N/A", Size: "-1", FormatName: "matroska,webm"}}
	if report.Duration() != 0 || report.Size() != 0 {
		t.Fatalf("expected zero values, got %v %d", report.Duration(), report.Size())
	}
	if report.IsMP4() || !report.IsMatroska() {
		t.Fatal("matroska should be reported as matroska, not mp4")
	}
}
