package mux_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"tubemux/internal/mux"
	"tubemux/internal/services"
	"tubemux/internal/testsupport"
)

func inputs(t *testing.T) (string, string, string) {
	t.Helper()
	dir := t.TempDir()
	video := filepath.Join(dir, "video.mp4")
	audio := filepath.Join(dir, "audio.m4a")
	testsupport.WriteFile(t, video, 2048)
	testsupport.WriteFile(t, audio, 512)
	return video, audio, filepath.Join(dir, "muxed.mp4")
}

func newMuxer(t *testing.T, script string, minTimeout time.Duration) *mux.Muxer {
	t.Helper()
	bin := testsupport.WriteScript(t, t.TempDir(), "ffmpeg", script)
	return mux.New(mux.Options{FFmpegBinary: bin, MinTimeout: minTimeout, PerGiB: 120 * time.Second}, nil)
}

func TestArgs(t *testing.T) {
	dual := mux.Args("v.mp4", "a.m4a", "out.mp4")
	want := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-n",
		"-i", "v.mp4", "-i", "a.m4a", "-map", "0:v:0", "-map", "1:a:0",
		"-c", "copy", "-movflags", "+faststart", "out.mp4"}
	if !slices.Equal(dual, want) {
		t.Fatalf("dual args = %q", dual)
	}

	audio := mux.Args("", "a.m4a", "out.m4a")
	want = []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-n",
		"-i", "a.m4a", "-map", "0:a:0", "-vn",
		"-c", "copy", "-movflags", "+faststart", "out.m4a"}
	if !slices.Equal(audio, want) {
		t.Fatalf("audio args = %q", audio)
	}

	matroska := mux.Args("", "a.webm", "out.mka")
	want = []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-n",
		"-i", "a.webm", "-map", "0:a:0", "-vn", "-c", "copy", "out.mka"}
	if !slices.Equal(matroska, want) {
		t.Fatalf("matroska args = %q", matroska)
	}
}

func TestTimeoutScalesWithInput(t *testing.T) {
	m := mux.New(mux.Options{MinTimeout: 60 * time.Second, PerGiB: 120 * time.Second}, nil)
	if got := m.Timeout(10 << 20); got != 60*time.Second {
		t.Fatalf("small input timeout = %s", got)
	}
	if got := m.Timeout(2 << 30); got != 240*time.Second {
		t.Fatalf("2 GiB timeout = %s", got)
	}
}

func TestMuxWritesOutput(t *testing.T) {
	video, audio, out := inputs(t)
	result, err := newMuxer(t, testsupport.FFmpegConcatScript, time.Minute).Mux(context.Background(), video, audio, out)
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if result.OutputPath != out || result.Size != 2048+512 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestMuxAudioOnly(t *testing.T) {
	_, audio, _ := inputs(t)
	out := filepath.Join(filepath.Dir(audio), "muxed.m4a")
	result, err := newMuxer(t, testsupport.FFmpegConcatScript, time.Minute).Mux(context.Background(), "", audio, out)
	if err != nil {
		t.Fatalf("Mux: %v", err)
	}
	if result.Size != 512 {
		t.Fatalf("expected audio bytes only, got %d", result.Size)
	}
}

func TestMuxPropagatesStderr(t *testing.T) {
	video, audio, out := inputs(t)
	script := "echo 'video.mp4: Invalid data found when processing input' >&2\nexit 1\n"
	_, err := newMuxer(t, script, time.Minute).Mux(context.Background(), video, audio, out)
	if !errors.Is(err, services.ErrMuxFailed) {
		t.Fatalf("expected MuxFailed, got %v", err)
	}
	details := services.Details(err)
	if details.Diagnostic != "video.mp4: Invalid data found when processing input" {
		t.Fatalf("expected verbatim stderr, got %q", details.Diagnostic)
	}
	if !strings.Contains(details.Message, "Invalid data found") {
		t.Fatalf("expected message to carry stderr, got %q", details.Message)
	}
}

func TestMuxRefusesExistingOutput(t *testing.T) {
	video, audio, out := inputs(t)
	if err := os.WriteFile(out, []byte("published"), 0o644); err != nil {
		t.Fatal(err)
	}
	marker := filepath.Join(t.TempDir(), "ran")
	script := "touch " + marker + "\nexit 1\n"
	_, err := newMuxer(t, script, time.Minute).Mux(context.Background(), video, audio, out)
	if !errors.Is(err, services.ErrMuxFailed) {
		t.Fatalf("expected MuxFailed, got %v", err)
	}
	data, readErr := os.ReadFile(out)
	if readErr != nil || string(data) != "published" {
		t.Fatalf("existing output was modified: %q err=%v", data, readErr)
	}
	if _, statErr := os.Stat(marker); !os.IsNotExist(statErr) {
		t.Fatalf("ffmpeg should not run against an existing output, stat err=%v", statErr)
	}
}

func TestMuxTimeout(t *testing.T) {
	video, audio, out := inputs(t)
	started := time.Now()
	_, err := newMuxer(t, "exec sleep 10\n", 200*time.Millisecond).Mux(context.Background(), video, audio, out)
	if !errors.Is(err, services.ErrMuxTimeout) {
		t.Fatalf("expected MuxTimeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("ffmpeg was not killed promptly (%s)", elapsed)
	}
}

func TestMuxCancelled(t *testing.T) {
	video, audio, out := inputs(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := newMuxer(t, "exec sleep 10\n", time.Minute).Mux(ctx, video, audio, out)
	if !errors.Is(err, services.ErrCancelled) {
		t.Fatalf("expected Cancelled, got %v", err)
	}
}

func TestMuxEmptyOutputFails(t *testing.T) {
	video, audio, out := inputs(t)
	script := "for last; do :; done\n: > \"$last\"\n"
	_, err := newMuxer(t, script, time.Minute).Mux(context.Background(), video, audio, out)
	if !errors.Is(err, services.ErrMuxFailed) {
		t.Fatalf("expected MuxFailed, got %v", err)
	}
	if _, statErr := os.Stat(out); !os.IsNotExist(statErr) {
		t.Fatalf("expected empty output removed, stat err=%v", statErr)
	}
}

func TestMuxMissingOutputFails(t *testing.T) {
	video, audio, out := inputs(t)
	_, err := newMuxer(t, "exit 0\n", time.Minute).Mux(context.Background(), video, audio, out)
	if !errors.Is(err, services.ErrMuxFailed) {
		t.Fatalf("expected MuxFailed, got %v", err)
	}
}

func TestMuxVerifyRequiresVideo(t *testing.T) {
	video, audio, out := inputs(t)
	dir := t.TempDir()
	ffmpeg := testsupport.WriteScript(t, dir, "ffmpeg", testsupport.FFmpegConcatScript)
	ffprobe := testsupport.WriteScript(t, dir, "ffprobe", `echo '{"streams":[{"index":0,"codec_type":"audio"}],"format":{}}'`+"\n")
	m := mux.New(mux.Options{FFmpegBinary: ffmpeg, FFprobeBinary: ffprobe, MinTimeout: time.Minute, Verify: true}, nil)

	_, err := m.Mux(context.Background(), video, audio, out)
	if !errors.Is(err, services.ErrMuxFailed) {
		t.Fatalf("expected MuxFailed from verification, got %v", err)
	}

	audioOut := filepath.Join(dir, "audio.m4a")
	if _, err := m.Mux(context.Background(), "", audio, audioOut); err != nil {
		t.Fatalf("audio-only verification should pass: %v", err)
	}
}

func TestMuxVerifyRejectsNonMP4Container(t *testing.T) {
	video, audio, out := inputs(t)
	dir := t.TempDir()
	ffmpeg := testsupport.WriteScript(t, dir, "ffmpeg", testsupport.FFmpegConcatScript)
	ffprobe := testsupport.WriteScript(t, dir, "ffprobe",
		`echo '{"streams":[{"index":0,"codec_type":"video"},{"index":1,"codec_type":"audio"}],"format":{"format_name":"matroska,webm"}}'`+"\n")
	m := mux.New(mux.Options{FFmpegBinary: ffmpeg, FFprobeBinary: ffprobe, MinTimeout: time.Minute, Verify: true}, nil)

	_, err := m.Mux(context.Background(), video, audio, out)
	if !errors.Is(err, services.ErrMuxFailed) || !strings.Contains(err.Error(), "matroska") {
		t.Fatalf("expected container rejection, got %v", err)
	}
}

func TestMuxVerifyAcceptsMatroskaAudio(t *testing.T) {
	_, audio, _ := inputs(t)
	dir := t.TempDir()
	ffmpeg := testsupport.WriteScript(t, dir, "ffmpeg", testsupport.FFmpegConcatScript)
	ffprobe := testsupport.WriteScript(t, dir, "ffprobe",
		`echo '{"streams":[{"index":0,"codec_type":"audio","codec_name":"opus"}],"format":{"format_name":"matroska,webm"}}'`+"\n")
	m := mux.New(mux.Options{FFmpegBinary: ffmpeg, FFprobeBinary: ffprobe, MinTimeout: time.Minute, Verify: true}, nil)

	if _, err := m.Mux(context.Background(), "", audio, filepath.Join(dir, "muxed.mka")); err != nil {
		t.Fatalf("matroska audio should verify: %v", err)
	}
	if _, err := m.Mux(context.Background(), "", audio, filepath.Join(dir, "muxed.m4a")); !errors.Is(err, services.ErrMuxFailed) {
		t.Fatalf("matroska data in an m4a name should fail, got %v", err)
	}
}
