package workflow_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"tubemux/internal/catalog"
	"tubemux/internal/config"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/notifications"
	"tubemux/internal/services"
	"tubemux/internal/testsupport"
	"tubemux/internal/textutil"
	"tubemux/internal/workflow"
)

func TestSubmitProducesReadyArtifact(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t, "720p")

	job := h.wait(t, id)
	if job.Status != jobs.StatusReady {
		t.Fatalf("expected ready, got %s (%s: %s)", job.Status, job.ErrorKind, job.ErrorMessage)
	}
	if !regexp.MustCompile(`_720p_[0-9a-f]{8}\.mp4$`).MatchString(job.OutputPath) {
		t.Fatalf("unexpected artifact name %q", filepath.Base(job.OutputPath))
	}
	if filepath.Dir(job.OutputPath) != h.cfg.Paths.OutputDir {
		t.Fatalf("artifact outside output dir: %s", job.OutputPath)
	}
	got, err := os.ReadFile(job.OutputPath)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	want := append(append([]byte(nil), h.video...), h.audio...)
	if !bytes.Equal(got, want) {
		t.Fatalf("artifact content mismatch: got %d bytes, want %d", len(got), len(want))
	}
	if job.ArtifactSize != int64(len(want)) {
		t.Fatalf("expected artifact size %d, got %d", len(want), job.ArtifactSize)
	}
	if job.Title != "Four Minute Clip" || job.ProgressPercent != 100 || job.CompletedAt == nil {
		t.Fatalf("unexpected ready record: %+v", job)
	}
	if job.VideoBytes != int64(len(h.video)) || job.AudioBytes != int64(len(h.audio)) {
		t.Fatalf("unexpected transferred bytes video=%d audio=%d", job.VideoBytes, job.AudioBytes)
	}
	if h.origin.Hits("v480") != 0 || h.origin.Hits("v360") != 0 {
		t.Fatal("only the selected video stream should be fetched")
	}
	if lookups := h.source.Lookups(); lookups != 1 {
		t.Fatalf("expected exactly one catalog lookup, got %d", lookups)
	}
	assertScratchEmpty(t, h.cfg)
	if files := outputFiles(t, h.cfg); len(files) != 1 {
		t.Fatalf("expected exactly the artifact in output dir, got %v", files)
	}

	persisted, err := h.store.Get(context.Background(), id)
	if err != nil || persisted == nil {
		t.Fatalf("store.Get: %v", err)
	}
	if persisted.Status != jobs.StatusReady || persisted.OutputPath != job.OutputPath {
		t.Fatalf("persisted record mismatch: %+v", persisted)
	}

	file, artifact, err := h.manager.OpenArtifact(context.Background(), id)
	if err != nil {
		t.Fatalf("OpenArtifact: %v", err)
	}
	defer file.Close()
	if artifact.Filename != filepath.Base(job.OutputPath) || artifact.Size != int64(len(want)) {
		t.Fatalf("unexpected artifact %+v", artifact)
	}
	streamed, _ := io.ReadAll(file)
	if !bytes.Equal(streamed, want) {
		t.Fatal("artifact stream mismatch")
	}

	events := h.notifier.Events()
	if len(events) != 1 || events[0] != notifications.EventJobReady {
		t.Fatalf("expected one ready notification, got %v", events)
	}
}

func TestSubmitTierAboveSourceFails(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t, "1080p")

	job := h.wait(t, id)
	if job.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorKind != string(services.ErrorKindNoMatchingStream) {
		t.Fatalf("expected no_matching_stream, got %q", job.ErrorKind)
	}
	if job.OutputPath != "" {
		t.Fatalf("failed job must not carry an output path: %q", job.OutputPath)
	}
	for _, path := range []string{"v360", "v480", "v720", "a128"} {
		if h.origin.Hits(path) != 0 {
			t.Fatalf("no stream should be fetched, %s was requested", path)
		}
	}
	assertScratchEmpty(t, h.cfg)
	if files := outputFiles(t, h.cfg); len(files) != 0 {
		t.Fatalf("expected no output, got %v", files)
	}
	events := h.notifier.Events()
	if len(events) != 1 || events[0] != notifications.EventJobFailed {
		t.Fatalf("expected one failure notification, got %v", events)
	}
}

func TestAudioTierPublishesAudioOnly(t *testing.T) {
	h := newHarness(t)
	h.source.AddRecord(catalog.Record{
		ID:        "o160",
		Kind:      "audio",
		Codec:     "opus",
		Container: "webm",
		Bitrate:   160_000,
		URL:       h.origin.URL("o160"),
	})
	id := h.submit(t, "audio")

	job := h.wait(t, id)
	if job.Status != jobs.StatusReady {
		t.Fatalf("expected ready, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if !strings.HasSuffix(job.OutputPath, "_audio_"+textutil.Disambiguator(id)+".m4a") {
		t.Fatalf("unexpected artifact name %q", job.OutputPath)
	}
	got, _ := os.ReadFile(job.OutputPath)
	if !bytes.Equal(got, h.audio) {
		t.Fatal("audio artifact should contain only the audio stream")
	}
	if h.origin.Hits("v720") != 0 {
		t.Fatal("audio tier must not fetch video")
	}
	if h.origin.Hits("o160") != 0 {
		t.Fatal("opus stream cannot be copied into m4a and should not be fetched")
	}
}

func TestAudioTierFallsBackToMatroskaForOpusOnlySources(t *testing.T) {
	h := newHarness(t)
	opus := testsupport.Payload(20 * 1024)
	origin := testsupport.NewOrigin(t, map[string][]byte{"o160": opus})
	source := testsupport.NewStaticSource(catalog.Listing{
		Title: "Opus Only",
		Records: []catalog.Record{
			{ID: "o160", Kind: "audio", Codec: "opus", Container: "webm", Bitrate: 160_000, URL: origin.URL("o160")},
		},
	})
	mgr, err := workflow.NewManager(h.cfg, h.store, nil, workflow.WithSource(source))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})

	id, err := mgr.Submit(context.Background(), clipURL, "audio")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	job, err := mgr.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if job.Status != jobs.StatusReady {
		t.Fatalf("expected ready, got %s (%s)", job.Status, job.ErrorMessage)
	}
	if !strings.HasSuffix(job.OutputPath, "_audio_"+textutil.Disambiguator(id)+".mka") {
		t.Fatalf("expected matroska artifact, got %q", job.OutputPath)
	}
	if got, _ := os.ReadFile(job.OutputPath); !bytes.Equal(got, opus) {
		t.Fatal("artifact should contain the opus stream")
	}
}

func TestConcurrentJobsForSameURLProduceDistinctArtifacts(t *testing.T) {
	h := newHarness(t)
	first := h.submit(t, "720p")
	second := h.submit(t, "720p")
	if first == second {
		t.Fatal("job ids must be unique")
	}

	a := h.wait(t, first)
	b := h.wait(t, second)
	if a.Status != jobs.StatusReady || b.Status != jobs.StatusReady {
		t.Fatalf("expected both ready, got %s and %s", a.Status, b.Status)
	}
	if a.OutputPath == b.OutputPath {
		t.Fatalf("artifacts collide: %s", a.OutputPath)
	}
	if files := outputFiles(t, h.cfg); len(files) != 2 {
		t.Fatalf("expected two artifacts, got %v", files)
	}
	assertScratchEmpty(t, h.cfg)
}

func TestAudioFailureFailsJobAndCleansScratch(t *testing.T) {
	h := newHarness(t)
	h.origin.FailWith("a128", -1)
	id := h.submit(t, "720p")

	job := h.wait(t, id)
	if job.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorKind != string(services.ErrorKindTransfer) {
		t.Fatalf("expected transfer error, got %q (%s)", job.ErrorKind, job.ErrorMessage)
	}
	if h.origin.Hits("a128") != 1 {
		t.Fatalf("403 must not be retried, got %d requests", h.origin.Hits("a128"))
	}
	assertScratchEmpty(t, h.cfg)
	if files := outputFiles(t, h.cfg); len(files) != 0 {
		t.Fatalf("expected no output, got %v", files)
	}
}

func TestFetchFailureCancelsSibling(t *testing.T) {
	h := newHarness(t)
	h.origin.Stall("v720")
	h.origin.FailWith("a128", -1)
	id := h.submit(t, "720p")

	job := h.wait(t, id)
	if job.Status != jobs.StatusFailed || job.ErrorKind != string(services.ErrorKindTransfer) {
		t.Fatalf("expected transfer failure, got %s/%s", job.Status, job.ErrorKind)
	}
	deadline := time.Now().Add(5 * time.Second)
	for h.origin.Dropped("v720") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stalled video request was never abandoned")
		}
		time.Sleep(5 * time.Millisecond)
	}
	assertScratchEmpty(t, h.cfg)
}

func TestCancelRunningJob(t *testing.T) {
	h := newHarness(t)
	h.origin.Stall("v720")
	h.origin.Stall("a128")
	id := h.submit(t, "720p")

	h.waitForStatus(t, id, jobs.StatusFetching)
	h.waitForHits(t, "v720", 1)
	if err := h.manager.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	job := h.wait(t, id)
	if job.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if job.ErrorKind != string(services.ErrorKindCancelled) || !job.Status.IsFailure() {
		t.Fatalf("expected cancelled failure variant, got kind %q", job.ErrorKind)
	}
	assertScratchEmpty(t, h.cfg)
	if events := h.notifier.Events(); len(events) != 0 {
		t.Fatalf("cancellation should not notify, got %v", events)
	}

	// Cancelling a finished job is a no-op and the record never changes.
	if err := h.manager.Cancel(context.Background(), id); err != nil {
		t.Fatalf("Cancel on terminal job: %v", err)
	}
	again, err := h.manager.Poll(context.Background(), id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if again.Status != job.Status || !again.UpdatedAt.Equal(job.UpdatedAt) {
		t.Fatalf("terminal record changed: %+v vs %+v", again, job)
	}
}

func TestMuxFailureReportsStderrAndRemovesInputs(t *testing.T) {
	h := newHarness(t, testsupport.WithConfig(func(cfg *config.Config) {
		dir := filepath.Join(filepath.Dir(cfg.Paths.StagingDir), "broken")
		cfg.Mux.FFmpegBinary = testsupport.WriteScript(t, dir, "ffmpeg", "echo 'Invalid data found when processing input' >&2\nexit 1\n")
	}))
	id := h.submit(t, "720p")

	job := h.wait(t, id)
	if job.Status != jobs.StatusFailed || job.ErrorKind != string(services.ErrorKindMuxFailed) {
		t.Fatalf("expected mux_failed, got %s/%s", job.Status, job.ErrorKind)
	}
	if !strings.Contains(job.ErrorMessage, "Invalid data found when processing input") {
		t.Fatalf("expected ffmpeg stderr in message, got %q", job.ErrorMessage)
	}
	assertScratchEmpty(t, h.cfg)
}

func TestPublishRefusesExistingTarget(t *testing.T) {
	h := newHarness(t)
	var target string
	h.source.OnLookup(func(ctx context.Context) {
		id, _ := services.JobIDFromContext(ctx)
		target = filepath.Join(h.cfg.Paths.OutputDir, textutil.ArtifactName("Four Minute Clip", "720p", id, ""))
		if err := os.WriteFile(target, []byte("keep me"), 0o644); err != nil {
			t.Errorf("seed target: %v", err)
		}
	})
	id := h.submit(t, "720p")

	job := h.wait(t, id)
	if job.Status != jobs.StatusFailed || job.ErrorKind != string(services.ErrorKindPublish) {
		t.Fatalf("expected publish failure, got %s/%s", job.Status, job.ErrorKind)
	}
	if got, _ := os.ReadFile(target); string(got) != "keep me" {
		t.Fatalf("existing file was overwritten: %q", got)
	}
	assertScratchEmpty(t, h.cfg)
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	if _, err := h.manager.Submit(context.Background(), clipURL, "8k"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown tier, got %v", err)
	}
	if _, err := h.manager.Submit(context.Background(), "  ", "720p"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for blank url, got %v", err)
	}
	all, err := h.store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("rejected submissions must not persist jobs, got %d", len(all))
	}
}

func TestPollUnknownJob(t *testing.T) {
	h := newHarness(t)
	if _, err := h.manager.Poll(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := h.manager.Cancel(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found on cancel, got %v", err)
	}
}

func TestOpenArtifactRequiresReadyJob(t *testing.T) {
	h := newHarness(t)
	id := h.submit(t, "1080p")
	h.wait(t, id)

	if _, _, err := h.manager.OpenArtifact(context.Background(), id); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	h := newHarness(t)
	ready := h.submit(t, "480p")
	failed := h.submit(t, "2160p")
	h.wait(t, ready)
	h.wait(t, failed)

	got, err := h.manager.List(context.Background(), jobs.StatusReady)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].ID != ready {
		t.Fatalf("expected only the ready job, got %+v", got)
	}
	all, err := h.manager.List(context.Background())
	if err != nil || len(all) != 2 {
		t.Fatalf("expected two jobs, got %d (%v)", len(all), err)
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	h := newHarness(t)
	h.origin.Stall("v720")
	id := h.submit(t, "720p")
	h.waitForHits(t, "v720", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.manager.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	job, err := h.store.Get(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("store.Get: %v", err)
	}
	if job.Status != jobs.StatusCancelled {
		t.Fatalf("expected cancelled after shutdown, got %s", job.Status)
	}
	if _, err := h.manager.Submit(context.Background(), clipURL, "720p"); err == nil {
		t.Fatal("expected submit to fail after shutdown")
	}
	assertScratchEmpty(t, h.cfg)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestComponentLoggersTagOnce(t *testing.T) {
	h := newHarness(t)
	var out lockedBuffer
	logger, err := logging.New(logging.Options{Level: "debug", Format: "json", Writer: &out})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}
	mgr, err := workflow.NewManager(h.cfg, h.store, logger, workflow.WithSource(h.source))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	id, err := mgr.Submit(context.Background(), clipURL, "720p")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if job, err := mgr.Wait(ctx, id); err != nil || job.Status != jobs.StatusReady {
		t.Fatalf("Wait: %v %+v", err, job)
	}

	components := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if n := strings.Count(line, `"component":`); n > 1 {
			t.Fatalf("component tagged %d times: %s", n, line)
		}
		if m := regexp.MustCompile(`"component":"([^"]+)"`).FindStringSubmatch(line); m != nil {
			components[m[1]] = true
		}
	}
	for _, want := range []string{"catalog", "fetch", "mux", "workflow-manager"} {
		if !components[want] {
			t.Fatalf("expected a %s log line, saw %v", want, components)
		}
	}
}

func TestSubmitPlaylistCreatesOneJobPerEntry(t *testing.T) {
	h := newHarness(t)
	const listURL = "https://www.youtube.com/playlist?list=PLlaunch"
	h.source.SetPlaylist("Launch Week", "https://www.youtube.com/watch", 3)

	sub, err := h.manager.SubmitPlaylist(context.Background(), listURL, "720p", 2)
	if err != nil {
		t.Fatalf("SubmitPlaylist: %v", err)
	}
	if sub.Title != "Launch Week" || len(sub.JobIDs) != 2 {
		t.Fatalf("expected two jobs for max 2, got %+v", sub)
	}
	for i, id := range sub.JobIDs {
		job := h.wait(t, id)
		if job.Status != jobs.StatusReady {
			t.Fatalf("job %d: expected ready, got %s (%s)", i, job.Status, job.ErrorMessage)
		}
		if want := fmt.Sprintf("https://www.youtube.com/watch?item=%d", i+1); job.SourceURL != want {
			t.Fatalf("job %d: expected url %s, got %s", i, want, job.SourceURL)
		}
	}
	if files := outputFiles(t, h.cfg); len(files) != 2 {
		t.Fatalf("expected two artifacts, got %v", files)
	}
}

func TestSubmitPlaylistValidatesTierBeforeListing(t *testing.T) {
	h := newHarness(t)
	h.source.SetPlaylist("Launch Week", "https://www.youtube.com/watch", 3)

	_, err := h.manager.SubmitPlaylist(context.Background(), "https://www.youtube.com/playlist?list=PLx", "4k", 0)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if list, _ := h.manager.List(context.Background()); len(list) != 0 {
		t.Fatalf("no jobs should be created, got %d", len(list))
	}
}

func TestSubmitPlaylistWithoutEntriesIsNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.manager.SubmitPlaylist(context.Background(), "https://www.youtube.com/playlist?list=PLx", "best", 0)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
