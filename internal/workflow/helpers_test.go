package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tubemux/internal/config"
	"tubemux/internal/jobs"
	"tubemux/internal/notifications"
	"tubemux/internal/testsupport"
	"tubemux/internal/workflow"
)

const clipURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
	last   map[notifications.Event]notifications.Payload
}

func (n *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	if n.last == nil {
		n.last = make(map[notifications.Event]notifications.Payload)
	}
	n.last[event] = payload
	return nil
}

func (n *recordingNotifier) Events() []notifications.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifications.Event(nil), n.events...)
}

type harness struct {
	cfg      *config.Config
	store    *jobs.Store
	origin   *testsupport.Origin
	source   *testsupport.StaticSource
	notifier *recordingNotifier
	manager  *workflow.Manager
	video    []byte
	audio    []byte
}

// newHarness builds a manager whose catalog lists 360p, 480p and 720p video
// plus one audio stream, all served by a local origin.
func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()

	opts = append([]testsupport.ConfigOption{testsupport.WithStubbedBinaries()}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)

	h := &harness{
		cfg:      cfg,
		store:    store,
		notifier: &recordingNotifier{},
		video:    testsupport.Payload(96 * 1024),
		audio:    testsupport.Payload(24 * 1024),
	}
	h.origin = testsupport.NewOrigin(t, map[string][]byte{
		"v360": testsupport.Payload(32 * 1024),
		"v480": testsupport.Payload(64 * 1024),
		"v720": h.video,
		"a128": h.audio,
		"o160": testsupport.Payload(20 * 1024),
	})
	h.source = testsupport.NewClipSource(h.origin, map[string]int{
		"v360": 32 * 1024,
		"v480": 64 * 1024,
		"v720": len(h.video),
		"a128": len(h.audio),
	})

	mgr, err := workflow.NewManager(cfg, store, nil,
		workflow.WithSource(h.source),
		workflow.WithNotifier(h.notifier),
	)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	h.manager = mgr
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = mgr.Shutdown(ctx)
	})
	return h
}

func (h *harness) submit(t *testing.T, tier string) string {
	t.Helper()
	id, err := h.manager.Submit(context.Background(), clipURL, tier)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

func (h *harness) wait(t *testing.T, id string) jobs.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	job, err := h.manager.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait(%s): %v", id, err)
	}
	if !job.Status.IsTerminal() {
		t.Fatalf("job %s not terminal after Wait: %s", id, job.Status)
	}
	return job
}

func (h *harness) waitForStatus(t *testing.T, id string, status jobs.Status) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := h.manager.Poll(context.Background(), id)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if job.Status == status {
			return
		}
		if job.Status.IsTerminal() {
			t.Fatalf("job reached %s while waiting for %s", job.Status, status)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", status)
}

func (h *harness) waitForHits(t *testing.T, path string, n int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for h.origin.Hits(path) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d requests to %s", n, path)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func assertScratchEmpty(t *testing.T, cfg *config.Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.Paths.StagingDir)
	if err != nil {
		t.Fatalf("read staging dir: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected empty staging dir, found %v", names)
	}
}

func outputFiles(t *testing.T, cfg *config.Config) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(cfg.Paths.OutputDir, "*"))
	if err != nil {
		t.Fatalf("glob output: %v", err)
	}
	return matches
}
