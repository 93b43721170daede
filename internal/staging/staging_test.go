package staging_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tubemux/internal/logging"
	"tubemux/internal/staging"
)

func TestPrepareAndRemove(t *testing.T) {
	root := filepath.Join(t.TempDir(), "staging")
	ws, err := staging.Prepare(root, "9f86d081-884c-4d63-a6c3-6b1f0d2e4a11")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if got := ws.VideoPath(".mp4"); got != filepath.Join(ws.Dir, "video.mp4") {
		t.Fatalf("VideoPath = %s", got)
	}
	if err := os.WriteFile(ws.AudioPath(".m4a"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := staging.Prepare(root, "9f86d081-884c-4d63-a6c3-6b1f0d2e4a11"); err == nil {
		t.Fatal("expected a second Prepare for the same job to fail")
	}
	if err := ws.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Fatalf("workspace still present: %v", err)
	}
	if err := ws.Remove(); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestPrepareRejectsTraversal(t *testing.T) {
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if _, err := staging.Prepare(t.TempDir(), id); err == nil {
			t.Fatalf("expected %q to be rejected", id)
		}
	}
}

func TestRemoveFilesIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "video.mp4")
	if err := os.WriteFile(present, []byte("v"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := staging.RemoveFiles(present, filepath.Join(dir, "missing"), ""); err != nil {
		t.Fatalf("RemoveFiles: %v", err)
	}
	if _, err := os.Stat(present); !os.IsNotExist(err) {
		t.Fatal("expected file removed")
	}
}

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := staging.CleanStaleInactive(context.Background(), dir, time.Hour, nil, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	tmpDir := t.TempDir()

	oldDir := filepath.Join(tmpDir, "old-job")
	if err := os.Mkdir(oldDir, 0o755); err != nil {
		t.Fatalf("create old dir: %v", err)
	}
	oldTime := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(oldDir, oldTime, oldTime); err != nil {
		t.Fatalf("set old time: %v", err)
	}
	recentDir := filepath.Join(tmpDir, "recent-job")
	if err := os.Mkdir(recentDir, 0o755); err != nil {
		t.Fatalf("create recent dir: %v", err)
	}

	result := staging.CleanStaleInactive(context.Background(), tmpDir, time.Hour, nil, logging.NewNop())
	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("expected only %s removed, got %v", oldDir, result.Removed)
	}
	if _, err := os.Stat(recentDir); err != nil {
		t.Error("recent directory should still exist")
	}
}

func TestCleanOrphanedKeepsActiveJobs(t *testing.T) {
	tmpDir := t.TempDir()
	for _, name := range []string{"active-job", "orphan-job"} {
		if err := os.Mkdir(filepath.Join(tmpDir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := staging.CleanOrphaned(context.Background(), tmpDir, map[string]struct{}{"active-job": {}}, logging.NewNop())
	if len(result.Removed) != 1 || filepath.Base(result.Removed[0]) != "orphan-job" {
		t.Fatalf("unexpected removals %v", result.Removed)
	}

	dirs, err := staging.ListDirectories(tmpDir)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 1 || dirs[0].Name != "active-job" {
		t.Fatalf("unexpected directories %#v", dirs)
	}
}

func TestCleanStaleInactiveSparesRunningJobs(t *testing.T) {
	tmpDir := t.TempDir()
	oldTime := time.Now().Add(-3 * time.Hour)
	for _, name := range []string{"running-job", "abandoned-job"} {
		dir := filepath.Join(tmpDir, name)
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(dir, oldTime, oldTime); err != nil {
			t.Fatal(err)
		}
	}

	result := staging.CleanStaleInactive(context.Background(), tmpDir, time.Hour, map[string]struct{}{"running-job": {}}, logging.NewNop())
	if len(result.Removed) != 1 || filepath.Base(result.Removed[0]) != "abandoned-job" {
		t.Fatalf("unexpected removals %v", result.Removed)
	}
}
