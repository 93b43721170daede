package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tubemux/internal/api"
	"tubemux/internal/config"
	"tubemux/internal/daemon"
	"tubemux/internal/testsupport"
)

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "tubemux.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunServesUntilCancelled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	path := writeConfig(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	ready := make(chan string, 1)
	go func() {
		errCh <- run(ctx, path, func(d *daemon.Daemon) { ready <- d.APIAddress() })
	}()

	var addr string
	select {
	case addr = <-ready:
	case err := <-errCh:
		t.Fatalf("run exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not become ready")
	}

	client, err := api.NewClient(addr, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.JobsDBPath != cfg.StorePath() {
		t.Fatalf("unexpected status %+v", status)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not return after cancel")
	}
	if _, err := os.Stat(cfg.LogPath()); err != nil {
		t.Fatalf("expected daemon log file: %v", err)
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Catalog.Backend = "carrier-pigeon"
	path := writeConfig(t, cfg)

	err := run(context.Background(), path, nil)
	if err == nil || !strings.Contains(err.Error(), "catalog.backend") {
		t.Fatalf("expected catalog validation error, got %v", err)
	}
}
