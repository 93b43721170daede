package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"tubemux/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TUBEMUX_CONFIG", "")
	t.Setenv("TUBEMUX_API_TOKEN", "")
	t.Setenv("TUBEMUX_CATALOG_BACKEND", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStaging := filepath.Join(tempHome, ".local", "share", "tubemux", "staging")
	if cfg.Paths.StagingDir != wantStaging {
		t.Fatalf("unexpected staging dir: got %q want %q", cfg.Paths.StagingDir, wantStaging)
	}
	if cfg.Paths.OutputDir != filepath.Join(tempHome, "Videos", "tubemux") {
		t.Fatalf("unexpected output dir: %q", cfg.Paths.OutputDir)
	}
	if cfg.StorePath() != filepath.Join(tempHome, ".local", "share", "tubemux", "jobs.db") {
		t.Fatalf("unexpected store path: %q", cfg.StorePath())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7488" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Catalog.Backend != "youtube" {
		t.Fatalf("unexpected catalog backend: %q", cfg.Catalog.Backend)
	}
	if cfg.Fetch.MaxRetries != 3 || cfg.FetchBackoffBase() != time.Second {
		t.Fatalf("unexpected retry defaults: %d %s", cfg.Fetch.MaxRetries, cfg.FetchBackoffBase())
	}
	if cfg.Fetch.SpaceMargin != 1.2 {
		t.Fatalf("unexpected space margin: %v", cfg.Fetch.SpaceMargin)
	}
	if cfg.Mux.MinTimeout != 60 || cfg.Mux.SecondsPerGiB != 120 {
		t.Fatalf("unexpected mux timeouts: %+v", cfg.Mux)
	}
	if cfg.FFmpegBinary() != "ffmpeg" || cfg.FFprobeBinary() != "ffprobe" {
		t.Fatalf("unexpected binaries: %q %q", cfg.FFmpegBinary(), cfg.FFprobeBinary())
	}
	if cfg.Logging.Format != "console" || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadCustomConfig(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("TUBEMUX_API_TOKEN", "")
	t.Setenv("TUBEMUX_CATALOG_BACKEND", "")

	configPath := filepath.Join(t.TempDir(), "config.toml")
	payload := map[string]any{
		"paths": map[string]any{
			"staging_dir": "~/scratch",
			"output_dir":  "~/out",
		},
		"catalog": map[string]any{
			"backend": "YTDLP",
		},
		"fetch": map[string]any{
			"progress_interval_ms": 50,
			"rate_limit_kib":       512,
		},
		"logging": map[string]any{
			"format": "JSON",
		},
	}
	data, err := toml.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected custom config to be used, got %q exists=%v", resolved, exists)
	}
	if cfg.Paths.StagingDir != filepath.Join(tempHome, "scratch") {
		t.Fatalf("unexpected staging dir: %q", cfg.Paths.StagingDir)
	}
	if cfg.Catalog.Backend != "ytdlp" {
		t.Fatalf("expected backend lowercased, got %q", cfg.Catalog.Backend)
	}
	if cfg.Logging.Format != "json" {
		t.Fatalf("expected json format, got %q", cfg.Logging.Format)
	}
	if got := cfg.FetchProgressInterval(); got != 200*time.Millisecond {
		t.Fatalf("expected progress interval floored at 200ms, got %s", got)
	}
	if cfg.Fetch.RateLimitKiB != 512 {
		t.Fatalf("unexpected rate limit: %d", cfg.Fetch.RateLimitKiB)
	}
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("TUBEMUX_API_TOKEN", "secret")
	t.Setenv("TUBEMUX_NTFY_TOPIC", "https://ntfy.sh/test")
	t.Setenv("TUBEMUX_CATALOG_BACKEND", "ytdlp")

	cfg, _, _, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "secret" {
		t.Fatalf("expected token from env, got %q", cfg.Paths.APIToken)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.sh/test" {
		t.Fatalf("expected topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.Catalog.Backend != "ytdlp" {
		t.Fatalf("expected backend from env, got %q", cfg.Catalog.Backend)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"backend", func(c *config.Config) { c.Catalog.Backend = "vimeo" }, "catalog.backend"},
		{"margin", func(c *config.Config) { c.Fetch.SpaceMargin = 0.5 }, "fetch.space_margin"},
		{"retries", func(c *config.Config) { c.Fetch.MaxRetries = -1 }, "fetch.max_retries"},
		{"mux timeout", func(c *config.Config) { c.Mux.MinTimeout = 0 }, "mux.min_timeout"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"same dirs", func(c *config.Config) { c.Paths.OutputDir = c.Paths.StagingDir }, "paths.staging_dir"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

func TestCreateSampleIsLoadable(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	if cfg.Mux.Verify {
		t.Fatal("expected verify disabled in sample")
	}
}

func TestEnsureDirectories(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.OutputDir = filepath.Join(base, "out")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.StagingDir, cfg.Paths.OutputDir, cfg.Paths.StateDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("expected directory %s: %v", dir, err)
		}
	}
}

func TestLoadHonoursConfigEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alt.toml")
	body := "[paths]\napi_bind = \"127.0.0.1:9911\"\nstate_dir = \"" + filepath.Join(dir, "state") + "\"\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TUBEMUX_CONFIG", path)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected %s to be used, got %s (exists=%v)", path, resolved, exists)
	}
	if cfg.Paths.APIBind != "127.0.0.1:9911" {
		t.Fatalf("unexpected api bind %q", cfg.Paths.APIBind)
	}

	if _, _, _, err := config.Load(dir); err == nil || !strings.Contains(err.Error(), "directory") {
		t.Fatalf("expected directory error, got %v", err)
	}
}
