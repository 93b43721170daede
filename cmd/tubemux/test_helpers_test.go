package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"tubemux/internal/config"
	"tubemux/internal/daemon"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/testsupport"
	"tubemux/internal/workflow"
)

type cliTestEnv struct {
	cfg        *config.Config
	store      *jobs.Store
	daemon     *daemon.Daemon
	source     *testsupport.StaticSource
	origin     *testsupport.Origin
	configPath string
	apiAddr    string
	video      []byte
	audio      []byte
}

// setupCLITestEnv starts a daemon whose catalog serves a clip from a local
// origin and writes a config file pointing at its directories.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	env := &cliTestEnv{
		cfg:   cfg,
		video: testsupport.Payload(96 * 1024),
		audio: testsupport.Payload(24 * 1024),
	}
	env.origin = testsupport.NewOrigin(t, map[string][]byte{
		"v360": testsupport.Payload(32 * 1024),
		"v480": testsupport.Payload(64 * 1024),
		"v720": env.video,
		"a128": env.audio,
	})
	env.source = testsupport.NewClipSource(env.origin, map[string]int{
		"v360": 32 * 1024,
		"v480": 64 * 1024,
		"v720": len(env.video),
		"a128": len(env.audio),
	})

	env.configPath = filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, env.configPath, cfg)

	env.store = testsupport.MustOpenStore(t, cfg)
	logger := logging.NewNop()
	mgr, err := workflow.NewManager(cfg, env.store, logger, workflow.WithSource(env.source))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	d, err := daemon.New(cfg, env.store, logger, mgr)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(d.Stop)
	env.daemon = d
	env.apiAddr = d.APIAddress()
	return env
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", e.configPath, "--api", e.apiAddr}, args...))
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
