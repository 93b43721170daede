package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"tubemux/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The directories are created so callers can use them immediately.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StagingDir = filepath.Join(base, "staging")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Fetch.BackoffBaseMS = 1
	cfgVal.Workflow.ProgressIntervalMS = 200

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithConfig applies an arbitrary mutation to the test config.
func WithConfig(fn func(*config.Config)) ConfigOption {
	return func(b *configBuilder) {
		fn(b.cfg)
	}
}

// FFmpegConcatScript is a stand-in ffmpeg that writes the concatenation of
// every -i input into the final argument and refuses to overwrite it.
const FFmpegConcatScript = `if [ "$1" = "-version" ]; then echo "ffmpeg version stub"; exit 0; fi
out=""
inputs=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-i" ]; then inputs="$inputs $arg"; fi
  prev="$arg"
  out="$arg"
done
if [ -e "$out" ]; then echo "File '$out' already exists. Exiting." >&2; exit 1; fi
cat $inputs > "$out"
`

// WithStubbedBinaries writes stub executables for the provided names,
// prepends them to PATH and points the mux and catalog binaries at them. If
// names is empty, ffmpeg, ffprobe and yt-dlp are stubbed; the ffmpeg stub
// concatenates its inputs.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"ffmpeg", "ffprobe", "yt-dlp"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		for _, name := range names {
			body := "exit 0\n"
			if name == "ffmpeg" {
				body = FFmpegConcatScript
			}
			target := WriteScript(b.t, binDir, name, body)
			switch name {
			case "ffmpeg":
				b.cfg.Mux.FFmpegBinary = target
			case "ffprobe":
				b.cfg.Mux.FFprobeBinary = target
			case "yt-dlp":
				b.cfg.Catalog.YTDLPBinary = target
			}
		}
		b.t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
}

// WriteScript writes an executable /bin/sh script into dir and returns its path.
func WriteScript(t testing.TB, dir, name, body string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir script dir: %v", err)
	}
	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub %s: %v", name, err)
	}
	return target
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StagingDir)
}
