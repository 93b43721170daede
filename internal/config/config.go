package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	OutputDir  string `toml:"output_dir"`
	StateDir   string `toml:"state_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Catalog selects and configures the stream catalog backend.
type Catalog struct {
	Backend        string `toml:"backend"`
	YTDLPBinary    string `toml:"ytdlp_binary"`
	RequestTimeout int    `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// Fetch contains stream download settings.
type Fetch struct {
	MaxRetries         int     `toml:"max_retries"`
	BackoffBaseMS      int     `toml:"backoff_base_ms"`
	SpaceMargin        float64 `toml:"space_margin"`
	ProgressIntervalMS int     `toml:"progress_interval_ms"`
	RateLimitKiB       int     `toml:"rate_limit_kib"`
	RequestTimeout     int     `toml:"request_timeout"`
}

// Mux contains ffmpeg container muxing settings.
type Mux struct {
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	MinTimeout    int    `toml:"min_timeout"`
	SecondsPerGiB int    `toml:"seconds_per_gib"`
	Verify        bool   `toml:"verify"`
}

// Workflow contains job orchestration timing.
type Workflow struct {
	ProgressIntervalMS  int `toml:"progress_interval_ms"`
	StaleScratchHours   int `toml:"stale_scratch_hours"`
	SubmitRatePerMinute int `toml:"submit_rate_per_minute"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Ready          bool   `toml:"ready"`
	Failed         bool   `toml:"failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for tubemux.
//
// Configuration sections by subsystem:
//   - Paths: scratch, output and state directories plus the API bind address
//   - Catalog: which stream catalog backend resolves URLs
//   - Fetch: retry, free-space margin and bandwidth settings for downloads
//   - Mux: ffmpeg/ffprobe binaries and timeout scaling
//   - Workflow: progress cadence and scratch cleanup
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Catalog       Catalog       `toml:"catalog"`
	Fetch         Fetch         `toml:"fetch"`
	Mux           Mux           `toml:"mux"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path of the per-user config file.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load reads the config at path, or the first existing candidate when path
// is blank, applies defaults and validates the result. It also returns the
// resolved file path and whether that file existed.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// resolveConfigPath picks the config file. An explicit path wins, then
// TUBEMUX_CONFIG, then the per-user default, then ./tubemux.toml. When none
// exists the per-user default is reported as missing.
func resolveConfigPath(path string) (string, bool, error) {
	explicit := strings.TrimSpace(path)
	if explicit == "" {
		explicit = strings.TrimSpace(os.Getenv("TUBEMUX_CONFIG"))
	}
	if explicit != "" {
		expanded, err := expandPath(explicit)
		if err != nil {
			return "", false, err
		}
		exists, err := isFile(expanded)
		return expanded, exists, err
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("tubemux.toml")
	if err != nil {
		return "", false, err
	}
	for _, candidate := range []string{defaultPath, projectPath} {
		if ok, _ := isFile(candidate); ok {
			return candidate, true, nil
		}
	}
	return defaultPath, false, nil
}

func isFile(path string) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("stat config: %w", err)
	case info.IsDir():
		return false, fmt.Errorf("config path %s is a directory", path)
	}
	return true, nil
}

// EnsureDirectories creates the scratch, output and state directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.OutputDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// StorePath returns the job database location.
func (c *Config) StorePath() string {
	return filepath.Join(c.Paths.StateDir, "jobs.db")
}

// LogPath returns the daemon log file location.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.StateDir, "tubemux.log")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "tubemuxd.lock")
}

// FFmpegBinary returns the ffmpeg executable used for muxing.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Mux.FFmpegBinary); bin != "" {
		return bin
	}
	return defaultFFmpegBinary
}

// FFprobeBinary returns the ffprobe executable used for output verification.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Mux.FFprobeBinary); bin != "" {
		return bin
	}
	return defaultFFprobeBinary
}

// YTDLPBinary returns the yt-dlp executable used by the ytdlp catalog backend.
func (c *Config) YTDLPBinary() string {
	if bin := strings.TrimSpace(c.Catalog.YTDLPBinary); bin != "" {
		return bin
	}
	return defaultYTDLPBinary
}

// FetchBackoffBase returns the first retry delay; later retries double it.
func (c *Config) FetchBackoffBase() time.Duration {
	return time.Duration(c.Fetch.BackoffBaseMS) * time.Millisecond
}

// FetchProgressInterval returns the minimum spacing between fetch progress callbacks.
func (c *Config) FetchProgressInterval() time.Duration {
	return clampInterval(c.Fetch.ProgressIntervalMS)
}

// WorkflowProgressInterval returns the minimum spacing between job progress writes.
func (c *Config) WorkflowProgressInterval() time.Duration {
	return clampInterval(c.Workflow.ProgressIntervalMS)
}

func clampInterval(ms int) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d < minProgressInterval {
		return minProgressInterval
	}
	return d
}

// expandPath resolves a leading ~ and returns an absolute, cleaned path.
func expandPath(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if value == "~" || strings.HasPrefix(value, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		value = filepath.Join(home, strings.TrimPrefix(value, "~"))
	}
	absolute, err := filepath.Abs(value)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", value, err)
	}
	return absolute, nil
}

// ExpandPath applies the same ~ and absolute-path rules used for config values.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes the sample configuration to path, creating parents.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
