package mux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/alessio/shellescape"

	"tubemux/internal/config"
	"tubemux/internal/logging"
	"tubemux/internal/media/ffprobe"
	"tubemux/internal/services"
)

const (
	stageName = "muxing"
	gib       = 1 << 30
)

// Options configures the ffmpeg invocation.
type Options struct {
	FFmpegBinary  string
	FFprobeBinary string
	MinTimeout    time.Duration
	PerGiB        time.Duration
	// Verify inspects the output with ffprobe and requires the expected stream types.
	Verify bool
}

// Result describes a finished mux.
type Result struct {
	OutputPath string
	Size       int64
	Elapsed    time.Duration
	Timeout    time.Duration
}

// commandRunner runs a tool and returns its captured stderr.
type commandRunner func(ctx context.Context, name string, args ...string) (string, error)

type inspectFunc func(ctx context.Context, binary, path string) (ffprobe.Report, error)

// Muxer wraps ffmpeg for container muxing.
type Muxer struct {
	opts    Options
	logger  *slog.Logger
	run     commandRunner
	inspect inspectFunc
}

// New constructs a muxer.
func New(opts Options, logger *slog.Logger) *Muxer {
	if strings.TrimSpace(opts.FFmpegBinary) == "" {
		opts.FFmpegBinary = "ffmpeg"
	}
	if strings.TrimSpace(opts.FFprobeBinary) == "" {
		opts.FFprobeBinary = "ffprobe"
	}
	return &Muxer{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "mux"),
		run:     defaultCommandRunner,
		inspect: ffprobe.Inspect,
	}
}

// NewFromConfig builds a muxer from the mux section of cfg.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) *Muxer {
	return New(Options{
		FFmpegBinary:  cfg.FFmpegBinary(),
		FFprobeBinary: cfg.FFprobeBinary(),
		MinTimeout:    time.Duration(cfg.Mux.MinTimeout) * time.Second,
		PerGiB:        time.Duration(cfg.Mux.SecondsPerGiB) * time.Second,
		Verify:        cfg.Mux.Verify,
	}, logger)
}

// Timeout returns max(MinTimeout, inputBytes/GiB * PerGiB).
func (m *Muxer) Timeout(inputBytes int64) time.Duration {
	scaled := time.Duration(float64(inputBytes) / gib * float64(m.opts.PerGiB))
	return max(m.opts.MinTimeout, scaled)
}

// Args builds the ffmpeg argument list. An empty videoPath produces an
// audio-only remux. The faststart flag is only passed to mp4-family outputs.
func Args(videoPath, audioPath, outputPath string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-n"}
	if videoPath == "" {
		args = append(args, "-i", audioPath, "-map", "0:a:0", "-vn")
	} else {
		args = append(args, "-i", videoPath, "-i", audioPath, "-map", "0:v:0", "-map", "1:a:0")
	}
	args = append(args, "-c", "copy")
	if isMP4Output(outputPath) {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, outputPath)
}

func isMP4Output(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4a", ".mov":
		return true
	}
	return false
}

// Mux stream-copies the inputs into outputPath. An existing outputPath is
// never touched: Mux refuses it up front and ffmpeg runs with -n.
func (m *Muxer) Mux(ctx context.Context, videoPath, audioPath, outputPath string) (Result, error) {
	if m == nil {
		return Result{}, services.Wrap(services.ErrConfiguration, stageName, "mux", "muxer not initialized", nil)
	}
	logger := logging.WithContext(ctx, m.logger)

	if _, err := os.Lstat(outputPath); err == nil {
		return Result{}, services.Wrap(services.ErrMuxFailed, stageName, "check output", "output exists: "+outputPath, nil)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Result{}, services.Wrap(services.ErrMuxFailed, stageName, "check output", outputPath, err)
	}

	inputs := []string{audioPath}
	if videoPath != "" {
		inputs = []string{videoPath, audioPath}
	}
	var inputBytes int64
	for _, path := range inputs {
		info, err := os.Stat(path)
		if err != nil {
			return Result{}, services.Wrap(services.ErrMuxFailed, stageName, "stat input", path, err)
		}
		inputBytes += info.Size()
	}

	timeout := m.Timeout(inputBytes)
	args := Args(videoPath, audioPath, outputPath)
	logger.Debug("running ffmpeg",
		logging.String("command", shellescape.QuoteCommand(append([]string{m.opts.FFmpegBinary}, args...))),
		logging.Int64("input_bytes", inputBytes),
		logging.Duration("timeout", timeout),
	)

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()
	stderr, err := m.run(runCtx, m.opts.FFmpegBinary, args...)
	elapsed := time.Since(started)
	if err != nil {
		_ = os.Remove(outputPath)
		switch {
		case ctx.Err() != nil:
			return Result{}, services.Wrap(services.ErrCancelled, stageName, "ffmpeg", "mux cancelled", ctx.Err())
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			msg := fmt.Sprintf("ffmpeg exceeded %s for %d input bytes", timeout, inputBytes)
			return Result{}, services.WithDiagnostic(services.Wrap(services.ErrMuxTimeout, stageName, "ffmpeg", msg, err), stderr)
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
			return Result{}, services.WithHint(
				services.Wrap(services.ErrConfiguration, stageName, "ffmpeg", "binary not runnable", err),
				"install ffmpeg or set mux.ffmpeg_binary",
			)
		}
		return Result{}, services.WithDiagnostic(services.Wrap(services.ErrMuxFailed, stageName, "ffmpeg", "", err), stderr)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return Result{}, services.Wrap(services.ErrMuxFailed, stageName, "stat output", "ffmpeg exited cleanly without an output file", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(outputPath)
		return Result{}, services.Wrap(services.ErrMuxFailed, stageName, "stat output", "ffmpeg produced an empty file", nil)
	}

	if m.opts.Verify {
		if err := m.verify(ctx, outputPath, videoPath != ""); err != nil {
			_ = os.Remove(outputPath)
			return Result{}, err
		}
	}

	logger.Info("streams muxed",
		logging.String(logging.FieldEventType, "mux_complete"),
		logging.Int64("artifact_size", info.Size()),
		logging.Duration("elapsed", elapsed),
	)
	return Result{OutputPath: outputPath, Size: info.Size(), Elapsed: elapsed, Timeout: timeout}, nil
}

func (m *Muxer) verify(ctx context.Context, path string, wantVideo bool) error {
	streams, err := m.inspect(ctx, m.opts.FFprobeBinary, path)
	if err != nil {
		return services.Wrap(services.ErrMuxFailed, stageName, "verify output", "", err)
	}
	if streams.Format.FormatName != "" {
		switch {
		case isMP4Output(path) && !streams.IsMP4():
			return services.Wrap(services.ErrMuxFailed, stageName, "verify output", "output is "+streams.Format.FormatName+", not mp4", nil)
		case !isMP4Output(path) && !streams.IsMatroska():
			return services.Wrap(services.ErrMuxFailed, stageName, "verify output", "output is "+streams.Format.FormatName+", not matroska", nil)
		}
	}
	if streams.Count("audio") < 1 {
		return services.Wrap(services.ErrMuxFailed, stageName, "verify output", "output has no audio stream", nil)
	}
	if wantVideo && streams.Count("video") < 1 {
		return services.Wrap(services.ErrMuxFailed, stageName, "verify output", "output has no video stream", nil)
	}
	return nil
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) (string, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	err := cmd.Run()
	return strings.TrimSpace(stderr.String()), err
}
