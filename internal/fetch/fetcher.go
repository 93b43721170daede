package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"tubemux/internal/config"
	"tubemux/internal/logging"
	"tubemux/internal/media"
	"tubemux/internal/services"
)

const (
	stageName  = "fetching"
	bufferSize = 32 * 1024
)

// Options tunes retries, progress cadence and bandwidth.
type Options struct {
	MaxRetries       int
	BackoffBase      time.Duration
	ProgressInterval time.Duration
	// RateLimit caps combined throughput in bytes per second; 0 disables it.
	RateLimit int64
	UserAgent string
}

// ProgressFunc receives throttled task snapshots plus one final snapshot.
type ProgressFunc func(Snapshot)

// TaskOption customizes a single Fetch call.
type TaskOption func(*taskConfig)

type taskConfig struct {
	progress ProgressFunc
}

// WithProgress registers a progress callback for the task.
func WithProgress(fn ProgressFunc) TaskOption {
	return func(c *taskConfig) { c.progress = fn }
}

// Fetcher downloads stream descriptors to local files.
type Fetcher struct {
	client   *http.Client
	reserver *Reserver
	limiter  *rate.Limiter
	opts     Options
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

// New builds a fetcher. The reserver is required; a nil client uses
// http.DefaultClient.
func New(client *http.Client, reserver *Reserver, opts Options, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if reserver == nil {
		reserver = NewReserver(nil, 1)
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.ProgressInterval < 200*time.Millisecond {
		opts.ProgressInterval = 200 * time.Millisecond
	}
	f := &Fetcher{
		client:   client,
		reserver: reserver,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "fetch"),
		sleep:    sleepContext,
	}
	if opts.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), int(max(opts.RateLimit, bufferSize)))
	}
	return f
}

// NewFromConfig builds a fetcher from the fetch section of cfg.
func NewFromConfig(cfg *config.Config, reserver *Reserver, logger *slog.Logger) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Fetch.RequestTimeout > 0 {
		transport.ResponseHeaderTimeout = time.Duration(cfg.Fetch.RequestTimeout) * time.Second
	}
	return New(&http.Client{Transport: transport}, reserver, Options{
		MaxRetries:       cfg.Fetch.MaxRetries,
		BackoffBase:      cfg.FetchBackoffBase(),
		ProgressInterval: cfg.FetchProgressInterval(),
		RateLimit:        int64(cfg.Fetch.RateLimitKiB) * 1024,
		UserAgent:        cfg.Catalog.UserAgent,
	}, logger)
}

// Fetch starts transferring desc.SourceReference into destination and returns
// at once. The task owns the destination file until it finishes.
func (f *Fetcher) Fetch(ctx context.Context, desc media.StreamDescriptor, destination string, opts ...TaskOption) *Task {
	var tc taskConfig
	for _, opt := range opts {
		opt(&tc)
	}
	taskCtx, cancel := context.WithCancel(ctx)
	task := newTask(desc, destination, cancel)
	go func() {
		defer cancel()
		err := f.run(taskCtx, task, tc)
		task.finish(err)
		if tc.progress != nil {
			tc.progress(task.Snapshot())
		}
	}()
	return task
}

func (f *Fetcher) run(ctx context.Context, task *Task, tc taskConfig) error {
	desc := task.descriptor
	logger := logging.WithContext(ctx, f.logger).With(
		logging.String("stream_id", desc.ID),
		logging.String("stream_kind", string(desc.Kind)),
	)
	task.setRunning()

	if strings.TrimSpace(desc.SourceReference) == "" {
		return services.Wrap(services.ErrTransfer, stageName, "fetch", fmt.Sprintf("stream %s has no source url", desc.ID), nil)
	}
	reservation, err := f.reserver.Reserve(filepath.Dir(task.destination), desc.ApproximateSize)
	if err != nil {
		logging.WarnWithContext(logger, "space reservation refused", "space_reservation",
			logging.Int64("approximate_size", desc.ApproximateSize),
			logging.String(logging.FieldErrorHint, services.Details(err).Hint),
			logging.String(logging.FieldImpact, "job fails before any bytes are written"),
			logging.Error(err),
		)
		return err
	}
	defer reservation.Release()

	file, err := os.OpenFile(task.destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0o644)
	if err != nil {
		return services.Wrap(services.ErrTransfer, stageName, "open destination", task.destination, err)
	}

	started := time.Now()
	err = f.transfer(ctx, task, file, tc, logger)
	closeErr := file.Close()
	if err == nil && closeErr != nil {
		err = services.Wrap(services.ErrTransfer, stageName, "close destination", task.destination, closeErr)
	}
	if err != nil {
		_ = os.Remove(task.destination)
		return err
	}
	logger.Debug("stream fetched",
		logging.Int64("bytes_transferred", task.transferred()),
		logging.Duration("elapsed", time.Since(started)),
		logging.Int64("reserved_bytes", int64(reservation.Bytes())),
	)
	return nil
}

// transfer runs the attempt loop. Each retry resumes from the bytes already
// on disk.
func (f *Fetcher) transfer(ctx context.Context, task *Task, file *os.File, tc taskConfig, logger *slog.Logger) error {
	progress := newThrottle(f.opts.ProgressInterval, tc.progress)
	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.opts.BackoffBase << (attempt - 1)
			logger.Info("retrying stream fetch",
				logging.Int("attempt", attempt),
				logging.Duration("backoff", delay),
				logging.Int64("resume_offset", task.transferred()),
				logging.String(logging.FieldEventType, "fetch_retry"),
				logging.Error(lastErr),
			)
			if err := f.sleep(ctx, delay); err != nil {
				return cancelled(err)
			}
		}
		err := f.attempt(ctx, task, file, progress)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return cancelled(ctx.Err())
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return services.Wrap(services.ErrTransfer, stageName, "fetch", perm.msg, perm.err)
		}
		lastErr = err
	}
	msg := fmt.Sprintf("gave up after %d retries at %d bytes", f.opts.MaxRetries, task.transferred())
	return services.Wrap(services.ErrTransfer, stageName, "fetch", msg, lastErr)
}

// attempt performs one request starting at the current offset. Transient
// failures are returned as plain errors; permanent ones as *permanentError.
func (f *Fetcher) attempt(ctx context.Context, task *Task, file *os.File, progress *throttle) error {
	offset := task.transferred()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.descriptor.SourceReference, nil)
	if err != nil {
		return &permanentError{msg: "build request", err: err}
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var expected int64 = -1
	switch {
	case resp.StatusCode == http.StatusOK:
		if resp.ContentLength >= 0 {
			expected = resp.ContentLength
		}
		if offset > 0 {
			// Origin ignored the Range header; skip what is already on disk.
			if _, err := io.CopyN(io.Discard, resp.Body, offset); err != nil {
				return fmt.Errorf("skip %d already written bytes: %w", offset, err)
			}
		}
	case resp.StatusCode == http.StatusPartialContent:
		start, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return &permanentError{msg: "invalid Content-Range", err: err}
		}
		if start != offset {
			return &permanentError{msg: fmt.Sprintf("origin resumed at %d, expected %d", start, offset)}
		}
		expected = total
	case isTransientStatus(resp.StatusCode):
		return fmt.Errorf("origin returned %s", resp.Status)
	default:
		return &permanentError{msg: fmt.Sprintf("origin returned %s", resp.Status)}
	}
	task.setTotal(expected)

	buf := make([]byte, bufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if f.limiter != nil {
				if err := f.limiter.WaitN(ctx, n); err != nil {
					return err
				}
			}
			if _, err := file.Write(buf[:n]); err != nil {
				return &permanentError{msg: "write destination", err: err}
			}
			task.advance(int64(n))
			progress.maybe(task)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	if expected >= 0 && task.transferred() < expected {
		return fmt.Errorf("body ended at %d of %d bytes: %w", task.transferred(), expected, io.ErrUnexpectedEOF)
	}
	return nil
}

type permanentError struct {
	msg string
	err error
}

func (e *permanentError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *permanentError) Unwrap() error { return e.err }

func isTransientStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// parseContentRange reads "bytes start-end/total"; total is -1 when "*".
func parseContentRange(value string) (int64, int64, error) {
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, 0, fmt.Errorf("unexpected unit in %q", value)
	}
	span, totalText, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, fmt.Errorf("missing total in %q", value)
	}
	startText, _, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, fmt.Errorf("missing range in %q", value)
	}
	start, err := strconv.ParseInt(strings.TrimSpace(startText), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse start: %w", err)
	}
	total := int64(-1)
	if totalText = strings.TrimSpace(totalText); totalText != "*" {
		total, err = strconv.ParseInt(totalText, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse total: %w", err)
		}
	}
	return start, total, nil
}

func cancelled(err error) error {
	return services.Wrap(services.ErrCancelled, stageName, "fetch", "transfer cancelled", err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// throttle limits progress callbacks to one per interval.
type throttle struct {
	interval time.Duration
	fn       ProgressFunc
	last     time.Time
}

func newThrottle(interval time.Duration, fn ProgressFunc) *throttle {
	return &throttle{interval: interval, fn: fn}
}

func (t *throttle) maybe(task *Task) {
	if t.fn == nil {
		return
	}
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return
	}
	t.last = now
	t.fn(task.Snapshot())
}
