package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"tubemux/internal/config"
	"tubemux/internal/deps"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/preflight"
	"tubemux/internal/staging"
	"tubemux/internal/workflow"
)

const (
	janitorInterval = 15 * time.Minute
	shutdownTimeout = 30 * time.Second
)

// Daemon coordinates the background services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	workflow *workflow.Manager
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Workflow     workflow.StatusSummary
	JobsDBPath   string
	LockFilePath string
	Dependencies []deps.Status
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *jobs.Store, logger *slog.Logger, wf *workflow.Manager) (*Daemon, error) {
	if cfg == nil || store == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, wf, logger)
	return d, nil
}

// Start acquires the daemon lock, recovers state left by a previous run and
// starts serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tubemux daemon instance is already running")
	}

	d.recover(ctx)
	d.reportPreflight(ctx)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.cancel = cancel

	d.wg.Add(1)
	go d.janitor(runCtx)

	d.running.Store(true)
	d.logger.Info("tubemux daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

// Stop cancels running jobs, stops the API and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.workflow.Shutdown(shutdownCtx); err != nil {
		logging.WarnWithContext(d.logger, "jobs still running after shutdown timeout", "daemon_shutdown_timeout",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "unfinished jobs are failed on the next start"),
			logging.String(logging.FieldImpact, "scratch directories may be left behind"),
		)
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove "+d.lockPath+" if no daemon is running"),
			logging.String(logging.FieldImpact, "next start may report another instance"),
		)
	}
	d.running.Store(false)
	d.logger.Info("tubemux daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether Start succeeded and Stop has not been called.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// APIAddress returns the address the API listens on, or "" when disabled.
func (d *Daemon) APIAddress() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Workflow:     d.workflow.Status(ctx),
		JobsDBPath:   d.store.Path(),
		LockFilePath: d.lockPath,
		Dependencies: preflight.CheckSystemDeps(ctx, d.cfg),
	}
}

// recover fails jobs a previous process left mid-pipeline and removes their
// scratch directories. Nothing runs yet, so every job directory is orphaned.
func (d *Daemon) recover(ctx context.Context) {
	failed, err := d.store.FailInterrupted(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "failed to mark interrupted jobs", "interrupted_jobs_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
			logging.String(logging.FieldImpact, "stale jobs may report an active status"),
		)
	} else if failed > 0 {
		d.logger.Info("failed interrupted jobs",
			logging.String(logging.FieldEventType, "interrupted_jobs"),
			logging.Int64("count", failed),
		)
	}

	result := staging.CleanOrphaned(ctx, d.cfg.Paths.StagingDir, d.activeSet(), d.logger)
	if len(result.Removed) > 0 {
		d.logger.Info("cleared orphaned scratch directories",
			logging.String(logging.FieldEventType, "staging_orphans_cleared"),
			logging.Int("count", len(result.Removed)),
		)
	}
}

func (d *Daemon) reportPreflight(ctx context.Context) {
	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldErrorHint, "run tubemux doctor for details"),
			logging.String(logging.FieldImpact, "jobs may fail until resolved"),
		)
	}
}

// janitor periodically removes scratch directories older than
// workflow.stale_scratch_hours that no running job owns.
func (d *Daemon) janitor(ctx context.Context) {
	defer d.wg.Done()
	maxAge := time.Duration(d.cfg.Workflow.StaleScratchHours) * time.Hour
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			staging.CleanStaleInactive(ctx, d.cfg.Paths.StagingDir, maxAge, d.activeSet(), d.logger)
		}
	}
}

func (d *Daemon) activeSet() map[string]struct{} {
	ids := d.workflow.ActiveJobs()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
