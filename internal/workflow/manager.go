package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tubemux/internal/catalog"
	"tubemux/internal/config"
	"tubemux/internal/fetch"
	"tubemux/internal/jobs"
	"tubemux/internal/logging"
	"tubemux/internal/mux"
	"tubemux/internal/notifications"
)

// Manager coordinates job pipelines and tracks the jobs it is running.
type Manager struct {
	cfg      *config.Config
	store    *jobs.Store
	logger   *slog.Logger
	source   catalog.Source
	resolver *catalog.Resolver
	fetcher  *fetch.Fetcher
	muxer    *mux.Muxer
	notifier notifications.Service

	progressInterval time.Duration

	mu       sync.RWMutex
	active   map[string]*activeJob
	closed   bool
	wg       sync.WaitGroup
	lastErr  error
	lastJob  *jobs.Job
	finished int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	source   catalog.Source
	fetcher  *fetch.Fetcher
	muxer    *mux.Muxer
	notifier notifications.Service
}

// WithSource replaces the catalog backend selected by catalog.backend.
func WithSource(source catalog.Source) ManagerOption {
	return func(o *managerOptions) { o.source = source }
}

// WithFetcher replaces the configured stream fetcher.
func WithFetcher(fetcher *fetch.Fetcher) ManagerOption {
	return func(o *managerOptions) { o.fetcher = fetcher }
}

// WithMuxer replaces the configured muxer.
func WithMuxer(muxer *mux.Muxer) ManagerOption {
	return func(o *managerOptions) { o.muxer = muxer }
}

// WithNotifier replaces the ntfy notifier (used in tests).
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(o *managerOptions) { o.notifier = notifier }
}

// NewManager constructs a workflow manager wired from cfg.
func NewManager(cfg *config.Config, store *jobs.Store, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workflow: config is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("workflow: job store is nil")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.source == nil {
		source, err := catalog.NewSource(cfg)
		if err != nil {
			return nil, err
		}
		options.source = source
	}
	if options.fetcher == nil {
		reserver := fetch.NewReserver(nil, cfg.Fetch.SpaceMargin)
		options.fetcher = fetch.NewFromConfig(cfg, reserver, logger)
	}
	if options.muxer == nil {
		options.muxer = mux.NewFromConfig(cfg, logger)
	}
	if options.notifier == nil {
		options.notifier = notifications.NewService(cfg)
	}

	return &Manager{
		cfg:              cfg,
		store:            store,
		logger:           logging.NewComponentLogger(logger, "workflow-manager"),
		source:           options.source,
		resolver:         catalog.NewResolver(options.source, logger),
		fetcher:          options.fetcher,
		muxer:            options.muxer,
		notifier:         options.notifier,
		progressInterval: cfg.WorkflowProgressInterval(),
		active:           make(map[string]*activeJob),
	}, nil
}

// activeJob is the in-memory state of a running job. job is the live record;
// persistMu serializes writes so the store always receives the newest state.
type activeJob struct {
	mu          sync.Mutex
	job         *jobs.Job
	cancel      context.CancelFunc
	done        chan struct{}
	terminal    bool
	lastPersist time.Time
	sampler     *logging.ProgressSampler

	persistMu sync.Mutex
}

func (a *activeJob) snapshot() *jobs.Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.job.Clone()
}

func (a *activeJob) update(fn func(job *jobs.Job)) {
	a.mu.Lock()
	if !a.terminal {
		fn(a.job)
	}
	a.mu.Unlock()
}
