package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"tubemux/internal/config"
	"tubemux/internal/jobs"
	"tubemux/internal/media"
)

// MustOpenStore opens a jobs.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *jobs.Store {
	t.Helper()

	store, err := jobs.Open(cfg)
	if err != nil {
		t.Fatalf("jobs.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob inserts a resolving job for url at tier.
func NewJob(t testing.TB, store *jobs.Store, url string, tier media.Tier) *jobs.Job {
	t.Helper()

	job := &jobs.Job{
		ID:        uuid.NewString(),
		SourceURL: url,
		Tier:      tier,
		Status:    jobs.StatusResolving,
	}
	if err := store.Create(context.Background(), job); err != nil {
		t.Fatalf("store.Create: %v", err)
	}
	return job
}
