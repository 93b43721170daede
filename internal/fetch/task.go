package fetch

import (
	"context"
	"sync"

	"tubemux/internal/media"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Snapshot is a point-in-time copy of a task's state.
type Snapshot struct {
	Descriptor       media.StreamDescriptor
	Destination      string
	Status           Status
	BytesTransferred int64
	// TotalBytes is the expected size once known, else the descriptor estimate.
	TotalBytes int64
	Err        error
}

// Percent reports completion in [0,100], or 0 when the total is unknown.
func (s Snapshot) Percent() float64 {
	if s.TotalBytes <= 0 {
		return 0
	}
	pct := float64(s.BytesTransferred) / float64(s.TotalBytes) * 100
	return min(pct, 100)
}

// Task is one asynchronous stream transfer.
type Task struct {
	descriptor  media.StreamDescriptor
	destination string

	mu     sync.Mutex
	status Status
	bytes  int64
	total  int64
	err    error

	cancel context.CancelFunc
	done   chan struct{}
}

func newTask(desc media.StreamDescriptor, destination string, cancel context.CancelFunc) *Task {
	return &Task{
		descriptor:  desc,
		destination: destination,
		status:      StatusPending,
		total:       desc.ApproximateSize,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
}

// Done is closed once the task reaches done or failed.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes or ctx ends and returns the task error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops the transfer; the task then fails with services.ErrCancelled.
func (t *Task) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

// Err returns the failure, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Snapshot copies the current state.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		Descriptor:       t.descriptor,
		Destination:      t.destination,
		Status:           t.status,
		BytesTransferred: t.bytes,
		TotalBytes:       t.total,
		Err:              t.err,
	}
}

func (t *Task) setRunning() {
	t.mu.Lock()
	t.status = StatusRunning
	t.mu.Unlock()
}

func (t *Task) setTotal(total int64) {
	if total <= 0 {
		return
	}
	t.mu.Lock()
	t.total = total
	t.mu.Unlock()
}

// advance adds n transferred bytes; the counter never decreases.
func (t *Task) advance(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.bytes += n
	t.mu.Unlock()
}

func (t *Task) transferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bytes
}

func (t *Task) finish(err error) {
	t.mu.Lock()
	if t.status.IsTerminal() {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.status = StatusFailed
		t.err = err
	} else {
		t.status = StatusDone
		if t.bytes > 0 {
			t.total = t.bytes
		}
	}
	t.mu.Unlock()
	close(t.done)
}
