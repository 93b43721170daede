package fetch

import (
	"fmt"
	"math"
	"sync"

	"golang.org/x/sys/unix"

	"tubemux/internal/services"
)

// StatfsFunc reports the volume a path lives on and the bytes available to
// unprivileged writers there.
type StatfsFunc func(path string) (volume uint64, free uint64, err error)

// StatfsFreeSpace reads the volume identity and Bavail*Bsize for path.
func StatfsFreeSpace(path string) (uint64, uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, err
	}
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, 0, err
	}
	return uint64(st.Dev), fs.Bavail * uint64(fs.Bsize), nil
}

// Reserver tracks space promised to in-flight transfers per volume so that
// concurrent fetches cannot jointly overrun a disk that fits each of them alone.
type Reserver struct {
	statfs StatfsFunc
	margin float64

	mu       sync.Mutex
	reserved map[uint64]uint64
}

// NewReserver builds a reserver. A nil statfs uses StatfsFreeSpace; a margin
// below 1 is raised to 1.
func NewReserver(statfs StatfsFunc, margin float64) *Reserver {
	if statfs == nil {
		statfs = StatfsFreeSpace
	}
	if margin < 1 {
		margin = 1
	}
	return &Reserver{statfs: statfs, margin: margin, reserved: make(map[uint64]uint64)}
}

// Reservation is a claim on free space. Release is safe to call more than once.
type Reservation struct {
	owner  *Reserver
	volume uint64
	bytes  uint64
	once   sync.Once
}

// Bytes reports the reserved amount.
func (r *Reservation) Bytes() uint64 {
	if r == nil {
		return 0
	}
	return r.bytes
}

// Release returns the reserved bytes to the volume budget.
func (r *Reservation) Release() {
	if r == nil || r.owner == nil {
		return
	}
	r.once.Do(func() {
		r.owner.mu.Lock()
		defer r.owner.mu.Unlock()
		remaining := r.owner.reserved[r.volume] - min(r.bytes, r.owner.reserved[r.volume])
		if remaining == 0 {
			delete(r.owner.reserved, r.volume)
			return
		}
		r.owner.reserved[r.volume] = remaining
	})
}

// Required returns ceil(size * margin), the amount Reserve claims for size.
func (r *Reserver) Required(size int64) uint64 {
	if size <= 0 {
		return 0
	}
	return uint64(math.Ceil(float64(size) * r.margin))
}

// Reserve claims Required(size) bytes on the volume holding dir. It fails with
// services.ErrInsufficientSpace when free space minus existing reservations
// cannot cover the claim.
func (r *Reserver) Reserve(dir string, size int64) (*Reservation, error) {
	need := r.Required(size)
	volume, free, err := r.statfs(dir)
	if err != nil {
		return nil, services.Wrap(services.ErrTransfer, stageName, "statfs", dir, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	held := r.reserved[volume]
	var available uint64
	if free > held {
		available = free - held
	}
	if need > available {
		msg := fmt.Sprintf("need %d bytes, %d available (%d reserved by other transfers)", need, available, held)
		return nil, services.WithHint(
			services.Wrap(services.ErrInsufficientSpace, stageName, "reserve space", msg, nil),
			"free space on the staging volume or lower the requested tier",
		)
	}
	r.reserved[volume] = held + need
	return &Reservation{owner: r, volume: volume, bytes: need}, nil
}

// Reserved reports the bytes currently held on the volume of dir.
func (r *Reserver) Reserved(dir string) uint64 {
	volume, _, err := r.statfs(dir)
	if err != nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reserved[volume]
}
