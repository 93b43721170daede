package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"tubemux/internal/config"
)

// Store persists job records in a single SQLite file. The daemon and a
// one-shot `tubemux get` may share the file, so writes retry while the other
// process holds the lock.
type Store struct {
	db   *sql.DB
	path string
}

// Lock contention policy for job writes: up to five attempts, doubling the
// pause from 10ms and never waiting longer than 200ms between attempts.
const (
	lockedWriteAttempts = 5
	lockedFirstPause    = 10 * time.Millisecond
	lockedMaxPause      = 200 * time.Millisecond
	busyTimeoutMillis   = 5000
)

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// databaseLocked reports SQLITE_BUSY, including its extended codes.
func databaseLocked(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xff == sqlite3.SQLITE_BUSY
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// whileLocked reruns write until it succeeds, fails for another reason, or
// the attempts run out.
func whileLocked(ctx context.Context, write func() error) error {
	pause := lockedFirstPause
	for attempt := 1; ; attempt++ {
		err := write()
		if err == nil || !databaseLocked(err) || attempt == lockedWriteAttempts {
			return err
		}
		timer := time.NewTimer(pause)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		pause = min(pause*2, lockedMaxPause)
	}
}

// exec runs a job write, retrying while the database is locked.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = orBackground(ctx)
	var res sql.Result
	err := whileLocked(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Open creates the state directory if needed and opens cfg.StorePath().
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.StorePath())
}

// OpenPath opens the job database at dbPath in WAL mode and migrates the
// jobs table.
func OpenPath(dbPath string) (*Store, error) {
	dsn := dbPath + "?" + url.Values{
		"_pragma": {"journal_mode(WAL)", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMillis)},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open job db %s: %w", dbPath, err)
	}
	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("job db %s: %w", dbPath, err)
	}
	return store, nil
}

// Path is the database file, reported by the daemon status endpoint.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close releases the database handle. Safe on a nil store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
