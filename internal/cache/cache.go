package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Backend stores raw response bodies with a freshness TTL. Entries past their
// TTL are still returned, flagged stale, until maxStale runs out.
type Backend interface {
	Get(ctx context.Context, key string, maxStale time.Duration) (Result, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

type Result struct {
	Hit      bool
	Value    []byte
	Age      time.Duration
	Stale    bool
	TooStale bool
}

func newResult(value []byte, created time.Time, ttl, maxStale time.Duration, now time.Time) Result {
	age := now.Sub(created)
	if age < 0 {
		age = 0
	}
	stale := age > ttl
	return Result{
		Hit:      true,
		Value:    value,
		Age:      age,
		Stale:    stale,
		TooStale: stale && maxStale >= 0 && age > ttl+maxStale,
	}
}

// Store is the local sqlite backend. Writers across processes serialize on a file lock.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	now  func() time.Time
}

func Open(path, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	// busy_timeout is set per connection so every pooled handle waits on a
	// locked database instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	lock := flock.New(lockPath)
	if err := initSchema(db, lock); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{db: db, lock: lock, now: time.Now}
	_ = store.Prune(context.Background())
	return store, nil
}

// initSchema runs under the writer lock so concurrent first opens do not race
// on the WAL switch.
func initSchema(db *sql.DB, lock *flock.Flock) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	locked, err := lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = lock.Unlock() }()

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"CREATE TABLE IF NOT EXISTS responses (key TEXT PRIMARY KEY, body BLOB NOT NULL, fetched_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("init cache schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// pruneGrace keeps expired entries around long enough to serve as stale fallback.
const pruneGrace = time.Hour

// Prune deletes entries that expired more than pruneGrace ago.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM responses WHERE fetched_at + ttl_seconds < ?", s.now().UTC().Add(-pruneGrace).Unix())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	var body []byte
	var fetchedUnix, ttlSeconds int64
	err := s.db.QueryRowContext(ctx, "SELECT body, fetched_at, ttl_seconds FROM responses WHERE key = ?", key).Scan(&body, &fetchedUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Result{}, nil
		}
		return Result{}, fmt.Errorf("cache read: %w", err)
	}
	return newResult(body, time.Unix(fetchedUnix, 0).UTC(), time.Duration(ttlSeconds)*time.Second, maxStale, s.now()), nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	locked, err := s.lock.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO responses (key, body, fetched_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			body=excluded.body,
			fetched_at=excluded.fetched_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, value, s.now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// StaleLimit caps the stale window any caller of the wrapped backend may ask
// for. A zero limit disables stale fallback.
type StaleLimit struct {
	Backend
	Limit time.Duration
}

func (l StaleLimit) Get(ctx context.Context, key string, maxStale time.Duration) (Result, error) {
	if maxStale < 0 || maxStale > l.Limit {
		maxStale = l.Limit
	}
	return l.Backend.Get(ctx, key, maxStale)
}
