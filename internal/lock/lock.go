// Package lock defines the named-lock capability the scheduler uses to keep
// cooperating processes from running the same maintenance job concurrently.
// The Postgres advisory-lock implementation lives with the postgres driver;
// LocalLocker covers single-process deployments and tests.
package lock

import (
	"context"
	"sync"
	"time"
)

// Locker grants exclusive ownership of a named lock. Acquire returns false
// when another holder owns the name; that is an expected outcome, not an
// error. TTL bounds how long a crashed holder can wedge the name.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// LocalLocker is an in-process Locker with TTL expiry.
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), clock: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if until, ok := l.held[name]; ok && now.Before(until) {
		return false, nil
	}
	l.held[name] = now.Add(ttl)
	return true, nil
}

func (l *LocalLocker) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}
