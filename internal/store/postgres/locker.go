package postgres

import (
	"context"
	"database/sql"
	"time"
)

// AdvisoryLocker implements the scheduler's distributed-lock contract with
// Postgres session advisory locks. Locks are scoped to the session, so the
// TTL is advisory only: a crashed holder releases its locks when the
// connection drops.
type AdvisoryLocker struct {
	db *sql.DB
}

func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker { return &AdvisoryLocker{db: db} }

// Acquire returns true when the named lock was obtained. Contention is not
// an error: false simply means another instance owns this tick.
func (l *AdvisoryLocker) Acquire(ctx context.Context, name string, _ time.Duration) (bool, error) {
	var got bool
	err := l.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, name).Scan(&got)
	if err != nil {
		return false, err
	}
	return got, nil
}

func (l *AdvisoryLocker) Release(ctx context.Context, name string) error {
	var released bool
	return l.db.QueryRowContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, name).Scan(&released)
}
