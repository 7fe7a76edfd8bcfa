package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLocker hands out Postgres session-level advisory locks. A lock is
// tied to one pooled connection, which is held until the lock is released.
type AdvisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker constructs an AdvisoryLocker on pool.
func NewAdvisoryLocker(pool *pgxpool.Pool) *AdvisoryLocker {
	return &AdvisoryLocker{pool: pool}
}

// TryLock attempts to take the lock identified by key without waiting.
// When ok is true the caller must call release exactly once.
func (l *AdvisoryLocker) TryLock(ctx context.Context, key int64) (release func(), ok bool, err error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("repo.AdvisoryLocker.TryLock: acquire: %w", err)
	}

	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("repo.AdvisoryLocker.TryLock: %w", err)
	}
	if !ok {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// Unlock on a fresh context: the caller's may already be cancelled.
		_, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		if err != nil {
			// The session still owns the lock; dropping the connection frees it.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
	}
	return release, true, nil
}
