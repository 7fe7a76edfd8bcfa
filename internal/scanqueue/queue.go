// Package scanqueue is the scanning device's side of offline boarding: a
// durable SQLite queue of scans made without connectivity, an HTTP client
// for the scan endpoints, and a Syncer that replays the queue in batches.
//
// An entry leaves the queue only when the server has answered for it.
// Anything else (a dropped connection, a 5xx, a crash between claim and
// ack) puts the entry back to pending for the next sync.
package scanqueue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Status is the sync state of a queued scan.
type Status string

const (
	StatusPending Status = "pending"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
)

// Entry is one scan waiting to reach the server.
type Entry struct {
	ID         string
	TicketCode string
	TripID     uuid.UUID
	ScannedAt  time.Time
	Status     Status
	Attempts   int
	LastError  string
}

const schema = `
CREATE TABLE IF NOT EXISTS queued_scans (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT    NOT NULL UNIQUE,
	ticket_code TEXT    NOT NULL,
	trip_id     TEXT    NOT NULL,
	scanned_at  INTEGER NOT NULL,
	status      TEXT    NOT NULL DEFAULT 'pending'
	            CHECK (status IN ('pending', 'syncing', 'error')),
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT    NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS queued_scans_status_seq ON queued_scans (status, seq);
`

const entryColumns = `id, ticket_code, trip_id, scanned_at, status, attempts, last_error`

// Config holds the parameters for opening a Queue.
type Config struct {
	// Path is the SQLite database file. The parent directory must exist.
	Path string

	// PoolSize defaults to 2; a device has one scanner and one syncer.
	PoolSize int

	Logger *slog.Logger
}

// Queue is the durable offline scan queue.
type Queue struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the queue database.
func Open(cfg Config) (*Queue, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("scanqueue: Path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 2
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("scanqueue: opening %s: %w", cfg.Path, err)
	}

	q := &Queue{pool: pool, logger: logger, now: time.Now}
	if err := q.migrate(); err != nil {
		pool.Close()
		return nil, err
	}
	return q, nil
}

// Close closes the database.
func (q *Queue) Close() error {
	if err := q.pool.Close(); err != nil {
		return fmt.Errorf("scanqueue: close: %w", err)
	}
	return nil
}

// prepareConn applies the pragmas every connection needs. synchronous=FULL
// because a scan acknowledged to the operator must survive power loss.
func prepareConn(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("scanqueue: %s: %w", pragma, err)
		}
	}
	return nil
}

func (q *Queue) migrate() error {
	conn, err := q.pool.Take(context.Background())
	if err != nil {
		return fmt.Errorf("scanqueue: migrate: %w", err)
	}
	defer q.pool.Put(conn)

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("scanqueue: migrate: %w", err)
	}
	return nil
}

// withTx runs fn in an IMMEDIATE transaction on a pooled connection.
func (q *Queue) withTx(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer q.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return fn(conn)
}

// Enqueue stores a scan as pending and returns it.
func (q *Queue) Enqueue(ctx context.Context, ticketCode string, tripID uuid.UUID, scannedAt time.Time) (Entry, error) {
	code := strings.TrimSpace(ticketCode)
	if code == "" {
		return Entry{}, fmt.Errorf("scanqueue.Enqueue: ticket code is required")
	}
	if tripID == uuid.Nil {
		return Entry{}, fmt.Errorf("scanqueue.Enqueue: trip id is required")
	}

	e := Entry{
		ID:         uuid.NewString(),
		TicketCode: code,
		TripID:     tripID,
		ScannedAt:  scannedAt.UTC(),
		Status:     StatusPending,
	}
	err := q.withTx(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO queued_scans (id, ticket_code, trip_id, scanned_at, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{e.ID, e.TicketCode, e.TripID.String(), e.ScannedAt.UnixNano(), q.now().UnixNano()},
			})
	})
	if err != nil {
		return Entry{}, fmt.Errorf("scanqueue.Enqueue: %w", err)
	}
	return e, nil
}

// Claim moves up to limit pending entries to syncing, oldest first, and
// returns them in scan order.
func (q *Queue) Claim(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := q.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			SELECT `+entryColumns+` FROM queued_scans
			WHERE status = 'pending'
			ORDER BY seq ASC
			LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					e, err := scanEntry(stmt)
					if err != nil {
						return err
					}
					entries = append(entries, e)
					return nil
				},
			})
		if err != nil {
			return err
		}
		for i := range entries {
			if err := setStatus(conn, entries[i].ID, StatusPending, StatusSyncing, ""); err != nil {
				return err
			}
			entries[i].Status = StatusSyncing
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanqueue.Claim: %w", err)
	}
	return entries, nil
}

// Ack deletes syncing entries the server has answered for. It returns how
// many were removed.
func (q *Queue) Ack(ctx context.Context, ids []string) (int, error) {
	var n int
	err := q.withTx(ctx, func(conn *sqlite.Conn) error {
		for _, id := range ids {
			err := sqlitex.Execute(conn, `DELETE FROM queued_scans WHERE id = ? AND status = 'syncing'`,
				&sqlitex.ExecOptions{Args: []any{id}})
			if err != nil {
				return err
			}
			n += conn.Changes()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanqueue.Ack: %w", err)
	}
	return n, nil
}

// Revert puts syncing entries back to pending after a failed delivery and
// counts the attempt.
func (q *Queue) Revert(ctx context.Context, ids []string, reason string) error {
	err := q.withTx(ctx, func(conn *sqlite.Conn) error {
		for _, id := range ids {
			if err := setStatus(conn, id, StatusSyncing, StatusPending, reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanqueue.Revert: %w", err)
	}
	return nil
}

// Fail parks syncing entries the server refused outright. They stay on the
// device until an operator retries them.
func (q *Queue) Fail(ctx context.Context, ids []string, reason string) error {
	err := q.withTx(ctx, func(conn *sqlite.Conn) error {
		for _, id := range ids {
			if err := setStatus(conn, id, StatusSyncing, StatusError, reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scanqueue.Fail: %w", err)
	}
	return nil
}

// Retry moves every errored entry back to pending.
func (q *Queue) Retry(ctx context.Context) (int, error) {
	n, err := q.moveAll(ctx, StatusError, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("scanqueue.Retry: %w", err)
	}
	return n, nil
}

// Recover moves entries left in syncing by a crash back to pending. Call it
// once at startup, before any Syncer runs.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	n, err := q.moveAll(ctx, StatusSyncing, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("scanqueue.Recover: %w", err)
	}
	if n > 0 {
		q.logger.Info("recovered interrupted scans", "count", n)
	}
	return n, nil
}

func (q *Queue) moveAll(ctx context.Context, from, to Status) (int, error) {
	var n int
	err := q.withTx(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `UPDATE queued_scans SET status = ? WHERE status = ?`,
			&sqlitex.ExecOptions{Args: []any{string(to), string(from)}})
		n = conn.Changes()
		return err
	})
	return n, err
}

// Counts returns the number of entries per status.
func (q *Queue) Counts(ctx context.Context) (map[Status]int, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanqueue.Counts: %w", err)
	}
	defer q.pool.Put(conn)

	counts := map[Status]int{StatusPending: 0, StatusSyncing: 0, StatusError: 0}
	err = sqlitex.Execute(conn, `SELECT status, count(*) FROM queued_scans GROUP BY status`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				counts[Status(stmt.ColumnText(0))] = stmt.ColumnInt(1)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("scanqueue.Counts: %w", err)
	}
	return counts, nil
}

// List returns up to limit entries with the given status, oldest first.
func (q *Queue) List(ctx context.Context, status Status, limit int) ([]Entry, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanqueue.List: %w", err)
	}
	defer q.pool.Put(conn)

	var entries []Entry
	err = sqlitex.Execute(conn, `
		SELECT `+entryColumns+` FROM queued_scans
		WHERE status = ?
		ORDER BY seq ASC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{string(status), limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				e, err := scanEntry(stmt)
				if err != nil {
					return err
				}
				entries = append(entries, e)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("scanqueue.List: %w", err)
	}
	return entries, nil
}

func setStatus(conn *sqlite.Conn, id string, from, to Status, reason string) error {
	attempts := 0
	if from == StatusSyncing && to == StatusPending {
		attempts = 1
	}
	return sqlitex.Execute(conn, `
		UPDATE queued_scans
		SET status = ?, attempts = attempts + ?, last_error = coalesce(nullif(?, ''), last_error)
		WHERE id = ? AND status = ?`,
		&sqlitex.ExecOptions{Args: []any{string(to), attempts, reason, id, string(from)}})
}

func scanEntry(stmt *sqlite.Stmt) (Entry, error) {
	tripID, err := uuid.Parse(stmt.ColumnText(2))
	if err != nil {
		return Entry{}, fmt.Errorf("trip id: %w", err)
	}
	return Entry{
		ID:         stmt.ColumnText(0),
		TicketCode: stmt.ColumnText(1),
		TripID:     tripID,
		ScannedAt:  time.Unix(0, stmt.ColumnInt64(3)).UTC(),
		Status:     Status(stmt.ColumnText(4)),
		Attempts:   stmt.ColumnInt(5),
		LastError:  stmt.ColumnText(6),
	}, nil
}
