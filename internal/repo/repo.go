// Package repo contains all database access logic for the ferry service.
// Each resource has its own file with an interface and a Postgres implementation.
// No business rules live here, only SQL and type mapping. Every status change
// is a conditional UPDATE so concurrent writers cannot both win.
package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// db is the minimal interface satisfied by *pgxpool.Pool, pgx.Conn, and pgx.Tx.
// Accepting this interface instead of *pgxpool.Pool directly allows integration
// tests to pass a transaction that is rolled back after each test.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// beginner is a db that can open a (possibly nested) transaction.
// *pgxpool.Pool opens a real transaction; pgx.Tx opens a savepoint.
type beginner interface {
	db
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repos bundles every repository bound to the same connection or transaction.
type Repos struct {
	Trips        TripRepo
	Reservations ReservationRepo
	Bookings     BookingRepo
	Tickets      TicketRepo
	Scans        ScanEventRepo
}

// NewRepos binds all repositories to db.
func NewRepos(db db) Repos {
	return Repos{
		Trips:        NewTripRepo(db),
		Reservations: NewReservationRepo(db),
		Bookings:     NewBookingRepo(db),
		Tickets:      NewTicketRepo(db),
		Scans:        NewScanEventRepo(db),
	}
}

// Transactor gives services both plain repositories and a way to run a
// group of repository calls atomically.
type Transactor interface {
	// Repos returns repositories bound to the underlying connection pool.
	Repos() Repos

	// WithinTx runs fn inside one transaction. The transaction commits when
	// fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Repos) error) error
}

// Store is the Postgres Transactor.
type Store struct {
	conn  beginner
	repos Repos
}

// NewStore constructs a Store. In production pass *pgxpool.Pool; in tests
// pass a pgx.Tx so nested transactions become savepoints that vanish with
// the outer rollback.
func NewStore(conn beginner) *Store {
	return &Store{conn: conn, repos: NewRepos(conn)}
}

// Repos returns repositories bound to the store's connection.
func (s *Store) Repos() Repos {
	return s.repos
}

// WithinTx runs fn in a transaction. See Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(Repos) error) error {
	err := pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		return fn(NewRepos(tx))
	})
	if err != nil {
		return fmt.Errorf("repo.Store.WithinTx: %w", err)
	}
	return nil
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func fromPgUUID(id pgtype.UUID) uuid.UUID {
	return uuid.UUID(id.Bytes)
}

func fromPgTime(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
