// Package service contains the business logic of the ferry inventory and
// boarding service: the capacity ledger, the booking and ticket lifecycle,
// the expiration sweep, and ticket validation.
// No SQL lives here; services depend on repo interfaces, not implementations.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pkordes/ferry-boarding/internal/domain"
)

// Pricer prices one passenger on one trip. Pricing rules live outside this
// service; the result is stored on the ticket as-is.
type Pricer interface {
	Price(ctx context.Context, trip domain.Trip, passenger domain.PassengerInput) (int64, error)
}

// Tariff is a Pricer with one flat fare per passenger type.
type Tariff map[domain.PassengerType]int64

// Price returns the fare for the passenger's type.
func (t Tariff) Price(_ context.Context, _ domain.Trip, p domain.PassengerInput) (int64, error) {
	fare, ok := t[p.Type]
	if !ok {
		return 0, fmt.Errorf("service.Tariff.Price: no fare for passenger type %q", p.Type)
	}
	return fare, nil
}

// TokenIssuer produces the opaque QR payload bound to a new ticket.
type TokenIssuer interface {
	Issue() (string, error)
}

// Locker takes a non-blocking cluster-wide lock. repo.AdvisoryLocker
// satisfies it.
type Locker interface {
	TryLock(ctx context.Context, key int64) (release func(), ok bool, err error)
}

// Clock returns the current time. Services take one so tests can pin it;
// production passes time.Now.
type Clock func() time.Time
