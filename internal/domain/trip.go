// Package domain contains the core data types and state machines of the
// ferry inventory and boarding service. It has no storage or transport
// dependencies and is imported by every other internal package.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TripStatus is the lifecycle state of a scheduled sailing.
type TripStatus string

const (
	TripScheduled TripStatus = "scheduled"
	TripBoarding  TripStatus = "boarding"
	TripDeparted  TripStatus = "departed"
	TripArrived   TripStatus = "arrived"
	TripCancelled TripStatus = "cancelled"
)

var tripTransitions = map[TripStatus][]TripStatus{
	TripScheduled: {TripBoarding, TripDeparted, TripCancelled},
	TripBoarding:  {TripDeparted, TripCancelled},
	TripDeparted:  {TripArrived},
}

// Valid reports whether s is a known trip status.
func (s TripStatus) Valid() bool {
	switch s {
	case TripScheduled, TripBoarding, TripDeparted, TripArrived, TripCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a trip may move from s to next.
func (s TripStatus) CanTransition(next TripStatus) bool {
	for _, allowed := range tripTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Boardable reports whether tickets for a trip in this state may be scanned.
// Boarding is allowed slightly before the official boarding flip, so a
// scheduled trip is accepted too.
func (s TripStatus) Boardable() bool {
	return s == TripScheduled || s == TripBoarding
}

// Trip is one scheduled sailing of a ship along a route.
// CapacityPax and CapacityVehicles are the ship's capacity captured at
// schedule time; the available counters never leave [0, capacity].
// The ledger is the only writer of the available counters.
type Trip struct {
	ID                     uuid.UUID
	RouteID                uuid.UUID
	ShipID                 uuid.UUID
	DepartureTime          time.Time
	ArrivalTime            time.Time
	Status                 TripStatus
	CapacityPax            int
	CapacityVehicles       int
	AvailableSeatsPax      int
	AvailableSlotsVehicles int
	BoardedPax             int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Departed reports whether the trip's departure time is before now.
func (t Trip) Departed(now time.Time) bool {
	return t.DepartureTime.Before(now)
}
