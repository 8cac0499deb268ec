package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a coordinate plus the human-readable label the rider typed or
// picked from autocomplete.
type Location struct {
	Coord Coord  `json:"coord"`
	Label string `json:"label"`
}

type VehicleClass string

const (
	VehicleEconomy VehicleClass = "economy"
	VehicleComfort VehicleClass = "comfort"
	VehiclePremium VehicleClass = "premium"
)

func (v VehicleClass) Valid() bool {
	switch v {
	case VehicleEconomy, VehicleComfort, VehiclePremium:
		return true
	}
	return false
}

// Status is the ride lifecycle state. Transitions are enforced centrally by
// the ride service, never by writing this field directly.
type Status string

const (
	StatusPending        Status = "pending"
	StatusAccepted       Status = "accepted"
	StatusDriverArriving Status = "driver_arriving"
	StatusStarted        Status = "started"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
)

// Terminal reports whether no further transition may leave this state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Driver struct {
	ID      string    `json:"id"`
	Loc     Coord     `json:"loc"`
	Rating  float64   `json:"rating"` // 0..5
	Online  bool      `json:"online"`
	Updated time.Time `json:"updated"`
}

type RideRequest struct {
	ID            string          `json:"id"`
	RiderID       string          `json:"rider_id"`
	Pickup        Location        `json:"pickup"`
	Dropoff       Location        `json:"dropoff"`
	VehicleClass  VehicleClass    `json:"vehicle_class"`
	Passengers    int             `json:"passengers"`
	EstimatedFare decimal.Decimal `json:"estimated_fare"`
	Status        Status          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// RideMatch binds exactly one driver to one request. Created once, at
// acceptance; a zero Rating means "not yet rated".
type RideMatch struct {
	ID          string     `json:"id"`
	RideID      string     `json:"ride_id"`
	DriverID    string     `json:"driver_id"`
	AcceptedAt  time.Time  `json:"accepted_at"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Rating      int        `json:"rating,omitempty"`
	Comment     string     `json:"comment,omitempty"`

	// PaymentID identifies the platform-fee debit once the ride completes.
	PaymentID string `json:"payment_id,omitempty"`
	// FeeOutstanding flags a completion whose fee debit failed and still
	// needs reconciliation.
	FeeOutstanding bool `json:"fee_outstanding,omitempty"`
}

func (m *RideMatch) Rated() bool { return m.Rating != 0 }
