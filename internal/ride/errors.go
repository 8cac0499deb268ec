package ride

import (
	"fmt"

	"github.com/example/ride-dispatch/internal/models"
)

type NotFoundError struct {
	Kind string // "ride" or "match"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// RideAlreadyTakenError is the deterministic rejection the loser of an
// acceptance race receives. It also covers a late accept against a ride that
// was cancelled in the meantime.
type RideAlreadyTakenError struct {
	RideID string
	Status models.Status
}

func (e *RideAlreadyTakenError) Error() string {
	return fmt.Sprintf("ride %s is no longer pending (status %s)", e.RideID, e.Status)
}

// ActiveRideConflictError rejects a driver who already has a ride in
// progress.
type ActiveRideConflictError struct {
	DriverID     string
	ActiveRideID string
}

func (e *ActiveRideConflictError) Error() string {
	return fmt.Sprintf("driver %s already has active ride %s", e.DriverID, e.ActiveRideID)
}

type InvalidTransitionError struct {
	RideID string
	From   models.Status
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s ride %s in status %s", e.Action, e.RideID, e.From)
}

// ValidationError rejects a malformed request before any state mutation.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type InvalidRatingError struct {
	Rating int
}

func (e *InvalidRatingError) Error() string {
	return fmt.Sprintf("rating must be between 1 and 5, got %d", e.Rating)
}

// NotParticipantError rejects a caller acting on a ride they are not party
// to.
type NotParticipantError struct {
	RideID string
	UserID string
}

func (e *NotParticipantError) Error() string {
	return fmt.Sprintf("user %s is not a participant of ride %s", e.UserID, e.RideID)
}
