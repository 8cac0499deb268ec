package notify

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/models"
)

// Type is the server→client message discriminator carried in the "type"
// field of every websocket payload.
type Type string

const (
	TypeRideRequest        Type = "ride_request"
	TypeRideAccepted       Type = "ride_accepted"
	TypeDriverArrived      Type = "driver_arrived"
	TypeRideStarted        Type = "ride_started"
	TypeRideCompleted      Type = "ride_completed"
	TypeRideCanceled       Type = "ride_canceled"
	TypeBalanceTransaction Type = "balance_transaction"
	TypeAdminMessage       Type = "admin_message"
	TypeProximityAlert     Type = "proximity_alert"
)

// Message is one fully-formed notification payload. Every concrete type is
// built through its constructor so a payload can never be missing fields.
type Message interface {
	Kind() Type
}

type RideRequestMsg struct {
	Type          Type            `json:"type"`
	RideID        string          `json:"ride_id"`
	Pickup        models.Location `json:"pickup"`
	Dropoff       models.Location `json:"dropoff"`
	VehicleClass  string          `json:"vehicle_class"`
	Passengers    int             `json:"passengers"`
	EstimatedFare decimal.Decimal `json:"estimated_fare"`
	SoundRequired bool            `json:"sound_required"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (m RideRequestMsg) Kind() Type { return m.Type }

func NewRideRequest(req *models.RideRequest) RideRequestMsg {
	return RideRequestMsg{
		Type:          TypeRideRequest,
		RideID:        req.ID,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		VehicleClass:  string(req.VehicleClass),
		Passengers:    req.Passengers,
		EstimatedFare: req.EstimatedFare,
		SoundRequired: true,
		CreatedAt:     time.Now().UTC(),
	}
}

type RideAcceptedMsg struct {
	Type          Type      `json:"type"`
	RideID        string    `json:"ride_id"`
	MatchID       string    `json:"match_id"`
	DriverID      string    `json:"driver_id"`
	ETASeconds    float64   `json:"eta_seconds"`
	SoundRequired bool      `json:"sound_required"`
	CreatedAt     time.Time `json:"created_at"`
}

func (m RideAcceptedMsg) Kind() Type { return m.Type }

func NewRideAccepted(rideID, matchID, driverID string, etaSeconds float64) RideAcceptedMsg {
	return RideAcceptedMsg{
		Type:          TypeRideAccepted,
		RideID:        rideID,
		MatchID:       matchID,
		DriverID:      driverID,
		ETASeconds:    etaSeconds,
		SoundRequired: true,
		CreatedAt:     time.Now().UTC(),
	}
}

type DriverArrivedMsg struct {
	Type      Type      `json:"type"`
	RideID    string    `json:"ride_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (m DriverArrivedMsg) Kind() Type { return m.Type }

func NewDriverArrived(rideID string) DriverArrivedMsg {
	return DriverArrivedMsg{Type: TypeDriverArrived, RideID: rideID, CreatedAt: time.Now().UTC()}
}

type RideStartedMsg struct {
	Type      Type      `json:"type"`
	RideID    string    `json:"ride_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (m RideStartedMsg) Kind() Type { return m.Type }

func NewRideStarted(rideID string) RideStartedMsg {
	return RideStartedMsg{Type: TypeRideStarted, RideID: rideID, CreatedAt: time.Now().UTC()}
}

type RideCompletedMsg struct {
	Type      Type            `json:"type"`
	RideID    string          `json:"ride_id"`
	Fare      decimal.Decimal `json:"fare"`
	CreatedAt time.Time       `json:"created_at"`
}

func (m RideCompletedMsg) Kind() Type { return m.Type }

func NewRideCompleted(rideID string, fare decimal.Decimal) RideCompletedMsg {
	return RideCompletedMsg{Type: TypeRideCompleted, RideID: rideID, Fare: fare, CreatedAt: time.Now().UTC()}
}

type RideCanceledMsg struct {
	Type        Type      `json:"type"`
	RideID      string    `json:"ride_id"`
	CancelledBy string    `json:"cancelled_by"`
	CreatedAt   time.Time `json:"created_at"`
}

func (m RideCanceledMsg) Kind() Type { return m.Type }

func NewRideCanceled(rideID, cancelledBy string) RideCanceledMsg {
	return RideCanceledMsg{Type: TypeRideCanceled, RideID: rideID, CancelledBy: cancelledBy, CreatedAt: time.Now().UTC()}
}

type BalanceTransactionMsg struct {
	Type            Type            `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionType string          `json:"transaction_type"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance"`
	Message         string          `json:"message"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (m BalanceTransactionMsg) Kind() Type { return m.Type }

func NewBalanceTransaction(tx ledger.Transaction) BalanceTransactionMsg {
	return BalanceTransactionMsg{
		Type:            TypeBalanceTransaction,
		Amount:          tx.Amount,
		TransactionType: string(tx.Type),
		PreviousBalance: tx.PreviousBalance,
		NewBalance:      tx.NewBalance,
		Message:         tx.Description,
		CreatedAt:       tx.CreatedAt,
	}
}

type AdminMessageMsg struct {
	Type      Type      `json:"type"`
	RideID    string    `json:"ride_id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func (m AdminMessageMsg) Kind() Type { return m.Type }

func NewAdminMessage(rideID, message string) AdminMessageMsg {
	return AdminMessageMsg{Type: TypeAdminMessage, RideID: rideID, Message: message, CreatedAt: time.Now().UTC()}
}

type ProximityAlertMsg struct {
	Type          Type      `json:"type"`
	RideID        string    `json:"ride_id"`
	DriverID      string    `json:"driver_id"`
	DistanceM     float64   `json:"distance_m"`
	SoundRequired bool      `json:"sound_required"`
	CreatedAt     time.Time `json:"created_at"`
}

func (m ProximityAlertMsg) Kind() Type { return m.Type }

func NewProximityAlert(rideID, driverID string, distanceM float64) ProximityAlertMsg {
	return ProximityAlertMsg{
		Type:          TypeProximityAlert,
		RideID:        rideID,
		DriverID:      driverID,
		DistanceM:     distanceM,
		SoundRequired: true,
		CreatedAt:     time.Now().UTC(),
	}
}
