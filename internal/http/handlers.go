package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/ride"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy to HTTP. Guard failures carry
// the concrete numbers the client needs to display an actionable message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		validation    *ride.ValidationError
		badRating     *ride.InvalidRatingError
		badAmount     *ledger.InvalidAmountError
		noFunds       *ledger.InsufficientBalanceError
		taken         *ride.RideAlreadyTakenError
		conflict      *ride.ActiveRideConflictError
		notParty      *ride.NotParticipantError
		notFound      *ride.NotFoundError
		badTransition *ride.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &badRating), errors.As(err, &badAmount):
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
	case errors.As(err, &noFunds):
		s.writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":     "insufficient_balance",
			"message":   err.Error(),
			"current":   noFunds.Current,
			"required":  noFunds.Required,
			"shortfall": noFunds.Shortfall,
		})
	case errors.As(err, &taken):
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error": "ride_already_taken", "message": err.Error(), "status": taken.Status,
		})
	case errors.As(err, &conflict):
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error": "active_ride_conflict", "message": err.Error(), "active_ride_id": conflict.ActiveRideID,
		})
	case errors.As(err, &badTransition):
		s.writeJSON(w, http.StatusConflict, map[string]any{"error": "invalid_transition", "message": err.Error()})
	case errors.As(err, &notParty):
		s.writeJSON(w, http.StatusForbidden, map[string]any{"error": "not_participant", "message": err.Error()})
	case errors.As(err, &notFound):
		s.writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "message": err.Error()})
	default:
		s.logger.Error("unhandled error", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
	}
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RiderID      string          `json:"rider_id"`
		Pickup       models.Location `json:"pickup"`
		Dropoff      models.Location `json:"dropoff"`
		VehicleClass string          `json:"vehicle_class"`
		Passengers   int             `json:"passengers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	req, found, err := s.Rides.CreateRequest(ride.CreateRequestInput{
		RiderID:      body.RiderID,
		Pickup:       body.Pickup,
		Dropoff:      body.Dropoff,
		VehicleClass: models.VehicleClass(body.VehicleClass),
		Passengers:   body.Passengers,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"request_id":     req.ID,
		"estimated_fare": req.EstimatedFare,
		"matches_found":  found,
	})
}

func driverBody(r *http.Request) (string, error) {
	var body struct {
		DriverID string `json:"driver_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.DriverID, nil
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	driverID, err := driverBody(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	match, etaSec, err := s.Rides.Accept(rideID, driverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"match_id": match.ID, "eta_seconds": etaSec})
}

func (s *Server) handleArrived(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	driverID, err := driverBody(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := s.Rides.MarkArrived(rideID, driverID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "driver_arriving"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	driverID, err := driverBody(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := s.Rides.Start(rideID, driverID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "started"})
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	driverID, err := driverBody(r)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	receipt, err := s.Rides.Complete(rideID, driverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"payment_id":      receipt.PaymentID,
		"amount":          receipt.Amount,
		"platform_fee":    receipt.PlatformFee,
		"driver_earnings": receipt.DriverEarnings,
		"fee_collected":   receipt.FeeCollected,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var body struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := s.Rides.Cancel(rideID, body.UserID, ride.Role(body.Role)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled"})
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var body struct {
		RiderID string `json:"rider_id"`
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := s.Rides.Rate(rideID, body.RiderID, body.Rating, body.Comment); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"rating": body.Rating, "comment": body.Comment})
}

func (s *Server) handleAdminMessage(w http.ResponseWriter, r *http.Request) {
	rideID := mux.Vars(r)["ride_id"]
	var body struct {
		Message string `json:"message"`
		Target  string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	n, err := s.Rides.AdminMessage(rideID, body.Message, ride.Target(body.Target))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"delivered": n})
}

func (s *Server) handleAdminBalance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID          string          `json:"user_id"`
		Amount          decimal.Decimal `json:"amount"`
		TransactionType string          `json:"transaction_type"`
		Description     string          `json:"description"`
		Actor           string          `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	if body.Actor == "" {
		body.Actor = "admin"
	}

	var tx ledger.Transaction
	var err error
	switch ledger.TxType(body.TransactionType) {
	case ledger.TxCredit:
		tx, err = s.Ledger.Credit(body.UserID, body.Amount, body.Description, body.Actor)
	case ledger.TxDebit:
		tx, err = s.Ledger.Debit(body.UserID, body.Amount, body.Description, body.Actor)
	case ledger.TxRefund:
		tx, err = s.Ledger.Refund(body.UserID, body.Amount, body.Description, body.Actor)
	default:
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": "transaction_type must be credit, debit or refund"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"transaction_id":   tx.ID,
		"previous_balance": tx.PreviousBalance,
		"new_balance":      tx.NewBalance,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	balance, txs := s.Ledger.BalanceOf(userID, s.cfg.RecentTxLimit)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"current_balance":     balance,
		"recent_transactions": txs,
	})
}

func (s *Server) handleRiderHistory(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"rides": s.Rides.RiderHistory(mux.Vars(r)["user_id"])})
}

func (s *Server) handleDriverRides(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"rides": s.Rides.DriverRides(mux.Vars(r)["driver_id"])})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	view, err := s.Rides.Ride(mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRatingSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"distribution": s.Journal.Distribution()})
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_request", "message": err.Error()})
		return
	}
	d.Online = true
	if s.Kafka != nil {
		if err := s.Kafka.PublishLocation(d); err != nil {
			s.logger.Warn("location publish failed", "driver_id", d.ID, "error", err)
		}
	}
	s.Geo.Upsert(d)
	s.Rides.HandleDriverLocation(d)
	w.WriteHeader(http.StatusNoContent)
}
