package ride

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/ride-dispatch/internal/fare"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Role identifies who is invoking a state-changing operation. Transition
// rules depend on it.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

// Target selects the recipients of an admin ride message.
type Target string

const (
	TargetRider  Target = "rider"
	TargetDriver Target = "driver"
	TargetBoth   Target = "both"
)

// CandidateFinder supplies eligible nearby drivers for a new request and
// pickup ETAs for an accepting driver. The geospatial ranking itself lives
// behind this interface.
type CandidateFinder interface {
	Candidates(pickup models.Coord) []matcher.Candidate
	PickupETA(driverID string, pickup models.Coord) float64
}

// EventPublisher streams lifecycle transitions to downstream consumers.
// Best effort: publish errors never fail a transition.
type EventPublisher interface {
	PublishRideEvent(rideID, status, driverID string) error
}

type Config struct {
	Store      storage.RideStore
	Archive    storage.Archiver // optional write-through
	Ledger     *ledger.Ledger
	Fanout     *notify.Fanout
	Candidates CandidateFinder
	Events     EventPublisher // optional
	Fare       fare.Estimator

	// FeeRate is the platform's cut of a completed fare, e.g. 0.20.
	FeeRate          decimal.Decimal
	ProximityRadiusM float64
	Logger           *slog.Logger
}

// Service owns the ride state machine. All transition guards are evaluated
// and committed under a per-ride mutex, which is what makes "first accepter
// wins" hold under concurrent accepts.
type Service struct {
	store      storage.RideStore
	archive    storage.Archiver
	ledger     *ledger.Ledger
	fanout     *notify.Fanout
	candidates CandidateFinder
	events     EventPublisher
	fare       fare.Estimator

	feeRate    decimal.Decimal
	proximityM float64
	log        *slog.Logger

	mu      sync.Mutex
	locks   map[string]*rideLock
	alerted map[string]bool // ride ids whose proximity alert already fired
}

func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	feeRate := cfg.FeeRate
	if feeRate.IsZero() {
		feeRate = decimal.RequireFromString("0.20")
	}
	proximity := cfg.ProximityRadiusM
	if proximity <= 0 {
		proximity = 200
	}
	return &Service{
		store:      cfg.Store,
		archive:    cfg.Archive,
		ledger:     cfg.Ledger,
		fanout:     cfg.Fanout,
		candidates: cfg.Candidates,
		events:     cfg.Events,
		fare:       cfg.Fare,
		feeRate:    feeRate,
		proximityM: proximity,
		log:        log,
		locks:      make(map[string]*rideLock),
		alerted:    make(map[string]bool),
	}
}

type rideLock struct {
	sync.Mutex
	refs int
}

// lockRide acquires the ride's mutex, creating the map entry on first use.
// refs counts holders and waiters so unlockRide can prune the entry the
// moment nobody needs it.
func (s *Service) lockRide(rideID string) *rideLock {
	s.mu.Lock()
	l, ok := s.locks[rideID]
	if !ok {
		l = &rideLock{}
		s.locks[rideID] = l
	}
	l.refs++
	s.mu.Unlock()
	l.Lock()
	return l
}

func (s *Service) unlockRide(rideID string, l *rideLock) {
	l.Unlock()
	s.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, rideID)
	}
	s.mu.Unlock()
}

// PlatformFee is the fee debited from the driver on completion, and the
// amount the acceptance balance guard requires: a percentage of this
// specific ride's fare, not a flat minimum.
func (s *Service) PlatformFee(estimatedFare decimal.Decimal) decimal.Decimal {
	return estimatedFare.Mul(s.feeRate).Round(2)
}

type CreateRequestInput struct {
	RiderID      string
	Pickup       models.Location
	Dropoff      models.Location
	VehicleClass models.VehicleClass
	Passengers   int
}

// CreateRequest validates and stores a new pending request, then broadcasts
// it to eligible online drivers. Returns the request and how many candidate
// drivers were found.
func (s *Service) CreateRequest(in CreateRequestInput) (models.RideRequest, int, error) {
	if in.RiderID == "" {
		return models.RideRequest{}, 0, &ValidationError{Msg: "rider_id is required"}
	}
	if !in.VehicleClass.Valid() {
		return models.RideRequest{}, 0, &ValidationError{Msg: "unknown vehicle class " + string(in.VehicleClass)}
	}
	if in.Passengers < 1 {
		return models.RideRequest{}, 0, &ValidationError{Msg: "passengers must be at least 1"}
	}

	req := models.RideRequest{
		ID:            uuid.NewString(),
		RiderID:       in.RiderID,
		Pickup:        in.Pickup,
		Dropoff:       in.Dropoff,
		VehicleClass:  in.VehicleClass,
		Passengers:    in.Passengers,
		EstimatedFare: s.fare.Estimate(in.Pickup.Coord, in.Dropoff.Coord, in.VehicleClass),
		Status:        models.StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.SaveRequest(req); err != nil {
		return models.RideRequest{}, 0, err
	}
	s.archiveSaveRequest(req)
	observability.RidesCreated.Inc()
	s.publishEvent(req.ID, req.Status, "")

	cands := s.candidates.Candidates(req.Pickup.Coord)
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.Driver.ID)
	}
	delivered := s.fanout.Broadcast(ids, notify.NewRideRequest(&req))
	s.log.Info("ride request created",
		"ride_id", req.ID, "rider_id", req.RiderID,
		"estimated_fare", req.EstimatedFare, "candidates", len(cands), "notified", delivered)
	return req, len(cands), nil
}

// Accept transitions pending → accepted for the first eligible driver.
// Guards, in order: the request is still pending, the driver's balance
// covers the platform fee for this fare, and the driver has no other active
// ride. Notifies the rider only.
func (s *Service) Accept(rideID, driverID string) (models.RideMatch, float64, error) {
	l := s.lockRide(rideID)
	defer s.unlockRide(rideID, l)

	req, ok := s.store.GetRequest(rideID)
	if !ok {
		return models.RideMatch{}, 0, &NotFoundError{Kind: "ride", ID: rideID}
	}
	if req.Status != models.StatusPending {
		observability.AcceptConflicts.Inc()
		return models.RideMatch{}, 0, &RideAlreadyTakenError{RideID: rideID, Status: req.Status}
	}

	fee := s.PlatformFee(req.EstimatedFare)
	if bal := s.ledger.Balance(driverID); bal.LessThan(fee) {
		return models.RideMatch{}, 0, &ledger.InsufficientBalanceError{
			Current:   bal,
			Required:  fee,
			Shortfall: fee.Sub(bal),
		}
	}

	if active, ok := s.store.ActiveMatchForDriver(driverID); ok {
		return models.RideMatch{}, 0, &ActiveRideConflictError{DriverID: driverID, ActiveRideID: active.RideID}
	}

	match := models.RideMatch{
		ID:         uuid.NewString(),
		RideID:     rideID,
		DriverID:   driverID,
		AcceptedAt: time.Now().UTC(),
	}
	req.Status = models.StatusAccepted
	if err := s.store.SaveMatch(match); err != nil {
		return models.RideMatch{}, 0, err
	}
	if err := s.store.UpdateRequest(req); err != nil {
		return models.RideMatch{}, 0, err
	}
	s.archiveSaveMatch(match)
	s.archiveUpdateRequest(req)
	observability.RidesAccepted.Inc()
	s.publishEvent(rideID, req.Status, driverID)

	etaSec := s.candidates.PickupETA(driverID, req.Pickup.Coord)
	s.fanout.ToUser(req.RiderID, notify.NewRideAccepted(rideID, match.ID, driverID, etaSec))
	s.log.Info("ride accepted", "ride_id", rideID, "driver_id", driverID, "eta_seconds", etaSec)
	return match, etaSec, nil
}

// MarkArrived transitions accepted → driver_arriving. Notifies the rider
// only.
func (s *Service) MarkArrived(rideID, driverID string) error {
	l := s.lockRide(rideID)
	defer s.unlockRide(rideID, l)

	req, match, err := s.assignedRide(rideID, driverID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusAccepted {
		return &InvalidTransitionError{RideID: rideID, From: req.Status, Action: "mark arrived"}
	}

	now := time.Now().UTC()
	match.ArrivedAt = &now
	req.Status = models.StatusDriverArriving
	if err := s.commit(req, match); err != nil {
		return err
	}
	s.publishEvent(rideID, req.Status, driverID)
	s.fanout.ToUser(req.RiderID, notify.NewDriverArrived(rideID))
	return nil
}

// Start transitions accepted or driver_arriving → started. The arriving
// step is optional. Notifies the rider only.
func (s *Service) Start(rideID, driverID string) error {
	l := s.lockRide(rideID)
	defer s.unlockRide(rideID, l)

	req, match, err := s.assignedRide(rideID, driverID)
	if err != nil {
		return err
	}
	if req.Status != models.StatusAccepted && req.Status != models.StatusDriverArriving {
		return &InvalidTransitionError{RideID: rideID, From: req.Status, Action: "start"}
	}

	now := time.Now().UTC()
	match.StartedAt = &now
	req.Status = models.StatusStarted
	if err := s.commit(req, match); err != nil {
		return err
	}
	s.publishEvent(rideID, req.Status, driverID)
	s.fanout.ToUser(req.RiderID, notify.NewRideStarted(rideID))
	return nil
}

// Receipt summarizes the money movement of a completed ride.
type Receipt struct {
	PaymentID      string          `json:"payment_id"`
	Amount         decimal.Decimal `json:"amount"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	DriverEarnings decimal.Decimal `json:"driver_earnings"`
	FeeCollected   bool            `json:"fee_collected"`
}

// Complete transitions started → completed and debits the platform fee from
// the driver. A failed fee debit does not block completion: the match is
// flagged for reconciliation and the failure is surfaced through logs and
// metrics.
func (s *Service) Complete(rideID, driverID string) (Receipt, error) {
	l := s.lockRide(rideID)
	defer s.unlockRide(rideID, l)

	req, match, err := s.assignedRide(rideID, driverID)
	if err != nil {
		return Receipt{}, err
	}
	if req.Status != models.StatusStarted {
		return Receipt{}, &InvalidTransitionError{RideID: rideID, From: req.Status, Action: "complete"}
	}

	fee := s.PlatformFee(req.EstimatedFare)
	receipt := Receipt{
		Amount:         req.EstimatedFare,
		PlatformFee:    fee,
		DriverEarnings: req.EstimatedFare.Sub(fee),
	}

	tx, debitErr := s.ledger.Debit(driverID, fee, "Platform fee", ledger.ActorSystem)
	if debitErr != nil {
		observability.FeeCollectionFailures.Inc()
		match.FeeOutstanding = true
		s.log.Error("platform fee debit failed, ride completes with fee outstanding",
			"ride_id", rideID, "driver_id", driverID, "fee", fee, "error", debitErr)
	} else {
		match.PaymentID = tx.ID
		receipt.PaymentID = tx.ID
		receipt.FeeCollected = true
	}

	now := time.Now().UTC()
	match.CompletedAt = &now
	req.Status = models.StatusCompleted
	if err := s.commit(req, match); err != nil {
		return Receipt{}, err
	}
	s.forgetRide(rideID)
	observability.RidesCompleted.Inc()
	s.publishEvent(rideID, req.Status, driverID)
	s.fanout.ToUser(req.RiderID, notify.NewRideCompleted(rideID, req.EstimatedFare))
	s.log.Info("ride completed", "ride_id", rideID, "driver_id", driverID,
		"fare", req.EstimatedFare, "fee", fee, "fee_collected", receipt.FeeCollected)
	return receipt, nil
}

// Cancel terminalizes a ride that has not yet started. Riders may cancel
// their own rides, drivers their assigned ones, admins any. The other party,
// if one is assigned, is notified.
func (s *Service) Cancel(rideID, actorID string, role Role) error {
	l := s.lockRide(rideID)
	defer s.unlockRide(rideID, l)

	req, ok := s.store.GetRequest(rideID)
	if !ok {
		return &NotFoundError{Kind: "ride", ID: rideID}
	}
	if req.Status != models.StatusPending && req.Status != models.StatusAccepted {
		return &InvalidTransitionError{RideID: rideID, From: req.Status, Action: "cancel"}
	}

	match, hasMatch := s.store.MatchByRide(rideID)
	switch role {
	case RoleRider:
		if req.RiderID != actorID {
			return &NotParticipantError{RideID: rideID, UserID: actorID}
		}
	case RoleDriver:
		if !hasMatch || match.DriverID != actorID {
			return &NotParticipantError{RideID: rideID, UserID: actorID}
		}
	case RoleAdmin:
		// admins may cancel any ride
	default:
		return &ValidationError{Msg: "unknown role " + string(role)}
	}

	req.Status = models.StatusCancelled
	if err := s.store.UpdateRequest(req); err != nil {
		return err
	}
	s.archiveUpdateRequest(req)
	s.forgetRide(rideID)
	observability.RidesCancelled.Inc()
	s.publishEvent(rideID, req.Status, "")

	msg := notify.NewRideCanceled(rideID, string(role))
	switch role {
	case RoleRider:
		if hasMatch {
			s.fanout.ToUser(match.DriverID, msg)
		}
	case RoleDriver:
		s.fanout.ToUser(req.RiderID, msg)
	case RoleAdmin:
		s.fanout.ToUser(req.RiderID, msg)
		if hasMatch {
			s.fanout.ToUser(match.DriverID, msg)
		}
	}
	s.log.Info("ride cancelled", "ride_id", rideID, "by", role)
	return nil
}

// Rate attaches the rider's rating to a completed ride. Re-rating
// overwrites: last write wins, and every read path sees the same value
// because there is exactly one match record.
func (s *Service) Rate(rideID, riderID string, rating int, comment string) error {
	l := s.lockRide(rideID)
	defer s.unlockRide(rideID, l)

	req, ok := s.store.GetRequest(rideID)
	if !ok {
		return &NotFoundError{Kind: "ride", ID: rideID}
	}
	if req.RiderID != riderID {
		return &NotParticipantError{RideID: rideID, UserID: riderID}
	}
	if req.Status != models.StatusCompleted {
		return &InvalidTransitionError{RideID: rideID, From: req.Status, Action: "rate"}
	}
	if rating < 1 || rating > 5 {
		return &InvalidRatingError{Rating: rating}
	}

	match, ok := s.store.MatchByRide(rideID)
	if !ok {
		return &NotFoundError{Kind: "match", ID: rideID}
	}
	match.Rating = rating
	match.Comment = comment
	if err := s.store.UpdateMatch(match); err != nil {
		return err
	}
	s.archiveUpdateMatch(match)
	return nil
}

// AdminMessage pushes a free-text notification to the rider, the driver, or
// both for a matched ride. Notification-only: ride state is untouched.
// Returns how many deliveries were attempted.
func (s *Service) AdminMessage(rideID, message string, target Target) (int, error) {
	if message == "" {
		return 0, &ValidationError{Msg: "message is required"}
	}
	req, ok := s.store.GetRequest(rideID)
	if !ok {
		return 0, &NotFoundError{Kind: "ride", ID: rideID}
	}
	match, hasMatch := s.store.MatchByRide(rideID)

	var recipients []string
	switch target {
	case TargetRider:
		recipients = []string{req.RiderID}
	case TargetDriver:
		if !hasMatch {
			return 0, &NotFoundError{Kind: "match", ID: rideID}
		}
		recipients = []string{match.DriverID}
	case TargetBoth:
		recipients = []string{req.RiderID}
		if hasMatch {
			recipients = append(recipients, match.DriverID)
		}
	default:
		return 0, &ValidationError{Msg: "target must be rider, driver or both"}
	}
	return s.fanout.Broadcast(recipients, notify.NewAdminMessage(rideID, message)), nil
}

// HandleDriverLocation fires a one-shot proximity alert to the rider when
// the driver of an active match comes within the configured radius of the
// pickup.
func (s *Service) HandleDriverLocation(d models.Driver) {
	match, ok := s.store.ActiveMatchForDriver(d.ID)
	if !ok {
		return
	}
	req, ok := s.store.GetRequest(match.RideID)
	if !ok || (req.Status != models.StatusAccepted && req.Status != models.StatusDriverArriving) {
		return
	}
	dist := geo.Haversine(d.Loc.Lat, d.Loc.Lon, req.Pickup.Coord.Lat, req.Pickup.Coord.Lon)
	if dist > s.proximityM {
		return
	}

	s.mu.Lock()
	already := s.alerted[match.RideID]
	if !already {
		s.alerted[match.RideID] = true
	}
	s.mu.Unlock()
	if already {
		return
	}
	s.fanout.ToUser(req.RiderID, notify.NewProximityAlert(match.RideID, d.ID, dist))
}

// RideView is the combined request+match record every read path shares.
type RideView struct {
	Request models.RideRequest `json:"request"`
	Match   *models.RideMatch  `json:"match,omitempty"`
}

// RiderHistory returns all rides requested by the rider.
func (s *Service) RiderHistory(riderID string) []RideView {
	reqs := s.store.RequestsByRider(riderID)
	out := make([]RideView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, s.view(r))
	}
	return out
}

// DriverRides returns all rides the driver has been matched to.
func (s *Service) DriverRides(driverID string) []RideView {
	matches := s.store.MatchesByDriver(driverID)
	out := make([]RideView, 0, len(matches))
	for _, m := range matches {
		if r, ok := s.store.GetRequest(m.RideID); ok {
			out = append(out, s.view(r))
		}
	}
	return out
}

// Ride returns the admin view of a single ride.
func (s *Service) Ride(rideID string) (RideView, error) {
	r, ok := s.store.GetRequest(rideID)
	if !ok {
		return RideView{}, &NotFoundError{Kind: "ride", ID: rideID}
	}
	return s.view(r), nil
}

func (s *Service) view(r models.RideRequest) RideView {
	v := RideView{Request: r}
	if m, ok := s.store.MatchByRide(r.ID); ok {
		v.Match = &m
	}
	return v
}

func (s *Service) assignedRide(rideID, driverID string) (models.RideRequest, models.RideMatch, error) {
	req, ok := s.store.GetRequest(rideID)
	if !ok {
		return models.RideRequest{}, models.RideMatch{}, &NotFoundError{Kind: "ride", ID: rideID}
	}
	match, ok := s.store.MatchByRide(rideID)
	if !ok || match.DriverID != driverID {
		return models.RideRequest{}, models.RideMatch{}, &NotParticipantError{RideID: rideID, UserID: driverID}
	}
	return req, match, nil
}

func (s *Service) commit(req models.RideRequest, match models.RideMatch) error {
	if err := s.store.UpdateMatch(match); err != nil {
		return err
	}
	if err := s.store.UpdateRequest(req); err != nil {
		return err
	}
	s.archiveUpdateMatch(match)
	s.archiveUpdateRequest(req)
	return nil
}

// forgetRide clears proximity bookkeeping once the ride is terminal. The
// lock entry itself is pruned by unlockRide when its refcount drains.
func (s *Service) forgetRide(rideID string) {
	s.mu.Lock()
	delete(s.alerted, rideID)
	s.mu.Unlock()
}

func (s *Service) publishEvent(rideID string, status models.Status, driverID string) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishRideEvent(rideID, string(status), driverID); err != nil {
		s.log.Warn("ride event publish failed", "ride_id", rideID, "status", status, "error", err)
	}
}

func (s *Service) archiveSaveRequest(r models.RideRequest) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveRequest(r); err != nil {
		s.log.Error("request archive failed", "ride_id", r.ID, "error", err)
	}
}

func (s *Service) archiveUpdateRequest(r models.RideRequest) {
	if s.archive == nil {
		return
	}
	if err := s.archive.UpdateRequest(r); err != nil {
		s.log.Error("request archive failed", "ride_id", r.ID, "error", err)
	}
}

func (s *Service) archiveSaveMatch(m models.RideMatch) {
	if s.archive == nil {
		return
	}
	if err := s.archive.SaveMatch(m); err != nil {
		s.log.Error("match archive failed", "match_id", m.ID, "error", err)
	}
}

func (s *Service) archiveUpdateMatch(m models.RideMatch) {
	if s.archive == nil {
		return
	}
	if err := s.archive.UpdateMatch(m); err != nil {
		s.log.Error("match archive failed", "match_id", m.ID, "error", err)
	}
}
