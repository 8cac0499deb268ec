package ride

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type recordConn struct {
	mu   sync.Mutex
	msgs []any
}

func (c *recordConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, v)
	return nil
}

func (c *recordConn) Close() error { return nil }

func (c *recordConn) ofType(kind notify.Type) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, m := range c.msgs {
		if msg, ok := m.(notify.Message); ok && msg.Kind() == kind {
			out = append(out, m)
		}
	}
	return out
}

type stubFare struct{ v decimal.Decimal }

func (s stubFare) Estimate(_, _ models.Coord, _ models.VehicleClass) decimal.Decimal { return s.v }

type stubCandidates struct {
	cands []matcher.Candidate
	eta   float64
}

func (s *stubCandidates) Candidates(models.Coord) []matcher.Candidate { return s.cands }
func (s *stubCandidates) PickupETA(string, models.Coord) float64      { return s.eta }

type fixture struct {
	svc   *Service
	led   *ledger.Ledger
	reg   *registry.Registry
	store *storage.MemoryStore
	conns map[string]*recordConn
}

func newFixture(t *testing.T, fareAmount string, cands *stubCandidates) *fixture {
	t.Helper()
	reg := registry.New(nil)
	fanout := notify.NewFanout(reg, nil)
	led := ledger.New(ledger.WithNotifier(fanout))
	store := storage.NewMemoryStore()
	svc := NewService(Config{
		Store:      store,
		Ledger:     led,
		Fanout:     fanout,
		Candidates: cands,
		Fare:       stubFare{v: dec(fareAmount)},
		FeeRate:    dec("0.20"),
	})
	return &fixture{svc: svc, led: led, reg: reg, store: store, conns: map[string]*recordConn{}}
}

func (f *fixture) connect(userID string) *recordConn {
	c := &recordConn{}
	f.conns[userID] = c
	f.reg.Register(userID, c)
	return c
}

func (f *fixture) createRide(t *testing.T, riderID string) models.RideRequest {
	t.Helper()
	req, _, err := f.svc.CreateRequest(CreateRequestInput{
		RiderID:      riderID,
		Pickup:       models.Location{Coord: models.Coord{Lat: 1, Lon: 1}, Label: "A"},
		Dropoff:      models.Location{Coord: models.Coord{Lat: 2, Lon: 2}, Label: "B"},
		VehicleClass: models.VehicleEconomy,
		Passengers:   1,
	})
	require.NoError(t, err)
	return req
}

// The full fare-20.00 scenario: 20% of 20.00 is 4.00, so a balance of 5.00
// clears the guard, 3.00 falls short by exactly 1.00, and 4.00 sits right on
// the boundary and must succeed; completing then drains the balance to zero
// with a single debit of 4.00.
func TestAcceptBalanceGuardAndCompletion(t *testing.T) {
	f := newFixture(t, "20.00", &stubCandidates{})

	ride1 := f.createRide(t, "rider-1")
	_, err := f.led.Credit("driver-1", dec("5.00"), "top up", "admin-1")
	require.NoError(t, err)
	_, _, err = f.svc.Accept(ride1.ID, "driver-1")
	assert.NoError(t, err, "5.00 covers the 4.00 fee")

	ride2 := f.createRide(t, "rider-2")
	_, err = f.led.Credit("driver-2", dec("3.00"), "top up", "admin-1")
	require.NoError(t, err)
	_, _, err = f.svc.Accept(ride2.ID, "driver-2")
	var ib *ledger.InsufficientBalanceError
	require.ErrorAs(t, err, &ib)
	assert.True(t, ib.Required.Equal(dec("4.00")))
	assert.True(t, ib.Current.Equal(dec("3.00")))
	assert.True(t, ib.Shortfall.Equal(dec("1.00")))

	// Raise to exactly the required fee: the boundary must succeed.
	_, err = f.led.Credit("driver-2", dec("1.00"), "top up", "admin-1")
	require.NoError(t, err)
	_, _, err = f.svc.Accept(ride2.ID, "driver-2")
	require.NoError(t, err)

	require.NoError(t, f.svc.Start(ride2.ID, "driver-2"))
	receipt, err := f.svc.Complete(ride2.ID, "driver-2")
	require.NoError(t, err)

	assert.True(t, receipt.PlatformFee.Equal(dec("4.00")))
	assert.True(t, receipt.Amount.Equal(dec("20.00")))
	assert.True(t, receipt.DriverEarnings.Equal(dec("16.00")))
	assert.True(t, receipt.FeeCollected)
	assert.NotEmpty(t, receipt.PaymentID)

	bal, txs := f.led.BalanceOf("driver-2", 10)
	assert.True(t, bal.IsZero())
	debits := 0
	for _, tx := range txs {
		if tx.Type == ledger.TxDebit {
			debits++
			assert.True(t, tx.Amount.Equal(dec("4.00")))
			assert.Equal(t, "Platform fee", tx.Description)
			assert.Equal(t, ledger.ActorSystem, tx.Actor)
		}
	}
	assert.Equal(t, 1, debits)
}

func TestConcurrentAcceptExactlyOneWins(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	ride := f.createRide(t, "rider-1")
	for _, d := range []string{"driver-1", "driver-2"} {
		_, err := f.led.Credit(d, dec("100.00"), "top up", "admin-1")
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, d := range []string{"driver-1", "driver-2"} {
		wg.Add(1)
		go func(i int, d string) {
			defer wg.Done()
			_, _, errs[i] = f.svc.Accept(ride.ID, d)
		}(i, d)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			lost++
			var taken *RideAlreadyTakenError
			assert.ErrorAs(t, err, &taken)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
}

func TestActiveRideConflict(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)

	ride1 := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride1.ID, "driver-1")
	require.NoError(t, err)

	ride2 := f.createRide(t, "rider-2")
	_, _, err = f.svc.Accept(ride2.ID, "driver-1")
	var conflict *ActiveRideConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, ride1.ID, conflict.ActiveRideID)

	// Finishing the first ride clears the conflict.
	require.NoError(t, f.svc.Start(ride1.ID, "driver-1"))
	_, err = f.svc.Complete(ride1.ID, "driver-1")
	require.NoError(t, err)
	_, _, err = f.svc.Accept(ride2.ID, "driver-1")
	assert.NoError(t, err)
}

func TestAcceptAfterCancelRejected(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	ride := f.createRide(t, "rider-1")
	require.NoError(t, f.svc.Cancel(ride.ID, "rider-1", RoleRider))

	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)
	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	var taken *RideAlreadyTakenError
	assert.ErrorAs(t, err, &taken)
}

func TestOptionalArrivingStep(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)

	// With the arriving step.
	ride := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkArrived(ride.ID, "driver-1"))
	require.NoError(t, f.svc.Start(ride.ID, "driver-1"))
	_, err = f.svc.Complete(ride.ID, "driver-1")
	require.NoError(t, err)

	// Skipping it.
	ride2 := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride2.ID, "driver-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Start(ride2.ID, "driver-1"))

	// Arriving after start is invalid.
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, f.svc.MarkArrived(ride2.ID, "driver-1"), &invalid)
}

func TestCancelRules(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)

	// A stranger cannot cancel.
	ride := f.createRide(t, "rider-1")
	var notParty *NotParticipantError
	assert.ErrorAs(t, f.svc.Cancel(ride.ID, "rider-2", RoleRider), &notParty)

	// Driver cancel notifies the rider.
	riderConn := f.connect("rider-1")
	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Cancel(ride.ID, "driver-1", RoleDriver))
	require.Len(t, riderConn.ofType(notify.TypeRideCanceled), 1)

	// Started rides cannot be cancelled.
	ride2 := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride2.ID, "driver-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Start(ride2.ID, "driver-1"))
	var invalid *InvalidTransitionError
	assert.ErrorAs(t, f.svc.Cancel(ride2.ID, "rider-1", RoleRider), &invalid)
	assert.ErrorAs(t, f.svc.Cancel(ride2.ID, "admin-1", RoleAdmin), &invalid)
}

func TestRiderCancelNotifiesDriverOnly(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)
	ride := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)

	riderConn := f.connect("rider-1")
	driverConn := f.connect("driver-1")
	require.NoError(t, f.svc.Cancel(ride.ID, "rider-1", RoleRider))

	assert.Len(t, driverConn.ofType(notify.TypeRideCanceled), 1)
	assert.Empty(t, riderConn.ofType(notify.TypeRideCanceled))
}

// Lifecycle events scoped to the rider must never reach the driver's
// connection even when both are connected.
func TestRoleIsolationAcrossLifecycle(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)
	ride := f.createRide(t, "rider-1")

	riderConn := f.connect("rider-1")
	driverConn := f.connect("driver-1")

	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.MarkArrived(ride.ID, "driver-1"))
	require.NoError(t, f.svc.Start(ride.ID, "driver-1"))
	_, err = f.svc.Complete(ride.ID, "driver-1")
	require.NoError(t, err)

	for _, kind := range []notify.Type{
		notify.TypeRideAccepted, notify.TypeDriverArrived,
		notify.TypeRideStarted, notify.TypeRideCompleted,
	} {
		assert.Len(t, riderConn.ofType(kind), 1, "rider should see %s", kind)
		assert.Empty(t, driverConn.ofType(kind), "driver must not see %s", kind)
	}
	// The driver sees only its own balance movement (the fee debit).
	assert.Len(t, driverConn.ofType(notify.TypeBalanceTransaction), 1)
	assert.Empty(t, riderConn.ofType(notify.TypeBalanceTransaction))
}

func TestCandidateBroadcastReachesOnlyCandidates(t *testing.T) {
	cands := &stubCandidates{cands: []matcher.Candidate{
		{Driver: models.Driver{ID: "driver-1"}},
		{Driver: models.Driver{ID: "driver-2"}},
	}}
	f := newFixture(t, "10.00", cands)

	d1 := f.connect("driver-1")
	d2 := f.connect("driver-2")
	bystander := f.connect("driver-3")

	_, found, err := f.svc.CreateRequest(CreateRequestInput{
		RiderID:      "rider-1",
		Pickup:       models.Location{Label: "A"},
		Dropoff:      models.Location{Label: "B"},
		VehicleClass: models.VehicleComfort,
		Passengers:   2,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, found)
	assert.Len(t, d1.ofType(notify.TypeRideRequest), 1)
	assert.Len(t, d2.ofType(notify.TypeRideRequest), 1)
	assert.Empty(t, bystander.ofType(notify.TypeRideRequest))
}

// A failed fee debit at completion must not block the completion itself.
func TestCompletionSurvivesFeeDebitFailure(t *testing.T) {
	f := newFixture(t, "20.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("4.00"), "top up", "admin-1")
	require.NoError(t, err)
	ride := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Start(ride.ID, "driver-1"))

	// Balance drains between acceptance and completion.
	_, err = f.led.Debit("driver-1", dec("4.00"), "penalty", "admin-1")
	require.NoError(t, err)

	riderConn := f.connect("rider-1")
	receipt, err := f.svc.Complete(ride.ID, "driver-1")
	require.NoError(t, err)
	assert.False(t, receipt.FeeCollected)
	assert.Empty(t, receipt.PaymentID)

	view, err := f.svc.Ride(ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, view.Request.Status)
	require.NotNil(t, view.Match)
	assert.True(t, view.Match.FeeOutstanding)

	// The rider is still told the ride completed.
	assert.Len(t, riderConn.ofType(notify.TypeRideCompleted), 1)
	// And no debit row was created for the failed fee.
	bal, _ := f.led.BalanceOf("driver-1", 10)
	assert.True(t, bal.IsZero())
}

// Re-rating overwrites, and every read path returns the same value.
func TestRatingLastWriteWinsAcrossAllViews(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)
	ride := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Start(ride.ID, "driver-1"))
	_, err = f.svc.Complete(ride.ID, "driver-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.Rate(ride.ID, "rider-1", 5, "x"))
	require.NoError(t, f.svc.Rate(ride.ID, "rider-1", 2, "y"))

	check := func(m *models.RideMatch) {
		require.NotNil(t, m)
		assert.Equal(t, 2, m.Rating)
		assert.Equal(t, "y", m.Comment)
	}
	riderViews := f.svc.RiderHistory("rider-1")
	require.Len(t, riderViews, 1)
	check(riderViews[0].Match)

	driverViews := f.svc.DriverRides("driver-1")
	require.Len(t, driverViews, 1)
	check(driverViews[0].Match)

	adminView, err := f.svc.Ride(ride.ID)
	require.NoError(t, err)
	check(adminView.Match)

	journal := NewJournal(f.store)
	rating, comment, ok := journal.ForRide(ride.ID)
	require.True(t, ok)
	assert.Equal(t, 2, rating)
	assert.Equal(t, "y", comment)
	assert.Equal(t, map[int]int{1: 0, 2: 1, 3: 0, 4: 0, 5: 0}, journal.Distribution())
}

func TestRateGuards(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)
	ride := f.createRide(t, "rider-1")

	var invalid *InvalidTransitionError
	assert.ErrorAs(t, f.svc.Rate(ride.ID, "rider-1", 5, ""), &invalid, "cannot rate a pending ride")

	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Start(ride.ID, "driver-1"))
	_, err = f.svc.Complete(ride.ID, "driver-1")
	require.NoError(t, err)

	var notParty *NotParticipantError
	assert.ErrorAs(t, f.svc.Rate(ride.ID, "someone-else", 5, ""), &notParty)

	var badRating *InvalidRatingError
	assert.ErrorAs(t, f.svc.Rate(ride.ID, "rider-1", 0, ""), &badRating)
	assert.ErrorAs(t, f.svc.Rate(ride.ID, "rider-1", 6, ""), &badRating)
}

func TestAdminMessageTargets(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)
	ride := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)

	riderConn := f.connect("rider-1")
	driverConn := f.connect("driver-1")

	n, err := f.svc.AdminMessage(ride.ID, "pickup moved", TargetRider)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.AdminMessage(ride.ID, "pickup moved", TargetDriver)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = f.svc.AdminMessage(ride.ID, "pickup moved", TargetBoth)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Len(t, riderConn.ofType(notify.TypeAdminMessage), 2)
	assert.Len(t, driverConn.ofType(notify.TypeAdminMessage), 2)

	_, err = f.svc.AdminMessage(ride.ID, "pickup moved", Target("everyone"))
	var bad *ValidationError
	assert.ErrorAs(t, err, &bad)
}

func TestProximityAlertFiresOnce(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)
	ride := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride.ID, "driver-1")
	require.NoError(t, err)

	riderConn := f.connect("rider-1")

	// Far away: no alert.
	f.svc.HandleDriverLocation(models.Driver{ID: "driver-1", Loc: models.Coord{Lat: 5, Lon: 5}, Online: true})
	assert.Empty(t, riderConn.ofType(notify.TypeProximityAlert))

	// At the pickup: alert fires, but only once.
	at := models.Driver{ID: "driver-1", Loc: models.Coord{Lat: 1, Lon: 1}, Online: true}
	f.svc.HandleDriverLocation(at)
	f.svc.HandleDriverLocation(at)
	assert.Len(t, riderConn.ofType(notify.TypeProximityAlert), 1)
}

// Terminal rides must leave no per-ride bookkeeping behind: both the lock
// entry and the proximity one-shot are dropped.
func TestTerminalRidesLeaveNoLockState(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, err := f.led.Credit("driver-1", dec("100.00"), "top up", "admin-1")
	require.NoError(t, err)

	ride1 := f.createRide(t, "rider-1")
	_, _, err = f.svc.Accept(ride1.ID, "driver-1")
	require.NoError(t, err)
	f.svc.HandleDriverLocation(models.Driver{ID: "driver-1", Loc: models.Coord{Lat: 1, Lon: 1}, Online: true})
	require.NoError(t, f.svc.Start(ride1.ID, "driver-1"))
	_, err = f.svc.Complete(ride1.ID, "driver-1")
	require.NoError(t, err)

	ride2 := f.createRide(t, "rider-2")
	require.NoError(t, f.svc.Cancel(ride2.ID, "rider-2", RoleRider))

	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	assert.Empty(t, f.svc.locks)
	assert.Empty(t, f.svc.alerted)
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	var bad *ValidationError

	_, _, err := f.svc.CreateRequest(CreateRequestInput{VehicleClass: models.VehicleEconomy, Passengers: 1})
	assert.ErrorAs(t, err, &bad)

	_, _, err = f.svc.CreateRequest(CreateRequestInput{RiderID: "r", VehicleClass: "boat", Passengers: 1})
	assert.ErrorAs(t, err, &bad)

	_, _, err = f.svc.CreateRequest(CreateRequestInput{RiderID: "r", VehicleClass: models.VehicleEconomy})
	assert.ErrorAs(t, err, &bad)
}

func TestAcceptUnknownRide(t *testing.T) {
	f := newFixture(t, "10.00", &stubCandidates{})
	_, _, err := f.svc.Accept("nope", "driver-1")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}
