package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/ledger"
	"github.com/example/ride-dispatch/internal/models"
)

// Archiver durably mirrors lifecycle state and ledger transactions. The
// in-memory store stays authoritative; archive errors are logged by callers
// and never fail a transition.
type Archiver interface {
	SaveRequest(r models.RideRequest) error
	UpdateRequest(r models.RideRequest) error
	SaveMatch(m models.RideMatch) error
	UpdateMatch(m models.RideMatch) error
	SaveTransaction(tx ledger.Transaction) error
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveRequest(r models.RideRequest) error {
	_, err := p.db.Exec(`INSERT INTO ride_requests(id, rider_id, pickup_lat, pickup_lon, pickup_label, dropoff_lat, dropoff_lon, dropoff_label, vehicle_class, passengers, estimated_fare, status, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		r.ID, r.RiderID, r.Pickup.Coord.Lat, r.Pickup.Coord.Lon, r.Pickup.Label,
		r.Dropoff.Coord.Lat, r.Dropoff.Coord.Lon, r.Dropoff.Label,
		string(r.VehicleClass), r.Passengers, r.EstimatedFare, string(r.Status), r.CreatedAt)
	return err
}

func (p *PostgresStore) UpdateRequest(r models.RideRequest) error {
	_, err := p.db.Exec(`UPDATE ride_requests SET status=$1, updated_at=$2 WHERE id=$3`,
		string(r.Status), time.Now(), r.ID)
	return err
}

func (p *PostgresStore) SaveMatch(m models.RideMatch) error {
	_, err := p.db.Exec(`INSERT INTO ride_matches(id, ride_id, driver_id, accepted_at)
		VALUES($1,$2,$3,$4)`,
		m.ID, m.RideID, m.DriverID, m.AcceptedAt)
	return err
}

func (p *PostgresStore) UpdateMatch(m models.RideMatch) error {
	_, err := p.db.Exec(`UPDATE ride_matches SET arrived_at=$1, started_at=$2, completed_at=$3, rating=$4, comment=$5, payment_id=$6, fee_outstanding=$7 WHERE id=$8`,
		m.ArrivedAt, m.StartedAt, m.CompletedAt, nullableInt(m.Rating), m.Comment, m.PaymentID, m.FeeOutstanding, m.ID)
	return err
}

func (p *PostgresStore) SaveTransaction(tx ledger.Transaction) error {
	_, err := p.db.Exec(`INSERT INTO transactions(id, user_id, type, amount, description, previous_balance, new_balance, actor, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		tx.ID, tx.UserID, string(tx.Type), tx.Amount, tx.Description,
		tx.PreviousBalance, tx.NewBalance, tx.Actor, tx.CreatedAt)
	return err
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
