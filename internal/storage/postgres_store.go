package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore persists rides in Postgres. Structured sub-records
// (passengers, blacklist, timestamps, route logs) live in jsonb columns;
// the columns dispatch and the sweeper query on are first-class.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreWithDB wraps an existing handle, mainly for tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Close() error { return p.db.Close() }

// rideDoc is the jsonb body: everything except the indexed columns.
type rideDoc struct {
	CustomerID             string                `json:"customer_id"`
	RiderID                string                `json:"rider_id,omitempty"`
	VehicleClass           string                `json:"vehicle_class"`
	Pickup                 models.Place          `json:"pickup"`
	Drop                   models.Place          `json:"drop"`
	DistanceKm             float64               `json:"distance_km"`
	FareEstimate           float64               `json:"fare_estimate"`
	OTP                    string                `json:"otp"`
	CancelledBy            string                `json:"cancelled_by,omitempty"`
	CancelledAt            *time.Time            `json:"cancelled_at,omitempty"`
	BlacklistedRiderIDs    []string              `json:"blacklisted_rider_ids,omitempty"`
	Passengers             []models.Passenger    `json:"passengers"`
	MaxPassengers          int                   `json:"max_passengers"`
	CurrentPassengerCount  int                   `json:"current_passenger_count"`
	AcceptingNewPassengers bool                  `json:"accepting_new_passengers"`
	Timestamps             models.TripTimestamps `json:"trip_timestamps"`
	FinalDistanceKm        *float64              `json:"final_distance_km,omitempty"`
	EarlyStop              *models.EarlyStop     `json:"early_stop,omitempty"`
	RouteLogs              models.RouteLogs      `json:"route_logs"`
	RiderLocation          *models.Coord         `json:"rider_location,omitempty"`
}

func docFromRide(r *models.Ride) rideDoc {
	return rideDoc{
		CustomerID:             r.CustomerID,
		RiderID:                r.RiderID,
		VehicleClass:           r.VehicleClass,
		Pickup:                 r.Pickup,
		Drop:                   r.Drop,
		DistanceKm:             r.DistanceKm,
		FareEstimate:           r.FareEstimate,
		OTP:                    r.OTP,
		CancelledBy:            r.CancelledBy,
		CancelledAt:            r.CancelledAt,
		BlacklistedRiderIDs:    r.BlacklistedRiderIDs,
		Passengers:             r.Passengers,
		MaxPassengers:          r.MaxPassengers,
		CurrentPassengerCount:  r.CurrentPassengerCount,
		AcceptingNewPassengers: r.AcceptingNewPassengers,
		Timestamps:             r.Timestamps,
		FinalDistanceKm:        r.FinalDistanceKm,
		EarlyStop:              r.EarlyStop,
		RouteLogs:              r.RouteLogs,
		RiderLocation:          r.RiderLocation,
	}
}

func (d rideDoc) toRide(id string, status models.RideStatus, createdAt, updatedAt time.Time) *models.Ride {
	return &models.Ride{
		ID:                     id,
		CustomerID:             d.CustomerID,
		RiderID:                d.RiderID,
		VehicleClass:           d.VehicleClass,
		Pickup:                 d.Pickup,
		Drop:                   d.Drop,
		DistanceKm:             d.DistanceKm,
		FareEstimate:           d.FareEstimate,
		OTP:                    d.OTP,
		Status:                 status,
		CancelledBy:            d.CancelledBy,
		CancelledAt:            d.CancelledAt,
		BlacklistedRiderIDs:    d.BlacklistedRiderIDs,
		Passengers:             d.Passengers,
		MaxPassengers:          d.MaxPassengers,
		CurrentPassengerCount:  d.CurrentPassengerCount,
		AcceptingNewPassengers: d.AcceptingNewPassengers,
		Timestamps:             d.Timestamps,
		FinalDistanceKm:        d.FinalDistanceKm,
		EarlyStop:              d.EarlyStop,
		RouteLogs:              d.RouteLogs,
		RiderLocation:          d.RiderLocation,
		CreatedAt:              createdAt,
		UpdatedAt:              updatedAt,
	}
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	body, err := json.Marshal(docFromRide(r))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO rides(id, status, doc, created_at, updated_at) VALUES($1,$2,$3,$4,$5)`,
		r.ID, string(r.Status), body, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT status, doc, created_at, updated_at FROM rides WHERE id=$1`, id)
	return scanRide(row, id)
}

// UpdateRideIfStatus runs the read-mutate-write cycle inside a transaction
// with a row lock, and the final UPDATE still carries the status
// precondition. Two concurrent accepts serialize on the row lock; the loser
// sees the changed status and gets ErrStatusConflict.
func (p *PostgresStore) UpdateRideIfStatus(ctx context.Context, id string, expected models.RideStatus, mutate func(*models.Ride) error) (*models.Ride, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT status, doc, created_at, updated_at FROM rides WHERE id=$1 FOR UPDATE`, id)
	ride, err := scanRide(row, id)
	if err != nil {
		return nil, err
	}
	if ride.Status != expected {
		return nil, ErrStatusConflict
	}
	if err := mutate(ride); err != nil {
		return nil, err
	}
	ride.UpdatedAt = time.Now()
	body, err := json.Marshal(docFromRide(ride))
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE rides SET status=$1, doc=$2, updated_at=$3 WHERE id=$4 AND status=$5`,
		string(ride.Status), body, ride.UpdatedAt, id, string(expected))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrStatusConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ride, nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.RideStatus) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, status, doc, created_at, updated_at FROM rides WHERE status=$1`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (p *PostgresStore) ListStatusOlderThan(ctx context.Context, status models.RideStatus, cutoff time.Time) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, status, doc, created_at, updated_at FROM rides WHERE status=$1 AND updated_at < $2`,
		string(status), cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRides(rows)
}

func (p *PostgresStore) AppendCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO checkpoints(ride_id, type, lat, lon, recorded_at, distance_from_prev_km) VALUES($1,$2,$3,$4,$5,$6)`,
		cp.RideID, string(cp.Type), cp.Location.Lat, cp.Location.Lon, cp.RecordedAt, cp.DistanceFromPrevKm)
	return err
}

func (p *PostgresStore) ListCheckpoints(ctx context.Context, rideID string) ([]models.Checkpoint, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT type, lat, lon, recorded_at, distance_from_prev_km FROM checkpoints WHERE ride_id=$1 ORDER BY recorded_at`, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Checkpoint
	for rows.Next() {
		cp := models.Checkpoint{RideID: rideID}
		var typ string
		if err := rows.Scan(&typ, &cp.Location.Lat, &cp.Location.Lon, &cp.RecordedAt, &cp.DistanceFromPrevKm); err != nil {
			return nil, err
		}
		cp.Type = models.CheckpointType(typ)
		out = append(out, cp)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner, id string) (*models.Ride, error) {
	var (
		status    string
		body      []byte
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&status, &body, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc rideDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode ride %s: %w", id, err)
	}
	return doc.toRide(id, models.RideStatus(status), createdAt, updatedAt), nil
}

func collectRides(rows *sql.Rows) ([]*models.Ride, error) {
	var out []*models.Ride
	for rows.Next() {
		var (
			id        string
			status    string
			body      []byte
			createdAt time.Time
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &status, &body, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		var doc rideDoc
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("decode ride %s: %w", id, err)
		}
		out = append(out, doc.toRide(id, models.RideStatus(status), createdAt, updatedAt))
	}
	return out, rows.Err()
}
