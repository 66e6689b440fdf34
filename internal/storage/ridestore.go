package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	// ErrNotFound means no ride exists with the given ID.
	ErrNotFound = errors.New("ride not found")
	// ErrStatusConflict means a conditional update found the ride in a
	// different status than the caller required. The caller's action is
	// void; it should re-fetch the authoritative record.
	ErrStatusConflict = errors.New("ride status conflict")
)

// RideStore is the gateway to ride persistence. UpdateRideIfStatus is the
// single transition primitive: the status precondition and the write are
// one atomic step, which is what arbitrates the accept race and keeps the
// sweeper from clobbering a completion.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)

	// UpdateRideIfStatus applies mutate to the ride only if its current
	// status equals expected, and persists the result. Returns the updated
	// ride, or ErrStatusConflict without touching the record.
	UpdateRideIfStatus(ctx context.Context, id string, expected models.RideStatus, mutate func(*models.Ride) error) (*models.Ride, error)

	ListByStatus(ctx context.Context, status models.RideStatus) ([]*models.Ride, error)
	ListStatusOlderThan(ctx context.Context, status models.RideStatus, cutoff time.Time) ([]*models.Ride, error)

	AppendCheckpoint(ctx context.Context, cp models.Checkpoint) error
	ListCheckpoints(ctx context.Context, rideID string) ([]models.Checkpoint, error)
}

// NewID returns a random 16-hex-char identifier for new rides.
func NewID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
