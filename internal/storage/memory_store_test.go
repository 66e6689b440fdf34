package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func newRide(id string, status models.RideStatus) *models.Ride {
	return &models.Ride{
		ID:         id,
		CustomerID: "cust-1",
		Status:     status,
		Passengers: []models.Passenger{{UserID: "cust-1", Status: models.PassengerWaiting, IsOriginalBooker: true}},
	}
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	r := newRide("", models.StatusSearching)
	if err := s.CreateRide(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.ID == "" {
		t.Fatalf("create must assign an id")
	}

	got, err := s.GetRide(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CustomerID != "cust-1" || got.Status != models.StatusSearching {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set")
	}
}

func TestGetUnknown(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetRide(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdateRideIfStatusApplies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := newRide("r1", models.StatusSearching)
	if err := s.CreateRide(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := s.UpdateRideIfStatus(ctx, "r1", models.StatusSearching, func(ride *models.Ride) error {
		ride.Status = models.StatusStart
		ride.RiderID = "rider-9"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Status != models.StatusStart || updated.RiderID != "rider-9" {
		t.Fatalf("mutation not applied: %+v", updated)
	}

	got, _ := s.GetRide(ctx, "r1")
	if got.Status != models.StatusStart {
		t.Fatalf("mutation not persisted")
	}
}

func TestUpdateRideIfStatusConflict(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateRide(ctx, newRide("r1", models.StatusCompleted)); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := s.UpdateRideIfStatus(ctx, "r1", models.StatusSearching, func(ride *models.Ride) error {
		ride.Status = models.StatusCancelled
		return nil
	})
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("want ErrStatusConflict, got %v", err)
	}

	got, _ := s.GetRide(ctx, "r1")
	if got.Status != models.StatusCompleted {
		t.Fatalf("conflicting update must not touch the record")
	}
}

func TestUpdateRideIfStatusMutateErrorDiscards(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateRide(ctx, newRide("r1", models.StatusSearching)); err != nil {
		t.Fatalf("create: %v", err)
	}

	boom := errors.New("boom")
	_, err := s.UpdateRideIfStatus(ctx, "r1", models.StatusSearching, func(ride *models.Ride) error {
		ride.Status = models.StatusCancelled
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("mutate error must surface, got %v", err)
	}

	got, _ := s.GetRide(ctx, "r1")
	if got.Status != models.StatusSearching {
		t.Fatalf("failed mutation must not persist")
	}
}

func TestCloneIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	r := newRide("r1", models.StatusSearching)
	if err := s.CreateRide(ctx, r); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Mutating what the caller holds must not leak into the store,
	// in either direction.
	r.Status = models.StatusCancelled
	r.Passengers[0].Status = models.PassengerDropped

	got, _ := s.GetRide(ctx, "r1")
	if got.Status != models.StatusSearching || got.Passengers[0].Status != models.PassengerWaiting {
		t.Fatalf("store aliased caller memory: %+v", got)
	}

	got.AddToBlacklist("rider-x")
	again, _ := s.GetRide(ctx, "r1")
	if again.Blacklisted("rider-x") {
		t.Fatalf("read copy aliased stored memory")
	}
}

func TestListByStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, r := range []*models.Ride{
		newRide("a", models.StatusSearching),
		newRide("b", models.StatusSearching),
		newRide("c", models.StatusCompleted),
	} {
		if err := s.CreateRide(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}

	searching, err := s.ListByStatus(ctx, models.StatusSearching)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(searching) != 2 {
		t.Fatalf("want 2 searching, got %d", len(searching))
	}
}

func TestListStatusOlderThan(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.CreateRide(ctx, newRide("old", models.StatusSearching)); err != nil {
		t.Fatalf("create: %v", err)
	}

	none, err := s.ListStatusOlderThan(ctx, models.StatusSearching, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("fresh ride must not match an old cutoff")
	}

	all, err := s.ListStatusOlderThan(ctx, models.StatusSearching, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("want 1, got %d", len(all))
	}
}

func TestCheckpointsAppendOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	cps := []models.Checkpoint{
		{RideID: "r1", Type: models.CheckpointAccepted, Location: models.Coord{Lat: 1}},
		{RideID: "r1", Type: models.CheckpointPickup, Location: models.Coord{Lat: 2}},
		{RideID: "r2", Type: models.CheckpointAccepted},
	}
	for _, cp := range cps {
		if err := s.AppendCheckpoint(ctx, cp); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.ListCheckpoints(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Type != models.CheckpointAccepted || got[1].Type != models.CheckpointPickup {
		t.Fatalf("checkpoints out of order or missing: %+v", got)
	}
}

func TestNewIDShape(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 16 || len(b) != 16 {
		t.Fatalf("ids must be 16 hex chars, got %q %q", a, b)
	}
	if a == b {
		t.Fatalf("ids must not collide trivially")
	}
}
