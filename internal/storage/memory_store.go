package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps rides in a process-local map. It backs tests and
// DSN-less local runs. All reads and writes go through deep copies so no
// caller ever aliases stored state.
type MemoryStore struct {
	mu          sync.RWMutex
	rides       map[string]*models.Ride
	checkpoints map[string][]models.Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:       make(map[string]*models.Ride),
		checkpoints: make(map[string][]models.Checkpoint),
	}
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = NewID()
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	m.rides[r.ID] = r.Clone()
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *MemoryStore) UpdateRideIfStatus(ctx context.Context, id string, expected models.RideStatus, mutate func(*models.Ride) error) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if stored.Status != expected {
		return nil, ErrStatusConflict
	}
	next := stored.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now()
	m.rides[id] = next
	return next.Clone(), nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status models.RideStatus) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == status {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) ListStatusOlderThan(ctx context.Context, status models.RideStatus, cutoff time.Time) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Ride
	for _, r := range m.rides {
		if r.Status == status && r.UpdatedAt.Before(cutoff) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendCheckpoint(ctx context.Context, cp models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.RideID] = append(m.checkpoints[cp.RideID], cp)
	return nil
}

func (m *MemoryStore) ListCheckpoints(ctx context.Context, rideID string) ([]models.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Checkpoint(nil), m.checkpoints[rideID]...), nil
}
