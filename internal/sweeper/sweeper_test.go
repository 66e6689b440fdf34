package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
)

type noopNotify struct {
	mu        sync.Mutex
	cancelled int
}

func (n *noopNotify) RideAccepted(*models.Ride) {}
func (n *noopNotify) RideCancelled(*models.Ride) {
	n.mu.Lock()
	n.cancelled++
	n.mu.Unlock()
}
func (n *noopNotify) RideUpdated(*models.Ride)                 {}
func (n *noopNotify) PassengerUpdated(*models.Ride)            {}
func (n *noopNotify) JoinRequested(*models.Ride, string)       {}
func (n *noopNotify) JoinResolved(*models.Ride, string, bool)  {}
func (n *noopNotify) OfferWithdrawnFor(riderID, rideID string) {}

type noopPresence struct{}

func (noopPresence) Get(string) (presence.Entry, bool) { return presence.Entry{}, false }

func newRig() (*Sweeper, *storage.MemoryStore, *noopNotify) {
	store := storage.NewMemoryStore()
	notify := &noopNotify{}
	rides := lifecycle.NewController(store, noopPresence{}, nil, notify, lifecycle.Config{}, nil)
	s := New(store, rides, Config{}, nil)
	// Pretend the sweep runs two hours from now so freshly created rides
	// read as older than the default thresholds allow.
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	return s, store, notify
}

func seed(t *testing.T, store *storage.MemoryStore, id string, status models.RideStatus) {
	t.Helper()
	err := store.CreateRide(context.Background(), &models.Ride{
		ID:         id,
		CustomerID: "cust-1",
		Status:     status,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestSweepAbandonedSearch(t *testing.T) {
	s, store, notify := newRig()
	ctx := context.Background()
	seed(t, store, "stale", models.StatusSearching)

	s.SweepOnce(ctx)

	got, _ := store.GetRide(ctx, "stale")
	if got.Status != models.StatusCancelled {
		t.Fatalf("stale search must be cancelled, got %s", got.Status)
	}
	if got.CancelledAt == nil || got.Timestamps.EndTime == nil {
		t.Fatalf("cancellation bookkeeping missing: %+v", got)
	}
	if got.CancelledBy != "" {
		t.Fatalf("system cancel must stay unattributed, got %q", got.CancelledBy)
	}
	if notify.cancelled != 1 {
		t.Fatalf("cancellation must be announced once, got %d", notify.cancelled)
	}
}

func TestSweepLeavesFreshRidesAlone(t *testing.T) {
	s, store, _ := newRig()
	// With the default thresholds a two-hour skew only crosses the
	// one-hour searching cutoff, never the 24h ones.
	ctx := context.Background()
	seed(t, store, "fresh-start", models.StatusStart)
	seed(t, store, "fresh-arrived", models.StatusArrived)
	seed(t, store, "fresh-timeout", models.StatusTimeout)

	s.SweepOnce(ctx)

	for id, want := range map[string]models.RideStatus{
		"fresh-start":   models.StatusStart,
		"fresh-arrived": models.StatusArrived,
		"fresh-timeout": models.StatusTimeout,
	} {
		got, _ := store.GetRide(ctx, id)
		if got.Status != want {
			t.Errorf("%s: want %s, got %s", id, want, got.Status)
		}
	}
}

func TestSweepStuckActiveRides(t *testing.T) {
	s, store, _ := newRig()
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	ctx := context.Background()
	seed(t, store, "stuck-start", models.StatusStart)
	seed(t, store, "stuck-arrived", models.StatusArrived)
	seed(t, store, "old-timeout", models.StatusTimeout)
	seed(t, store, "done", models.StatusCompleted)

	s.SweepOnce(ctx)

	for _, id := range []string{"stuck-start", "stuck-arrived", "old-timeout"} {
		got, _ := store.GetRide(ctx, id)
		if got.Status != models.StatusCancelled {
			t.Errorf("%s: want CANCELLED, got %s", id, got.Status)
		}
	}
	got, _ := store.GetRide(ctx, "done")
	if got.Status != models.StatusCompleted {
		t.Fatalf("completed rides are never swept, got %s", got.Status)
	}
}

func TestSweepIdempotent(t *testing.T) {
	s, store, notify := newRig()
	ctx := context.Background()
	seed(t, store, "stale", models.StatusSearching)

	s.SweepOnce(ctx)
	s.SweepOnce(ctx)

	got, _ := store.GetRide(ctx, "stale")
	if got.Status != models.StatusCancelled {
		t.Fatalf("want CANCELLED, got %s", got.Status)
	}
	if notify.cancelled != 1 {
		t.Fatalf("second sweep must be a no-op, announced %d times", notify.cancelled)
	}
}

type flakyCanceller struct {
	inner  Canceller
	failID string
	mu     sync.Mutex
	tried  []string
}

func (f *flakyCanceller) SystemCancel(ctx context.Context, rideID string, expected models.RideStatus) (*models.Ride, error) {
	f.mu.Lock()
	f.tried = append(f.tried, rideID)
	f.mu.Unlock()
	if rideID == f.failID {
		return nil, context.DeadlineExceeded
	}
	return f.inner.SystemCancel(ctx, rideID, expected)
}

func TestSweepIsolatesPerRideFailures(t *testing.T) {
	s, store, _ := newRig()
	ctx := context.Background()
	seed(t, store, "bad", models.StatusSearching)
	seed(t, store, "good", models.StatusSearching)

	real := s.Rides
	s.Rides = &flakyCanceller{inner: real, failID: "bad"}

	s.SweepOnce(ctx)

	good, _ := store.GetRide(ctx, "good")
	if good.Status != models.StatusCancelled {
		t.Fatalf("one failing ride must not abort the sweep, got %s", good.Status)
	}
	bad, _ := store.GetRide(ctx, "bad")
	if bad.Status != models.StatusSearching {
		t.Fatalf("failed cancel must leave the ride as-is, got %s", bad.Status)
	}
}
