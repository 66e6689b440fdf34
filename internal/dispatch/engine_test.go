package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	pickup = models.Place{Lat: 14.5995, Lon: 120.9842}
	drop   = models.Place{Lat: 14.6760, Lon: 121.0437}
)

type fakePresence struct {
	mu      sync.Mutex
	entries []presence.Entry
}

func (f *fakePresence) ListOnDuty() []presence.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]presence.Entry(nil), f.entries...)
}

func (f *fakePresence) add(riderID, class string, loc models.Coord) {
	f.mu.Lock()
	f.entries = append(f.entries, presence.Entry{RiderID: riderID, VehicleClass: class, Loc: loc})
	f.mu.Unlock()
}

type fakeNotify struct {
	mu        sync.Mutex
	offers    map[string]int // riderID -> count
	withdrawn []string
	timedOut  []string
}

func newFakeNotify() *fakeNotify { return &fakeNotify{offers: make(map[string]int)} }

func (f *fakeNotify) OfferToRider(riderID string, _ *models.Ride) {
	f.mu.Lock()
	f.offers[riderID]++
	f.mu.Unlock()
}
func (f *fakeNotify) WithdrawFromAll(rideID string) {
	f.mu.Lock()
	f.withdrawn = append(f.withdrawn, rideID)
	f.mu.Unlock()
}
func (f *fakeNotify) RideTimedOut(ride *models.Ride) {
	f.mu.Lock()
	f.timedOut = append(f.timedOut, ride.ID)
	f.mu.Unlock()
}

func (f *fakeNotify) offerCount(riderID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offers[riderID]
}

func (f *fakeNotify) timeoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.timedOut)
}

type fakeTimeouter struct {
	store *storage.MemoryStore
	mu    sync.Mutex
	calls int
}

func (f *fakeTimeouter) MarkTimedOut(ctx context.Context, rideID string) (*models.Ride, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.store.UpdateRideIfStatus(ctx, rideID, models.StatusSearching, func(r *models.Ride) error {
		r.Status = models.StatusTimeout
		return nil
	})
}

func seedRide(t *testing.T, store *storage.MemoryStore, status models.RideStatus) *models.Ride {
	t.Helper()
	ride := &models.Ride{
		ID:           "ride-1",
		CustomerID:   "cust-1",
		VehicleClass: "Tricycle",
		Pickup:       pickup,
		Drop:         drop,
		Status:       status,
	}
	if err := store.CreateRide(context.Background(), ride); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return ride
}

func TestEligibleRidersFilters(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &fakePresence{}
	e := NewEngine(store, p, newFakeNotify(), Config{MatchRadiusKm: 5}, nil)

	ride := seedRide(t, store, models.StatusSearching)
	ride.AddToBlacklist("declined")

	p.add("near", "Tricycle", models.Coord{Lat: 14.6000, Lon: 120.9850})
	p.add("wrong-class", "Cab", models.Coord{Lat: 14.6000, Lon: 120.9850})
	p.add("declined", "Tricycle", models.Coord{Lat: 14.6000, Lon: 120.9850})
	p.add("far", "Tricycle", models.Coord{Lat: 15.5000, Lon: 120.9850})

	got := e.EligibleRiders(ride)
	if len(got) != 1 || got[0].RiderID != "near" {
		t.Fatalf("want only the near matching rider, got %+v", got)
	}
}

func TestEligibleRidersRadiusDisabled(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &fakePresence{}
	e := NewEngine(store, p, newFakeNotify(), Config{MatchRadiusKm: 0}, nil)

	ride := seedRide(t, store, models.StatusSearching)
	p.add("far", "Tricycle", models.Coord{Lat: 15.5000, Lon: 120.9850})

	if got := e.EligibleRiders(ride); len(got) != 1 {
		t.Fatalf("zero radius must disable the distance filter, got %+v", got)
	}
}

func TestBroadcastNewRide(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &fakePresence{}
	n := newFakeNotify()
	e := NewEngine(store, p, n, Config{}, nil)

	ride := seedRide(t, store, models.StatusSearching)
	p.add("r1", "Tricycle", models.Coord{Lat: 14.6000, Lon: 120.9850})
	p.add("r2", "Tricycle", models.Coord{Lat: 14.6010, Lon: 120.9860})

	e.BroadcastNewRide(ride)
	if n.offerCount("r1") != 1 || n.offerCount("r2") != 1 {
		t.Fatalf("both eligible riders must be offered: %+v", n.offers)
	}
}

func TestSearchStopsWhenRideLeavesSearching(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &fakePresence{}
	n := newFakeNotify()
	e := NewEngine(store, p, n, Config{MaxRetries: 1000, Interval: 5 * time.Millisecond}, nil)
	e.Lifecycle = &fakeTimeouter{store: store}

	ride := seedRide(t, store, models.StatusSearching)
	e.EnterSearch(ride)
	if !e.Searching(ride.ID) {
		t.Fatalf("loop must be registered")
	}

	// An accept elsewhere moves the ride out of SEARCHING_FOR_RIDER; the
	// next tick must end the loop without a timeout transition.
	_, err := store.UpdateRideIfStatus(context.Background(), ride.ID, models.StatusSearching, func(r *models.Ride) error {
		r.Status = models.StatusStart
		r.RiderID = "r1"
		return nil
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for e.Searching(ride.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not stop after the ride was taken")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n.timeoutCount() != 0 {
		t.Fatalf("a taken ride must not time out")
	}
}

func TestSearchTimesOutAfterBudget(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &fakePresence{} // nobody on duty, every tick comes up empty
	n := newFakeNotify()
	e := NewEngine(store, p, n, Config{MaxRetries: 3, Interval: 5 * time.Millisecond}, nil)
	lt := &fakeTimeouter{store: store}
	e.Lifecycle = lt

	ride := seedRide(t, store, models.StatusSearching)
	e.EnterSearch(ride)

	deadline := time.Now().Add(2 * time.Second)
	for n.timeoutCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ride never timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, _ := store.GetRide(context.Background(), ride.ID)
	if got.Status != models.StatusTimeout {
		t.Fatalf("want TIMEOUT, got %s", got.Status)
	}
	if n.timeoutCount() != 1 {
		t.Fatalf("timeout must be announced exactly once, got %d", n.timeoutCount())
	}
}

func TestEnterSearchIsIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	e := NewEngine(store, &fakePresence{}, newFakeNotify(), Config{MaxRetries: 1000, Interval: time.Hour}, nil)
	e.Lifecycle = &fakeTimeouter{store: store}

	ride := seedRide(t, store, models.StatusSearching)
	e.EnterSearch(ride)
	e.EnterSearch(ride)
	if !e.Searching(ride.ID) {
		t.Fatalf("loop must be running")
	}
	e.StopSearch(ride.ID)

	deadline := time.Now().Add(2 * time.Second)
	for e.Searching(ride.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("loop did not stop")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWithdrawTellsEveryone(t *testing.T) {
	store := storage.NewMemoryStore()
	n := newFakeNotify()
	e := NewEngine(store, &fakePresence{}, n, Config{Interval: time.Hour}, nil)

	e.Withdraw("ride-1")
	if len(n.withdrawn) != 1 || n.withdrawn[0] != "ride-1" {
		t.Fatalf("withdraw not broadcast: %+v", n.withdrawn)
	}
}

func TestBlacklistedRiderNotReofferedAcrossTicks(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &fakePresence{}
	n := newFakeNotify()
	e := NewEngine(store, p, n, Config{MaxRetries: 1000, Interval: 5 * time.Millisecond}, nil)
	e.Lifecycle = &fakeTimeouter{store: store}

	ride := seedRide(t, store, models.StatusSearching)
	p.add("keen", "Tricycle", models.Coord{Lat: 14.6000, Lon: 120.9850})
	p.add("decliner", "Tricycle", models.Coord{Lat: 14.6000, Lon: 120.9850})

	// The decliner backs out; from then on only the keen rider is offered.
	_, err := store.UpdateRideIfStatus(context.Background(), ride.ID, models.StatusSearching, func(r *models.Ride) error {
		r.AddToBlacklist("decliner")
		return nil
	})
	if err != nil {
		t.Fatalf("blacklist: %v", err)
	}

	e.EnterSearch(ride)
	deadline := time.Now().Add(2 * time.Second)
	for n.offerCount("keen") < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("no offers after several ticks")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.StopSearch(ride.ID)

	if n.offerCount("decliner") != 0 {
		t.Fatalf("blacklisted rider was re-offered %d times", n.offerCount("decliner"))
	}
}
