package notify

import (
	"sort"
	"testing"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
)

func TestHubRegisterUnregister(t *testing.T) {
	h := NewHub()
	s1 := &Session{UserID: "u1", Role: "customer"}
	s2 := &Session{UserID: "u1", Role: "customer"} // second device
	s3 := &Session{UserID: "u2", Role: "rider"}

	h.Register(s1)
	h.Register(s2)
	h.Register(s3)

	if got := h.SessionsFor("u1"); len(got) != 2 {
		t.Fatalf("want both u1 sessions, got %d", len(got))
	}
	if got := h.SessionsFor("u2"); len(got) != 1 {
		t.Fatalf("want one u2 session, got %d", len(got))
	}

	h.Unregister(s1)
	if got := h.SessionsFor("u1"); len(got) != 1 || got[0] != s2 {
		t.Fatalf("surviving session wrong: %+v", got)
	}
	h.Unregister(s2)
	if got := h.SessionsFor("u1"); len(got) != 0 {
		t.Fatalf("u1 should have no sessions left")
	}

	// Unregistering twice is harmless.
	h.Unregister(s2)
}

func TestHubSessionsForUnknownUser(t *testing.T) {
	h := NewHub()
	if got := h.SessionsFor("nobody"); len(got) != 0 {
		t.Fatalf("unknown user must yield an empty slice, got %d", len(got))
	}
}

func TestHubSubscriptions(t *testing.T) {
	h := NewHub()
	h.Subscribe("ride-1", "u1")
	h.Subscribe("ride-1", "u2")
	h.Subscribe("ride-1", "u1") // repeat is a no-op
	h.Subscribe("ride-2", "u3")

	got := h.Subscribers("ride-1")
	sort.Strings(got)
	if len(got) != 2 || got[0] != "u1" || got[1] != "u2" {
		t.Fatalf("want [u1 u2], got %v", got)
	}

	h.DropRide("ride-1")
	if got := h.Subscribers("ride-1"); len(got) != 0 {
		t.Fatalf("dropped ride must have no subscribers, got %v", got)
	}
	if got := h.Subscribers("ride-2"); len(got) != 1 {
		t.Fatalf("other rides must be untouched, got %v", got)
	}
}

type staticPresence struct{ entries []presence.Entry }

func (s staticPresence) ListOnDuty() []presence.Entry { return s.entries }

func TestRidePartiesDeduplicates(t *testing.T) {
	hub := NewHub()
	f := NewFanout(hub, staticPresence{}, nil)

	ride := &models.Ride{
		ID:         "ride-1",
		CustomerID: "cust-1",
		RiderID:    "rider-1",
		Passengers: []models.Passenger{
			{UserID: "cust-1"}, // the booker appears as a passenger too
			{UserID: "friend-1"},
		},
	}
	hub.Subscribe("ride-1", "watcher-1")
	hub.Subscribe("ride-1", "rider-1") // the rider also subscribed explicitly

	got := f.rideParties(ride)
	sort.Strings(got)
	want := []string{"cust-1", "friend-1", "rider-1", "watcher-1"}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("want %v, got %v", want, got)
		}
	}
}

func TestRidePartiesSkipsUnassignedRider(t *testing.T) {
	f := NewFanout(NewHub(), staticPresence{}, nil)
	ride := &models.Ride{
		ID:         "ride-1",
		CustomerID: "cust-1",
		Passengers: []models.Passenger{{UserID: "cust-1"}},
	}
	got := f.rideParties(ride)
	if len(got) != 1 || got[0] != "cust-1" {
		t.Fatalf("searching ride must address the customer only, got %v", got)
	}
}
