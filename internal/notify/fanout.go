package notify

import (
	"log/slog"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
)

// OnDutyLister is the slice of the presence registry the fan-out needs.
type OnDutyLister interface {
	ListOnDuty() []presence.Entry
}

// Fanout computes recipient sets for ride and presence events and delivers
// through the hub. Delivery is at-most-once: a recipient with no live
// session simply misses the event.
type Fanout struct {
	hub      *Hub
	presence OnDutyLister
	logger   *slog.Logger
}

func NewFanout(hub *Hub, p OnDutyLister, logger *slog.Logger) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{hub: hub, presence: p, logger: logger}
}

func (f *Fanout) Hub() *Hub { return f.hub }

// ToUser sends one event to every session of one user. Send errors are
// counted and swallowed; they never propagate to the initiating actor.
func (f *Fanout) ToUser(userID, event string, data any) {
	sessions := f.hub.SessionsFor(userID)
	if len(sessions) == 0 {
		observability.NotificationsSkipped.Inc()
		return
	}
	for _, s := range sessions {
		if err := s.Send(event, data); err != nil {
			observability.NotificationsFailed.Inc()
			f.logger.Debug("notification send failed", "user_id", userID, "event", event, "error", err)
			continue
		}
		observability.NotificationsSent.Inc()
	}
}

// OfferToRider pushes a new-ride-offer to a single rider. Re-sending the
// same offer on a later dispatch tick is harmless.
func (f *Fanout) OfferToRider(riderID string, ride *models.Ride) {
	f.ToUser(riderID, EventNewRideOffer, ride)
}

// WithdrawFromAll tells every on-duty rider the ride is no longer available.
func (f *Fanout) WithdrawFromAll(rideID string) {
	for _, e := range f.presence.ListOnDuty() {
		f.ToUser(e.RiderID, EventRideOfferWithdrawn, map[string]any{"ride_id": rideID})
	}
}

// rideParties is the recipient set for lifecycle events: the customer, the
// assigned rider, every passenger, and explicit subscribers, deduplicated.
func (f *Fanout) rideParties(ride *models.Ride) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(ride.CustomerID)
	add(ride.RiderID)
	for _, p := range ride.Passengers {
		add(p.UserID)
	}
	for _, id := range f.hub.Subscribers(ride.ID) {
		add(id)
	}
	return out
}

func (f *Fanout) RideUpdated(ride *models.Ride) {
	for _, id := range f.rideParties(ride) {
		f.ToUser(id, EventRideUpdated, ride)
	}
}

func (f *Fanout) RideAccepted(ride *models.Ride) {
	for _, id := range f.rideParties(ride) {
		f.ToUser(id, EventRideAccepted, ride)
	}
	f.ToUser(ride.RiderID, EventYourStatusUpdated, map[string]any{"status": ride.Status, "ride": ride})
}

func (f *Fanout) RideCancelled(ride *models.Ride) {
	payload := map[string]any{"ride": ride, "cancelled_by": ride.CancelledBy}
	for _, id := range f.rideParties(ride) {
		f.ToUser(id, EventRideCancelled, payload)
	}
	f.hub.DropRide(ride.ID)
}

func (f *Fanout) RideTimedOut(ride *models.Ride) {
	payload := map[string]any{"ride_id": ride.ID}
	for _, id := range f.rideParties(ride) {
		f.ToUser(id, EventRideTimedOut, payload)
	}
	f.WithdrawFromAll(ride.ID)
	f.hub.DropRide(ride.ID)
}

func (f *Fanout) PassengerUpdated(ride *models.Ride) {
	for _, id := range f.rideParties(ride) {
		f.ToUser(id, EventPassengerUpdated, ride)
	}
}

// JoinRequested asks the assigned rider to approve a pending join.
func (f *Fanout) JoinRequested(ride *models.Ride, userID string) {
	f.ToUser(ride.RiderID, EventPassengerUpdated, map[string]any{
		"ride_id": ride.ID,
		"user_id": userID,
		"phase":   "join-requested",
	})
}

// JoinResolved tells the requesting passenger the rider's decision.
func (f *Fanout) JoinResolved(ride *models.Ride, userID string, approved bool) {
	f.ToUser(userID, EventYourStatusUpdated, map[string]any{
		"ride_id":  ride.ID,
		"approved": approved,
	})
}

// OfferWithdrawnFor withdraws one ride from one rider, used when that rider
// declines and is blacklisted while everyone else keeps the offer.
func (f *Fanout) OfferWithdrawnFor(riderID, rideID string) {
	f.ToUser(riderID, EventRideOfferWithdrawn, map[string]any{"ride_id": rideID})
}

// AllSearchingRides answers a rider's resubscribe pull after (re)connecting.
func (f *Fanout) AllSearchingRides(riderID string, rides []*models.Ride) {
	f.ToUser(riderID, EventAllSearchingRides, rides)
}
