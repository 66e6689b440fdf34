package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// RequestJoin starts the two-phase join handshake: the request is parked
// in memory and the assigned rider is asked to approve. Nothing is written
// to the ride until the rider consents, which is what keeps ride growth
// bounded by driver approval rather than by whoever taps fastest.
func (c *Controller) RequestJoin(ctx context.Context, rideID, userID string) error {
	if userID == "" {
		return validationf("user id is required")
	}
	ride, err := c.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return notFoundf("ride %s not found", rideID)
		}
		return err
	}
	if ride.Status.Terminal() {
		return conflictf("ride %s is already %s", rideID, ride.Status)
	}
	if !ride.AcceptingNewPassengers {
		return validationf("ride %s is not accepting new passengers", rideID)
	}
	if ride.PassengerIndex(userID) >= 0 {
		return validationf("user %s is already a passenger", userID)
	}
	if ride.CurrentPassengerCount >= ride.MaxPassengers {
		return validationf("ride %s is full", rideID)
	}
	if ride.RiderID == "" {
		return validationf("ride %s has no rider to approve the join yet", rideID)
	}

	c.pendingMu.Lock()
	reqs, ok := c.pending[rideID]
	if !ok {
		reqs = make(map[string]time.Time)
		c.pending[rideID] = reqs
	}
	reqs[userID] = c.now()
	c.pendingMu.Unlock()

	c.Logger.Info("join requested", "ride_id", rideID, "user_id", userID)
	c.Notify.JoinRequested(ride, userID)
	return nil
}

// ResolveJoin is the rider's approval or decline of a pending join request.
func (c *Controller) ResolveJoin(ctx context.Context, rideID, actorID, userID string, approve bool) (*models.Ride, error) {
	ride, err := c.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}
	if ride.RiderID == "" || actorID != ride.RiderID {
		return nil, unauthorizedf("only the assigned rider may resolve join requests")
	}

	c.pendingMu.Lock()
	_, pendingExists := c.pending[rideID][userID]
	if pendingExists {
		delete(c.pending[rideID], userID)
		if len(c.pending[rideID]) == 0 {
			delete(c.pending, rideID)
		}
	}
	c.pendingMu.Unlock()
	if !pendingExists {
		return nil, notFoundf("no pending join for user %s on ride %s", userID, rideID)
	}

	if !approve {
		c.Logger.Info("join declined", "ride_id", rideID, "user_id", userID)
		c.Notify.JoinResolved(ride, userID, false)
		return ride, nil
	}

	now := c.now()
	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, ride.Status, func(r *models.Ride) error {
		if r.PassengerIndex(userID) >= 0 {
			return validationf("user %s is already a passenger", userID)
		}
		if r.CurrentPassengerCount >= r.MaxPassengers {
			return validationf("ride %s is full", rideID)
		}
		r.Passengers = append(r.Passengers, models.Passenger{
			UserID:   userID,
			Status:   models.PassengerWaiting,
			JoinedAt: now,
		})
		r.CurrentPassengerCount = len(r.Passengers)
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, conflictf("ride %s changed status concurrently", rideID)
		}
		return nil, err
	}

	c.Logger.Info("join approved", "ride_id", rideID, "user_id", userID)
	c.Notify.JoinResolved(updated, userID, true)
	c.Notify.PassengerUpdated(updated)
	return updated, nil
}

// UpdatePassengerStatus moves one passenger along WAITING -> ONBOARD ->
// DROPPED. The rider or the passenger themself may call it.
func (c *Controller) UpdatePassengerStatus(ctx context.Context, rideID, actorID, userID string, status models.PassengerStatus) (*models.Ride, error) {
	switch status {
	case models.PassengerWaiting, models.PassengerOnboard, models.PassengerDropped:
	default:
		return nil, validationf("unknown passenger status %q", status)
	}
	ride, err := c.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}
	if actorID != ride.RiderID && actorID != userID {
		return nil, unauthorizedf("user %s may not update passenger %s", actorID, userID)
	}
	if ride.Status == models.StatusCompleted {
		return ride, nil
	}

	now := c.now()
	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, ride.Status, func(r *models.Ride) error {
		i := r.PassengerIndex(userID)
		if i < 0 {
			return notFoundf("user %s is not a passenger on ride %s", userID, rideID)
		}
		r.Passengers[i].Status = status
		if status == models.PassengerOnboard && r.Passengers[i].BoardedAt == nil {
			t := now
			r.Passengers[i].BoardedAt = &t
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, conflictf("ride %s changed status concurrently", rideID)
		}
		return nil, err
	}
	c.Notify.PassengerUpdated(updated)
	return updated, nil
}

// RemovePassenger takes a non-booker passenger off the ride.
func (c *Controller) RemovePassenger(ctx context.Context, rideID, actorID, userID string) (*models.Ride, error) {
	ride, err := c.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}
	if actorID != ride.RiderID && actorID != userID {
		return nil, unauthorizedf("user %s may not remove passenger %s", actorID, userID)
	}
	if ride.Status.Terminal() {
		return ride, nil
	}

	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, ride.Status, func(r *models.Ride) error {
		i := r.PassengerIndex(userID)
		if i < 0 {
			return notFoundf("user %s is not a passenger on ride %s", userID, rideID)
		}
		if r.Passengers[i].IsOriginalBooker {
			return validationf("the original booker cannot be removed")
		}
		r.Passengers = append(r.Passengers[:i], r.Passengers[i+1:]...)
		r.CurrentPassengerCount = len(r.Passengers)
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, conflictf("ride %s changed status concurrently", rideID)
		}
		return nil, err
	}
	c.Notify.PassengerUpdated(updated)
	return updated, nil
}
