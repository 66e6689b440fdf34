// Package lifecycle enforces the ride status state machine. Every
// transition funnels through the store's conditional update, which is what
// arbitrates concurrent actors: two riders accepting, a customer cancelling
// against the sweeper, a completion racing a timeout.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
)

// Dispatcher is the slice of the dispatch engine the controller drives.
type Dispatcher interface {
	EnterSearch(ride *models.Ride)
	BroadcastNewRide(ride *models.Ride)
	Withdraw(rideID string)
}

// Notifier is the slice of the fan-out the controller drives.
type Notifier interface {
	RideAccepted(ride *models.Ride)
	RideCancelled(ride *models.Ride)
	RideUpdated(ride *models.Ride)
	PassengerUpdated(ride *models.Ride)
	JoinRequested(ride *models.Ride, userID string)
	JoinResolved(ride *models.Ride, userID string, approved bool)
	OfferWithdrawnFor(riderID, rideID string)
}

// FareEstimator is the external fare service. Which fare policy is active
// (computed, rate table, driver-set) is not this package's concern.
type FareEstimator interface {
	Estimate(ctx context.Context, pickup, drop models.Place, distanceKm float64, vehicleClass string) (float64, error)
}

// PresenceReader looks up the on-duty cache for accept-time checks.
type PresenceReader interface {
	Get(riderID string) (presence.Entry, bool)
}

// Config carries the policy knobs; none of them are hard business logic.
type Config struct {
	MaxPassengers       int
	MaxAcceptDistanceKm float64 // 0 disables the distance check on accept
	OTPDigits           int
	DeviationThreshold  float64 // fraction, e.g. 0.20
}

func (c *Config) applyDefaults() {
	if c.MaxPassengers <= 0 {
		c.MaxPassengers = 6
	}
	if c.OTPDigits <= 0 {
		c.OTPDigits = 4
	}
	if c.DeviationThreshold <= 0 {
		c.DeviationThreshold = 0.20
	}
}

type Controller struct {
	Store    storage.RideStore
	Presence PresenceReader
	Fare     FareEstimator
	Notify   Notifier
	Cfg      Config

	// Dispatch is bound after construction because the engine also needs
	// the controller (for timeout transitions).
	Dispatch Dispatcher

	Logger *slog.Logger

	now func() time.Time

	pendingMu sync.Mutex
	pending   map[string]map[string]time.Time // rideID -> userID -> requested at
}

func NewController(store storage.RideStore, p PresenceReader, fare FareEstimator, notify Notifier, cfg Config, logger *slog.Logger) *Controller {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		Store:    store,
		Presence: p,
		Fare:     fare,
		Notify:   notify,
		Cfg:      cfg,
		Logger:   logger,
		now:      time.Now,
		pending:  make(map[string]map[string]time.Time),
	}
}

// Create persists a new ride in SEARCHING_FOR_RIDER and enrolls it with the
// dispatch engine. The requesting customer is seeded as original booker.
func (c *Controller) Create(ctx context.Context, customerID, vehicleClass string, pickup, drop models.Place) (*models.Ride, error) {
	if customerID == "" {
		return nil, validationf("customer id is required")
	}
	if vehicleClass == "" {
		return nil, validationf("vehicle class is required")
	}
	if pickup.Lat == 0 && pickup.Lon == 0 {
		return nil, validationf("pickup location is required")
	}
	if drop.Lat == 0 && drop.Lon == 0 {
		return nil, validationf("drop location is required")
	}

	now := c.now()
	distanceKm := geo.HaversineKm(pickup.Coord(), drop.Coord())

	fareEstimate := 0.0
	if c.Fare != nil {
		if v, err := c.Fare.Estimate(ctx, pickup, drop, distanceKm, vehicleClass); err != nil {
			c.Logger.Warn("fare estimate unavailable", "error", err)
		} else {
			fareEstimate = v
		}
	}

	ride := &models.Ride{
		CustomerID:   customerID,
		VehicleClass: vehicleClass,
		Pickup:       pickup,
		Drop:         drop,
		DistanceKm:   distanceKm,
		FareEstimate: fareEstimate,
		OTP:          generateOTP(c.Cfg.OTPDigits),
		Status:       models.StatusSearching,
		Passengers: []models.Passenger{{
			UserID:           customerID,
			Status:           models.PassengerWaiting,
			IsOriginalBooker: true,
			JoinedAt:         now,
		}},
		MaxPassengers:          c.Cfg.MaxPassengers,
		CurrentPassengerCount:  1,
		AcceptingNewPassengers: true,
		Timestamps:             models.TripTimestamps{RequestTime: &now},
		RouteLogs:              models.RouteLogs{EstimatedDistanceKm: distanceKm},
	}
	if err := c.Store.CreateRide(ctx, ride); err != nil {
		return nil, err
	}
	observability.RidesCreated.Inc()
	c.Logger.Info("ride created", "ride_id", ride.ID, "customer_id", customerID, "vehicle_class", vehicleClass, "distance_km", distanceKm)

	if c.Dispatch != nil {
		c.Dispatch.BroadcastNewRide(ride)
		c.Dispatch.EnterSearch(ride)
	}
	return ride, nil
}

// Accept assigns riderID to the ride. Eligibility checks run inside the
// conditional update so a losing racer always gets ConflictError, never a
// half-applied write.
func (c *Controller) Accept(ctx context.Context, rideID, riderID string, coords *models.Coord) (*models.Ride, error) {
	entry, onDuty := c.Presence.Get(riderID)
	if !onDuty {
		return nil, validationf("rider %s is not on duty", riderID)
	}
	loc := entry.Loc
	if coords != nil {
		loc = *coords
	}
	now := c.now()

	ride, err := c.Store.UpdateRideIfStatus(ctx, rideID, models.StatusSearching, func(r *models.Ride) error {
		if r.Blacklisted(riderID) {
			return validationf("rider %s previously declined this ride", riderID)
		}
		if entry.VehicleClass != r.VehicleClass {
			return validationf("vehicle class mismatch: ride wants %s, rider drives %s", r.VehicleClass, entry.VehicleClass)
		}
		if c.Cfg.MaxAcceptDistanceKm > 0 && !geo.WithinRadius(loc, r.Pickup.Coord(), c.Cfg.MaxAcceptDistanceKm) {
			return validationf("rider too far from pickup")
		}
		r.RiderID = riderID
		r.Status = models.StatusStart
		r.Timestamps.AcceptTime = &now
		r.Timestamps.StartTime = &now
		r.RiderLocation = &loc
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			observability.AcceptRaceLost.Inc()
			return nil, conflictf("ride %s is no longer available", rideID)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}

	if err := c.Store.AppendCheckpoint(ctx, models.Checkpoint{
		RideID:     rideID,
		Type:       models.CheckpointAccepted,
		Location:   loc,
		RecordedAt: now,
	}); err != nil {
		c.Logger.Warn("checkpoint append failed", "ride_id", rideID, "error", err)
	}

	observability.RidesAccepted.Inc()
	c.Logger.Info("ride accepted", "ride_id", rideID, "rider_id", riderID)

	if c.Dispatch != nil {
		c.Dispatch.Withdraw(rideID)
	}
	c.Notify.RideAccepted(ride)
	return ride, nil
}

// updateStatusEdges are the transitions UpdateStatus may perform. The
// SEARCHING_FOR_RIDER -> START edge belongs to Accept alone.
var updateStatusEdges = map[models.RideStatus]models.RideStatus{
	models.StatusStart:   models.StatusArrived,
	models.StatusArrived: models.StatusCompleted,
}

// UpdateStatus advances the ride along the happy path. A ride already
// COMPLETED is returned unchanged with no error so a duplicate completion
// never looks like a failure to the caller.
func (c *Controller) UpdateStatus(ctx context.Context, rideID string, newStatus models.RideStatus) (*models.Ride, error) {
	switch newStatus {
	case models.StatusStart, models.StatusArrived, models.StatusCompleted:
	default:
		return nil, validationf("status %q is not settable", newStatus)
	}

	ride, err := c.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}
	if ride.Status == models.StatusCompleted {
		return ride, nil
	}
	if ride.Status == newStatus {
		return ride, nil
	}
	if updateStatusEdges[ride.Status] != newStatus {
		return nil, conflictf("cannot move ride %s from %s to %s", rideID, ride.Status, newStatus)
	}

	var cps []models.Checkpoint
	if newStatus == models.StatusCompleted {
		if cps, err = c.Store.ListCheckpoints(ctx, rideID); err != nil {
			c.Logger.Warn("checkpoint read failed", "ride_id", rideID, "error", err)
		}
	}

	now := c.now()
	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, ride.Status, func(r *models.Ride) error {
		r.Status = newStatus
		switch newStatus {
		case models.StatusArrived:
			r.Timestamps.PickupTime = &now
			for i := range r.Passengers {
				if r.Passengers[i].Status == models.PassengerWaiting {
					r.Passengers[i].Status = models.PassengerOnboard
					t := now
					r.Passengers[i].BoardedAt = &t
				}
			}
		case models.StatusCompleted:
			c.finishRide(r, cps, now)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			// Someone else moved the ride between our read and the guard.
			if cur, gerr := c.Store.GetRide(ctx, rideID); gerr == nil && cur.Status == models.StatusCompleted {
				return cur, nil
			}
			return nil, conflictf("ride %s changed status concurrently", rideID)
		}
		return nil, err
	}

	c.appendStatusCheckpoint(ctx, updated, newStatus, now)
	c.Logger.Info("ride status updated", "ride_id", rideID, "status", newStatus)
	c.Notify.RideUpdated(updated)
	return updated, nil
}

// finishRide applies the COMPLETED terminal mutations: every passenger is
// dropped, the final distance freezes, and route deviation is derived from
// the tracked checkpoints.
func (c *Controller) finishRide(r *models.Ride, cps []models.Checkpoint, now time.Time) {
	for i := range r.Passengers {
		r.Passengers[i].Status = models.PassengerDropped
	}
	r.AcceptingNewPassengers = false
	r.Timestamps.DropoffTime = &now
	r.Timestamps.EndTime = &now
	if r.FinalDistanceKm == nil {
		d := r.DistanceKm
		r.FinalDistanceKm = &d
	}
	c.applyRouteDeviation(r, cps)
}

func (c *Controller) applyRouteDeviation(r *models.Ride, cps []models.Checkpoint) {
	if len(cps) == 0 || r.RouteLogs.EstimatedDistanceKm <= 0 {
		return
	}
	var tracked float64
	for _, cp := range cps {
		tracked += cp.DistanceFromPrevKm
	}
	r.RouteLogs.RouteDistanceKm = &tracked
	dev := (tracked - r.RouteLogs.EstimatedDistanceKm) / r.RouteLogs.EstimatedDistanceKm
	r.RouteLogs.DeviationPercent = &dev
	r.RouteLogs.SignificantDeviation = dev > c.Cfg.DeviationThreshold
}

func (c *Controller) appendStatusCheckpoint(ctx context.Context, ride *models.Ride, status models.RideStatus, now time.Time) {
	var typ models.CheckpointType
	switch status {
	case models.StatusArrived:
		typ = models.CheckpointPickup
	case models.StatusCompleted:
		typ = models.CheckpointDropoff
	default:
		return
	}
	loc := ride.Drop.Coord()
	if ride.RiderLocation != nil {
		loc = *ride.RiderLocation
	}
	cp := models.Checkpoint{RideID: ride.ID, Type: typ, Location: loc, RecordedAt: now}
	if prev, err := c.Store.ListCheckpoints(ctx, ride.ID); err == nil && len(prev) > 0 {
		cp.DistanceFromPrevKm = geo.HaversineKm(prev[len(prev)-1].Location, loc)
	}
	if err := c.Store.AppendCheckpoint(ctx, cp); err != nil {
		c.Logger.Warn("checkpoint append failed", "ride_id", ride.ID, "error", err)
	}
}

// Cancel ends or recycles a ride depending on who asks and when. A rider
// backing out of a still-searching ride is blacklisted and the ride returns
// to the pool; a customer walking away, or a rider abandoning an in-progress
// trip, ends it. Terminal rides come back unchanged with no error.
func (c *Controller) Cancel(ctx context.Context, rideID, actorID string) (*models.Ride, error) {
	ride, err := c.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}
	isCustomer := actorID == ride.CustomerID
	isRider := ride.RiderID != "" && actorID == ride.RiderID
	if !isCustomer && !isRider {
		// A searching ride has no assigned rider yet; an on-duty rider
		// declining the offer is still a legitimate canceller.
		if _, onDuty := c.Presence.Get(actorID); !(ride.Status == models.StatusSearching && onDuty) {
			return nil, unauthorizedf("user %s may not cancel ride %s", actorID, rideID)
		}
	}
	if ride.Status.Terminal() {
		return ride, nil
	}

	now := c.now()

	// A rider declining a searching ride should not cost the customer
	// their place in the queue: blacklist the rider and keep searching.
	if !isCustomer && ride.Status == models.StatusSearching {
		updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, models.StatusSearching, func(r *models.Ride) error {
			r.AddToBlacklist(actorID)
			r.RiderID = ""
			r.RiderLocation = nil
			r.Timestamps.AcceptTime = nil
			r.Timestamps.StartTime = nil
			return nil
		})
		if err != nil {
			if errors.Is(err, storage.ErrStatusConflict) {
				return nil, conflictf("ride %s changed status concurrently", rideID)
			}
			return nil, err
		}
		c.Logger.Info("rider declined searching ride", "ride_id", rideID, "rider_id", actorID)
		c.Notify.OfferWithdrawnFor(actorID, rideID)
		c.Notify.RideUpdated(updated)
		return updated, nil
	}

	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, ride.Status, func(r *models.Ride) error {
		r.Status = models.StatusCancelled
		r.CancelledBy = actorID
		r.CancelledAt = &now
		r.Timestamps.EndTime = &now
		r.AcceptingNewPassengers = false
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			if cur, gerr := c.Store.GetRide(ctx, rideID); gerr == nil && cur.Status.Terminal() {
				return cur, nil
			}
			return nil, conflictf("ride %s changed status concurrently", rideID)
		}
		return nil, err
	}

	c.Logger.Info("ride cancelled", "ride_id", rideID, "cancelled_by", actorID)
	if c.Dispatch != nil {
		c.Dispatch.Withdraw(rideID)
	}
	c.Notify.RideCancelled(updated)
	return updated, nil
}

// SystemCancel is the sweeper's entry point: an unattributed cancellation
// guarded on the exact status the sweep rule matched.
func (c *Controller) SystemCancel(ctx context.Context, rideID string, expected models.RideStatus) (*models.Ride, error) {
	now := c.now()
	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, expected, func(r *models.Ride) error {
		r.Status = models.StatusCancelled
		r.CancelledAt = &now
		r.Timestamps.EndTime = &now
		r.AcceptingNewPassengers = false
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, conflictf("ride %s left status %s before the sweep", rideID, expected)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}
	if c.Dispatch != nil && expected == models.StatusSearching {
		c.Dispatch.Withdraw(rideID)
	}
	c.Notify.RideCancelled(updated)
	return updated, nil
}

// MarkTimedOut moves a searching ride to TIMEOUT. Called by the dispatch
// engine when the retry budget is exhausted; the guard makes the transition
// happen at most once.
func (c *Controller) MarkTimedOut(ctx context.Context, rideID string) (*models.Ride, error) {
	now := c.now()
	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, models.StatusSearching, func(r *models.Ride) error {
		r.Status = models.StatusTimeout
		r.Timestamps.EndTime = &now
		r.AcceptingNewPassengers = false
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			return nil, conflictf("ride %s is no longer searching", rideID)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}
	observability.RidesTimedOut.Inc()
	c.Logger.Info("ride timed out", "ride_id", rideID)
	return updated, nil
}

// RequestEarlyStop completes an ARRIVED ride at the current location instead
// of the original drop. Either party may invoke it.
func (c *Controller) RequestEarlyStop(ctx context.Context, rideID, actorID string, loc models.Coord, reason string) (*models.Ride, error) {
	ride, err := c.Store.GetRide(ctx, rideID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, notFoundf("ride %s not found", rideID)
		}
		return nil, err
	}
	if actorID != ride.CustomerID && actorID != ride.RiderID {
		return nil, unauthorizedf("user %s may not stop ride %s", actorID, rideID)
	}
	if ride.Status == models.StatusCompleted {
		return ride, nil
	}
	if ride.Status != models.StatusArrived {
		return nil, validationf("early stop requires an in-progress ride, status is %s", ride.Status)
	}

	cps, err := c.Store.ListCheckpoints(ctx, rideID)
	if err != nil {
		c.Logger.Warn("checkpoint read failed", "ride_id", rideID, "error", err)
	}

	now := c.now()
	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, models.StatusArrived, func(r *models.Ride) error {
		actual := geo.HaversineKm(r.Pickup.Coord(), loc)
		r.FinalDistanceKm = &actual
		r.RouteLogs.ActualDistanceKm = &actual
		r.EarlyStop = &models.EarlyStop{
			RequestedBy: actorID,
			Reason:      reason,
			StoppedAt:   loc,
			RequestedAt: now,
		}
		r.RiderLocation = &loc
		c.finishRide(r, cps, now)
		r.Status = models.StatusCompleted
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrStatusConflict) {
			if cur, gerr := c.Store.GetRide(ctx, rideID); gerr == nil && cur.Status == models.StatusCompleted {
				return cur, nil
			}
			return nil, conflictf("ride %s changed status concurrently", rideID)
		}
		return nil, err
	}

	c.appendStatusCheckpoint(ctx, updated, models.StatusCompleted, now)
	c.Logger.Info("ride stopped early", "ride_id", rideID, "requested_by", actorID)
	c.Notify.RideUpdated(updated)
	return updated, nil
}

// RecordRiderLocation stores the rider's in-trip position snapshot and
// appends an "ongoing" checkpoint so route deviation can be computed later.
func (c *Controller) RecordRiderLocation(ctx context.Context, rideID, riderID string, loc models.Coord) error {
	ride, err := c.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil // stale update against a vanished ride is not an error
	}
	if ride.RiderID != riderID {
		return nil
	}
	if ride.Status != models.StatusStart && ride.Status != models.StatusArrived {
		return nil
	}

	now := c.now()
	cp := models.Checkpoint{RideID: rideID, Type: models.CheckpointOngoing, Location: loc, RecordedAt: now}
	if prev, err := c.Store.ListCheckpoints(ctx, rideID); err == nil && len(prev) > 0 {
		cp.DistanceFromPrevKm = geo.HaversineKm(prev[len(prev)-1].Location, loc)
	}
	if err := c.Store.AppendCheckpoint(ctx, cp); err != nil {
		c.Logger.Warn("checkpoint append failed", "ride_id", rideID, "error", err)
	}

	updated, err := c.Store.UpdateRideIfStatus(ctx, rideID, ride.Status, func(r *models.Ride) error {
		r.RiderLocation = &loc
		return nil
	})
	if err != nil {
		// A concurrent transition wins; the next location packet catches up.
		return nil
	}
	c.Notify.RideUpdated(updated)
	return nil
}
