// Package dispatch owns the matching and retry loop for searching rides.
// Each ride gets its own loop; ticks hold no locks and always re-read the
// authoritative record, so the engine tolerates restarts and concurrent
// actors without leaving rides stuck.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/presence"
)

// RideReader re-reads ride state each tick; the loop never trusts a copy it
// held across a suspension.
type RideReader interface {
	GetRide(ctx context.Context, id string) (*models.Ride, error)
}

// Presence is the on-duty snapshot the engine matches against.
type Presence interface {
	ListOnDuty() []presence.Entry
}

// Notifier is the slice of the fan-out the engine drives.
type Notifier interface {
	OfferToRider(riderID string, ride *models.Ride)
	WithdrawFromAll(rideID string)
	RideTimedOut(ride *models.Ride)
}

// Timeouter performs the guarded SEARCHING -> TIMEOUT transition.
type Timeouter interface {
	MarkTimedOut(ctx context.Context, rideID string) (*models.Ride, error)
}

type Config struct {
	MaxRetries    int           // ticks before the ride times out
	Interval      time.Duration // delay between ticks
	MatchRadiusKm float64       // 0 disables the distance filter
}

func (c *Config) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 60
	}
	if c.Interval <= 0 {
		c.Interval = 10 * time.Second
	}
}

type Engine struct {
	Store    RideReader
	Presence Presence
	Notify   Notifier
	Cfg      Config
	Logger   *slog.Logger

	// Lifecycle is bound after construction; the controller needs the
	// engine too.
	Lifecycle Timeouter

	mu       sync.Mutex
	searches map[string]context.CancelFunc

	baseCtx context.Context
}

func NewEngine(store RideReader, p Presence, notify Notifier, cfg Config, logger *slog.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Store:    store,
		Presence: p,
		Notify:   notify,
		Cfg:      cfg,
		Logger:   logger,
		searches: make(map[string]context.CancelFunc),
		baseCtx:  context.Background(),
	}
}

// SetBaseContext bounds every search loop to the process lifetime.
func (e *Engine) SetBaseContext(ctx context.Context) { e.baseCtx = ctx }

// EligibleRiders filters the on-duty snapshot by vehicle class, per-ride
// blacklist and the configured match radius. The radius boundary is
// inclusive.
func (e *Engine) EligibleRiders(ride *models.Ride) []presence.Entry {
	var out []presence.Entry
	for _, entry := range e.Presence.ListOnDuty() {
		if entry.VehicleClass != ride.VehicleClass {
			continue
		}
		if ride.Blacklisted(entry.RiderID) {
			continue
		}
		if !geo.WithinRadius(entry.Loc, ride.Pickup.Coord(), e.Cfg.MatchRadiusKm) {
			continue
		}
		out = append(out, entry)
	}
	return out
}

// BroadcastNewRide pushes the first offers immediately, independent of the
// retry loop's first tick, to minimize latency to first offer.
func (e *Engine) BroadcastNewRide(ride *models.Ride) {
	for _, entry := range e.EligibleRiders(ride) {
		e.Notify.OfferToRider(entry.RiderID, ride)
		observability.OffersSent.Inc()
	}
}

// EnterSearch starts the retry loop for a searching ride. Re-entering an
// already-searching ride is a no-op.
func (e *Engine) EnterSearch(ride *models.Ride) {
	e.mu.Lock()
	if _, running := e.searches[ride.ID]; running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(e.baseCtx)
	e.searches[ride.ID] = cancel
	e.mu.Unlock()

	observability.ActiveSearches.Inc()
	go e.runSearch(ctx, ride.ID)
}

// StopSearch cancels the ride's retry loop, if one is running.
func (e *Engine) StopSearch(rideID string) {
	e.mu.Lock()
	cancel, ok := e.searches[rideID]
	if ok {
		delete(e.searches, rideID)
	}
	e.mu.Unlock()
	if ok {
		cancel()
	}
}

// Withdraw stops the search and tells every on-duty rider the ride is gone.
// Called after an accept or a cancel.
func (e *Engine) Withdraw(rideID string) {
	e.StopSearch(rideID)
	e.Notify.WithdrawFromAll(rideID)
}

// Searching reports whether the engine currently owns a loop for rideID.
func (e *Engine) Searching(rideID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.searches[rideID]
	return ok
}

func (e *Engine) runSearch(ctx context.Context, rideID string) {
	defer func() {
		e.StopSearch(rideID)
		observability.ActiveSearches.Dec()
	}()

	ticker := time.NewTicker(e.Cfg.Interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= e.Cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if done := e.tick(ctx, rideID, attempt); done {
			return
		}
	}

	// Budget exhausted with the ride still searching: time it out, exactly
	// once thanks to the status guard.
	ride, err := e.Lifecycle.MarkTimedOut(ctx, rideID)
	if err != nil {
		e.Logger.Debug("timeout transition skipped", "ride_id", rideID, "error", err)
		return
	}
	e.Notify.RideTimedOut(ride)
}

// tick runs one dispatch attempt. It returns true when the loop should end:
// the ride left SEARCHING_FOR_RIDER or disappeared. Transient read errors
// extend the retry rather than ending it.
func (e *Engine) tick(ctx context.Context, rideID string, attempt int) bool {
	observability.DispatchTicks.Inc()

	ride, err := e.Store.GetRide(ctx, rideID)
	if err != nil {
		e.Logger.Warn("dispatch tick read failed", "ride_id", rideID, "attempt", attempt, "error", err)
		return false
	}
	if ride.Status != models.StatusSearching {
		// Someone else handled it; no side effect from us.
		return true
	}

	eligible := e.EligibleRiders(ride)
	if len(eligible) == 0 {
		e.Logger.Debug("no eligible riders", "ride_id", rideID, "attempt", attempt)
		return false
	}
	for _, entry := range eligible {
		// Re-broadcasting to the same rider on a later tick is harmless.
		e.Notify.OfferToRider(entry.RiderID, ride)
		observability.OffersSent.Inc()
	}
	return false
}
