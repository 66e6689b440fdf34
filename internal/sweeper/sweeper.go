// Package sweeper cancels rides that have sat in a non-terminal status past
// their age threshold. Every cancellation routes through the lifecycle
// controller's status guard, so a ride that moved on a split second before
// the sweep examined it is left untouched.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

type StaleLister interface {
	ListStatusOlderThan(ctx context.Context, status models.RideStatus, cutoff time.Time) ([]*models.Ride, error)
}

type Canceller interface {
	SystemCancel(ctx context.Context, rideID string, expected models.RideStatus) (*models.Ride, error)
}

type Config struct {
	Interval        time.Duration
	SearchingMaxAge time.Duration // rule 1: abandoned searches
	ActiveMaxAge    time.Duration // rule 2: rides stuck in progress
	TimeoutMaxAge   time.Duration // rule 3: terminal cleanup of TIMEOUT
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Minute
	}
	if c.SearchingMaxAge <= 0 {
		c.SearchingMaxAge = time.Hour
	}
	if c.ActiveMaxAge <= 0 {
		c.ActiveMaxAge = 24 * time.Hour
	}
	if c.TimeoutMaxAge <= 0 {
		c.TimeoutMaxAge = 24 * time.Hour
	}
}

type Sweeper struct {
	Store  StaleLister
	Rides  Canceller
	Cfg    Config
	Logger *slog.Logger

	now func() time.Time
}

func New(store StaleLister, rides Canceller, cfg Config, logger *slog.Logger) *Sweeper {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{Store: store, Rides: rides, Cfg: cfg, Logger: logger, now: time.Now}
}

// Run blocks, sweeping on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce applies the three rules. Each rule and each ride is independent:
// one failure never aborts the rest of the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	now := s.now()
	s.sweepRule(ctx, "searching", models.StatusSearching, now.Add(-s.Cfg.SearchingMaxAge))
	s.sweepRule(ctx, "stuck_start", models.StatusStart, now.Add(-s.Cfg.ActiveMaxAge))
	s.sweepRule(ctx, "stuck_arrived", models.StatusArrived, now.Add(-s.Cfg.ActiveMaxAge))
	s.sweepRule(ctx, "timeout_cleanup", models.StatusTimeout, now.Add(-s.Cfg.TimeoutMaxAge))
}

func (s *Sweeper) sweepRule(ctx context.Context, rule string, status models.RideStatus, cutoff time.Time) {
	rides, err := s.Store.ListStatusOlderThan(ctx, status, cutoff)
	if err != nil {
		observability.SweepErrors.Inc()
		s.Logger.Error("sweep query failed", "rule", rule, "error", err)
		return
	}
	for _, r := range rides {
		if _, err := s.Rides.SystemCancel(ctx, r.ID, status); err != nil {
			if lifecycle.IsConflict(err) {
				// The ride changed status under us; nothing to do.
				continue
			}
			observability.SweepErrors.Inc()
			s.Logger.Error("sweep cancel failed", "rule", rule, "ride_id", r.ID, "error", err)
			continue
		}
		observability.SweptRides.WithLabelValues(rule).Inc()
		s.Logger.Info("stale ride cancelled", "rule", rule, "ride_id", r.ID, "was_status", status)
	}
}
