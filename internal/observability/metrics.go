package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_created_total", Help: "Total rides created"})
	RidesAccepted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_accepted_total", Help: "Total rides accepted by a rider"})
	RidesTimedOut = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_timed_out_total", Help: "Total rides that exhausted the dispatch retry budget"})
	AcceptRaceLost = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accept_conflicts_total", Help: "Accept attempts rejected by the status guard"})

	DispatchTicks  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "dispatch_ticks_total", Help: "Dispatch retry ticks executed"})
	OffersSent     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_sent_total", Help: "Ride offers broadcast to riders"})
	ActiveSearches = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "active_searches", Help: "Rides currently in the dispatch retry loop"})

	RidersOnDuty = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "ride_dispatch", Name: "riders_on_duty", Help: "Riders currently on duty"})

	NotificationsSent    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_sent_total", Help: "Real-time events delivered"})
	NotificationsFailed  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_failed_total", Help: "Real-time event writes that errored"})
	NotificationsSkipped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notifications_skipped_total", Help: "Events dropped because the recipient had no session"})

	SweptRides  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "swept_rides_total", Help: "Stale rides cancelled by the sweeper"}, []string{"rule"})
	SweepErrors = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "sweep_errors_total", Help: "Per-ride sweep failures"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
