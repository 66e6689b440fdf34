package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Place is a coordinate plus the human-readable address the client supplied.
type Place struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Address string  `json:"address"`
}

func (p Place) Coord() Coord { return Coord{Lat: p.Lat, Lon: p.Lon} }

// RideStatus is the ride state machine's vocabulary. COMPLETED, CANCELLED
// and TIMEOUT are terminal.
type RideStatus string

const (
	StatusSearching RideStatus = "SEARCHING_FOR_RIDER"
	StatusStart     RideStatus = "START"
	StatusArrived   RideStatus = "ARRIVED"
	StatusCompleted RideStatus = "COMPLETED"
	StatusCancelled RideStatus = "CANCELLED"
	StatusTimeout   RideStatus = "TIMEOUT"
)

func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusTimeout
}

func (s RideStatus) Valid() bool {
	switch s {
	case StatusSearching, StatusStart, StatusArrived, StatusCompleted, StatusCancelled, StatusTimeout:
		return true
	}
	return false
}

type PassengerStatus string

const (
	PassengerWaiting PassengerStatus = "WAITING"
	PassengerOnboard PassengerStatus = "ONBOARD"
	PassengerDropped PassengerStatus = "DROPPED"
)

type Passenger struct {
	UserID           string          `json:"user_id"`
	Status           PassengerStatus `json:"status"`
	IsOriginalBooker bool            `json:"is_original_booker"`
	JoinedAt         time.Time       `json:"joined_at"`
	BoardedAt        *time.Time      `json:"boarded_at,omitempty"`
}

type CheckpointType string

const (
	CheckpointAccepted CheckpointType = "accepted"
	CheckpointPickup   CheckpointType = "pickup"
	CheckpointOngoing  CheckpointType = "ongoing"
	CheckpointDropoff  CheckpointType = "dropoff"
)

// Checkpoint is a GPS snapshot recorded at a significant trip event.
// Records are append-only and never mutated after creation.
type Checkpoint struct {
	RideID             string         `json:"ride_id"`
	Type               CheckpointType `json:"type"`
	Location           Coord          `json:"location"`
	RecordedAt         time.Time      `json:"recorded_at"`
	DistanceFromPrevKm float64        `json:"distance_from_prev_km"`
}

type TripTimestamps struct {
	RequestTime *time.Time `json:"request_time,omitempty"`
	AcceptTime  *time.Time `json:"accept_time,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	PickupTime  *time.Time `json:"pickup_time,omitempty"`
	DropoffTime *time.Time `json:"dropoff_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
}

type RouteLogs struct {
	EstimatedDistanceKm  float64  `json:"estimated_distance_km"`
	ActualDistanceKm     *float64 `json:"actual_distance_km,omitempty"`
	RouteDistanceKm      *float64 `json:"route_distance_km,omitempty"`
	DeviationPercent     *float64 `json:"deviation_percent,omitempty"`
	SignificantDeviation bool     `json:"significant_deviation"`
}

type EarlyStop struct {
	RequestedBy string    `json:"requested_by"`
	Reason      string    `json:"reason,omitempty"`
	StoppedAt   Coord     `json:"stopped_at"`
	RequestedAt time.Time `json:"requested_at"`
}

type Ride struct {
	ID                     string         `json:"id"`
	CustomerID             string         `json:"customer_id"`
	RiderID                string         `json:"rider_id,omitempty"`
	VehicleClass           string         `json:"vehicle_class"`
	Pickup                 Place          `json:"pickup"`
	Drop                   Place          `json:"drop"`
	DistanceKm             float64        `json:"distance_km"`
	FareEstimate           float64        `json:"fare_estimate"`
	OTP                    string         `json:"otp"`
	Status                 RideStatus     `json:"status"`
	CancelledBy            string         `json:"cancelled_by,omitempty"`
	CancelledAt            *time.Time     `json:"cancelled_at,omitempty"`
	BlacklistedRiderIDs    []string       `json:"blacklisted_rider_ids,omitempty"`
	Passengers             []Passenger    `json:"passengers"`
	MaxPassengers          int            `json:"max_passengers"`
	CurrentPassengerCount  int            `json:"current_passenger_count"`
	AcceptingNewPassengers bool           `json:"accepting_new_passengers"`
	Timestamps             TripTimestamps `json:"trip_timestamps"`
	FinalDistanceKm        *float64       `json:"final_distance_km,omitempty"`
	EarlyStop              *EarlyStop     `json:"early_stop,omitempty"`
	RouteLogs              RouteLogs      `json:"route_logs"`
	RiderLocation          *Coord         `json:"rider_location,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	UpdatedAt              time.Time      `json:"updated_at"`
}

// Blacklisted reports whether riderID has declined or cancelled this ride
// before and must never be offered it again.
func (r *Ride) Blacklisted(riderID string) bool {
	for _, id := range r.BlacklistedRiderIDs {
		if id == riderID {
			return true
		}
	}
	return false
}

// AddToBlacklist records riderID, once.
func (r *Ride) AddToBlacklist(riderID string) {
	if riderID == "" || r.Blacklisted(riderID) {
		return
	}
	r.BlacklistedRiderIDs = append(r.BlacklistedRiderIDs, riderID)
}

func (r *Ride) PassengerIndex(userID string) int {
	for i := range r.Passengers {
		if r.Passengers[i].UserID == userID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers never alias stored state.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	cp := *r
	cp.BlacklistedRiderIDs = append([]string(nil), r.BlacklistedRiderIDs...)
	cp.Passengers = make([]Passenger, len(r.Passengers))
	for i, p := range r.Passengers {
		cp.Passengers[i] = p
		cp.Passengers[i].BoardedAt = copyTime(p.BoardedAt)
	}
	cp.CancelledAt = copyTime(r.CancelledAt)
	cp.Timestamps.RequestTime = copyTime(r.Timestamps.RequestTime)
	cp.Timestamps.AcceptTime = copyTime(r.Timestamps.AcceptTime)
	cp.Timestamps.StartTime = copyTime(r.Timestamps.StartTime)
	cp.Timestamps.PickupTime = copyTime(r.Timestamps.PickupTime)
	cp.Timestamps.DropoffTime = copyTime(r.Timestamps.DropoffTime)
	cp.Timestamps.EndTime = copyTime(r.Timestamps.EndTime)
	cp.FinalDistanceKm = copyFloat(r.FinalDistanceKm)
	cp.RouteLogs.ActualDistanceKm = copyFloat(r.RouteLogs.ActualDistanceKm)
	cp.RouteLogs.RouteDistanceKm = copyFloat(r.RouteLogs.RouteDistanceKm)
	cp.RouteLogs.DeviationPercent = copyFloat(r.RouteLogs.DeviationPercent)
	if r.EarlyStop != nil {
		es := *r.EarlyStop
		cp.EarlyStop = &es
	}
	if r.RiderLocation != nil {
		c := *r.RiderLocation
		cp.RiderLocation = &c
	}
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// RiderLocationEvent is the payload published to the rider-locations topic
// and mirrored into Redis by the locsink consumer.
type RiderLocationEvent struct {
	RiderID      string    `json:"rider_id"`
	Loc          Coord     `json:"loc"`
	HeadingDeg   float64   `json:"heading_deg"`
	VehicleClass string    `json:"vehicle_class"`
	RecordedAt   time.Time `json:"recorded_at"`
}
