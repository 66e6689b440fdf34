package notify

// Envelope is the wire shape of every server-to-client event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Outbound event names. Clients treat these as cache-invalidation signals:
// the authoritative ride record is always re-fetchable on reconnect.
const (
	EventNewRideOffer       = "new-ride-offer"
	EventAllSearchingRides  = "all-searching-rides"
	EventRideUpdated        = "ride-updated"
	EventRideAccepted       = "ride-accepted"
	EventRideCancelled      = "ride-cancelled"
	EventRideOfferWithdrawn = "ride-offer-withdrawn"
	EventRideTimedOut       = "ride-timed-out"
	EventPassengerUpdated   = "passenger-updated"
	EventYourStatusUpdated  = "your-status-updated"
	EventError              = "error"
)
