package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
)

// inboundEvent is the client-to-server envelope.
type inboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type onDutyPayload struct {
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	HeadingDeg   float64 `json:"heading_deg"`
	VehicleClass string  `json:"vehicle_class"`
	DisplayName  string  `json:"display_name"`
}

type locationPayload struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	HeadingDeg float64 `json:"heading_deg"`
	RideID     string  `json:"ride_id,omitempty"`
}

type ridePayload struct {
	RideID       string        `json:"ride_id"`
	VehicleClass string        `json:"vehicle_class,omitempty"`
	Pickup       models.Place  `json:"pickup,omitempty"`
	Drop         models.Place  `json:"drop,omitempty"`
	Status       string        `json:"status,omitempty"`
	Coords       *models.Coord `json:"coords,omitempty"`
	PassengerID  string        `json:"passenger_id,omitempty"`
	Approve      bool          `json:"approve,omitempty"`
	Location     models.Coord  `json:"location,omitempty"`
	Reason       string        `json:"reason,omitempty"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]
	role := r.URL.Query().Get("role")
	if role != "rider" {
		role = "customer"
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := notify.NewSession(userID, role, conn)
	s.fanout.Hub().Register(sess)
	s.logger.Info("session connected", "user_id", userID, "role", role)

	defer func() {
		s.fanout.Hub().Unregister(sess)
		if riderID, wasOnDuty := s.presence.OnDisconnect(sess); wasOnDuty {
			s.logger.Info("rider dropped off duty on disconnect", "rider_id", riderID)
		}
		observability.RidersOnDuty.Set(float64(s.presence.Count()))
		_ = sess.Close()
		s.logger.Info("session disconnected", "user_id", userID)
	}()

	// A freshly connected rider gets the current searching pool so a missed
	// offer is recoverable without replaying events.
	if role == "rider" {
		s.sendSearchingSnapshot(r.Context(), userID)
	}

	for {
		var ev inboundEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		s.dispatchInbound(r.Context(), sess, ev)
	}
}

func (s *Server) dispatchInbound(ctx context.Context, sess *notify.Session, ev inboundEvent) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var err error
	switch ev.Event {
	case "go-on-duty":
		err = s.onGoOnDuty(ctx, sess, ev.Data)
	case "go-off-duty":
		s.presence.SetOffDuty(sess.UserID)
		observability.RidersOnDuty.Set(float64(s.presence.Count()))
	case "update-location":
		err = s.onUpdateLocation(ctx, sess, ev.Data)
	case "subscribe-to-ride":
		err = s.onSubscribe(ctx, sess, ev.Data)
	case "create-ride":
		err = s.onCreateRide(ctx, sess, ev.Data)
	case "accept-ride":
		err = s.onAcceptRide(ctx, sess, ev.Data)
	case "update-ride-status":
		err = s.onUpdateStatus(ctx, ev.Data)
	case "cancel-ride":
		err = s.onCancelRide(ctx, sess, ev.Data)
	case "join-ride":
		err = s.onJoinRide(ctx, sess, ev.Data)
	case "resolve-join":
		err = s.onResolveJoin(ctx, sess, ev.Data)
	case "request-early-stop":
		err = s.onEarlyStop(ctx, sess, ev.Data)
	default:
		err = &jsonError{"unknown event: " + ev.Event}
	}
	if err != nil {
		s.logger.Debug("inbound event failed", "user_id", sess.UserID, "event", ev.Event, "error", err)
		_ = sess.Send(notify.EventError, map[string]string{"message": err.Error()})
	}
}

type jsonError struct{ msg string }

func (e *jsonError) Error() string { return e.msg }

func (s *Server) onGoOnDuty(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p onDutyPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	loc := models.Coord{Lat: p.Lat, Lon: p.Lon}
	s.presence.SetOnDuty(sess.UserID, loc, p.HeadingDeg, p.VehicleClass, p.DisplayName, sess)
	observability.RidersOnDuty.Set(float64(s.presence.Count()))
	s.publishLocation(sess.UserID, loc, p.HeadingDeg, p.VehicleClass)
	s.sendSearchingSnapshot(ctx, sess.UserID)
	return nil
}

func (s *Server) onUpdateLocation(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p locationPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	loc := models.Coord{Lat: p.Lat, Lon: p.Lon}
	if s.presence.UpdateLocation(sess.UserID, loc, p.HeadingDeg) {
		entry, _ := s.presence.Get(sess.UserID)
		s.publishLocation(sess.UserID, loc, p.HeadingDeg, entry.VehicleClass)
	}
	if p.RideID != "" {
		return s.rides.RecordRiderLocation(ctx, p.RideID, sess.UserID, loc)
	}
	return nil
}

func (s *Server) onSubscribe(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p ridePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	s.fanout.Hub().Subscribe(p.RideID, sess.UserID)
	if ride, err := s.store.GetRide(ctx, p.RideID); err == nil {
		_ = sess.Send(notify.EventRideUpdated, ride)
	}
	return nil
}

func (s *Server) onCreateRide(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p ridePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	ride, err := s.rides.Create(ctx, sess.UserID, p.VehicleClass, p.Pickup, p.Drop)
	if err != nil {
		return err
	}
	s.fanout.Hub().Subscribe(ride.ID, sess.UserID)
	return sess.Send(notify.EventRideUpdated, ride)
}

func (s *Server) onAcceptRide(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p ridePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	_, err := s.rides.Accept(ctx, p.RideID, sess.UserID, p.Coords)
	return err
}

func (s *Server) onUpdateStatus(ctx context.Context, data json.RawMessage) error {
	var p ridePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	_, err := s.rides.UpdateStatus(ctx, p.RideID, models.RideStatus(p.Status))
	return err
}

func (s *Server) onCancelRide(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p ridePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	_, err := s.rides.Cancel(ctx, p.RideID, sess.UserID)
	return err
}

func (s *Server) onJoinRide(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p ridePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	return s.rides.RequestJoin(ctx, p.RideID, sess.UserID)
}

func (s *Server) onResolveJoin(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p ridePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	_, err := s.rides.ResolveJoin(ctx, p.RideID, sess.UserID, p.PassengerID, p.Approve)
	return err
}

func (s *Server) onEarlyStop(ctx context.Context, sess *notify.Session, data json.RawMessage) error {
	var p ridePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	_, err := s.rides.RequestEarlyStop(ctx, p.RideID, sess.UserID, p.Location, p.Reason)
	return err
}

func (s *Server) sendSearchingSnapshot(ctx context.Context, riderID string) {
	rides, err := s.store.ListByStatus(ctx, models.StatusSearching)
	if err != nil {
		s.logger.Warn("searching snapshot read failed", "error", err)
		return
	}
	s.fanout.AllSearchingRides(riderID, rides)
}

func (s *Server) publishLocation(riderID string, loc models.Coord, headingDeg float64, vehicleClass string) {
	if s.locations == nil {
		return
	}
	ev := models.RiderLocationEvent{
		RiderID:      riderID,
		Loc:          loc,
		HeadingDeg:   headingDeg,
		VehicleClass: vehicleClass,
		RecordedAt:   time.Now(),
	}
	if err := s.locations.PublishLocation(ev); err != nil {
		s.logger.Debug("location publish failed", "rider_id", riderID, "error", err)
	}
}
