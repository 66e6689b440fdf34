package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/models"
)

type createRideRequest struct {
	CustomerID   string       `json:"customer_id"`
	VehicleClass string       `json:"vehicle_class"`
	Pickup       models.Place `json:"pickup"`
	Drop         models.Place `json:"drop"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req createRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.rides.Create(r.Context(), req.CustomerID, req.VehicleClass, req.Pickup, req.Drop)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.store.GetRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "ride not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleListSearching(w http.ResponseWriter, r *http.Request) {
	rides, err := s.store.ListByStatus(r.Context(), models.StatusSearching)
	if err != nil {
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, rides)
}

type acceptRideRequest struct {
	RiderID string        `json:"rider_id"`
	Coords  *models.Coord `json:"coords,omitempty"`
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	var req acceptRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.rides.Accept(r.Context(), mux.Vars(r)["id"], req.RiderID, req.Coords)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

type updateStatusRequest struct {
	Status models.RideStatus `json:"status"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.rides.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

type cancelRideRequest struct {
	ActorID string `json:"actor_id"`
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	var req cancelRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.rides.Cancel(r.Context(), mux.Vars(r)["id"], req.ActorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

type earlyStopRequest struct {
	ActorID  string       `json:"actor_id"`
	Location models.Coord `json:"location"`
	Reason   string       `json:"reason,omitempty"`
}

func (s *Server) handleEarlyStop(w http.ResponseWriter, r *http.Request) {
	var req earlyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ride, err := s.rides.RequestEarlyStop(r.Context(), mux.Vars(r)["id"], req.ActorID, req.Location, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

type joinRideRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleJoinRide(w http.ResponseWriter, r *http.Request) {
	var req joinRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.rides.RequestJoin(r.Context(), mux.Vars(r)["id"], req.UserID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"state": "pending-approval"})
}

type resolveJoinRequest struct {
	RiderID string `json:"rider_id"`
	Approve bool   `json:"approve"`
}

func (s *Server) handleResolveJoin(w http.ResponseWriter, r *http.Request) {
	var req resolveJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	vars := mux.Vars(r)
	ride, err := s.rides.ResolveJoin(r.Context(), vars["id"], req.RiderID, vars["passenger_id"], req.Approve)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("response encode failed", "error", err)
	}
}

// writeError maps the lifecycle taxonomy onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case lifecycle.IsValidation(err):
		status = http.StatusBadRequest
	case lifecycle.IsConflict(err):
		status = http.StatusConflict
	case lifecycle.IsNotFound(err):
		status = http.StatusNotFound
	case lifecycle.IsUnauthorized(err):
		status = http.StatusForbidden
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
