// Package httpapi exposes the coordinator over REST and WebSocket. REST
// carries request/response operations; the WebSocket surface carries the
// real-time event stream for connected riders and customers.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
)

type Server struct {
	router    *mux.Router
	logger    *slog.Logger
	rides     *lifecycle.Controller
	engine    *dispatch.Engine
	presence  *presence.Registry
	fanout    *notify.Fanout
	store     storage.RideStore
	locations *ingest.KafkaProducer // nil when kafka is not configured
	upgrader  websocket.Upgrader
}

func NewServer(logger *slog.Logger, rides *lifecycle.Controller, engine *dispatch.Engine, reg *presence.Registry, fanout *notify.Fanout, store storage.RideStore, locations *ingest.KafkaProducer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:    mux.NewRouter(),
		logger:    logger,
		rides:     rides,
		engine:    engine,
		presence:  reg,
		fanout:    fanout,
		store:     store,
		locations: locations,
		upgrader:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleCreateRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/searching", s.handleListSearching).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods(http.MethodGet)
	api.HandleFunc("/rides/{id}/accept", s.handleAcceptRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/status", s.handleUpdateStatus).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/early-stop", s.handleEarlyStop).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/join", s.handleJoinRide).Methods(http.MethodPost)
	api.HandleFunc("/rides/{id}/join/{passenger_id}/resolve", s.handleResolveJoin).Methods(http.MethodPost)

	s.router.HandleFunc("/ws/{user_id}", s.handleWS)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler())
}

// Handler wraps the router with CORS for browser clients.
func (s *Server) Handler() http.Handler {
	return handlers.CORS(
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", "X-Request-ID"}),
	)(s.router)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }
