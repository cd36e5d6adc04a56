// Package api serves the board over HTTP: the full-state read used by
// displays to resync, the admin write endpoints, the display websocket,
// health and metrics.
package api

import (
	"net/http"
	"time"

	"github.com/clinic-tablo/backend/internal/board"
	"github.com/clinic-tablo/backend/internal/config"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ClientCounter reports how many displays are connected.
type ClientCounter interface {
	ClientCount() int
}

type Deps struct {
	Service  *board.Service
	Displays ClientCounter
	// Live is the display websocket endpoint. Nil disables /ws/tablo.
	Live           http.Handler
	Admin          config.AdminConfig
	AllowedOrigins []string
	Logger         zerolog.Logger
}

type Server struct {
	svc      *board.Service
	displays ClientCounter
	live     http.Handler
	admin    config.AdminConfig
	origins  []string
	started  time.Time
	log      zerolog.Logger
}

func NewServer(d Deps) *Server {
	return &Server{
		svc:      d.Service,
		displays: d.Displays,
		live:     d.Live,
		admin:    d.Admin,
		origins:  d.AllowedOrigins,
		started:  time.Now(),
		log:      d.Logger.With().Str("component", "api").Logger(),
	}
}

// Handler returns the complete route table wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests, securityHeaders)

	r.Methods(http.MethodGet).Path("/api/get-display").HandlerFunc(s.getDisplay)
	r.Methods(http.MethodPatch).Path("/api/update-status").Handler(s.requireAdmin(s.updateStatus))
	r.Methods(http.MethodGet).Path("/api/doctors").HandlerFunc(s.listDoctors)
	r.Methods(http.MethodPost).Path("/api/doctors").Handler(s.requireAdmin(s.createDoctor))
	r.Methods(http.MethodPost).Path("/api/rooms").Handler(s.requireAdmin(s.createRoom))
	r.Methods(http.MethodDelete).Path("/api/rooms/{room_id}").Handler(s.requireAdmin(s.deleteRoom))
	r.Methods(http.MethodPatch).Path("/api/rooms/{room_id}/details").Handler(s.requireAdmin(s.updateRoomDetails))
	r.Methods(http.MethodPatch).Path("/api/update-ticker").Handler(s.requireAdmin(s.updateTicker))

	r.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.healthz)
	r.Methods(http.MethodGet).Path("/metrics").Handler(promhttp.Handler())
	if s.live != nil {
		r.Methods(http.MethodGet).Path("/ws/tablo").Handler(s.live)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return s.cors(r)
}
