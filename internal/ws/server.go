package ws

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clinic-tablo/backend/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const maxInboundMessage = 4096

// Handler upgrades display connections and keeps them registered with the
// Broadcaster until the peer goes away.
type Handler struct {
	broadcaster    *Broadcaster
	upgrader       websocket.Upgrader
	pongTimeout    time.Duration
	allowAll       bool
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	log            zerolog.Logger
}

func NewHandler(b *Broadcaster, allowedOrigins []string, pongTimeout time.Duration, logger zerolog.Logger) *Handler {
	h := &Handler{
		broadcaster:    b,
		pongTimeout:    pongTimeout,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		log:            logger.With().Str("component", "ws").Logger(),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			h.allowAll = true
			continue
		}
		h.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			h.allowedHosts[parsed.Host] = true
		}
	}

	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		metrics.AdmissionFailures.WithLabelValues("upgrade").Inc()
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("ws upgrade error")
		return
	}

	s, err := h.broadcaster.Admit(conn, r.RemoteAddr)
	if err != nil {
		reason := "error"
		if errors.Is(err, ErrTooManyConnections) {
			reason = "max_connections"
		}
		metrics.AdmissionFailures.WithLabelValues(reason).Inc()
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("display rejected")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	h.log.Info().Str("session", s.ID()).Str("remote", r.RemoteAddr).Msg("display connected")
	defer func() {
		h.broadcaster.Remove(s)
		h.log.Info().Str("session", s.ID()).Str("remote", r.RemoteAddr).Msg("display disconnected")
	}()

	h.readLoop(conn)
}

// readLoop discards inbound frames. It returns when the peer disconnects,
// the session is closed, or no frame or pong arrives within pongTimeout.
func (h *Handler) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxInboundMessage)
	extend := func() {
		if h.pongTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(h.pongTimeout))
		}
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		extend()
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowAll {
		return true
	}

	if len(h.allowedOrigins) > 0 {
		if h.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return h.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := parsed.Hostname()
	return parsed.Host == r.Host || host == "localhost" || host == "127.0.0.1" || host == "::1"
}
