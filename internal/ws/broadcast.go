package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/clinic-tablo/backend/internal/event"
	"github.com/clinic-tablo/backend/internal/metrics"
	"github.com/rs/zerolog"
)

// ErrTooManyConnections is returned by Admit when the connection cap is
// reached.
var ErrTooManyConnections = errors.New("too many display connections")

// Eviction reasons, used as metric labels.
const (
	ReasonSlow       = "slow"
	ReasonWriteError = "write_error"
	ReasonClosed     = "closed"
)

type Options struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	SendBuffer     int
	MaxConnections int // 0 = unlimited
}

func (o Options) withDefaults() Options {
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	return o
}

// Broadcaster fans events out to every registered session. A slow or
// broken session is evicted and never delays delivery to the others.
type Broadcaster struct {
	registry *Registry
	opts     Options
	log      zerolog.Logger

	admitMu sync.Mutex
}

func NewBroadcaster(registry *Registry, opts Options, logger zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		opts:     opts.withDefaults(),
		log:      logger.With().Str("component", "broadcaster").Logger(),
	}
}

// Admit registers conn as a new display session and starts its writer.
func (b *Broadcaster) Admit(conn Conn, remote string) (*Session, error) {
	b.admitMu.Lock()
	defer b.admitMu.Unlock()

	if b.opts.MaxConnections > 0 && b.registry.Len() >= b.opts.MaxConnections {
		return nil, ErrTooManyConnections
	}

	s := newSession(conn, remote, b.opts, b.onWriteError)
	if b.registry.Admit(s) {
		metrics.DisplaysConnected.Inc()
	}
	go s.writePump()

	b.log.Debug().Str("session", s.ID()).Str("remote", remote).Msg("display admitted")
	return s, nil
}

// Remove unregisters s after a normal disconnect. It is a no-op for
// sessions that were already evicted.
func (b *Broadcaster) Remove(s *Session) {
	if b.registry.Evict(s) {
		metrics.DisplaysConnected.Dec()
		b.log.Debug().Str("session", s.ID()).Msg("display disconnected")
	}
	s.close()
}

func (b *Broadcaster) evict(s *Session, reason string, err error) {
	if b.registry.Evict(s) {
		metrics.SessionsEvicted.WithLabelValues(reason).Inc()
		metrics.DisplaysConnected.Dec()
		ev := b.log.Warn()
		if reason == ReasonClosed {
			ev = b.log.Debug()
		}
		ev.Str("session", s.ID()).Str("remote", s.Remote()).Str("reason", reason).Err(err).Msg("display evicted")
	}
	s.abort()
}

func (b *Broadcaster) onWriteError(s *Session, err error) {
	b.evict(s, ReasonWriteError, err)
}

// Broadcast serializes e once and queues it for every registered session.
func (b *Broadcaster) Broadcast(e event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.log.Error().Err(err).Str("kind", string(e.Kind())).Msg("broadcast marshal error")
		return
	}
	metrics.EventsBroadcast.WithLabelValues(string(e.Kind())).Inc()

	sessions := b.registry.Snapshot()
	for _, s := range sessions {
		switch err := s.enqueue(data); {
		case err == nil:
		case errors.Is(err, errQueueFull):
			b.evict(s, ReasonSlow, err)
		default:
			b.evict(s, ReasonClosed, err)
		}
	}
	b.log.Debug().Str("kind", string(e.Kind())).Int("sessions", len(sessions)).Msg("event broadcast")
}

// Notify implements board.Notifier.
func (b *Broadcaster) Notify(e event.Event) {
	b.Broadcast(e)
}

func (b *Broadcaster) ClientCount() int {
	return b.registry.Len()
}

// Close unregisters and closes every session.
func (b *Broadcaster) Close() {
	for _, s := range b.registry.Snapshot() {
		if b.registry.Evict(s) {
			metrics.DisplaysConnected.Dec()
		}
		s.close()
	}
}
