package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/clinic-tablo/backend/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	errQueueFull     = errors.New("send queue full")
	errSessionClosed = errors.New("session closed")
)

// Conn is the subset of *websocket.Conn a session writes through.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Session is one connected display. Frames queued with enqueue are written
// in order by a single writer goroutine.
type Session struct {
	id     string
	remote string
	conn   Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	writeTimeout time.Duration
	pingInterval time.Duration

	// onWriteError is called once by the writer when a write fails.
	onWriteError func(*Session, error)
}

func newSession(conn Conn, remote string, opts Options, onWriteError func(*Session, error)) *Session {
	return &Session{
		id:           uuid.NewString(),
		remote:       remote,
		conn:         conn,
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
		pingInterval: opts.PingInterval,
		onWriteError: onWriteError,
	}
}

func (s *Session) ID() string     { return s.id }
func (s *Session) Remote() string { return s.remote }

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// enqueue never blocks. It fails when the session is closed or its queue
// is full.
func (s *Session) enqueue(data []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	default:
		return errQueueFull
	}
}

func (s *Session) close() {
	s.once.Do(func() { close(s.done) })
}

// abort closes the session and its transport, unblocking a writer stuck
// in a write.
func (s *Session) abort() {
	s.close()
	_ = s.conn.Close()
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) writePump() {
	defer s.conn.Close()

	var tick <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-s.done:
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeTimeout))
			return
		case msg := <-s.send:
			if err := s.write(msg); err != nil {
				s.fail(err)
				return
			}
		case <-tick:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				s.fail(err)
				return
			}
		}
	}
}

func (s *Session) write(msg []byte) error {
	start := time.Now()
	if err := s.conn.SetWriteDeadline(start.Add(s.writeTimeout)); err != nil {
		return err
	}
	err := s.conn.WriteMessage(websocket.TextMessage, msg)
	metrics.SendDuration.Observe(time.Since(start).Seconds())
	return err
}

func (s *Session) fail(err error) {
	if s.closed() {
		return
	}
	if s.onWriteError != nil {
		s.onWriteError(s, err)
	}
	s.close()
}
