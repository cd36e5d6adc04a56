package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

// fakeConn records text frames. When block is set, WriteMessage waits until
// the channel is closed or the conn is closed.
type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	deadlines []time.Time
	writeErr  error
	block     chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{closed: make(chan struct{})}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.block != nil {
		select {
		case <-c.block:
		case <-c.closed:
			return websocket.ErrCloseSent
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if messageType == websocket.TextMessage {
		c.frames = append(c.frames, append([]byte(nil), data...))
	}
	return nil
}

func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadlines = append(c.deadlines, t)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

// roomIDs decodes the room_id of every recorded frame.
func (c *fakeConn) roomIDs(t *testing.T) []int64 {
	t.Helper()
	var ids []int64
	for _, f := range c.Frames() {
		var msg struct {
			RoomID int64 `json:"room_id"`
		}
		require.NoError(t, json.Unmarshal(f, &msg))
		ids = append(ids, msg.RoomID)
	}
	return ids
}

func newTestBroadcaster(t *testing.T, opts Options) *Broadcaster {
	t.Helper()
	b := NewBroadcaster(NewRegistry(), opts, zerolog.Nop())
	t.Cleanup(b.Close)
	return b
}
