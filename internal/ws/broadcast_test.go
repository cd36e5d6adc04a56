package ws

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinic-tablo/backend/internal/event"
	"github.com/clinic-tablo/backend/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_AdmitIsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := &Session{id: "a"}

	assert.True(t, r.Admit(s))
	assert.False(t, r.Admit(s), "second admit must not add a duplicate")
	assert.Equal(t, 1, r.Len())
	assert.Len(t, r.Snapshot(), 1)
}

func TestRegistry_EvictAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	s := &Session{id: "a"}

	assert.False(t, r.Evict(s))
	r.Admit(s)
	assert.True(t, r.Evict(s))
	assert.False(t, r.Evict(s))
	assert.Zero(t, r.Len())
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	a, b := &Session{id: "a"}, &Session{id: "b"}
	r.Admit(a)

	snap := r.Snapshot()
	r.Admit(b)
	r.Evict(a)

	require.Len(t, snap, 1)
	assert.Same(t, a, snap[0])
	assert.Equal(t, 1, r.Len())
}

func TestBroadcast_PerSessionOrder(t *testing.T) {
	b := newTestBroadcaster(t, Options{SendBuffer: 256})

	conns := []*fakeConn{newFakeConn(), newFakeConn(), newFakeConn()}
	for _, c := range conns {
		_, err := b.Admit(c, "test")
		require.NoError(t, err)
	}

	const n = 100
	want := make([]int64, 0, n)
	for i := int64(1); i <= n; i++ {
		b.Broadcast(event.RoomChange(i))
		want = append(want, i)
	}

	for _, c := range conns {
		require.Eventually(t, func() bool { return len(c.Frames()) == n }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, want, c.roomIDs(t))
	}
}

func TestBroadcast_WireFormat(t *testing.T) {
	b := newTestBroadcaster(t, Options{})
	c := newFakeConn()
	_, err := b.Admit(c, "test")
	require.NoError(t, err)

	b.Broadcast(event.StatusUpdate(7, "busy", "back at 3", "101"))

	require.Eventually(t, func() bool { return len(c.Frames()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t,
		`{"type":"STATUS_CHANGED","room_id":7,"status":"busy","note":"back at 3","room_number":"101"}`,
		string(c.Frames()[0]))
}

func TestBroadcast_EvictsOnWriteError(t *testing.T) {
	b := newTestBroadcaster(t, Options{})

	healthy := newFakeConn()
	broken := newFakeConn()
	broken.writeErr = errBrokenPipe

	_, err := b.Admit(healthy, "healthy")
	require.NoError(t, err)
	_, err = b.Admit(broken, "broken")
	require.NoError(t, err)

	b.Broadcast(event.RoomChange(1))

	require.Eventually(t, func() bool { return b.ClientCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, broken.isClosed, time.Second, 5*time.Millisecond)

	b.Broadcast(event.RoomChange(2))
	require.Eventually(t, func() bool { return len(healthy.Frames()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2}, healthy.roomIDs(t))
}

func TestBroadcast_EvictsSlowSessionWithoutBlocking(t *testing.T) {
	b := newTestBroadcaster(t, Options{SendBuffer: 1})

	slow := newFakeConn()
	slow.block = make(chan struct{})
	t.Cleanup(func() { close(slow.block) })
	fast := newFakeConn()

	_, err := b.Admit(slow, "slow")
	require.NoError(t, err)
	_, err = b.Admit(fast, "fast")
	require.NoError(t, err)

	start := time.Now()
	for i := int64(1); i <= 5; i++ {
		b.Broadcast(event.RoomChange(i))
		// Let the fast writer drain its one-slot queue.
		require.Eventually(t, func() bool { return len(fast.Frames()) == int(i) }, time.Second, time.Millisecond)
	}
	assert.Less(t, time.Since(start), 3*time.Second, "broadcast blocked on a stalled session")

	assert.Equal(t, 1, b.ClientCount(), "stalled session should be evicted")
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, fast.roomIDs(t))
	require.Eventually(t, slow.isClosed, time.Second, 5*time.Millisecond)
}

func TestBroadcast_EvictsClosedSession(t *testing.T) {
	b := newTestBroadcaster(t, Options{})
	s, err := b.Admit(newFakeConn(), "test")
	require.NoError(t, err)

	s.close()
	b.Broadcast(event.TickerUpdate("hello"))

	assert.Zero(t, b.ClientCount())
}

func TestBroadcast_NoSessions(t *testing.T) {
	b := newTestBroadcaster(t, Options{})
	assert.NotPanics(t, func() { b.Broadcast(event.TickerUpdate("nobody listening")) })
}

func TestBroadcast_UnmarshalableEventIsDropped(t *testing.T) {
	b := newTestBroadcaster(t, Options{})
	c := newFakeConn()
	_, err := b.Admit(c, "test")
	require.NoError(t, err)

	b.Broadcast(event.Event{})
	b.Broadcast(event.RoomChange(3))

	require.Eventually(t, func() bool { return len(c.Frames()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{3}, c.roomIDs(t))
}

func TestSession_SetsWriteDeadline(t *testing.T) {
	b := newTestBroadcaster(t, Options{WriteTimeout: time.Minute})
	c := newFakeConn()
	_, err := b.Admit(c, "test")
	require.NoError(t, err)

	before := time.Now()
	b.Broadcast(event.RoomChange(1))
	require.Eventually(t, func() bool { return len(c.Frames()) == 1 }, time.Second, 5*time.Millisecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.deadlines)
	assert.True(t, c.deadlines[0].After(before.Add(59*time.Second)))
}

func TestAdmit_MaxConnections(t *testing.T) {
	const maxConns = 2
	b := newTestBroadcaster(t, Options{MaxConnections: maxConns})

	var sessions []*Session
	for i := 0; i < maxConns; i++ {
		s, err := b.Admit(newFakeConn(), "test")
		require.NoError(t, err, "Admit[%d]", i)
		sessions = append(sessions, s)
	}

	_, err := b.Admit(newFakeConn(), "test")
	assert.True(t, errors.Is(err, ErrTooManyConnections), "got %v", err)
	assert.Equal(t, maxConns, b.ClientCount())

	b.Remove(sessions[0])
	_, err = b.Admit(newFakeConn(), "test")
	require.NoError(t, err)
	assert.Equal(t, maxConns, b.ClientCount())
}

func TestAdmit_ZeroMaxConnectionsIsUnlimited(t *testing.T) {
	b := newTestBroadcaster(t, Options{})
	for i := 0; i < 10; i++ {
		_, err := b.Admit(newFakeConn(), "test")
		require.NoError(t, err)
	}
	assert.Equal(t, 10, b.ClientCount())
}

func TestRemove_DuringBroadcast(t *testing.T) {
	b := newTestBroadcaster(t, Options{SendBuffer: 1024})

	var sessions []*Session
	for i := 0; i < 20; i++ {
		s, err := b.Admit(newFakeConn(), "test")
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(0); i < 200; i++ {
			b.Broadcast(event.RoomChange(i + 1))
		}
	}()
	for _, s := range sessions[:10] {
		b.Remove(s)
	}
	<-done

	assert.Equal(t, 10, b.ClientCount())
}

func TestClose_ClosesAllSessions(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), Options{}, zerolog.Nop())
	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	for _, c := range conns {
		_, err := b.Admit(c, "test")
		require.NoError(t, err)
	}

	b.Close()
	assert.Zero(t, b.ClientCount())
	for _, c := range conns {
		require.Eventually(t, c.isClosed, time.Second, 5*time.Millisecond)
	}
}

func TestDisplaysGauge_TracksConcurrentAdmitAndRemove(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), Options{}, zerolog.Nop())
	base := testutil.ToFloat64(metrics.DisplaysConnected)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := b.Admit(newFakeConn(), "test")
			if err != nil {
				t.Error(err)
				return
			}
			if i%2 == 0 {
				b.Remove(s)
				b.Remove(s)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 25, b.ClientCount())
	assert.Equal(t, base+25, testutil.ToFloat64(metrics.DisplaysConnected))

	b.Close()
	b.Close()
	assert.Equal(t, base, testutil.ToFloat64(metrics.DisplaysConnected))
}
