package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinic-tablo/backend/internal/board"
	"github.com/clinic-tablo/backend/internal/event"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback behaves like a Redis channel with one subscriber: every
// published payload comes back on msgs.
type loopback struct {
	mu      sync.Mutex
	err     error
	channel string
	msgs    chan *goredis.Message
}

func newLoopback() *loopback {
	return &loopback{msgs: make(chan *goredis.Message, 64)}
}

func (l *loopback) Publish(ctx context.Context, channel string, message any) *goredis.IntCmd {
	cmd := goredis.NewIntCmd(ctx, "publish", channel, message)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channel = channel
	if l.err != nil {
		cmd.SetErr(l.err)
		return cmd
	}
	l.msgs <- &goredis.Message{Channel: channel, Payload: string(message.([]byte))}
	cmd.SetVal(1)
	return cmd
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Notify(e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) Events() []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Event(nil), r.events...)
}

var _ board.Notifier = (*Relay)(nil)

func startRelay(t *testing.T, pub Publisher, local board.Notifier, opts Options) (*Relay, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	r := New(pub, local, opts, zerolog.Nop())
	go r.Run(ctx)
	return r, ctx
}

func TestRelay_RoundTripPreservesOrder(t *testing.T) {
	lb := newLoopback()
	local := &recorder{}
	r, ctx := startRelay(t, lb, local, Options{Channel: "tablo:events"})
	go r.Consume(ctx, lb.msgs)

	r.Notify(event.StatusUpdate(1, "busy", "", "101"))
	r.Notify(event.TickerUpdate("hello"))
	r.Notify(event.RoomChange(2))

	require.Eventually(t, func() bool { return len(local.Events()) == 3 }, 2*time.Second, 5*time.Millisecond)
	got := local.Events()
	assert.Equal(t, event.StatusChanged, got[0].Kind())
	assert.Equal(t, event.TickerChanged, got[1].Kind())
	id, ok := got[2].Int64Field(event.FieldRoomID)
	require.True(t, ok)
	assert.Equal(t, int64(2), id)

	lb.mu.Lock()
	assert.Equal(t, "tablo:events", lb.channel)
	lb.mu.Unlock()
}

func TestRelay_PublishFailureDeliversLocally(t *testing.T) {
	lb := newLoopback()
	lb.err = errors.New("connection refused")
	local := &recorder{}
	r, _ := startRelay(t, lb, local, Options{Channel: "tablo:events"})

	r.Notify(event.TickerUpdate("still shown"))

	require.Eventually(t, func() bool { return len(local.Events()) == 1 }, 2*time.Second, 5*time.Millisecond)
	text, _ := local.Events()[0].StringField(event.FieldText)
	assert.Equal(t, "still shown", text)
}

// gatedPublisher holds every Publish until gate is closed, then hands the
// event straight to local as if it had come back from Redis.
type gatedPublisher struct {
	gate    chan struct{}
	started chan struct{}
	local   board.Notifier
}

func (g *gatedPublisher) Publish(ctx context.Context, channel string, message any) *goredis.IntCmd {
	cmd := goredis.NewIntCmd(ctx, "publish", channel, message)
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.gate
	var e event.Event
	if err := json.Unmarshal(message.([]byte), &e); err != nil {
		cmd.SetErr(err)
		return cmd
	}
	g.local.Notify(e)
	cmd.SetVal(1)
	return cmd
}

func roomIDs(events []event.Event) []int64 {
	ids := make([]int64, 0, len(events))
	for _, e := range events {
		id, _ := e.Int64Field(event.FieldRoomID)
		ids = append(ids, id)
	}
	return ids
}

func TestRelay_FullQueueKeepsOrder(t *testing.T) {
	local := &recorder{}
	pub := &gatedPublisher{gate: make(chan struct{}), started: make(chan struct{}, 1), local: local}
	r, _ := startRelay(t, pub, local, Options{Channel: "c", QueueSize: 1})

	r.Notify(event.RoomChange(1))
	select {
	case <-pub.started:
	case <-time.After(2 * time.Second):
		t.Fatal("publish never started")
	}
	r.Notify(event.RoomChange(2)) // queued
	r.Notify(event.RoomChange(3)) // overflow
	r.Notify(event.RoomChange(4)) // behind the overflow

	assert.Empty(t, local.Events(), "nothing may be delivered ahead of the event being published")
	close(pub.gate)

	require.Eventually(t, func() bool { return len(local.Events()) == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4}, roomIDs(local.Events()))

	// Drained: the relay publishes again.
	r.Notify(event.RoomChange(5))
	require.Eventually(t, func() bool { return len(local.Events()) == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, roomIDs(local.Events()))
	assert.False(t, r.degraded())
}

func TestRelay_SubscribeFailsWhenUnreachable(t *testing.T) {
	client, err := NewClient("redis://127.0.0.1:1/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	r := New(client, &recorder{}, Options{Channel: "c"}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := r.Subscribe(ctx, client)
	require.Error(t, err)
	assert.Nil(t, sub)
}

func TestRelay_ConsumeSkipsMalformed(t *testing.T) {
	local := &recorder{}
	r := New(newLoopback(), local, Options{Channel: "c"}, zerolog.Nop())

	ch := make(chan *goredis.Message, 3)
	ch <- &goredis.Message{Payload: "not json"}
	ch <- &goredis.Message{Payload: `{"room_id":1}`}
	ch <- &goredis.Message{Payload: `{"type":"TICKER_CHANGED","text":"ok"}`}
	close(ch)

	r.Consume(context.Background(), ch)

	require.Len(t, local.Events(), 1)
	assert.Equal(t, event.TickerChanged, local.Events()[0].Kind())
}

func TestRelay_ConsumeStopsOnCancel(t *testing.T) {
	r := New(newLoopback(), &recorder{}, Options{Channel: "c"}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Consume(ctx, make(chan *goredis.Message))
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after cancel")
	}
}

func TestNewClient_InvalidURL(t *testing.T) {
	_, err := NewClient("not a url")
	require.Error(t, err)

	c, err := NewClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Options().DB)
	require.NoError(t, c.Close())
}
