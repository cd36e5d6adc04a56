// Package relay fans board events out across server instances through a
// Redis pub/sub channel. Every instance publishes its own commits and
// delivers whatever arrives on the channel to its local displays.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/clinic-tablo/backend/internal/board"
	"github.com/clinic-tablo/backend/internal/event"
	"github.com/clinic-tablo/backend/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Publisher is the part of *goredis.Client the relay publishes through.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

type Options struct {
	Channel        string
	PublishTimeout time.Duration
	QueueSize      int
}

type outbound struct {
	event event.Event
	data  []byte
}

// Relay implements board.Notifier. Notify never waits on Redis: events are
// queued for a single publisher goroutine, which keeps them in order. When
// an event cannot be published it is delivered to local displays instead.
//
// Once the queue overflows the relay is degraded: later events go to the
// backlog, the queued events are delivered locally instead of published,
// and the backlog follows them. No event overtakes an earlier one.
type Relay struct {
	pub   Publisher
	local board.Notifier
	opts  Options
	queue chan outbound
	wake  chan struct{}
	log   zerolog.Logger

	mu      sync.Mutex
	backlog []event.Event
}

func New(pub Publisher, local board.Notifier, opts Options, logger zerolog.Logger) *Relay {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 2 * time.Second
	}
	return &Relay{
		pub:   pub,
		local: local,
		opts:  opts,
		queue: make(chan outbound, opts.QueueSize),
		wake:  make(chan struct{}, 1),
		log:   logger.With().Str("component", "relay").Str("channel", opts.Channel).Logger(),
	}
}

// NewClient builds a go-redis client from a redis:// URL.
func NewClient(redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}

func (r *Relay) Notify(e event.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		r.log.Error().Err(err).Str("kind", string(e.Kind())).Msg("relay marshal error")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.backlog) == 0 {
		select {
		case r.queue <- outbound{event: e, data: data}:
			return
		default:
			r.log.Warn().Msg("relay queue full, delivering locally until drained")
		}
	}
	metrics.RelayPublished.WithLabelValues("dropped").Inc()
	r.backlog = append(r.backlog, e)
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.backlog) > 0
}

// Run publishes queued events until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-r.queue:
			if r.degraded() {
				r.local.Notify(out.event)
			} else {
				r.publish(ctx, out)
			}
		case <-r.wake:
		}
		r.flushBacklog()
	}
}

// flushBacklog delivers the backlog locally once every queued event ahead
// of it has been handled. Nothing enters the queue while the backlog is
// non-empty, so an empty queue here stays empty.
func (r *Relay) flushBacklog() {
	r.mu.Lock()
	if len(r.backlog) == 0 || len(r.queue) > 0 {
		r.mu.Unlock()
		return
	}
	backlog := r.backlog
	r.backlog = nil
	r.mu.Unlock()

	for _, e := range backlog {
		r.local.Notify(e)
	}
	r.log.Info().Int("events", len(backlog)).Msg("relay backlog delivered locally, publishing again")
}

func (r *Relay) publish(ctx context.Context, out outbound) {
	pubCtx, cancel := context.WithTimeout(ctx, r.opts.PublishTimeout)
	defer cancel()

	if err := r.pub.Publish(pubCtx, r.opts.Channel, out.data).Err(); err != nil {
		metrics.RelayPublished.WithLabelValues("error").Inc()
		r.log.Warn().Err(err).Str("kind", string(out.event.Kind())).Msg("relay publish failed, delivering locally")
		r.local.Notify(out.event)
		return
	}
	metrics.RelayPublished.WithLabelValues("ok").Inc()
}

// Subscribe joins the relay channel and waits for Redis to confirm it.
// The caller feeds the returned subscription's Channel to Consume and
// closes it at shutdown.
func (r *Relay) Subscribe(ctx context.Context, client *goredis.Client) (*goredis.PubSub, error) {
	sub := client.Subscribe(ctx, r.opts.Channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", r.opts.Channel, err)
	}
	r.log.Info().Msg("relay subscribed")
	return sub, nil
}

// Consume delivers messages from ch until it closes or ctx is done.
// Malformed payloads are logged and skipped.
func (r *Relay) Consume(ctx context.Context, ch <-chan *goredis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var e event.Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				r.log.Warn().Err(err).Msg("relay received malformed event")
				continue
			}
			metrics.RelayReceived.Inc()
			r.local.Notify(e)
		}
	}
}
