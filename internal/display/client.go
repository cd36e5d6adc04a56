// Package display is a board terminal: it keeps a local copy of the board
// in sync with the server over the event stream, treating every event as
// a hint and the full-state endpoint as the source of truth.
package display

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/clinic-tablo/backend/internal/board"
	"github.com/clinic-tablo/backend/internal/event"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	statePath = "/api/get-display"
	livePath  = "/ws/tablo"
)

type Options struct {
	// ServerURL is the board server base URL, e.g. http://10.0.0.5:8000.
	ServerURL  string
	Debounce   time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration

	Clock      clockwork.Clock
	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// OnState is called with every new local state, from the client's
	// goroutine.
	OnState func(board.FullState)
}

type Client struct {
	stateURL string
	liveURL  string
	opts     Options
	log      zerolog.Logger

	mu    sync.RWMutex
	state board.FullState
	have  bool
}

func New(opts Options, logger zerolog.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch base.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("server url %q must be http or https", opts.ServerURL)
	}

	live := *base
	live.Scheme = "ws"
	if base.Scheme == "https" {
		live.Scheme = "wss"
	}

	if opts.Debounce <= 0 {
		opts.Debounce = 250 * time.Millisecond
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}

	return &Client{
		stateURL: base.String() + statePath,
		liveURL:  live.String() + livePath,
		opts:     opts,
		log:      logger.With().Str("component", "display").Logger(),
	}, nil
}

// State returns the current local board and whether a full fetch has
// ever succeeded.
func (c *Client) State() (board.FullState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, c.have
}

// Run keeps the display connected until ctx is done, resyncing on every
// new connection.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.opts.MinBackoff
	for {
		synced, err := c.connect(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if synced {
			backoff = c.opts.MinBackoff
		}
		c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("display connection lost")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.opts.Clock.After(backoff):
		}
		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// connect runs one connection. synced reports whether the initial full
// fetch succeeded.
func (c *Client) connect(ctx context.Context) (synced bool, err error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.liveURL, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.liveURL, err)
	}
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan event.Event, 64)
	readErr := make(chan error, 1)
	go c.readLoop(connCtx, conn, events, readErr)

	if err := c.Resync(ctx); err != nil {
		return false, err
	}
	c.log.Info().Str("server", c.opts.ServerURL).Msg("display synced")

	var (
		timer   clockwork.Timer
		pending <-chan time.Time
	)
	schedule := func() {
		if pending != nil {
			return
		}
		if timer == nil {
			timer = c.opts.Clock.NewTimer(c.opts.Debounce)
		} else {
			timer.Reset(c.opts.Debounce)
		}
		pending = timer.Chan()
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	// Events read before the fetch completed are superseded by it. A
	// refetch is still scheduled in case one raced the response.
	if dropped := drain(events); dropped > 0 {
		c.log.Debug().Int("events", dropped).Msg("dropped events older than full fetch")
		schedule()
	}

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-readErr:
			return true, err
		case e := <-events:
			c.Apply(e)
			schedule()
		case <-pending:
			pending = nil
			if err := c.Resync(ctx); err != nil {
				return true, err
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- event.Event, errc chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		var e event.Event
		if err := json.Unmarshal(data, &e); err != nil {
			c.log.Warn().Err(err).Msg("ignoring malformed event")
			continue
		}
		select {
		case out <- e:
		case <-ctx.Done():
			return
		}
	}
}

func drain(ch <-chan event.Event) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

// Resync replaces the local board with the server's full state.
func (c *Client) Resync(ctx context.Context) error {
	state, err := c.fetch(ctx)
	if err != nil {
		return err
	}
	c.publish(state)
	return nil
}

func (c *Client) fetch(ctx context.Context) (board.FullState, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.stateURL, nil)
	if err != nil {
		return board.FullState{}, err
	}
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return board.FullState{}, fmt.Errorf("fetch full state: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return board.FullState{}, fmt.Errorf("fetch full state: unexpected status %s", resp.Status)
	}
	var state board.FullState
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return board.FullState{}, fmt.Errorf("decode full state: %w", err)
	}
	return state, nil
}

// Apply patches the local board with whatever an event carries. Events
// for rooms the display does not know, or without the relevant fields,
// leave the board unchanged; the next full fetch picks them up.
func (c *Client) Apply(e event.Event) {
	c.mu.RLock()
	state, have := c.state, c.have
	c.mu.RUnlock()
	if !have {
		return
	}

	changed := false
	switch e.Kind() {
	case event.StatusChanged:
		id, ok := e.Int64Field(event.FieldRoomID)
		if !ok {
			break
		}
		i := slices.IndexFunc(state.Rooms, func(r board.RoomView) bool { return r.ID == id })
		if i < 0 {
			break
		}
		state.Rooms = slices.Clone(state.Rooms)
		room := &state.Rooms[i]
		if v, ok := e.StringField(event.FieldStatus); ok {
			room.Status, changed = v, true
		}
		if v, ok := e.StringField(event.FieldNote); ok {
			room.StatusNote, changed = v, true
		}
		if v, ok := e.StringField(event.FieldRoomNumber); ok {
			room.Number, changed = v, true
		}
	case event.TickerChanged:
		if v, ok := e.StringField(event.FieldText); ok {
			state.Ticker, changed = v, true
		}
	}

	if changed {
		c.publish(state)
	}
}

func (c *Client) publish(state board.FullState) {
	c.mu.Lock()
	c.state, c.have = state, true
	c.mu.Unlock()
	if c.opts.OnState != nil {
		c.opts.OnState(state)
	}
}
