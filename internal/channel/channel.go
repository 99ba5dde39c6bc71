// Package channel keeps one logical notification connection to the
// workspace backend alive. A Channel is an owned handle: it reconnects on
// abnormal closure with a single pending timer and stops for good on Close.
package channel

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomsync/internal/credential"
	"roomsync/internal/models"
)

type Channel struct {
	id     uuid.UUID
	cfg    Config
	dialer Dialer
	creds  credential.Source
	clock  clockwork.Clock
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      models.ChannelState
	retryCount int
	attempt    uint64
	conn       Conn
	timer      clockwork.Timer
	closed     bool

	subMu   sync.RWMutex
	subs    []*subscription
	nextSub uint64
}

type Option func(*Channel)

func WithDialer(d Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

func WithCredentials(src credential.Source) Option {
	return func(c *Channel) { c.creds = src }
}

func WithClock(clk clockwork.Clock) Option {
	return func(c *Channel) { c.clock = clk }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Channel) { c.log = l }
}

// Open validates cfg, creates the handle and starts the first connection
// attempt in the background, so it never waits on the network. Only
// configuration problems are returned as errors; a failed attempt schedules
// a reconnect. Cancelling ctx closes the channel.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("channel config: %w", err)
	}
	cfg.applyDefaults()

	c := &Channel{
		id:     uuid.New(),
		cfg:    cfg,
		dialer: WebsocketDialer{},
		creds:  credential.None(),
		clock:  clockwork.NewRealClock(),
		state:  models.ChannelIdle,
	}
	c.log = log.Logger
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("component", "channel").Str("channel_id", c.id.String()).Logger()

	c.ctx, c.cancel = context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.ctx.Done():
		}
	}()

	c.mu.Lock()
	c.state = models.ChannelConnecting
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()
	go c.dial(attempt)
	return c, nil
}

func (c *Channel) ID() uuid.UUID { return c.id }

func (c *Channel) State() models.ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RetryCount is the number of reconnects scheduled since the last
// successful open.
func (c *Channel) RetryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retryCount
}

// Close tears the channel down: the pending reconnect is cancelled and the
// live connection, if any, is closed. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = models.ChannelClosed
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, c.clock.Now().Add(c.cfg.WriteTimeout))
		conn.Close()
	}
	c.log.Info().Msg("channel closed")
	return nil
}

func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed || c.state == models.ChannelConnecting || c.state == models.ChannelOpen {
		c.mu.Unlock()
		return
	}
	c.state = models.ChannelConnecting
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()
	c.dial(attempt)
}

// dial runs one connection attempt. The state is already Connecting.
func (c *Channel) dial(attempt uint64) {
	token, err := credential.Resolve(c.ctx, c.creds)
	if err != nil {
		c.log.Warn().Err(err).Msg("token unavailable, connecting without it")
		token = ""
	}

	dialCtx, cancel := context.WithTimeout(c.ctx, c.cfg.DialTimeout)
	conn, err := c.dialer.Dial(dialCtx, c.endpoint(token))
	cancel()
	if err != nil {
		if c.ctx.Err() == nil {
			c.log.Warn().Err(err).Msg("connect failed")
		}
		c.connectionLost(attempt)
		return
	}

	c.mu.Lock()
	if c.closed || attempt != c.attempt {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = models.ChannelOpen
	c.retryCount = 0
	c.mu.Unlock()

	c.log.Info().Bool("authenticated", token != "").Msg("channel connected")

	done := make(chan struct{})
	go c.readLoop(attempt, conn, done)
	go c.keepalive(conn, done)
}

// connectionLost handles abnormal closure of the given attempt. Reports
// for an older attempt, or after Close, are ignored.
func (c *Channel) connectionLost(attempt uint64) {
	c.mu.Lock()
	if c.closed || attempt != c.attempt {
		c.mu.Unlock()
		return
	}
	conn := c.conn
	c.conn = nil
	c.state = models.ChannelClosed
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

// scheduleReconnectLocked arms the reconnect timer unless one is already
// pending. Must be called with c.mu held.
func (c *Channel) scheduleReconnectLocked() {
	if c.timer != nil {
		return
	}
	c.retryCount++
	delay := c.cfg.Backoff.Next(c.retryCount)
	c.timer = c.clock.AfterFunc(delay, c.reconnect)
	c.log.Info().Int("retry", c.retryCount).Dur("delay", delay).Msg("reconnect scheduled")
}

func (c *Channel) reconnect() {
	c.mu.Lock()
	c.timer = nil
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.connect()
}

func (c *Channel) readLoop(attempt uint64, conn Conn, done chan<- struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.live(attempt) {
				c.log.Warn().Err(err).Msg("connection lost")
			}
			c.connectionLost(attempt)
			return
		}
		if !c.live(attempt) {
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) keepalive(conn Conn, done <-chan struct{}) {
	if c.cfg.PingInterval <= 0 {
		return
	}
	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.Chan():
			if err := conn.WriteControl(websocket.PingMessage, nil, c.clock.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				conn.Close()
				return
			}
		}
	}
}

// live reports whether attempt is still the current, un-closed connection.
func (c *Channel) live(attempt uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && attempt == c.attempt
}

func (c *Channel) endpoint(token string) string {
	if token == "" {
		return c.cfg.URL
	}
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return c.cfg.URL
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}
