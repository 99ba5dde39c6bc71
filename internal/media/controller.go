// Package media drives one conferencing session: it obtains a credential,
// hands it to the transport and projects the transport's roster into a
// display state the UI can render.
package media

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomsync/internal/models"
)

// DefaultSettleDelay is how long layout listeners wait after the secondary
// view is toggled.
const DefaultSettleDelay = 100 * time.Millisecond

var (
	ErrNoCredential = errors.New("no media credential")
	ErrLeft         = errors.New("session already left")
)

// Transport is the media connection. Roster returns snapshots; OnChange
// fires after any roster, publication or connection state change.
type Transport interface {
	Connect(ctx context.Context, url, token string) error
	Disconnect() error
	Roster() []models.Participant
	State() models.TransportState
	OnChange(func())
}

// SessionView is what the UI renders for a session.
type SessionView struct {
	Session          string              `json:"session"`
	State            models.SessionState `json:"state"`
	Error            string              `json:"error,omitempty"`
	ParticipantCount int                 `json:"participantCount"`
	Tracks           []models.TrackRef   `json:"tracks"`
	SecondaryView    bool                `json:"secondaryView"`
}

type Controller struct {
	issuer    TokenIssuer
	transport Transport
	serverURL string
	clock     clockwork.Clock
	log       zerolog.Logger
	settle    time.Duration

	// viewMu orders view updates: the transport read, the projection and
	// the publish of one reconcile happen before the next one starts.
	viewMu sync.Mutex

	mu         sync.Mutex
	session    string
	identity   string
	token      string
	failure    error
	left       bool
	secondary  bool
	acquireSeq uint64
	view       SessionView

	// connected is set once the transport reaches Connected during the
	// current credential attempt.
	connected bool

	// layoutEpoch invalidates pending layout notifications on every toggle
	// and on Leave.
	layoutEpoch uint64

	layoutMu   sync.Mutex
	layoutSubs []layoutSub
	nextLayout uint64

	subMu       sync.Mutex
	subscribers map[chan SessionView]struct{}
}

type layoutSub struct {
	id uint64
	fn func(secondary bool)
}

type Option func(*Controller)

func WithClock(clk clockwork.Clock) Option {
	return func(c *Controller) { c.clock = clk }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) { c.settle = d }
}

// NewController wires the controller to its transport. serverURL is the
// media server the transport connects to once a credential is held.
func NewController(issuer TokenIssuer, transport Transport, serverURL string, opts ...Option) *Controller {
	c := &Controller{
		issuer:      issuer,
		transport:   transport,
		serverURL:   serverURL,
		clock:       clockwork.NewRealClock(),
		log:         log.Logger,
		settle:      DefaultSettleDelay,
		subscribers: make(map[chan SessionView]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With().Str("component", "media").Logger()

	c.mu.Lock()
	c.view = c.projectLocked(nil, transport.State())
	c.mu.Unlock()

	transport.OnChange(c.reconcile)
	return c
}

// AcquireCredential requests a credential for the session. On failure the
// session moves to Failed and the returned error is a *CredentialError.
// Calling it again from Failed retries.
func (c *Controller) AcquireCredential(ctx context.Context, sessionName, identity string) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return ErrLeft
	}
	c.acquireSeq++
	seq := c.acquireSeq
	c.session = sessionName
	c.identity = identity
	c.token = ""
	c.failure = nil
	c.connected = false
	c.mu.Unlock()
	c.reconcile()

	token, err := c.issuer.IssueToken(ctx, sessionName, identity)

	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return ErrLeft
	}
	if seq != c.acquireSeq {
		// A newer request owns the session now.
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		var ce *CredentialError
		if !errors.As(err, &ce) {
			ce = &CredentialError{Message: MsgConnectivity, Err: err}
		}
		c.failure = ce
		c.mu.Unlock()
		c.log.Warn().Err(err).Str("session", sessionName).Msg("credential request failed")
		c.reconcile()
		return ce
	}
	c.token = token
	c.mu.Unlock()

	c.log.Info().Str("session", sessionName).Str("identity", identity).Msg("credential acquired")
	c.reconcile()
	return nil
}

// Connect hands the held credential to the transport.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return ErrLeft
	}
	token := c.token
	c.mu.Unlock()
	if token == "" {
		return ErrNoCredential
	}

	if err := c.transport.Connect(ctx, c.serverURL, token); err != nil {
		c.mu.Lock()
		if !c.left {
			c.failure = fmt.Errorf("connecting to media server: %w", err)
		}
		c.mu.Unlock()
		c.log.Warn().Err(err).Msg("transport connect failed")
		c.reconcile()
		return fmt.Errorf("connecting transport: %w", err)
	}
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	c.reconcile()
	return nil
}

// Join acquires a credential and connects.
func (c *Controller) Join(ctx context.Context, sessionName, identity string) error {
	if err := c.AcquireCredential(ctx, sessionName, identity); err != nil {
		return err
	}
	return c.Connect(ctx)
}

// Retry re-runs Join with the last session name and identity.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	session, identity := c.session, c.identity
	c.mu.Unlock()
	if session == "" {
		return errors.New("no session to retry")
	}
	return c.Join(ctx, session, identity)
}

// Leave disconnects the transport. Disconnected is terminal; calling Leave
// again does nothing.
func (c *Controller) Leave() error {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return nil
	}
	c.left = true
	c.layoutEpoch++
	c.mu.Unlock()

	err := c.transport.Disconnect()
	c.log.Info().Msg("session left")
	c.reconcile()
	if err != nil {
		return fmt.Errorf("disconnecting transport: %w", err)
	}
	return nil
}

// ToggleSecondaryView switches between the track grid and the shared
// surface. Layout listeners are notified once the view has stayed put for
// the settle delay; a newer toggle supersedes a pending notification.
func (c *Controller) ToggleSecondaryView(open bool) {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()

	c.mu.Lock()
	if c.left || c.secondary == open {
		c.mu.Unlock()
		return
	}
	c.secondary = open
	c.view.SecondaryView = open
	view := c.view
	c.layoutEpoch++
	epoch := c.layoutEpoch
	c.mu.Unlock()

	c.publish(view)
	c.clock.AfterFunc(c.settle, func() {
		c.mu.Lock()
		stale := c.left || epoch != c.layoutEpoch
		c.mu.Unlock()
		if !stale {
			c.notifyLayout(open)
		}
	})
}

// OnLayoutChange registers fn for settled secondary view changes.
func (c *Controller) OnLayoutChange(fn func(secondary bool)) (unsubscribe func()) {
	c.layoutMu.Lock()
	c.nextLayout++
	id := c.nextLayout
	c.layoutSubs = append(c.layoutSubs, layoutSub{id: id, fn: fn})
	c.layoutMu.Unlock()

	return func() {
		c.layoutMu.Lock()
		defer c.layoutMu.Unlock()
		c.layoutSubs = slices.DeleteFunc(c.layoutSubs, func(s layoutSub) bool { return s.id == id })
	}
}

func (c *Controller) notifyLayout(secondary bool) {
	c.layoutMu.Lock()
	subs := slices.Clone(c.layoutSubs)
	c.layoutMu.Unlock()
	for _, s := range subs {
		s.fn(secondary)
	}
}

func (c *Controller) View() SessionView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

func (c *Controller) State() models.SessionState {
	return c.View().State
}

func (c *Controller) Subscribe() chan SessionView {
	ch := make(chan SessionView, 1)
	c.subMu.Lock()
	c.subscribers[ch] = struct{}{}
	c.subMu.Unlock()
	return ch
}

func (c *Controller) Unsubscribe(ch chan SessionView) {
	c.subMu.Lock()
	_, exists := c.subscribers[ch]
	delete(c.subscribers, ch)
	c.subMu.Unlock()
	if exists {
		close(ch)
	}
}

// reconcile recomputes the view from the transport. It runs on every
// transport change and after every local state change. Runs are serialized
// so a view built from an older roster never replaces a newer one.
func (c *Controller) reconcile() {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()

	roster := c.transport.Roster()
	ts := c.transport.State()

	c.mu.Lock()
	if ts == models.TransportConnected {
		c.connected = true
	}
	prev := c.view.State
	c.view = c.projectLocked(roster, ts)
	view := c.view
	c.mu.Unlock()

	if view.State != prev {
		c.log.Debug().Str("from", string(prev)).Str("to", string(view.State)).Msg("session state changed")
	}
	c.publish(view)
}

func (c *Controller) projectLocked(roster []models.Participant, ts models.TransportState) SessionView {
	tracks := DisplaySet(RawTracks(roster))
	v := SessionView{
		Session:          c.session,
		ParticipantCount: len(roster),
		Tracks:           tracks,
		SecondaryView:    c.secondary,
		State: Classify(Inputs{
			HasCredential: c.token != "",
			Failure:       c.failure,
			Transport:     ts,
			HasDisplay:    len(tracks) > 0,
			Left:          c.left,
			WasConnected:  c.connected,
		}),
	}
	if c.failure != nil && !c.left {
		v.Error = c.failure.Error()
	}
	return v
}

func (c *Controller) publish(view SessionView) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subscribers {
		select {
		case ch <- view:
		default:
		}
	}
}
