// Package polls keeps the live polls of one meeting in sync with the poll
// service. The server is the only source of truth: the cached list is
// replaced wholesale on every successful refresh and votes are confirmed by
// refetching rather than by local increments.
package polls

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomsync/internal/models"
)

// DefaultInterval matches the refresh cadence of the web client.
const DefaultInterval = 5 * time.Second

var (
	ErrNotStarted     = errors.New("poll engine not started")
	ErrAlreadyStarted = errors.New("poll engine already started")
	ErrBadInterval    = errors.New("refresh interval must be positive")
)

// API is the poll service. *Client implements it.
type API interface {
	List(ctx context.Context, room string) ([]models.Poll, error)
	Vote(ctx context.Context, pollID, optionID int64) error
	Create(ctx context.Context, room string, in models.PollInput) (*models.Poll, error)
	Close(ctx context.Context, pollID int64) error
}

// SnapshotStore persists the last confirmed list per room. *store.Store
// implements it.
type SnapshotStore interface {
	SavePollSnapshot(scope string, polls []models.Poll, syncedAt time.Time) error
	LoadPollSnapshot(scope string) ([]models.Poll, time.Time, error)
}

type Engine struct {
	api   API
	store SnapshotStore
	clock clockwork.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	room     string
	running  bool
	epoch    uint64
	nextSeq  uint64
	applied  uint64
	polls    []models.Poll
	syncedAt time.Time
	stop     chan struct{}

	saveMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[chan []models.PollView]struct{}
}

type Option func(*Engine)

func WithSnapshotStore(s SnapshotStore) Option {
	return func(e *Engine) { e.store = s }
}

func WithClock(clk clockwork.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func New(api API, opts ...Option) *Engine {
	e := &Engine{
		api:         api,
		clock:       clockwork.NewRealClock(),
		log:         log.Logger,
		subscribers: make(map[chan []models.PollView]struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	e.log = e.log.With().Str("component", "polls").Logger()
	return e
}

// Start begins refreshing room every interval, starting immediately. A
// stored snapshot, if any, is published first. Cancelling ctx stops the
// engine like Stop.
func (e *Engine) Start(ctx context.Context, room string, interval time.Duration) error {
	if room == "" {
		return models.ErrEmptyPollScope
	}
	if interval <= 0 {
		return ErrBadInterval
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyStarted
	}
	e.running = true
	e.epoch++
	epoch := e.epoch
	e.room = room
	e.polls = nil
	e.syncedAt = time.Time{}
	e.applied = e.nextSeq
	stop := make(chan struct{})
	e.stop = stop
	e.mu.Unlock()

	e.warmStart(epoch, room)

	ticker := e.clock.NewTicker(interval)
	go e.run(ctx, epoch, ticker, stop)
	e.log.Info().Str("room", room).Dur("interval", interval).Msg("poll sync started")
	return nil
}

func (e *Engine) warmStart(epoch uint64, room string) {
	if e.store == nil {
		return
	}
	polls, syncedAt, err := e.store.LoadPollSnapshot(room)
	if errors.Is(err, models.ErrNotFound) {
		return
	}
	if err != nil {
		e.log.Warn().Err(err).Str("room", room).Msg("loading poll snapshot")
		return
	}

	e.mu.Lock()
	if epoch != e.epoch || !e.syncedAt.IsZero() {
		e.mu.Unlock()
		return
	}
	e.polls = polls
	e.syncedAt = syncedAt
	views := buildViews(polls)
	e.mu.Unlock()

	e.log.Debug().Int("polls", len(polls)).Time("synced_at", syncedAt).Msg("warm start from snapshot")
	e.publish(views)
}

func (e *Engine) run(ctx context.Context, epoch uint64, ticker clockwork.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			e.stopEpoch(epoch)
			return
		case <-stop:
			return
		case <-ticker.Chan():
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	if err := e.Refresh(ctx); err != nil && !errors.Is(err, ErrNotStarted) && ctx.Err() == nil {
		e.log.Warn().Err(err).Msg("poll refresh failed")
	}
}

// Stop halts the ticker. Requests already in flight complete, but their
// results are discarded. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()
	e.stopEpoch(epoch)
}

func (e *Engine) stopEpoch(epoch uint64) {
	e.mu.Lock()
	if !e.running || epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.epoch++
	close(e.stop)
	e.stop = nil
	room := e.room
	e.mu.Unlock()
	e.log.Info().Str("room", room).Msg("poll sync stopped")
}

// Refresh fetches the full poll list. On success the cache is replaced and
// subscribers are notified; on failure the previous list stays. A response
// that arrives after a newer one was applied is dropped.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotStarted
	}
	epoch := e.epoch
	e.nextSeq++
	seq := e.nextSeq
	room := e.room
	e.mu.Unlock()

	polls, err := e.api.List(ctx, room)
	if err != nil {
		return err
	}

	now := e.clock.Now()
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil
	}
	if seq < e.applied {
		e.mu.Unlock()
		e.log.Debug().Uint64("seq", seq).Msg("dropping out-of-order poll response")
		return nil
	}
	e.applied = seq
	e.polls = polls
	e.syncedAt = now
	views := buildViews(polls)
	e.mu.Unlock()

	e.persist(room, seq, polls, now)
	e.publish(views)
	return nil
}

// persist writes the snapshot unless a newer response was applied in the
// meantime.
func (e *Engine) persist(room string, seq uint64, polls []models.Poll, syncedAt time.Time) {
	if e.store == nil {
		return
	}
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	current := e.applied == seq
	e.mu.Unlock()
	if !current {
		return
	}
	if err := e.store.SavePollSnapshot(room, polls, syncedAt); err != nil {
		e.log.Warn().Err(err).Msg("saving poll snapshot")
	}
}

// SubmitVote records a vote and refetches so the displayed counts are the
// server's.
func (e *Engine) SubmitVote(ctx context.Context, pollID, optionID int64) error {
	if !e.isRunning() {
		return ErrNotStarted
	}
	if err := e.api.Vote(ctx, pollID, optionID); err != nil {
		return err
	}
	e.log.Debug().Int64("poll_id", pollID).Int64("option_id", optionID).Msg("vote submitted")
	e.refreshAfterWrite(ctx)
	return nil
}

// CreatePoll validates the input locally, so empty questions or options
// never reach the network, then creates the poll and refreshes.
func (e *Engine) CreatePoll(ctx context.Context, question string, options []string) (*models.Poll, error) {
	in := models.PollInput{Question: question, Options: options}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	running, room := e.running, e.room
	e.mu.Unlock()
	if !running {
		return nil, ErrNotStarted
	}

	p, err := e.api.Create(ctx, room, in)
	if err != nil {
		return nil, err
	}
	e.log.Info().Int64("poll_id", p.ID).Msg("poll created")
	e.refreshAfterWrite(ctx)
	return p, nil
}

func (e *Engine) ClosePoll(ctx context.Context, pollID int64) error {
	if !e.isRunning() {
		return ErrNotStarted
	}
	if err := e.api.Close(ctx, pollID); err != nil {
		return err
	}
	e.log.Info().Int64("poll_id", pollID).Msg("poll closed")
	e.refreshAfterWrite(ctx)
	return nil
}

// refreshAfterWrite refetches after a confirmed write. The write already
// succeeded, so a failed refetch is only logged; the next tick catches up.
func (e *Engine) refreshAfterWrite(ctx context.Context) {
	if err := e.Refresh(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
		e.log.Warn().Err(err).Msg("refresh after write failed")
	}
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Polls returns the last confirmed list with display percentages.
func (e *Engine) Polls() []models.PollView {
	e.mu.Lock()
	defer e.mu.Unlock()
	return buildViews(e.polls)
}

// LastSynced is when the current list was confirmed by the server. Zero
// before the first refresh or warm start.
func (e *Engine) LastSynced() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncedAt
}

func (e *Engine) Room() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.room
}

func (e *Engine) Subscribe() chan []models.PollView {
	ch := make(chan []models.PollView, 1)
	e.subMu.Lock()
	e.subscribers[ch] = struct{}{}
	e.subMu.Unlock()
	return ch
}

func (e *Engine) Unsubscribe(ch chan []models.PollView) {
	e.subMu.Lock()
	_, exists := e.subscribers[ch]
	delete(e.subscribers, ch)
	e.subMu.Unlock()
	if exists {
		close(ch)
	}
}

func (e *Engine) publish(views []models.PollView) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subscribers {
		select {
		case ch <- views:
		default:
		}
	}
}

func buildViews(polls []models.Poll) []models.PollView {
	views := make([]models.PollView, 0, len(polls))
	for _, p := range polls {
		p.Options = slices.Clone(p.Options)
		views = append(views, models.NewPollView(p))
	}
	return views
}
