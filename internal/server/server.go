package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"roomsync/internal/media"
	"roomsync/internal/models"
)

// Session is the joined call. *media.Controller implements it.
type Session interface {
	View() media.SessionView
	Subscribe() chan media.SessionView
	Unsubscribe(ch chan media.SessionView)
	ToggleSecondaryView(open bool)
	Retry(ctx context.Context) error
}

// Polls is the poll engine of the current meeting. *polls.Engine implements
// it.
type Polls interface {
	Polls() []models.PollView
	LastSynced() time.Time
	Room() string
	Subscribe() chan []models.PollView
	Unsubscribe(ch chan []models.PollView)
	SubmitVote(ctx context.Context, pollID, optionID int64) error
	CreatePoll(ctx context.Context, question string, options []string) (*models.Poll, error)
	ClosePoll(ctx context.Context, pollID int64) error
}

// ChannelStatus reports the notification channel. *channel.Channel
// implements it.
type ChannelStatus interface {
	ID() uuid.UUID
	State() models.ChannelState
	RetryCount() int
}

// Pinger is the database health probe. *store.Store implements it.
type Pinger interface {
	Ping() error
}

type Server struct {
	router     chi.Router
	session    Session
	polls      Polls
	channel    ChannelStatus
	feed       *Feed
	db         Pinger
	corsOrigin string
	writes     *ipLimiter
	log        zerolog.Logger
}

func NewServer(opts ...Option) *Server {
	srv := &Server{
		router: chi.NewRouter(),
		feed:   NewFeed(DefaultFeedSize),
		writes: newIPLimiter(defaultWriteRate, defaultWriteBurst),
		log:    log.Logger,
	}
	for _, o := range opts {
		o(srv)
	}
	srv.log = srv.log.With().Str("component", "server").Logger()
	srv.router.Use(requestLogger(srv.log))
	srv.router.Use(middleware.Recoverer)
	srv.routes()
	return srv
}

type Option func(*Server)

func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

func WithSession(sess Session) Option {
	return func(s *Server) { s.session = sess }
}

func WithPolls(p Polls) Option {
	return func(s *Server) { s.polls = p }
}

func WithChannel(c ChannelStatus) Option {
	return func(s *Server) { s.channel = c }
}

func WithFeed(f *Feed) Option {
	return func(s *Server) { s.feed = f }
}

func WithDB(db Pinger) Option {
	return func(s *Server) { s.db = db }
}

// WithWriteLimit sets the per-client budget for mutating requests.
func WithWriteLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.writes = newIPLimiter(limit, burst) }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
