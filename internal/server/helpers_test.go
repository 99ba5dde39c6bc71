package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"roomsync/internal/media"
	"roomsync/internal/models"
)

type fakeSession struct {
	mu       sync.Mutex
	view     media.SessionView
	retryErr error
	retries  int
	subs     []chan media.SessionView
}

func (f *fakeSession) View() media.SessionView {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeSession) Subscribe() chan media.SessionView {
	ch := make(chan media.SessionView, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakeSession) Unsubscribe(ch chan media.SessionView) {}

func (f *fakeSession) ToggleSecondaryView(open bool) {
	f.mu.Lock()
	f.view.SecondaryView = open
	f.mu.Unlock()
}

func (f *fakeSession) Retry(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retries++
	if f.retryErr == nil {
		f.view.State = models.SessionConnecting
		f.view.Error = ""
	}
	return f.retryErr
}

func (f *fakeSession) publish(v media.SessionView) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.view = v
	for _, ch := range f.subs {
		select {
		case ch <- v:
		default:
		}
	}
}

type fakePolls struct {
	mu       sync.Mutex
	room     string
	polls    []models.Poll
	syncedAt time.Time
	err      error
	votes    [][2]int64
	closed   []int64
	created  []models.PollInput
	subs     []chan []models.PollView
}

func (f *fakePolls) Polls() []models.PollView {
	f.mu.Lock()
	defer f.mu.Unlock()
	views := make([]models.PollView, 0, len(f.polls))
	for _, p := range f.polls {
		views = append(views, models.NewPollView(p))
	}
	return views
}

func (f *fakePolls) LastSynced() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncedAt
}

func (f *fakePolls) Room() string { return f.room }

func (f *fakePolls) Subscribe() chan []models.PollView {
	ch := make(chan []models.PollView, 1)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch
}

func (f *fakePolls) Unsubscribe(ch chan []models.PollView) {}

func (f *fakePolls) SubmitVote(ctx context.Context, pollID, optionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.votes = append(f.votes, [2]int64{pollID, optionID})
	for i := range f.polls {
		for j := range f.polls[i].Options {
			if f.polls[i].ID == pollID && f.polls[i].Options[j].ID == optionID {
				f.polls[i].Options[j].VoteCount++
			}
		}
	}
	return nil
}

func (f *fakePolls) CreatePoll(ctx context.Context, question string, options []string) (*models.Poll, error) {
	in := models.PollInput{Question: question, Options: options}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, in)
	return &models.Poll{ID: 99, Question: question, IsActive: true}, nil
}

func (f *fakePolls) ClosePoll(ctx context.Context, pollID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.closed = append(f.closed, pollID)
	return nil
}

func (f *fakePolls) publish() {
	views := f.Polls()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- views:
		default:
		}
	}
}

type fakeChannel struct {
	id uuid.UUID
}

func (f fakeChannel) ID() uuid.UUID              { return f.id }
func (f fakeChannel) State() models.ChannelState { return models.ChannelOpen }
func (f fakeChannel) RetryCount() int            { return 0 }

type fakeDB struct{ err error }

func (f fakeDB) Ping() error { return f.err }

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return NewServer(opts...)
}

func doRequest(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func shipPoll() models.Poll {
	return models.Poll{
		ID: 12, MeetingID: 7, Question: "Ship on Friday?", IsActive: true,
		Options: []models.PollOption{
			{ID: 1, PollID: 12, Text: "Yes", VoteCount: 3},
			{ID: 2, PollID: 12, Text: "No", VoteCount: 1},
		},
	}
}
