package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"roomsync/internal/media"
	"roomsync/internal/models"
	"roomsync/internal/polls"
)

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, WithDB(fakeDB{}), WithChannel(fakeChannel{id: uuid.New()}))

	w := doRequest(t, srv, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[healthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "open", resp.Channel)
}

func TestHealthEndpointDatabaseDown(t *testing.T) {
	srv := newTestServer(t, WithDB(fakeDB{err: errors.New("closed")}))

	w := doRequest(t, srv, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "error", decode[healthResponse](t, w).Status)
}

func TestGetView(t *testing.T) {
	id := uuid.New()
	sess := &fakeSession{view: media.SessionView{Session: "standup", State: models.SessionWaiting, Tracks: []models.TrackRef{}}}
	fp := &fakePolls{room: "standup", polls: []models.Poll{shipPoll()}, syncedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	srv := newTestServer(t, WithSession(sess), WithPolls(fp), WithChannel(fakeChannel{id: id}))

	w := doRequest(t, srv, http.MethodGet, "/api/view", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[viewResponse](t, w)

	require.NotNil(t, resp.Session)
	assert.Equal(t, models.SessionWaiting, resp.Session.State)
	require.NotNil(t, resp.Polls)
	assert.Equal(t, "standup", resp.Polls.Room)
	require.NotNil(t, resp.Polls.SyncedAt)
	require.Len(t, resp.Polls.Polls, 1)
	assert.Equal(t, 75, resp.Polls.Polls[0].Options[0].Percent)
	require.NotNil(t, resp.Channel)
	assert.Equal(t, id.String(), resp.Channel.ID)
}

func TestGetViewWithoutComponents(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/view", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[viewResponse](t, w)
	assert.Nil(t, resp.Session)
	assert.Nil(t, resp.Polls)
	assert.Nil(t, resp.Channel)
}

func TestPollRoutesUnconfigured(t *testing.T) {
	srv := newTestServer(t)
	w := doRequest(t, srv, http.MethodGet, "/api/polls", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = doRequest(t, srv, http.MethodPost, "/api/session/retry", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestVote(t *testing.T) {
	fp := &fakePolls{room: "standup", polls: []models.Poll{shipPoll()}}
	srv := newTestServer(t, WithPolls(fp))

	w := doRequest(t, srv, http.MethodPost, "/api/polls/vote", voteRequest{PollID: 12, OptionID: 2})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[pollsView](t, w)
	require.Len(t, resp.Polls, 1)
	assert.Equal(t, 2, resp.Polls[0].Options[1].VoteCount)
	assert.Equal(t, [][2]int64{{12, 2}}, fp.votes)
}

func TestVoteValidation(t *testing.T) {
	fp := &fakePolls{}
	srv := newTestServer(t, WithPolls(fp))

	w := doRequest(t, srv, http.MethodPost, "/api/polls/vote", map[string]int{"pollId": 12})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/polls/vote", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, fp.votes)
}

func TestVoteServerErrorVerbatim(t *testing.T) {
	fp := &fakePolls{err: fmt.Errorf("voting on poll 12: %w", &polls.APIError{Status: 400, Message: "Poll is closed"})}
	srv := newTestServer(t, WithPolls(fp))

	w := doRequest(t, srv, http.MethodPost, "/api/polls/vote", voteRequest{PollID: 12, OptionID: 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Poll is closed", decode[map[string]string](t, w)["error"])
}

func TestUpstreamFailureIsBadGateway(t *testing.T) {
	fp := &fakePolls{err: &polls.APIError{Status: 500, Message: "Failed to vote"}}
	srv := newTestServer(t, WithPolls(fp))
	w := doRequest(t, srv, http.MethodPost, "/api/polls/12/close", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Failed to vote", decode[map[string]string](t, w)["error"])

	fp.err = errors.New("dial tcp: refused")
	w = doRequest(t, srv, http.MethodPost, "/api/polls/12/close", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	fp.err = polls.ErrNotStarted
	w = doRequest(t, srv, http.MethodPost, "/api/polls/12/close", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestCreatePoll(t *testing.T) {
	fp := &fakePolls{}
	srv := newTestServer(t, WithPolls(fp))

	w := doRequest(t, srv, http.MethodPost, "/api/polls/", createPollRequest{Question: "Lunch?", Options: []string{"Pizza", "Sushi"}})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "Lunch?", decode[models.Poll](t, w).Question)

	w = doRequest(t, srv, http.MethodPost, "/api/polls/", createPollRequest{Question: " ", Options: []string{"a", "b"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, models.ErrEmptyQuestion.Error(), decode[map[string]string](t, w)["error"])
	assert.Len(t, fp.created, 1)
}

func TestClosePoll(t *testing.T) {
	fp := &fakePolls{}
	srv := newTestServer(t, WithPolls(fp))

	w := doRequest(t, srv, http.MethodPost, "/api/polls/12/close", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []int64{12}, fp.closed)

	w = doRequest(t, srv, http.MethodPost, "/api/polls/abc/close", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSecondaryView(t *testing.T) {
	sess := &fakeSession{}
	srv := newTestServer(t, WithSession(sess))

	w := doRequest(t, srv, http.MethodPost, "/api/session/secondary-view", secondaryViewRequest{Open: true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[media.SessionView](t, w).SecondaryView)
}

func TestRetry(t *testing.T) {
	sess := &fakeSession{view: media.SessionView{State: models.SessionFailed, Error: "invalid token"}}
	srv := newTestServer(t, WithSession(sess))

	w := doRequest(t, srv, http.MethodPost, "/api/session/retry", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.SessionConnecting, decode[media.SessionView](t, w).State)

	sess.retryErr = media.ErrLeft
	w = doRequest(t, srv, http.MethodPost, "/api/session/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 2, sess.retries)
}

func TestWritesAreRateLimited(t *testing.T) {
	fp := &fakePolls{}
	srv := newTestServer(t, WithPolls(fp))

	var last int
	for i := 0; i < 31; i++ {
		last = doRequest(t, srv, http.MethodPost, "/api/polls/12/close", nil).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
	assert.Len(t, fp.closed, 30)

	assert.Equal(t, http.StatusOK, doRequest(t, srv, http.MethodGet, "/api/polls", nil).Code)
}

func TestWriteLimitIsPerClient(t *testing.T) {
	fp := &fakePolls{}
	srv := newTestServer(t, WithPolls(fp), WithWriteLimit(rate.Every(time.Hour), 1))

	post := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/polls/12/close", nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		return w.Code
	}
	assert.NotEqual(t, http.StatusTooManyRequests, post("198.51.100.1:4000"))
	assert.Equal(t, http.StatusTooManyRequests, post("198.51.100.1:4001"), "same host, new port")
	assert.NotEqual(t, http.StatusTooManyRequests, post("198.51.100.2:4000"))
}

func TestWriteBudgetRefills(t *testing.T) {
	fp := &fakePolls{}
	srv := newTestServer(t, WithPolls(fp), WithWriteLimit(rate.Every(20*time.Millisecond), 1))

	require.NotEqual(t, http.StatusTooManyRequests, doRequest(t, srv, http.MethodPost, "/api/polls/12/close", nil).Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(t, srv, http.MethodPost, "/api/polls/12/close", nil).Code)
	require.Eventually(t, func() bool {
		return doRequest(t, srv, http.MethodPost, "/api/polls/12/close", nil).Code != http.StatusTooManyRequests
	}, time.Second, 10*time.Millisecond)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t, WithCORSOrigin("http://localhost:5173"))
	w := doRequest(t, srv, http.MethodOptions, "/api/view", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestListNotifications(t *testing.T) {
	feed := NewFeed(2)
	srv := newTestServer(t, WithFeed(feed))
	for i := 1; i <= 3; i++ {
		feed.Push(models.NotificationEvent{Type: models.EventChatMessage, RelatedID: 7, Content: fmt.Sprint(i)})
	}

	w := doRequest(t, srv, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[[]models.NotificationEvent](t, w)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[0].Content)
	assert.Equal(t, "3", events[1].Content)
}

func TestViewStream(t *testing.T) {
	sess := &fakeSession{view: media.SessionView{Session: "standup", State: models.SessionConnecting}}
	fp := &fakePolls{room: "standup"}
	feed := NewFeed(DefaultFeedSize)
	srv := newTestServer(t, WithSession(sess), WithPolls(fp), WithFeed(feed))
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/view/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
				events <- name
			}
		}
	}()

	next := func() string {
		select {
		case name := <-events:
			return name
		case <-ctx.Done():
			t.Fatal("no event")
			return ""
		}
	}

	require.Equal(t, "view", next())
	sess.publish(media.SessionView{Session: "standup", State: models.SessionActive})
	assert.Equal(t, "session", next())
	fp.publish()
	assert.Equal(t, "polls", next())
	feed.Push(models.NotificationEvent{Type: models.EventMeetingStarted, RelatedID: 7})
	assert.Equal(t, "notification", next())
}
