package polls

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"roomsync/internal/models"
)

// fakeBackend is an in-memory poll service speaking the real wire format.
type fakeBackend struct {
	mu       sync.Mutex
	polls    map[string][]models.Poll
	nextID   int64
	lists    int
	votes    int
	creates  int
	failList int
	// gate, when set, blocks list requests until it is closed.
	gate chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{polls: make(map[string][]models.Poll), nextID: 100}
}

func (b *fakeBackend) seed(room string, polls ...models.Poll) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.polls[room] = append(b.polls[room], polls...)
}

func (b *fakeBackend) counts() (lists, votes, creates int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lists, b.votes, b.creates
}

func (b *fakeBackend) start(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/polls", b.handleList)
	r.Post("/polls", b.handleCreate)
	r.Post("/polls/vote", b.handleVote)
	r.Post("/polls/{id}/close", b.handleClose)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) handleList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.lists++
	gate := b.gate
	if b.failList > 0 {
		b.failList--
		b.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch polls"})
		return
	}
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	room := r.URL.Query().Get("roomName")
	if room == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Room name required"})
		return
	}
	b.mu.Lock()
	active := []models.Poll{}
	for _, p := range b.polls[room] {
		if p.IsActive {
			p.Options = append([]models.PollOption(nil), p.Options...)
			active = append(active, p)
		}
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"polls": active})
}

func (b *fakeBackend) handleVote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PollID   int64 `json:"pollId"`
		OptionID int64 `json:"optionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for room, polls := range b.polls {
		for i := range polls {
			if polls[i].ID != req.PollID {
				continue
			}
			if !polls[i].IsActive {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Poll is closed"})
				return
			}
			for j := range polls[i].Options {
				if polls[i].Options[j].ID == req.OptionID {
					b.polls[room][i].Options[j].VoteCount++
					b.votes++
					writeJSON(w, http.StatusOK, map[string]bool{"success": true})
					return
				}
			}
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
}

func (b *fakeBackend) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomName string   `json:"roomName"`
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}
	if req.RoomName == "meeting-missing" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Meeting not found"})
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.creates++
	b.nextID++
	p := models.Poll{ID: b.nextID, Question: req.Question, CreatedAt: time.Now().UTC(), IsActive: true}
	for _, text := range req.Options {
		b.nextID++
		p.Options = append(p.Options, models.PollOption{ID: b.nextID, PollID: p.ID, Text: text})
	}
	b.polls[req.RoomName] = append([]models.Poll{p}, b.polls[req.RoomName]...)
	writeJSON(w, http.StatusOK, p)
}

func (b *fakeBackend) handleClose(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid poll id"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for room, polls := range b.polls {
		for i := range polls {
			if polls[i].ID == id {
				b.polls[room][i].IsActive = false
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func shipPoll() models.Poll {
	return models.Poll{
		ID: 12, MeetingID: 7, Question: "Ship on Friday?", IsActive: true,
		CreatedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Options: []models.PollOption{
			{ID: 1, PollID: 12, Text: "Yes", VoteCount: 3},
			{ID: 2, PollID: 12, Text: "No", VoteCount: 1},
		},
	}
}
