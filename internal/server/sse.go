package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"roomsync/internal/media"
	"roomsync/internal/models"
)

// handleViewStream sends the full view once, then session, poll and
// notification updates as named server-sent events.
func (s *Server) handleViewStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var sessionCh chan media.SessionView
	if s.session != nil {
		sessionCh = s.session.Subscribe()
		defer s.session.Unsubscribe(sessionCh)
	}
	var pollsCh chan []models.PollView
	if s.polls != nil {
		pollsCh = s.polls.Subscribe()
		defer s.polls.Unsubscribe(pollsCh)
	}
	feedCh := s.feed.Subscribe()
	defer s.feed.Unsubscribe(feedCh)

	send := func(event string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	send("view", s.currentView())

	for {
		select {
		case <-r.Context().Done():
			return
		case view, ok := <-sessionCh:
			if !ok {
				return
			}
			send("session", view)
		case views, ok := <-pollsCh:
			if !ok {
				return
			}
			send("polls", s.pollsSnapshot(views))
		case ev, ok := <-feedCh:
			if !ok {
				return
			}
			send("notification", ev)
		}
	}
}
