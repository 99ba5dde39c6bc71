package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"roomsync/internal/models"
	"roomsync/internal/polls"
)

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pollsSnapshot(s.polls.Polls()))
}

type createPollRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var req createPollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := s.polls.CreatePoll(r.Context(), req.Question, req.Options)
	if err != nil {
		s.writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type voteRequest struct {
	PollID   int64 `json:"pollId"`
	OptionID int64 `json:"optionId"`
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PollID <= 0 || req.OptionID <= 0 {
		writeError(w, http.StatusBadRequest, "pollId and optionId are required")
		return
	}
	if err := s.polls.SubmitVote(r.Context(), req.PollID, req.OptionID); err != nil {
		s.writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pollsSnapshot(s.polls.Polls()))
}

func (s *Server) handleClosePoll(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid poll id")
		return
	}
	if err := s.polls.ClosePoll(r.Context(), id); err != nil {
		s.writePollError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.pollsSnapshot(s.polls.Polls()))
}

// writePollError maps engine errors to responses. Messages from the poll
// service are passed through unchanged.
func (s *Server) writePollError(w http.ResponseWriter, err error) {
	var apiErr *polls.APIError
	switch {
	case errors.Is(err, models.ErrEmptyQuestion),
		errors.Is(err, models.ErrEmptyOption),
		errors.Is(err, models.ErrTooFewOptions):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, polls.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &apiErr):
		status := apiErr.Status
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		writeError(w, status, apiErr.Message)
	default:
		s.log.Warn().Err(err).Msg("poll request failed")
		writeError(w, http.StatusBadGateway, "poll service unavailable")
	}
}
