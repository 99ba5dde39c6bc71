package server

import (
	"errors"
	"net/http"

	"roomsync/internal/media"
)

type secondaryViewRequest struct {
	Open bool `json:"open"`
}

func (s *Server) handleSecondaryView(w http.ResponseWriter, r *http.Request) {
	var req secondaryViewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	s.session.ToggleSecondaryView(req.Open)
	writeJSON(w, http.StatusOK, s.session.View())
}

// handleRetry re-runs credential acquisition and connect after a failure.
// The resulting view is returned even when the retry fails, since it
// carries the error message.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	err := s.session.Retry(r.Context())
	if errors.Is(err, media.ErrLeft) {
		writeError(w, http.StatusConflict, "session already left")
		return
	}
	if err != nil {
		s.log.Info().Err(err).Msg("session retry failed")
	}
	writeJSON(w, http.StatusOK, s.session.View())
}
