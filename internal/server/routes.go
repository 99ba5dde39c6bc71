package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) routes() {
	s.router.Get("/api/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(limitBody)
		r.Use(jsonContentType)
		r.Use(corsMiddleware(s.corsOrigin))
		r.Use(s.limitWrites)

		r.Get("/view", s.handleGetView)
		r.Get("/notifications", s.handleListNotifications)

		r.Route("/polls", func(pr chi.Router) {
			pr.Use(s.requirePolls)
			pr.Get("/", s.handleListPolls)
			pr.Post("/", s.handleCreatePoll)
			pr.Post("/vote", s.handleVote)
			pr.Post("/{id}/close", s.handleClosePoll)
		})

		r.Route("/session", func(sr chi.Router) {
			sr.Use(s.requireSession)
			sr.Post("/secondary-view", s.handleSecondaryView)
			sr.Post("/retry", s.handleRetry)
		})
	})

	s.router.Group(func(r chi.Router) {
		r.Use(corsMiddleware(s.corsOrigin))
		r.Get("/api/view/stream", s.handleViewStream)
	})
}

type healthResponse struct {
	Status  string `json:"status"`
	Channel string `json:"channel,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.channel != nil {
		resp.Channel = string(s.channel.State())
	}
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			s.log.Warn().Err(err).Msg("health check: database")
			resp.Status = "error"
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) requirePolls(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.polls == nil {
			writeError(w, http.StatusServiceUnavailable, "poll sync not configured")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.session == nil {
			writeError(w, http.StatusServiceUnavailable, "no media session")
			return
		}
		next.ServeHTTP(w, r)
	})
}
