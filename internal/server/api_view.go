package server

import (
	"net/http"
	"time"

	"roomsync/internal/media"
	"roomsync/internal/models"
)

type channelView struct {
	ID         string              `json:"id"`
	State      models.ChannelState `json:"state"`
	RetryCount int                 `json:"retryCount"`
}

type pollsView struct {
	Room     string            `json:"room"`
	SyncedAt *time.Time        `json:"syncedAt"`
	Polls    []models.PollView `json:"polls"`
}

type viewResponse struct {
	Session *media.SessionView `json:"session"`
	Polls   *pollsView         `json:"polls"`
	Channel *channelView       `json:"channel"`
}

func (s *Server) currentView() viewResponse {
	var resp viewResponse
	if s.session != nil {
		v := s.session.View()
		resp.Session = &v
	}
	if s.polls != nil {
		resp.Polls = s.pollsSnapshot(s.polls.Polls())
	}
	if s.channel != nil {
		resp.Channel = &channelView{
			ID:         s.channel.ID().String(),
			State:      s.channel.State(),
			RetryCount: s.channel.RetryCount(),
		}
	}
	return resp
}

func (s *Server) pollsSnapshot(views []models.PollView) *pollsView {
	pv := &pollsView{Room: s.polls.Room(), Polls: views}
	if synced := s.polls.LastSynced(); !synced.IsZero() {
		pv.SyncedAt = &synced
	}
	if pv.Polls == nil {
		pv.Polls = []models.PollView{}
	}
	return pv
}

func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentView())
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.Recent())
}
