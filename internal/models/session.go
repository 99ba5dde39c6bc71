package models

// SessionState is the display classification of a media session. It is
// always derived, never assigned by callers.
type SessionState string

const (
	SessionConnecting   SessionState = "connecting"
	SessionWaiting      SessionState = "waiting"
	SessionActive       SessionState = "active"
	SessionDisconnected SessionState = "disconnected"
	SessionFailed       SessionState = "failed"
)

// TransportState is what the media transport reports about itself.
type TransportState string

const (
	TransportIdle         TransportState = "idle"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportReconnecting TransportState = "reconnecting"
	TransportDisconnected TransportState = "disconnected"
)

type TrackSource string

const (
	SourceCamera      TrackSource = "camera"
	SourceScreenShare TrackSource = "screen_share"
	SourceMicrophone  TrackSource = "microphone"
)

type Publication string

const (
	NotPublished Publication = ""
	Published    Publication = "published"
	// Placeholder marks a track the layout expects but nobody publishes yet.
	Placeholder Publication = "placeholder"
)

type Participant struct {
	Identity string                      `json:"identity"`
	Name     string                      `json:"name"`
	IsLocal  bool                        `json:"is_local"`
	Tracks   map[TrackSource]Publication `json:"tracks,omitempty"`
}

// HasPublishedMedia reports whether the participant publishes at least one
// audio or video track.
func (p Participant) HasPublishedMedia() bool {
	for _, pub := range p.Tracks {
		if pub == Published {
			return true
		}
	}
	return false
}

func (p Participant) Publishes(src TrackSource) bool {
	return p.Tracks[src] == Published
}

// TrackRef is one tile candidate: a participant and one of its sources.
type TrackRef struct {
	Participant Participant `json:"participant"`
	Source      TrackSource `json:"source"`
	Placeholder bool        `json:"placeholder,omitempty"`
}
