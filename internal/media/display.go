package media

import (
	"maps"

	"roomsync/internal/models"
)

// RawTracks expands a roster into tile candidates: one camera ref per
// participant, a placeholder when the camera is off, plus a screen-share
// ref right after it when that participant is sharing.
func RawTracks(roster []models.Participant) []models.TrackRef {
	refs := make([]models.TrackRef, 0, len(roster))
	for _, p := range roster {
		p.Tracks = maps.Clone(p.Tracks)
		refs = append(refs, models.TrackRef{
			Participant: p,
			Source:      models.SourceCamera,
			Placeholder: !p.Publishes(models.SourceCamera),
		})
		if p.Publishes(models.SourceScreenShare) {
			refs = append(refs, models.TrackRef{Participant: p, Source: models.SourceScreenShare})
		}
	}
	return refs
}

// DisplaySet keeps the refs whose participant publishes at least one audio
// or video track. Order is preserved and DisplaySet(DisplaySet(x)) equals
// DisplaySet(x).
func DisplaySet(raw []models.TrackRef) []models.TrackRef {
	out := make([]models.TrackRef, 0, len(raw))
	for _, ref := range raw {
		if ref.Participant.HasPublishedMedia() {
			out = append(out, ref)
		}
	}
	return out
}

// Inputs is everything the session classification depends on.
type Inputs struct {
	HasCredential bool
	Failure       error
	Transport     models.TransportState
	HasDisplay    bool
	Left          bool

	// WasConnected reports that the transport reached Connected during the
	// current attempt. A disconnected transport that never connected is
	// still Connecting.
	WasConnected bool
}

// Classify derives the session state. It is the only way a SessionState
// is produced.
func Classify(in Inputs) models.SessionState {
	switch {
	case in.Left:
		return models.SessionDisconnected
	case in.Failure != nil:
		return models.SessionFailed
	case in.Transport == models.TransportDisconnected && in.WasConnected:
		return models.SessionDisconnected
	case !in.HasCredential || in.Transport != models.TransportConnected:
		return models.SessionConnecting
	case !in.HasDisplay:
		return models.SessionWaiting
	default:
		return models.SessionActive
	}
}
