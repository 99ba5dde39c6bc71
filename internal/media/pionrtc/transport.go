// Package pionrtc implements media.Transport on a pion PeerConnection. The
// remote side is expected to send one media stream per participant, with
// the participant identity as the stream id.
package pionrtc

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"roomsync/internal/models"
)

// Signaler carries the offer/answer exchange to the media server.
type Signaler interface {
	Exchange(ctx context.Context, url, token string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
}

// ScreenSharePrefix marks video track ids that carry a screen share.
const ScreenSharePrefix = "screen"

func DefaultConfig() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

type Transport struct {
	cfg      webrtc.Configuration
	signaler Signaler
	log      zerolog.Logger

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	state    models.TransportState
	order    []string
	roster   map[string]*models.Participant
	onChange func()
}

type Option func(*Transport)

func WithConfig(cfg webrtc.Configuration) Option {
	return func(t *Transport) { t.cfg = cfg }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

func New(signaler Signaler, opts ...Option) *Transport {
	t := &Transport{
		cfg:      DefaultConfig(),
		signaler: signaler,
		log:      log.Logger,
		state:    models.TransportIdle,
		roster:   make(map[string]*models.Participant),
	}
	for _, o := range opts {
		o(t)
	}
	t.log = t.log.With().Str("component", "pionrtc").Logger()
	return t
}

// Connect negotiates a receive-only session with the server at url.
func (t *Transport) Connect(ctx context.Context, url, token string) error {
	t.mu.Lock()
	if t.pc != nil {
		t.mu.Unlock()
		return errors.New("transport already connected")
	}
	pc, err := webrtc.NewPeerConnection(t.cfg)
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("creating peer connection: %w", err)
	}
	t.pc = pc
	t.state = models.TransportConnecting
	t.mu.Unlock()
	t.changed()

	if err := t.negotiate(ctx, pc, url, token); err != nil {
		// Never connected, so the transport is reusable.
		t.teardown(pc, models.TransportIdle)
		return err
	}
	return nil
}

func (t *Transport) negotiate(ctx context.Context, pc *webrtc.PeerConnection, url, token string) error {
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return fmt.Errorf("adding %s transceiver: %w", kind, err)
		}
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		t.log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		t.setState(pc, MapState(s))
	})
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		src, ok := SourceFor(track.Kind(), track.ID())
		if !ok {
			return
		}
		identity := track.StreamID()
		t.log.Info().Str("identity", identity).Str("source", string(src)).Msg("remote track")
		t.trackAdded(pc, identity, src)
		go t.drain(pc, track, identity, src)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("setting local description: %w", err)
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return ctx.Err()
	}

	answer, err := t.signaler.Exchange(ctx, url, token, *pc.LocalDescription())
	if err != nil {
		return fmt.Errorf("signaling: %w", err)
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("setting remote description: %w", err)
	}
	return nil
}

// drain consumes RTP until the remote track ends, then unpublishes it.
func (t *Transport) drain(pc *webrtc.PeerConnection, track *webrtc.TrackRemote, identity string, src models.TrackSource) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			break
		}
	}
	t.trackEnded(pc, identity, src)
}

func (t *Transport) Disconnect() error {
	t.mu.Lock()
	pc := t.pc
	t.mu.Unlock()
	if pc == nil {
		t.mu.Lock()
		t.state = models.TransportDisconnected
		t.mu.Unlock()
		t.changed()
		return nil
	}
	return t.teardown(pc, models.TransportDisconnected)
}

// teardown detaches and closes pc, leaving the transport in final. pc is
// detached first so its closing callbacks are ignored.
func (t *Transport) teardown(pc *webrtc.PeerConnection, final models.TransportState) error {
	t.mu.Lock()
	if t.pc == pc {
		t.pc = nil
	}
	t.state = final
	t.order = nil
	t.roster = make(map[string]*models.Participant)
	t.mu.Unlock()
	err := pc.Close()
	t.changed()
	if err != nil {
		return fmt.Errorf("closing peer connection: %w", err)
	}
	return nil
}

func (t *Transport) Roster() []models.Participant {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Participant, 0, len(t.order))
	for _, id := range t.order {
		p := *t.roster[id]
		p.Tracks = maps.Clone(p.Tracks)
		out = append(out, p)
	}
	return out
}

func (t *Transport) State() models.TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Transport) setState(pc *webrtc.PeerConnection, s models.TransportState) {
	t.mu.Lock()
	if t.pc != pc || t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()
	t.changed()
}

// trackAdded publishes src for identity. Events from a peer connection
// that is no longer current are ignored.
func (t *Transport) trackAdded(pc *webrtc.PeerConnection, identity string, src models.TrackSource) {
	t.mu.Lock()
	if t.pc != pc {
		t.mu.Unlock()
		return
	}
	p, ok := t.roster[identity]
	if !ok {
		p = &models.Participant{
			Identity: identity,
			Name:     identity,
			Tracks:   make(map[models.TrackSource]models.Publication),
		}
		t.roster[identity] = p
		t.order = append(t.order, identity)
	}
	p.Tracks[src] = models.Published
	t.mu.Unlock()
	t.changed()
}

// trackEnded unpublishes src. A participant left with no tracks at all is
// removed from the roster.
func (t *Transport) trackEnded(pc *webrtc.PeerConnection, identity string, src models.TrackSource) {
	t.mu.Lock()
	p, ok := t.roster[identity]
	if t.pc != pc || !ok {
		t.mu.Unlock()
		return
	}
	delete(p.Tracks, src)
	if len(p.Tracks) == 0 {
		delete(t.roster, identity)
		t.order = slices.DeleteFunc(t.order, func(id string) bool { return id == identity })
	}
	t.mu.Unlock()
	t.changed()
}

func (t *Transport) changed() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// MapState translates the peer connection state. Disconnected is reported
// as reconnecting since ICE may still recover.
func MapState(s webrtc.PeerConnectionState) models.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return models.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return models.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return models.TransportReconnecting
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return models.TransportDisconnected
	default:
		return models.TransportIdle
	}
}

// SourceFor maps a remote track to its source. Unknown kinds are rejected.
func SourceFor(kind webrtc.RTPCodecType, trackID string) (models.TrackSource, bool) {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return models.SourceMicrophone, true
	case webrtc.RTPCodecTypeVideo:
		if strings.HasPrefix(trackID, ScreenSharePrefix) {
			return models.SourceScreenShare, true
		}
		return models.SourceCamera, true
	default:
		return "", false
	}
}
