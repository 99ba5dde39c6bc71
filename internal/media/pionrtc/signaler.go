package pionrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"roomsync/internal/httputil"
)

// HTTPSignaler posts the offer as JSON to the media server and reads the
// answer from the response. ws:// and wss:// server URLs are rewritten to
// http:// and https://.
type HTTPSignaler struct {
	Client *http.Client
	Path   string // defaults to "/rtc/offer"
}

type sdpMessage struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (s HTTPSignaler) Exchange(ctx context.Context, url, token string, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	client := s.Client
	if client == nil {
		client = httputil.NewClientWithTimeout(httputil.DefaultTimeout)
	}
	path := s.Path
	if path == "" {
		path = "/rtc/offer"
	}

	payload, err := json.Marshal(sdpMessage{Type: "offer", SDP: offer.SDP})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, httpURL(url)+path, bytes.NewReader(payload))
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	httputil.SetBearer(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("connection failed: %w", err)
	}
	defer httputil.DrainBody(resp)

	body, err := httputil.ReadBody(resp)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg, ok := httputil.ErrorMessage(body); ok {
			return webrtc.SessionDescription{}, fmt.Errorf("media server returned status %d: %s", resp.StatusCode, msg)
		}
		return webrtc.SessionDescription{}, fmt.Errorf("media server returned status %d: %s", resp.StatusCode, httputil.Truncate(body, 200))
	}

	var answer sdpMessage
	if err := json.Unmarshal(body, &answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("parsing answer: %w", err)
	}
	if answer.Type != "answer" || answer.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("unexpected signaling reply %q", answer.Type)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}, nil
}

func httpURL(u string) string {
	u = strings.TrimRight(u, "/")
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}
