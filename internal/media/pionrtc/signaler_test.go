package pionrtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPSignalerExchange(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rtc/offer", r.URL.Path)
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		var msg sdpMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		assert.Equal(t, "offer", msg.Type)
		assert.Equal(t, "v=0 offer", msg.SDP)
		json.NewEncoder(w).Encode(sdpMessage{Type: "answer", SDP: "v=0 answer"})
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	answer, err := HTTPSignaler{}.Exchange(context.Background(), wsURL, "jwt",
		webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"})
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Equal(t, "v=0 answer", answer.SDP)
}

func TestHTTPSignalerServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"not allowed in room"}`))
	}))
	defer ts.Close()

	_, err := HTTPSignaler{}.Exchange(context.Background(), ts.URL, "", webrtc.SessionDescription{SDP: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed in room")
}

func TestHTTPSignalerRejectsNonAnswer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"type":"offer","sdp":"x"}`))
	}))
	defer ts.Close()

	_, err := HTTPSignaler{Path: "/custom"}.Exchange(context.Background(), ts.URL, "", webrtc.SessionDescription{SDP: "x"})
	assert.Error(t, err)
}

func TestHTTPURL(t *testing.T) {
	assert.Equal(t, "https://media.test", httpURL("wss://media.test/"))
	assert.Equal(t, "http://media.test:7880", httpURL("ws://media.test:7880"))
	assert.Equal(t, "https://media.test", httpURL("https://media.test"))
}
