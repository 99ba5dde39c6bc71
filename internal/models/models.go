package models

import (
	"encoding/json"
	"errors"
)

var ErrNotFound = errors.New("not found")

// ChannelState is the lifecycle of one logical event channel.
type ChannelState string

const (
	ChannelIdle       ChannelState = "idle"
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosed     ChannelState = "closed"
)

// EnvelopeNotification is the only envelope type the channel unwraps.
const EnvelopeNotification = "notification"

// Well-known notification kinds pushed by the workspace backend.
const (
	EventWorkspaceMemberJoined = "workspace_member_joined"
	EventMeetingStarted        = "meeting_started"
	EventChatMessage           = "chat_message"
)

// Envelope is the outer wrapper of every frame on the channel.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Sender struct {
	ID         int64  `json:"id"`
	Nickname   string `json:"nickname"`
	Email      string `json:"email"`
	ProfileImg string `json:"profile_img,omitempty"`
}

// NotificationEvent is an unwrapped notification payload. Raw keeps the
// full payload so handlers can decode kind-specific fields.
type NotificationEvent struct {
	Type      string          `json:"type"`
	RelatedID int64           `json:"related_id"`
	Content   string          `json:"content,omitempty"`
	Sender    *Sender         `json:"sender,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// UnmarshalJSON accepts both related_id and relatedId.
func (e *NotificationEvent) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type         string  `json:"type"`
		RelatedID    *int64  `json:"related_id"`
		RelatedIDAlt *int64  `json:"relatedId"`
		Content      string  `json:"content"`
		Sender       *Sender `json:"sender"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.Type == "" {
		return errors.New("notification payload missing type")
	}
	*e = NotificationEvent{
		Type:    wire.Type,
		Content: wire.Content,
		Sender:  wire.Sender,
		Raw:     append(json.RawMessage(nil), data...),
	}
	switch {
	case wire.RelatedID != nil:
		e.RelatedID = *wire.RelatedID
	case wire.RelatedIDAlt != nil:
		e.RelatedID = *wire.RelatedIDAlt
	}
	return nil
}
