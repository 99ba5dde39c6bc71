package channel

import (
	"bytes"
	"encoding/json"
	"slices"

	"roomsync/internal/models"
)

// Interest selects the notifications a handler receives: the payload's
// related_id must equal RelatedID and its type must be one of Types. An
// empty Types accepts every kind within the scope.
type Interest struct {
	Types     []string
	RelatedID int64
}

func (i Interest) Matches(ev models.NotificationEvent) bool {
	if ev.RelatedID != i.RelatedID {
		return false
	}
	return len(i.Types) == 0 || slices.Contains(i.Types, ev.Type)
}

type Handler func(models.NotificationEvent)

type subscription struct {
	id       uint64
	interest Interest
	handler  Handler
}

// OnEvent registers h for notifications matching in. Handlers run on the
// connection's read goroutine, once per event, in arrival order. The
// returned func removes the registration.
func (c *Channel) OnEvent(in Interest, h Handler) (unsubscribe func()) {
	c.subMu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, &subscription{id: id, interest: in, handler: h})
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		c.subs = slices.DeleteFunc(c.subs, func(s *subscription) bool { return s.id == id })
	}
}

func (c *Channel) dispatch(data []byte) {
	ev, ok := c.decode(data)
	if !ok {
		return
	}

	c.subMu.RLock()
	subs := slices.Clone(c.subs)
	c.subMu.RUnlock()

	for _, s := range subs {
		if s.interest.Matches(ev) {
			c.deliver(s, ev)
		}
	}
}

func (c *Channel) deliver(s *subscription, ev models.NotificationEvent) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("event", ev.Type).Msg("notification handler panicked")
		}
	}()
	s.handler(ev)
}

// decode unwraps a notification frame. Malformed frames are logged and
// dropped; other envelope types are ignored.
func (c *Channel) decode(data []byte) (models.NotificationEvent, bool) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
		return models.NotificationEvent{}, false
	}
	if env.Type != models.EnvelopeNotification {
		c.log.Debug().Str("envelope", env.Type).Msg("ignoring envelope")
		return models.NotificationEvent{}, false
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		c.log.Warn().Msg("dropping notification without payload")
		return models.NotificationEvent{}, false
	}
	var ev models.NotificationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.log.Warn().Err(err).Msg("dropping malformed notification payload")
		return models.NotificationEvent{}, false
	}
	return ev, true
}
