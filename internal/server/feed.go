package server

import (
	"sync"

	"roomsync/internal/models"
)

const DefaultFeedSize = 50

// Feed keeps the most recent notifications for the UI and fans them out to
// stream subscribers. Push matches channel.Handler.
type Feed struct {
	mu     sync.Mutex
	size   int
	events []models.NotificationEvent

	subMu       sync.Mutex
	subscribers map[chan models.NotificationEvent]struct{}
}

func NewFeed(size int) *Feed {
	if size <= 0 {
		size = DefaultFeedSize
	}
	return &Feed{
		size:        size,
		subscribers: make(map[chan models.NotificationEvent]struct{}),
	}
}

func (f *Feed) Push(ev models.NotificationEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	if over := len(f.events) - f.size; over > 0 {
		f.events = append(f.events[:0:0], f.events[over:]...)
	}
	f.mu.Unlock()

	f.subMu.Lock()
	defer f.subMu.Unlock()
	for ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recent returns the retained notifications, oldest first.
func (f *Feed) Recent() []models.NotificationEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NotificationEvent{}, f.events...)
}

func (f *Feed) Subscribe() chan models.NotificationEvent {
	ch := make(chan models.NotificationEvent, 8)
	f.subMu.Lock()
	f.subscribers[ch] = struct{}{}
	f.subMu.Unlock()
	return ch
}

func (f *Feed) Unsubscribe(ch chan models.NotificationEvent) {
	f.subMu.Lock()
	_, exists := f.subscribers[ch]
	delete(f.subscribers, ch)
	f.subMu.Unlock()
	if exists {
		close(ch)
	}
}
