package game

import (
	"sync"

	"mathquest/internal/domain"
)

// Envelope is one broadcast frame addressed to a room.
type Envelope struct {
	Event   string `json:"type"`
	Payload any    `json:"payload"`
}

// roomHub fans out session events to subscribers grouped by logical room
// (players, projection, dashboard, lobby). Delivery is at-least-once to
// currently connected subscribers only; a reconnecting client resyncs with a
// full-state join instead of replaying missed frames.
type roomHub struct {
	mu   sync.RWMutex
	subs map[domain.Room]map[chan Envelope]struct{}
}

func newRoomHub() *roomHub {
	return &roomHub{
		subs: make(map[domain.Room]map[chan Envelope]struct{}),
	}
}

// Subscribe registers a buffered channel on a room. The cancel func is safe
// to call more than once.
func (h *roomHub) Subscribe(room domain.Room) (<-chan Envelope, func()) {
	ch := make(chan Envelope, 16)

	h.mu.Lock()
	if h.subs[room] == nil {
		h.subs[room] = make(map[chan Envelope]struct{})
	}
	h.subs[room][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[room][ch]; ok {
			delete(h.subs[room], ch)
			if len(h.subs[room]) == 0 {
				delete(h.subs, room)
			}
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish sends an event to every subscriber of a room. A slow subscriber
// has its oldest frame dropped rather than blocking the session.
func (h *roomHub) Publish(room domain.Room, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[room] {
		env := Envelope{Event: event, Payload: payload}
		select {
		case ch <- env:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- env:
			default:
			}
		}
	}
}

// PublishAll addresses the same frame to several rooms.
func (h *roomHub) PublishAll(event string, payload any, rooms ...domain.Room) {
	for _, room := range rooms {
		h.Publish(room, event, payload)
	}
}

// closeAll drops every subscriber, used on session eviction.
func (h *roomHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, room)
	}
}
