package http

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mathquest/internal/domain"
	"mathquest/internal/game"
)

// WSHandler upgrades HTTP requests to websockets and routes inbound events
// through the dispatch table onto the game engine.
type WSHandler struct {
	service  *game.Service
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *game.Service, log *zap.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// wsConn is the per-connection state: identity, the serialized outbound
// queue, and the room subscriptions feeding it.
type wsConn struct {
	userID string
	role   domain.Room

	send        chan game.Envelope
	closeSignal chan struct{}
	forwarders  sync.WaitGroup

	mu      sync.Mutex
	rooms   map[string]struct{}
	cancels []func()
}

func subscriptionKey(accessCode string, room domain.Room) string {
	return accessCode + "/" + string(room)
}

// claimSubscription marks a (session, room) pair as held by this connection.
// It reports false when the pair is already held, so a re-sent join event
// never stacks a second forwarder.
func (c *wsConn) claimSubscription(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.rooms[key]; held {
		return false
	}
	c.rooms[key] = struct{}{}
	return true
}

func (c *wsConn) releaseSubscription(key string) {
	c.mu.Lock()
	delete(c.rooms, key)
	c.mu.Unlock()
}

func (c *wsConn) addSubscription(cancel func()) {
	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()
}

func (c *wsConn) cancelSubscriptions() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// emit queues a frame for the connection unless it is shutting down.
func (c *wsConn) emit(event string, payload any) {
	select {
	case c.send <- game.Envelope{Event: event, Payload: payload}:
	case <-c.closeSignal:
	}
}

// ServeWS runs one client connection. Identity comes from the userId query
// parameter; anonymous connections get a generated guest ID. The role
// parameter selects the broadcast audience (player, projection, dashboard).
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = "guest-" + uuid.NewString()
	}
	role := domain.RoomPlayers
	switch r.URL.Query().Get("role") {
	case "projection":
		role = domain.RoomProjection
	case "dashboard":
		role = domain.RoomDashboard
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := &wsConn{
		userID:      userID,
		role:        role,
		send:        make(chan game.Envelope, 32),
		closeSignal: make(chan struct{}),
		rooms:       make(map[string]struct{}),
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range c.send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.Error(err))
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		handler, ok := dispatch[inbound.Type]
		if !ok {
			c.emit(domain.EventError, errorPayload{Code: "unsupported_event", Message: "unsupported event type"})
			continue
		}
		handler(h, c, inbound.Payload)
	}

	close(c.closeSignal)
	c.cancelSubscriptions()
	c.forwarders.Wait()
	close(c.send)
	<-writerDone
}

// subscribe attaches the connection to a session room and forwards its
// frames into the outbound queue until the room or connection closes.
// Re-subscribing to a room the connection already holds is a no-op, so a
// re-sent join frame does not duplicate roster updates.
func (h *WSHandler) subscribe(c *wsConn, accessCode string, room domain.Room) {
	key := subscriptionKey(accessCode, room)
	if !c.claimSubscription(key) {
		return
	}
	ch, cancel, err := h.service.Subscribe(accessCode, room)
	if err != nil {
		c.releaseSubscription(key)
		h.log.Debug("subscribe failed",
			zap.String("accessCode", accessCode), zap.String("room", string(room)), zap.Error(err))
		return
	}
	c.addSubscription(cancel)

	c.forwarders.Add(1)
	go func() {
		defer c.forwarders.Done()
		for {
			select {
			case env, ok := <-ch:
				if !ok {
					return
				}
				select {
				case c.send <- env:
				case <-c.closeSignal:
					return
				}
			case <-c.closeSignal:
				return
			}
		}
	}()
}
