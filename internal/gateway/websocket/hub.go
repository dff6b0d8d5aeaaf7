// Package websocket is the daemon's push channel. One hub fans
// request replies and control-plane notifications out to connected
// clients; per-session telemetry reaches only the clients that
// subscribed to that agent session.
package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
	"go.uber.org/zap"
)

// sessionIndex maps session names to the clients watching them. It is
// not self-locking; the hub's mutex guards every call.
type sessionIndex map[string]map[*Client]struct{}

func (idx sessionIndex) add(session string, c *Client) {
	watchers, ok := idx[session]
	if !ok {
		watchers = make(map[*Client]struct{})
		idx[session] = watchers
	}
	watchers[c] = struct{}{}
}

func (idx sessionIndex) remove(session string, c *Client) {
	watchers, ok := idx[session]
	if !ok {
		return
	}
	delete(watchers, c)
	if len(watchers) == 0 {
		delete(idx, session)
	}
}

func (idx sessionIndex) dropClient(c *Client) {
	for session := range c.subscriptions {
		idx.remove(session, c)
	}
}

// Hub tracks connected clients and their session subscriptions.
// Connection lifecycle events are serialized through the Run loop;
// frame fan-out takes the read lock only.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	sessions sessionIndex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *ws.Message

	dispatcher *ws.Dispatcher
	logger     *logger.Logger
}

func NewHub(dispatcher *ws.Dispatcher, log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		sessions:   make(sessionIndex),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *ws.Message, 256),
		dispatcher: dispatcher,
		logger:     log.WithFields(zap.String("component", "ws-hub")),
	}
}

// Run owns the connection lifecycle until ctx is cancelled. Exactly
// one Run loop must be active per hub.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("websocket hub started")
	defer h.logger.Info("websocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.dropAll()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client connected", zap.String("client_id", c.ID))
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			h.fanOutAll(msg)
		}
	}
}

// Register hands a new connection to the Run loop.
func (h *Hub) Register(c *Client) {
	h.register <- c
}

// Unregister asks the Run loop to drop a connection.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// Broadcast queues a frame for every connected client.
func (h *Hub) Broadcast(msg *ws.Message) {
	h.broadcast <- msg
}

// BroadcastToSession delivers a frame only to the clients watching one
// agent session.
func (h *Hub) BroadcastToSession(sessionName string, msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal session frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.sessions[sessionName] {
		c.offer(data)
	}
}

// SubscribeToSession registers a client's interest in one agent
// session.
func (h *Hub) SubscribeToSession(c *Client, sessionName string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions.add(sessionName, c)
	c.subscriptions[sessionName] = struct{}{}

	h.logger.Debug("session subscription added",
		zap.String("client_id", c.ID),
		zap.String("session", sessionName))
}

// UnsubscribeFromSession removes a client's interest in one agent
// session.
func (h *Hub) UnsubscribeFromSession(c *Client, sessionName string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(c.subscriptions, sessionName)
	h.sessions.remove(sessionName, c)
}

// SessionSubscriberCount reports how many clients watch a session.
func (h *Hub) SessionSubscriberCount(sessionName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionName])
}

// GetClientCount reports the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// fanOutAll delivers one frame to every client. Clients whose queue is
// full miss the frame instead of stalling the hub.
func (h *Hub) fanOutAll(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.offer(data)
	}
}

// drop disconnects one client and forgets its subscriptions. Closing
// send makes the client's write loop shut the socket.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.sessions.dropClient(c)
	close(c.send)

	h.logger.Debug("client disconnected", zap.String("client_id", c.ID))
}

func (h *Hub) dropAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.sessions = make(sessionIndex)
}
