package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
	"go.uber.org/zap"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second

	// pingInterval must stay under pongTimeout or healthy peers get
	// dropped.
	pingInterval = (pongTimeout * 9) / 10

	maxFrameBytes = 512 * 1024
	sendQueueSize = 256
)

// Client is one WebSocket connection. The read loop feeds frames to
// the dispatcher; the write loop drains send. Nothing writes to the
// socket outside the write loop.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	// session names this client watches, guarded by hub.mu
	subscriptions map[string]struct{}

	logger *logger.Logger
}

func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendQueueSize),
		subscriptions: make(map[string]struct{}),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

// readLoop decodes inbound frames until the peer goes away, then
// unregisters the client.
func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg ws.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.enqueueError("", "", ws.ErrorCodeBadRequest, "Invalid message format", nil)
			continue
		}
		c.handleMessage(ctx, &msg)
	}
}

// handleMessage routes one frame. Subscription actions mutate this
// connection's own state, so they bypass the dispatcher.
func (c *Client) handleMessage(ctx context.Context, msg *ws.Message) {
	switch msg.Action {
	case ws.ActionSessionSubscribe:
		c.handleSubscription(msg, true)
		return
	case ws.ActionSessionUnsubscribe:
		c.handleSubscription(msg, false)
		return
	}

	reply, err := c.hub.dispatcher.Dispatch(ctx, msg)
	if err != nil {
		c.logger.Error("action handler failed",
			zap.String("action", msg.Action), zap.Error(err))
		c.enqueueError(msg.ID, msg.Action, ws.ErrorCodeInternalError, err.Error(), nil)
		return
	}
	if reply != nil {
		c.enqueue(reply)
	}
}

type subscribeRequest struct {
	SessionName string `json:"sessionName"`
}

func (c *Client) handleSubscription(msg *ws.Message, subscribe bool) {
	var req subscribeRequest
	if err := msg.ParsePayload(&req); err != nil {
		c.enqueueError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
		return
	}
	if req.SessionName == "" {
		c.enqueueError(msg.ID, msg.Action, ws.ErrorCodeValidation, "sessionName is required", nil)
		return
	}

	if subscribe {
		c.hub.SubscribeToSession(c, req.SessionName)
	} else {
		c.hub.UnsubscribeFromSession(c, req.SessionName)
	}

	ack, _ := ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
		"success":     true,
		"sessionName": req.SessionName,
	})
	c.enqueue(ack)
}

// offer enqueues raw frame bytes without blocking. A full queue drops
// the frame; the peer is too slow to keep.
func (c *Client) offer(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) enqueue(msg *ws.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("marshal frame", zap.Error(err))
		return
	}
	if !c.offer(data) {
		c.logger.Warn("send queue full, dropping frame", zap.String("action", msg.Action))
	}
}

func (c *Client) enqueueError(id, action, code, message string, details map[string]interface{}) {
	frame, err := ws.NewError(id, action, code, message, details)
	if err != nil {
		c.logger.Error("build error frame", zap.Error(err))
		return
	}
	c.enqueue(frame)
}

// writeLoop is the only socket writer. It coalesces queued frames into
// newline-separated batches and keeps the connection alive with pings.
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// The hub dropped us.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(data)
			for i := 0; i < len(c.send); i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
