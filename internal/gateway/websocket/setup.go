package websocket

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The daemon binds loopback; origin checks stay permissive.
		return true
	},
}

// Gateway bundles the hub with its dispatcher and owns the /ws route.
type Gateway struct {
	Hub        *Hub
	Dispatcher *ws.Dispatcher
	logger     *logger.Logger
}

// NewGateway wires a dispatcher, a hub and the built-in health action.
// The caller starts Hub.Run and registers the domain actions on
// Dispatcher.
func NewGateway(log *logger.Logger) *Gateway {
	dispatcher := ws.NewDispatcher()
	g := &Gateway{
		Hub:        NewHub(dispatcher, log),
		Dispatcher: dispatcher,
		logger:     log.WithFields(zap.String("component", "ws-gateway")),
	}
	registerHealthAction(dispatcher)
	return g
}

// SetupRoutes mounts the WebSocket endpoint on the router.
func (g *Gateway) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", g.serveWS)
}

// serveWS upgrades the request and runs the connection's loops. The
// read loop blocks until the peer disconnects.
func (g *Gateway) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(uuid.New().String(), conn, g.Hub, g.logger)
	g.logger.Debug("websocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	g.Hub.Register(client)
	go client.writeLoop()
	client.readLoop(c.Request.Context())
}

func registerHealthAction(d *ws.Dispatcher) {
	d.RegisterFunc(ws.ActionHealthCheck, func(_ context.Context, msg *ws.Message) (*ws.Message, error) {
		return ws.NewResponse(msg.ID, msg.Action, map[string]interface{}{
			"status":  "ok",
			"service": "crewly",
		})
	})
}
