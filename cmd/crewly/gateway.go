package main

import (
	"context"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	gateways "github.com/stevehuang0115/agentmux-sub002/internal/gateway/websocket"
)

// provideGateway builds the unified WebSocket gateway, starts its hub and
// bridges bus events onto connected clients. Route registration stays in
// main because it needs the router and the controller.
func provideGateway(ctx context.Context, log *logger.Logger, eventBus bus.EventBus) *gateways.Gateway {
	gateway := gateways.NewGateway(log)

	go gateway.Hub.Run(ctx)
	gateways.RegisterEventNotifications(ctx, eventBus, gateway.Hub, log)

	return gateway
}
