package main

import (
	"fmt"
	"strings"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/config"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
)

// provideEventBus picks the bus implementation: NATS when a URL is
// configured, in-memory otherwise. The returned cleanup is called once
// at shutdown.
func provideEventBus(cfg *config.Config, log *logger.Logger) (bus.EventBus, func() error, error) {
	if strings.TrimSpace(cfg.NATS.URL) != "" {
		natsBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats event bus: %w", err)
		}
		cleanup := func() error {
			natsBus.Close()
			return nil
		}
		return natsBus, cleanup, nil
	}

	memBus := bus.NewMemoryEventBus(log)
	cleanup := func() error {
		memBus.Close()
		return nil
	}
	return memBus, cleanup, nil
}
