package main

import (
	"context"

	"github.com/stevehuang0115/agentmux-sub002/internal/checks"
	"github.com/stevehuang0115/agentmux-sub002/internal/session"
	taskservice "github.com/stevehuang0115/agentmux-sub002/internal/task/service"
)

// teamStatus returns the live-session probe recovery runs use. Whatever the
// backend lists counts as alive.
func teamStatus(backend session.Backend) taskservice.TeamStatusFunc {
	return func(ctx context.Context) (map[string]bool, error) {
		names, err := backend.ListSessions(ctx)
		if err != nil {
			return nil, err
		}
		live := make(map[string]bool, len(names))
		for _, name := range names {
			live[name] = true
		}
		return live, nil
	}
}

// promptActivityMonitor classifies a session by its prompt state: an idle
// prompt means the agent is waiting for input, anything else counts as work
// in progress.
type promptActivityMonitor struct {
	backend  session.Backend
	resolver *session.Resolver
}

func (m *promptActivityMonitor) SessionActivity(ctx context.Context, sessionName string) (checks.SessionActivity, error) {
	runtime := m.resolver.RuntimeFor(ctx, sessionName)
	idle, err := m.backend.IsPromptIdle(ctx, sessionName, runtime)
	if err != nil {
		return "", err
	}
	if idle {
		return checks.ActivityIdle, nil
	}
	return checks.ActivityInProgress, nil
}
