package session

import (
	"context"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"go.uber.org/zap"
)

// directory is the store subset the resolver reads.
type directory interface {
	GetSettings(ctx context.Context) (v1.Settings, error)
	FindMemberBySessionName(ctx context.Context, sessionName string) (*v1.Team, *v1.TeamMember, error)
}

// Resolver maps a session name to the runtime type driving it. Delivery
// needs the runtime before it can pick write delays and echo patterns.
type Resolver struct {
	store  directory
	logger *logger.Logger
}

// NewResolver builds a resolver over the store.
func NewResolver(store directory, log *logger.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: log.WithFields(zap.String("component", "runtime-resolver")),
	}
}

// RuntimeFor resolves sessionName to a runtime type: the orchestrator
// session takes the settings runtime, team members their registered one,
// everything else the default. Lookup failures degrade to the default
// rather than blocking a delivery.
func (r *Resolver) RuntimeFor(ctx context.Context, sessionName string) v1.RuntimeType {
	settings, err := r.store.GetSettings(ctx)
	if err == nil && sessionName == settings.OrchestratorSessionName {
		if settings.OrchestratorRuntime.Valid() {
			return settings.OrchestratorRuntime
		}
		return v1.DefaultRuntime
	}

	_, member, err := r.store.FindMemberBySessionName(ctx, sessionName)
	if err == nil && member.RuntimeType.Valid() {
		return member.RuntimeType
	}

	r.logger.Debug("session has no registered runtime, using default",
		zap.String("session", sessionName))
	return v1.DefaultRuntime
}

// ResolveTarget maps a delivery target to a concrete session name. The
// reserved "orchestrator" target follows the settings document.
func (r *Resolver) ResolveTarget(ctx context.Context, target string) string {
	if target != v1.OrchestratorTarget {
		return target
	}
	settings, err := r.store.GetSettings(ctx)
	if err != nil || settings.OrchestratorSessionName == "" {
		return v1.DefaultOrchestratorSession
	}
	return settings.OrchestratorSessionName
}
