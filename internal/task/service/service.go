// Package service implements the task lifecycle engine: the folder state
// machine over task markdown files, assignment resolution against the
// persistent store, schema-gated completion, and abandonment recovery.
//
// The folder segment is the task state. Every transition reads the
// markdown, appends the matching metadata block, writes the file into the
// target folder and deletes the source. The two-file step is not atomic;
// interrupted transitions are tolerated by preferring the target copy when
// its metadata block is present.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	"github.com/stevehuang0115/agentmux-sub002/internal/store"
)

// Config tunes the engine.
type Config struct {
	// DefaultMaxRetries gates output validation when neither the task's
	// retry block nor the settings document carries a limit.
	DefaultMaxRetries int

	// AbandonThreshold is the heartbeat age past which an in-progress task
	// counts as abandoned.
	AbandonThreshold time.Duration
}

// DefaultConfig returns production tuning.
func DefaultConfig() Config {
	return Config{
		DefaultMaxRetries: 3,
		AbandonThreshold:  30 * time.Minute,
	}
}

// Service is the task lifecycle engine. One instance serves all projects;
// per-task serialization comes from the filesystem (rename wins) and the
// tracking index mutex inside the store.
type Service struct {
	store    *store.Store
	eventBus bus.EventBus
	logger   *logger.Logger
	cfg      Config
}

// NewService builds the engine. eventBus may be nil in tests.
func NewService(st *store.Store, eventBus bus.EventBus, log *logger.Logger, cfg Config) *Service {
	if cfg.DefaultMaxRetries <= 0 {
		cfg.DefaultMaxRetries = DefaultConfig().DefaultMaxRetries
	}
	if cfg.AbandonThreshold <= 0 {
		cfg.AbandonThreshold = DefaultConfig().AbandonThreshold
	}
	return &Service{
		store:    st,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "task-engine")),
		cfg:      cfg,
	}
}

// maxRetriesFor resolves the retry limit: the task's own retry block wins,
// then the settings document, then the engine default.
func (s *Service) maxRetriesFor(ctx context.Context, taskMax int) int {
	if taskMax > 0 {
		return taskMax
	}
	if settings, err := s.store.GetSettings(ctx); err == nil && settings.DefaultMaxRetries > 0 {
		return settings.DefaultMaxRetries
	}
	return s.cfg.DefaultMaxRetries
}

// Heartbeat refreshes the liveness timestamps for a session: its tracking
// entries and its team-member record. Called by the HTTP middleware on
// every tool call an agent makes.
func (s *Service) Heartbeat(ctx context.Context, sessionName string) {
	now := time.Now().UTC()
	if err := s.store.TouchTrackingHeartbeat(ctx, sessionName, now); err != nil {
		s.logger.Debug("tracking heartbeat failed",
			zap.String("session", sessionName), zap.Error(err))
	}
	if err := s.store.TouchMemberHeartbeat(ctx, sessionName, now); err != nil {
		s.logger.Debug("member heartbeat failed",
			zap.String("session", sessionName), zap.Error(err))
		return
	}
	if s.eventBus == nil {
		return
	}
	evt := bus.NewEvent(events.MemberHeartbeat, "task-engine", map[string]interface{}{
		"session": sessionName,
	})
	subject := events.BuildSessionSubject(events.MemberHeartbeat, sessionName)
	if err := s.eventBus.Publish(ctx, subject, evt); err != nil {
		s.logger.Debug("heartbeat event publish failed",
			zap.String("session", sessionName), zap.Error(err))
	}
}
