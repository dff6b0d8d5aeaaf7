package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/session"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// scanWindow is how many recent delivery logs one scan pass inspects.
const scanWindow = 100

// logSource is the store subset the scanner reads and appends to.
type logSource interface {
	RecentDeliveryLogs(n int) []v1.DeliveryLog
	AppendDeliveryLog(log v1.DeliveryLog)
}

// targetResolver maps delivery targets back to sessions and runtimes.
type targetResolver interface {
	ResolveTarget(ctx context.Context, target string) string
	RuntimeFor(ctx context.Context, sessionName string) v1.RuntimeType
}

// Scanner periodically re-attempts recent failed deliveries whose session
// has come back to an idle prompt. Each failed log is re-attempted at most
// once per process; acknowledged payloads are skipped via the deliverer's
// ack cache, so a message the agent already saw is never duplicated.
type Scanner struct {
	deliverer *Deliverer
	backend   session.Backend
	logs      logSource
	resolver  targetResolver
	interval  time.Duration
	logger    *logger.Logger

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
	attempted map[string]struct{} // delivery log IDs already re-attempted
}

// NewScanner builds the stuck-message scanner.
func NewScanner(deliverer *Deliverer, backend session.Backend, logs logSource, resolver targetResolver, interval time.Duration, log *logger.Logger) *Scanner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scanner{
		deliverer: deliverer,
		backend:   backend,
		logs:      logs,
		resolver:  resolver,
		interval:  interval,
		logger:    log.WithFields(zap.String("component", "delivery-scanner")),
		attempted: make(map[string]struct{}),
	}
}

// Start launches the scan loop.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("stuck-message scanner started",
		zap.Duration("interval", s.interval))
	return nil
}

// Stop halts the scan loop and waits for an in-flight pass to finish.
func (s *Scanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("stuck-message scanner stopped")
}

func (s *Scanner) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan runs one pass over the recent delivery logs.
func (s *Scanner) scan(ctx context.Context) {
	for _, dl := range s.logs.RecentDeliveryLogs(scanWindow) {
		if ctx.Err() != nil {
			return
		}
		if dl.Success || dl.Error == v1.DeliveryErrorOrphaned {
			continue
		}
		if s.attemptedAlready(dl.ID) {
			continue
		}
		if s.deliverer.Acked(dl.Message) {
			// A later attempt for the same payload already landed.
			s.markAttempted(dl.ID)
			continue
		}

		sessionName := s.resolver.ResolveTarget(ctx, dl.TargetTeam)
		runtime := s.resolver.RuntimeFor(ctx, sessionName)

		// Only sessions that are alive and idle again are worth a retry;
		// others stay eligible for later passes.
		exists, err := s.backend.SessionExists(ctx, sessionName)
		if err != nil || !exists {
			continue
		}
		idle, err := s.backend.IsPromptIdle(ctx, sessionName, runtime)
		if err != nil || !idle {
			continue
		}

		s.markAttempted(dl.ID)
		res := s.deliverer.Redeliver(ctx, Request{
			SessionName: sessionName,
			Payload:     dl.Message,
			Runtime:     runtime,
		})

		s.logs.AppendDeliveryLog(v1.DeliveryLog{
			ScheduledMessageID: dl.ScheduledMessageID,
			MessageName:        dl.MessageName,
			TargetTeam:         dl.TargetTeam,
			TargetProject:      dl.TargetProject,
			Message:            dl.Message,
			SentAt:             time.Now().UTC(),
			Success:            res.Success,
			Error:              res.Error,
		})

		if res.Success {
			s.logger.Info("stuck message recovered",
				zap.String("session", sessionName),
				zap.String("message_name", dl.MessageName))
		} else {
			s.logger.Warn("stuck message re-attempt failed",
				zap.String("session", sessionName),
				zap.String("error", res.Error))
		}
	}
}

func (s *Scanner) attemptedAlready(logID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.attempted[logID]
	return ok
}

func (s *Scanner) markAttempted(logID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// The set only grows with failed deliveries; cap it so a pathological
	// backend cannot leak memory over a long daemon lifetime.
	if len(s.attempted) > 4096 {
		s.attempted = make(map[string]struct{})
	}
	s.attempted[logID] = struct{}{}
}
