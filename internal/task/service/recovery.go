package service

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/taskdoc"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

const (
	recoveryWorkers = 4

	// teamStatusTimeout bounds the liveness lookup so a wedged session
	// backend cannot stall startup recovery.
	teamStatusTimeout = 10 * time.Second
)

// TeamStatusFunc reports the set of currently live agent session names.
type TeamStatusFunc func(ctx context.Context) (map[string]bool, error)

// RecoveryReport summarizes one abandonment recovery pass.
type RecoveryReport struct {
	Recovered int      `json:"recovered"`
	Skipped   int      `json:"skipped"`
	Errors    []string `json:"errors"`
}

// RecoverAbandonedTasks walks the tracking index and returns every task whose
// owning session is gone or stopped heartbeating back to the open folder,
// with the Assignment block stripped and the tracking entry removed. Entries
// whose owner is still alive and fresh are skipped.
func (s *Service) RecoverAbandonedTasks(ctx context.Context, getTeamStatus TeamStatusFunc) (*RecoveryReport, error) {
	entries, err := s.store.LoadTracking(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracking: %w", err)
	}
	report := &RecoveryReport{Errors: []string{}}
	if len(entries) == 0 {
		return report, nil
	}

	var live map[string]bool
	haveStatus := false
	if getTeamStatus != nil {
		statusCtx, cancel := context.WithTimeout(ctx, teamStatusTimeout)
		live, err = getTeamStatus(statusCtx)
		cancel()
		if err != nil {
			s.logger.Warn("team status unavailable, recovering on heartbeats only", zap.Error(err))
		} else {
			haveStatus = true
		}
	}

	now := time.Now().UTC()
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(recoveryWorkers)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			abandoned := now.Sub(entry.LastHeartbeatAt) > s.cfg.AbandonThreshold
			if haveStatus && !live[entry.SessionName] {
				abandoned = true
			}
			if !abandoned {
				mu.Lock()
				report.Skipped++
				mu.Unlock()
				return nil
			}
			if err := s.recoverEntry(gctx, entry); err != nil {
				mu.Lock()
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", entry.TaskFilePath, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			report.Recovered++
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}

	s.logger.Info("abandonment recovery pass finished",
		zap.Int("recovered", report.Recovered),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// recoverEntry returns one abandoned task to open. When the tracked file
// already left in_progress (a crash between move and index update, or a
// manual transition whose cleanup failed) only the stale entry is dropped.
func (s *Service) recoverEntry(ctx context.Context, entry v1.InProgressTaskEntry) error {
	if _, err := os.Stat(entry.TaskFilePath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("stat task: %w", err)
		}
		actualPath, status, locErr := s.locate(entry.TaskFilePath)
		if locErr != nil {
			if rmErr := s.store.RemoveTrackingEntry(ctx, entry.ID); rmErr != nil {
				return fmt.Errorf("drop tracking entry for missing task: %w", rmErr)
			}
			return fmt.Errorf("task file missing, tracking entry dropped")
		}
		s.logger.Info("tracked task already left in_progress, dropping stale entry",
			zap.String("task_path", actualPath),
			zap.String("status", string(status)))
		return s.store.RemoveTrackingEntry(ctx, entry.ID)
	}

	targetPath, _, err := s.transition(entry.TaskFilePath, v1.TaskStatusOpen, func(md string) (string, error) {
		return taskdoc.StripAssignment(md), nil
	})
	if err != nil {
		return err
	}
	if err := s.store.RemoveTrackingEntry(ctx, entry.ID); err != nil {
		s.logger.Warn("tracking entry cleanup failed",
			zap.String("task_path", entry.TaskFilePath), zap.Error(err))
	}

	s.record(ctx, events.TaskRecovered, entry.ProjectID, map[string]interface{}{
		"taskPath":  targetPath,
		"taskTitle": entry.TaskTitle,
		"session":   entry.SessionName,
	})
	s.logger.Info("abandoned task recovered",
		zap.String("task_path", targetPath),
		zap.String("session", entry.SessionName),
		zap.Time("last_heartbeat", entry.LastHeartbeatAt))
	return nil
}
