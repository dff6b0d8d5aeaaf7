package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"go.uber.org/zap"
)

// activityWriter serializes activity.json appends through one goroutine.
// Producers only append to a pending slice under a short lock; the writer
// folds pending entries into the file on a fixed interval and rotates the
// file down to cap entries, newest kept.
type activityWriter struct {
	path          string
	cap           int
	flushInterval time.Duration
	logger        *logger.Logger

	mu      sync.Mutex
	pending []v1.ActivityEntry
	entries []v1.ActivityEntry // in-memory mirror of the file, newest last
	loaded  bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newActivityWriter(path string, capEntries int, flushInterval time.Duration, log *logger.Logger) *activityWriter {
	return &activityWriter{
		path:          path,
		cap:           capEntries,
		flushInterval: flushInterval,
		logger:        log.WithFields(zap.String("component", "activity-writer")),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. Safe to call once.
func (w *activityWriter) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.flushLoop()
	})
}

// Stop flushes remaining entries and terminates the loop.
func (w *activityWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		w.flush()
	})
}

// Add queues one entry for the next flush.
func (w *activityWriter) Add(entry v1.ActivityEntry) {
	w.mu.Lock()
	w.pending = append(w.pending, entry)
	w.mu.Unlock()
}

func (w *activityWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.flush()
		case <-w.done:
			return
		}
	}
}

// flush folds pending entries into the file. The file is read once on the
// first flush; afterwards the in-memory mirror is authoritative because
// this writer is the only producer. The file write happens on a copy taken
// under the lock so snapshot never observes a half-folded mirror.
func (w *activityWriter) flush() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	if err := w.ensureLoadedLocked(); err != nil {
		w.logger.Warn("activity file unreadable, starting fresh", zap.Error(err))
	}

	w.entries = append(w.entries, w.pending...)
	w.pending = nil
	if len(w.entries) > w.cap {
		w.entries = w.entries[len(w.entries)-w.cap:]
	}
	out := make([]v1.ActivityEntry, len(w.entries))
	copy(out, w.entries)
	w.mu.Unlock()

	if err := writeJSONFile(w.path, out); err != nil {
		w.logger.Error("failed to write activity log", zap.Error(err))
	}
}

// ensureLoadedLocked reads the file into the mirror on first use. Caller
// holds w.mu.
func (w *activityWriter) ensureLoadedLocked() error {
	if w.loaded {
		return nil
	}
	w.loaded = true

	var entries []v1.ActivityEntry
	err := readJSONFile(w.path, &entries)
	if err != nil {
		w.entries = nil
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	w.entries = entries
	return nil
}

// snapshot returns the current in-memory view, pending included, newest last.
func (w *activityWriter) snapshot() []v1.ActivityEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.ensureLoadedLocked()

	out := make([]v1.ActivityEntry, 0, len(w.entries)+len(w.pending))
	out = append(out, w.entries...)
	out = append(out, w.pending...)
	return out
}

// AppendActivity records one activity entry. The write is asynchronous;
// call Flush to force it to disk.
func (s *Store) AppendActivity(entry v1.ActivityEntry) {
	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	s.activity.Add(entry)
}

// LoadActivity returns the activity log, oldest first. Pending entries not
// yet flushed are included.
func (s *Store) LoadActivity(ctx context.Context) ([]v1.ActivityEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.activity.snapshot(), nil
}

// AppendDeliveryLog records a delivery outcome in the in-memory ring and
// mirrors it to the activity log.
func (s *Store) AppendDeliveryLog(log v1.DeliveryLog) {
	if log.ID == "" {
		log.ID = ulid.Make().String()
	}
	if log.SentAt.IsZero() {
		log.SentAt = time.Now().UTC()
	}

	s.logsMu.Lock()
	s.recentLogs = append(s.recentLogs, log)
	if len(s.recentLogs) > s.cfg.DeliveryLogCap {
		s.recentLogs = s.recentLogs[len(s.recentLogs)-s.cfg.DeliveryLogCap:]
	}
	s.logsMu.Unlock()

	s.AppendActivity(v1.ActivityEntry{
		Kind:        v1.ActivityKindDelivery,
		At:          log.SentAt,
		DeliveryLog: &log,
	})
}

// RecentDeliveryLogs returns up to n most recent delivery outcomes, newest
// last. n <= 0 returns all retained logs.
func (s *Store) RecentDeliveryLogs(n int) []v1.DeliveryLog {
	s.logsMu.RLock()
	defer s.logsMu.RUnlock()

	logs := s.recentLogs
	if n > 0 && len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	out := make([]v1.DeliveryLog, len(logs))
	copy(out, logs)
	return out
}
