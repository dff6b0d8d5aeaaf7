// Package watcher reconciles external edits to project boards. Humans and
// agents move task files with mv or an editor without going through the
// engine; the watcher notices, prunes tracking entries whose file left
// in_progress, and fans out a board-changed event per affected project.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/events/bus"
	"github.com/stevehuang0115/agentmux-sub002/internal/taskdoc"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// Config tunes the watcher.
type Config struct {
	// Debounce is how long to collect filesystem events before reconciling.
	Debounce time.Duration

	// Resync is the interval for re-listing projects, which picks up boards
	// registered after Start and directories the event stream missed.
	Resync time.Duration
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		Debounce: 500 * time.Millisecond,
		Resync:   30 * time.Second,
	}
}

// boardSource is the slice of the store the watcher needs.
type boardSource interface {
	ListProjects(ctx context.Context) ([]v1.Project, error)
	LoadTracking(ctx context.Context) ([]v1.InProgressTaskEntry, error)
	RemoveTrackingEntry(ctx context.Context, id string) error
}

// Watcher follows every registered project's tasks tree.
type Watcher struct {
	cfg      Config
	source   boardSource
	eventBus bus.EventBus
	logger   *logger.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	pendingMu sync.Mutex
	pending   map[string]struct{} // task file paths with unflushed events

	projectsMu sync.RWMutex
	projectIDs map[string]string // project root path → id
}

// New builds a watcher over the given store slice. eventBus may be nil.
func New(cfg Config, source boardSource, eventBus bus.EventBus, log *logger.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultConfig().Debounce
	}
	if cfg.Resync <= 0 {
		cfg.Resync = DefaultConfig().Resync
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:        cfg,
		source:     source,
		eventBus:   eventBus,
		logger:     log.WithFields(zap.String("component", "board-watcher")),
		fsw:        fsw,
		pending:    make(map[string]struct{}),
		projectIDs: make(map[string]string),
	}, nil
}

// Start watches all currently registered boards and begins the loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.mu.Unlock()

	w.resyncBoards(ctx)

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("board watcher started",
		zap.Duration("debounce", w.cfg.Debounce),
		zap.Duration("resync", w.cfg.Resync))
	return nil
}

// Stop halts the loop and releases the filesystem watches.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	if err := w.fsw.Close(); err != nil {
		w.logger.Warn("failed to close filesystem watcher", zap.Error(err))
	}
	w.logger.Info("board watcher stopped")
}

// AddProject watches one project's board immediately instead of waiting for
// the next resync. Called when a project is registered at runtime.
func (w *Watcher) AddProject(project v1.Project) {
	w.projectsMu.Lock()
	w.projectIDs[project.Path] = project.ID
	w.projectsMu.Unlock()
	w.watchTree(taskdoc.BoardDir(project.Path))
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	debounce := time.NewTicker(w.cfg.Debounce)
	defer debounce.Stop()
	resync := time.NewTicker(w.cfg.Resync)
	defer resync.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		case <-debounce.C:
			w.flush(ctx)
		case <-resync.C:
			w.resyncBoards(ctx)
		}
	}
}

// handleFSEvent accumulates task file changes and chases new directories.
// Renames surface the old name only; the flush treats a vanished path the
// same as a delete.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	name := event.Name
	base := filepath.Base(name)

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if !strings.HasPrefix(base, ".") {
				w.watchTree(name)
			}
			return
		}
	}
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".md") {
		return
	}

	w.pendingMu.Lock()
	w.pending[name] = struct{}{}
	w.pendingMu.Unlock()
}

// flush reconciles the tracking index against disk and emits one
// board-changed event per project touched in the batch.
func (w *Watcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := w.pending
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	roots := make(map[string]struct{})
	for path := range batch {
		if root, _, err := taskdoc.ProjectRootFromTaskPath(path); err == nil {
			roots[root] = struct{}{}
		}
	}
	w.logger.Debug("board change batch",
		zap.Int("files", len(batch)),
		zap.Int("projects", len(roots)))

	w.reconcileTracking(ctx)

	for root := range roots {
		w.publishBoardChanged(ctx, root)
	}
}

// reconcileTracking drops index entries whose file no longer exists under
// in_progress. The markdown is authoritative; the index follows it.
func (w *Watcher) reconcileTracking(ctx context.Context) {
	entries, err := w.source.LoadTracking(ctx)
	if err != nil {
		w.logger.Warn("tracking load failed during reconcile", zap.Error(err))
		return
	}
	for _, entry := range entries {
		if _, err := os.Stat(entry.TaskFilePath); err == nil || !os.IsNotExist(err) {
			continue
		}
		if err := w.source.RemoveTrackingEntry(ctx, entry.ID); err != nil {
			w.logger.Warn("failed to drop stale tracking entry",
				zap.String("task_path", entry.TaskFilePath), zap.Error(err))
			continue
		}
		w.logger.Info("task file moved externally, tracking entry dropped",
			zap.String("task_path", entry.TaskFilePath),
			zap.String("session", entry.SessionName))
	}
}

func (w *Watcher) publishBoardChanged(ctx context.Context, root string) {
	if w.eventBus == nil {
		return
	}
	w.projectsMu.RLock()
	projectID := w.projectIDs[root]
	w.projectsMu.RUnlock()

	subject := events.TaskBoardChanged
	if projectID != "" {
		subject = events.BuildTaskSubject(events.TaskBoardChanged, projectID)
	}
	event := bus.NewEvent(events.TaskBoardChanged, "board-watcher", map[string]interface{}{
		"projectPath": root,
		"projectId":   projectID,
	})
	if err := w.eventBus.Publish(ctx, subject, event); err != nil {
		w.logger.Error("failed to publish board change", zap.Error(err))
	}
}

// resyncBoards re-lists projects and (re)adds their board watches. fsnotify
// drops watches for deleted directories on its own.
func (w *Watcher) resyncBoards(ctx context.Context) {
	projects, err := w.source.ListProjects(ctx)
	if err != nil {
		w.logger.Warn("project list failed during resync", zap.Error(err))
		return
	}
	w.projectsMu.Lock()
	for _, p := range projects {
		w.projectIDs[p.Path] = p.ID
	}
	w.projectsMu.Unlock()

	for _, p := range projects {
		w.watchTree(taskdoc.BoardDir(p.Path))
	}
}

// watchTree adds watches for dir and every subdirectory. Re-adding an
// already watched directory is a no-op for fsnotify.
func (w *Watcher) watchTree(dir string) {
	if _, err := os.Stat(dir); err != nil {
		return
	}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || !info.IsDir() {
			return nil //nolint:nilerr // unreadable subtrees are skipped, not fatal
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			w.logger.Warn("failed to watch directory",
				zap.String("path", path), zap.Error(addErr))
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("board walk failed", zap.String("dir", dir), zap.Error(err))
	}
}
