// Package store implements the persistent facade over the Crewly home
// directory: the data.json snapshot document, the activity.json append log,
// the in_progress_tasks.json tracking index, and the scheduler check files.
//
// data.json is validated on load and rewritten whole under a single mutex.
// activity.json appends are serialized through one writer goroutine.
// Readers always load whole snapshots, so no lock is held across I/O done
// by callers.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
)

// File names under the home directory.
const (
	DataFileName            = "data.json"
	ActivityFileName        = "activity.json"
	TrackingFileName        = "in_progress_tasks.json"
	RecurringChecksFileName = "recurring-checks.json"
	OneTimeChecksFileName   = "one-time-checks.json"

	backupSuffix = ".backup"
)

// Config holds store tuning.
type Config struct {
	// Dir is the home directory holding all store files.
	Dir string
	// BackupEnabled writes a .backup sibling before each data.json replace.
	BackupEnabled bool
	// ActivityCap bounds activity.json; rotation keeps the newest entries.
	ActivityCap int
	// DeliveryLogCap bounds the in-memory recent delivery log ring.
	DeliveryLogCap int
	// FlushInterval is the activity writer flush period.
	FlushInterval time.Duration
}

// DefaultConfig returns production defaults rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		BackupEnabled:  true,
		ActivityCap:    1000,
		DeliveryLogCap: 200,
		FlushInterval:  250 * time.Millisecond,
	}
}

// Store is the transactional facade over the on-disk state.
type Store struct {
	cfg    Config
	logger *logger.Logger

	mu         sync.Mutex // serializes data.json load-modify-save cycles
	trackingMu sync.Mutex // serializes in_progress_tasks.json
	checksMu   sync.Mutex // serializes the two check files

	activity *activityWriter

	logsMu     sync.RWMutex
	recentLogs []v1.DeliveryLog // newest last, capped at DeliveryLogCap
}

// New creates the store, ensuring the home directory exists. The activity
// writer starts on Start.
func New(cfg Config, log *logger.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("store dir must not be empty")
	}
	if cfg.ActivityCap <= 0 {
		cfg.ActivityCap = DefaultConfig("").ActivityCap
	}
	if cfg.DeliveryLogCap <= 0 {
		cfg.DeliveryLogCap = DefaultConfig("").DeliveryLogCap
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig("").FlushInterval
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		logger: log,
	}
	s.activity = newActivityWriter(s.path(ActivityFileName), cfg.ActivityCap, cfg.FlushInterval, log)
	return s, nil
}

// Start launches the activity writer goroutine.
func (s *Store) Start() {
	s.activity.Start()
}

// Close flushes pending activity and stops the writer. The store remains
// usable for reads afterwards.
func (s *Store) Close() {
	s.activity.Stop()
}

// Flush forces a synchronous activity flush. Tests and shutdown paths use
// it to observe every appended entry.
func (s *Store) Flush() {
	s.activity.flush()
}

// Dir returns the configured home directory.
func (s *Store) Dir() string {
	return s.cfg.Dir
}

func (s *Store) path(name string) string {
	return filepath.Join(s.cfg.Dir, name)
}
