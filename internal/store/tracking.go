package store

import (
	"context"
	"errors"
	"os"
	"time"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// LoadTracking returns all entries of the in-progress tracking index.
// A missing file means no task is tracked.
func (s *Store) LoadTracking(ctx context.Context) ([]v1.InProgressTaskEntry, error) {
	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()
	return s.loadTrackingLocked()
}

func (s *Store) loadTrackingLocked() ([]v1.InProgressTaskEntry, error) {
	var entries []v1.InProgressTaskEntry
	err := readJSONFile(s.path(TrackingFileName), &entries)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) saveTrackingLocked(entries []v1.InProgressTaskEntry) error {
	if entries == nil {
		entries = []v1.InProgressTaskEntry{}
	}
	return writeJSONFile(s.path(TrackingFileName), entries)
}

// AddTrackingEntry appends one tracking record. A pre-existing entry for the
// same task file is replaced, which keeps the index one-row-per-task even if
// a crash left a stale record behind.
func (s *Store) AddTrackingEntry(ctx context.Context, entry v1.InProgressTaskEntry) error {
	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()

	entries, err := s.loadTrackingLocked()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.TaskFilePath != entry.TaskFilePath {
			out = append(out, e)
		}
	}
	out = append(out, entry)
	return s.saveTrackingLocked(out)
}

// RemoveTrackingEntry deletes the record with the given id. Removing an
// absent id is not an error.
func (s *Store) RemoveTrackingEntry(ctx context.Context, id string) error {
	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()

	entries, err := s.loadTrackingLocked()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			out = append(out, e)
		}
	}
	return s.saveTrackingLocked(out)
}

// RemoveTrackingByTaskPath deletes every record pointing at the given task
// file. Terminal transitions use this because the caller may only know the
// path, not the entry id.
func (s *Store) RemoveTrackingByTaskPath(ctx context.Context, taskPath string) error {
	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()

	entries, err := s.loadTrackingLocked()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.TaskFilePath != taskPath {
			out = append(out, e)
		}
	}
	return s.saveTrackingLocked(out)
}

// FindTrackingByTaskPath returns the record for a task file, or ErrNotFound.
func (s *Store) FindTrackingByTaskPath(ctx context.Context, taskPath string) (*v1.InProgressTaskEntry, error) {
	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()

	entries, err := s.loadTrackingLocked()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].TaskFilePath == taskPath {
			e := entries[i]
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

// TouchTrackingHeartbeat stamps now on every record owned by the session.
// Unknown sessions are a no-op; heartbeats arrive for agents that may not
// hold any task.
func (s *Store) TouchTrackingHeartbeat(ctx context.Context, sessionName string, now time.Time) error {
	s.trackingMu.Lock()
	defer s.trackingMu.Unlock()

	entries, err := s.loadTrackingLocked()
	if err != nil {
		return err
	}
	touched := false
	for i := range entries {
		if entries[i].SessionName == sessionName {
			entries[i].LastHeartbeatAt = now
			touched = true
		}
	}
	if !touched {
		return nil
	}
	return s.saveTrackingLocked(entries)
}
