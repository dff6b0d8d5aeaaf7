package store

import (
	"context"
	"errors"
	"fmt"
	"os"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// Load reads the whole data document. A missing file yields the default
// document; malformed JSON fails with ErrCorruptStore so a save never
// clobbers a document a human may still want to inspect.
func (s *Store) Load(ctx context.Context) (*v1.Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*v1.Data, error) {
	var data v1.Data
	err := readJSONFile(s.path(DataFileName), &data)
	if errors.Is(err, os.ErrNotExist) {
		return v1.DefaultData(), nil
	}
	if err != nil {
		return nil, err
	}
	if data.Settings.OrchestratorSessionName == "" {
		data.Settings.OrchestratorSessionName = v1.DefaultOrchestratorSession
	}
	return &data, nil
}

// Save validates the document, writes the backup sibling, then atomically
// replaces data.json. Validation failure aborts before any byte is written.
func (s *Store) Save(ctx context.Context, data *v1.Data) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(data)
}

func (s *Store) saveLocked(data *v1.Data) error {
	if err := validateData(data); err != nil {
		return err
	}

	// Drain legacy check arrays into the dedicated files so data.json stays
	// the document of record for teams, projects and messages only.
	if len(data.RecurringChecks) > 0 || len(data.OneTimeChecks) > 0 {
		if err := s.drainLegacyChecks(data); err != nil {
			return err
		}
	}

	path := s.path(DataFileName)
	if s.cfg.BackupEnabled {
		if raw, err := os.ReadFile(path); err == nil {
			if err := writeFileAtomic(path+backupSuffix, raw); err != nil {
				return fmt.Errorf("write backup: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("read current document for backup: %w", err)
		}
	}

	return writeJSONFile(path, data)
}

// Update runs fn against the current document and saves the result under
// one critical section. The per-entity CRUD is built on this.
func (s *Store) Update(ctx context.Context, fn func(*v1.Data) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.loadLocked()
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	return s.saveLocked(data)
}

// drainLegacyChecks moves check arrays found inside data.json into the
// dedicated state files, merging by id.
func (s *Store) drainLegacyChecks(data *v1.Data) error {
	if len(data.RecurringChecks) > 0 {
		existing, err := s.LoadRecurringChecks(context.Background())
		if err != nil {
			return err
		}
		if err := s.SaveRecurringChecks(context.Background(), mergeChecksByID(existing, data.RecurringChecks)); err != nil {
			return err
		}
		data.RecurringChecks = nil
	}
	if len(data.OneTimeChecks) > 0 {
		existing, err := s.LoadOneTimeChecks(context.Background())
		if err != nil {
			return err
		}
		if err := s.SaveOneTimeChecks(context.Background(), mergeChecksByID(existing, data.OneTimeChecks)); err != nil {
			return err
		}
		data.OneTimeChecks = nil
	}
	return nil
}

func mergeChecksByID(existing, incoming []v1.ScheduledCheck) []v1.ScheduledCheck {
	seen := make(map[string]bool, len(existing))
	out := make([]v1.ScheduledCheck, 0, len(existing)+len(incoming))
	for _, c := range existing {
		seen[c.ID] = true
		out = append(out, c)
	}
	for _, c := range incoming {
		if !seen[c.ID] {
			out = append(out, c)
		}
	}
	return out
}
