package store

import (
	"context"
	"errors"
	"os"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// LoadRecurringChecks returns all persisted recurring checks.
func (s *Store) LoadRecurringChecks(ctx context.Context) ([]v1.ScheduledCheck, error) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	return s.loadChecksLocked(RecurringChecksFileName)
}

// SaveRecurringChecks replaces the recurring check file.
func (s *Store) SaveRecurringChecks(ctx context.Context, checks []v1.ScheduledCheck) error {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	return s.saveChecksLocked(RecurringChecksFileName, checks)
}

// LoadOneTimeChecks returns all persisted one-shot checks.
func (s *Store) LoadOneTimeChecks(ctx context.Context) ([]v1.ScheduledCheck, error) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	return s.loadChecksLocked(OneTimeChecksFileName)
}

// SaveOneTimeChecks replaces the one-shot check file.
func (s *Store) SaveOneTimeChecks(ctx context.Context, checks []v1.ScheduledCheck) error {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	return s.saveChecksLocked(OneTimeChecksFileName, checks)
}

// UpsertCheck writes one check into its file, keyed by id. Recurring checks
// go to recurring-checks.json, one-shots to one-time-checks.json.
func (s *Store) UpsertCheck(ctx context.Context, check v1.ScheduledCheck) error {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()

	name := checkFileFor(check)
	checks, err := s.loadChecksLocked(name)
	if err != nil {
		return err
	}
	replaced := false
	for i := range checks {
		if checks[i].ID == check.ID {
			checks[i] = check
			replaced = true
			break
		}
	}
	if !replaced {
		checks = append(checks, check)
	}
	return s.saveChecksLocked(name, checks)
}

// DeleteCheck removes the check with the given id from both files. Deleting
// an absent id is not an error.
func (s *Store) DeleteCheck(ctx context.Context, id string) error {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()

	for _, name := range []string{RecurringChecksFileName, OneTimeChecksFileName} {
		checks, err := s.loadChecksLocked(name)
		if err != nil {
			return err
		}
		out := checks[:0]
		removed := false
		for _, c := range checks {
			if c.ID == id {
				removed = true
				continue
			}
			out = append(out, c)
		}
		if removed {
			if err := s.saveChecksLocked(name, out); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) loadChecksLocked(name string) ([]v1.ScheduledCheck, error) {
	var checks []v1.ScheduledCheck
	err := readJSONFile(s.path(name), &checks)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return checks, nil
}

func (s *Store) saveChecksLocked(name string, checks []v1.ScheduledCheck) error {
	if checks == nil {
		checks = []v1.ScheduledCheck{}
	}
	return writeJSONFile(s.path(name), checks)
}

func checkFileFor(check v1.ScheduledCheck) string {
	if check.IsRecurring {
		return RecurringChecksFileName
	}
	return OneTimeChecksFileName
}
