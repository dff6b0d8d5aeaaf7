package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/taskdoc"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// AssignResult reports a successful open → in_progress transition.
type AssignResult struct {
	Task       v1.Task `json:"task"`
	TrackingID string  `json:"trackingId"`
}

// CompleteResult reports where a completion attempt left the task. Status
// done means the task moved; in_progress means validation failed and the
// retry block was rewritten; blocked means retries were exhausted.
type CompleteResult struct {
	Task               v1.Task       `json:"task"`
	Status             v1.TaskStatus `json:"status"`
	OutputFile         string        `json:"outputFile,omitempty"`
	RetryCount         int           `json:"retryCount,omitempty"`
	MaxRetries         int           `json:"maxRetries,omitempty"`
	ValidationErrors   []string      `json:"validationErrors,omitempty"`
	MaxRetriesExceeded bool          `json:"maxRetriesExceeded,omitempty"`
}

// AssignTask moves an open task to in_progress for the member registered
// under sessionName, appends the Assignment Information block and creates
// the tracking entry.
func (s *Service) AssignTask(ctx context.Context, taskPath, sessionName string) (*AssignResult, error) {
	if taskPath == "" {
		return nil, &ValidationError{Field: "taskPath", Message: "required"}
	}
	if sessionName == "" {
		return nil, &ValidationError{Field: "sessionName", Message: "required"}
	}

	actualPath, status, err := s.locate(taskPath)
	if err != nil {
		return nil, err
	}
	if status != v1.TaskStatusOpen {
		return nil, &ConflictStateError{
			CurrentFolder: status,
			Wanted:        v1.TaskStatusOpen,
			Remedy:        assignRemedy(status),
		}
	}

	projectRoot, _, err := taskdoc.ProjectRootFromTaskPath(actualPath)
	if err != nil {
		return nil, &ValidationError{Field: "taskPath", Message: err.Error()}
	}
	project, err := s.store.FindProjectByPath(ctx, projectRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: no project at %s", ErrProjectNotFound, projectRoot)
	}
	team, member, err := s.store.FindMemberBySessionName(ctx, sessionName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, sessionName)
	}

	now := time.Now().UTC()
	targetPath, md, err := s.transition(actualPath, v1.TaskStatusInProgress, func(md string) (string, error) {
		return taskdoc.AppendAssignment(md, taskdoc.AssignmentInfo{
			MemberName:  member.Name,
			MemberRole:  member.Role,
			SessionName: sessionName,
			AssignedAt:  now,
		}), nil
	})
	if err != nil {
		return nil, err
	}

	task := taskdoc.Parse(targetPath, md)
	entry := v1.InProgressTaskEntry{
		ID:               uuid.New().String(),
		ProjectID:        project.ID,
		TeamID:           team.ID,
		TaskFilePath:     targetPath,
		TaskTitle:        task.Title,
		TargetRole:       task.TargetRole,
		AssigneeMemberID: member.ID,
		SessionName:      sessionName,
		AssignedAt:       now,
		LastHeartbeatAt:  now,
	}
	if err := s.store.AddTrackingEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("record tracking entry: %w", err)
	}

	s.record(ctx, events.TaskAssigned, project.ID, map[string]interface{}{
		"taskPath":   targetPath,
		"taskTitle":  task.Title,
		"session":    sessionName,
		"memberId":   member.ID,
		"trackingId": entry.ID,
	})
	s.logger.Info("task assigned",
		zap.String("task_path", targetPath),
		zap.String("session", sessionName))

	return &AssignResult{Task: task, TrackingID: entry.ID}, nil
}

// CompleteTask finishes an in-progress task. Schema-bearing tasks gate on
// output validation: invalid output rewrites the retry block in place until
// the limit, then forces the blocked folder. Valid completions write the
// output sibling before the markdown moves so a crash never yields a done
// task without its output.
func (s *Service) CompleteTask(ctx context.Context, taskPath, sessionName string, output interface{}) (*CompleteResult, error) {
	if taskPath == "" {
		return nil, &ValidationError{Field: "taskPath", Message: "required"}
	}
	if sessionName == "" {
		return nil, &ValidationError{Field: "sessionName", Message: "required"}
	}

	actualPath, status, err := s.locate(taskPath)
	if err != nil {
		return nil, err
	}
	if status != v1.TaskStatusInProgress {
		return nil, &ConflictStateError{
			CurrentFolder: status,
			Wanted:        v1.TaskStatusInProgress,
			Remedy:        completeRemedy(status),
		}
	}

	raw, err := os.ReadFile(actualPath)
	if err != nil {
		return nil, fmt.Errorf("read task: %w", err)
	}
	md := string(raw)

	schema, err := taskdoc.ExtractSchema(md)
	if err != nil {
		return nil, &ValidationError{Field: "outputSchema", Message: err.Error()}
	}
	if schema != nil {
		if output == nil {
			return nil, ErrOutputMissing
		}
		var verrs []string
		if _, err := taskdoc.ValidateSize(output); err != nil {
			verrs = append(verrs, err.Error())
		} else {
			res, err := taskdoc.Validate(output, schema)
			if err != nil {
				return nil, fmt.Errorf("validate output: %w", err)
			}
			if !res.Valid {
				verrs = res.Errors
			}
		}
		if len(verrs) > 0 {
			return s.recordValidationFailure(ctx, actualPath, md, sessionName, verrs)
		}
	}

	now := time.Now().UTC()
	donePath, err := taskdoc.WithStatus(actualPath, v1.TaskStatusDone)
	if err != nil {
		return nil, &ValidationError{Field: "taskPath", Message: err.Error()}
	}

	outputFile := ""
	if output != nil {
		outputPath := taskdoc.OutputSiblingPath(donePath)
		doc := v1.TaskOutput{
			Output:      output,
			ProducedAt:  now.Format(taskdoc.Timestamp),
			SessionName: sessionName,
		}
		encoded, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode output: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
			return nil, fmt.Errorf("create done folder: %w", err)
		}
		if err := writeFileAtomic(outputPath, encoded); err != nil {
			return nil, fmt.Errorf("write output: %w", err)
		}
		outputFile = filepath.Base(outputPath)
	}

	targetPath, finalMD, err := s.transition(actualPath, v1.TaskStatusDone, func(md string) (string, error) {
		return taskdoc.AppendCompletion(md, taskdoc.CompletionInfo{
			SessionName: sessionName,
			CompletedAt: now,
			OutputFile:  outputFile,
		}), nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.RemoveTrackingByTaskPath(ctx, actualPath); err != nil {
		s.logger.Warn("tracking entry cleanup failed",
			zap.String("task_path", actualPath), zap.Error(err))
	}

	task := taskdoc.Parse(targetPath, finalMD)
	s.record(ctx, events.TaskCompleted, s.projectIDFor(ctx, targetPath), map[string]interface{}{
		"taskPath":   targetPath,
		"taskTitle":  task.Title,
		"session":    sessionName,
		"outputFile": outputFile,
	})
	s.logger.Info("task completed",
		zap.String("task_path", targetPath),
		zap.String("session", sessionName),
		zap.Bool("with_output", outputFile != ""))

	return &CompleteResult{Task: task, Status: v1.TaskStatusDone, OutputFile: outputFile}, nil
}

// recordValidationFailure applies the retry policy after invalid output:
// below the limit the retry block is rewritten in place, at the limit the
// task moves to blocked with a Validation Failure block.
func (s *Service) recordValidationFailure(ctx context.Context, actualPath, md, sessionName string, verrs []string) (*CompleteResult, error) {
	now := time.Now().UTC()

	var count, taskMax int
	if prior, err := taskdoc.ExtractRetryInfo(md); err == nil && prior != nil {
		count = prior.RetryCount
		taskMax = prior.MaxRetries
	}
	limit := s.maxRetriesFor(ctx, taskMax)

	if count >= limit {
		targetPath, finalMD, err := s.transition(actualPath, v1.TaskStatusBlocked, func(md string) (string, error) {
			return taskdoc.AppendValidationFailure(md, count, limit, verrs, now), nil
		})
		if err != nil {
			return nil, err
		}
		if err := s.store.RemoveTrackingByTaskPath(ctx, actualPath); err != nil {
			s.logger.Warn("tracking entry cleanup failed",
				zap.String("task_path", actualPath), zap.Error(err))
		}

		task := taskdoc.Parse(targetPath, finalMD)
		s.record(ctx, events.TaskBlocked, s.projectIDFor(ctx, targetPath), map[string]interface{}{
			"taskPath": targetPath,
			"session":  sessionName,
			"reason":   "output validation retries exhausted",
			"attempts": count,
		})
		s.logger.Warn("task blocked after exhausted validation retries",
			zap.String("task_path", targetPath),
			zap.Int("attempts", count))

		return &CompleteResult{
			Task:               task,
			Status:             v1.TaskStatusBlocked,
			RetryCount:         count,
			MaxRetries:         limit,
			ValidationErrors:   verrs,
			MaxRetriesExceeded: true,
		}, nil
	}

	count++
	updated := taskdoc.UpsertRetryInfo(md, v1.RetryInfo{
		RetryCount:    count,
		MaxRetries:    limit,
		LastErrors:    verrs,
		LastAttemptAt: now.Format(taskdoc.Timestamp),
	})
	if err := writeFileAtomic(actualPath, []byte(updated)); err != nil {
		return nil, fmt.Errorf("rewrite retry info: %w", err)
	}

	task := taskdoc.Parse(actualPath, updated)
	s.record(ctx, events.TaskRetryFailed, s.projectIDFor(ctx, actualPath), map[string]interface{}{
		"taskPath":   actualPath,
		"session":    sessionName,
		"retryCount": count,
		"maxRetries": limit,
	})
	s.logger.Info("task output rejected, retry recorded",
		zap.String("task_path", actualPath),
		zap.Int("retry_count", count),
		zap.Int("max_retries", limit))

	return &CompleteResult{
		Task:             task,
		Status:           v1.TaskStatusInProgress,
		RetryCount:       count,
		MaxRetries:       limit,
		ValidationErrors: verrs,
	}, nil
}

// BlockTask moves an in-progress task to blocked with a reason.
func (s *Service) BlockTask(ctx context.Context, taskPath, reason string) (*v1.Task, error) {
	if taskPath == "" {
		return nil, &ValidationError{Field: "taskPath", Message: "required"}
	}

	actualPath, status, err := s.locate(taskPath)
	if err != nil {
		return nil, err
	}
	if status != v1.TaskStatusInProgress {
		return nil, &ConflictStateError{
			CurrentFolder: status,
			Wanted:        v1.TaskStatusInProgress,
			Remedy:        blockRemedy(status),
		}
	}

	now := time.Now().UTC()
	targetPath, md, err := s.transition(actualPath, v1.TaskStatusBlocked, func(md string) (string, error) {
		return taskdoc.AppendBlock(md, reason, now), nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.RemoveTrackingByTaskPath(ctx, actualPath); err != nil {
		s.logger.Warn("tracking entry cleanup failed",
			zap.String("task_path", actualPath), zap.Error(err))
	}

	task := taskdoc.Parse(targetPath, md)
	s.record(ctx, events.TaskBlocked, s.projectIDFor(ctx, targetPath), map[string]interface{}{
		"taskPath": targetPath,
		"reason":   reason,
	})
	s.logger.Info("task blocked",
		zap.String("task_path", targetPath),
		zap.String("reason", reason))
	return &task, nil
}

// UnblockTask moves a blocked task back to open. History blocks stay in the
// document, including any retry info, so a later completion resumes the
// same retry budget.
func (s *Service) UnblockTask(ctx context.Context, taskPath, note string) (*v1.Task, error) {
	if taskPath == "" {
		return nil, &ValidationError{Field: "taskPath", Message: "required"}
	}

	actualPath, status, err := s.locate(taskPath)
	if err != nil {
		return nil, err
	}
	if status != v1.TaskStatusBlocked {
		return nil, &ConflictStateError{
			CurrentFolder: status,
			Wanted:        v1.TaskStatusBlocked,
			Remedy:        unblockRemedy(status),
		}
	}

	now := time.Now().UTC()
	targetPath, md, err := s.transition(actualPath, v1.TaskStatusOpen, func(md string) (string, error) {
		return taskdoc.AppendUnblock(md, note, now), nil
	})
	if err != nil {
		return nil, err
	}

	task := taskdoc.Parse(targetPath, md)
	s.record(ctx, events.TaskUnblocked, s.projectIDFor(ctx, targetPath), map[string]interface{}{
		"taskPath": targetPath,
		"note":     note,
	})
	s.logger.Info("task unblocked", zap.String("task_path", targetPath))
	return &task, nil
}

// locate resolves where the task file actually lives. It checks every
// status folder, so a caller holding a path from before an interrupted or
// raced transition still gets a precise conflict answer instead of a bare
// not-found. When an interrupted move left copies in two folders at once,
// the duplicates are reconciled before answering.
func (s *Service) locate(taskPath string) (string, v1.TaskStatus, error) {
	claimed, err := taskdoc.StatusFromTaskPath(taskPath)
	if err != nil {
		return "", "", &ValidationError{Field: "taskPath", Message: err.Error()}
	}

	found := make(map[v1.TaskStatus]string, 2)
	var present []v1.TaskStatus
	for _, status := range v1.TaskStatuses {
		sibling, err := taskdoc.WithStatus(taskPath, status)
		if err != nil {
			continue
		}
		if _, err := os.Stat(sibling); err == nil {
			found[status] = sibling
			present = append(present, status)
		}
	}
	switch len(present) {
	case 0:
		return "", "", fmt.Errorf("%w: %s", ErrTaskNotFound, taskPath)
	case 1:
		return found[present[0]], present[0], nil
	}

	winPath, winStatus := found[present[0]], present[0]
	for _, status := range present[1:] {
		winPath, winStatus = s.reconcileDuplicate(winPath, winStatus, found[status], status, claimed)
	}
	return winPath, winStatus, nil
}

// reconcileDuplicate resolves a task present in two status folders at once,
// which a crash between the target write and the source delete leaves
// behind. The transition target wins when it carries the metadata block the
// move appends (the atomic target write always lands it together with the
// document), otherwise the source copy is still authoritative. The losing
// copy is removed so the board converges.
func (s *Service) reconcileDuplicate(aPath string, aStatus v1.TaskStatus, bPath string, bStatus v1.TaskStatus, claimed v1.TaskStatus) (string, v1.TaskStatus) {
	target, ok := transitionTarget(aStatus, bStatus)
	if !ok {
		// Not a pair one folder move can produce. Keep the claimed copy
		// and leave both files for a manual cleanup.
		s.logger.Warn("task copies in unrelated status folders",
			zap.String("first", aPath),
			zap.String("second", bPath))
		if bStatus == claimed {
			return bPath, bStatus
		}
		return aPath, aStatus
	}

	targetPath, sourcePath := aPath, bPath
	targetStatus, sourceStatus := aStatus, bStatus
	if target == bStatus {
		targetPath, sourcePath = bPath, aPath
		targetStatus, sourceStatus = bStatus, aStatus
	}

	winPath, winStatus := targetPath, targetStatus
	losePath := sourcePath
	if raw, err := os.ReadFile(targetPath); err != nil || !hasTransitionBlock(string(raw), targetStatus) {
		winPath, winStatus = sourcePath, sourceStatus
		losePath = targetPath
	}

	if err := os.Remove(losePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove duplicate task copy",
			zap.String("kept", winPath),
			zap.String("duplicate", losePath),
			zap.Error(err))
	} else {
		s.logger.Warn("duplicate task copies reconciled",
			zap.String("kept", winPath),
			zap.String("removed", losePath),
			zap.String("status", string(winStatus)))
	}
	return winPath, winStatus
}

// transitionTarget reports which of two statuses the folder move between
// them lands on. Assignment and abandonment recovery share the open and
// in_progress pair; assignment is taken as the move because the Assignment
// block on the in_progress copy is the deciding evidence either way.
func transitionTarget(a, b v1.TaskStatus) (v1.TaskStatus, bool) {
	edges := [...][2]v1.TaskStatus{
		{v1.TaskStatusOpen, v1.TaskStatusInProgress},
		{v1.TaskStatusInProgress, v1.TaskStatusDone},
		{v1.TaskStatusInProgress, v1.TaskStatusBlocked},
		{v1.TaskStatusBlocked, v1.TaskStatusOpen},
	}
	for _, e := range edges {
		if (a == e[0] && b == e[1]) || (a == e[1] && b == e[0]) {
			return e[1], true
		}
	}
	return "", false
}

// hasTransitionBlock reports whether md carries the metadata block the move
// into status appends.
func hasTransitionBlock(md string, status v1.TaskStatus) bool {
	switch status {
	case v1.TaskStatusInProgress:
		return taskdoc.HasSection(md, taskdoc.SectionAssignment)
	case v1.TaskStatusDone:
		return taskdoc.HasSection(md, taskdoc.SectionCompletion)
	case v1.TaskStatusBlocked:
		return taskdoc.HasSection(md, taskdoc.SectionBlock) ||
			taskdoc.HasSection(md, taskdoc.SectionValidationFailure)
	case v1.TaskStatusOpen:
		return taskdoc.HasSection(md, taskdoc.SectionUnblock)
	}
	return false
}

// transition is the shared two-file move: mutate the markdown, write the
// target folder copy, delete the source. A failed delete leaves a stale
// source copy that locate resolves in favor of the target.
func (s *Service) transition(sourcePath string, to v1.TaskStatus, mutate func(md string) (string, error)) (string, string, error) {
	raw, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", "", fmt.Errorf("read task: %w", err)
	}
	md, err := mutate(string(raw))
	if err != nil {
		return "", "", err
	}

	targetPath, err := taskdoc.WithStatus(sourcePath, to)
	if err != nil {
		return "", "", &ValidationError{Field: "taskPath", Message: err.Error()}
	}
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return "", "", fmt.Errorf("create %s folder: %w", to, err)
	}
	if err := writeFileAtomic(targetPath, []byte(md)); err != nil {
		return "", "", fmt.Errorf("write %s copy: %w", to, err)
	}
	if err := os.Remove(sourcePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("stale source copy left behind",
			zap.String("source", sourcePath),
			zap.String("target", targetPath),
			zap.Error(err))
	}
	return targetPath, md, nil
}

// projectIDFor best-effort resolves the owning project for event scoping.
func (s *Service) projectIDFor(ctx context.Context, taskPath string) string {
	root, _, err := taskdoc.ProjectRootFromTaskPath(taskPath)
	if err != nil {
		return ""
	}
	project, err := s.store.FindProjectByPath(ctx, root)
	if err != nil {
		return ""
	}
	return project.ID
}

// writeFileAtomic writes via a temp file and rename in the target
// directory, so readers never observe a partial task document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".crewly-task-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func assignRemedy(status v1.TaskStatus) string {
	switch status {
	case v1.TaskStatusInProgress:
		return "task is already assigned; complete or block it instead"
	case v1.TaskStatusDone:
		return "task is already completed"
	case v1.TaskStatusBlocked:
		return "unblock the task before assigning it"
	default:
		return "move the task to open before assigning it"
	}
}

func completeRemedy(status v1.TaskStatus) string {
	switch status {
	case v1.TaskStatusOpen:
		return "assign the task before completing it"
	case v1.TaskStatusDone:
		return "task is already completed"
	case v1.TaskStatusBlocked:
		return "unblock and reassign the task before completing it"
	default:
		return "only in-progress tasks can be completed"
	}
}

func blockRemedy(status v1.TaskStatus) string {
	switch status {
	case v1.TaskStatusBlocked:
		return "task is already blocked"
	case v1.TaskStatusDone:
		return "task is already completed"
	default:
		return "assign the task before blocking it"
	}
}

func unblockRemedy(status v1.TaskStatus) string {
	switch status {
	case v1.TaskStatusOpen:
		return "task is already open"
	case v1.TaskStatusInProgress:
		return "task is already in progress"
	default:
		return "only blocked tasks can be unblocked"
	}
}
