package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/stevehuang0115/agentmux-sub002/internal/events"
	"github.com/stevehuang0115/agentmux-sub002/internal/taskdoc"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// BoardStatus reports folder counts for one task group or a whole project.
type BoardStatus struct {
	ProjectPath string              `json:"projectPath"`
	TaskGroup   string              `json:"taskGroup,omitempty"`
	Counts      v1.TaskStatusCounts `json:"counts"`
	Progress    int                 `json:"progress"`
}

// TeamProgress aggregates board state across every task group.
type TeamProgress struct {
	ProjectPath string                         `json:"projectPath"`
	Groups      map[string]v1.TaskStatusCounts `json:"groups"`
	Overall     v1.TaskStatusCounts            `json:"overall"`
	Progress    int                            `json:"progress"`
}

// CreateTaskRequest describes a new task markdown to write onto a board.
type CreateTaskRequest struct {
	ProjectPath           string          `json:"projectPath"`
	Task                  string          `json:"task"` // title
	Description           string          `json:"description,omitempty"`
	TargetRole            string          `json:"targetRole,omitempty"`
	EstimatedDelayMinutes int             `json:"estimatedDelayMinutes,omitempty"`
	Priority              int             `json:"priority,omitempty"` // filename prefix, orders takeNextTask
	SessionName           string          `json:"sessionName,omitempty"`
	Milestone             string          `json:"milestone,omitempty"`
	OutputSchema          json.RawMessage `json:"outputSchema,omitempty"`
}

// TakeNextTask returns the lexicographically first open task of a project,
// scanning all task groups when taskGroup is empty. Nil without error when
// the board has no open tasks.
func (s *Service) TakeNextTask(ctx context.Context, projectPath, taskGroup string) (*v1.Task, error) {
	if projectPath == "" {
		return nil, &ValidationError{Field: "projectPath", Message: "required"}
	}

	groups, err := s.taskGroups(projectPath, taskGroup)
	if err != nil {
		return nil, err
	}
	for _, group := range groups {
		files, err := listStatusFiles(projectPath, group, v1.TaskStatusOpen)
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			continue
		}
		path := files[0]
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read task: %w", err)
		}
		task := taskdoc.Parse(path, string(raw))
		return &task, nil
	}
	return nil, nil
}

// SyncTaskStatus counts the board folders of one task group, or of every
// group when taskGroup is empty.
func (s *Service) SyncTaskStatus(ctx context.Context, projectPath, taskGroup string) (*BoardStatus, error) {
	if projectPath == "" {
		return nil, &ValidationError{Field: "projectPath", Message: "required"}
	}

	groups, err := s.taskGroups(projectPath, taskGroup)
	if err != nil {
		return nil, err
	}
	var counts v1.TaskStatusCounts
	for _, group := range groups {
		groupCounts, err := countGroup(projectPath, group)
		if err != nil {
			return nil, err
		}
		counts = addCounts(counts, groupCounts)
	}
	return &BoardStatus{
		ProjectPath: projectPath,
		TaskGroup:   taskGroup,
		Counts:      counts,
		Progress:    counts.Progress(),
	}, nil
}

// GetTeamProgress aggregates counts per task group and overall.
func (s *Service) GetTeamProgress(ctx context.Context, projectPath string) (*TeamProgress, error) {
	if projectPath == "" {
		return nil, &ValidationError{Field: "projectPath", Message: "required"}
	}

	groups, err := s.taskGroups(projectPath, "")
	if err != nil {
		return nil, err
	}
	progress := &TeamProgress{
		ProjectPath: projectPath,
		Groups:      make(map[string]v1.TaskStatusCounts, len(groups)),
	}
	for _, group := range groups {
		counts, err := countGroup(projectPath, group)
		if err != nil {
			return nil, err
		}
		progress.Groups[group] = counts
		progress.Overall = addCounts(progress.Overall, counts)
	}
	progress.Progress = progress.Overall.Progress()
	return progress, nil
}

// ListTasks returns parsed tasks for a project, optionally filtered to one
// task group and one status folder.
func (s *Service) ListTasks(ctx context.Context, projectPath, taskGroup string, status v1.TaskStatus) ([]v1.Task, error) {
	if projectPath == "" {
		return nil, &ValidationError{Field: "projectPath", Message: "required"}
	}
	if status != "" && !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: "unknown status folder"}
	}

	statuses := v1.TaskStatuses
	if status != "" {
		statuses = []v1.TaskStatus{status}
	}
	groups, err := s.taskGroups(projectPath, taskGroup)
	if err != nil {
		return nil, err
	}

	var tasks []v1.Task
	for _, group := range groups {
		for _, st := range statuses {
			files, err := listStatusFiles(projectPath, group, st)
			if err != nil {
				return nil, err
			}
			for _, path := range files {
				raw, err := os.ReadFile(path)
				if err != nil {
					s.logger.Warn("unreadable task file skipped",
						zap.String("path", path), zap.Error(err))
					continue
				}
				tasks = append(tasks, taskdoc.Parse(path, string(raw)))
			}
		}
	}
	return tasks, nil
}

// CreateTask writes a new task markdown into open/, or directly into
// in_progress/ with an Assignment block when a session name is given.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) (*v1.Task, error) {
	if req.ProjectPath == "" {
		return nil, &ValidationError{Field: "projectPath", Message: "required"}
	}
	if strings.TrimSpace(req.Task) == "" {
		return nil, &ValidationError{Field: "task", Message: "required"}
	}
	project, err := s.store.FindProjectByPath(ctx, filepath.Clean(req.ProjectPath))
	if err != nil {
		return nil, fmt.Errorf("%w: no project at %s", ErrProjectNotFound, req.ProjectPath)
	}

	milestone := req.Milestone
	if milestone == "" {
		milestone = taskdoc.DefaultMilestone
	}
	priority := req.Priority
	if priority <= 0 {
		priority = 50
	}

	md, err := renderTaskDoc(req)
	if err != nil {
		return nil, err
	}

	openDir := taskdoc.StatusDir(project.Path, milestone, v1.TaskStatusOpen)
	if err := os.MkdirAll(openDir, 0o755); err != nil {
		return nil, fmt.Errorf("create open folder: %w", err)
	}
	name := fmt.Sprintf("%02d_%s.md", priority, slugify(req.Task))
	openPath := filepath.Join(openDir, name)
	if _, err := os.Stat(openPath); err == nil {
		return nil, &ValidationError{Field: "task", Message: fmt.Sprintf("task file %s already exists", name)}
	}
	if err := writeFileAtomic(openPath, []byte(md)); err != nil {
		return nil, fmt.Errorf("write task: %w", err)
	}

	task := taskdoc.Parse(openPath, md)
	s.record(ctx, events.TaskCreated, project.ID, map[string]interface{}{
		"taskPath":  openPath,
		"taskTitle": task.Title,
		"milestone": milestone,
	})
	s.logger.Info("task created",
		zap.String("task_path", openPath),
		zap.String("milestone", milestone))

	if req.SessionName == "" {
		return &task, nil
	}
	assigned, err := s.AssignTask(ctx, openPath, req.SessionName)
	if err != nil {
		return nil, err
	}
	return &assigned.Task, nil
}

// GetTaskOutput reads the <task>.output.json sibling of a completed task.
func (s *Service) GetTaskOutput(ctx context.Context, taskPath string) (*v1.TaskOutput, error) {
	if taskPath == "" {
		return nil, &ValidationError{Field: "taskPath", Message: "required"}
	}
	outputPath := taskdoc.OutputSiblingPath(taskPath)
	raw, err := os.ReadFile(outputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrOutputNotFound, outputPath)
		}
		return nil, fmt.Errorf("read output: %w", err)
	}
	var out v1.TaskOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parse output %s: %w", outputPath, err)
	}
	return &out, nil
}

// taskGroups resolves which milestone directories to scan.
func (s *Service) taskGroups(projectPath, taskGroup string) ([]string, error) {
	if taskGroup != "" {
		return []string{taskGroup}, nil
	}
	entries, err := os.ReadDir(taskdoc.BoardDir(projectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read board: %w", err)
	}
	var groups []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			groups = append(groups, e.Name())
		}
	}
	sort.Strings(groups)
	return groups, nil
}

// listStatusFiles returns the sorted task markdown paths of one folder.
func listStatusFiles(projectPath, milestone string, status v1.TaskStatus) ([]string, error) {
	dir := taskdoc.StatusDir(projectPath, milestone, status)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s folder: %w", status, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".md") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

func countGroup(projectPath, group string) (v1.TaskStatusCounts, error) {
	var counts v1.TaskStatusCounts
	for _, status := range v1.TaskStatuses {
		files, err := listStatusFiles(projectPath, group, status)
		if err != nil {
			return counts, err
		}
		n := len(files)
		switch status {
		case v1.TaskStatusOpen:
			counts.Open = n
		case v1.TaskStatusInProgress:
			counts.InProgress = n
		case v1.TaskStatusDone:
			counts.Done = n
		case v1.TaskStatusBlocked:
			counts.Blocked = n
		}
		counts.Total += n
	}
	return counts, nil
}

func addCounts(a, b v1.TaskStatusCounts) v1.TaskStatusCounts {
	return v1.TaskStatusCounts{
		Open:       a.Open + b.Open,
		InProgress: a.InProgress + b.InProgress,
		Done:       a.Done + b.Done,
		Blocked:    a.Blocked + b.Blocked,
		Total:      a.Total + b.Total,
	}
}

// renderTaskDoc builds the markdown body for a new task.
func renderTaskDoc(req CreateTaskRequest) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", strings.TrimSpace(req.Task))

	b.WriteString("\n" + taskdoc.SectionTaskInformation + "\n")
	role := req.TargetRole
	if role == "" {
		role = v1.RoleDeveloper
	}
	fmt.Fprintf(&b, "- **Target Role**: %s\n", role)
	if req.EstimatedDelayMinutes > 0 {
		fmt.Fprintf(&b, "- **Estimated Delay**: %d minutes\n", req.EstimatedDelayMinutes)
	}

	if desc := strings.TrimSpace(req.Description); desc != "" {
		b.WriteString("\n" + desc + "\n")
	}

	if len(req.OutputSchema) > 0 {
		section, err := taskdoc.RenderSchemaSection(req.OutputSchema)
		if err != nil {
			return "", &ValidationError{Field: "outputSchema", Message: err.Error()}
		}
		b.WriteString("\n" + section)
	}
	return b.String(), nil
}

// slugify turns a title into a filesystem-safe name fragment.
func slugify(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 48 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
