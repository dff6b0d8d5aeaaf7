package taskdoc

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

// MarkerDir is the directory that marks a project root. The segment
// immediately before it names the project.
const MarkerDir = ".crewly"

// TasksDirName is the board directory under the marker.
const TasksDirName = "tasks"

// DefaultMilestone groups tasks created without an explicit milestone.
const DefaultMilestone = "m0"

// ErrNoProject reports a task path that has no project marker ancestor.
var ErrNoProject = errors.New("cannot determine project from task path")

// ProjectRootFromTaskPath walks the path segments for the marker directory
// and returns the project root (the path up to and including the segment
// preceding the marker) plus that segment. Explicit segment iteration, not
// pattern matching: a marker as the first segment has no preceding project
// segment and is rejected.
func ProjectRootFromTaskPath(taskPath string) (root, segment string, err error) {
	clean := filepath.Clean(taskPath)
	sep := string(filepath.Separator)

	segments := strings.Split(clean, sep)
	for i, seg := range segments {
		if seg != MarkerDir {
			continue
		}
		if i == 0 || segments[i-1] == "" {
			return "", "", ErrNoProject
		}
		return strings.Join(segments[:i], sep), segments[i-1], nil
	}
	return "", "", ErrNoProject
}

// StatusFromTaskPath derives the task status from the parent folder name.
func StatusFromTaskPath(taskPath string) (v1.TaskStatus, error) {
	status := v1.TaskStatus(filepath.Base(filepath.Dir(taskPath)))
	if !status.Valid() {
		return "", fmt.Errorf("path %s is not inside a status folder", taskPath)
	}
	return status, nil
}

// MilestoneFromTaskPath returns the milestone segment above the status
// folder, e.g. "m0" for <project>/.crewly/tasks/m0/open/01.md.
func MilestoneFromTaskPath(taskPath string) string {
	return filepath.Base(filepath.Dir(filepath.Dir(taskPath)))
}

// BoardDir is the tasks tree root of a project.
func BoardDir(projectPath string) string {
	return filepath.Join(projectPath, MarkerDir, TasksDirName)
}

// StatusDir is one status folder of a milestone.
func StatusDir(projectPath, milestone string, status v1.TaskStatus) string {
	return filepath.Join(BoardDir(projectPath), milestone, string(status))
}

// WithStatus rewrites taskPath to the sibling status folder, keeping the
// file name. This is how transitions compute their target path.
func WithStatus(taskPath string, status v1.TaskStatus) (string, error) {
	if _, err := StatusFromTaskPath(taskPath); err != nil {
		return "", err
	}
	milestoneDir := filepath.Dir(filepath.Dir(taskPath))
	return filepath.Join(milestoneDir, string(status), filepath.Base(taskPath)), nil
}

// OutputSiblingPath is the <task>.output.json path beside a task file.
func OutputSiblingPath(taskPath string) string {
	return strings.TrimSuffix(taskPath, filepath.Ext(taskPath)) + ".output.json"
}
