package taskdoc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

func TestProjectRootFromTaskPath(t *testing.T) {
	t.Run("segment preceding marker wins", func(t *testing.T) {
		root, segment, err := ProjectRootFromTaskPath("/Users/u/proj/gas-vibe-coder/.crewly/tasks/m0/open/01.md")
		require.NoError(t, err)
		assert.Equal(t, "gas-vibe-coder", segment)
		assert.Equal(t, "/Users/u/proj/gas-vibe-coder", root)
	})

	t.Run("no marker in path", func(t *testing.T) {
		_, _, err := ProjectRootFromTaskPath("/Users/u/proj/tasks/open/task.md")
		assert.ErrorIs(t, err, ErrNoProject)
	})

	t.Run("marker with no preceding segment", func(t *testing.T) {
		_, _, err := ProjectRootFromTaskPath("/.crewly/tasks/m0/open/01.md")
		assert.ErrorIs(t, err, ErrNoProject)
	})

	t.Run("dot segments are cleaned before the walk", func(t *testing.T) {
		root, segment, err := ProjectRootFromTaskPath("/home/u/app/../app/.crewly/tasks/m1/open/x.md")
		require.NoError(t, err)
		assert.Equal(t, "app", segment)
		assert.Equal(t, "/home/u/app", root)
	})
}

func TestStatusFromTaskPath(t *testing.T) {
	status, err := StatusFromTaskPath("/p/.crewly/tasks/m0/in_progress/01.md")
	require.NoError(t, err)
	assert.Equal(t, v1.TaskStatusInProgress, status)

	_, err = StatusFromTaskPath("/p/.crewly/tasks/m0/archive/01.md")
	assert.Error(t, err)
}

func TestWithStatus(t *testing.T) {
	target, err := WithStatus("/p/.crewly/tasks/m0/open/01.md", v1.TaskStatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, "/p/.crewly/tasks/m0/in_progress/01.md", target)

	_, err = WithStatus("/p/somewhere/01.md", v1.TaskStatusDone)
	assert.Error(t, err)
}

func TestMilestoneFromTaskPath(t *testing.T) {
	assert.Equal(t, "m2", MilestoneFromTaskPath("/p/.crewly/tasks/m2/done/01.md"))
}

func TestOutputSiblingPath(t *testing.T) {
	assert.Equal(t, "/p/.crewly/tasks/m0/done/01.output.json",
		OutputSiblingPath("/p/.crewly/tasks/m0/done/01.md"))
}

func TestStatusDir(t *testing.T) {
	assert.Equal(t, "/p/.crewly/tasks/m0/blocked",
		StatusDir("/p", "m0", v1.TaskStatusBlocked))
}
