package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	s, err := New(DefaultConfig(t.TempDir()), log)
	require.NoError(t, err)
	return s
}

func testProject(id string) v1.Project {
	now := time.Now().UTC()
	return v1.Project{
		ID:        id,
		Name:      "proj-" + id,
		Path:      "/tmp/projects/" + id,
		Status:    v1.ProjectStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testTeam(id, sessionName string) v1.Team {
	now := time.Now().UTC()
	return v1.Team{
		ID:   id,
		Name: "team-" + id,
		Members: []v1.TeamMember{
			{
				ID:          id + "-orc",
				Name:        "lead",
				Role:        v1.RoleOrchestrator,
				SessionName: sessionName,
				AgentStatus: v1.AgentStatusActive,
				CreatedAt:   now,
				UpdatedAt:   now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	s := setupStore(t)

	data, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, data.Projects)
	assert.Empty(t, data.Teams)
	assert.Equal(t, v1.DefaultOrchestratorSession, data.Settings.OrchestratorSessionName)
}

func TestSaveWritesBackupBeforeReplace(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.CreateProject(ctx, testProject("p1"))
	require.NoError(t, err)

	// Second save must snapshot the first document into the backup sibling.
	_, err = s.CreateProject(ctx, testProject("p2"))
	require.NoError(t, err)

	backup, err := os.ReadFile(filepath.Join(s.Dir(), DataFileName+backupSuffix))
	require.NoError(t, err)
	assert.Contains(t, string(backup), "p1")
	assert.NotContains(t, string(backup), "p2")
}

func TestLoadCorruptDocumentFailsWithoutClobber(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	path := filepath.Join(s.Dir(), DataFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := s.Load(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptStore))

	// Update loads first, so the corrupt document survives untouched.
	err = s.Update(ctx, func(d *v1.Data) error { return nil })
	require.Error(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(raw))
}

func TestProjectCRUD(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	created, err := s.CreateProject(ctx, testProject("p1"))
	require.NoError(t, err)
	require.NotNil(t, created)

	got, err := s.GetProject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, created.Path, got.Path)

	byPath, err := s.FindProjectByPath(ctx, created.Path)
	require.NoError(t, err)
	assert.Equal(t, "p1", byPath.ID)

	_, err = s.GetProject(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.DeleteProject(ctx, "p1"))
	_, err = s.GetProject(ctx, "p1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestDeleteProjectCascades(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, testProject("p1"))
	require.NoError(t, err)
	team, err := s.CreateTeam(ctx, testTeam("t1", "crewly-t1-orc"))
	require.NoError(t, err)

	_, err = s.CreateAssignment(ctx, p.ID, team.ID)
	require.NoError(t, err)

	team.CurrentProject = p.ID
	require.NoError(t, s.UpdateTeam(ctx, *team))

	require.NoError(t, s.DeleteProject(ctx, p.ID))

	data, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, data.Assignments)
	require.Len(t, data.Teams, 1)
	assert.Empty(t, data.Teams[0].CurrentProject)
}

func TestTeamRequiresOrchestrator(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	team := testTeam("t1", "crewly-t1-orc")
	team.Members[0].Role = v1.RoleDeveloper

	_, err := s.CreateTeam(ctx, team)
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestFindMemberBySessionName(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.CreateTeam(ctx, testTeam("t1", "crewly-t1-orc"))
	require.NoError(t, err)

	team, member, err := s.FindMemberBySessionName(ctx, "crewly-t1-orc")
	require.NoError(t, err)
	assert.Equal(t, "t1", team.ID)
	assert.Equal(t, v1.RoleOrchestrator, member.Role)

	_, _, err = s.FindMemberBySessionName(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTouchMemberHeartbeatIgnoresUnknownSession(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.CreateTeam(ctx, testTeam("t1", "crewly-t1-orc"))
	require.NoError(t, err)

	require.NoError(t, s.TouchMemberHeartbeat(ctx, "ghost", time.Now()))

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.TouchMemberHeartbeat(ctx, "crewly-t1-orc", at))

	_, member, err := s.FindMemberBySessionName(ctx, "crewly-t1-orc")
	require.NoError(t, err)
	require.NotNil(t, member.LastHeartbeatAt)
	assert.True(t, member.LastHeartbeatAt.Equal(at))
}

func TestScheduledMessageRoundTrip(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	msg := v1.ScheduledMessage{
		ID:          "m1",
		Name:        "standup",
		TargetTeam:  v1.OrchestratorTarget,
		Message:     "status?",
		DelayAmount: 5,
		DelayUnit:   v1.DelayUnitMinutes,
		IsRecurring: true,
		IsActive:    true,
	}
	_, err := s.UpsertScheduledMessage(ctx, msg)
	require.NoError(t, err)

	got, err := s.GetScheduledMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "standup", got.Name)

	msg.Name = "standup-renamed"
	_, err = s.UpsertScheduledMessage(ctx, msg)
	require.NoError(t, err)

	all, err := s.ListScheduledMessages(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "standup-renamed", all[0].Name)

	require.NoError(t, s.DeleteScheduledMessage(ctx, "m1"))
	_, err = s.GetScheduledMessage(ctx, "m1")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRejectsUnsupportedDelayUnit(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	msg := v1.ScheduledMessage{
		ID:          "m1",
		Name:        "bad",
		TargetTeam:  v1.OrchestratorTarget,
		Message:     "x",
		DelayAmount: 1,
		DelayUnit:   "days",
		IsActive:    true,
	}
	_, err := s.UpsertScheduledMessage(ctx, msg)
	require.Error(t, err)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestTrackingIndex(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	entry := v1.InProgressTaskEntry{
		ID:           "tr1",
		ProjectID:    "p1",
		TeamID:       "t1",
		TaskFilePath: "/tmp/proj/.crewly/tasks/m1/in_progress/01.md",
		SessionName:  "crewly-dev",
		AssignedAt:   time.Now().UTC(),
	}
	require.NoError(t, s.AddTrackingEntry(ctx, entry))

	entries, err := s.LoadTracking(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Re-adding the same task path replaces rather than duplicates.
	entry.ID = "tr2"
	require.NoError(t, s.AddTrackingEntry(ctx, entry))
	entries, err = s.LoadTracking(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tr2", entries[0].ID)

	at := time.Now().UTC().Add(time.Minute)
	require.NoError(t, s.TouchTrackingHeartbeat(ctx, "crewly-dev", at))
	got, err := s.FindTrackingByTaskPath(ctx, entry.TaskFilePath)
	require.NoError(t, err)
	assert.True(t, got.LastHeartbeatAt.Equal(at))

	require.NoError(t, s.RemoveTrackingByTaskPath(ctx, entry.TaskFilePath))
	entries, err = s.LoadTracking(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCheckFiles(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	recurring := v1.ScheduledCheck{
		ID:            "c1",
		TargetSession: "crewly-dev",
		Message:       "progress?",
		IsRecurring:   true,
		Type:          v1.CheckTypeProgress,
		Recurring:     &v1.RecurringSpec{IntervalMinutes: 30},
		ScheduledFor:  time.Now().Add(30 * time.Minute),
	}
	oneShot := v1.ScheduledCheck{
		ID:            "c2",
		TargetSession: "crewly-dev",
		Message:       "still there?",
		Type:          v1.CheckTypeCheckin,
		ScheduledFor:  time.Now().Add(5 * time.Minute),
	}

	require.NoError(t, s.UpsertCheck(ctx, recurring))
	require.NoError(t, s.UpsertCheck(ctx, oneShot))

	rec, err := s.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	require.Len(t, rec, 1)
	assert.Equal(t, "c1", rec[0].ID)

	once, err := s.LoadOneTimeChecks(ctx)
	require.NoError(t, err)
	require.Len(t, once, 1)
	assert.Equal(t, "c2", once[0].ID)

	require.NoError(t, s.DeleteCheck(ctx, "c1"))
	rec, err = s.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	assert.Empty(t, rec)
}

func TestLegacyChecksDrainOnSave(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	data, err := s.Load(ctx)
	require.NoError(t, err)
	data.RecurringChecks = []v1.ScheduledCheck{{
		ID:            "legacy-1",
		TargetSession: "crewly-dev",
		Message:       "from data.json",
		IsRecurring:   true,
		Type:          v1.CheckTypeProgress,
	}}
	require.NoError(t, s.Save(ctx, data))

	rec, err := s.LoadRecurringChecks(ctx)
	require.NoError(t, err)
	require.Len(t, rec, 1)
	assert.Equal(t, "legacy-1", rec[0].ID)

	reloaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, reloaded.RecurringChecks)
}

func TestActivityWriterFlushAndRotation(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	cfg := DefaultConfig(t.TempDir())
	cfg.ActivityCap = 5
	s, err := New(cfg, log)
	require.NoError(t, err)
	s.Start()
	defer s.Close()

	for i := 0; i < 8; i++ {
		s.AppendActivity(v1.ActivityEntry{Kind: v1.ActivityKindSystem})
	}
	s.Flush()

	entries, err := s.LoadActivity(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	var onDisk []v1.ActivityEntry
	require.NoError(t, readJSONFile(filepath.Join(s.Dir(), ActivityFileName), &onDisk))
	assert.Len(t, onDisk, 5)
}

func TestRecentDeliveryLogsRing(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	cfg := DefaultConfig(t.TempDir())
	cfg.DeliveryLogCap = 3
	s, err := New(cfg, log)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		s.AppendDeliveryLog(v1.DeliveryLog{MessageName: "m", Success: i%2 == 0})
	}

	logs := s.RecentDeliveryLogs(0)
	assert.Len(t, logs, 3)

	logs = s.RecentDeliveryLogs(2)
	assert.Len(t, logs, 2)
}
