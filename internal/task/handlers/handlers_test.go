package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevehuang0115/agentmux-sub002/internal/checks"
	"github.com/stevehuang0115/agentmux-sub002/internal/common/logger"
	"github.com/stevehuang0115/agentmux-sub002/internal/delivery"
	"github.com/stevehuang0115/agentmux-sub002/internal/scheduler"
	"github.com/stevehuang0115/agentmux-sub002/internal/store"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/controller"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/dto"
	"github.com/stevehuang0115/agentmux-sub002/internal/task/service"
	"github.com/stevehuang0115/agentmux-sub002/internal/taskdoc"
	v1 "github.com/stevehuang0115/agentmux-sub002/pkg/api/v1"
	ws "github.com/stevehuang0115/agentmux-sub002/pkg/websocket"
)

const devSession = "crewly-alpha-dev"

type fakeDeliverer struct{}

func (fakeDeliverer) Deliver(_ context.Context, _ delivery.Request) delivery.Result {
	return delivery.Result{Success: true, Attempts: 1}
}

type fakeResolver struct{}

func (fakeResolver) ResolveTarget(_ context.Context, target string) string { return target }

func (fakeResolver) RuntimeFor(_ context.Context, _ string) v1.RuntimeType {
	return v1.RuntimeClaudeCode
}

func setupAPI(t *testing.T) (*gin.Engine, *ws.Dispatcher, string) {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "error",
		Format:     "console",
		OutputPath: "stdout",
	})
	require.NoError(t, err)

	st, err := store.New(store.DefaultConfig(t.TempDir()), log)
	require.NoError(t, err)

	projectDir := filepath.Join(t.TempDir(), "gas-vibe-coder")
	require.NoError(t, os.MkdirAll(taskdoc.BoardDir(projectDir), 0o755))

	ctx := context.Background()
	now := time.Now().UTC()
	_, err = st.CreateProject(ctx, v1.Project{
		ID: "p1", Name: "gas-vibe-coder", Path: projectDir, Status: v1.ProjectStatusActive,
	})
	require.NoError(t, err)
	_, err = st.CreateTeam(ctx, v1.Team{
		ID:   "t1",
		Name: "alpha",
		Members: []v1.TeamMember{
			{ID: "m0", Name: "orc", Role: v1.RoleOrchestrator, SessionName: "crewly-alpha-orc",
				AgentStatus: v1.AgentStatusActive, CreatedAt: now, UpdatedAt: now},
			{ID: "m1", Name: "dev", Role: v1.RoleDeveloper, SessionName: devSession,
				AgentStatus: v1.AgentStatusActive, CreatedAt: now, UpdatedAt: now},
		},
	})
	require.NoError(t, err)

	engine := service.NewService(st, nil, log, service.DefaultConfig())
	sched := scheduler.NewService(scheduler.DefaultConfig(), st, fakeDeliverer{}, fakeResolver{}, nil, log)
	chk := checks.NewService(checks.DefaultConfig(), st, fakeDeliverer{}, fakeResolver{}, nil, log)
	ctrl := controller.New(engine, st, sched, chk, nil, log)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	dispatcher := ws.NewDispatcher()
	Register(router, dispatcher, ctrl, log)
	return router, dispatcher, projectDir
}

func writeOpenTask(t *testing.T, projectDir, name string) string {
	t.Helper()
	dir := taskdoc.StatusDir(projectDir, "m1", v1.TaskStatusOpen)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	md := "# Build\n\n" + taskdoc.SectionTaskInformation + "\n- **Target Role**: developer\n\nDo the work.\n"
	require.NoError(t, os.WriteFile(path, []byte(md), 0o644))
	return path
}

func postJSON(t *testing.T, router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func getPath(t *testing.T, router *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPAssignTaskRoundTrip(t *testing.T) {
	router, _, projectDir := setupAPI(t)
	path := writeOpenTask(t, projectDir, "01_build.md")

	rec := postJSON(t, router, "/api/v1/tasks/assign", dto.AssignTaskRequest{
		TaskPath:    path,
		SessionName: devSession,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.AssignTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Task)
	assert.Equal(t, v1.TaskStatusInProgress, resp.Task.Status)
	assert.NotEmpty(t, resp.TrackingID)
}

func TestHTTPAssignRejectsMalformedBody(t *testing.T) {
	router, _, _ := setupAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks/assign", bytes.NewBufferString("{nope"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid payload", body["error"])
}

func TestHTTPHeartbeatValidation(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := postJSON(t, router, "/api/v1/members/heartbeat", dto.HeartbeatRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env dto.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, "sessionName is required", env.Error)
}

func TestHTTPListTasksByQuery(t *testing.T) {
	router, _, projectDir := setupAPI(t)
	writeOpenTask(t, projectDir, "01_build.md")
	writeOpenTask(t, projectDir, "02_test.md")

	rec := getPath(t, router, "/api/v1/tasks?projectPath="+projectDir)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dto.ListTasksResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Total)
	assert.Len(t, resp.Tasks, 2)
}

func TestHTTPGetProjectUnknownIs404(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := getPath(t, router, "/api/v1/projects/nope")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var resp dto.ProjectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestHTTPScheduleStats(t *testing.T) {
	router, _, _ := setupAPI(t)

	rec := getPath(t, router, "/api/v1/schedule/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
}

func TestWSAssignTaskRoundTrip(t *testing.T) {
	_, dispatcher, projectDir := setupAPI(t)
	path := writeOpenTask(t, projectDir, "01_build.md")

	msg, err := ws.NewRequest("req-1", ws.ActionTaskAssign, dto.AssignTaskRequest{
		TaskPath:    path,
		SessionName: devSession,
	})
	require.NoError(t, err)

	reply, err := dispatcher.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, ws.MessageTypeResponse, reply.Type)
	assert.Equal(t, "req-1", reply.ID)
	assert.Equal(t, ws.ActionTaskAssign, reply.Action)

	var resp dto.AssignTaskResponse
	require.NoError(t, reply.ParsePayload(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, v1.TaskStatusInProgress, resp.Task.Status)
}

func TestWSEnvelopeSurvivesConflict(t *testing.T) {
	_, dispatcher, projectDir := setupAPI(t)
	path := writeOpenTask(t, projectDir, "01_build.md")
	ctx := context.Background()

	msg, err := ws.NewRequest("req-1", ws.ActionTaskAssign, dto.AssignTaskRequest{
		TaskPath: path, SessionName: devSession,
	})
	require.NoError(t, err)
	_, err = dispatcher.Dispatch(ctx, msg)
	require.NoError(t, err)

	// A repeated assign is a degraded response frame, never an error frame.
	msg, err = ws.NewRequest("req-2", ws.ActionTaskAssign, dto.AssignTaskRequest{
		TaskPath: path, SessionName: devSession,
	})
	require.NoError(t, err)
	reply, err := dispatcher.Dispatch(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, reply.Type)

	var resp dto.AssignTaskResponse
	require.NoError(t, reply.ParsePayload(&resp))
	assert.False(t, resp.Success)
	assert.Equal(t, v1.TaskStatusInProgress, resp.CurrentFolder)
	assert.NotEmpty(t, resp.Suggestion)
}

func TestWSBadPayloadIsErrorFrame(t *testing.T) {
	_, dispatcher, _ := setupAPI(t)

	msg := &ws.Message{
		ID:      "req-1",
		Type:    ws.MessageTypeRequest,
		Action:  ws.ActionTaskAssign,
		Payload: json.RawMessage(`{"taskPath": 42}`),
	}
	reply, err := dispatcher.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeError, reply.Type)

	var payload ws.ErrorPayload
	require.NoError(t, reply.ParsePayload(&payload))
	assert.Equal(t, ws.ErrorCodeBadRequest, payload.Code)
	assert.Contains(t, payload.Message, "Invalid payload")
}

func TestWSUnknownAction(t *testing.T) {
	_, dispatcher, _ := setupAPI(t)

	msg := &ws.Message{ID: "req-1", Type: ws.MessageTypeRequest, Action: "task.explode"}
	reply, err := dispatcher.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeError, reply.Type)

	var payload ws.ErrorPayload
	require.NoError(t, reply.ParsePayload(&payload))
	assert.Equal(t, ws.ErrorCodeUnknownAction, payload.Code)
}

func TestWSHeartbeat(t *testing.T) {
	_, dispatcher, _ := setupAPI(t)

	msg, err := ws.NewRequest("req-1", ws.ActionMemberHeartbeat, dto.HeartbeatRequest{SessionName: devSession})
	require.NoError(t, err)
	reply, err := dispatcher.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, ws.MessageTypeResponse, reply.Type)

	var env dto.Envelope
	require.NoError(t, reply.ParsePayload(&env))
	assert.True(t, env.Success)
}
