package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"panelbridge/internal/config"
	"panelbridge/internal/middleware/auth"
	"panelbridge/internal/microservices/http-api/dto"
	"panelbridge/internal/microservices/http-api/models"
	"panelbridge/internal/microservices/http-api/service"
	"panelbridge/internal/microservices/relay"
	"panelbridge/internal/protocol"
	"panelbridge/internal/state"
)

// MockRelayService mocks RelayService
type MockRelayService struct {
	mock.Mock
}

func (m *MockRelayService) Snapshot() state.Snapshot {
	return m.Called().Get(0).(state.Snapshot)
}

func (m *MockRelayService) Stats() relay.StatsSnapshot {
	return m.Called().Get(0).(relay.StatsSnapshot)
}

func (m *MockRelayService) SessionCount() int {
	return m.Called().Int(0)
}

func (m *MockRelayService) Inject(ctx context.Context, cmd protocol.Command, origin relay.Origin) (relay.Result, error) {
	args := m.Called(ctx, cmd, origin)
	return args.Get(0).(relay.Result), args.Error(1)
}

// MockCommandLogRepository mocks repository.CommandLogRepository
type MockCommandLogRepository struct {
	mock.Mock
}

func (m *MockCommandLogRepository) Create(ctx context.Context, entry *models.CommandLog) error {
	return m.Called(ctx, entry).Error(0)
}

func (m *MockCommandLogRepository) CreateBatch(ctx context.Context, entries []models.CommandLog) error {
	return m.Called(ctx, entries).Error(0)
}

func (m *MockCommandLogRepository) Recent(ctx context.Context, limit int) ([]models.CommandLog, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CommandLog), args.Error(1)
}

var testSnapshot = state.Snapshot{
	SystemName: "Panel Bridge Example",
	Displays: []state.Display{
		{ID: "display_1", Name: "Left", Power: true},
		{ID: "display_2", Name: "Right", Power: false},
	},
	Counter: 42,
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func doJSON(r *gin.Engine, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("SessionCount").Return(3)
	router := setupRouter()
	Mount(router, Routes{Relay: svc})

	w := doJSON(router, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":3}`, w.Body.String())
}

func TestGetState(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Snapshot").Return(testSnapshot)
	router := setupRouter()
	Mount(router, Routes{Relay: svc})

	w := doJSON(router, http.MethodGet, "/api/state", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.StateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Panel Bridge Example", resp.SystemName)
	assert.Equal(t, int64(42), resp.Counter)
	require.Len(t, resp.Fields, 4)
	assert.Equal(t, "system_name", resp.Fields[0].Field)
	assert.Equal(t, "display_2.power", resp.Fields[2].Field)
	assert.Equal(t, false, resp.Fields[2].Value)
	assert.Equal(t, "counter", resp.Fields[3].Field)
}

func TestGetStats(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Stats").Return(relay.StatsSnapshot{Sessions: 2, FramesIn: 10})
	router := setupRouter()
	Mount(router, Routes{Relay: svc})

	w := doJSON(router, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp relay.StatsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(2), resp.Sessions)
	assert.Equal(t, int64(10), resp.FramesIn)
}

func TestPostCommand_Pipe(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Inject", mock.Anything, protocol.IncrementCounter(), relay.Origin{Source: relay.SourceREST}).
		Return(relay.Result{
			Changes:  []state.Change{{Field: "counter", Value: int64(43)}},
			Feedback: []protocol.Command{protocol.SetCounter(43)},
		}, nil)
	router := setupRouter()
	Mount(router, Routes{Relay: svc})

	w := doJSON(router, http.MethodPost, "/api/commands", dto.CommandRequest{Command: "counter|increment"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"changes":[{"field":"counter","value":43}],"feedback":["counter|43"]}`, w.Body.String())
	svc.AssertExpectations(t)
}

func TestPostCommand_Envelope(t *testing.T) {
	svc := new(MockRelayService)
	cmd := protocol.SetDisplayPower("display_1", false)
	svc.On("Inject", mock.Anything, cmd, mock.Anything).
		Return(relay.Result{
			Changes:  []state.Change{{Field: "display_1.power", Value: false}},
			Feedback: []protocol.Command{cmd},
		}, nil)
	router := setupRouter()
	Mount(router, Routes{Relay: svc})

	body := map[string]any{"envelope": map[string]any{"v": 1, "type": "display.power", "id": "display_1", "power": false}}
	w := doJSON(router, http.MethodPost, "/api/commands", body)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `displays|display_1|power_off`)
}

func TestPostCommand_BadRequests(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Inject", mock.Anything, protocol.SetDisplayPower("display_9", true), mock.Anything).
		Return(relay.Result{}, fmt.Errorf("%w: %w", protocol.ErrUnknownCommand, state.ErrUnknownDisplay))
	router := setupRouter()
	Mount(router, Routes{Relay: svc})

	tests := []struct {
		name string
		body any
		code string
	}{
		{"unknown topic", dto.CommandRequest{Command: "volume|up"}, protocol.CodeUnknownCommand},
		{"empty", dto.CommandRequest{}, ""},
		{"both", map[string]any{"command": "counter|increment", "envelope": map[string]any{"v": 1}}, ""},
		{"bad version", map[string]any{"envelope": map[string]any{"v": 9, "type": "counter.increment"}}, protocol.CodeUnsupported},
		{"unknown display", dto.CommandRequest{Command: "displays|display_9|power_on"}, protocol.CodeUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/api/commands", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp dto.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.code, resp.Code)
		})
	}
}

func TestPostCommand_HubStopped(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Inject", mock.Anything, mock.Anything, mock.Anything).Return(relay.Result{}, relay.ErrHubStopped)
	router := setupRouter()
	Mount(router, Routes{Relay: svc})

	w := doJSON(router, http.MethodPost, "/api/commands", dto.CommandRequest{Command: "counter|increment"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPostCommand_PanelTokenRequired(t *testing.T) {
	svc := new(MockRelayService)
	svc.On("Inject", mock.Anything, mock.Anything, mock.Anything).Return(relay.Result{}, nil)
	tokens := service.NewTokenService(&config.Config{PanelJWTSecret: "secret", PanelTokenTTL: time.Hour})
	router := setupRouter()
	Mount(router, Routes{Relay: svc, Tokens: tokens, RequirePanelToken: true})

	w := doJSON(router, http.MethodPost, "/api/commands", dto.CommandRequest{Command: "counter|increment"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, _, err := tokens.IssuePanelToken("lobby")
	require.NoError(t, err)
	w = doJSON(router, http.MethodPost, "/api/commands", dto.CommandRequest{Command: "counter|increment"},
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
	assert.Equal(t, http.StatusOK, w.Code)
}

func setupAdminRouter(t *testing.T, logs *MockCommandLogRepository) (*gin.Engine, service.TokenService) {
	t.Helper()
	hash, err := auth.Hashpassword("s3cret")
	require.NoError(t, err)

	tokens := service.NewTokenService(&config.Config{PanelJWTSecret: "secret", PanelTokenTTL: time.Hour})
	routes := Routes{
		Relay:             new(MockRelayService),
		Tokens:            tokens,
		AdminUser:         "admin",
		AdminPasswordHash: hash,
	}
	if logs != nil {
		routes.Logs = logs
	}
	router := setupRouter()
	Mount(router, routes)
	return router, tokens
}

func basicAuth(user, pass string) func(*http.Request) {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func TestIssueToken(t *testing.T) {
	router, tokens := setupAdminRouter(t, nil)

	w := doJSON(router, http.MethodPost, "/api/tokens", dto.IssueTokenRequest{Panel: "lobby"}, basicAuth("admin", "s3cret"))
	require.Equal(t, http.StatusCreated, w.Code)

	var resp dto.IssueTokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "lobby", resp.Panel)
	panel, err := tokens.AuthenticatePanel(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "lobby", panel)
}

func TestIssueToken_Unauthorized(t *testing.T) {
	router, _ := setupAdminRouter(t, nil)

	w := doJSON(router, http.MethodPost, "/api/tokens", dto.IssueTokenRequest{Panel: "lobby"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	w = doJSON(router, http.MethodPost, "/api/tokens", dto.IssueTokenRequest{Panel: "lobby"}, basicAuth("admin", "wrong"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssueToken_Validation(t *testing.T) {
	router, _ := setupAdminRouter(t, nil)
	w := doJSON(router, http.MethodPost, "/api/tokens", map[string]string{}, basicAuth("admin", "s3cret"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIssueToken_TokensDisabled(t *testing.T) {
	hash, err := auth.Hashpassword("s3cret")
	require.NoError(t, err)
	router := setupRouter()
	Mount(router, Routes{Relay: new(MockRelayService), AdminUser: "admin", AdminPasswordHash: hash})

	w := doJSON(router, http.MethodPost, "/api/tokens", dto.IssueTokenRequest{Panel: "lobby"}, basicAuth("admin", "s3cret"))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminRoutesAbsentWithoutCredentials(t *testing.T) {
	router := setupRouter()
	Mount(router, Routes{Relay: new(MockRelayService)})

	w := doJSON(router, http.MethodPost, "/api/tokens", dto.IssueTokenRequest{Panel: "lobby"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecentCommands(t *testing.T) {
	logs := new(MockCommandLogRepository)
	logs.On("Recent", mock.Anything, 5).Return([]models.CommandLog{
		{ID: 2, Source: "ws", Raw: "counter|increment", Accepted: true},
		{ID: 1, Source: "rest", Raw: "volume|up", Error: "unknown command"},
	}, nil)
	router, _ := setupAdminRouter(t, logs)

	w := doJSON(router, http.MethodGet, "/api/commands/recent?limit=5", nil, basicAuth("admin", "s3cret"))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Commands []models.CommandLog `json:"commands"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Commands, 2)
	assert.Equal(t, int64(2), resp.Commands[0].ID)
	logs.AssertExpectations(t)

	w = doJSON(router, http.MethodGet, "/api/commands/recent?limit=abc", nil, basicAuth("admin", "s3cret"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecentCommands_Failure(t *testing.T) {
	logs := new(MockCommandLogRepository)
	logs.On("Recent", mock.Anything, 50).Return(nil, errors.New("db down"))
	router, _ := setupAdminRouter(t, logs)

	w := doJSON(router, http.MethodGet, "/api/commands/recent", nil, basicAuth("admin", "s3cret"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRecentCommands_Disabled(t *testing.T) {
	router, _ := setupAdminRouter(t, nil)
	w := doJSON(router, http.MethodGet, "/api/commands/recent", nil, basicAuth("admin", "s3cret"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
