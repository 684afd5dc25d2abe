package console_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	analyticssdk "github.com/law1om/analytics-platform/sdk/go"

	"github.com/law1om/analytics-platform/internal/app"
	"github.com/law1om/analytics-platform/internal/config"
	"github.com/law1om/analytics-platform/internal/console"
	"github.com/law1om/analytics-platform/internal/domain"
	"github.com/law1om/analytics-platform/internal/engine"
	"github.com/law1om/analytics-platform/internal/engine/auth"
	"github.com/law1om/analytics-platform/internal/httpapi"
	"github.com/law1om/analytics-platform/internal/pipeline"
	"github.com/law1om/analytics-platform/internal/server"
)

const testSecret = "console-secret"

type testEnv struct {
	apiURL     string
	consoleURL string
	engine     engine.Engine
	divisionID int64
}

// newTestEnv starts a seeded backend and a console pointed at it.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	conn, err := app.OpenWorkspace(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open workspace: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	cfg := config.Default()
	e := engine.New(conn, cfg, nil)
	e.Now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	if _, err := app.Seed(ctx, e, cfg.Seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	backend, err := server.New(server.Config{Engine: e, BasePath: "/api", Auth: server.AuthConfig{JWTSecret: testSecret, Issuer: "test"}})
	if err != nil {
		t.Fatalf("build backend: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: backend}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	apiURL := "http://" + ln.Addr().String() + "/api"
	consoleURL := startConsole(t, apiURL)

	divs, err := e.Repo.ListDivisions(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, divs)
	return &testEnv{apiURL: apiURL, consoleURL: consoleURL, engine: e, divisionID: divs[0].ID}
}

func startConsole(t *testing.T, apiURL string) string {
	t.Helper()
	handler, err := console.New(console.Config{APIURL: apiURL, JWTSecret: testSecret, FetchTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("build console: %v", err)
	}
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts.URL + "/v0"
}

func (env *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	resp, err := analyticssdk.New(env.apiURL, "").Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return resp.Token
}

func call(t *testing.T, method, url, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res.StatusCode, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error httpapi.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	status, _ := call(t, http.MethodGet, env.consoleURL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, data := call(t, http.MethodGet, env.consoleURL+"/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	status, data = call(t, http.MethodGet, env.consoleURL+"/dashboard", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))
}

func TestMutationRefreshesDashboard(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@bank.com", "admin123")

	status, data := call(t, http.MethodGet, env.consoleURL+"/dashboard", admin, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(data, &res))
	require.NotNil(t, res.Dashboard)
	assert.Equal(t, 0, res.Dashboard.Tiles.TotalGoals)

	status, data = call(t, http.MethodPost, env.consoleURL+"/goals", admin, map[string]any{
		"title": "Deposits", "deadline": "2024-09-30", "divisionId": env.divisionID,
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	var out console.MutationResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Goal)
	require.NotNil(t, out.View)
	assert.Nil(t, out.RefreshError)
	assert.Equal(t, 1, out.View.Dashboard.Tiles.TotalGoals)
	assert.Greater(t, out.View.Seq, res.Seq)

	status, data = call(t, http.MethodPost, env.consoleURL+"/tasks", admin, map[string]any{
		"title": "Open branch", "goalId": out.Goal.ID, "status": "COMPLETED", "progress": 100,
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	out = console.MutationResponse{}
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Task)
	assert.Equal(t, 1, out.View.Dashboard.Tiles.CompletedTasks)
	assert.Equal(t, 1, out.View.Dashboard.Tiles.CompletedGoals)

	status, data = call(t, http.MethodDelete, env.consoleURL+"/tasks/"+itoa(out.Task.ID), admin, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	out = console.MutationResponse{}
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, 0, out.View.Dashboard.Tiles.TotalTasks)
}

func TestMutationValidationPassesThrough(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@bank.com", "admin123")

	status, data := call(t, http.MethodPost, env.consoleURL+"/goals", admin, map[string]any{
		"title": "Too late", "deadline": "2020-01-01", "divisionId": env.divisionID,
	})
	assert.Equal(t, http.StatusBadRequest, status, string(data))
	assert.Equal(t, "validation_failed", errorCode(t, data))
}

func TestEmployeeScreens(t *testing.T) {
	env := newTestEnv(t)
	emp := env.login(t, "ramil@bank.com", "123123")

	status, data := call(t, http.MethodGet, env.consoleURL+"/my-division", emp, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(data, &res))
	require.NotNil(t, res.Division)
	assert.Equal(t, env.divisionID, res.Division.Division.ID)

	status, data = call(t, http.MethodGet, env.consoleURL+"/divisions/"+itoa(env.divisionID), emp, nil)
	assert.Equal(t, http.StatusForbidden, status, string(data))
	assert.Equal(t, "forbidden", errorCode(t, data))

	status, data = call(t, http.MethodPost, env.consoleURL+"/goals", emp, map[string]any{
		"title": "Own goal", "deadline": "2024-09-30", "divisionId": env.divisionID,
	})
	require.Equal(t, http.StatusCreated, status, string(data))
	var out console.MutationResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.View)
	require.NotNil(t, out.View.Division)
	assert.Equal(t, pipeline.ViewMyDivision, out.View.Request.Kind)
	assert.Len(t, out.View.Division.Goals, 1)
}

func TestAdminDivisionAndBlockScreens(t *testing.T) {
	env := newTestEnv(t)
	admin := env.login(t, "admin@bank.com", "admin123")

	status, data := call(t, http.MethodGet, env.consoleURL+"/divisions/"+itoa(env.divisionID), admin, nil)
	require.Equal(t, http.StatusOK, status, string(data))

	block := url.PathEscape("Департамент стратегического планирования")
	status, data = call(t, http.MethodGet, env.consoleURL+"/divisions/"+itoa(env.divisionID)+"/blocks/"+block, admin, nil)
	require.Equal(t, http.StatusOK, status, string(data))
	var res pipeline.Result
	require.NoError(t, json.Unmarshal(data, &res))
	require.NotNil(t, res.Block)
	require.Len(t, res.Block.Members, 1)
	assert.Equal(t, "ramil@bank.com", res.Block.Members[0].Email)

	status, data = call(t, http.MethodGet, env.consoleURL+"/divisions/"+itoa(env.divisionID)+"/blocks/Nope", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "block_not_found", errorCode(t, data))

	status, data = call(t, http.MethodGet, env.consoleURL+"/divisions/999", admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "division_not_found", errorCode(t, data))
}

func TestUnknownScopeDivision(t *testing.T) {
	env := newTestEnv(t)
	token, err := auth.IssueToken(testSecret, "test", auth.Principal{
		UserID:     42,
		Email:      "ghost@bank.com",
		Role:       domain.RoleEmployee,
		DivisionID: domain.Int64Ptr(999),
	}, time.Hour, time.Now())
	require.NoError(t, err)

	status, data := call(t, http.MethodGet, env.consoleURL+"/my-division", token, nil)
	assert.Equal(t, http.StatusNotFound, status, string(data))
	assert.Equal(t, "scope_division_not_found", errorCode(t, data))
}

func TestBackendUnavailable(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	deadURL := "http://" + ln.Addr().String() + "/api"
	require.NoError(t, ln.Close())
	consoleURL := startConsole(t, deadURL)

	token, err := auth.IssueToken(testSecret, "test", auth.Principal{UserID: 1, Role: domain.RoleAdmin}, time.Hour, time.Now())
	require.NoError(t, err)

	status, data := call(t, http.MethodGet, consoleURL+"/dashboard", token, nil)
	assert.Equal(t, http.StatusBadGateway, status, string(data))
	assert.Equal(t, "fetch_failed", errorCode(t, data))
}
