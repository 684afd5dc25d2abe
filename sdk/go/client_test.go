package analyticssdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law1om/analytics-platform/internal/domain"
)

func TestClientListsAndAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/api/divisions":
			_ = json.NewEncoder(w).Encode([]Division{{ID: 1, Name: "Retail", Blocks: []string{"Cards"}}})
		case "/api/goals/division/1":
			_ = json.NewEncoder(w).Encode([]Goal{{ID: 10, Title: "Grow", DivisionID: 1, Deadline: "2025-01-01"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/", "tok")
	divs, err := c.ListDivisions(context.Background())
	require.NoError(t, err)
	require.Len(t, divs, 1)
	assert.Equal(t, []string{"Cards"}, divs[0].Blocks)
	assert.Equal(t, "Bearer tok", gotAuth)

	goals, err := c.ListGoalsByDivision(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, goals, 1)
	assert.Equal(t, domain.Date("2025-01-01"), goals[0].Deadline)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"division not found"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").GetDivision(context.Background(), 42)
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
	assert.Equal(t, "division not found", apiErr.Message)
	assert.True(t, IsNotFound(err))
}

func TestClientSendsBodyAndHandlesNoContent(t *testing.T) {
	var got TaskInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			_ = json.NewEncoder(w).Encode(Task{ID: 5, Title: got.Title, GoalID: got.GoalID, Status: domain.StatusNotStarted})
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	task, err := c.CreateTask(context.Background(), TaskInput{Title: "Call", GoalID: 3, UserID: domain.Int64Ptr(7)})
	require.NoError(t, err)
	assert.Equal(t, int64(5), task.ID)
	assert.Equal(t, int64(7), *got.UserID)
	require.NoError(t, c.DeleteTask(context.Background(), 5))
}

func TestWithTokenCopies(t *testing.T) {
	c := New("http://x", "a")
	d := c.WithToken("b")
	assert.Equal(t, "a", c.Token)
	assert.Equal(t, "b", d.Token)
}
