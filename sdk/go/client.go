package analyticssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/law1om/analytics-platform/internal/domain"
)

// Client is a minimal HTTP client for the goals and tasks REST API.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		Timeout: 10 * time.Second,
	}
}

// WithToken returns a copy of c that authenticates as token.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.Token = token
	return &cp
}

type (
	Division = domain.Division
	Goal     = domain.Goal
	Task     = domain.Task
	User     = domain.User
	Event    = domain.Event
)

type DivisionInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Blocks      []string `json:"blocks,omitempty"`
}

type GoalInput struct {
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	TargetValue  *float64    `json:"targetValue,omitempty"`
	CurrentValue *float64    `json:"currentValue,omitempty"`
	Deadline     domain.Date `json:"deadline"`
	Progress     int         `json:"progress,omitempty"`
	DivisionID   int64       `json:"divisionId"`
}

type TaskInput struct {
	Title          string            `json:"title"`
	Description    string            `json:"description,omitempty"`
	ExpectedResult string            `json:"expectedResult,omitempty"`
	ActualResult   string            `json:"actualResult,omitempty"`
	Progress       int               `json:"progress,omitempty"`
	Impact         string            `json:"impact,omitempty"`
	Status         domain.TaskStatus `json:"status,omitempty"`
	StartDate      domain.Date       `json:"startDate,omitempty"`
	EndDate        domain.Date       `json:"endDate,omitempty"`
	GoalID         int64             `json:"goalId"`
	UserID         *int64            `json:"userId,omitempty"`
}

type UserInput struct {
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Password   string      `json:"password"`
	Role       domain.Role `json:"role"`
	DivisionID *int64      `json:"divisionId,omitempty"`
	Block      string      `json:"block,omitempty"`
}

type LoginResponse struct {
	Token      string      `json:"token"`
	Email      string      `json:"email"`
	FullName   string      `json:"fullName"`
	Role       domain.Role `json:"role"`
	DivisionID *int64      `json:"divisionId,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message are filled from the
// server's error envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	var resp LoginResponse
	body := map[string]string{"email": email, "password": password}
	err := c.do(ctx, http.MethodPost, "auth/login", body, &resp)
	return resp, err
}

func (c *Client) ListDivisions(ctx context.Context) ([]Division, error) {
	var resp []Division
	err := c.do(ctx, http.MethodGet, "divisions", nil, &resp)
	return resp, err
}

func (c *Client) GetDivision(ctx context.Context, id int64) (Division, error) {
	var resp Division
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("divisions/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) CreateDivision(ctx context.Context, in DivisionInput) (Division, error) {
	var resp Division
	err := c.do(ctx, http.MethodPost, "divisions", in, &resp)
	return resp, err
}

func (c *Client) UpdateDivision(ctx context.Context, id int64, in DivisionInput) (Division, error) {
	var resp Division
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("divisions/%d", id), in, &resp)
	return resp, err
}

func (c *Client) DeleteDivision(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("divisions/%d", id), nil, nil)
}

func (c *Client) ListGoals(ctx context.Context) ([]Goal, error) {
	var resp []Goal
	err := c.do(ctx, http.MethodGet, "goals", nil, &resp)
	return resp, err
}

// ListGoalsByDivision returns the goals the server scopes to one division.
func (c *Client) ListGoalsByDivision(ctx context.Context, divisionID int64) ([]Goal, error) {
	var resp []Goal
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("goals/division/%d", divisionID), nil, &resp)
	return resp, err
}

func (c *Client) ListOverdueGoals(ctx context.Context) ([]Goal, error) {
	var resp []Goal
	err := c.do(ctx, http.MethodGet, "goals/overdue", nil, &resp)
	return resp, err
}

func (c *Client) GetGoal(ctx context.Context, id int64) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("goals/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) CreateGoal(ctx context.Context, in GoalInput) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodPost, "goals", in, &resp)
	return resp, err
}

func (c *Client) UpdateGoal(ctx context.Context, id int64, in GoalInput) (Goal, error) {
	var resp Goal
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("goals/%d", id), in, &resp)
	return resp, err
}

func (c *Client) DeleteGoal(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("goals/%d", id), nil, nil)
}

func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp, err
}

func (c *Client) ListTasksByGoal(ctx context.Context, goalID int64) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/goal/%d", goalID), nil, &resp)
	return resp, err
}

func (c *Client) ListTasksByUser(ctx context.Context, userID int64) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/user/%d", userID), nil, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) UpdateTask(ctx context.Context, id int64, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%d", id), in, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", id), nil, nil)
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, "users", nil, &resp)
	return resp, err
}

func (c *Client) CreateUser(ctx context.Context, in UserInput) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodPost, "users", in, &resp)
	return resp, err
}

// Events returns the most recent audit events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
