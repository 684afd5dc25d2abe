package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/law1om/analytics-platform/internal/config"
	"github.com/law1om/analytics-platform/internal/domain"
	"github.com/law1om/analytics-platform/internal/engine/auth"
	"github.com/law1om/analytics-platform/internal/events"
	"github.com/law1om/analytics-platform/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// ValidationError reports a rejected field value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports a mutation refused because of existing references.
type ConflictError struct {
	Reason  string
	Details map[string]any
}

func (e ConflictError) Error() string { return e.Reason }

func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return e.Repo.InTx(ctx, fn)
}

type DivisionInput struct {
	Name        string
	Description string
	Blocks      []string
}

func normalizeBlocks(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, b := range in {
		b = strings.TrimSpace(b)
		if b == "" {
			return nil, ValidationError{Field: "blocks", Reason: "block name must not be empty"}
		}
		if seen[b] {
			return nil, ValidationError{Field: "blocks", Reason: fmt.Sprintf("duplicate block %q", b)}
		}
		seen[b] = true
		out = append(out, b)
	}
	return out, nil
}

func (e Engine) CreateDivision(ctx context.Context, p auth.Principal, in DivisionInput) (domain.Division, error) {
	if err := auth.RequireAdmin(p, "division.write"); err != nil {
		return domain.Division{}, err
	}
	d, err := divisionFromInput(in)
	if err != nil {
		return domain.Division{}, err
	}
	d.CreatedAt, d.UpdatedAt = e.stamp(), e.stamp()
	var out domain.Division
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		id, err := e.Repo.InsertDivision(ctx, tx, d)
		if err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.DivisionCreated, "division", id, p.UserID, events.EventPayload{"name": d.Name, "blocks": d.Blocks}); err != nil {
			return err
		}
		out, err = e.Repo.GetDivisionTx(ctx, tx, id)
		return err
	})
	return out, err
}

func (e Engine) UpdateDivision(ctx context.Context, p auth.Principal, id int64, in DivisionInput) (domain.Division, error) {
	if err := auth.RequireAdmin(p, "division.write"); err != nil {
		return domain.Division{}, err
	}
	d, err := divisionFromInput(in)
	if err != nil {
		return domain.Division{}, err
	}
	d.ID = id
	d.UpdatedAt = e.stamp()
	var out domain.Division
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateDivision(ctx, tx, d); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.DivisionUpdated, "division", id, p.UserID, events.EventPayload{"name": d.Name, "blocks": d.Blocks}); err != nil {
			return err
		}
		out, err = e.Repo.GetDivisionTx(ctx, tx, id)
		return err
	})
	return out, err
}

// DeleteDivision refuses while goals or users still reference the division.
func (e Engine) DeleteDivision(ctx context.Context, p auth.Principal, id int64) error {
	if err := auth.RequireAdmin(p, "division.write"); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetDivisionTx(ctx, tx, id); err != nil {
			return err
		}
		goals, users, err := e.Repo.DivisionReferences(ctx, tx, id)
		if err != nil {
			return err
		}
		if goals > 0 || users > 0 {
			return ConflictError{
				Reason:  "division has associated goals or users",
				Details: map[string]any{"goals": goals, "users": users},
			}
		}
		if err := e.Repo.DeleteDivision(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.DivisionDeleted, "division", id, p.UserID, nil)
	})
}

func divisionFromInput(in DivisionInput) (domain.Division, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.Division{}, ValidationError{Field: "name", Reason: "required"}
	}
	blocks, err := normalizeBlocks(in.Blocks)
	if err != nil {
		return domain.Division{}, err
	}
	return domain.Division{Name: name, Description: strings.TrimSpace(in.Description), Blocks: blocks}, nil
}

type GoalInput struct {
	Title        string
	Description  string
	TargetValue  *float64
	CurrentValue *float64
	Deadline     string
	Progress     int
	DivisionID   int64
}

func (e Engine) goalFromInput(ctx context.Context, tx *sql.Tx, in GoalInput) (domain.Goal, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Goal{}, ValidationError{Field: "title", Reason: "required"}
	}
	deadline, err := domain.ParseDate(in.Deadline)
	if err != nil {
		return domain.Goal{}, ValidationError{Field: "deadline", Reason: err.Error()}
	}
	if deadline.IsZero() {
		return domain.Goal{}, ValidationError{Field: "deadline", Reason: "required"}
	}
	if _, err := e.Repo.GetDivisionTx(ctx, tx, in.DivisionID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Goal{}, ValidationError{Field: "divisionId", Reason: fmt.Sprintf("division %d not found", in.DivisionID)}
		}
		return domain.Goal{}, err
	}
	return domain.Goal{
		Title:        title,
		Description:  strings.TrimSpace(in.Description),
		TargetValue:  in.TargetValue,
		CurrentValue: in.CurrentValue,
		Deadline:     deadline,
		Progress:     domain.ClampProgress(in.Progress),
		DivisionID:   in.DivisionID,
	}, nil
}

// CreateGoal rejects deadlines earlier than today.
func (e Engine) CreateGoal(ctx context.Context, p auth.Principal, in GoalInput) (domain.Goal, error) {
	if err := auth.RequireDivision(p, in.DivisionID, "goal.write"); err != nil {
		return domain.Goal{}, err
	}
	var out domain.Goal
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		g, err := e.goalFromInput(ctx, tx, in)
		if err != nil {
			return err
		}
		if g.Deadline.Before(e.now()) {
			return ValidationError{Field: "deadline", Reason: "goal deadline cannot be in the past"}
		}
		g.CreatedAt, g.UpdatedAt = e.stamp(), e.stamp()
		id, err := e.Repo.InsertGoal(ctx, tx, g)
		if err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.GoalCreated, "goal", id, p.UserID, events.EventPayload{"title": g.Title, "division_id": g.DivisionID}); err != nil {
			return err
		}
		out, err = e.Repo.GetGoalTx(ctx, tx, id)
		return err
	})
	return out, err
}

// UpdateGoal requires write access to both the current and the target division.
func (e Engine) UpdateGoal(ctx context.Context, p auth.Principal, id int64, in GoalInput) (domain.Goal, error) {
	var out domain.Goal
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := e.Repo.GetGoalTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := auth.RequireDivision(p, existing.DivisionID, "goal.write"); err != nil {
			return err
		}
		if err := auth.RequireDivision(p, in.DivisionID, "goal.write"); err != nil {
			return err
		}
		g, err := e.goalFromInput(ctx, tx, in)
		if err != nil {
			return err
		}
		g.ID = id
		g.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateGoal(ctx, tx, g); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.GoalUpdated, "goal", id, p.UserID, events.EventPayload{"title": g.Title, "progress": g.Progress}); err != nil {
			return err
		}
		out, err = e.Repo.GetGoalTx(ctx, tx, id)
		return err
	})
	return out, err
}

// DeleteGoal removes the goal together with its tasks.
func (e Engine) DeleteGoal(ctx context.Context, p auth.Principal, id int64) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := e.Repo.GetGoalTx(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := auth.RequireDivision(p, existing.DivisionID, "goal.write"); err != nil {
			return err
		}
		if err := e.Repo.DeleteGoal(ctx, tx, id); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.GoalDeleted, "goal", id, p.UserID, events.EventPayload{"title": existing.Title})
	})
}

type TaskInput struct {
	Title          string
	Description    string
	ExpectedResult string
	ActualResult   string
	Progress       int
	Impact         string
	Status         string
	StartDate      string
	EndDate        string
	GoalID         int64
	UserID         *int64
}

func (e Engine) taskFromInput(ctx context.Context, tx *sql.Tx, p auth.Principal, in TaskInput) (domain.Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "required"}
	}
	status, err := domain.ParseTaskStatus(in.Status)
	if err != nil {
		return domain.Task{}, ValidationError{Field: "status", Reason: err.Error()}
	}
	start, err := domain.ParseDate(in.StartDate)
	if err != nil {
		return domain.Task{}, ValidationError{Field: "startDate", Reason: err.Error()}
	}
	end, err := domain.ParseDate(in.EndDate)
	if err != nil {
		return domain.Task{}, ValidationError{Field: "endDate", Reason: err.Error()}
	}
	if start.After(end) {
		return domain.Task{}, ValidationError{Field: "startDate", Reason: "start date cannot be after end date"}
	}
	goal, err := e.Repo.GetGoalTx(ctx, tx, in.GoalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Task{}, ValidationError{Field: "goalId", Reason: fmt.Sprintf("goal %d not found", in.GoalID)}
		}
		return domain.Task{}, err
	}
	if err := auth.RequireDivision(p, goal.DivisionID, "task.write"); err != nil {
		return domain.Task{}, err
	}
	if in.UserID != nil {
		if _, err := e.Repo.GetUserTx(ctx, tx, *in.UserID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.Task{}, ValidationError{Field: "userId", Reason: fmt.Sprintf("user %d not found", *in.UserID)}
			}
			return domain.Task{}, err
		}
	}
	return domain.Task{
		Title:          title,
		Description:    strings.TrimSpace(in.Description),
		ExpectedResult: in.ExpectedResult,
		ActualResult:   in.ActualResult,
		Progress:       domain.ClampProgress(in.Progress),
		Impact:         in.Impact,
		Status:         status.Normalize(),
		StartDate:      start,
		EndDate:        end,
		GoalID:         in.GoalID,
		UserID:         in.UserID,
	}, nil
}

func (e Engine) CreateTask(ctx context.Context, p auth.Principal, in TaskInput) (domain.Task, error) {
	var out domain.Task
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		t, err := e.taskFromInput(ctx, tx, p, in)
		if err != nil {
			return err
		}
		t.CreatedAt, t.UpdatedAt = e.stamp(), e.stamp()
		id, err := e.Repo.InsertTask(ctx, tx, t)
		if err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.TaskCreated, "task", id, p.UserID, events.EventPayload{"title": t.Title, "goal_id": t.GoalID, "status": t.Status}); err != nil {
			return err
		}
		if err := e.recomputeGoalProgress(ctx, tx, t.GoalID, p); err != nil {
			return err
		}
		out, err = e.Repo.GetTaskTx(ctx, tx, id)
		return err
	})
	return out, err
}

func (e Engine) UpdateTask(ctx context.Context, p auth.Principal, id int64, in TaskInput) (domain.Task, error) {
	var out domain.Task
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := e.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		prevGoal, err := e.Repo.GetGoalTx(ctx, tx, existing.GoalID)
		if err != nil {
			return err
		}
		if err := auth.RequireDivision(p, prevGoal.DivisionID, "task.write"); err != nil {
			return err
		}
		t, err := e.taskFromInput(ctx, tx, p, in)
		if err != nil {
			return err
		}
		t.ID = id
		t.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.TaskUpdated, "task", id, p.UserID, events.EventPayload{"status": t.Status, "progress": t.Progress}); err != nil {
			return err
		}
		if err := e.recomputeGoalProgress(ctx, tx, t.GoalID, p); err != nil {
			return err
		}
		if existing.GoalID != t.GoalID {
			if err := e.recomputeGoalProgress(ctx, tx, existing.GoalID, p); err != nil {
				return err
			}
		}
		out, err = e.Repo.GetTaskTx(ctx, tx, id)
		return err
	})
	return out, err
}

func (e Engine) DeleteTask(ctx context.Context, p auth.Principal, id int64) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		existing, err := e.Repo.GetTaskTx(ctx, tx, id)
		if err != nil {
			return err
		}
		goal, err := e.Repo.GetGoalTx(ctx, tx, existing.GoalID)
		if err != nil {
			return err
		}
		if err := auth.RequireDivision(p, goal.DivisionID, "task.write"); err != nil {
			return err
		}
		if err := e.Repo.DeleteTask(ctx, tx, id); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, events.TaskDeleted, "task", id, p.UserID, events.EventPayload{"title": existing.Title}); err != nil {
			return err
		}
		return e.recomputeGoalProgress(ctx, tx, existing.GoalID, p)
	})
}

// recomputeGoalProgress sets goal progress to the integer mean of its tasks'
// progress. A goal without tasks keeps its current value.
func (e Engine) recomputeGoalProgress(ctx context.Context, tx *sql.Tx, goalID int64, p auth.Principal) error {
	progress, err := e.Repo.TaskProgress(ctx, tx, goalID)
	if err != nil {
		return err
	}
	if len(progress) == 0 {
		return nil
	}
	sum := 0
	for _, v := range progress {
		sum += v
	}
	avg := domain.ClampProgress(sum / len(progress))
	if err := e.Repo.SetGoalProgress(ctx, tx, goalID, avg, e.stamp()); err != nil {
		return err
	}
	e.logger().Debug("goal progress recomputed", zap.Int64("goal_id", goalID), zap.Int("progress", avg))
	return e.Events.Append(ctx, tx, events.GoalProgress, "goal", goalID, p.UserID, events.EventPayload{"progress": avg, "tasks": len(progress)})
}

type UserInput struct {
	Name       string
	Email      string
	Password   string
	Role       string
	DivisionID *int64
	Block      string
}

// CreateUser requires an admin. Block, when set, must belong to the user's division.
func (e Engine) CreateUser(ctx context.Context, p auth.Principal, in UserInput) (domain.User, error) {
	if err := auth.RequireAdmin(p, "user.write"); err != nil {
		return domain.User{}, err
	}
	var out domain.User
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = e.createUserTx(ctx, tx, p, in)
		return err
	})
	return out, err
}

func (e Engine) createUserTx(ctx context.Context, tx *sql.Tx, p auth.Principal, in UserInput) (domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || !strings.Contains(email, "@") {
		return domain.User{}, ValidationError{Field: "email", Reason: "a valid email is required"}
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return domain.User{}, ValidationError{Field: "name", Reason: "required"}
	}
	role, err := domain.ParseRole(in.Role)
	if err != nil {
		return domain.User{}, ValidationError{Field: "role", Reason: err.Error()}
	}
	block := strings.TrimSpace(in.Block)
	if in.DivisionID != nil {
		div, err := e.Repo.GetDivisionTx(ctx, tx, *in.DivisionID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return domain.User{}, ValidationError{Field: "divisionId", Reason: fmt.Sprintf("division %d not found", *in.DivisionID)}
			}
			return domain.User{}, err
		}
		if block != "" && !div.HasBlock(block) {
			return domain.User{}, ValidationError{Field: "block", Reason: fmt.Sprintf("block %q not in division %s", block, div.Name)}
		}
	} else if block != "" {
		return domain.User{}, ValidationError{Field: "block", Reason: "block requires a division"}
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, ValidationError{Field: "password", Reason: err.Error()}
	}
	u := domain.User{Name: name, Email: email, Role: role, DivisionID: in.DivisionID, Block: block, CreatedAt: e.stamp()}
	id, err := e.Repo.InsertUser(ctx, tx, u, hash)
	if err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, events.UserCreated, "user", id, p.UserID, events.EventPayload{"email": email, "role": role}); err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUserTx(ctx, tx, id)
}

// Login verifies credentials and returns the user.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, error) {
	u, hash, err := e.Repo.UserCredentials(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.User{}, auth.ErrInvalidCredentials
		}
		return domain.User{}, err
	}
	if err := auth.CheckPassword(hash, password); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// PrincipalFor converts a stored user into an auth principal.
func PrincipalFor(u domain.User) auth.Principal {
	return auth.Principal{UserID: u.ID, Email: u.Email, Role: u.Role, DivisionID: u.DivisionID}
}
