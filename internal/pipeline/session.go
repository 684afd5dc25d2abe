package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	analyticssdk "github.com/law1om/analytics-platform/sdk/go"

	"github.com/law1om/analytics-platform/internal/domain"
)

// Mutator writes goals and tasks to the backend. *analyticssdk.Client
// implements it.
type Mutator interface {
	CreateGoal(ctx context.Context, in analyticssdk.GoalInput) (domain.Goal, error)
	UpdateGoal(ctx context.Context, id int64, in analyticssdk.GoalInput) (domain.Goal, error)
	DeleteGoal(ctx context.Context, id int64) error
	CreateTask(ctx context.Context, in analyticssdk.TaskInput) (domain.Task, error)
	UpdateTask(ctx context.Context, id int64, in analyticssdk.TaskInput) (domain.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

// Session binds one actor's screen to a View. Every mutation is followed by a
// full refresh; there is no incremental update path.
type Session struct {
	Runner  *Runner
	View    *View
	Request Request
	Mutator Mutator
}

func NewSession(runner *Runner, req Request, m Mutator) *Session {
	return &Session{Runner: runner, View: &View{}, Request: req, Mutator: m}
}

// Refresh runs the pipeline under a fresh sequence number. When a later refresh
// has already committed, the newer result is returned instead. A failed run
// leaves the View untouched.
func (s *Session) Refresh(ctx context.Context) (Result, error) {
	seq := s.View.Begin()
	res, err := s.Runner.Run(ctx, s.Request)
	if err != nil {
		return Result{}, err
	}
	if !s.View.Commit(seq, res) {
		s.Runner.logger().Debug("stale run discarded", zap.String("run_id", res.RunID), zap.Uint64("seq", seq))
	}
	cur, _ := s.View.Current()
	return cur, nil
}

func (s *Session) CreateGoal(ctx context.Context, in analyticssdk.GoalInput) (domain.Goal, Result, error) {
	m, err := s.mutator()
	if err != nil {
		return domain.Goal{}, Result{}, err
	}
	g, err := m.CreateGoal(ctx, in)
	if err != nil {
		return domain.Goal{}, Result{}, err
	}
	res, err := s.refreshAfter(ctx, "create goal")
	return g, res, err
}

func (s *Session) UpdateGoal(ctx context.Context, id int64, in analyticssdk.GoalInput) (domain.Goal, Result, error) {
	m, err := s.mutator()
	if err != nil {
		return domain.Goal{}, Result{}, err
	}
	g, err := m.UpdateGoal(ctx, id, in)
	if err != nil {
		return domain.Goal{}, Result{}, err
	}
	res, err := s.refreshAfter(ctx, "update goal")
	return g, res, err
}

func (s *Session) DeleteGoal(ctx context.Context, id int64) (Result, error) {
	m, err := s.mutator()
	if err != nil {
		return Result{}, err
	}
	if err := m.DeleteGoal(ctx, id); err != nil {
		return Result{}, err
	}
	return s.refreshAfter(ctx, "delete goal")
}

func (s *Session) CreateTask(ctx context.Context, in analyticssdk.TaskInput) (domain.Task, Result, error) {
	m, err := s.mutator()
	if err != nil {
		return domain.Task{}, Result{}, err
	}
	t, err := m.CreateTask(ctx, in)
	if err != nil {
		return domain.Task{}, Result{}, err
	}
	res, err := s.refreshAfter(ctx, "create task")
	return t, res, err
}

func (s *Session) UpdateTask(ctx context.Context, id int64, in analyticssdk.TaskInput) (domain.Task, Result, error) {
	m, err := s.mutator()
	if err != nil {
		return domain.Task{}, Result{}, err
	}
	t, err := m.UpdateTask(ctx, id, in)
	if err != nil {
		return domain.Task{}, Result{}, err
	}
	res, err := s.refreshAfter(ctx, "update task")
	return t, res, err
}

func (s *Session) DeleteTask(ctx context.Context, id int64) (Result, error) {
	m, err := s.mutator()
	if err != nil {
		return Result{}, err
	}
	if err := m.DeleteTask(ctx, id); err != nil {
		return Result{}, err
	}
	return s.refreshAfter(ctx, "delete task")
}

// ErrReadOnly is returned by mutations on a session without a Mutator.
var ErrReadOnly = errors.New("session is read-only")

func (s *Session) mutator() (Mutator, error) {
	if s.Mutator == nil {
		return nil, ErrReadOnly
	}
	return s.Mutator, nil
}

// RefreshError reports that a write reached the backend but the refresh that
// followed it failed.
type RefreshError struct {
	Op  string
	Err error
}

func (e *RefreshError) Error() string { return fmt.Sprintf("refresh after %s: %v", e.Op, e.Err) }

func (e *RefreshError) Unwrap() error { return e.Err }

func (s *Session) refreshAfter(ctx context.Context, op string) (Result, error) {
	res, err := s.Refresh(ctx)
	if err != nil {
		return Result{}, &RefreshError{Op: op, Err: err}
	}
	return res, nil
}
