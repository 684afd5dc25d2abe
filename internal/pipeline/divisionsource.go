package pipeline

import (
	"context"

	analyticssdk "github.com/law1om/analytics-platform/sdk/go"

	"github.com/law1om/analytics-platform/internal/analytics"
	"github.com/law1om/analytics-platform/internal/domain"
)

// DivisionClient is the subset of the API client DivisionSource needs.
type DivisionClient interface {
	GetDivision(ctx context.Context, id int64) (domain.Division, error)
	ListGoalsByDivision(ctx context.Context, divisionID int64) ([]domain.Goal, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// DivisionSource fetches a single division and its goals; tasks and users stay
// global and are narrowed by the scope filter. A division unknown to the server
// yields an empty collection, which the scope filter reports as a scope error.
type DivisionSource struct {
	Client     DivisionClient
	DivisionID int64
}

func (s DivisionSource) ListDivisions(ctx context.Context) ([]domain.Division, error) {
	d, err := s.Client.GetDivision(ctx, s.DivisionID)
	if analyticssdk.IsNotFound(err) {
		return []domain.Division{}, nil
	}
	if err != nil {
		return nil, err
	}
	return []domain.Division{d}, nil
}

func (s DivisionSource) ListGoals(ctx context.Context) ([]domain.Goal, error) {
	goals, err := s.Client.ListGoalsByDivision(ctx, s.DivisionID)
	if analyticssdk.IsNotFound(err) {
		return []domain.Goal{}, nil
	}
	return goals, err
}

func (s DivisionSource) ListTasks(ctx context.Context) ([]domain.Task, error) {
	return s.Client.ListTasks(ctx)
}

func (s DivisionSource) ListUsers(ctx context.Context) ([]domain.User, error) {
	return s.Client.ListUsers(ctx)
}

// Client is an API client able to serve both an admin and an employee read.
type Client interface {
	Source
	DivisionClient
}

// SourceFor picks how actor reads: employees with a division go through a
// DivisionSource, everyone else reads every collection.
func SourceFor(c Client, actor analytics.Actor) Source {
	if actor.Role != domain.RoleAdmin && actor.DivisionID != nil {
		return DivisionSource{Client: c, DivisionID: *actor.DivisionID}
	}
	return c
}
