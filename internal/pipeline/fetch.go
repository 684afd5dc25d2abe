// Package pipeline runs the analytics core against a remote source: it fetches
// the four collections concurrently, builds the scoped aggregates for one
// request and publishes the newest result to a View.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/law1om/analytics-platform/internal/analytics"
	"github.com/law1om/analytics-platform/internal/domain"
)

const (
	CollectionDivisions = "divisions"
	CollectionGoals     = "goals"
	CollectionTasks     = "tasks"
	CollectionUsers     = "users"
)

// Source retrieves the raw collections. *analyticssdk.Client implements it.
type Source interface {
	ListDivisions(ctx context.Context) ([]domain.Division, error)
	ListGoals(ctx context.Context) ([]domain.Goal, error)
	ListTasks(ctx context.Context) ([]domain.Task, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// Fetch retrieves all collections concurrently and returns once every one has
// resolved. The first failure cancels the others and is returned as a
// *analytics.FetchError.
func Fetch(ctx context.Context, src Source) (analytics.Snapshot, error) {
	var snap analytics.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := src.ListDivisions(gctx)
		if err != nil {
			return &analytics.FetchError{Collection: CollectionDivisions, Err: err}
		}
		snap.Divisions = v
		return nil
	})
	g.Go(func() error {
		v, err := src.ListGoals(gctx)
		if err != nil {
			return &analytics.FetchError{Collection: CollectionGoals, Err: err}
		}
		snap.Goals = v
		return nil
	})
	g.Go(func() error {
		v, err := src.ListTasks(gctx)
		if err != nil {
			return &analytics.FetchError{Collection: CollectionTasks, Err: err}
		}
		snap.Tasks = v
		return nil
	})
	g.Go(func() error {
		v, err := src.ListUsers(gctx)
		if err != nil {
			return &analytics.FetchError{Collection: CollectionUsers, Err: err}
		}
		snap.Users = v
		return nil
	})
	if err := g.Wait(); err != nil {
		return analytics.Snapshot{}, err
	}
	return snap, nil
}
