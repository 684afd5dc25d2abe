package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/law1om/analytics-platform/internal/analytics"
)

type ViewKind string

const (
	ViewDashboard  ViewKind = "dashboard"
	ViewDivision   ViewKind = "division"
	ViewBlock      ViewKind = "block"
	ViewMyDivision ViewKind = "my_division"
)

// Request names the screen to materialize and who it is for.
type Request struct {
	Actor      analytics.Actor `json:"actor"`
	Kind       ViewKind        `json:"kind"`
	DivisionID int64           `json:"division_id,omitempty"`
	Block      string          `json:"block,omitempty"`
}

// Key identifies the screen a request renders for one user.
func (r Request) Key() string {
	return fmt.Sprintf("%d|%s|%s|%d|%s", r.Actor.UserID, r.Actor.Role, r.Kind, r.DivisionID, r.Block)
}

// Result is one completed run. It is never mutated after it is returned.
type Result struct {
	RunID      string                   `json:"run_id"`
	Seq        uint64                   `json:"seq"`
	Request    Request                  `json:"request"`
	FetchedAt  time.Time                `json:"fetched_at"`
	Aggregates analytics.Aggregates     `json:"aggregates"`
	Orphans    analytics.OrphanReport   `json:"orphans"`
	Dashboard  *analytics.DashboardView `json:"dashboard,omitempty"`
	Division   *analytics.DivisionView  `json:"division,omitempty"`
	Block      *analytics.BlockView     `json:"block,omitempty"`
}

type Runner struct {
	Source  Source
	Logger  *zap.Logger
	Timeout time.Duration
	Now     func() time.Time
}

func NewRunner(src Source, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Source: src, Logger: logger, Now: time.Now}
}

// Run fetches, joins, scopes, aggregates and materializes one request. Either a
// complete Result or an error is returned, never both.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	logger := r.logger()
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	runID := uuid.NewString()
	log := logger.With(zap.String("run_id", runID), zap.String("view", string(req.Kind)))

	if req.Kind == ViewMyDivision {
		if req.Actor.DivisionID == nil {
			return Result{}, analytics.ErrNoDivision
		}
		req.DivisionID = *req.Actor.DivisionID
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	log.Debug("run started")
	started := now()
	snap, err := Fetch(ctx, r.Source)
	if err != nil {
		var fe *analytics.FetchError
		if errors.As(err, &fe) {
			log.Error("fetch failed", zap.String("collection", fe.Collection), zap.Error(fe.Err))
		} else {
			log.Error("fetch failed", zap.Error(err))
		}
		return Result{}, err
	}

	ix := analytics.BuildIndex(snap)
	u, err := analytics.Scope(snap, ix, req.Actor)
	if err != nil {
		log.Warn("scope resolution failed", zap.Error(err))
		return Result{}, err
	}

	res := Result{RunID: runID, Request: req, FetchedAt: started}
	switch req.Kind {
	case ViewDashboard, "":
		agg := analytics.Aggregate(u, analytics.Options{AsOf: started})
		view := analytics.MaterializeDashboard(u, agg)
		res.Aggregates, res.Dashboard = agg, &view
	case ViewDivision, ViewMyDivision, ViewBlock:
		nu, err := u.Narrow(req.DivisionID)
		if err != nil {
			return Result{}, fmt.Errorf("division %d: %w", req.DivisionID, err)
		}
		agg := analytics.Aggregate(nu, analytics.Options{AsOf: started})
		res.Aggregates = agg
		if req.Kind == ViewBlock {
			view, err := analytics.MaterializeBlock(nu, agg, req.DivisionID, req.Block)
			if err != nil {
				return Result{}, fmt.Errorf("block %q: %w", req.Block, err)
			}
			res.Block = &view
		} else {
			view, err := analytics.MaterializeDivision(nu, agg, req.DivisionID)
			if err != nil {
				return Result{}, err
			}
			res.Division = &view
		}
	default:
		return Result{}, fmt.Errorf("unknown view %q", req.Kind)
	}
	res.Orphans = res.Aggregates.Orphans

	// Only references inside the actor's scope are reported. A DivisionSource
	// fetches one division's goals, so the other divisions' tasks never resolve.
	if !res.Orphans.Empty() {
		log.Warn("unresolved references",
			zap.Int64s("orphan_goals", res.Orphans.Goals),
			zap.Int64s("orphan_tasks", res.Orphans.Tasks),
			zap.Int64s("unattributed_tasks", res.Orphans.UnattributedTasks),
			zap.Int64s("unknown_assignees", res.Orphans.UnknownAssignees),
		)
	}
	log.Debug("run finished", zap.Duration("elapsed", now().Sub(started)))
	return res, nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
