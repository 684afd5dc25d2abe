package analytics

import (
	"time"

	"github.com/law1om/analytics-platform/internal/domain"
)

// Options tunes an Aggregate call.
type Options struct {
	// AsOf is the reference day for overdue counts. Zero means time.Now().
	AsOf time.Time
}

// Totals are the ungrouped counts over a universe.
type Totals struct {
	TotalGoals     int `json:"total_goals"`
	CompletedGoals int `json:"completed_goals"`
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	PendingTasks   int `json:"pending_tasks"`
	OverdueGoals   int `json:"overdue_goals"`
	OverdueTasks   int `json:"overdue_tasks"`
}

// GoalRollup counts a division's goals by completion.
type GoalRollup struct {
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Total      int `json:"total"`
}

// Percent is the floored share of completed goals.
func (r GoalRollup) Percent() int { return percent(r.Completed, r.Total) }

// TaskRollup counts tasks by completion for a division or a user.
type TaskRollup struct {
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
	Total     int `json:"total"`
}

// Percent is the floored share of completed tasks.
func (r TaskRollup) Percent() int { return percent(r.Completed, r.Total) }

func (r *TaskRollup) add(t domain.Task) {
	r.Total++
	if t.Complete() {
		r.Completed++
	} else {
		r.Pending++
	}
}

// GoalTaskRollup counts the tasks under one goal.
type GoalTaskRollup struct {
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

// Percent is the floored share of completed tasks under the goal.
func (r GoalTaskRollup) Percent() int { return percent(r.Completed, r.Completed+r.Pending) }

// Aggregates holds every metric derived from one universe. Maps are keyed by id
// and carry no order; callers order them against the source collections.
type Aggregates struct {
	Totals        Totals                    `json:"totals"`
	DivisionGoals map[int64]GoalRollup      `json:"division_goals"`
	DivisionTasks map[int64]TaskRollup      `json:"division_tasks"`
	GoalTasks     map[int64]GoalTaskRollup  `json:"goal_tasks"`
	UserTasks     map[int64]TaskRollup      `json:"user_tasks"`
	Unassigned    TaskRollup                `json:"unassigned"`
	StatusCounts  map[domain.TaskStatus]int `json:"status_counts"`
	Orphans       OrphanReport              `json:"orphans"`
}

// Aggregate computes totals and rollups over u.
//
// Goals whose division does not resolve count toward totals but toward no
// division, and so do their tasks. Tasks whose goal does not resolve count
// nowhere. A task counts
// toward its goal's rollup only when that goal is in the universe.
func Aggregate(u Universe, opts Options) Aggregates {
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	agg := Aggregates{
		DivisionGoals: map[int64]GoalRollup{},
		DivisionTasks: map[int64]TaskRollup{},
		GoalTasks:     make(map[int64]GoalTaskRollup, len(u.Goals)),
		UserTasks:     map[int64]TaskRollup{},
		StatusCounts:  map[domain.TaskStatus]int{},
	}
	ix := u.Index
	if ix == nil {
		ix = BuildIndex(Snapshot{Divisions: u.Divisions, Goals: u.Goals, Tasks: u.Tasks, Users: u.Users})
	}
	agg.Orphans = scopedOrphans(u, ix)

	for _, g := range u.Goals {
		agg.Totals.TotalGoals++
		done := g.Complete()
		if done {
			agg.Totals.CompletedGoals++
		} else if g.Deadline.Before(asOf) {
			agg.Totals.OverdueGoals++
		}
		agg.GoalTasks[g.ID] = GoalTaskRollup{}
		div, ok := ix.GoalDivision[g.ID]
		if !ok {
			continue
		}
		r := agg.DivisionGoals[div]
		r.Total++
		if done {
			r.Completed++
		} else {
			r.InProgress++
		}
		agg.DivisionGoals[div] = r
	}

	for _, t := range u.Tasks {
		if !ix.TaskCounted(t) {
			continue
		}
		agg.Totals.TotalTasks++
		done := t.Complete()
		if done {
			agg.Totals.CompletedTasks++
		} else if t.EndDate.Before(asOf) {
			agg.Totals.OverdueTasks++
		}
		agg.StatusCounts[t.Status.Normalize()]++

		if div, ok := ix.TaskDivision[t.ID]; ok {
			r := agg.DivisionTasks[div]
			r.add(t)
			agg.DivisionTasks[div] = r
		}
		if gr, ok := agg.GoalTasks[t.GoalID]; ok {
			if done {
				gr.Completed++
			} else {
				gr.Pending++
			}
			agg.GoalTasks[t.GoalID] = gr
		}
		if usr, ok := ix.Assignee(t); ok {
			r := agg.UserTasks[usr.ID]
			r.add(t)
			agg.UserTasks[usr.ID] = r
		} else {
			agg.Unassigned.add(t)
		}
	}
	agg.Totals.PendingTasks = agg.Totals.TotalTasks - agg.Totals.CompletedTasks
	return agg
}

// scopedOrphans keeps only the diagnostics that concern entities in u, so an
// employee never sees ids from other divisions.
func scopedOrphans(u Universe, ix *Index) OrphanReport {
	if u.Actor.IsAdmin() {
		return ix.Orphans
	}
	goals := make(map[int64]struct{}, len(u.Goals))
	for _, g := range u.Goals {
		goals[g.ID] = struct{}{}
	}
	tasks := make(map[int64]struct{}, len(u.Tasks))
	for _, t := range u.Tasks {
		tasks[t.ID] = struct{}{}
	}
	var out OrphanReport
	for _, id := range ix.Orphans.Goals {
		if _, ok := goals[id]; ok {
			out.Goals = append(out.Goals, id)
		}
	}
	for _, id := range ix.Orphans.UnattributedTasks {
		if _, ok := tasks[id]; ok {
			out.UnattributedTasks = append(out.UnattributedTasks, id)
		}
	}
	for _, id := range ix.Orphans.UnknownAssignees {
		if _, ok := tasks[id]; ok {
			out.UnknownAssignees = append(out.UnknownAssignees, id)
		}
	}
	return out
}

func percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}
