// Package analytics joins fetched Division, Goal, Task and User collections,
// narrows them to what an actor may see, and derives the completion metrics
// and screen projections built on top of them.
//
// Everything here is a pure function of its inputs. Callers fetch a fresh
// Snapshot for every run and discard the results of the previous one.
package analytics

import "github.com/law1om/analytics-platform/internal/domain"

// Snapshot is one consistent fetch of the four source collections.
type Snapshot struct {
	Divisions []domain.Division `json:"divisions"`
	Goals     []domain.Goal     `json:"goals"`
	Tasks     []domain.Task     `json:"tasks"`
	Users     []domain.User     `json:"users"`
}

// OrphanReport lists references that could not be resolved. It is diagnostic
// only; orphans are excluded from grouped aggregates and never raised as errors.
type OrphanReport struct {
	// Goals whose division is not in the snapshot.
	Goals             []int64 `json:"goals,omitempty"`
	// Tasks whose goal is not in the snapshot.
	Tasks             []int64 `json:"tasks,omitempty"`
	// Tasks whose goal is an orphan goal. They count in global totals but in no
	// division rollup.
	UnattributedTasks []int64 `json:"unattributed_tasks,omitempty"`
	// Tasks assigned to a user that is not in the snapshot.
	UnknownAssignees  []int64 `json:"unknown_assignees,omitempty"`
}

// Empty reports whether every reference resolved.
func (o OrphanReport) Empty() bool {
	return len(o.Goals) == 0 && len(o.Tasks) == 0 && len(o.UnattributedTasks) == 0 && len(o.UnknownAssignees) == 0
}

// Index holds the lookups built from a Snapshot.
type Index struct {
	Divisions map[int64]domain.Division
	Goals     map[int64]domain.Goal
	Users     map[int64]domain.User
	// GoalDivision maps goal id to division id for goals whose division resolves.
	GoalDivision map[int64]int64
	// TaskDivision maps task id to division id, composed through the goal.
	TaskDivision map[int64]int64
	Orphans      OrphanReport
}

// BuildIndex links goals to divisions and tasks to divisions through their goal.
// It runs in O(|Divisions| + |Goals| + |Tasks| + |Users|).
func BuildIndex(s Snapshot) *Index {
	ix := &Index{
		Divisions:    make(map[int64]domain.Division, len(s.Divisions)),
		Goals:        make(map[int64]domain.Goal, len(s.Goals)),
		Users:        make(map[int64]domain.User, len(s.Users)),
		GoalDivision: make(map[int64]int64, len(s.Goals)),
		TaskDivision: make(map[int64]int64, len(s.Tasks)),
	}
	for _, d := range s.Divisions {
		ix.Divisions[d.ID] = d
	}
	for _, u := range s.Users {
		ix.Users[u.ID] = u
	}
	for _, g := range s.Goals {
		ix.Goals[g.ID] = g
		if _, ok := ix.Divisions[g.DivisionID]; !ok {
			ix.Orphans.Goals = append(ix.Orphans.Goals, g.ID)
			continue
		}
		ix.GoalDivision[g.ID] = g.DivisionID
	}
	for _, t := range s.Tasks {
		if _, ok := ix.Goals[t.GoalID]; !ok {
			ix.Orphans.Tasks = append(ix.Orphans.Tasks, t.ID)
			continue
		}
		if t.UserID != nil {
			if _, ok := ix.Users[*t.UserID]; !ok {
				ix.Orphans.UnknownAssignees = append(ix.Orphans.UnknownAssignees, t.ID)
			}
		}
		div, ok := ix.GoalDivision[t.GoalID]
		if !ok {
			ix.Orphans.UnattributedTasks = append(ix.Orphans.UnattributedTasks, t.ID)
			continue
		}
		ix.TaskDivision[t.ID] = div
	}
	return ix
}

// TaskCounted reports whether t resolves to a goal and so takes part in aggregates.
func (ix *Index) TaskCounted(t domain.Task) bool {
	_, ok := ix.Goals[t.GoalID]
	return ok
}

// Assignee returns the user a task is assigned to, if that user is known.
func (ix *Index) Assignee(t domain.Task) (domain.User, bool) {
	if t.UserID == nil {
		return domain.User{}, false
	}
	u, ok := ix.Users[*t.UserID]
	return u, ok
}
