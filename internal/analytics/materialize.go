package analytics

import (
	"github.com/law1om/analytics-platform/internal/domain"
)

// DashboardTiles are the headline numbers shown above every screen.
type DashboardTiles struct {
	TotalGoals     int `json:"total_goals"`
	CompletedGoals int `json:"completed_goals"`
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	PendingTasks   int `json:"pending_tasks"`
	OverdueGoals   int `json:"overdue_goals"`
	OverdueTasks   int `json:"overdue_tasks"`
}

// DivisionGoalBar is one bar of the goals-by-division chart.
type DivisionGoalBar struct {
	DivisionID int64  `json:"division_id"`
	Name       string `json:"name"`
	Completed  int    `json:"completed"`
	InProgress int    `json:"in_progress"`
}

// DivisionTaskBar is one bar of the tasks-by-division chart.
type DivisionTaskBar struct {
	DivisionID int64  `json:"division_id"`
	Name       string `json:"name"`
	Completed  int    `json:"completed"`
	Pending    int    `json:"pending"`
}

// GoalRow is one line of a division's goal table.
type GoalRow struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Deadline    domain.Date `json:"deadline"`
	Progress    int         `json:"progress"`
}

// TaskRow is one line of a division's task table.
type TaskRow struct {
	ID              int64             `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description"`
	Status          domain.TaskStatus `json:"status"`
	Progress        int               `json:"progress"`
	StartDate       domain.Date       `json:"start_date"`
	EndDate         domain.Date       `json:"end_date"`
	GoalID          int64             `json:"goal_id"`
	ParentGoalTitle string            `json:"parent_goal_title"`
	Assignee        string            `json:"assignee"`
}

// GoalTaskBar is one bar of the per-goal task chart.
type GoalTaskBar struct {
	GoalID    int64  `json:"goal_id"`
	Name      string `json:"name"`
	Completed int    `json:"completed"`
	Pending   int    `json:"pending"`
}

// AssigneeRow is one line of the per-user workload table. UserID is zero for
// the unassigned bucket.
type AssigneeRow struct {
	UserID    int64  `json:"user_id,omitempty"`
	Name      string `json:"name"`
	Completed int    `json:"completed"`
	Pending   int    `json:"pending"`
	Total     int    `json:"total"`
}

// MemberRow lists a user working in a block.
type MemberRow struct {
	ID    int64       `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

// DashboardView is the bank-wide screen, narrowed to the actor's scope.
type DashboardView struct {
	Tiles           DashboardTiles            `json:"tiles"`
	GoalsByDivision []DivisionGoalBar         `json:"goals_by_division"`
	TasksByDivision []DivisionTaskBar         `json:"tasks_by_division"`
	StatusCounts    map[domain.TaskStatus]int `json:"status_counts"`
	Orphans         OrphanReport              `json:"orphans"`
}

// DivisionView is the single-division screen.
type DivisionView struct {
	Division  domain.Division `json:"division"`
	Tiles     DashboardTiles  `json:"tiles"`
	Goals     []GoalRow       `json:"goals"`
	Tasks     []TaskRow       `json:"tasks"`
	GoalChart []GoalTaskBar   `json:"goal_chart"`
	Assignees []AssigneeRow   `json:"assignees"`
}

// BlockView is a division screen headed by one of its blocks.
type BlockView struct {
	DivisionView
	Block   string      `json:"block"`
	Members []MemberRow `json:"members"`
}

// Tiles copies the totals into dashboard tiles.
func Tiles(a Aggregates) DashboardTiles {
	return DashboardTiles(a.Totals)
}

// DivisionGoalSeries emits one bar per division with at least one goal, in the
// order of u.Divisions.
func DivisionGoalSeries(u Universe, a Aggregates) []DivisionGoalBar {
	out := []DivisionGoalBar{}
	for _, d := range u.Divisions {
		r, ok := a.DivisionGoals[d.ID]
		if !ok || r.Total == 0 {
			continue
		}
		out = append(out, DivisionGoalBar{DivisionID: d.ID, Name: d.Name, Completed: r.Completed, InProgress: r.InProgress})
	}
	return out
}

// DivisionTaskSeries emits one bar per division with at least one task, in the
// order of u.Divisions.
func DivisionTaskSeries(u Universe, a Aggregates) []DivisionTaskBar {
	out := []DivisionTaskBar{}
	for _, d := range u.Divisions {
		r, ok := a.DivisionTasks[d.ID]
		if !ok || r.Total == 0 {
			continue
		}
		out = append(out, DivisionTaskBar{DivisionID: d.ID, Name: d.Name, Completed: r.Completed, Pending: r.Pending})
	}
	return out
}

// GoalRows projects goals in their given order.
func GoalRows(goals []domain.Goal) []GoalRow {
	out := make([]GoalRow, 0, len(goals))
	for _, g := range goals {
		out = append(out, GoalRow{
			ID:          g.ID,
			Title:       g.Title,
			Description: g.Description,
			Deadline:    g.Deadline,
			Progress:    domain.ClampProgress(g.Progress),
		})
	}
	return out
}

// TaskRows resolves parent goal titles and assignee names through the index.
// Tasks whose goal is unknown are skipped.
func TaskRows(u Universe) []TaskRow {
	out := make([]TaskRow, 0, len(u.Tasks))
	for _, t := range u.Tasks {
		g, ok := u.Index.Goals[t.GoalID]
		if !ok {
			continue
		}
		row := TaskRow{
			ID:              t.ID,
			Title:           t.Title,
			Description:     t.Description,
			Status:          t.Status.Normalize(),
			Progress:        domain.ClampProgress(t.Progress),
			StartDate:       t.StartDate,
			EndDate:         t.EndDate,
			GoalID:          t.GoalID,
			ParentGoalTitle: g.Title,
		}
		if usr, ok := u.Index.Assignee(t); ok {
			row.Assignee = usr.Name
		}
		out = append(out, row)
	}
	return out
}

// GoalTaskSeries emits one bar per goal in u, in goal order.
func GoalTaskSeries(u Universe, a Aggregates) []GoalTaskBar {
	out := make([]GoalTaskBar, 0, len(u.Goals))
	for _, g := range u.Goals {
		r := a.GoalTasks[g.ID]
		out = append(out, GoalTaskBar{GoalID: g.ID, Name: g.Title, Completed: r.Completed, Pending: r.Pending})
	}
	return out
}

// AssigneeRows lists users of the universe that carry tasks, in user collection
// order, followed by the unassigned bucket when it is non-empty.
func AssigneeRows(u Universe, a Aggregates) []AssigneeRow {
	out := []AssigneeRow{}
	seen := make(map[int64]struct{}, len(u.Users))
	add := func(usr domain.User) {
		if _, dup := seen[usr.ID]; dup {
			return
		}
		seen[usr.ID] = struct{}{}
		r, ok := a.UserTasks[usr.ID]
		if !ok {
			return
		}
		out = append(out, AssigneeRow{UserID: usr.ID, Name: usr.Name, Completed: r.Completed, Pending: r.Pending, Total: r.Total})
	}
	for _, usr := range u.Users {
		add(usr)
	}
	// Tasks may be assigned to users outside the division.
	for _, t := range u.Tasks {
		if usr, ok := u.Index.Assignee(t); ok {
			add(usr)
		}
	}
	if a.Unassigned.Total > 0 {
		out = append(out, AssigneeRow{Completed: a.Unassigned.Completed, Pending: a.Unassigned.Pending, Total: a.Unassigned.Total})
	}
	return out
}

// MaterializeDashboard builds the dashboard from a scoped universe.
func MaterializeDashboard(u Universe, a Aggregates) DashboardView {
	return DashboardView{
		Tiles:           Tiles(a),
		GoalsByDivision: DivisionGoalSeries(u, a),
		TasksByDivision: DivisionTaskSeries(u, a),
		StatusCounts:    a.StatusCounts,
		Orphans:         a.Orphans,
	}
}

// MaterializeDivision expects u to be narrowed to divisionID.
func MaterializeDivision(u Universe, a Aggregates, divisionID int64) (DivisionView, error) {
	div, ok := u.Index.Divisions[divisionID]
	if !ok || !containsDivision(u.Divisions, divisionID) {
		return DivisionView{}, ErrDivisionNotFound
	}
	return DivisionView{
		Division:  div,
		Tiles:     Tiles(a),
		Goals:     GoalRows(u.Goals),
		Tasks:     TaskRows(u),
		GoalChart: GoalTaskSeries(u, a),
		Assignees: AssigneeRows(u, a),
	}, nil
}

// MaterializeBlock validates block against the division's blocks.
func MaterializeBlock(u Universe, a Aggregates, divisionID int64, block string) (BlockView, error) {
	dv, err := MaterializeDivision(u, a, divisionID)
	if err != nil {
		return BlockView{}, err
	}
	if !dv.Division.HasBlock(block) {
		return BlockView{}, ErrBlockNotFound
	}
	members := []MemberRow{}
	for _, usr := range u.Users {
		if usr.Block == block {
			members = append(members, MemberRow{ID: usr.ID, Name: usr.Name, Email: usr.Email, Role: usr.Role})
		}
	}
	return BlockView{DivisionView: dv, Block: block, Members: members}, nil
}

func containsDivision(ds []domain.Division, id int64) bool {
	for _, d := range ds {
		if d.ID == id {
			return true
		}
	}
	return false
}
