package analytics

import (
	"github.com/law1om/analytics-platform/internal/domain"
)

// Actor is the authenticated caller an aggregation runs for.
type Actor struct {
	UserID     int64       `json:"user_id,omitempty"`
	Role       domain.Role `json:"role"`
	DivisionID *int64      `json:"division_id,omitempty"`
}

// IsAdmin reports whether a sees the whole bank.
func (a Actor) IsAdmin() bool { return a.Role == domain.RoleAdmin }

// Universe is the part of a Snapshot an actor may see.
type Universe struct {
	Actor     Actor
	Divisions []domain.Division
	Goals     []domain.Goal
	Tasks     []domain.Task
	Users     []domain.User
	Index     *Index
}

// Scope restricts a snapshot to the actor's authorization scope. Admins see the
// whole snapshot. Employees see their own division, its goals and the tasks that
// resolve to it; an employee without a division, or an unknown role, sees
// nothing. If the employee's division is missing from the snapshot a
// *ScopeError is returned.
func Scope(s Snapshot, ix *Index, a Actor) (Universe, error) {
	u := Universe{Actor: a, Index: ix}
	switch a.Role {
	case domain.RoleAdmin:
		u.Divisions = s.Divisions
		u.Goals = s.Goals
		u.Tasks = s.Tasks
		u.Users = s.Users
		return u, nil
	case domain.RoleEmployee:
	default:
		return u, nil
	}
	if a.DivisionID == nil {
		return u, nil
	}
	div, ok := ix.Divisions[*a.DivisionID]
	if !ok {
		return Universe{}, &ScopeError{DivisionID: *a.DivisionID}
	}
	return narrow(u, s, ix, div), nil
}

// Narrow restricts the universe to one division. It is used by the division and
// block screens after Scope has applied the actor's own restriction.
func (u Universe) Narrow(divisionID int64) (Universe, error) {
	var div domain.Division
	found := false
	for _, d := range u.Divisions {
		if d.ID == divisionID {
			div, found = d, true
			break
		}
	}
	if !found {
		return Universe{}, ErrDivisionNotFound
	}
	s := Snapshot{Divisions: u.Divisions, Goals: u.Goals, Tasks: u.Tasks, Users: u.Users}
	return narrow(Universe{Actor: u.Actor, Index: u.Index}, s, u.Index, div), nil
}

func narrow(u Universe, s Snapshot, ix *Index, div domain.Division) Universe {
	u.Divisions = []domain.Division{div}
	for _, g := range s.Goals {
		if g.DivisionID == div.ID {
			u.Goals = append(u.Goals, g)
		}
	}
	for _, t := range s.Tasks {
		if d, ok := ix.TaskDivision[t.ID]; ok && d == div.ID {
			u.Tasks = append(u.Tasks, t)
		}
	}
	for _, usr := range s.Users {
		if usr.DivisionID != nil && *usr.DivisionID == div.ID {
			u.Users = append(u.Users, usr)
		}
	}
	return u
}
