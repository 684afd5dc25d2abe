package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/law1om/analytics-platform/internal/domain"
)

const goalSelect = `SELECT g.id,g.title,COALESCE(g.description,''),g.target_value,g.current_value,g.deadline,g.progress,
g.division_id,COALESCE(d.name,''),g.created_at,g.updated_at
FROM goals g LEFT JOIN divisions d ON d.id=g.division_id`

type GoalFilters struct {
	DivisionID   *int64
	Search       string
	DeadlineFrom domain.Date
	DeadlineTo   domain.Date
	// OverdueAsOf selects goals below 100% whose deadline is before this date.
	OverdueAsOf domain.Date
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (domain.Goal, error) {
	var g domain.Goal
	var target, current sql.NullFloat64
	var deadline string
	err := row.Scan(&g.ID, &g.Title, &g.Description, &target, &current, &deadline, &g.Progress,
		&g.DivisionID, &g.DivisionName, &g.CreatedAt, &g.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrNotFound
	}
	g.TargetValue = floatPtr(target)
	g.CurrentValue = floatPtr(current)
	g.Deadline = domain.Date(deadline)
	return g, err
}

func (r Repo) InsertGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO goals(title,description,target_value,current_value,deadline,progress,division_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		g.Title, nullable(g.Description), nullableFloatPtr(g.TargetValue), nullableFloatPtr(g.CurrentValue),
		g.Deadline.String(), g.Progress, g.DivisionID, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateGoal(ctx context.Context, tx *sql.Tx, g domain.Goal) error {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET title=?,description=?,target_value=?,current_value=?,deadline=?,progress=?,division_id=?,updated_at=? WHERE id=?`,
		g.Title, nullable(g.Description), nullableFloatPtr(g.TargetValue), nullableFloatPtr(g.CurrentValue),
		g.Deadline.String(), g.Progress, g.DivisionID, g.UpdatedAt, g.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) SetGoalProgress(ctx context.Context, tx *sql.Tx, id int64, progress int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE goals SET progress=?,updated_at=? WHERE id=?`, progress, updatedAt, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) DeleteGoal(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM goals WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetGoal(ctx context.Context, id int64) (domain.Goal, error) {
	return r.GetGoalTx(ctx, nil, id)
}

func (r Repo) GetGoalTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Goal, error) {
	return scanGoal(r.q(tx).QueryRowContext(ctx, goalSelect+` WHERE g.id=?`, id))
}

func (r Repo) ListGoals(ctx context.Context, f GoalFilters) ([]domain.Goal, error) {
	var (
		where []string
		args  []any
	)
	if f.DivisionID != nil {
		where = append(where, "g.division_id=?")
		args = append(args, *f.DivisionID)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		where = append(where, "(g.title LIKE ? OR g.description LIKE ?)")
		args = append(args, "%"+s+"%", "%"+s+"%")
	}
	if !f.DeadlineFrom.IsZero() {
		where = append(where, "g.deadline>=?")
		args = append(args, f.DeadlineFrom.String())
	}
	if !f.DeadlineTo.IsZero() {
		where = append(where, "g.deadline<=?")
		args = append(args, f.DeadlineTo.String())
	}
	if !f.OverdueAsOf.IsZero() {
		where = append(where, "g.deadline<? AND g.progress<100")
		args = append(args, f.OverdueAsOf.String())
	}
	query := goalSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, query+" ORDER BY g.id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Goal{}
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

// TaskProgress returns the progress of every task under a goal.
func (r Repo) TaskProgress(ctx context.Context, tx *sql.Tx, goalID int64) ([]int, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT progress FROM tasks WHERE goal_id=?`, goalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
