package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/law1om/analytics-platform/internal/domain"
)

const taskSelect = `SELECT t.id,t.title,COALESCE(t.description,''),COALESCE(t.expected_result,''),COALESCE(t.actual_result,''),
t.progress,COALESCE(t.impact,''),t.status,COALESCE(t.start_date,''),COALESCE(t.end_date,''),
t.goal_id,COALESCE(g.title,''),t.user_id,COALESCE(u.name,''),t.created_at,t.updated_at
FROM tasks t LEFT JOIN goals g ON g.id=t.goal_id LEFT JOIN users u ON u.id=t.user_id`

type TaskFilters struct {
	GoalID     *int64
	UserID     *int64
	DivisionID *int64
	Status     domain.TaskStatus
}

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var status, start, end string
	var userID sql.NullInt64
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.ExpectedResult, &t.ActualResult,
		&t.Progress, &t.Impact, &status, &start, &end,
		&t.GoalID, &t.GoalTitle, &userID, &t.UserName, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	t.Status = domain.TaskStatus(status)
	t.StartDate = domain.Date(start)
	t.EndDate = domain.Date(end)
	t.UserID = int64Ptr(userID)
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(title,description,expected_result,actual_result,progress,impact,status,start_date,end_date,goal_id,user_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.Title, nullable(t.Description), nullable(t.ExpectedResult), nullable(t.ActualResult), t.Progress,
		nullable(t.Impact), string(t.Status), nullable(t.StartDate.String()), nullable(t.EndDate.String()),
		t.GoalID, nullableInt64Ptr(t.UserID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?,description=?,expected_result=?,actual_result=?,progress=?,impact=?,status=?,start_date=?,end_date=?,goal_id=?,user_id=?,updated_at=? WHERE id=?`,
		t.Title, nullable(t.Description), nullable(t.ExpectedResult), nullable(t.ActualResult), t.Progress,
		nullable(t.Impact), string(t.Status), nullable(t.StartDate.String()), nullable(t.EndDate.String()),
		t.GoalID, nullableInt64Ptr(t.UserID), t.UpdatedAt, t.ID)
	return affectedOrNotFound(res, err)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return r.GetTaskTx(ctx, nil, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, taskSelect+` WHERE t.id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	var (
		where []string
		args  []any
	)
	if f.GoalID != nil {
		where = append(where, "t.goal_id=?")
		args = append(args, *f.GoalID)
	}
	if f.UserID != nil {
		where = append(where, "t.user_id=?")
		args = append(args, *f.UserID)
	}
	if f.DivisionID != nil {
		where = append(where, "g.division_id=?")
		args = append(args, *f.DivisionID)
	}
	if f.Status != "" {
		where = append(where, "t.status=?")
		args = append(args, string(f.Status))
	}
	query := taskSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, query+" ORDER BY t.id", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
