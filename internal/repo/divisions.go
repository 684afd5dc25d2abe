package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/law1om/analytics-platform/internal/domain"
)

const divisionColumns = `id,name,COALESCE(description,''),created_at,updated_at`

func (r Repo) InsertDivision(ctx context.Context, tx *sql.Tx, d domain.Division) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO divisions(name,description,created_at,updated_at) VALUES (?,?,?,?)`,
		d.Name, nullable(d.Description), d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return 0, mapConstraint(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if err := r.replaceBlocks(ctx, tx, id, d.Blocks); err != nil {
		return 0, err
	}
	return id, nil
}

func (r Repo) UpdateDivision(ctx context.Context, tx *sql.Tx, d domain.Division) error {
	res, err := tx.ExecContext(ctx, `UPDATE divisions SET name=?,description=?,updated_at=? WHERE id=?`,
		d.Name, nullable(d.Description), d.UpdatedAt, d.ID)
	if err := affectedOrNotFound(res, mapConstraint(err)); err != nil {
		return err
	}
	return r.replaceBlocks(ctx, tx, d.ID, d.Blocks)
}

func (r Repo) DeleteDivision(ctx context.Context, tx *sql.Tx, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM divisions WHERE id=?`, id)
	return affectedOrNotFound(res, err)
}

func (r Repo) replaceBlocks(ctx context.Context, tx *sql.Tx, divisionID int64, blocks []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM division_blocks WHERE division_id=?`, divisionID); err != nil {
		return err
	}
	for i, b := range blocks {
		if _, err := tx.ExecContext(ctx, `INSERT INTO division_blocks(division_id,position,name) VALUES (?,?,?)`, divisionID, i, b); err != nil {
			return fmt.Errorf("insert block %q: %w", b, mapConstraint(err))
		}
	}
	return nil
}

func (r Repo) GetDivision(ctx context.Context, id int64) (domain.Division, error) {
	return r.GetDivisionTx(ctx, nil, id)
}

func (r Repo) GetDivisionTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Division, error) {
	q := r.q(tx)
	var d domain.Division
	err := q.QueryRowContext(ctx, `SELECT `+divisionColumns+` FROM divisions WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}
	blocks, err := r.loadBlocks(ctx, q, &id)
	if err != nil {
		return d, err
	}
	d.Blocks = blocks[id]
	if d.Blocks == nil {
		d.Blocks = []string{}
	}
	return d, nil
}

// ListDivisions returns divisions ordered by id with their blocks in position order.
func (r Repo) ListDivisions(ctx context.Context) ([]domain.Division, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+divisionColumns+` FROM divisions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Division{}
	for rows.Next() {
		var d domain.Division
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	blocks, err := r.loadBlocks(ctx, r.DB, nil)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Blocks = blocks[res[i].ID]
		if res[i].Blocks == nil {
			res[i].Blocks = []string{}
		}
	}
	return res, nil
}

func (r Repo) loadBlocks(ctx context.Context, q queryer, divisionID *int64) (map[int64][]string, error) {
	query := `SELECT division_id,name FROM division_blocks`
	var args []any
	if divisionID != nil {
		query += ` WHERE division_id=?`
		args = append(args, *divisionID)
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY division_id,position`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[int64][]string{}
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = append(out[id], name)
	}
	return out, rows.Err()
}

// DivisionReferences counts goals and users that point at a division.
func (r Repo) DivisionReferences(ctx context.Context, tx *sql.Tx, id int64) (goals, users int, err error) {
	q := r.q(tx)
	if err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM goals WHERE division_id=?`, id).Scan(&goals); err != nil {
		return 0, 0, err
	}
	if err = q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE division_id=?`, id).Scan(&users); err != nil {
		return 0, 0, err
	}
	return goals, users, nil
}

func (r Repo) DivisionByName(ctx context.Context, tx *sql.Tx, name string) (domain.Division, error) {
	var id int64
	err := r.q(tx).QueryRowContext(ctx, `SELECT id FROM divisions WHERE name=?`, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Division{}, ErrNotFound
	}
	if err != nil {
		return domain.Division{}, err
	}
	return r.GetDivisionTx(ctx, tx, id)
}
