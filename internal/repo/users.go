package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/law1om/analytics-platform/internal/domain"
)

const userSelect = `SELECT u.id,u.name,u.email,u.role,u.division_id,COALESCE(d.name,''),COALESCE(u.block,''),u.created_at
FROM users u LEFT JOIN divisions d ON d.id=u.division_id`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var role string
	var div sql.NullInt64
	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &div, &u.DivisionName, &u.Block, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	u.Role = domain.Role(role)
	u.DivisionID = int64Ptr(div)
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User, passwordHash string) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(name,email,password_hash,role,division_id,block,created_at) VALUES (?,?,?,?,?,?,?)`,
		u.Name, u.Email, passwordHash, string(u.Role), nullableInt64Ptr(u.DivisionID), nullable(u.Block), u.CreatedAt)
	if err != nil {
		return 0, mapConstraint(err)
	}
	return res.LastInsertId()
}

func (r Repo) GetUser(ctx context.Context, id int64) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, userSelect+` WHERE u.id=?`, id))
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, userSelect+` WHERE u.id=?`, id))
}

// UserCredentials returns the user with the given email and its password hash.
func (r Repo) UserCredentials(ctx context.Context, email string) (domain.User, string, error) {
	var hash string
	err := r.DB.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE email=?`, email).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, "", ErrNotFound
	}
	if err != nil {
		return domain.User{}, "", err
	}
	u, err := scanUser(r.DB.QueryRowContext(ctx, userSelect+` WHERE u.email=?`, email))
	return u, hash, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, userSelect+` ORDER BY u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r Repo) UserByEmail(ctx context.Context, tx *sql.Tx, email string) (domain.User, error) {
	return scanUser(r.q(tx).QueryRowContext(ctx, userSelect+` WHERE u.email=?`, email))
}
