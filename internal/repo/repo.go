// Package repo is the store boundary. The engine hands it snapshots to
// persist; it owns identity, not rules. Concurrent writers are serialized via
// the versioned update helpers, which reject stale snapshots with ErrConflict.
package repo

import (
	"context"
	"database/sql"
	"errors"

	"deskline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict means the caller's snapshot went stale between read and
	// write. Recoverable: re-fetch and retry.
	ErrConflict = errors.New("stale snapshot, re-fetch and retry")
)

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO users(id,name,email,role,is_active,can_approve_billing,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.Name, nullable(u.Email), string(u.Role), boolInt(u.IsActive), boolInt(u.CanApproveBilling), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,name,COALESCE(email,''),role,is_active,can_approve_billing,created_at,updated_at FROM users WHERE id=?`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (domain.User, error) {
	var u domain.User
	var role string
	var active, billing int
	err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &active, &billing, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.Role = domain.Role(role)
	u.IsActive = active != 0
	u.CanApproveBilling = billing != 0
	return u, nil
}

func (r Repo) ListUsers(ctx context.Context, role domain.Role) ([]domain.User, error) {
	query := `SELECT id,name,COALESCE(email,''),role,is_active,can_approve_billing,created_at,updated_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, string(role))
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		var u domain.User
		var roleStr string
		var active, billing int
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &roleStr, &active, &billing, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		u.Role = domain.Role(roleStr)
		u.IsActive = active != 0
		u.CanApproveBilling = billing != 0
		res = append(res, u)
	}
	return res, rows.Err()
}

// UpdateUser overwrites the mutable user fields, guarded by the snapshot's
// previous updated_at.
func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User, expectedUpdatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE users SET name=?,email=?,role=?,is_active=?,can_approve_billing=?,updated_at=? WHERE id=? AND updated_at=?`,
		u.Name, nullable(u.Email), string(u.Role), boolInt(u.IsActive), boolInt(u.CanApproveBilling), u.UpdatedAt, u.ID, expectedUpdatedAt)
	if err != nil {
		return err
	}
	return affectedOrConflict(ctx, res, tx, `SELECT 1 FROM users WHERE id=?`, u.ID)
}

func (r Repo) DeleteUser(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// affectedOrConflict distinguishes "row gone" from "row moved on": a zero
// affected count is ErrNotFound when the id is absent, ErrConflict otherwise.
func affectedOrConflict(ctx context.Context, res sql.Result, tx *sql.Tx, existsQuery string, id string) error {
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	var one int
	err := tx.QueryRowContext(ctx, existsQuery, id).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
