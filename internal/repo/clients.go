package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"deskline/internal/domain"
)

const clientColumns = `id,contact_person,COALESCE(company_name,''),COALESCE(email,''),COALESCE(phone,''),is_guest,access_expiry,manager_id,created_at,updated_at`

func (r Repo) InsertClient(ctx context.Context, tx *sql.Tx, c domain.Client) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO clients(id,contact_person,company_name,email,phone,is_guest,access_expiry,manager_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.ContactPerson, nullable(c.CompanyName), nullable(c.Email), nullable(c.Phone),
		boolInt(c.IsGuest), nullableStringPtr(c.AccessExpiry), c.ManagerID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id=?`, id)
	var c domain.Client
	var guest int
	var expiry sql.NullString
	err := row.Scan(&c.ID, &c.ContactPerson, &c.CompanyName, &c.Email, &c.Phone, &guest, &expiry, &c.ManagerID, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.IsGuest = guest != 0
	if expiry.Valid {
		v := expiry.String
		c.AccessExpiry = &v
	}
	return c, nil
}

// ClientFilters narrows ListClients. Cursor pagination follows
// (created_at, id) descending.
type ClientFilters struct {
	ManagerID       string
	GuestOnly       bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListClients(ctx context.Context, f ClientFilters) ([]domain.Client, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ManagerID != "" {
		clauses = append(clauses, "manager_id=?")
		args = append(args, f.ManagerID)
	}
	if f.GuestOnly {
		clauses = append(clauses, "is_guest=1")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + clientColumns + ` FROM clients WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClients(rows)
}

func collectClients(rows *sql.Rows) ([]domain.Client, error) {
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		var guest int
		var expiry sql.NullString
		if err := rows.Scan(&c.ID, &c.ContactPerson, &c.CompanyName, &c.Email, &c.Phone, &guest, &expiry, &c.ManagerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		c.IsGuest = guest != 0
		if expiry.Valid {
			v := expiry.String
			c.AccessExpiry = &v
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateClient overwrites the mutable client fields, guarded by the
// snapshot's previous updated_at.
func (r Repo) UpdateClient(ctx context.Context, tx *sql.Tx, c domain.Client, expectedUpdatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE clients SET contact_person=?,company_name=?,email=?,phone=?,is_guest=?,access_expiry=?,manager_id=?,updated_at=? WHERE id=? AND updated_at=?`,
		c.ContactPerson, nullable(c.CompanyName), nullable(c.Email), nullable(c.Phone),
		boolInt(c.IsGuest), nullableStringPtr(c.AccessExpiry), c.ManagerID, c.UpdatedAt, c.ID, expectedUpdatedAt)
	if err != nil {
		return err
	}
	return affectedOrConflict(ctx, res, tx, `SELECT 1 FROM clients WHERE id=?`, c.ID)
}

func (r Repo) DeleteClient(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpiredGuests returns guest clients whose access expiry has passed. Used
// only by the expiry scanner.
func (r Repo) ExpiredGuests(ctx context.Context, now time.Time) ([]domain.Client, error) {
	cutoff := now.UTC().Format(time.RFC3339)
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE is_guest=1 AND access_expiry IS NOT NULL AND access_expiry < ? ORDER BY access_expiry ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectClients(rows)
}
