package repo

import (
	"context"
	"strings"

	"deskline/internal/domain"
)

// ActivityRecord pairs an activity with its insertion sequence (the sqlite
// rowid), which webhook cursors advance over.
type ActivityRecord struct {
	Seq int64 `json:"seq"`
	domain.Activity
}

// LatestActivities returns the newest activities first, optionally filtered.
func (r Repo) LatestActivities(ctx context.Context, limit int, typ, action, target string) ([]ActivityRecord, error) {
	clauses := []string{"1=1"}
	var args []any
	if typ != "" {
		clauses = append(clauses, "type=?")
		args = append(args, typ)
	}
	if action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, action)
	}
	if target != "" {
		clauses = append(clauses, "target=?")
		args = append(args, target)
	}
	query := `SELECT rowid,id,type,action,COALESCE(target,''),user_id,COALESCE(details,''),created_at FROM activities WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ActivityRecord
	for rows.Next() {
		var a ActivityRecord
		if err := rows.Scan(&a.Seq, &a.ID, &a.Type, &a.Action, &a.Target, &a.UserID, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActivitiesAfter returns activities inserted after the cursor, oldest first.
func (r Repo) ActivitiesAfter(ctx context.Context, limit int, cursor int64) ([]ActivityRecord, error) {
	query := `SELECT rowid,id,type,action,COALESCE(target,''),user_id,COALESCE(details,''),created_at FROM activities WHERE rowid > ? ORDER BY rowid ASC`
	args := []any{cursor}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ActivityRecord
	for rows.Next() {
		var a ActivityRecord
		if err := rows.Scan(&a.Seq, &a.ID, &a.Type, &a.Action, &a.Target, &a.UserID, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// LatestActivitySeq returns the newest insertion sequence, or zero when the
// trail is empty.
func (r Repo) LatestActivitySeq(ctx context.Context) (int64, error) {
	var seq int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(rowid),0) FROM activities`).Scan(&seq)
	return seq, err
}
