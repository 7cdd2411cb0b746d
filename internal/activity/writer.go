// Package activity persists the append-only audit trail. The writer is used
// inside the same transaction as the entity mutation, so the audit-of-record
// is never missing for a committed change.
package activity

import (
	"context"
	"database/sql"

	"deskline/internal/domain"
)

type Writer struct{}

// Append inserts one activity row. Ids are deterministic per event, so a
// replayed dispatch is a no-op rather than a duplicate audit line.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, a domain.Activity) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO activities(id,type,action,target,user_id,details,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.Type, a.Action, nullable(a.Target), a.UserID, nullable(a.Details), a.CreatedAt)
	return err
}

// AppendAll inserts a batch in order.
func (w Writer) AppendAll(ctx context.Context, tx *sql.Tx, items []domain.Activity) error {
	for _, a := range items {
		if err := w.Append(ctx, tx, a); err != nil {
			return err
		}
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
