package repo

import (
	"context"
	"database/sql"
	"strings"

	"deskline/internal/domain"
)

// InsertNotification writes one notification row. Ids are deterministic per
// lifecycle event, so at-least-once dispatch cannot fan out duplicates.
func (r Repo) InsertNotification(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO notifications(id,title,content,is_read,sent_by_id,sent_to_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		n.ID, n.Title, n.Content, boolInt(n.IsRead), n.SentByID, n.SentToID, n.CreatedAt)
	return err
}

func (r Repo) GetNotification(ctx context.Context, id string) (domain.Notification, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,title,content,is_read,sent_by_id,sent_to_id,created_at FROM notifications WHERE id=?`, id)
	var n domain.Notification
	var read int
	err := row.Scan(&n.ID, &n.Title, &n.Content, &read, &n.SentByID, &n.SentToID, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	n.IsRead = read != 0
	return n, nil
}

func (r Repo) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	clauses := []string{"sent_to_id=?"}
	args := []any{recipientID}
	if unreadOnly {
		clauses = append(clauses, "is_read=0")
	}
	query := `SELECT id,title,content,is_read,sent_by_id,sent_to_id,created_at FROM notifications WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var read int
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &read, &n.SentByID, &n.SentToID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.IsRead = read != 0
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead is recipient-scoped: a notification can only be marked
// read by the user it was sent to.
func (r Repo) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE notifications SET is_read=1 WHERE id=? AND sent_to_id=?`, id, recipientID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNotificationsFor bulk-deletes a recipient's notifications and returns
// how many rows went away.
func (r Repo) DeleteNotificationsFor(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE sent_to_id=?`, recipientID)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r Repo) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE sent_to_id=? AND is_read=0`, recipientID).Scan(&n)
	return n, err
}
