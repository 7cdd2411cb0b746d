package repo

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"deskline/internal/domain"
)

const taskColumns = `id,title,COALESCE(description,''),status,priority,billing_status,due_date,billing_date,scheduled_deletion_date,assigned_by_id,client_id,created_at,updated_at`

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO tasks(id,title,description,status,priority,billing_status,due_date,billing_date,scheduled_deletion_date,assigned_by_id,client_id,created_at,updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullable(t.Description), string(t.Status), string(t.Priority), string(t.BillingStatus),
		nullableStringPtr(t.DueDate), nullableStringPtr(t.BillingDate), nullableStringPtr(t.ScheduledDeletionDate),
		t.AssignedByID, nullableStringPtr(t.ClientID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return err
	}
	return r.replaceAssignees(ctx, tx, t.ID, t.Assignees)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	t, err := scanTask(row)
	if err != nil {
		return t, err
	}
	t.Assignees, err = r.TaskAssignees(ctx, id)
	return t, err
}

type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(row taskScanner) (domain.Task, error) {
	var t domain.Task
	var status, priority, billing string
	var due, billedAt, deleteAt, clientID sql.NullString
	err := row.Scan(&t.ID, &t.Title, &t.Description, &status, &priority, &billing,
		&due, &billedAt, &deleteAt, &t.AssignedByID, &clientID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	t.Priority = domain.Priority(priority)
	t.BillingStatus = domain.BillingStatus(billing)
	t.DueDate = nullStringPtr(due)
	t.BillingDate = nullStringPtr(billedAt)
	t.ScheduledDeletionDate = nullStringPtr(deleteAt)
	t.ClientID = nullStringPtr(clientID)
	return t, nil
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// TaskFilters narrows ListTasks. Cursor pagination follows (created_at, id)
// descending.
type TaskFilters struct {
	Status       domain.TaskStatus
	AssigneeID   string
	AssignedByID string
	ClientID     string

	// InvolvedUserID matches tasks the user is assigned to or created.
	// Used to scope staff listings; combines with the other filters.
	InvolvedUserID string

	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, string(f.Status))
	}
	if f.AssignedByID != "" {
		clauses = append(clauses, "t.assigned_by_id=?")
		args = append(args, f.AssignedByID)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "t.client_id=?")
		args = append(args, f.ClientID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM task_assignees ta WHERE ta.task_id=t.id AND ta.user_id=?)")
		args = append(args, f.AssigneeID)
	}
	if f.InvolvedUserID != "" {
		clauses = append(clauses, "(t.assigned_by_id=? OR EXISTS (SELECT 1 FROM task_assignees ta WHERE ta.task_id=t.id AND ta.user_id=?))")
		args = append(args, f.InvolvedUserID, f.InvolvedUserID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(t.created_at < ? OR (t.created_at = ? AND t.id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY t.created_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].Assignees, err = r.TaskAssignees(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateTask persists a transitioned snapshot, guarded by the snapshot's
// previous updated_at so two concurrent writers cannot both win.
func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task, expectedUpdatedAt string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET title=?,description=?,status=?,priority=?,billing_status=?,due_date=?,billing_date=?,scheduled_deletion_date=?,client_id=?,updated_at=?
		 WHERE id=? AND updated_at=?`,
		t.Title, nullable(t.Description), string(t.Status), string(t.Priority), string(t.BillingStatus),
		nullableStringPtr(t.DueDate), nullableStringPtr(t.BillingDate), nullableStringPtr(t.ScheduledDeletionDate),
		nullableStringPtr(t.ClientID), t.UpdatedAt, t.ID, expectedUpdatedAt)
	if err != nil {
		return err
	}
	if err := affectedOrConflict(ctx, res, tx, `SELECT 1 FROM tasks WHERE id=?`, t.ID); err != nil {
		return err
	}
	return r.replaceAssignees(ctx, tx, t.ID, t.Assignees)
}

func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TaskAssignees(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT user_id FROM task_assignees WHERE task_id=?`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	sort.Strings(res)
	return res, rows.Err()
}

func (r Repo) replaceAssignees(ctx context.Context, tx *sql.Tx, taskID string, assignees []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_assignees WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for _, userID := range assignees {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id,user_id) VALUES (?,?)`, taskID, userID); err != nil {
			return err
		}
	}
	return nil
}

// TasksPastDeletion returns tasks whose scheduled deletion date has passed.
// Used only by the expiry scanner.
func (r Repo) TasksPastDeletion(ctx context.Context, now time.Time) ([]domain.Task, error) {
	cutoff := now.UTC().Format(time.RFC3339)
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE scheduled_deletion_date IS NOT NULL AND scheduled_deletion_date <= ? ORDER BY scheduled_deletion_date ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
