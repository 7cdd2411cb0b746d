package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"deskline/internal/domain"
	"deskline/internal/lifecycle"
	"deskline/internal/policy"
	"deskline/internal/repo"
)

// CreateTaskOptions is the creation request. Priority defaults to medium.
type CreateTaskOptions struct {
	ID          string
	Title       string
	Description string
	Priority    domain.Priority
	DueDate     *string
	ClientID    *string
	Assignees   []string
}

// CreateTask validates and persists a new task in pending status. The initial
// assignment is dispatched like any reassignment, so assignees are notified
// from the moment the task exists.
func (e *Engine) CreateTask(ctx context.Context, opts CreateTaskOptions, actor domain.Claim) (domain.Task, error) {
	decision, err := e.authorize(actor, policy.CreateTask, policy.Subject{Kind: policy.SubjectTask})
	if err != nil {
		return domain.Task{}, err
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, lifecycle.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.Priority == "" {
		opts.Priority = domain.PriorityMedium
	}
	if !opts.Priority.Known() {
		return domain.Task{}, lifecycle.ValidationError{Field: "priority", Reason: "must be low, medium or high"}
	}
	if len(opts.Assignees) == 0 {
		return domain.Task{}, lifecycle.ValidationError{Field: "assignees", Reason: "at least one assignee is required"}
	}
	if opts.DueDate != nil && *opts.DueDate != "" {
		if _, err := time.Parse(time.RFC3339, *opts.DueDate); err != nil {
			return domain.Task{}, lifecycle.ValidationError{Field: "due_date", Reason: "must be RFC3339"}
		}
	}
	if opts.ClientID != nil && *opts.ClientID != "" {
		if _, err := e.Repo.GetClient(ctx, *opts.ClientID); err != nil {
			return domain.Task{}, err
		}
	} else {
		opts.ClientID = nil
	}

	ts := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = newID("task", title, actor.ID, ts)
	}
	task := domain.Task{
		ID:            id,
		Title:         title,
		Description:   strings.TrimSpace(opts.Description),
		Status:        domain.TaskPending,
		Priority:      opts.Priority,
		BillingStatus: domain.BillingPending,
		DueDate:       opts.DueDate,
		AssignedByID:  actor.ID,
		ClientID:      opts.ClientID,
		Assignees:     append([]string(nil), opts.Assignees...),
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	snapshot := task
	events := []lifecycle.Event{{
		Kind:           lifecycle.TaskReassigned,
		Actor:          actor,
		OccurredAt:     ts,
		Decision:       decision.Rule,
		Task:           &snapshot,
		AddedAssignees: task.Assignees,
	}}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertTask(ctx, tx, task); err != nil {
			return err
		}
		return e.applyEffects(ctx, tx, events)
	})
	if err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// ApplyTaskTransition gates and applies a status, billing or assignment
// change to the snapshot the caller read. A stale snapshot is rejected by the
// store with ErrConflict; callers re-fetch and retry.
func (e *Engine) ApplyTaskTransition(ctx context.Context, task domain.Task, req lifecycle.TransitionRequest, actor domain.Claim) (domain.Task, error) {
	subject := taskSubject(task)
	rules := map[lifecycle.EventKind]string{}
	if req.Status != nil {
		d, err := e.authorize(actor, policy.UpdateTaskStatus, subject)
		if err != nil {
			return task, err
		}
		rules[lifecycle.TaskStatusChanged] = d.Rule
	}
	if req.Assignees != nil {
		d, err := e.authorize(actor, policy.ReassignTask, subject)
		if err != nil {
			return task, err
		}
		rules[lifecycle.TaskReassigned] = d.Rule
	}
	if req.Billing != nil {
		d, err := e.authorize(actor, policy.ApproveBilling, subject)
		if err != nil {
			return task, err
		}
		rules[lifecycle.TaskBillingChanged] = d.Rule
	}

	next, events, err := e.taskRules().Transition(task, req, actor, e.now())
	if err != nil {
		return task, err
	}
	if len(events) == 0 {
		return task, nil
	}
	for i := range events {
		events[i].Decision = rules[events[i].Kind]
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateTask(ctx, tx, next, task.UpdatedAt); err != nil {
			return err
		}
		return e.applyEffects(ctx, tx, events)
	})
	if err != nil {
		return task, err
	}
	return next, nil
}

// GetTask fetches a task the actor may view.
func (e *Engine) GetTask(ctx context.Context, id string, actor domain.Claim) (domain.Task, error) {
	task, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.authorize(actor, policy.ViewEntity, taskSubject(task)); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// ListTasks scopes the filter set to what the actor may view before querying:
// staff below partner see tasks they work on or created, client accounts see
// only their own client's tasks.
func (e *Engine) ListTasks(ctx context.Context, f repo.TaskFilters, actor domain.Claim) ([]domain.Task, error) {
	switch {
	case actor.Role == domain.RoleAdmin, actor.Role == domain.RolePartner, actor.Role == domain.RoleSystem:
		// Unscoped.
	case actor.Role.Client():
		f.ClientID = actor.ID
	case actor.Role.Staff():
		// Same visibility as the view policy: assignee or creator.
		f.InvolvedUserID = actor.ID
	default:
		return nil, &policy.DeniedError{Action: policy.ViewEntity, Decision: policy.Resolve(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectTask})}
	}
	if !actor.IsActive {
		return nil, &policy.DeniedError{Action: policy.ViewEntity, Decision: policy.Resolve(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectTask})}
	}
	return e.Repo.ListTasks(ctx, f)
}

// DeleteTask removes a task immediately. Only full-access roles pass the
// gate; retention-driven deletion goes through the scanner instead.
func (e *Engine) DeleteTask(ctx context.Context, id string, actor domain.Claim) error {
	task, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if _, err := e.authorize(actor, policy.DeleteTask, taskSubject(task)); err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Repo.DeleteTask(ctx, tx, id)
	})
}
