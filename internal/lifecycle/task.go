// Package lifecycle holds the pure state machines for tasks and clients.
// Machines take a snapshot and a request and return a new snapshot plus the
// events the caller must dispatch; they never touch the store.
package lifecycle

import (
	"time"

	"deskline/internal/domain"
)

// DefaultRetention is how long a billed task is kept before it becomes
// eligible for scheduled deletion.
const DefaultRetention = 90 * 24 * time.Hour

// TaskRules applies status, billing and assignment transitions.
type TaskRules struct {
	// Retention is the window between billing a task and its scheduled
	// deletion date. Zero means DefaultRetention.
	Retention time.Duration
}

// TransitionRequest describes the changes one call asks for. Nil fields are
// left untouched; a non-nil Assignees replaces the whole set.
type TransitionRequest struct {
	Status    *domain.TaskStatus
	Billing   *domain.BillingStatus
	Assignees []string
}

// statusRank orders the forward path. Cancellation is handled separately.
var statusRank = map[domain.TaskStatus]int{
	domain.TaskPending:    0,
	domain.TaskInProgress: 1,
	domain.TaskReview:     2,
	domain.TaskCompleted:  3,
}

// Transition validates and applies the request to a task snapshot. The caller
// is expected to have passed the policy gate already; the machine enforces
// only state rules. It returns the new snapshot and the lifecycle events the
// transition requires.
func (r TaskRules) Transition(task domain.Task, req TransitionRequest, actor domain.Claim, now time.Time) (domain.Task, []Event, error) {
	next := task
	next.Assignees = append([]string(nil), task.Assignees...)
	ts := now.UTC().Format(time.RFC3339)
	var events []Event

	if req.Status != nil && *req.Status != task.Status {
		if err := checkStatusMove(task.Status, *req.Status); err != nil {
			return task, nil, err
		}
		next.Status = *req.Status
		events = append(events, Event{
			Kind:       TaskStatusChanged,
			Actor:      actor,
			OccurredAt: ts,
			FromStatus: task.Status,
			ToStatus:   next.Status,
		})
	}

	if req.Assignees != nil {
		added, removed := diffAssignees(task.Assignees, req.Assignees)
		if len(req.Assignees) == 0 && next.Status != domain.TaskCancelled {
			return task, nil, NoAssigneeError{TaskID: task.ID}
		}
		next.Assignees = append([]string(nil), req.Assignees...)
		if len(added) > 0 || len(removed) > 0 {
			events = append(events, Event{
				Kind:             TaskReassigned,
				Actor:            actor,
				OccurredAt:       ts,
				AddedAssignees:   added,
				RemovedAssignees: removed,
			})
		}
	}

	if req.Billing != nil && *req.Billing != task.BillingStatus {
		// Billing is evaluated against the snapshot after any status
		// change in the same request, so complete-and-bill in one call
		// behaves the same as two calls.
		if err := checkBillingMove(next.Status, task.BillingStatus, *req.Billing); err != nil {
			return task, nil, err
		}
		next.BillingStatus = *req.Billing
		if *req.Billing == domain.BillingBilled {
			// Derived fields: the caller never supplies these.
			billedAt := ts
			deleteAt := now.UTC().Add(r.retention()).Format(time.RFC3339)
			next.BillingDate = &billedAt
			next.ScheduledDeletionDate = &deleteAt
		}
		events = append(events, Event{
			Kind:        TaskBillingChanged,
			Actor:       actor,
			OccurredAt:  ts,
			FromBilling: task.BillingStatus,
			ToBilling:   next.BillingStatus,
		})
	}

	if len(events) == 0 {
		return task, nil, nil
	}
	next.UpdatedAt = ts
	for i := range events {
		snapshot := next
		events[i].Task = &snapshot
	}
	return next, events, nil
}

func (r TaskRules) retention() time.Duration {
	if r.Retention > 0 {
		return r.Retention
	}
	return DefaultRetention
}

// checkStatusMove enforces the adjacency rules: free forward movement along
// pending -> in_progress -> review -> completed, cancellation from any
// non-completed state, and no exit from a terminal state.
func checkStatusMove(from, to domain.TaskStatus) error {
	if !to.Known() {
		return TransitionError{From: from, To: to}
	}
	if from.Terminal() {
		return TransitionError{From: from, To: to}
	}
	if to == domain.TaskCancelled {
		return nil
	}
	fromRank, ok := statusRank[from]
	if !ok {
		return TransitionError{From: from, To: to}
	}
	toRank, ok := statusRank[to]
	if !ok {
		return TransitionError{From: from, To: to}
	}
	if toRank <= fromRank {
		return TransitionError{From: from, To: to}
	}
	return nil
}

// checkBillingMove gates the billing sub-machine on a completed task and
// forbids skips and regressions in pending_billing -> billed -> paid.
func checkBillingMove(status domain.TaskStatus, from, to domain.BillingStatus) error {
	if status != domain.TaskCompleted {
		return BillingError{From: from, To: to, Status: status}
	}
	ok := (from == domain.BillingPending && to == domain.BillingBilled) ||
		(from == domain.BillingBilled && to == domain.BillingPaid)
	if !ok {
		return BillingError{From: from, To: to, Status: status}
	}
	return nil
}

func diffAssignees(current, proposed []string) (added, removed []string) {
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	want := make(map[string]bool, len(proposed))
	for _, id := range proposed {
		want[id] = true
		if !have[id] {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if !want[id] {
			removed = append(removed, id)
		}
	}
	return added, removed
}
