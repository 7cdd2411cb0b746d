package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"deskline/internal/domain"
	"deskline/internal/lifecycle"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func actor() domain.Claim {
	return domain.Claim{ID: "u1", Role: domain.RoleAdmin, IsActive: true}
}

func baseTask() domain.Task {
	return domain.Task{
		ID:            "t1",
		Title:         "Quarterly filing",
		Status:        domain.TaskPending,
		Priority:      domain.PriorityMedium,
		BillingStatus: domain.BillingPending,
		AssignedByID:  "boss",
		Assignees:     []string{"u1"},
		CreatedAt:     "2024-05-01T00:00:00Z",
		UpdatedAt:     "2024-05-01T00:00:00Z",
	}
}

func status(s domain.TaskStatus) *domain.TaskStatus { return &s }

func billing(b domain.BillingStatus) *domain.BillingStatus { return &b }

func TestStatusForwardPath(t *testing.T) {
	rules := lifecycle.TaskRules{}
	task := baseTask()
	for _, next := range []domain.TaskStatus{domain.TaskInProgress, domain.TaskReview, domain.TaskCompleted} {
		moved, events, err := rules.Transition(task, lifecycle.TransitionRequest{Status: status(next)}, actor(), testNow)
		if err != nil {
			t.Fatalf("to %s: %v", next, err)
		}
		if moved.Status != next {
			t.Fatalf("to %s: got %s", next, moved.Status)
		}
		if len(events) != 1 || events[0].Kind != lifecycle.TaskStatusChanged {
			t.Fatalf("to %s: expected one status event, got %+v", next, events)
		}
		task = moved
	}
}

func TestStatusSkipsAllowedBackwardsRejected(t *testing.T) {
	rules := lifecycle.TaskRules{}
	task := baseTask()

	// Skipping forward stages is fine.
	moved, _, err := rules.Transition(task, lifecycle.TransitionRequest{Status: status(domain.TaskCompleted)}, actor(), testNow)
	if err != nil || moved.Status != domain.TaskCompleted {
		t.Fatalf("pending -> completed should skip: %v", err)
	}

	task = baseTask()
	task.Status = domain.TaskReview
	_, _, err = rules.Transition(task, lifecycle.TransitionRequest{Status: status(domain.TaskInProgress)}, actor(), testNow)
	var te lifecycle.TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("review -> in_progress should fail, got %v", err)
	}
}

func TestCancellationAndTerminalLock(t *testing.T) {
	rules := lifecycle.TaskRules{}
	for _, from := range []domain.TaskStatus{domain.TaskPending, domain.TaskInProgress, domain.TaskReview} {
		task := baseTask()
		task.Status = from
		moved, _, err := rules.Transition(task, lifecycle.TransitionRequest{Status: status(domain.TaskCancelled)}, actor(), testNow)
		if err != nil || moved.Status != domain.TaskCancelled {
			t.Fatalf("%s -> cancelled: %v", from, err)
		}
	}
	for _, from := range []domain.TaskStatus{domain.TaskCompleted, domain.TaskCancelled} {
		task := baseTask()
		task.Status = from
		_, _, err := rules.Transition(task, lifecycle.TransitionRequest{Status: status(domain.TaskPending)}, actor(), testNow)
		if err == nil {
			t.Fatalf("%s is terminal, expected rejection", from)
		}
	}
	// Completed tasks cannot even be cancelled.
	task := baseTask()
	task.Status = domain.TaskCompleted
	if _, _, err := rules.Transition(task, lifecycle.TransitionRequest{Status: status(domain.TaskCancelled)}, actor(), testNow); err == nil {
		t.Fatalf("completed -> cancelled should fail")
	}
}

func TestBillingRequiresCompleted(t *testing.T) {
	rules := lifecycle.TaskRules{}
	task := baseTask()
	task.Status = domain.TaskInProgress
	_, _, err := rules.Transition(task, lifecycle.TransitionRequest{Billing: billing(domain.BillingBilled)}, actor(), testNow)
	var be lifecycle.BillingError
	if !errors.As(err, &be) {
		t.Fatalf("billing before completion should fail, got %v", err)
	}
}

func TestCompleteAndBillInOneCall(t *testing.T) {
	rules := lifecycle.TaskRules{Retention: 10 * 24 * time.Hour}
	task := baseTask()
	task.Status = domain.TaskReview
	moved, events, err := rules.Transition(task, lifecycle.TransitionRequest{
		Status:  status(domain.TaskCompleted),
		Billing: billing(domain.BillingBilled),
	}, actor(), testNow)
	if err != nil {
		t.Fatalf("complete and bill: %v", err)
	}
	if moved.BillingStatus != domain.BillingBilled {
		t.Fatalf("got billing %s", moved.BillingStatus)
	}
	if moved.BillingDate == nil || moved.ScheduledDeletionDate == nil {
		t.Fatalf("billed task must carry billing and deletion dates")
	}
	wantDelete := testNow.Add(10 * 24 * time.Hour).Format(time.RFC3339)
	if *moved.ScheduledDeletionDate != wantDelete {
		t.Fatalf("deletion date = %s, want %s", *moved.ScheduledDeletionDate, wantDelete)
	}
	if len(events) != 2 {
		t.Fatalf("expected status + billing events, got %d", len(events))
	}
}

func TestBillingNoSkipsNoRegressions(t *testing.T) {
	rules := lifecycle.TaskRules{}
	task := baseTask()
	task.Status = domain.TaskCompleted

	if _, _, err := rules.Transition(task, lifecycle.TransitionRequest{Billing: billing(domain.BillingPaid)}, actor(), testNow); err == nil {
		t.Fatalf("pending_billing -> paid should fail")
	}
	task.BillingStatus = domain.BillingBilled
	moved, _, err := rules.Transition(task, lifecycle.TransitionRequest{Billing: billing(domain.BillingPaid)}, actor(), testNow)
	if err != nil || moved.BillingStatus != domain.BillingPaid {
		t.Fatalf("billed -> paid: %v", err)
	}
	if _, _, err := rules.Transition(moved, lifecycle.TransitionRequest{Billing: billing(domain.BillingBilled)}, actor(), testNow); err == nil {
		t.Fatalf("paid -> billed should fail")
	}
}

func TestReassignmentDiffAndFloor(t *testing.T) {
	rules := lifecycle.TaskRules{}
	task := baseTask()
	task.Assignees = []string{"a", "b"}

	moved, events, err := rules.Transition(task, lifecycle.TransitionRequest{Assignees: []string{"b", "c"}}, actor(), testNow)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if len(events) != 1 || events[0].Kind != lifecycle.TaskReassigned {
		t.Fatalf("expected one reassignment event, got %+v", events)
	}
	if len(events[0].AddedAssignees) != 1 || events[0].AddedAssignees[0] != "c" {
		t.Fatalf("added = %v", events[0].AddedAssignees)
	}
	if len(events[0].RemovedAssignees) != 1 || events[0].RemovedAssignees[0] != "a" {
		t.Fatalf("removed = %v", events[0].RemovedAssignees)
	}
	if len(moved.Assignees) != 2 {
		t.Fatalf("assignees = %v", moved.Assignees)
	}

	_, _, err = rules.Transition(task, lifecycle.TransitionRequest{Assignees: []string{}}, actor(), testNow)
	var ne lifecycle.NoAssigneeError
	if !errors.As(err, &ne) {
		t.Fatalf("active task must keep an assignee, got %v", err)
	}

	// Cancelling in the same call lifts the floor.
	moved, _, err = rules.Transition(task, lifecycle.TransitionRequest{
		Status:    status(domain.TaskCancelled),
		Assignees: []string{},
	}, actor(), testNow)
	if err != nil {
		t.Fatalf("cancel with empty assignees: %v", err)
	}
	if len(moved.Assignees) != 0 || moved.Status != domain.TaskCancelled {
		t.Fatalf("got %+v", moved)
	}
}

func TestNoopRequestLeavesSnapshotAlone(t *testing.T) {
	rules := lifecycle.TaskRules{}
	task := baseTask()
	moved, events, err := rules.Transition(task, lifecycle.TransitionRequest{Status: status(task.Status)}, actor(), testNow)
	if err != nil || len(events) != 0 {
		t.Fatalf("noop: err=%v events=%v", err, events)
	}
	if moved.UpdatedAt != task.UpdatedAt {
		t.Fatalf("noop must not bump updated_at")
	}
}
