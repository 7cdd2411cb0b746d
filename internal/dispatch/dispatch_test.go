package dispatch_test

import (
	"encoding/json"
	"testing"

	"deskline/internal/dispatch"
	"deskline/internal/domain"
	"deskline/internal/lifecycle"
)

func systemActor() domain.Claim {
	return domain.SystemClaim()
}

func statusEvent() lifecycle.Event {
	task := domain.Task{ID: "t1", Title: "Filing", AssignedByID: "boss", Assignees: []string{"a"}}
	return lifecycle.Event{
		Kind:       lifecycle.TaskStatusChanged,
		Actor:      domain.Claim{ID: "a", Role: domain.RoleBusinessExecutive, IsActive: true},
		OccurredAt: "2024-06-01T12:00:00Z",
		Task:       &task,
		FromStatus: domain.TaskReview,
		ToStatus:   domain.TaskCompleted,
	}
}

func TestDispatchIsDeterministic(t *testing.T) {
	first := dispatch.Dispatch(statusEvent())
	second := dispatch.Dispatch(statusEvent())
	if len(first.Activities) != 1 || len(second.Activities) != 1 {
		t.Fatalf("expected one activity each, got %d and %d", len(first.Activities), len(second.Activities))
	}
	if first.Activities[0].ID != second.Activities[0].ID {
		t.Fatalf("activity ids differ: %s vs %s", first.Activities[0].ID, second.Activities[0].ID)
	}
	if len(first.Notifications) != 1 || first.Notifications[0].ID != second.Notifications[0].ID {
		t.Fatalf("notification ids differ")
	}
}

func TestDistinctReassignmentsGetDistinctIDs(t *testing.T) {
	reassign := func(added, removed []string) lifecycle.Event {
		task := domain.Task{ID: "t1", Title: "Filing", AssignedByID: "boss"}
		return lifecycle.Event{
			Kind:             lifecycle.TaskReassigned,
			Actor:            domain.Claim{ID: "boss"},
			OccurredAt:       "2024-06-01T12:00:00Z",
			Task:             &task,
			AddedAssignees:   added,
			RemovedAssignees: removed,
		}
	}
	// Two different diffs in the same second, same task and actor. The
	// stores insert with OR IGNORE, so an id collision would drop the
	// second audit line and the second notification to "a".
	first := dispatch.Dispatch(reassign([]string{"b"}, []string{"a"}))
	second := dispatch.Dispatch(reassign([]string{"a"}, []string{"b"}))
	if first.Activities[0].ID == second.Activities[0].ID {
		t.Fatalf("distinct reassignments share activity id %s", first.Activities[0].ID)
	}
	noteTo := func(eff dispatch.Effects, userID string) domain.Notification {
		for _, n := range eff.Notifications {
			if n.SentToID == userID {
				return n
			}
		}
		t.Fatalf("no notification to %s", userID)
		return domain.Notification{}
	}
	if noteTo(first, "a").ID == noteTo(second, "a").ID {
		t.Fatalf("notifications for different diffs share an id")
	}
	// Assignee order must not change the id.
	bulk := dispatch.Dispatch(reassign([]string{"x", "y"}, nil))
	swapped := dispatch.Dispatch(reassign([]string{"y", "x"}, nil))
	if bulk.Activities[0].ID != swapped.Activities[0].ID {
		t.Fatalf("assignee order changed the activity id")
	}
}

func TestCompletionNotifiesCreator(t *testing.T) {
	eff := dispatch.Dispatch(statusEvent())
	if len(eff.Notifications) != 1 {
		t.Fatalf("expected one notification, got %d", len(eff.Notifications))
	}
	n := eff.Notifications[0]
	if n.SentToID != "boss" || n.SentByID != "a" {
		t.Fatalf("notification routed %s -> %s", n.SentByID, n.SentToID)
	}
	a := eff.Activities[0]
	if a.Type != "task" || a.Action != "completed" || a.Target != "t1" {
		t.Fatalf("activity = %+v", a)
	}
}

func TestIntermediateStatusMoveIsSilent(t *testing.T) {
	ev := statusEvent()
	ev.FromStatus = domain.TaskPending
	ev.ToStatus = domain.TaskInProgress
	eff := dispatch.Dispatch(ev)
	if len(eff.Notifications) != 0 {
		t.Fatalf("in_progress move should not notify, got %d", len(eff.Notifications))
	}
	if len(eff.Activities) != 1 || eff.Activities[0].Action != "updated" {
		t.Fatalf("activity = %+v", eff.Activities)
	}
}

func TestReassignmentNotifiesBothSides(t *testing.T) {
	task := domain.Task{ID: "t1", Title: "Filing", AssignedByID: "boss"}
	eff := dispatch.Dispatch(lifecycle.Event{
		Kind:             lifecycle.TaskReassigned,
		Actor:            domain.Claim{ID: "boss"},
		OccurredAt:       "2024-06-01T12:00:00Z",
		Task:             &task,
		AddedAssignees:   []string{"new"},
		RemovedAssignees: []string{"old"},
	})
	if len(eff.Notifications) != 2 {
		t.Fatalf("expected added and removed notifications, got %d", len(eff.Notifications))
	}
	recipients := map[string]bool{}
	for _, n := range eff.Notifications {
		recipients[n.SentToID] = true
	}
	if !recipients["new"] || !recipients["old"] {
		t.Fatalf("recipients = %v", recipients)
	}
}

func TestDecisionTraceLandsInDetails(t *testing.T) {
	expiry := "2024-05-01T00:00:00Z"
	client := domain.Client{ID: "c1", ContactPerson: "Ada", IsGuest: true, AccessExpiry: &expiry, ManagerID: "p1"}
	eff := dispatch.Dispatch(lifecycle.Event{
		Kind:       lifecycle.ClientExpiredDeleted,
		Actor:      systemActor(),
		OccurredAt: "2024-06-01T12:00:00Z",
		Decision:   "system-full-access",
		Client:     &client,
	})
	if len(eff.Activities) != 1 {
		t.Fatalf("expected one activity, got %d", len(eff.Activities))
	}
	var details map[string]any
	if err := json.Unmarshal([]byte(eff.Activities[0].Details), &details); err != nil {
		t.Fatalf("details not JSON: %v", err)
	}
	if details["decision"] != "system-full-access" {
		t.Fatalf("details = %v", details)
	}
	if details["access_expiry"] != expiry {
		t.Fatalf("details missing expiry: %v", details)
	}
	if len(eff.Notifications) != 1 || eff.Notifications[0].SentToID != "p1" {
		t.Fatalf("manager should be notified, got %+v", eff.Notifications)
	}
}

func TestUnknownEventKindProducesNothing(t *testing.T) {
	eff := dispatch.Dispatch(lifecycle.Event{Kind: lifecycle.EventKind("task.sprouted")})
	if len(eff.Activities) != 0 || len(eff.Notifications) != 0 {
		t.Fatalf("unknown kind must be inert, got %+v", eff)
	}
}
