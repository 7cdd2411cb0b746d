package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/lifecycle"
	"deskline/internal/migrate"
	"deskline/internal/policy"
	"deskline/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return fixedNow }
	env := testEnv{Engine: eng, Ctx: context.Background()}
	seedUser(t, env, "admin-1", domain.RoleAdmin, true)
	seedUser(t, env, "staff-1", domain.RoleBusinessExecutive, false)
	seedUser(t, env, "staff-2", domain.RoleBusinessExecutive, false)
	seedUser(t, env, "p1", domain.RolePartner, false)
	return env
}

// seedUser writes the account row directly; assignee and manager columns
// reference it.
func seedUser(t *testing.T, env testEnv, id string, role domain.Role, approver bool) {
	t.Helper()
	ts := fixedNow.Format(time.RFC3339)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	err = env.Engine.Repo.InsertUser(env.Ctx, tx, domain.User{
		ID: id, Name: id, Role: role, IsActive: true,
		CanApproveBilling: approver, CreatedAt: ts, UpdatedAt: ts,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func adminClaim() domain.Claim {
	return domain.Claim{ID: "admin-1", Role: domain.RoleAdmin, IsActive: true, CanApproveBilling: true}
}

func staffClaim(id string) domain.Claim {
	return domain.Claim{ID: id, Role: domain.RoleBusinessExecutive, IsActive: true}
}

func mustCreateTask(t *testing.T, env testEnv, actor domain.Claim, assignees ...string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		Title:     "Quarterly filing",
		Assignees: assignees,
	}, actor)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateTaskNotifiesAssignees(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, adminClaim(), "staff-1", "staff-2")
	if task.Status != domain.TaskPending || task.BillingStatus != domain.BillingPending {
		t.Fatalf("new task state = %s/%s", task.Status, task.BillingStatus)
	}
	if task.Priority != domain.PriorityMedium {
		t.Fatalf("priority should default to medium, got %s", task.Priority)
	}
	for _, id := range []string{"staff-1", "staff-2"} {
		notes, err := env.Engine.Repo.ListNotifications(env.Ctx, id, false, 10)
		if err != nil {
			t.Fatalf("list notifications: %v", err)
		}
		if len(notes) != 1 {
			t.Fatalf("%s: expected one assignment notification, got %d", id, len(notes))
		}
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	var ve lifecycle.ValidationError

	_, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{Title: " ", Assignees: []string{"s"}}, adminClaim())
	if !errors.As(err, &ve) || ve.Field != "title" {
		t.Fatalf("blank title: %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{Title: "x"}, adminClaim())
	if !errors.As(err, &ve) || ve.Field != "assignees" {
		t.Fatalf("no assignees: %v", err)
	}
	missing := "no-such-client"
	_, err = env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{Title: "x", Assignees: []string{"s"}, ClientID: &missing}, adminClaim())
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("dangling client: %v", err)
	}
}

func TestStaffCompletesOwnTaskCreatorNotified(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, adminClaim(), "staff-1")

	worker := staffClaim("staff-1")
	for _, next := range []domain.TaskStatus{domain.TaskInProgress, domain.TaskReview, domain.TaskCompleted} {
		s := next
		moved, err := env.Engine.ApplyTaskTransition(env.Ctx, task, lifecycle.TransitionRequest{Status: &s}, worker)
		if err != nil {
			t.Fatalf("to %s: %v", next, err)
		}
		task = moved
	}
	notes, err := env.Engine.Repo.ListNotifications(env.Ctx, "admin-1", false, 10)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	found := false
	for _, n := range notes {
		if strings.Contains(n.Content, "completed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("creator should hear about completion, got %+v", notes)
	}

	acts, err := env.Engine.Repo.LatestActivities(env.Ctx, 10, "task", "completed", task.ID)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	if len(acts) != 1 {
		t.Fatalf("expected one completion activity, got %d", len(acts))
	}
	if !strings.Contains(acts[0].Details, "staff-own-task") {
		t.Fatalf("activity should carry the decision trace, got %s", acts[0].Details)
	}
}

func TestOutsiderCannotMoveTask(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, adminClaim(), "staff-1")

	s := domain.TaskInProgress
	_, err := env.Engine.ApplyTaskTransition(env.Ctx, task, lifecycle.TransitionRequest{Status: &s}, staffClaim("staff-9"))
	var denied *policy.DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected policy denial, got %v", err)
	}
	if denied.Action != policy.UpdateTaskStatus {
		t.Fatalf("denied action = %s", denied.Action)
	}
}

func TestBillingGate(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, adminClaim(), "staff-1")

	billed := domain.BillingBilled
	// Not completed yet.
	_, err := env.Engine.ApplyTaskTransition(env.Ctx, task, lifecycle.TransitionRequest{Billing: &billed}, adminClaim())
	var be lifecycle.BillingError
	if !errors.As(err, &be) {
		t.Fatalf("billing before completion: %v", err)
	}

	completed := domain.TaskCompleted
	task, err = env.Engine.ApplyTaskTransition(env.Ctx, task, lifecycle.TransitionRequest{Status: &completed}, adminClaim())
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A partner without the billing flag is refused by policy.
	partner := domain.Claim{ID: "p1", Role: domain.RolePartner, IsActive: true}
	_, err = env.Engine.ApplyTaskTransition(env.Ctx, task, lifecycle.TransitionRequest{Billing: &billed}, partner)
	var denied *policy.DeniedError
	if !errors.As(err, &denied) || denied.Action != policy.ApproveBilling {
		t.Fatalf("unapproved partner billing: %v", err)
	}

	task, err = env.Engine.ApplyTaskTransition(env.Ctx, task, lifecycle.TransitionRequest{Billing: &billed}, adminClaim())
	if err != nil {
		t.Fatalf("bill: %v", err)
	}
	if task.BillingDate == nil || task.ScheduledDeletionDate == nil {
		t.Fatalf("billed task must be stamped, got %+v", task)
	}
	wantDeletion := fixedNow.Add(env.Engine.Config.RetentionWindow()).Format(time.RFC3339)
	if *task.ScheduledDeletionDate != wantDeletion {
		t.Fatalf("deletion date = %s, want %s", *task.ScheduledDeletionDate, wantDeletion)
	}
}

func TestStaleSnapshotConflicts(t *testing.T) {
	env := newTestEnv(t)
	task := mustCreateTask(t, env, adminClaim(), "staff-1")

	// First writer wins.
	env.Engine.Now = func() time.Time { return fixedNow.Add(time.Minute) }
	s := domain.TaskInProgress
	if _, err := env.Engine.ApplyTaskTransition(env.Ctx, task, lifecycle.TransitionRequest{Status: &s}, adminClaim()); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	// Second writer still holds the old snapshot.
	env.Engine.Now = func() time.Time { return fixedNow.Add(2 * time.Minute) }
	r := domain.TaskReview
	_, err := env.Engine.ApplyTaskTransition(env.Ctx, task, lifecycle.TransitionRequest{Status: &r}, adminClaim())
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestListTasksScoping(t *testing.T) {
	env := newTestEnv(t)
	admin := adminClaim()

	client, err := env.Engine.CreateClient(env.Ctx, lifecycle.CreateClientInput{
		ContactPerson: "Ada",
		Email:         "ada@example.com",
	}, admin)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	clientTask, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		Title:     "Client work",
		Assignees: []string{"staff-1"},
		ClientID:  &client.ID,
	}, admin)
	if err != nil {
		t.Fatalf("create client task: %v", err)
	}
	mustCreateTask(t, env, admin, "staff-2")

	// Admin sees everything.
	all, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{}, admin)
	if err != nil || len(all) != 2 {
		t.Fatalf("admin list: %v (%d)", err, len(all))
	}

	// Staff see only what they work on.
	mine, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{}, staffClaim("staff-1"))
	if err != nil || len(mine) != 1 || mine[0].ID != clientTask.ID {
		t.Fatalf("staff list: %v %+v", err, mine)
	}

	// Client accounts see only their client's tasks.
	clientActor := domain.Claim{ID: client.ID, Role: domain.RolePermanentClient, IsActive: true}
	own, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{}, clientActor)
	if err != nil || len(own) != 1 || own[0].ID != clientTask.ID {
		t.Fatalf("client list: %v %+v", err, own)
	}

	// Blocked actors get nothing.
	blocked := staffClaim("staff-1")
	blocked.IsActive = false
	if _, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{}, blocked); err == nil {
		t.Fatalf("blocked actor should be refused")
	}
}

func TestStaffCreatorSeesUnassignedTask(t *testing.T) {
	env := newTestEnv(t)
	ts := fixedNow.Format(time.RFC3339)
	tx, err := env.Engine.DB.BeginTx(env.Ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	// A task staff-1 assigned to someone else. The creator can fetch it,
	// so the listing has to show it too.
	if err := env.Engine.Repo.InsertTask(env.Ctx, tx, domain.Task{
		ID: "t-delegated", Title: "Delegated filing",
		Status: domain.TaskPending, Priority: domain.PriorityMedium, BillingStatus: domain.BillingPending,
		AssignedByID: "staff-1", Assignees: []string{"staff-2"},
		CreatedAt: ts, UpdatedAt: ts,
	}); err != nil {
		t.Fatalf("insert task: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if _, err := env.Engine.GetTask(env.Ctx, "t-delegated", staffClaim("staff-1")); err != nil {
		t.Fatalf("creator should view the task: %v", err)
	}
	for _, actor := range []string{"staff-1", "staff-2"} {
		list, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{}, staffClaim(actor))
		if err != nil || len(list) != 1 || list[0].ID != "t-delegated" {
			t.Fatalf("%s list: %v %+v", actor, err, list)
		}
	}
	if list, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{}, staffClaim("staff-9")); err != nil || len(list) != 0 {
		t.Fatalf("outsider list: %v %+v", err, list)
	}
}

func TestUpdateClientKeepsContactInvariant(t *testing.T) {
	env := newTestEnv(t)
	admin := adminClaim()
	client, err := env.Engine.CreateClient(env.Ctx, lifecycle.CreateClientInput{
		ContactPerson: "Ada",
		Email:         "ada@example.com",
	}, admin)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	phone := "+100"
	var ve lifecycle.ValidationError
	_, err = env.Engine.UpdateClient(env.Ctx, client.ID, engine.UpdateClientOptions{Phone: &phone}, admin)
	if !errors.As(err, &ve) {
		t.Fatalf("adding phone next to email should fail, got %v", err)
	}

	// Swap channels in one call.
	empty := ""
	updated, err := env.Engine.UpdateClient(env.Ctx, client.ID, engine.UpdateClientOptions{Email: &empty, Phone: &phone}, admin)
	if err != nil {
		t.Fatalf("swap channels: %v", err)
	}
	if updated.Email != "" || updated.Phone != "+100" {
		t.Fatalf("got %+v", updated)
	}

	// Permanent clients cannot be given an expiry.
	expiry := fixedNow.Add(time.Hour).Format(time.RFC3339)
	_, err = env.Engine.UpdateClient(env.Ctx, client.ID, engine.UpdateClientOptions{AccessExpiry: &expiry}, admin)
	if !errors.As(err, &ve) {
		t.Fatalf("permanent expiry: %v", err)
	}
}

func TestChangeUserRoleGatesBothSides(t *testing.T) {
	env := newTestEnv(t)
	admin := adminClaim()

	consultant, err := env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{
		Name: "Casey", Role: domain.RoleBusinessConsultant,
	}, admin)
	if err != nil {
		t.Fatalf("create consultant: %v", err)
	}
	other, err := env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{
		Name: "Alex", Role: domain.RoleAdmin,
	}, admin)
	if err != nil {
		t.Fatalf("create admin: %v", err)
	}

	partner := domain.Claim{ID: "p1", Role: domain.RolePartner, IsActive: true}

	// Promotion into the admin tier is refused even for a subordinate target.
	var denied *policy.DeniedError
	_, err = env.Engine.ChangeUserRole(env.Ctx, consultant.ID, domain.RoleAdmin, partner)
	if !errors.As(err, &denied) {
		t.Fatalf("promote to admin: %v", err)
	}
	// Touching an existing admin is refused outright.
	_, err = env.Engine.ChangeUserRole(env.Ctx, other.ID, domain.RoleBusinessConsultant, partner)
	if !errors.As(err, &denied) {
		t.Fatalf("demote admin: %v", err)
	}
	// Within the ceiling the move succeeds and is announced.
	moved, err := env.Engine.ChangeUserRole(env.Ctx, consultant.ID, domain.RoleBusinessExecutive, partner)
	if err != nil {
		t.Fatalf("promote consultant: %v", err)
	}
	if moved.Role != domain.RoleBusinessExecutive {
		t.Fatalf("role = %s", moved.Role)
	}
	notes, err := env.Engine.Repo.ListNotifications(env.Ctx, consultant.ID, false, 10)
	if err != nil || len(notes) != 1 {
		t.Fatalf("role change notification: %v (%d)", err, len(notes))
	}
}

func TestBlockingUserNotifiesAndAudits(t *testing.T) {
	env := newTestEnv(t)
	admin := adminClaim()
	user, err := env.Engine.CreateUser(env.Ctx, engine.CreateUserOptions{
		Name: "Casey", Role: domain.RoleBusinessConsultant,
	}, admin)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	inactive := false
	blocked, err := env.Engine.UpdateUser(env.Ctx, user.ID, engine.UpdateUserOptions{IsActive: &inactive}, admin)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if blocked.IsActive {
		t.Fatalf("user should be inactive")
	}
	acts, err := env.Engine.Repo.LatestActivities(env.Ctx, 10, "user", "blocked", user.ID)
	if err != nil || len(acts) != 1 {
		t.Fatalf("blocked activity: %v (%d)", err, len(acts))
	}
	notes, err := env.Engine.Repo.ListNotifications(env.Ctx, user.ID, false, 10)
	if err != nil || len(notes) != 1 {
		t.Fatalf("blocked notification: %v (%d)", err, len(notes))
	}
	// Re-saving an already blocked user emits nothing new.
	if _, err := env.Engine.UpdateUser(env.Ctx, user.ID, engine.UpdateUserOptions{IsActive: &inactive}, admin); err != nil {
		t.Fatalf("re-block: %v", err)
	}
	acts, _ = env.Engine.Repo.LatestActivities(env.Ctx, 10, "user", "blocked", user.ID)
	if len(acts) != 1 {
		t.Fatalf("expected no duplicate blocked activity, got %d", len(acts))
	}
}

func TestDeleteClientCascadesTasks(t *testing.T) {
	env := newTestEnv(t)
	admin := adminClaim()
	client, err := env.Engine.CreateClient(env.Ctx, lifecycle.CreateClientInput{
		ContactPerson: "Ada",
		Email:         "ada@example.com",
	}, admin)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, engine.CreateTaskOptions{
		Title: "Client work", Assignees: []string{"staff-1"}, ClientID: &client.ID,
	}, admin)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := env.Engine.DeleteClient(env.Ctx, client.ID, admin); err != nil {
		t.Fatalf("delete client: %v", err)
	}
	if _, err := env.Engine.Repo.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("task should be gone with its client, got %v", err)
	}
}
