package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/migrate"
)

const testSecret = "test-secret"

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	e.Now = func() time.Time { return testNow }

	ctx := context.Background()
	ts := testNow.Format(time.RFC3339)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	for _, u := range []domain.User{
		{ID: "admin-1", Name: "Admin", Role: domain.RoleAdmin, IsActive: true, CanApproveBilling: true, CreatedAt: ts, UpdatedAt: ts},
		{ID: "staff-1", Name: "Staff", Role: domain.RoleBusinessExecutive, IsActive: true, CreatedAt: ts, UpdatedAt: ts},
	} {
		if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
			t.Fatalf("seed %s: %v", u.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(testSrv.close)
	return testSrv
}

func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	// The middleware re-derives the claim from the user row, so only the
	// subject matters here.
	token, err := issueToken(testSecret, domain.Claim{ID: userID, Role: domain.RoleAdmin, IsActive: true}, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func authHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := newTestServer(t)
	res, _ := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.StatusCode)
	}
	// Health stays open.
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	admin := authHeader(tokenFor(t, "admin-1"))
	staff := authHeader(tokenFor(t, "staff-1"))

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":     "Ship filing",
		"assignees": []string{"staff-1"},
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task: %d %s", res.StatusCode, string(data))
	}
	var created domain.Task
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if created.Status != domain.TaskPending {
		t.Fatalf("new task status %s", created.Status)
	}

	// The assignee walks it to completed.
	for _, status := range []string{"in_progress", "review", "completed"} {
		res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/transition", map[string]any{
			"status": status,
		}, staff)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("to %s: %d %s", status, res.StatusCode, string(data))
		}
	}

	// Billing approval needs the billing flag; staff are refused by policy.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/transition", map[string]any{
		"billing_status": "billed",
	}, staff)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("staff billing: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/transition", map[string]any{
		"billing_status": "billed",
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin billing: %d %s", res.StatusCode, string(data))
	}
	var billed domain.Task
	if err := json.Unmarshal(data, &billed); err != nil {
		t.Fatalf("unmarshal billed: %v", err)
	}
	if billed.ScheduledDeletionDate == nil {
		t.Fatalf("billed task must be scheduled for deletion")
	}

	// The creator heard about the completion.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/notifications", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("notifications: %d %s", res.StatusCode, string(data))
	}
	var notes []domain.Notification
	if err := json.Unmarshal(data, &notes); err != nil {
		t.Fatalf("unmarshal notifications: %v", err)
	}
	if len(notes) == 0 {
		t.Fatalf("creator should have notifications")
	}
}

func TestInvalidTransitionMapsTo422(t *testing.T) {
	srv := newTestServer(t)
	admin := authHeader(tokenFor(t, "admin-1"))

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":     "Stuck",
		"assignees": []string{"staff-1"},
	}, admin)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	var created domain.Task
	_ = json.Unmarshal(data, &created)

	// Billing before completion is a state violation, not a policy one.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/tasks/"+created.ID+"/transition", map[string]any{
		"billing_status": "billed",
	}, admin)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	if body.Error.Code != "billing_not_eligible" {
		t.Fatalf("code = %q", body.Error.Code)
	}
}

func TestStaleTokenLosesPowers(t *testing.T) {
	srv := newTestServer(t)
	admin := authHeader(tokenFor(t, "admin-1"))
	staffToken := tokenFor(t, "staff-1")

	// Block the staff account after the token was minted.
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/users/staff-1", map[string]any{
		"is_active": false,
	}, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("block user: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks", nil, authHeader(staffToken))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("blocked user with old token: %d %s", res.StatusCode, string(data))
	}
}

func TestAuthzResolveProbe(t *testing.T) {
	srv := newTestServer(t)
	staff := authHeader(tokenFor(t, "staff-1"))

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/authz/resolve", map[string]any{
		"action": "task.update_status",
		"subject": map[string]any{
			"kind":      "task",
			"assignees": []string{"staff-1"},
		},
	}, staff)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve: %d %s", res.StatusCode, string(data))
	}
	var decision struct {
		Allow bool   `json:"allow"`
		Rule  string `json:"rule"`
	}
	if err := json.Unmarshal(data, &decision); err != nil {
		t.Fatalf("unmarshal decision: %v", err)
	}
	if !decision.Allow || decision.Rule != "staff-own-task" {
		t.Fatalf("decision = %+v", decision)
	}
}

func TestUnknownTaskIs404(t *testing.T) {
	srv := newTestServer(t)
	admin := authHeader(tokenFor(t, "admin-1"))
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/tasks/no-such-task", nil, admin)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
}
