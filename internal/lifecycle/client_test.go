package lifecycle_test

import (
	"errors"
	"testing"
	"time"

	"deskline/internal/domain"
	"deskline/internal/lifecycle"
)

func baseClientInput() lifecycle.CreateClientInput {
	return lifecycle.CreateClientInput{
		ID:            "c1",
		ContactPerson: "Ada",
		Email:         "ada@example.com",
		ManagerID:     "p1",
	}
}

func TestCreateGuestDefaultsExpiry(t *testing.T) {
	rules := lifecycle.ClientRules{GuestAccess: 7 * 24 * time.Hour}
	input := baseClientInput()
	input.IsGuest = true
	c, events, err := rules.Create(input, actor(), testNow)
	if err != nil {
		t.Fatalf("create guest: %v", err)
	}
	if c.AccessExpiry == nil {
		t.Fatalf("guest must carry an access expiry")
	}
	want := testNow.Add(7 * 24 * time.Hour).Format(time.RFC3339)
	if *c.AccessExpiry != want {
		t.Fatalf("expiry = %s, want %s", *c.AccessExpiry, want)
	}
	if len(events) != 1 || events[0].Kind != lifecycle.ClientCreated {
		t.Fatalf("expected client-created event, got %+v", events)
	}
}

func TestCreateStripsExpiryFromPermanentClients(t *testing.T) {
	rules := lifecycle.ClientRules{}
	input := baseClientInput()
	expiry := "2024-12-31T00:00:00Z"
	input.AccessExpiry = &expiry
	c, _, err := rules.Create(input, actor(), testNow)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.AccessExpiry != nil {
		t.Fatalf("permanent client must never carry an expiry")
	}
}

func TestCreateRequiresExactlyOneContactChannel(t *testing.T) {
	rules := lifecycle.ClientRules{}
	var ve lifecycle.ValidationError

	both := baseClientInput()
	both.Phone = "+100"
	if _, _, err := rules.Create(both, actor(), testNow); !errors.As(err, &ve) {
		t.Fatalf("email and phone together should fail, got %v", err)
	}

	neither := baseClientInput()
	neither.Email = ""
	if _, _, err := rules.Create(neither, actor(), testNow); !errors.As(err, &ve) {
		t.Fatalf("neither email nor phone should fail, got %v", err)
	}

	phoneOnly := baseClientInput()
	phoneOnly.Email = ""
	phoneOnly.Phone = "+100"
	if _, _, err := rules.Create(phoneOnly, actor(), testNow); err != nil {
		t.Fatalf("phone only should pass: %v", err)
	}
}

func TestExpiredPredicate(t *testing.T) {
	past := testNow.Add(-time.Hour).Format(time.RFC3339)
	future := testNow.Add(time.Hour).Format(time.RFC3339)
	bad := "yesterday"

	cases := []struct {
		name   string
		client domain.Client
		want   bool
	}{
		{"guest past expiry", domain.Client{IsGuest: true, AccessExpiry: &past}, true},
		{"guest future expiry", domain.Client{IsGuest: true, AccessExpiry: &future}, false},
		{"guest without expiry", domain.Client{IsGuest: true}, false},
		{"permanent with stray expiry", domain.Client{IsGuest: false, AccessExpiry: &past}, false},
		{"guest unparseable expiry", domain.Client{IsGuest: true, AccessExpiry: &bad}, false},
	}
	for _, tc := range cases {
		if got := lifecycle.Expired(tc.client, testNow); got != tc.want {
			t.Fatalf("%s: Expired = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestScheduleGuestExpiry(t *testing.T) {
	guest := domain.Client{ID: "c1", IsGuest: true}
	moved, err := lifecycle.ScheduleGuestExpiry(guest, testNow.Add(48*time.Hour), testNow)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if moved.AccessExpiry == nil || *moved.AccessExpiry != testNow.Add(48*time.Hour).Format(time.RFC3339) {
		t.Fatalf("expiry = %v", moved.AccessExpiry)
	}

	permanent := domain.Client{ID: "c2"}
	if _, err := lifecycle.ScheduleGuestExpiry(permanent, testNow.Add(48*time.Hour), testNow); err == nil {
		t.Fatalf("permanent clients must reject expiry scheduling")
	}
}
