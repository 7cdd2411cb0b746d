package lifecycle

import (
	"strings"
	"time"

	"deskline/internal/domain"
)

// DefaultGuestAccess is the access window granted to a guest client when the
// creator does not pick an expiry.
const DefaultGuestAccess = 30 * 24 * time.Hour

// ClientRules validates client creation and classifies guest expiry. It only
// classifies: destructive action on expired guests belongs to the scanner.
type ClientRules struct {
	// GuestAccess is the default guest window. Zero means DefaultGuestAccess.
	GuestAccess time.Duration
}

// CreateClientInput is the raw creation request before normalization.
type CreateClientInput struct {
	ID            string
	ContactPerson string
	CompanyName   string
	Email         string
	Phone         string
	IsGuest       bool
	AccessExpiry  *string
	ManagerID     string
}

// Create validates input and returns the normalized snapshot plus the
// client-created event. Guests without a supplied expiry get the default
// window; non-guests get their expiry stripped regardless of input.
func (r ClientRules) Create(input CreateClientInput, actor domain.Claim, now time.Time) (domain.Client, []Event, error) {
	if strings.TrimSpace(input.ContactPerson) == "" {
		return domain.Client{}, nil, ValidationError{Field: "contact_person", Reason: "must not be empty"}
	}
	hasEmail := strings.TrimSpace(input.Email) != ""
	hasPhone := strings.TrimSpace(input.Phone) != ""
	if hasEmail == hasPhone {
		return domain.Client{}, nil, ValidationError{Field: "email/phone", Reason: "exactly one of email or phone is required"}
	}
	if input.ManagerID == "" {
		return domain.Client{}, nil, ValidationError{Field: "manager_id", Reason: "must not be empty"}
	}

	ts := now.UTC().Format(time.RFC3339)
	c := domain.Client{
		ID:            input.ID,
		ContactPerson: strings.TrimSpace(input.ContactPerson),
		CompanyName:   strings.TrimSpace(input.CompanyName),
		Email:         strings.TrimSpace(input.Email),
		Phone:         strings.TrimSpace(input.Phone),
		IsGuest:       input.IsGuest,
		ManagerID:     input.ManagerID,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if input.IsGuest {
		if input.AccessExpiry != nil && *input.AccessExpiry != "" {
			if _, err := time.Parse(time.RFC3339, *input.AccessExpiry); err != nil {
				return domain.Client{}, nil, ValidationError{Field: "access_expiry", Reason: "must be RFC3339"}
			}
			expiry := *input.AccessExpiry
			c.AccessExpiry = &expiry
		} else {
			expiry := now.UTC().Add(r.guestAccess()).Format(time.RFC3339)
			c.AccessExpiry = &expiry
		}
	}
	snapshot := c
	return c, []Event{{
		Kind:       ClientCreated,
		Actor:      actor,
		OccurredAt: ts,
		Client:     &snapshot,
	}}, nil
}

func (r ClientRules) guestAccess() time.Duration {
	if r.GuestAccess > 0 {
		return r.GuestAccess
	}
	return DefaultGuestAccess
}

// Expired reports whether the client's guest access has lapsed. Permanent
// clients and guests with unparseable expiry stamps never expire here; bad
// data is surfaced by validation, not by silent deletion.
func Expired(c domain.Client, now time.Time) bool {
	if !c.IsGuest || c.AccessExpiry == nil {
		return false
	}
	expiry, err := time.Parse(time.RFC3339, *c.AccessExpiry)
	if err != nil {
		return false
	}
	return now.After(expiry)
}

// ScheduleGuestExpiry moves a guest's access expiry. Non-guests are rejected:
// the guest invariant says permanent clients never carry an expiry.
func ScheduleGuestExpiry(c domain.Client, expiry time.Time, now time.Time) (domain.Client, error) {
	if !c.IsGuest {
		return c, ValidationError{Field: "is_guest", Reason: "only guest clients carry an access expiry"}
	}
	stamp := expiry.UTC().Format(time.RFC3339)
	c.AccessExpiry = &stamp
	c.UpdatedAt = now.UTC().Format(time.RFC3339)
	return c, nil
}
