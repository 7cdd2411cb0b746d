package domain

// Role identifies what an actor is allowed to do across the office.
type Role string

const (
	RoleAdmin              Role = "ADMIN"
	RolePartner            Role = "PARTNER"
	RoleBusinessExecutive  Role = "BUSINESS_EXECUTIVE"
	RoleBusinessConsultant Role = "BUSINESS_CONSULTANT"
	RolePermanentClient    Role = "PERMANENT_CLIENT"
	RoleGuestClient        Role = "GUEST_CLIENT"

	// RoleSystem is reserved for the background scanner so automated
	// deletions are audited like any other action.
	RoleSystem Role = "SYSTEM"
)

// Staff reports whether the role belongs to an office employee.
func (r Role) Staff() bool {
	switch r {
	case RoleAdmin, RolePartner, RoleBusinessExecutive, RoleBusinessConsultant:
		return true
	}
	return false
}

// Client reports whether the role belongs to a client account.
func (r Role) Client() bool {
	return r == RolePermanentClient || r == RoleGuestClient
}

// Known reports whether the role is one the platform defines.
func (r Role) Known() bool {
	return r.Staff() || r.Client() || r == RoleSystem
}

// Claim is the authenticated actor's snapshot for one request. It is produced
// at the session boundary and immutable within the request.
type Claim struct {
	ID                string `json:"id"`
	Role              Role   `json:"role"`
	IsActive          bool   `json:"is_active"`
	CanApproveBilling bool   `json:"can_approve_billing"`
}

// SystemClaim returns the reserved actor used by timer-triggered jobs.
func SystemClaim() Claim {
	return Claim{ID: "system", Role: RoleSystem, IsActive: true, CanApproveBilling: true}
}

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskReview     TaskStatus = "review"
	TaskCompleted  TaskStatus = "completed"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Known() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskReview, TaskCompleted, TaskCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further status movement is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskCancelled
}

type BillingStatus string

const (
	BillingPending BillingStatus = "pending_billing"
	BillingBilled  BillingStatus = "billed"
	BillingPaid    BillingStatus = "paid"
)

func (s BillingStatus) Known() bool {
	switch s {
	case BillingPending, BillingBilled, BillingPaid:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Known() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// User is a staff or client account. Client-role users additionally own a
// Client record.
type User struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Email             string `json:"email,omitempty"`
	Role              Role   `json:"role"`
	IsActive          bool   `json:"is_active"`
	CanApproveBilling bool   `json:"can_approve_billing"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	UpdatedAt         string `json:"updated_at" format:"date-time"`
}

// Claim derives the request claim for this user.
func (u User) Claim() Claim {
	return Claim{ID: u.ID, Role: u.Role, IsActive: u.IsActive, CanApproveBilling: u.CanApproveBilling}
}

// Client is a tracked client account. Guests carry an access expiry;
// permanent clients never do.
type Client struct {
	ID            string  `json:"id"`
	ContactPerson string  `json:"contact_person"`
	CompanyName   string  `json:"company_name,omitempty"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	IsGuest       bool    `json:"is_guest"`
	AccessExpiry  *string `json:"access_expiry,omitempty" format:"date-time"`
	ManagerID     string  `json:"manager_id"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
}

// Task is a snapshot of a work item. The engine only ever works on snapshots;
// the store owns identity and serializes concurrent writes.
type Task struct {
	ID                    string        `json:"id"`
	Title                 string        `json:"title"`
	Description           string        `json:"description,omitempty"`
	Status                TaskStatus    `json:"status" enum:"pending,in_progress,review,completed,cancelled"`
	Priority              Priority      `json:"priority" enum:"low,medium,high"`
	BillingStatus         BillingStatus `json:"billing_status" enum:"pending_billing,billed,paid"`
	DueDate               *string       `json:"due_date,omitempty" format:"date-time"`
	BillingDate           *string       `json:"billing_date,omitempty" format:"date-time"`
	ScheduledDeletionDate *string       `json:"scheduled_deletion_date,omitempty" format:"date-time"`
	AssignedByID          string        `json:"assigned_by_id"`
	ClientID              *string       `json:"client_id,omitempty"`
	Assignees             []string      `json:"assignees"`
	CreatedAt             string        `json:"created_at" format:"date-time"`
	UpdatedAt             string        `json:"updated_at" format:"date-time"`
}

// HasAssignee reports whether userID is in the assignee set.
func (t Task) HasAssignee(userID string) bool {
	for _, id := range t.Assignees {
		if id == userID {
			return true
		}
	}
	return false
}

// Activity is an immutable append-only audit record.
type Activity struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Action    string `json:"action"`
	Target    string `json:"target"`
	UserID    string `json:"user_id"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Notification is delivered to one recipient; only IsRead is mutable, and
// only by the recipient.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	IsRead    bool   `json:"is_read"`
	SentByID  string `json:"sent_by_id"`
	SentToID  string `json:"sent_to_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// APIKey authenticates service actors (integrations, the scanner host).
type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
