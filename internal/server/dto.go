package server

import (
	"deskline/internal/domain"
)

type CreateUserRequest struct {
	ID                string `json:"id,omitempty"`
	Name              string `json:"name"`
	Email             string `json:"email,omitempty"`
	Role              string `json:"role" enum:"ADMIN,PARTNER,BUSINESS_EXECUTIVE,BUSINESS_CONSULTANT,PERMANENT_CLIENT,GUEST_CLIENT"`
	CanApproveBilling bool   `json:"can_approve_billing,omitempty"`
}

type UpdateUserRequest struct {
	Name              *string `json:"name,omitempty"`
	Email             *string `json:"email,omitempty"`
	CanApproveBilling *bool   `json:"can_approve_billing,omitempty"`
	IsActive          *bool   `json:"is_active,omitempty"`
}

type ChangeRoleRequest struct {
	Role string `json:"role" enum:"ADMIN,PARTNER,BUSINESS_EXECUTIVE,BUSINESS_CONSULTANT,PERMANENT_CLIENT,GUEST_CLIENT"`
}

type CreateClientRequest struct {
	ID            string  `json:"id,omitempty"`
	ContactPerson string  `json:"contact_person"`
	CompanyName   string  `json:"company_name,omitempty"`
	Email         string  `json:"email,omitempty"`
	Phone         string  `json:"phone,omitempty"`
	IsGuest       bool    `json:"is_guest,omitempty"`
	AccessExpiry  *string `json:"access_expiry,omitempty" format:"date-time"`
	ManagerID     string  `json:"manager_id,omitempty"`
}

type UpdateClientRequest struct {
	ContactPerson *string `json:"contact_person,omitempty"`
	CompanyName   *string `json:"company_name,omitempty"`
	Email         *string `json:"email,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	ManagerID     *string `json:"manager_id,omitempty"`
	AccessExpiry  *string `json:"access_expiry,omitempty" format:"date-time"`
}

type CreateTaskRequest struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    string   `json:"priority,omitempty" enum:",low,medium,high"`
	DueDate     *string  `json:"due_date,omitempty" format:"date-time"`
	ClientID    *string  `json:"client_id,omitempty"`
	Assignees   []string `json:"assignees"`
}

// TransitionTaskRequest carries the optional status, billing and assignment
// changes of one transition call.
type TransitionTaskRequest struct {
	Status    *string  `json:"status,omitempty" enum:"pending,in_progress,review,completed,cancelled"`
	Billing   *string  `json:"billing_status,omitempty" enum:"pending_billing,billed,paid"`
	Assignees []string `json:"assignees,omitempty"`
}

type ResolveRequest struct {
	Action  string `json:"action"`
	Subject struct {
		Kind         string   `json:"kind,omitempty" enum:",task,client,user,profile"`
		OwnerID      string   `json:"owner_id,omitempty"`
		ManagerID    string   `json:"manager_id,omitempty"`
		AssignedByID string   `json:"assigned_by_id,omitempty"`
		Assignees    []string `json:"assignees,omitempty"`
		ClientID     string   `json:"client_id,omitempty"`
		TargetRole   string   `json:"target_role,omitempty"`
	} `json:"subject"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type paginatedClients struct {
	Items      []domain.Client `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type MeResponse struct {
	Claim   domain.Claim `json:"claim"`
	Profile *domain.User `json:"profile,omitempty"`
	Unread  int          `json:"unread_notifications"`
}
