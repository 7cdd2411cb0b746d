package lifecycle

import "deskline/internal/domain"

// EventKind tags what changed. The dispatcher's mapping table is keyed on it.
type EventKind string

const (
	TaskStatusChanged    EventKind = "task-status-changed"
	TaskBillingChanged   EventKind = "task-billing-changed"
	TaskReassigned       EventKind = "task-reassigned"
	TaskScheduledDeleted EventKind = "task-scheduled-deleted"
	ClientCreated        EventKind = "client-created"
	ClientExpiredDeleted EventKind = "client-expired-deleted"
	UserRoleChanged      EventKind = "user-role-changed"
	UserBlocked          EventKind = "user-blocked"
)

// Event describes one completed state change, passed from a lifecycle machine
// to the dispatcher. Only the fields relevant to Kind are populated.
type Event struct {
	Kind       EventKind
	Actor      domain.Claim
	OccurredAt string

	// Decision names the policy rule that authorized the change, so the
	// audit trail shows an explicit decision trace even for the reserved
	// SYSTEM actor.
	Decision string

	Task   *domain.Task
	Client *domain.Client
	User   *domain.User

	FromStatus  domain.TaskStatus
	ToStatus    domain.TaskStatus
	FromBilling domain.BillingStatus
	ToBilling   domain.BillingStatus

	AddedAssignees   []string
	RemovedAssignees []string

	FromRole domain.Role
	ToRole   domain.Role
}

// EntityID returns the id of whichever entity the event concerns.
func (e Event) EntityID() string {
	switch {
	case e.Task != nil:
		return e.Task.ID
	case e.Client != nil:
		return e.Client.ID
	case e.User != nil:
		return e.User.ID
	}
	return ""
}
