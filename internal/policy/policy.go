// Package policy decides which actor may perform which action on which
// entity. It replaces the per-handler role checks the platform grew up with:
// every route and the background scanner consult the same ordered rule table.
package policy

import "deskline/internal/domain"

// Action names an operation the resolver can gate.
type Action string

const (
	CreateClient     Action = "client.create"
	UpdateClient     Action = "client.update"
	DeleteClient     Action = "client.delete"
	CreateTask       Action = "task.create"
	UpdateTaskStatus Action = "task.update_status"
	ReassignTask     Action = "task.reassign"
	ApproveBilling   Action = "task.approve_billing"
	CreateUser       Action = "user.create"
	UpdateUser       Action = "user.update"
	ChangeUserRole   Action = "user.change_role"
	DeleteUser       Action = "user.delete"
	DeleteTask       Action = "task.delete"
	ViewEntity       Action = "entity.view"
)

// SubjectKind tags what the target snapshot describes.
type SubjectKind string

const (
	SubjectNone    SubjectKind = ""
	SubjectTask    SubjectKind = "task"
	SubjectClient  SubjectKind = "client"
	SubjectUser    SubjectKind = "user"
	SubjectProfile SubjectKind = "profile"
)

// Subject carries just enough of the target entity to evaluate ownership
// rules. Callers fill only the fields that apply to the entity kind.
type Subject struct {
	Kind SubjectKind

	// OwnerID is the user who owns the record: the profile's user, or the
	// account behind a client record.
	OwnerID string

	// ManagerID is the staff member managing a client.
	ManagerID string

	// AssignedByID and Assignees describe a task's creator and workers.
	AssignedByID string
	Assignees    []string

	// ClientID is the client a task references, if any.
	ClientID string

	// TargetRole is the role held by (or being assigned to) the user a
	// user-management action targets.
	TargetRole domain.Role
}

// Reason classifies a denial.
type Reason string

const (
	ReasonAllowed        Reason = ""
	ReasonAccountBlocked Reason = "account_blocked"
	ReasonUnspecified    Reason = "unspecified"
)

// Decision is the resolver verdict plus the rule that produced it, so audit
// trails can show why an action was permitted or refused.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason Reason `json:"reason,omitempty"`
	Rule   string `json:"rule"`
}

func allow(rule string) Decision {
	return Decision{Allow: true, Rule: rule}
}

func deny(rule string, reason Reason) Decision {
	return Decision{Allow: false, Reason: reason, Rule: rule}
}

// rule is one row of the resolver table. match returns false to fall through
// to the next row; the first matching row wins.
type rule struct {
	name  string
	match func(actor domain.Claim, action Action, subject Subject) (Decision, bool)
}

// The table is ordered most-specific-first. Blocked accounts are handled
// before any role rule; the final row is the default deny.
var table = []rule{
	{"blocked-account", blockedAccount},
	{"system-full-access", systemFullAccess},
	{"admin-full-access", adminFullAccess},
	{"partner", partnerRules},
	{"staff", staffRules},
	{"client-role", clientRules},
	{"default-deny", func(domain.Claim, Action, Subject) (Decision, bool) {
		return deny("default-deny", ReasonUnspecified), true
	}},
}

// Resolve maps (actor, action, subject) to a Decision. It is pure and total:
// no I/O, never panics, deterministic for identical inputs. Unknown actions
// and unknown roles fall through to the default deny.
func Resolve(actor domain.Claim, action Action, subject Subject) Decision {
	for _, r := range table {
		if d, ok := r.match(actor, action, subject); ok {
			return d
		}
	}
	// Unreachable: the table ends with default-deny.
	return deny("default-deny", ReasonUnspecified)
}

func blockedAccount(actor domain.Claim, action Action, subject Subject) (Decision, bool) {
	if actor.IsActive {
		return Decision{}, false
	}
	// A blocked actor may still inspect their own profile so the session
	// surface can explain the block.
	if action == ViewEntity && subject.Kind == SubjectProfile && subject.OwnerID == actor.ID {
		return allow("blocked-account-own-profile"), true
	}
	return deny("blocked-account", ReasonAccountBlocked), true
}

func systemFullAccess(actor domain.Claim, _ Action, _ Subject) (Decision, bool) {
	if actor.Role != domain.RoleSystem {
		return Decision{}, false
	}
	return allow("system-full-access"), true
}

func adminFullAccess(actor domain.Claim, _ Action, _ Subject) (Decision, bool) {
	if actor.Role != domain.RoleAdmin {
		return Decision{}, false
	}
	return allow("admin-full-access"), true
}

func partnerRules(actor domain.Claim, action Action, subject Subject) (Decision, bool) {
	if actor.Role != domain.RolePartner {
		return Decision{}, false
	}
	switch action {
	case CreateClient, CreateTask, ReassignTask:
		return allow("partner-create"), true
	case UpdateClient, DeleteClient:
		if subject.ManagerID == actor.ID {
			return allow("partner-managed-client"), true
		}
		return deny("partner-managed-client", ReasonUnspecified), true
	case CreateUser, UpdateUser:
		if subordinateRole(subject.TargetRole) {
			return allow("partner-manage-staff"), true
		}
		return deny("partner-manage-staff", ReasonUnspecified), true
	case ChangeUserRole:
		// A partner can never promote anyone into the admin or partner
		// tier, and only manages the executive/consultant tier.
		if subordinateRole(subject.TargetRole) {
			return allow("partner-role-ceiling"), true
		}
		return deny("partner-role-ceiling", ReasonUnspecified), true
	case DeleteTask:
		if subject.AssignedByID == actor.ID {
			return allow("partner-own-task-delete"), true
		}
		return deny("partner-own-task-delete", ReasonUnspecified), true
	case DeleteUser:
		return deny("partner-no-user-delete", ReasonUnspecified), true
	case ApproveBilling:
		if actor.CanApproveBilling {
			return allow("partner-billing-approver"), true
		}
		return deny("partner-billing-approver", ReasonUnspecified), true
	case UpdateTaskStatus:
		return staffTaskStatus(actor, subject, "partner-own-task")
	case ViewEntity:
		return allow("partner-view"), true
	}
	return Decision{}, false
}

func staffRules(actor domain.Claim, action Action, subject Subject) (Decision, bool) {
	if actor.Role != domain.RoleBusinessExecutive && actor.Role != domain.RoleBusinessConsultant {
		return Decision{}, false
	}
	switch action {
	case UpdateTaskStatus:
		return staffTaskStatus(actor, subject, "staff-own-task")
	case ViewEntity:
		switch subject.Kind {
		case SubjectClient:
			return allow("staff-view-clients"), true
		case SubjectTask:
			if subject.AssignedByID == actor.ID || subjectHasAssignee(subject, actor.ID) {
				return allow("staff-view-own-task"), true
			}
			return deny("staff-view-own-task", ReasonUnspecified), true
		case SubjectProfile:
			if subject.OwnerID == actor.ID {
				return allow("staff-view-own-profile"), true
			}
			return deny("staff-view-own-profile", ReasonUnspecified), true
		}
		return deny("staff-view", ReasonUnspecified), true
	}
	return Decision{}, false
}

// staffTaskStatus allows a status transition to the task's assignees and to
// its creator.
func staffTaskStatus(actor domain.Claim, subject Subject, ruleName string) (Decision, bool) {
	if subject.Kind != SubjectTask {
		return deny(ruleName, ReasonUnspecified), true
	}
	if subject.AssignedByID == actor.ID || subjectHasAssignee(subject, actor.ID) {
		return allow(ruleName), true
	}
	return deny(ruleName, ReasonUnspecified), true
}

func clientRules(actor domain.Claim, action Action, subject Subject) (Decision, bool) {
	if !actor.Role.Client() {
		return Decision{}, false
	}
	if action != ViewEntity {
		return deny("client-read-only", ReasonUnspecified), true
	}
	switch subject.Kind {
	case SubjectClient, SubjectProfile:
		if subject.OwnerID == actor.ID {
			return allow("client-own-record"), true
		}
	case SubjectTask:
		if subject.ClientID != "" && subject.ClientID == actor.ID {
			return allow("client-own-tasks"), true
		}
	}
	return deny("client-read-only", ReasonUnspecified), true
}

func subordinateRole(r domain.Role) bool {
	return r == domain.RoleBusinessExecutive || r == domain.RoleBusinessConsultant
}

func subjectHasAssignee(subject Subject, userID string) bool {
	for _, id := range subject.Assignees {
		if id == userID {
			return true
		}
	}
	return false
}
