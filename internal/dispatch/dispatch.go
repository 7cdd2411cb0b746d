// Package dispatch turns lifecycle events into the audit activities and
// notifications every transition must produce. The mapping table below is the
// single source of truth for "who gets told what"; handlers and the scanner
// never build these records themselves.
package dispatch

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"deskline/internal/domain"
	"deskline/internal/lifecycle"
)

// Effects is the full set of side-effect records one event requires.
type Effects struct {
	Activities    []domain.Activity
	Notifications []domain.Notification
}

// mapping fully determines the activity row and notification recipients for
// one event kind.
type mapping struct {
	entityType string
	action     func(ev lifecycle.Event) string
	details    func(ev lifecycle.Event) map[string]any
	notify     func(ev lifecycle.Event) []note
}

type note struct {
	to      string
	title   string
	content string
}

var table = map[lifecycle.EventKind]mapping{
	lifecycle.TaskStatusChanged: {
		entityType: "task",
		action: func(ev lifecycle.Event) string {
			switch ev.ToStatus {
			case domain.TaskCompleted:
				return "completed"
			case domain.TaskCancelled:
				return "cancelled"
			}
			return "updated"
		},
		details: func(ev lifecycle.Event) map[string]any {
			return map[string]any{"from": ev.FromStatus, "to": ev.ToStatus}
		},
		notify: func(ev lifecycle.Event) []note {
			if ev.Task == nil || (ev.ToStatus != domain.TaskCompleted && ev.ToStatus != domain.TaskCancelled) {
				return nil
			}
			return []note{{
				to:      ev.Task.AssignedByID,
				title:   "Task " + string(ev.ToStatus),
				content: "Task \"" + ev.Task.Title + "\" is now " + string(ev.ToStatus) + ".",
			}}
		},
	},
	lifecycle.TaskBillingChanged: {
		entityType: "task",
		action:     func(ev lifecycle.Event) string { return string(ev.ToBilling) },
		details: func(ev lifecycle.Event) map[string]any {
			return map[string]any{"from": ev.FromBilling, "to": ev.ToBilling}
		},
		notify: func(ev lifecycle.Event) []note {
			if ev.Task == nil {
				return nil
			}
			return []note{{
				to:      ev.Task.AssignedByID,
				title:   "Task billing updated",
				content: "Billing for task \"" + ev.Task.Title + "\" moved to " + string(ev.ToBilling) + ".",
			}}
		},
	},
	lifecycle.TaskReassigned: {
		entityType: "task",
		action:     func(lifecycle.Event) string { return "assigned" },
		details: func(ev lifecycle.Event) map[string]any {
			return map[string]any{"added": ev.AddedAssignees, "removed": ev.RemovedAssignees}
		},
		notify: func(ev lifecycle.Event) []note {
			if ev.Task == nil {
				return nil
			}
			var notes []note
			for _, id := range ev.AddedAssignees {
				notes = append(notes, note{
					to:      id,
					title:   "Task assigned to you",
					content: "You were assigned to task \"" + ev.Task.Title + "\".",
				})
			}
			for _, id := range ev.RemovedAssignees {
				notes = append(notes, note{
					to:      id,
					title:   "Task unassigned",
					content: "You were removed from task \"" + ev.Task.Title + "\".",
				})
			}
			return notes
		},
	},
	lifecycle.TaskScheduledDeleted: {
		entityType: "task",
		action:     func(lifecycle.Event) string { return "scheduled_deleted" },
		details: func(ev lifecycle.Event) map[string]any {
			if ev.Task == nil || ev.Task.ScheduledDeletionDate == nil {
				return nil
			}
			return map[string]any{"scheduled_deletion_date": *ev.Task.ScheduledDeletionDate}
		},
		notify: func(ev lifecycle.Event) []note {
			if ev.Task == nil {
				return nil
			}
			return []note{{
				to:      ev.Task.AssignedByID,
				title:   "Task deleted",
				content: "Task \"" + ev.Task.Title + "\" passed its retention window and was deleted.",
			}}
		},
	},
	lifecycle.ClientCreated: {
		entityType: "client",
		action:     func(lifecycle.Event) string { return "created" },
		details: func(ev lifecycle.Event) map[string]any {
			if ev.Client == nil {
				return nil
			}
			return map[string]any{"is_guest": ev.Client.IsGuest}
		},
		notify: func(ev lifecycle.Event) []note {
			if ev.Client == nil {
				return nil
			}
			return []note{{
				to:      ev.Client.ManagerID,
				title:   "Client created",
				content: "Client \"" + ev.Client.ContactPerson + "\" was added under your management.",
			}}
		},
	},
	lifecycle.ClientExpiredDeleted: {
		entityType: "client",
		action:     func(lifecycle.Event) string { return "expired_deleted" },
		details: func(ev lifecycle.Event) map[string]any {
			if ev.Client == nil || ev.Client.AccessExpiry == nil {
				return nil
			}
			return map[string]any{"access_expiry": *ev.Client.AccessExpiry}
		},
		notify: func(ev lifecycle.Event) []note {
			if ev.Client == nil {
				return nil
			}
			return []note{{
				to:      ev.Client.ManagerID,
				title:   "Guest client expired",
				content: "Guest client \"" + ev.Client.ContactPerson + "\" passed its access expiry and was removed.",
			}}
		},
	},
	lifecycle.UserRoleChanged: {
		entityType: "user",
		action:     func(lifecycle.Event) string { return "role_changed" },
		details: func(ev lifecycle.Event) map[string]any {
			return map[string]any{"from": ev.FromRole, "to": ev.ToRole}
		},
		notify: func(ev lifecycle.Event) []note {
			if ev.User == nil {
				return nil
			}
			return []note{{
				to:      ev.User.ID,
				title:   "Your role changed",
				content: "Your role is now " + string(ev.ToRole) + ".",
			}}
		},
	},
	lifecycle.UserBlocked: {
		entityType: "user",
		action:     func(lifecycle.Event) string { return "blocked" },
		details:    func(lifecycle.Event) map[string]any { return nil },
		notify: func(ev lifecycle.Event) []note {
			if ev.User == nil {
				return nil
			}
			return []note{{
				to:      ev.User.ID,
				title:   "Account deactivated",
				content: "Your account has been deactivated. Contact an administrator.",
			}}
		},
	},
}

// Dispatch derives the activity and notification records for one event.
// Identical events produce identical records, ids included, so at-least-once
// delivery from the scanner cannot change the audit trail's meaning.
func Dispatch(ev lifecycle.Event) Effects {
	m, ok := table[ev.Kind]
	if !ok {
		return Effects{}
	}
	entityID := ev.EntityID()
	activity := domain.Activity{
		ID:        stableID("activity", ev, entityID, ""),
		Type:      m.entityType,
		Action:    m.action(ev),
		Target:    entityID,
		UserID:    ev.Actor.ID,
		CreatedAt: ev.OccurredAt,
	}
	d := m.details(ev)
	if ev.Decision != "" {
		if d == nil {
			d = map[string]any{}
		}
		d["decision"] = ev.Decision
	}
	if len(d) > 0 {
		if raw, err := json.Marshal(d); err == nil {
			activity.Details = string(raw)
		}
	}
	eff := Effects{Activities: []domain.Activity{activity}}
	for _, n := range m.notify(ev) {
		if n.to == "" {
			continue
		}
		eff.Notifications = append(eff.Notifications, domain.Notification{
			ID:        stableID("notification", ev, entityID, n.to),
			Title:     n.title,
			Content:   n.content,
			SentByID:  ev.Actor.ID,
			SentToID:  n.to,
			CreatedAt: ev.OccurredAt,
		})
	}
	return eff
}

// DispatchAll flattens the effects for a batch of events in order.
func DispatchAll(events []lifecycle.Event) Effects {
	var eff Effects
	for _, ev := range events {
		one := Dispatch(ev)
		eff.Activities = append(eff.Activities, one.Activities...)
		eff.Notifications = append(eff.Notifications, one.Notifications...)
	}
	return eff
}

// stableID derives a deterministic id from the event fingerprint, the same
// way task ids are derived from their creation fingerprint. The fingerprint
// must cover every field that distinguishes two events; the stores insert
// with OR IGNORE, so a collision here silently drops the second record.
func stableID(recordKind string, ev lifecycle.Event, entityID, recipient string) string {
	seed := recordKind + "|" + string(ev.Kind) + "|" + entityID + "|" + recipient + "|" +
		ev.Actor.ID + "|" + ev.OccurredAt + "|" +
		string(ev.FromStatus) + ">" + string(ev.ToStatus) + "|" +
		string(ev.FromBilling) + ">" + string(ev.ToBilling) + "|" +
		string(ev.FromRole) + ">" + string(ev.ToRole) + "|" +
		assigneeSet(ev.AddedAssignees) + ">" + assigneeSet(ev.RemovedAssignees)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String()
}

func assigneeSet(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}
