package engine

import (
	"context"

	"deskline/internal/domain"
	"deskline/internal/policy"
	"deskline/internal/repo"
)

// ListNotifications returns the actor's own inbox, newest first.
func (e *Engine) ListNotifications(ctx context.Context, actor domain.Claim, unreadOnly bool, limit int) ([]domain.Notification, error) {
	if _, err := e.authorize(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectProfile, OwnerID: actor.ID}); err != nil {
		return nil, err
	}
	return e.Repo.ListNotifications(ctx, actor.ID, unreadOnly, limit)
}

// MarkNotificationRead flips IsRead on one of the actor's notifications. The
// store scopes the update to the recipient, so marking someone else's
// notification is indistinguishable from it not existing.
func (e *Engine) MarkNotificationRead(ctx context.Context, id string, actor domain.Claim) error {
	if _, err := e.authorize(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectProfile, OwnerID: actor.ID}); err != nil {
		return err
	}
	return e.Repo.MarkNotificationRead(ctx, id, actor.ID)
}

// ClearNotifications deletes the actor's inbox and reports how many rows went.
func (e *Engine) ClearNotifications(ctx context.Context, actor domain.Claim) (int64, error) {
	if _, err := e.authorize(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectProfile, OwnerID: actor.ID}); err != nil {
		return 0, err
	}
	return e.Repo.DeleteNotificationsFor(ctx, actor.ID)
}

// UnreadCount returns the number of unread notifications for the actor.
func (e *Engine) UnreadCount(ctx context.Context, actor domain.Claim) (int, error) {
	if _, err := e.authorize(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectProfile, OwnerID: actor.ID}); err != nil {
		return 0, err
	}
	return e.Repo.CountUnread(ctx, actor.ID)
}

// ActivityLog returns the newest audit lines. Restricted to full-access roles.
func (e *Engine) ActivityLog(ctx context.Context, limit int, typ, action, target string, actor domain.Claim) ([]repo.ActivityRecord, error) {
	if actor.Role != domain.RoleAdmin && actor.Role != domain.RoleSystem && actor.Role != domain.RolePartner {
		return nil, &policy.DeniedError{
			Action:   policy.ViewEntity,
			Decision: policy.Resolve(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectNone}),
		}
	}
	if !actor.IsActive {
		return nil, &policy.DeniedError{
			Action:   policy.ViewEntity,
			Decision: policy.Resolve(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectNone}),
		}
	}
	return e.Repo.LatestActivities(ctx, limit, typ, action, target)
}
