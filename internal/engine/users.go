package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"deskline/internal/domain"
	"deskline/internal/lifecycle"
	"deskline/internal/policy"
)

// CreateUserOptions is the account creation request.
type CreateUserOptions struct {
	ID                string
	Name              string
	Email             string
	Role              domain.Role
	CanApproveBilling bool
}

func (e *Engine) CreateUser(ctx context.Context, opts CreateUserOptions, actor domain.Claim) (domain.User, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.User{}, lifecycle.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if !opts.Role.Known() || opts.Role == domain.RoleSystem {
		return domain.User{}, lifecycle.ValidationError{Field: "role", Reason: "unknown role"}
	}
	if _, err := e.authorize(actor, policy.CreateUser, policy.Subject{Kind: policy.SubjectUser, TargetRole: opts.Role}); err != nil {
		return domain.User{}, err
	}
	ts := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = newID("user", name, string(opts.Role), ts)
	}
	user := domain.User{
		ID:                id,
		Name:              name,
		Email:             strings.TrimSpace(opts.Email),
		Role:              opts.Role,
		IsActive:          true,
		CanApproveBilling: opts.CanApproveBilling,
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Repo.InsertUser(ctx, tx, user)
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// UpdateUserOptions holds the mutable account fields. Nil means unchanged.
// Role changes go through ChangeUserRole so they are gated against both the
// current and the proposed role.
type UpdateUserOptions struct {
	Name              *string
	Email             *string
	CanApproveBilling *bool
	IsActive          *bool
}

func (e *Engine) UpdateUser(ctx context.Context, id string, opts UpdateUserOptions, actor domain.Claim) (domain.User, error) {
	user, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	decision, err := e.authorize(actor, policy.UpdateUser, userSubject(user))
	if err != nil {
		return domain.User{}, err
	}
	expected := user.UpdatedAt
	wasActive := user.IsActive

	if opts.Name != nil {
		v := strings.TrimSpace(*opts.Name)
		if v == "" {
			return domain.User{}, lifecycle.ValidationError{Field: "name", Reason: "must not be empty"}
		}
		user.Name = v
	}
	if opts.Email != nil {
		user.Email = strings.TrimSpace(*opts.Email)
	}
	if opts.CanApproveBilling != nil {
		user.CanApproveBilling = *opts.CanApproveBilling
	}
	if opts.IsActive != nil {
		user.IsActive = *opts.IsActive
	}
	ts := e.now().UTC().Format(time.RFC3339)
	user.UpdatedAt = ts

	var events []lifecycle.Event
	if wasActive && !user.IsActive {
		snapshot := user
		events = append(events, lifecycle.Event{
			Kind:       lifecycle.UserBlocked,
			Actor:      actor,
			OccurredAt: ts,
			Decision:   decision.Rule,
			User:       &snapshot,
		})
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateUser(ctx, tx, user, expected); err != nil {
			return err
		}
		return e.applyEffects(ctx, tx, events)
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// ChangeUserRole moves an account to a new role. The gate runs twice, once
// against the role the account holds and once against the role it would get,
// so a partner can neither touch an admin nor promote anyone to one.
func (e *Engine) ChangeUserRole(ctx context.Context, id string, newRole domain.Role, actor domain.Claim) (domain.User, error) {
	if !newRole.Known() || newRole == domain.RoleSystem {
		return domain.User{}, lifecycle.ValidationError{Field: "role", Reason: "unknown role"}
	}
	user, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := e.authorize(actor, policy.ChangeUserRole, userSubject(user)); err != nil {
		return domain.User{}, err
	}
	decision, err := e.authorize(actor, policy.ChangeUserRole, policy.Subject{Kind: policy.SubjectUser, OwnerID: user.ID, TargetRole: newRole})
	if err != nil {
		return domain.User{}, err
	}
	if user.Role == newRole {
		return user, nil
	}
	expected := user.UpdatedAt
	fromRole := user.Role
	ts := e.now().UTC().Format(time.RFC3339)
	user.Role = newRole
	user.UpdatedAt = ts

	snapshot := user
	events := []lifecycle.Event{{
		Kind:       lifecycle.UserRoleChanged,
		Actor:      actor,
		OccurredAt: ts,
		Decision:   decision.Rule,
		User:       &snapshot,
		FromRole:   fromRole,
		ToRole:     newRole,
	}}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpdateUser(ctx, tx, user, expected); err != nil {
			return err
		}
		return e.applyEffects(ctx, tx, events)
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (e *Engine) DeleteUser(ctx context.Context, id string, actor domain.Claim) error {
	user, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	if _, err := e.authorize(actor, policy.DeleteUser, userSubject(user)); err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Repo.DeleteUser(ctx, tx, id)
	})
}

// GetProfile fetches an account. Deactivated actors may still read their own
// profile; everything else stays behind the blocked-account rule.
func (e *Engine) GetProfile(ctx context.Context, id string, actor domain.Claim) (domain.User, error) {
	user, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if _, err := e.authorize(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectProfile, OwnerID: user.ID, TargetRole: user.Role}); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (e *Engine) ListUsers(ctx context.Context, role domain.Role, actor domain.Claim) ([]domain.User, error) {
	if _, err := e.authorize(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectUser}); err != nil {
		return nil, err
	}
	return e.Repo.ListUsers(ctx, role)
}
