package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"deskline/internal/domain"
	"deskline/internal/lifecycle"
	"deskline/internal/policy"
	"deskline/internal/repo"
)

// CreateClient validates and persists a new client record. The manager
// defaults to the creating actor.
func (e *Engine) CreateClient(ctx context.Context, input lifecycle.CreateClientInput, actor domain.Claim) (domain.Client, error) {
	if input.ManagerID == "" {
		input.ManagerID = actor.ID
	}
	decision, err := e.authorize(actor, policy.CreateClient, policy.Subject{Kind: policy.SubjectClient, ManagerID: input.ManagerID})
	if err != nil {
		return domain.Client{}, err
	}
	now := e.now()
	if input.ID == "" {
		input.ID = newID("client", input.ContactPerson, input.ManagerID, now.UTC().Format(time.RFC3339))
	}
	client, events, err := e.clientRules().Create(input, actor, now)
	if err != nil {
		return domain.Client{}, err
	}
	for i := range events {
		events[i].Decision = decision.Rule
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertClient(ctx, tx, client); err != nil {
			return err
		}
		return e.applyEffects(ctx, tx, events)
	})
	if err != nil {
		return domain.Client{}, err
	}
	return client, nil
}

// UpdateClientOptions holds the mutable client fields. Nil means unchanged.
type UpdateClientOptions struct {
	ContactPerson *string
	CompanyName   *string
	Email         *string
	Phone         *string
	ManagerID     *string

	// AccessExpiry reschedules a guest's window. Rejected for permanent
	// clients.
	AccessExpiry *string
}

func (e *Engine) UpdateClient(ctx context.Context, id string, opts UpdateClientOptions, actor domain.Claim) (domain.Client, error) {
	client, err := e.Repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	if _, err := e.authorize(actor, policy.UpdateClient, clientSubject(client)); err != nil {
		return domain.Client{}, err
	}
	expected := client.UpdatedAt

	if opts.ContactPerson != nil {
		v := strings.TrimSpace(*opts.ContactPerson)
		if v == "" {
			return domain.Client{}, lifecycle.ValidationError{Field: "contact_person", Reason: "must not be empty"}
		}
		client.ContactPerson = v
	}
	if opts.CompanyName != nil {
		client.CompanyName = strings.TrimSpace(*opts.CompanyName)
	}
	if opts.Email != nil {
		client.Email = strings.TrimSpace(*opts.Email)
	}
	if opts.Phone != nil {
		client.Phone = strings.TrimSpace(*opts.Phone)
	}
	if (client.Email != "") == (client.Phone != "") {
		return domain.Client{}, lifecycle.ValidationError{Field: "email/phone", Reason: "exactly one of email or phone is required"}
	}
	if opts.ManagerID != nil {
		if *opts.ManagerID == "" {
			return domain.Client{}, lifecycle.ValidationError{Field: "manager_id", Reason: "must not be empty"}
		}
		client.ManagerID = *opts.ManagerID
	}
	now := e.now()
	if opts.AccessExpiry != nil {
		expiry, err := time.Parse(time.RFC3339, *opts.AccessExpiry)
		if err != nil {
			return domain.Client{}, lifecycle.ValidationError{Field: "access_expiry", Reason: "must be RFC3339"}
		}
		client, err = lifecycle.ScheduleGuestExpiry(client, expiry, now)
		if err != nil {
			return domain.Client{}, err
		}
	}
	client.UpdatedAt = now.UTC().Format(time.RFC3339)

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Repo.UpdateClient(ctx, tx, client, expected)
	})
	if err != nil {
		return domain.Client{}, err
	}
	return client, nil
}

// DeleteClient removes a client and, through the store's cascade, every task
// that referenced it.
func (e *Engine) DeleteClient(ctx context.Context, id string, actor domain.Claim) error {
	client, err := e.Repo.GetClient(ctx, id)
	if err != nil {
		return err
	}
	if _, err := e.authorize(actor, policy.DeleteClient, clientSubject(client)); err != nil {
		return err
	}
	return e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Repo.DeleteClient(ctx, tx, id)
	})
}

// GetClient fetches a client record the actor may view.
func (e *Engine) GetClient(ctx context.Context, id string, actor domain.Claim) (domain.Client, error) {
	client, err := e.Repo.GetClient(ctx, id)
	if err != nil {
		return domain.Client{}, err
	}
	if _, err := e.authorize(actor, policy.ViewEntity, clientSubject(client)); err != nil {
		return domain.Client{}, err
	}
	return client, nil
}

// ListClients scopes the query to the actor: client accounts see only their
// own record, staff see the full directory.
func (e *Engine) ListClients(ctx context.Context, f repo.ClientFilters, actor domain.Claim) ([]domain.Client, error) {
	if actor.Role.Client() {
		c, err := e.GetClient(ctx, actor.ID, actor)
		if err == repo.ErrNotFound {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return []domain.Client{c}, nil
	}
	if _, err := e.authorize(actor, policy.ViewEntity, policy.Subject{Kind: policy.SubjectClient}); err != nil {
		return nil, err
	}
	return e.Repo.ListClients(ctx, f)
}
