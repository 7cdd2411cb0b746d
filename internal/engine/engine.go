// Package engine orchestrates one mutation end to end: policy gate, pure
// lifecycle machine, side-effect dispatch, then a single transaction that
// persists the snapshot together with its audit trail.
package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"deskline/internal/activity"
	"deskline/internal/config"
	"deskline/internal/dispatch"
	"deskline/internal/domain"
	"deskline/internal/lifecycle"
	"deskline/internal/policy"
	"deskline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Writer activity.Writer
	Config *config.Config

	// Now is injectable for tests and the scanner.
	Now func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	return &Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) taskRules() lifecycle.TaskRules {
	return lifecycle.TaskRules{Retention: e.Config.RetentionWindow()}
}

func (e *Engine) clientRules() lifecycle.ClientRules {
	return lifecycle.ClientRules{GuestAccess: e.Config.GuestAccess()}
}

// Evaluate exposes the resolver verdict without performing the action. Used
// by the authorization probe endpoint and by tests.
func (e *Engine) Evaluate(actor domain.Claim, action policy.Action, subject policy.Subject) policy.Decision {
	return policy.Resolve(actor, action, subject)
}

// authorize runs the resolver and converts a refusal into a DeniedError.
func (e *Engine) authorize(actor domain.Claim, action policy.Action, subject policy.Subject) (policy.Decision, error) {
	d := policy.Resolve(actor, action, subject)
	if !d.Allow {
		return d, &policy.DeniedError{Action: action, Decision: d}
	}
	return d, nil
}

func (e *Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// applyEffects writes the dispatched activities and notifications inside the
// mutation's transaction, so a committed change is never missing its audit.
func (e *Engine) applyEffects(ctx context.Context, tx *sql.Tx, events []lifecycle.Event) error {
	eff := dispatch.DispatchAll(events)
	if err := e.Writer.AppendAll(ctx, tx, eff.Activities); err != nil {
		return err
	}
	for _, n := range eff.Notifications {
		if err := e.Repo.InsertNotification(ctx, tx, n); err != nil {
			return err
		}
	}
	return nil
}

// newID derives a stable uuid from the creation fingerprint.
func newID(parts ...string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "|"))).String()
}

func taskSubject(t domain.Task) policy.Subject {
	s := policy.Subject{
		Kind:         policy.SubjectTask,
		AssignedByID: t.AssignedByID,
		Assignees:    t.Assignees,
	}
	if t.ClientID != nil {
		s.ClientID = *t.ClientID
	}
	return s
}

func clientSubject(c domain.Client) policy.Subject {
	// A client account's user id equals its client record id, so ownership
	// checks compare against the record id directly.
	return policy.Subject{
		Kind:      policy.SubjectClient,
		OwnerID:   c.ID,
		ManagerID: c.ManagerID,
		ClientID:  c.ID,
	}
}

func userSubject(u domain.User) policy.Subject {
	return policy.Subject{Kind: policy.SubjectUser, OwnerID: u.ID, TargetRole: u.Role}
}
