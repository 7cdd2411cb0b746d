// Package scanner is the timer-triggered sweep that deletes expired guest
// clients and tasks past their retention window. Each tick acts as the
// reserved SYSTEM actor and runs every deletion through the policy resolver,
// purely so the audit trail carries a decision trace for automated removals.
package scanner

import (
	"context"
	"database/sql"
	"log"
	"sync/atomic"
	"time"

	"deskline/internal/dispatch"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/lifecycle"
	"deskline/internal/policy"
)

type Scanner struct {
	Engine *engine.Engine

	running atomic.Bool
}

func New(eng *engine.Engine) *Scanner {
	return &Scanner{Engine: eng}
}

// Report summarizes one tick. Per-row failures land in Errors and never stop
// the rest of the batch.
type Report struct {
	DeletedClients int      `json:"deleted_clients"`
	DeletedTasks   int      `json:"deleted_tasks"`
	Errors         []string `json:"errors,omitempty"`
}

// RunTick sweeps once at the given instant. A second tick over the same data
// finds nothing left to delete, so overlapping or replayed ticks cannot
// double-count.
func (s *Scanner) RunTick(ctx context.Context, now time.Time) (Report, error) {
	actor := domain.SystemClaim()
	var report Report

	expired, err := s.Engine.Repo.ExpiredGuests(ctx, now)
	if err != nil {
		return report, err
	}
	for _, client := range expired {
		deleted, err := s.deleteClient(ctx, client, actor, now)
		if err != nil {
			report.Errors = append(report.Errors, "client "+client.ID+": "+err.Error())
			continue
		}
		if deleted {
			report.DeletedClients++
		}
	}

	stale, err := s.Engine.Repo.TasksPastDeletion(ctx, now)
	if err != nil {
		return report, err
	}
	for _, task := range stale {
		if err := s.deleteTask(ctx, task, actor, now); err != nil {
			report.Errors = append(report.Errors, "task "+task.ID+": "+err.Error())
			continue
		}
		report.DeletedTasks++
	}
	return report, nil
}

func (s *Scanner) deleteClient(ctx context.Context, client domain.Client, actor domain.Claim, now time.Time) (bool, error) {
	// The SQL cutoff compares stamps as strings; re-check with the parsed
	// predicate and leave rows with unreadable stamps alone rather than
	// counting them deleted.
	if !lifecycle.Expired(client, now) {
		return false, nil
	}
	subject := policy.Subject{Kind: policy.SubjectClient, OwnerID: client.ID, ManagerID: client.ManagerID, ClientID: client.ID}
	decision := policy.Resolve(actor, policy.DeleteClient, subject)
	if !decision.Allow {
		return false, &policy.DeniedError{Action: policy.DeleteClient, Decision: decision}
	}
	snapshot := client
	ev := lifecycle.Event{
		Kind:       lifecycle.ClientExpiredDeleted,
		Actor:      actor,
		OccurredAt: now.UTC().Format(time.RFC3339),
		Decision:   decision.Rule,
		Client:     &snapshot,
	}
	// The cascade removes the client's tasks in the same transaction.
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.Engine.Repo.DeleteClient(ctx, tx, client.ID); err != nil {
			return err
		}
		return s.applyEffects(ctx, tx, ev)
	})
	return err == nil, err
}

func (s *Scanner) deleteTask(ctx context.Context, task domain.Task, actor domain.Claim, now time.Time) error {
	subject := policy.Subject{Kind: policy.SubjectTask, AssignedByID: task.AssignedByID, Assignees: task.Assignees}
	decision := policy.Resolve(actor, policy.DeleteTask, subject)
	if !decision.Allow {
		return &policy.DeniedError{Action: policy.DeleteTask, Decision: decision}
	}
	snapshot := task
	ev := lifecycle.Event{
		Kind:       lifecycle.TaskScheduledDeleted,
		Actor:      actor,
		OccurredAt: now.UTC().Format(time.RFC3339),
		Decision:   decision.Rule,
		Task:       &snapshot,
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.Engine.Repo.DeleteTask(ctx, tx, task.ID); err != nil {
			return err
		}
		return s.applyEffects(ctx, tx, ev)
	})
}

func (s *Scanner) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.Engine.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Scanner) applyEffects(ctx context.Context, tx *sql.Tx, ev lifecycle.Event) error {
	eff := dispatch.Dispatch(ev)
	if err := s.Engine.Writer.AppendAll(ctx, tx, eff.Activities); err != nil {
		return err
	}
	for _, n := range eff.Notifications {
		if err := s.Engine.Repo.InsertNotification(ctx, tx, n); err != nil {
			return err
		}
	}
	return nil
}

// Run ticks on the configured interval until the context ends. A tick that is
// still running when the next interval fires is not overlapped; the late tick
// is skipped instead.
func (s *Scanner) Run(ctx context.Context) {
	interval := s.Engine.Config.ScanInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scanner) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		log.Printf("scanner: previous tick still running, skipping")
		return
	}
	defer s.running.Store(false)

	tickCtx, cancel := context.WithTimeout(ctx, s.Engine.Config.TickTimeout())
	defer cancel()

	report, err := s.RunTick(tickCtx, s.Engine.Now())
	if err != nil {
		log.Printf("scanner: tick failed: %v", err)
		return
	}
	if report.DeletedClients > 0 || report.DeletedTasks > 0 || len(report.Errors) > 0 {
		log.Printf("scanner: deleted %d clients, %d tasks, %d errors",
			report.DeletedClients, report.DeletedTasks, len(report.Errors))
	}
}
