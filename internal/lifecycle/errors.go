package lifecycle

import (
	"fmt"

	"deskline/internal/domain"
)

// TransitionError rejects a status move the adjacency rules do not permit.
type TransitionError struct {
	From domain.TaskStatus
	To   domain.TaskStatus
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid task status transition %s -> %s", e.From, e.To)
}

// BillingError rejects a billing status change.
type BillingError struct {
	From   domain.BillingStatus
	To     domain.BillingStatus
	Status domain.TaskStatus
}

func (e BillingError) Error() string {
	if e.Status != domain.TaskCompleted {
		return fmt.Sprintf("billing not eligible: task status is %s, billing requires completed", e.Status)
	}
	return fmt.Sprintf("billing not eligible: billing status may not move %s -> %s", e.From, e.To)
}

// NoAssigneeError rejects a reassignment that would leave an active task
// with nobody responsible for it.
type NoAssigneeError struct {
	TaskID string
}

func (e NoAssigneeError) Error() string {
	return fmt.Sprintf("task %s is active and must keep at least one assignee", e.TaskID)
}

// ValidationError rejects malformed entity input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
