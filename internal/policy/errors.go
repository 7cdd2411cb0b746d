package policy

import "fmt"

// DeniedError carries the resolver verdict for a refused action so callers
// can surface the rule and reason without re-running the resolver.
type DeniedError struct {
	Action   Action
	Decision Decision
}

func (e *DeniedError) Error() string {
	if e.Decision.Reason != ReasonAllowed {
		return fmt.Sprintf("action %s denied by rule %s: %s", e.Action, e.Decision.Rule, e.Decision.Reason)
	}
	return fmt.Sprintf("action %s denied by rule %s", e.Action, e.Decision.Rule)
}
