package sync

import "fmt"

// ItemError records a single event that could not be reconciled.
// EventID is the local event id for create/update/persist failures and
// the remote event id for prune failures.
type ItemError struct {
	EventID string
	Op      string // "validate", "create", "update", "persist-link", "delete"
	Err     error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.EventID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// Result accumulates the outcome of one user's sync run. It is
// observability data only and is never persisted.
type Result struct {
	Created []string
	Updated []string
	Deleted []string
	Failed  []ItemError

	// AuthRequired marks the user as skipped: no usable credential and
	// the user must re-authorize before syncing can resume.
	AuthRequired bool
}

func (r *Result) fail(eventID, op string, err error) {
	r.Failed = append(r.Failed, ItemError{EventID: eventID, Op: op, Err: err})
}

// Summary renders a short line for logging.
func (r *Result) Summary() string {
	if r.AuthRequired {
		return "skipped: authorization required"
	}
	return fmt.Sprintf("created=%d updated=%d deleted=%d failed=%d",
		len(r.Created), len(r.Updated), len(r.Deleted), len(r.Failed))
}

// ValidationError indicates that a local event is malformed and cannot
// be mapped onto a remote calendar event.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid event: " + e.Reason
}
