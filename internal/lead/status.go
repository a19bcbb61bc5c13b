package lead

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the outreach stage of a lead.
type Status string

const (
	StatusNew      Status = "NEW"
	StatusDrafting Status = "DRAFTING"
	StatusReview   Status = "REVIEW"
	StatusReady    Status = "READY"
	StatusSent     Status = "SENT"
)

// Statuses lists every status in pipeline order.
var Statuses = []Status{StatusNew, StatusDrafting, StatusReview, StatusReady, StatusSent}

var (
	// ErrNotFound is returned when no lead has the requested id.
	ErrNotFound = errors.New("lead not found")
	// ErrInvalidTransition is returned when a lead is not in the state a trigger requires.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// transitions is the complete set of allowed status changes.
// READY -> READY is the editor save on an already approved draft.
var transitions = map[Status][]Status{
	StatusNew:      {StatusDrafting},
	StatusDrafting: {StatusReview, StatusNew},
	StatusReview:   {StatusReady},
	StatusReady:    {StatusReady, StatusSent},
}

// Valid reports whether s is one of the five defined statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionError describes a rejected status change.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("lead %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Transition moves l to status to if the table allows it. When expect is non-empty the
// lead must currently be in one of those states; this is how triggers name their
// required "from" state.
func (l *Lead) Transition(to Status, expect ...Status) error {
	if len(expect) > 0 {
		ok := false
		for _, s := range expect {
			if l.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return &TransitionError{ID: l.ID, From: l.Status, To: to}
		}
	}
	if !CanTransition(l.Status, to) {
		return &TransitionError{ID: l.ID, From: l.Status, To: to}
	}
	l.Status = to
	return nil
}
