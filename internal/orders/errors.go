package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrForbidden = errors.New("not allowed for this user")
)

// TransitionDeniedError rejects an out-of-order request and carries the
// authoritative state so the caller can resync.
type TransitionDeniedError struct {
	Entity    string `json:"entity"` // order | item | payment | refund
	ID        string `json:"id"`
	Current   string `json:"current"`
	Requested string `json:"requested"`
	Reason    string `json:"reason,omitempty"`
}

func (e *TransitionDeniedError) Error() string {
	msg := fmt.Sprintf("%s %s: cannot move from %s to %s", e.Entity, e.ID, e.Current, e.Requested)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func Denied(entity, id string, current, requested any, reason string) error {
	return &TransitionDeniedError{
		Entity: entity, ID: id,
		Current: fmt.Sprint(current), Requested: fmt.Sprint(requested),
		Reason: reason,
	}
}
