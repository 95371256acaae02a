package payment

import "context"

// Guard is the precondition a status transition is applied under.
type Guard int

const (
	// GuardOpen applies only while the payable is not settled.
	GuardOpen Guard = iota
	// GuardSucceeded applies only to paid payables, for refunds.
	GuardSucceeded
	// GuardPending applies only while the payable is still pending.
	GuardPending
)

// Transition is a conditional status change.
type Transition struct {
	Reference     string
	To            string
	TransactionID string
	FailureReason string
	Guard         Guard
}

// Store persists payables. Lookups return ErrPayableNotFound when nothing matches.
type Store interface {
	FindByReference(ctx context.Context, reference string) (*Payable, error)
	FindByID(ctx context.Context, id string) (*Payable, error)
	// TransitionStatus applies t atomically and reports whether a row changed.
	TransitionStatus(ctx context.Context, t Transition) (bool, error)
}

// Allows reports whether a payable currently in status passes g.
func (g Guard) Allows(status string) bool {
	switch g {
	case GuardSucceeded:
		return IsSuccess(status)
	case GuardPending:
		return IsPending(status)
	default:
		return !IsSettled(status)
	}
}
