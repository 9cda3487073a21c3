package domain

import "errors"

var (
	// Lifecycle errors surfaced to callers.
	ErrNotFound          = errors.New("investment not found")
	ErrInvalidState      = errors.New("invalid investment state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnavailable       = errors.New("investment store unavailable")
	// ErrDuplicateOp means the owner's idempotency key was already used by
	// a committed operation.
	ErrDuplicateOp = errors.New("operation already applied")

	// Store errors. ErrTransient is retried by the lifecycle layer and
	// never by settlement.
	ErrTransient = errors.New("transient store error")
	ErrConflict  = errors.New("concurrent investment update")

	// Configuration errors.
	ErrUnknownType = errors.New("unknown investment type")

	ErrNoDecision   = errors.New("no pending emergency decision")
	ErrInvalidTier  = errors.New("invalid emergency response tier")
	ErrUnauthorized = errors.New("unauthorized")
)

// IsTransient reports whether err is worth retrying against the store.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrConflict)
}
