package lifecycle

import "errors"

// Lifecycle errors. Every operation returns a value or exactly one of
// these (possibly wrapped); callers branch with errors.Is.
var (
	// ErrInvalidCode rejects codes that are not 4 uppercase letters/digits.
	ErrInvalidCode = errors.New("pickup code must be 4 uppercase letters or digits")

	// ErrUnassigned rejects actors with no usable restaurant context.
	ErrUnassigned = errors.New("actor has no restaurant assignment")

	// ErrDuplicateCode surfaces a store uniqueness conflict verbatim.
	ErrDuplicateCode = errors.New("pickup code already in use")

	// ErrRateLimited surfaces a store too-many-requests signal verbatim.
	ErrRateLimited = errors.New("too many requests")

	// ErrPendingLimitReached is the local admission guard: the restaurant
	// already shows the configured number of pending tickets. Raised before
	// any store call; the count is not authoritative.
	ErrPendingLimitReached = errors.New("pending ticket limit reached")

	// ErrNotFound reports a ticket that vanished between render and action.
	ErrNotFound = errors.New("ticket not found")

	// ErrForbidden reports a role or restaurant-scope mismatch. The engine
	// checks this itself; UI gating is never the only gate.
	ErrForbidden = errors.New("operation not permitted for this actor")

	// ErrAlreadyDeleted rejects a soft delete of a soft-deleted ticket.
	ErrAlreadyDeleted = errors.New("ticket already deleted")

	// ErrNotDeleted rejects a restore of a ticket that is not soft-deleted,
	// so restore never double-clears already-null fields.
	ErrNotDeleted = errors.New("ticket is not deleted")
)
