package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Ledger coordinator failures. Each one aborts the owning transaction;
// a partially applied grant or role change can never be observed.
var (
	// ErrNotAuthorized is returned when the caller's role, re-read inside
	// the transaction, does not permit the operation.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidTarget is returned when the target is missing or is not a
	// plain user. Sellers and admins cannot be granted balances.
	ErrInvalidTarget = errors.New("invalid target")

	// ErrInvalidKind is returned when a grant names a kind that does not
	// carry a balance, such as role_change.
	ErrInvalidKind = errors.New("kind cannot carry an amount")

	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrSelfGrant is returned when the caller targets itself.
	ErrSelfGrant = errors.New("cannot grant to yourself")

	// ErrInvalidRole is returned for a role outside {user, seller, admin}.
	ErrInvalidRole = errors.New("invalid role")
)
