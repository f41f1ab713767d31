package domain

import "errors"

var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller is not the owner of the enclosing
	// board. The API boundary decides whether to mask this as a 404.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidPosition indicates a move request that names no usable
	// target index. Out-of-range indexes are clamped, not rejected.
	ErrInvalidPosition = errors.New("invalid position")

	// ErrCrossBoardMove indicates an attempt to move a card into a list
	// that belongs to a different board.
	ErrCrossBoardMove = errors.New("cross-board move")

	// ErrLimitExceeded indicates a sibling set is at capacity.
	ErrLimitExceeded = errors.New("sibling limit exceeded")

	// ErrAlreadyExists indicates a unique key (such as a login email) is
	// already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict indicates concurrent mutations kept invalidating the
	// transactional batch after all retries.
	ErrConflict = errors.New("concurrency conflict")
)

// ErrConcurrencyConflict is returned by Store implementations when the
// storage rejected a batch because an entity version changed underneath it.
// The hierarchy service retries on it and surfaces ErrConflict only once
// retries are exhausted.
var ErrConcurrencyConflict = errors.New("storage version conflict")
