package domain

import "errors"

var (
	// ErrNotFound is returned when a letter does not exist.
	ErrNotFound = errors.New("letter not found")

	// ErrAlreadyStamped is returned when a per-channel timestamp is written
	// twice. Channel timestamps are immutable once set.
	ErrAlreadyStamped = errors.New("channel timestamp already set")

	// ErrRejectedWithTracking guards the invariant that a letter is never
	// both rejected and tracking-numbered.
	ErrRejectedWithTracking = errors.New("letter cannot be both rejected and mailed")

	// ErrContentFrozen is returned when letter content is modified after a
	// channel has succeeded.
	ErrContentFrozen = errors.New("letter content is immutable after delivery started")

	// ErrClaimed is returned when another delivery pass holds the
	// per-letter lock.
	ErrClaimed = errors.New("letter is claimed by another delivery pass")
)
