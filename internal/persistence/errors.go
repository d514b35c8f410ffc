package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a record with the same ID already exists.
	ErrDuplicate = errors.New("persistence: duplicate")
	// ErrVersionMismatch is returned when a write carries a stale expected
	// version. The write is never applied; the caller must re-read and retry.
	ErrVersionMismatch = errors.New("persistence: version mismatch")
	// ErrClaimHeld is returned when a claim attempt races a live claim held
	// by another firing of the same schedule.
	ErrClaimHeld = errors.New("persistence: claim held")
)
