package atom

import "errors"

var (
	// ErrHistoryTooLong is returned by GetAtomHistory when the prev_uuid
	// chain exceeds maxHistoryHops — a safety limit against pathological or
	// corrupted chains (spec.md §4.4).
	ErrHistoryTooLong = errors.New("atom: history walk exceeded safety limit")

	// ErrAtomNotFound means an atom uuid referenced by a ref (or a chain
	// walk) does not exist in storage. This is fatal for the read that
	// encountered it, unlike a missing ref, which reads as "not present".
	ErrAtomNotFound = errors.New("atom: referenced atom does not exist")

	// ErrRefExists is returned by CreateAtomRef when aref_uuid is already
	// allocated.
	ErrRefExists = errors.New("atom: ref uuid already exists")

	// ErrRefNotFound distinguishes "ref never created" from ErrAtomNotFound
	// during UpdateAtomRef and the Collection/Range mutation paths.
	ErrRefNotFound = errors.New("atom: ref does not exist")

	// ErrRefTypeMismatch is returned when an operation's Type does not
	// match a ref's stored Type.
	ErrRefTypeMismatch = errors.New("atom: ref type mismatch")

	// ErrDuplicateRangeKey is returned when a Range mutation would create
	// two entries sharing the same key.
	ErrDuplicateRangeKey = errors.New("atom: duplicate range key")

	// ErrUnknownCollectionOp reports a collection operation outside
	// {add, update, delete}; ErrUnknownRangeOp reports a range operation
	// outside {upsert, delete}.
	ErrUnknownCollectionOp = errors.New("atom: unknown collection operation")
	ErrUnknownRangeOp      = errors.New("atom: unknown range operation")
)
