package domain

import "errors"

var (
	// ErrUnknownChannel rejects channel names outside the closed set.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrContactNotFound reports a dispatch request for a missing contact.
	ErrContactNotFound = errors.New("contact not found")

	// ErrNoRecipient reports a send attempt for a contact with no usable
	// address on the requested channel. Nothing is persisted.
	ErrNoRecipient = errors.New("no recipient address for channel")

	// ErrDuplicateMessage reports an inbound external id that was already
	// processed for the same channel. Callers acknowledge and skip.
	ErrDuplicateMessage = errors.New("duplicate message external id")

	// ErrNotFound is the generic missing-record error from the store.
	ErrNotFound = errors.New("not found")
)
