package domain

import (
	"context"
	"time"
)

// Store is the persistence collaborator for contacts, threads, messages
// and day/channel counters. Implemented on SQLite; fakes implement it in
// tests.
type Store interface {
	CreateContact(ctx context.Context, c *Contact) error
	GetContact(ctx context.Context, id string) (*Contact, error)
	// FindContactByAddress matches the normalized address for the channel
	// (digits-only phone compare, exact handle/email compare). Returns
	// ErrNotFound when no contact matches.
	FindContactByAddress(ctx context.Context, ch Channel, address string) (*Contact, error)
	ListContacts(ctx context.Context, limit int) ([]Contact, error)
	TouchContact(ctx context.Context, id string, at time.Time) error

	// GetOrCreateThread returns the contact's single thread, creating it
	// on first use.
	GetOrCreateThread(ctx context.Context, contactID string) (*Thread, error)
	TouchThread(ctx context.Context, id string, at time.Time) error
	ListThreads(ctx context.Context, limit int) ([]Thread, error)

	// CreateMessage persists a new message. A non-empty ExternalID that
	// already exists for the channel returns ErrDuplicateMessage.
	CreateMessage(ctx context.Context, m *Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	ListMessages(ctx context.Context, contactID string, limit int) ([]Message, error)
	MarkSent(ctx context.Context, id, externalID string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error

	// DueScheduled returns at most limit SCHEDULED messages with
	// scheduledFor <= now, oldest first.
	DueScheduled(ctx context.Context, now time.Time, limit int) ([]Message, error)
	// ClaimScheduled atomically moves a message SCHEDULED -> SENDING.
	// Returns false when another run claimed it first.
	ClaimScheduled(ctx context.Context, id string) (bool, error)

	// Counter increments are atomic upserts on the (day, channel) row;
	// concurrent callers never lose updates.
	IncrementSent(ctx context.Context, day string, ch Channel) error
	IncrementReceived(ctx context.Context, day string, ch Channel) error
	IncrementFailed(ctx context.Context, day string, ch Channel) error
	StatsSince(ctx context.Context, since string, ch Channel) ([]DayStats, error)

	Close() error
}
