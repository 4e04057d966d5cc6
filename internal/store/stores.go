package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// ErrActiveFollowUp is returned by FollowUpStore.Create when the contact
// already has a non-completed sequence.
var ErrActiveFollowUp = errors.New("store: contact already has an active follow-up")

// ContactStore persists contacts and their classification.
type ContactStore interface {
	// GetOrCreate returns the contact for phone, creating it unclassified on
	// first sight, and stamps last_message_at either way.
	GetOrCreate(ctx context.Context, phone string, profile ContactProfile) (*Contact, error)

	ByPhone(ctx context.Context, phone string) (*Contact, error)

	ByID(ctx context.Context, id uuid.UUID) (*Contact, error)

	// SetClassification records a classifier verdict. Transitions are
	// unknown → {client, non-client} in the steady state; re-classification
	// goes through the explicit classify command.
	SetClassification(ctx context.Context, id uuid.UUID, isClient bool, confidence float64, reasoning string) error

	// Clients returns all contacts classified as clients.
	Clients(ctx context.Context) ([]*Contact, error)

	// Unclassified returns all contacts with no settled classification.
	Unclassified(ctx context.Context) ([]*Contact, error)
}

// MessageStore persists conversation turns.
type MessageStore interface {
	// InsertInbound appends a contact-authored turn. Returns false without
	// error when the external message id already exists (idempotent re-ingestion).
	InsertInbound(ctx context.Context, m *Message) (bool, error)

	// InsertBot appends a bot-authored turn.
	InsertBot(ctx context.Context, m *Message) error

	// Recent returns up to limit most recent turns in chronological order.
	Recent(ctx context.Context, contactID uuid.UUID, limit int) ([]*Message, error)

	Count(ctx context.Context, contactID uuid.UUID) (int, error)
}

// FollowUpStore persists follow-up sequences. Mutations are single atomic
// updates guarded by completed = false so a concurrent stop and advance
// resolve to exactly one winner.
type FollowUpStore interface {
	// Active returns the contact's non-completed sequence, or ErrNotFound.
	Active(ctx context.Context, contactID uuid.UUID) (*FollowUp, error)

	// Create starts a sequence at touch 1. The partial unique index on
	// (contact_id) WHERE NOT completed makes this the single authoritative
	// check-and-create step; a conflict surfaces as ErrActiveFollowUp.
	Create(ctx context.Context, contactID uuid.UUID, nextTouchAt time.Time) (*FollowUp, error)

	// Stop completes the contact's active sequence with the given reason.
	// Returns false when there was none (or it completed concurrently).
	Stop(ctx context.Context, contactID uuid.UUID, reason string) (bool, error)

	// Due returns active sequences with next_touch_at <= now.
	Due(ctx context.Context, now time.Time) ([]*FollowUp, error)

	// Advance moves a sequence from fromTouch to the next touch. Returns
	// false when the sequence changed underneath (completed or re-touched).
	Advance(ctx context.Context, id uuid.UUID, fromTouch int, nextTouchAt, touchedAt time.Time) (bool, error)

	// Complete finishes a sequence at its final touch with the given reason.
	Complete(ctx context.Context, id uuid.UUID, fromTouch int, reason string, touchedAt time.Time) (bool, error)
}

// CallStore persists scheduled call appointments.
type CallStore interface {
	Schedule(ctx context.Context, contactID uuid.UUID, at time.Time, timezone, notes string) error
}

// StatsReader exposes read-only counts for the health surface.
type StatsReader interface {
	Stats(ctx context.Context) (*Stats, error)
}

// Stores bundles all persistence interfaces plus the shared liveness probe.
type Stores struct {
	Contacts  ContactStore
	Messages  MessageStore
	FollowUps FollowUpStore
	Calls     CallStore
	Stats     StatsReader

	Ping  func(ctx context.Context) error
	Close func() error
}
