package store

import (
	"time"

	"github.com/google/uuid"
)

// Follow-up stop reasons.
const (
	StopClientResponded = "client_responded"
	StopClientSaidYes   = "client_said_yes"
	StopClientSaidNo    = "client_said_no"
	StopCompleted       = "completed_5_touches"
)

// MaxTouches bounds a follow-up sequence.
const MaxTouches = 5

// Contact is a WhatsApp conversation partner, keyed by phone number.
type Contact struct {
	ID           uuid.UUID
	PhoneNumber  string
	Name         string
	FullName     string
	BusinessName string

	// IsClient is tri-state: nil = unclassified, true = client, false = not a client.
	IsClient   *bool
	Confidence float64
	Reasoning  string

	LastMessageAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Classified reports whether the contact has a settled classification.
func (c *Contact) Classified() bool { return c.IsClient != nil }

// ContactProfile is the sender metadata used when creating a contact.
type ContactProfile struct {
	Name         string
	FullName     string
	BusinessName string
}

// Message is one stored conversation turn. Rows are append-only.
type Message struct {
	ID          uuid.UUID
	ContactID   uuid.UUID
	PhoneNumber string

	// MessageID is the gateway's external id, unique when present.
	// Bot-authored rows have none.
	MessageID string

	Text               string
	FromBot            bool
	IsVoice            bool
	VoiceTranscription string
	Timestamp          time.Time
}

// FollowUp is one multi-touch outreach sequence for a contact.
// At most one non-completed sequence exists per contact.
type FollowUp struct {
	ID          uuid.UUID
	ContactID   uuid.UUID
	TouchNumber int
	NextTouchAt time.Time
	LastTouchAt *time.Time
	Completed   bool
	StopReason  string
	CreatedAt   time.Time
}

// ScheduledCall is a call appointment detected in a sales response.
type ScheduledCall struct {
	ID          uuid.UUID
	ContactID   uuid.UUID
	ScheduledAt time.Time
	Timezone    string
	Status      string // "scheduled", "completed", "cancelled"
	Notes       string
	CreatedAt   time.Time
}

// Stats is the read-only count surface exposed by the health API.
type Stats struct {
	Contacts          int `json:"contacts"`
	Clients           int `json:"clients"`
	NonClients        int `json:"non_clients"`
	Unclassified      int `json:"unclassified"`
	Messages          int `json:"messages"`
	ActiveFollowUps   int `json:"active_follow_ups"`
	FinishedFollowUps int `json:"finished_follow_ups"`
}
