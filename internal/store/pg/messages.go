package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altair-labs/salesagent/internal/store"
)

// PGMessageStore implements store.MessageStore backed by Postgres.
type PGMessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *PGMessageStore {
	return &PGMessageStore{db: db}
}

func (s *PGMessageStore) InsertInbound(ctx context.Context, m *store.Message) (bool, error) {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	var transcription sql.NullString
	if m.IsVoice && m.VoiceTranscription != "" {
		transcription = sql.NullString{String: m.VoiceTranscription, Valid: true}
	}

	// Duplicate external ids are skipped, not errors: the gateway may
	// redeliver, and a flush may replay payloads already persisted.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, contact_id, phone_number, message_id, message_text,
			is_from_bot, is_voice, voice_transcription, timestamp)
		VALUES ($1, $2, $3, $4, $5, false, $6, $7, $8)
		ON CONFLICT (message_id) DO NOTHING`,
		m.ID, m.ContactID, m.PhoneNumber, m.MessageID, m.Text,
		m.IsVoice, transcription, m.Timestamp)
	if err != nil {
		return false, fmt.Errorf("insert inbound message %s: %w", m.MessageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert inbound message %s: %w", m.MessageID, err)
	}
	return n > 0, nil
}

func (s *PGMessageStore) InsertBot(ctx context.Context, m *store.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, contact_id, phone_number, message_text, is_from_bot, timestamp)
		VALUES ($1, $2, $3, $4, true, $5)`,
		m.ID, m.ContactID, m.PhoneNumber, m.Text, m.Timestamp)
	if err != nil {
		return fmt.Errorf("insert bot message for %s: %w", m.ContactID, err)
	}
	return nil
}

func (s *PGMessageStore) Recent(ctx context.Context, contactID uuid.UUID, limit int) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, contact_id, phone_number, COALESCE(message_id, ''), COALESCE(message_text, ''),
		       is_from_bot, is_voice, COALESCE(voice_transcription, ''), timestamp
		FROM messages
		WHERE contact_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`, contactID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages for %s: %w", contactID, err)
	}
	defer rows.Close()

	var out []*store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ContactID, &m.PhoneNumber, &m.MessageID, &m.Text,
			&m.FromBot, &m.IsVoice, &m.VoiceTranscription, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query is newest-first for the LIMIT; callers want chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *PGMessageStore) Count(ctx context.Context, contactID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE contact_id = $1`, contactID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages for %s: %w", contactID, err)
	}
	return n, nil
}
