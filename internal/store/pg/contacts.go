package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/altair-labs/salesagent/internal/store"
)

// PGContactStore implements store.ContactStore backed by Postgres.
type PGContactStore struct {
	db *sql.DB
}

func NewContactStore(db *sql.DB) *PGContactStore {
	return &PGContactStore{db: db}
}

const contactCols = `id, phone_number, name, full_name, business_name,
	is_client, classification_confidence, classification_reasoning,
	last_message_at, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*store.Contact, error) {
	var (
		c          store.Contact
		isClient   sql.NullBool
		confidence sql.NullFloat64
		reasoning  sql.NullString
		lastMsg    sql.NullTime
	)
	err := row.Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.FullName, &c.BusinessName,
		&isClient, &confidence, &reasoning, &lastMsg, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if isClient.Valid {
		v := isClient.Bool
		c.IsClient = &v
	}
	c.Confidence = confidence.Float64
	c.Reasoning = reasoning.String
	if lastMsg.Valid {
		t := lastMsg.Time
		c.LastMessageAt = &t
	}
	return &c, nil
}

func (s *PGContactStore) GetOrCreate(ctx context.Context, phone string, profile store.ContactProfile) (*store.Contact, error) {
	now := time.Now()

	// Upsert keyed on phone_number: first sight creates an unclassified
	// contact, subsequent messages only bump last_message_at.
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO contacts (id, phone_number, name, full_name, business_name, last_message_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $6)
		ON CONFLICT (phone_number) DO UPDATE
			SET last_message_at = EXCLUDED.last_message_at,
			    updated_at = EXCLUDED.updated_at
		RETURNING `+contactCols,
		uuid.Must(uuid.NewV7()), phone, profile.Name, profile.FullName, profile.BusinessName, now)

	c, err := scanContact(row)
	if err != nil {
		return nil, fmt.Errorf("get or create contact %s: %w", phone, err)
	}
	return c, nil
}

func (s *PGContactStore) ByPhone(ctx context.Context, phone string) (*store.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactCols+` FROM contacts WHERE phone_number = $1`, phone)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contact by phone %s: %w", phone, err)
	}
	return c, nil
}

func (s *PGContactStore) ByID(ctx context.Context, id uuid.UUID) (*store.Contact, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+contactCols+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("contact %s: %w", id, err)
	}
	return c, nil
}

func (s *PGContactStore) SetClassification(ctx context.Context, id uuid.UUID, isClient bool, confidence float64, reasoning string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET is_client = $2, classification_confidence = $3,
		    classification_reasoning = $4, updated_at = $5
		WHERE id = $1`,
		id, isClient, confidence, reasoning, time.Now())
	if err != nil {
		return fmt.Errorf("set classification for %s: %w", id, err)
	}
	return nil
}

func (s *PGContactStore) Clients(ctx context.Context) ([]*store.Contact, error) {
	return s.list(ctx, `SELECT `+contactCols+` FROM contacts WHERE is_client = true ORDER BY created_at`)
}

func (s *PGContactStore) Unclassified(ctx context.Context) ([]*store.Contact, error) {
	return s.list(ctx, `SELECT `+contactCols+` FROM contacts WHERE is_client IS NULL ORDER BY created_at`)
}

func (s *PGContactStore) list(ctx context.Context, query string) ([]*store.Contact, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []*store.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
