package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PGCallStore implements store.CallStore backed by Postgres.
type PGCallStore struct {
	db *sql.DB
}

func NewCallStore(db *sql.DB) *PGCallStore {
	return &PGCallStore{db: db}
}

func (s *PGCallStore) Schedule(ctx context.Context, contactID uuid.UUID, at time.Time, timezone, notes string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_calls (id, contact_id, scheduled_at, timezone, status, notes, created_at)
		VALUES ($1, $2, $3, $4, 'scheduled', $5, $6)`,
		uuid.Must(uuid.NewV7()), contactID, at, timezone, notes, time.Now())
	if err != nil {
		return fmt.Errorf("schedule call for %s: %w", contactID, err)
	}
	return nil
}
