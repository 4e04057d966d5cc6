package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/altair-labs/salesagent/internal/store"
)

// PGFollowUpStore implements store.FollowUpStore backed by Postgres.
//
// The one-active-sequence-per-contact invariant is enforced by the partial
// unique index idx_one_active_followup, not by call-site discipline. All
// mutations are single UPDATEs guarded by completed = false, so a routing
// stop racing a scheduler advance resolves to one winner.
type PGFollowUpStore struct {
	db *sql.DB
}

func NewFollowUpStore(db *sql.DB) *PGFollowUpStore {
	return &PGFollowUpStore{db: db}
}

const followUpCols = `id, contact_id, touch_number, next_touch_at, last_touch_at, completed, stop_reason, created_at`

func scanFollowUp(row interface{ Scan(...any) error }) (*store.FollowUp, error) {
	var (
		f         store.FollowUp
		lastTouch sql.NullTime
		reason    sql.NullString
	)
	err := row.Scan(&f.ID, &f.ContactID, &f.TouchNumber, &f.NextTouchAt,
		&lastTouch, &f.Completed, &reason, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	if lastTouch.Valid {
		t := lastTouch.Time
		f.LastTouchAt = &t
	}
	f.StopReason = reason.String
	return &f, nil
}

func (s *PGFollowUpStore) Active(ctx context.Context, contactID uuid.UUID) (*store.FollowUp, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+followUpCols+` FROM follow_ups WHERE contact_id = $1 AND NOT completed`, contactID)
	f, err := scanFollowUp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("active follow-up for %s: %w", contactID, err)
	}
	return f, nil
}

func (s *PGFollowUpStore) Create(ctx context.Context, contactID uuid.UUID, nextTouchAt time.Time) (*store.FollowUp, error) {
	f := &store.FollowUp{
		ID:          uuid.Must(uuid.NewV7()),
		ContactID:   contactID,
		TouchNumber: 1,
		NextTouchAt: nextTouchAt,
		CreatedAt:   time.Now(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO follow_ups (id, contact_id, touch_number, next_touch_at, completed, created_at)
		VALUES ($1, $2, 1, $3, false, $4)`,
		f.ID, contactID, nextTouchAt, f.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, store.ErrActiveFollowUp
		}
		return nil, fmt.Errorf("create follow-up for %s: %w", contactID, err)
	}
	return f, nil
}

func (s *PGFollowUpStore) Stop(ctx context.Context, contactID uuid.UUID, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups SET completed = true, stop_reason = $2
		WHERE contact_id = $1 AND NOT completed`,
		contactID, reason)
	if err != nil {
		return false, fmt.Errorf("stop follow-up for %s: %w", contactID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PGFollowUpStore) Due(ctx context.Context, now time.Time) ([]*store.FollowUp, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+followUpCols+` FROM follow_ups
		 WHERE NOT completed AND next_touch_at <= $1
		 ORDER BY next_touch_at`, now)
	if err != nil {
		return nil, fmt.Errorf("due follow-ups: %w", err)
	}
	defer rows.Close()

	var out []*store.FollowUp
	for rows.Next() {
		f, err := scanFollowUp(rows)
		if err != nil {
			return nil, fmt.Errorf("scan follow-up: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *PGFollowUpStore) Advance(ctx context.Context, id uuid.UUID, fromTouch int, nextTouchAt, touchedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups
		SET touch_number = touch_number + 1, next_touch_at = $3, last_touch_at = $4
		WHERE id = $1 AND touch_number = $2 AND NOT completed`,
		id, fromTouch, nextTouchAt, touchedAt)
	if err != nil {
		return false, fmt.Errorf("advance follow-up %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PGFollowUpStore) Complete(ctx context.Context, id uuid.UUID, fromTouch int, reason string, touchedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE follow_ups
		SET completed = true, stop_reason = $3, last_touch_at = $4
		WHERE id = $1 AND touch_number = $2 AND NOT completed`,
		id, fromTouch, reason, touchedAt)
	if err != nil {
		return false, fmt.Errorf("complete follow-up %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
