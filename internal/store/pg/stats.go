package pg

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/altair-labs/salesagent/internal/store"
)

// PGStatsReader implements store.StatsReader backed by Postgres.
type PGStatsReader struct {
	db *sql.DB
}

func NewStatsReader(db *sql.DB) *PGStatsReader {
	return &PGStatsReader{db: db}
}

func (s *PGStatsReader) Stats(ctx context.Context) (*store.Stats, error) {
	var st store.Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM contacts),
			(SELECT COUNT(*) FROM contacts WHERE is_client = true),
			(SELECT COUNT(*) FROM contacts WHERE is_client = false),
			(SELECT COUNT(*) FROM contacts WHERE is_client IS NULL),
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM follow_ups WHERE NOT completed),
			(SELECT COUNT(*) FROM follow_ups WHERE completed)`).
		Scan(&st.Contacts, &st.Clients, &st.NonClients, &st.Unclassified,
			&st.Messages, &st.ActiveFollowUps, &st.FinishedFollowUps)
	if err != nil {
		return nil, fmt.Errorf("collect stats: %w", err)
	}
	return &st, nil
}
