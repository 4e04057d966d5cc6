// Package pg implements the store interfaces on Postgres via database/sql
// with the pgx stdlib driver.
package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/altair-labs/salesagent/internal/store"
)

// OpenDB opens a Postgres pool and verifies connectivity.
func OpenDB(dsn string, maxOpen int) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewStores creates all stores backed by one Postgres pool.
func NewStores(dsn string, maxOpen int) (*store.Stores, error) {
	db, err := OpenDB(dsn, maxOpen)
	if err != nil {
		return nil, err
	}
	return &store.Stores{
		Contacts:  NewContactStore(db),
		Messages:  NewMessageStore(db),
		FollowUps: NewFollowUpStore(db),
		Calls:     NewCallStore(db),
		Stats:     NewStatsReader(db),
		Ping:      db.PingContext,
		Close:     db.Close,
	}, nil
}
