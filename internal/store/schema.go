package store

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS halls (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		wait_time TEXT NOT NULL DEFAULT '',
		seating TEXT,
		status TEXT NOT NULL DEFAULT 'unknown',
		last_updated_at TIMESTAMPTZ,
		verified_count INTEGER NOT NULL DEFAULT 0,
		seating_last_updated_at TIMESTAMPTZ,
		seating_verified_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS menu_items (
		hall_id TEXT NOT NULL REFERENCES halls(id),
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		rating DOUBLE PRECISION NOT NULL DEFAULT 0,
		review_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (hall_id, id)
	)`,
	`CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		hall_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		uid TEXT,
		client_identifier_hash TEXT,
		value TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		accuracy_meters DOUBLE PRECISION,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		server_validated BOOLEAN,
		server_validation_reason TEXT,
		server_validated_at TIMESTAMPTZ,
		location_verified BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS submissions_hall_created_idx ON submissions (hall_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS submission_markers (
		id TEXT PRIMARY KEY,
		last TIMESTAMPTZ NOT NULL
	)`,
}

// CreateSchema creates the tables used by the api and the worker.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}
