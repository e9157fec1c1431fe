package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"-"`
	AppliedAt   time.Time `db:"applied_at"`
}

const createMigrationTableSQL = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at TIMESTAMP NOT NULL
	)`

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					total_rsvps INTEGER NOT NULL DEFAULT 0,
					total_attended_events INTEGER NOT NULL DEFAULT 0
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id TEXT PRIMARY KEY,
					event_owner TEXT NOT NULL,
					event_timestamp TEXT NOT NULL,
					max_capacity TEXT NOT NULL,
					deposit TEXT NOT NULL,
					paid_out BOOLEAN NOT NULL DEFAULT FALSE,
					total_rsvps INTEGER NOT NULL DEFAULT 0,
					total_confirmed_attendees INTEGER NOT NULL DEFAULT 0,
					name TEXT,
					description TEXT,
					link TEXT,
					image_url TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_events_owner ON events(event_owner);
				CREATE INDEX IF NOT EXISTS idx_events_paid_out ON events(paid_out);
			`,
		},
		{
			Version:     "003",
			Description: "Create rsvps and confirmations tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rsvps (
					id TEXT PRIMARY KEY,
					attendee_id TEXT NOT NULL REFERENCES accounts(id),
					event_id TEXT NOT NULL REFERENCES events(id)
				);

				CREATE INDEX IF NOT EXISTS idx_rsvps_attendee ON rsvps(attendee_id);
				CREATE INDEX IF NOT EXISTS idx_rsvps_event ON rsvps(event_id);

				CREATE TABLE IF NOT EXISTS confirmations (
					id TEXT PRIMARY KEY,
					attendee_id TEXT NOT NULL REFERENCES accounts(id),
					event_id TEXT NOT NULL REFERENCES events(id)
				);

				CREATE INDEX IF NOT EXISTS idx_confirmations_attendee ON confirmations(attendee_id);
				CREATE INDEX IF NOT EXISTS idx_confirmations_event ON confirmations(event_id);
			`,
		},
		{
			Version:     "004",
			Description: "Create system state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id VARCHAR(42) PRIMARY KEY,
					total_rsvps BIGINT NOT NULL DEFAULT 0,
					total_attended_events BIGINT NOT NULL DEFAULT 0
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS events (
					id VARCHAR(66) PRIMARY KEY,
					event_owner VARCHAR(42) NOT NULL,
					event_timestamp NUMERIC(78,0) NOT NULL,
					max_capacity NUMERIC(78,0) NOT NULL,
					deposit NUMERIC(78,0) NOT NULL,
					paid_out BOOLEAN NOT NULL DEFAULT FALSE,
					total_rsvps BIGINT NOT NULL DEFAULT 0,
					total_confirmed_attendees BIGINT NOT NULL DEFAULT 0,
					name TEXT,
					description TEXT,
					link TEXT,
					image_url TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_events_owner ON events(event_owner);
				CREATE INDEX IF NOT EXISTS idx_events_paid_out ON events(paid_out);
			`,
		},
		{
			Version:     "003",
			Description: "Create rsvps and confirmations tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rsvps (
					id VARCHAR(108) PRIMARY KEY,
					attendee_id VARCHAR(42) NOT NULL REFERENCES accounts(id),
					event_id VARCHAR(66) NOT NULL REFERENCES events(id)
				);

				CREATE INDEX IF NOT EXISTS idx_rsvps_attendee ON rsvps(attendee_id);
				CREATE INDEX IF NOT EXISTS idx_rsvps_event ON rsvps(event_id);

				CREATE TABLE IF NOT EXISTS confirmations (
					id VARCHAR(108) PRIMARY KEY,
					attendee_id VARCHAR(42) NOT NULL REFERENCES accounts(id),
					event_id VARCHAR(66) NOT NULL REFERENCES events(id)
				);

				CREATE INDEX IF NOT EXISTS idx_confirmations_attendee ON confirmations(attendee_id);
				CREATE INDEX IF NOT EXISTS idx_confirmations_event ON confirmations(event_id);
			`,
		},
		{
			Version:     "004",
			Description: "Create system state table",
			SQL: `
				CREATE TABLE IF NOT EXISTS system_state (
					key VARCHAR(255) PRIMARY KEY,
					value TEXT NOT NULL,
					updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
				);
			`,
		},
	}
}

// applyMigrations runs every migration not yet recorded in schema_migrations
func applyMigrations(ctx context.Context, db *sqlx.DB, migrations []*Migration, logger *logrus.Entry) error {
	if _, err := db.ExecContext(ctx, createMigrationTableSQL); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create migrations table", err.Error())
	}

	var applied []string
	if err := db.SelectContext(ctx, &applied, "SELECT version FROM schema_migrations"); err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to read applied migrations", err.Error())
	}
	done := make(map[string]bool, len(applied))
	for _, version := range applied {
		done[version] = true
	}

	for _, migration := range migrations {
		if done[migration.Version] {
			continue
		}

		logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to begin migration", err.Error())
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Migration %s failed", migration.Version), err.Error())
		}
		migration.AppliedAt = time.Now().UTC()
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES (:version, :description, :applied_at)`,
			migration); err != nil {
			tx.Rollback()
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to record migration %s", migration.Version), err.Error())
		}
		if err := tx.Commit(); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase,
				fmt.Sprintf("Failed to commit migration %s", migration.Version), err.Error())
		}
	}

	return nil
}
