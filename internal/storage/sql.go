package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/web3rsvp-indexer/internal/models"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

const latestBlockKey = "latest_processed_block"

// sqlStore carries the behaviour shared by the SQLite and PostgreSQL stores.
// Dialect types embed it and supply Connect.
type sqlStore struct {
	db         *sqlx.DB
	config     *StorageConfig
	logger     *logrus.Entry
	migrations []*Migration
}

// sqlQueries runs entity statements against either a *sqlx.DB or a *sqlx.Tx
type sqlQueries struct {
	ext sqlx.ExtContext
}

func (s *sqlStore) queries() sqlQueries {
	return sqlQueries{ext: s.db}
}

// Close closes the database connection
func (s *sqlStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("Database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *sqlStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *sqlStore) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")
	if err := applyMigrations(context.Background(), s.db, s.migrations, s.logger); err != nil {
		return err
	}
	s.logger.Info("Database migrations completed")
	return nil
}

func (s *sqlStore) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.queries().LoadAccount(ctx, id)
}

func (s *sqlStore) SaveAccount(ctx context.Context, account *models.Account) error {
	return s.queries().SaveAccount(ctx, account)
}

func (s *sqlStore) LoadEvent(ctx context.Context, id string) (*models.Event, error) {
	return s.queries().LoadEvent(ctx, id)
}

func (s *sqlStore) SaveEvent(ctx context.Context, event *models.Event) error {
	return s.queries().SaveEvent(ctx, event)
}

func (s *sqlStore) LoadRSVP(ctx context.Context, id string) (*models.RSVP, error) {
	return s.queries().LoadRSVP(ctx, id)
}

func (s *sqlStore) SaveRSVP(ctx context.Context, rsvp *models.RSVP) error {
	return s.queries().SaveRSVP(ctx, rsvp)
}

func (s *sqlStore) LoadConfirmation(ctx context.Context, id string) (*models.Confirmation, error) {
	return s.queries().LoadConfirmation(ctx, id)
}

func (s *sqlStore) SaveConfirmation(ctx context.Context, confirmation *models.Confirmation) error {
	return s.queries().SaveConfirmation(ctx, confirmation)
}

func (s *sqlStore) SetLatestProcessedBlock(ctx context.Context, blockNumber uint64) error {
	return s.queries().SetLatestProcessedBlock(ctx, blockNumber)
}

// GetLatestProcessedBlock returns 0 when no block has been recorded yet
func (s *sqlStore) GetLatestProcessedBlock(ctx context.Context) (uint64, error) {
	var value string
	err := s.db.GetContext(ctx, &value, s.db.Rebind("SELECT value FROM system_state WHERE key = ?"), latestBlockKey)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, dbError("Failed to get latest processed block", err)
	}

	blockNumber, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, dbError("Invalid latest processed block", err)
	}
	return blockNumber, nil
}

// WithTx runs fn inside a database transaction
func (s *sqlStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbError("Failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(sqlQueries{ext: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return dbError("Failed to commit transaction", err)
	}
	return nil
}

func (s *sqlStore) ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	query := `SELECT id, event_owner, event_timestamp, max_capacity, deposit, paid_out,
		total_rsvps, total_confirmed_attendees, name, description, link, image_url
		FROM events WHERE 1=1`
	args := []interface{}{}

	if filter.Owner != nil {
		query += " AND event_owner = ?"
		args = append(args, *filter.Owner)
	}
	if filter.PaidOut != nil {
		query += " AND paid_out = ?"
		args = append(args, *filter.PaidOut)
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	events := make([]*models.Event, 0)
	if err := s.db.SelectContext(ctx, &events, s.db.Rebind(query), args...); err != nil {
		return nil, dbError("Failed to list events", err)
	}
	return events, nil
}

func (s *sqlStore) ListRSVPs(ctx context.Context, filter models.AttendanceFilter) ([]*models.RSVP, error) {
	rsvps := make([]*models.RSVP, 0)
	if err := s.listAttendance(ctx, "rsvps", filter, &rsvps); err != nil {
		return nil, dbError("Failed to list rsvps", err)
	}
	return rsvps, nil
}

func (s *sqlStore) ListConfirmations(ctx context.Context, filter models.AttendanceFilter) ([]*models.Confirmation, error) {
	confirmations := make([]*models.Confirmation, 0)
	if err := s.listAttendance(ctx, "confirmations", filter, &confirmations); err != nil {
		return nil, dbError("Failed to list confirmations", err)
	}
	return confirmations, nil
}

func (s *sqlStore) listAttendance(ctx context.Context, table string, filter models.AttendanceFilter, dest interface{}) error {
	var where []string
	args := []interface{}{}

	if filter.Event != nil {
		where = append(where, "event_id = ?")
		args = append(args, *filter.Event)
	}
	if filter.Attendee != nil {
		where = append(where, "attendee_id = ?")
		args = append(args, *filter.Attendee)
	}

	query := "SELECT id, attendee_id, event_id FROM " + table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit, offset := normalizePage(filter.Limit, filter.Offset)
	query += " ORDER BY id LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	return s.db.SelectContext(ctx, dest, s.db.Rebind(query), args...)
}

func (s *sqlStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	err := s.db.GetContext(ctx, stats, `SELECT
		(SELECT COUNT(*) FROM accounts) AS accounts,
		(SELECT COUNT(*) FROM events) AS events,
		(SELECT COUNT(*) FROM rsvps) AS rsvps,
		(SELECT COUNT(*) FROM confirmations) AS confirmations`)
	if err != nil {
		return nil, dbError("Failed to get stats", err)
	}

	latest, err := s.GetLatestProcessedBlock(ctx)
	if err != nil {
		return nil, err
	}
	stats.LatestBlock = latest
	return stats, nil
}

func (q sqlQueries) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := sqlx.GetContext(ctx, q.ext, &account,
		q.ext.Rebind("SELECT id, total_rsvps, total_attended_events FROM accounts WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("Failed to load account", err)
	}
	return &account, nil
}

func (q sqlQueries) SaveAccount(ctx context.Context, account *models.Account) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO accounts (id, total_rsvps, total_attended_events)
		VALUES (:id, :total_rsvps, :total_attended_events)
		ON CONFLICT (id) DO UPDATE SET
			total_rsvps = excluded.total_rsvps,
			total_attended_events = excluded.total_attended_events`, account)
	if err != nil {
		return dbError("Failed to save account", err)
	}
	return nil
}

func (q sqlQueries) LoadEvent(ctx context.Context, id string) (*models.Event, error) {
	var event models.Event
	err := sqlx.GetContext(ctx, q.ext, &event, q.ext.Rebind(`
		SELECT id, event_owner, event_timestamp, max_capacity, deposit, paid_out,
			total_rsvps, total_confirmed_attendees, name, description, link, image_url
		FROM events WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("Failed to load event", err)
	}
	return &event, nil
}

func (q sqlQueries) SaveEvent(ctx context.Context, event *models.Event) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO events (
			id, event_owner, event_timestamp, max_capacity, deposit, paid_out,
			total_rsvps, total_confirmed_attendees, name, description, link, image_url
		) VALUES (
			:id, :event_owner, :event_timestamp, :max_capacity, :deposit, :paid_out,
			:total_rsvps, :total_confirmed_attendees, :name, :description, :link, :image_url
		)
		ON CONFLICT (id) DO UPDATE SET
			event_owner = excluded.event_owner,
			event_timestamp = excluded.event_timestamp,
			max_capacity = excluded.max_capacity,
			deposit = excluded.deposit,
			paid_out = excluded.paid_out,
			total_rsvps = excluded.total_rsvps,
			total_confirmed_attendees = excluded.total_confirmed_attendees,
			name = excluded.name,
			description = excluded.description,
			link = excluded.link,
			image_url = excluded.image_url`, event)
	if err != nil {
		return dbError("Failed to save event", err)
	}
	return nil
}

func (q sqlQueries) LoadRSVP(ctx context.Context, id string) (*models.RSVP, error) {
	var rsvp models.RSVP
	err := sqlx.GetContext(ctx, q.ext, &rsvp,
		q.ext.Rebind("SELECT id, attendee_id, event_id FROM rsvps WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("Failed to load rsvp", err)
	}
	return &rsvp, nil
}

// SaveRSVP inserts the RSVP; an existing row with the same id is left as is
func (q sqlQueries) SaveRSVP(ctx context.Context, rsvp *models.RSVP) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO rsvps (id, attendee_id, event_id)
		VALUES (:id, :attendee_id, :event_id)
		ON CONFLICT (id) DO NOTHING`, rsvp)
	if err != nil {
		return dbError("Failed to save rsvp", err)
	}
	return nil
}

func (q sqlQueries) LoadConfirmation(ctx context.Context, id string) (*models.Confirmation, error) {
	var confirmation models.Confirmation
	err := sqlx.GetContext(ctx, q.ext, &confirmation,
		q.ext.Rebind("SELECT id, attendee_id, event_id FROM confirmations WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("Failed to load confirmation", err)
	}
	return &confirmation, nil
}

func (q sqlQueries) SaveConfirmation(ctx context.Context, confirmation *models.Confirmation) error {
	_, err := sqlx.NamedExecContext(ctx, q.ext, `
		INSERT INTO confirmations (id, attendee_id, event_id)
		VALUES (:id, :attendee_id, :event_id)
		ON CONFLICT (id) DO NOTHING`, confirmation)
	if err != nil {
		return dbError("Failed to save confirmation", err)
	}
	return nil
}

func (q sqlQueries) SetLatestProcessedBlock(ctx context.Context, blockNumber uint64) error {
	_, err := q.ext.ExecContext(ctx, q.ext.Rebind(`
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
		latestBlockKey, strconv.FormatUint(blockNumber, 10))
	if err != nil {
		return dbError("Failed to set latest processed block", err)
	}
	return nil
}
