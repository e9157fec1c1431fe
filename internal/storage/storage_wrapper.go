package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/internal/models"
)

// StorageWithMetrics wraps a store and records a database metric for every
// entity read and write, including those made inside WithTx
type StorageWithMetrics struct {
	Store
	metricsManager *metrics.Manager
}

// NewStorageWithMetrics creates a storage wrapper with metrics
func NewStorageWithMetrics(store Store, metricsManager *metrics.Manager) *StorageWithMetrics {
	return &StorageWithMetrics{
		Store:          store,
		metricsManager: metricsManager,
	}
}

func (s *StorageWithMetrics) tx(inner Tx) txWithMetrics {
	return txWithMetrics{Tx: inner, metricsManager: s.metricsManager}
}

func (s *StorageWithMetrics) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	return s.tx(s.Store).LoadAccount(ctx, id)
}

func (s *StorageWithMetrics) SaveAccount(ctx context.Context, account *models.Account) error {
	return s.tx(s.Store).SaveAccount(ctx, account)
}

func (s *StorageWithMetrics) LoadEvent(ctx context.Context, id string) (*models.Event, error) {
	return s.tx(s.Store).LoadEvent(ctx, id)
}

func (s *StorageWithMetrics) SaveEvent(ctx context.Context, event *models.Event) error {
	return s.tx(s.Store).SaveEvent(ctx, event)
}

func (s *StorageWithMetrics) LoadRSVP(ctx context.Context, id string) (*models.RSVP, error) {
	return s.tx(s.Store).LoadRSVP(ctx, id)
}

func (s *StorageWithMetrics) SaveRSVP(ctx context.Context, rsvp *models.RSVP) error {
	return s.tx(s.Store).SaveRSVP(ctx, rsvp)
}

func (s *StorageWithMetrics) LoadConfirmation(ctx context.Context, id string) (*models.Confirmation, error) {
	return s.tx(s.Store).LoadConfirmation(ctx, id)
}

func (s *StorageWithMetrics) SaveConfirmation(ctx context.Context, confirmation *models.Confirmation) error {
	return s.tx(s.Store).SaveConfirmation(ctx, confirmation)
}

// WithTx records the transaction as a whole and each statement inside it
func (s *StorageWithMetrics) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	start := time.Now()
	err := s.Store.WithTx(ctx, func(inner Tx) error {
		return fn(s.tx(inner))
	})
	record(s.metricsManager, "transaction", "all", start, err)
	return err
}

type txWithMetrics struct {
	Tx
	metricsManager *metrics.Manager
}

func (t txWithMetrics) LoadAccount(ctx context.Context, id string) (*models.Account, error) {
	start := time.Now()
	account, err := t.Tx.LoadAccount(ctx, id)
	record(t.metricsManager, "select", "accounts", start, err)
	return account, err
}

func (t txWithMetrics) SaveAccount(ctx context.Context, account *models.Account) error {
	start := time.Now()
	err := t.Tx.SaveAccount(ctx, account)
	record(t.metricsManager, "upsert", "accounts", start, err)
	return err
}

func (t txWithMetrics) LoadEvent(ctx context.Context, id string) (*models.Event, error) {
	start := time.Now()
	event, err := t.Tx.LoadEvent(ctx, id)
	record(t.metricsManager, "select", "events", start, err)
	return event, err
}

func (t txWithMetrics) SaveEvent(ctx context.Context, event *models.Event) error {
	start := time.Now()
	err := t.Tx.SaveEvent(ctx, event)
	record(t.metricsManager, "upsert", "events", start, err)
	return err
}

func (t txWithMetrics) LoadRSVP(ctx context.Context, id string) (*models.RSVP, error) {
	start := time.Now()
	rsvp, err := t.Tx.LoadRSVP(ctx, id)
	record(t.metricsManager, "select", "rsvps", start, err)
	return rsvp, err
}

func (t txWithMetrics) SaveRSVP(ctx context.Context, rsvp *models.RSVP) error {
	start := time.Now()
	err := t.Tx.SaveRSVP(ctx, rsvp)
	record(t.metricsManager, "insert", "rsvps", start, err)
	return err
}

func (t txWithMetrics) LoadConfirmation(ctx context.Context, id string) (*models.Confirmation, error) {
	start := time.Now()
	confirmation, err := t.Tx.LoadConfirmation(ctx, id)
	record(t.metricsManager, "select", "confirmations", start, err)
	return confirmation, err
}

func (t txWithMetrics) SaveConfirmation(ctx context.Context, confirmation *models.Confirmation) error {
	start := time.Now()
	err := t.Tx.SaveConfirmation(ctx, confirmation)
	record(t.metricsManager, "insert", "confirmations", start, err)
	return err
}

func record(metricsManager *metrics.Manager, operation, table string, start time.Time, err error) {
	if metricsManager == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
	}

	metricsManager.GetPrometheusMetrics().RecordDatabaseOperation(operation, table, status, time.Since(start))
}

var _ Store = (*StorageWithMetrics)(nil)
