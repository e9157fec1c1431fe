// File: internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/smartdevs17/web3rsvp-indexer/internal/models"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// Entities is the load/save surface the mapping handlers work against.
// Load methods return nil, nil when the entity does not exist.
type Entities interface {
	LoadAccount(ctx context.Context, id string) (*models.Account, error)
	SaveAccount(ctx context.Context, account *models.Account) error
	LoadEvent(ctx context.Context, id string) (*models.Event, error)
	SaveEvent(ctx context.Context, event *models.Event) error
	LoadRSVP(ctx context.Context, id string) (*models.RSVP, error)
	SaveRSVP(ctx context.Context, rsvp *models.RSVP) error
	LoadConfirmation(ctx context.Context, id string) (*models.Confirmation, error)
	SaveConfirmation(ctx context.Context, confirmation *models.Confirmation) error
}

// Tx is a unit of work: entity writes plus the block cursor they belong to
type Tx interface {
	Entities
	SetLatestProcessedBlock(ctx context.Context, blockNumber uint64) error
}

// Store defines the interface for entity storage operations
type Store interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Entity and cursor operations outside a transaction
	Tx
	GetLatestProcessedBlock(ctx context.Context) (uint64, error)

	// WithTx runs fn in a transaction, committing only if fn returns nil
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Queries
	ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)
	ListRSVPs(ctx context.Context, filter models.AttendanceFilter) ([]*models.RSVP, error)
	ListConfirmations(ctx context.Context, filter models.AttendanceFilter) ([]*models.Confirmation, error)
	GetStats(ctx context.Context) (*Stats, error)
}

// Stats provides storage statistics
type Stats struct {
	Accounts      int64  `json:"accounts" db:"accounts"`
	Events        int64  `json:"events" db:"events"`
	RSVPs         int64  `json:"rsvps" db:"rsvps"`
	Confirmations int64  `json:"confirmations" db:"confirmations"`
	LatestBlock   uint64 `json:"latest_processed_block" db:"-"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}

// Page sizes applied to list queries
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// normalizePage clamps a requested page to the supported limits
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func dbError(message string, err error) error {
	return utils.NewAppError(utils.ErrCodeDatabase, message, err.Error())
}
