// File: internal/storage/sqlite.go
package storage

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// sqlitePragmas is appended to every SQLite DSN so that each pooled
// connection gets the same settings
const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// SQLiteStorage implements Store using SQLite
type SQLiteStorage struct {
	sqlStore
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		sqlStore: sqlStore{
			config:     config,
			logger:     utils.ComponentLogger("sqlite"),
			migrations: GetSQLiteMigrations(),
		},
	}
}

// Connect establishes database connection
func (s *SQLiteStorage) Connect() error {
	path := s.config.ConnectionString
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeDatabase, "Failed to create database directory", err.Error())
		}
	}

	db, err := sqlx.Open("sqlite", sqliteDSN(s.config.ConnectionString))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
		db.SetMaxIdleConns(s.config.MaxConnections / 2)
	}
	db.SetConnMaxIdleTime(s.config.MaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return utils.NewAppError(utils.ErrCodeDatabase, "Failed to ping SQLite database", err.Error())
	}

	s.db = db
	s.logger.WithField("path", path).Info("SQLite database connected")

	return nil
}

func sqliteDSN(connectionString string) string {
	if strings.Contains(connectionString, "?") {
		return connectionString + "&" + sqlitePragmas
	}
	return connectionString + "?" + sqlitePragmas
}

var _ Store = (*SQLiteStorage)(nil)
