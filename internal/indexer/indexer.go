// File: internal/indexer/indexer.go
package indexer

import (
	"context"
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/web3rsvp-indexer/internal/contract"
	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/internal/storage"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// ChainReader is the part of the connection manager the indexer needs
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HealthCheck(ctx context.Context) error
}

// LogHandler applies one decoded contract event to the store
type LogHandler interface {
	HandleLog(ctx context.Context, store storage.Entities, decoded interface{}) error
}

// Config holds indexer configuration
type Config struct {
	ContractAddress    common.Address `json:"contract_address"`
	StartBlock         uint64         `json:"start_block"`
	PollInterval       time.Duration  `json:"poll_interval"`
	BatchSize          int            `json:"batch_size"`
	ConfirmationBlocks int            `json:"confirmation_blocks"`
}

// RangeResult contains the result of processing a block range
type RangeResult struct {
	FromBlock       uint64        `json:"from_block"`
	ToBlock         uint64        `json:"to_block"`
	BlocksProcessed int           `json:"blocks_processed"`
	LogsFound       int           `json:"logs_found"`
	LogsHandled     int           `json:"logs_handled"`
	LogsSkipped     int           `json:"logs_skipped"`
	ProcessingTime  time.Duration `json:"processing_time"`
}

// Stats provides indexing statistics
type Stats struct {
	StartTime            time.Time     `json:"start_time"`
	Uptime               time.Duration `json:"uptime"`
	IsRunning            bool          `json:"is_running"`
	ChainHead            uint64        `json:"chain_head"`
	LatestProcessedBlock uint64        `json:"latest_processed_block"`
	TotalBlocksProcessed uint64        `json:"total_blocks_processed"`
	TotalLogsHandled     uint64        `json:"total_logs_handled"`
	TotalLogsSkipped     uint64        `json:"total_logs_skipped"`
	ErrorCount           uint64        `json:"error_count"`
	LastError            *string       `json:"last_error,omitempty"`
	LastErrorTime        *time.Time    `json:"last_error_time,omitempty"`
	LastProcessedAt      *time.Time    `json:"last_processed_at,omitempty"`
}

// HealthStatus provides health information
type HealthStatus struct {
	Healthy           bool     `json:"healthy"`
	Running           bool     `json:"running"`
	ConnectionHealthy bool     `json:"connection_healthy"`
	StorageHealthy    bool     `json:"storage_healthy"`
	BlocksBehind      uint64   `json:"blocks_behind"`
	Issues            []string `json:"issues,omitempty"`
}

// Indexer follows the chain and feeds contract logs to the mapping handlers
type Indexer struct {
	// Dependencies
	chain    ChainReader
	store    storage.Store
	decoder  *contract.Decoder
	handlers LogHandler
	logger   *logrus.Entry

	// Configuration
	config *Config

	// State management
	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// Statistics
	stats          *Stats
	metricsManager *metrics.Manager
}

// NewIndexer creates a new indexer
func NewIndexer(chain ChainReader, store storage.Store, decoder *contract.Decoder, handlers LogHandler, config *Config) *Indexer {
	return &Indexer{
		chain:    chain,
		store:    store,
		decoder:  decoder,
		handlers: handlers,
		config:   config,
		logger:   utils.ComponentLogger("indexer"),
		stats: &Stats{
			StartTime: time.Now(),
		},
	}
}

// SetMetricsManager sets the metrics manager for block metrics
func (ix *Indexer) SetMetricsManager(metricsManager *metrics.Manager) {
	ix.metricsManager = metricsManager
}

// Start launches the polling loop in the background
func (ix *Indexer) Start(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Indexer already running", "")
	}
	if ix.config.PollInterval <= 0 {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Poll interval must be positive", "")
	}

	ix.running = true
	ix.stopChan = make(chan struct{})
	ix.stats.StartTime = time.Now()
	ix.stats.IsRunning = true

	ix.wg.Add(1)
	go ix.pollingLoop(ctx, ix.stopChan)

	ix.logger.WithFields(logrus.Fields{
		"contract":      ix.config.ContractAddress.Hex(),
		"poll_interval": ix.config.PollInterval,
		"batch_size":    ix.config.BatchSize,
	}).Info("Indexer started")

	return nil
}

// Stop signals the polling loop and waits for it to exit
func (ix *Indexer) Stop() error {
	ix.mu.Lock()
	if !ix.running {
		ix.mu.Unlock()
		return nil
	}
	ix.running = false
	ix.stats.IsRunning = false
	close(ix.stopChan)
	ix.mu.Unlock()

	ix.wg.Wait()

	ix.logger.Info("Indexer stopped")
	return nil
}

// IsRunning returns whether the indexer is running
func (ix *Indexer) IsRunning() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.running
}

// pollingLoop polls once immediately and then on every tick
func (ix *Indexer) pollingLoop(ctx context.Context, stop <-chan struct{}) {
	defer ix.wg.Done()

	ticker := time.NewTicker(ix.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := ix.poll(ctx, stop); err != nil && !errors.Is(err, context.Canceled) {
			ix.logger.WithError(err).Error("Error polling for new blocks")
			ix.recordError(err)
		}

		select {
		case <-ctx.Done():
			ix.logger.Debug("Polling loop stopped by context")
			return
		case <-stop:
			ix.logger.Debug("Polling loop stopped by stop signal")
			return
		case <-ticker.C:
		}
	}
}

// poll processes confirmed blocks past the cursor, one batch at a time,
// until the indexer has caught up
func (ix *Indexer) poll(ctx context.Context, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		from, to, behind, err := ix.nextRange(ctx)
		if err != nil {
			return err
		}
		if to < from {
			return nil
		}

		if _, err := ix.ProcessBlockRange(ctx, from, to); err != nil {
			return err
		}

		if ix.metricsManager != nil {
			ix.metricsManager.GetPrometheusMetrics().UpdateBlocksBehind(behind)
		}
		if behind == 0 {
			return nil
		}
	}
}

// nextRange computes the next batch from the cursor and the confirmed head.
// to < from means there is nothing to do.
func (ix *Indexer) nextRange(ctx context.Context) (from, to, behind uint64, err error) {
	head, err := ix.chain.BlockNumber(ctx)
	if err != nil {
		return 0, 0, 0, err
	}

	ix.mu.Lock()
	ix.stats.ChainHead = head
	ix.mu.Unlock()

	cursor, err := ix.store.GetLatestProcessedBlock(ctx)
	if err != nil {
		return 0, 0, 0, err
	}

	confirmations := uint64(ix.config.ConfirmationBlocks)
	if head < confirmations {
		return 1, 0, 0, nil
	}
	confirmed := head - confirmations

	// cursor 0 means nothing has been committed; block 0 itself never
	// advances it, so it is replayed until a later block lands
	from = cursor + 1
	if cursor == 0 {
		from = 0
	}
	if from < ix.config.StartBlock {
		from = ix.config.StartBlock
	}
	if from > confirmed {
		return 1, 0, 0, nil
	}

	to = confirmed
	if batch := uint64(ix.config.BatchSize); batch > 0 && to-from+1 > batch {
		to = from + batch - 1
	}
	return from, to, confirmed - to, nil
}

// ProcessBlockRange fetches the contract's logs for [fromBlock, toBlock] and
// applies them block by block. Each block commits together with the cursor;
// the cursor never moves backwards.
func (ix *Indexer) ProcessBlockRange(ctx context.Context, fromBlock, toBlock uint64) (*RangeResult, error) {
	start := time.Now()
	result := &RangeResult{FromBlock: fromBlock, ToBlock: toBlock}

	if toBlock < fromBlock {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid block range", "from block is after to block")
	}

	logs, err := ix.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{ix.config.ContractAddress},
		Topics:    [][]common.Hash{ix.decoder.Topics()},
	})
	if err != nil {
		return nil, err
	}
	result.LogsFound = len(logs)

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	cursor, err := ix.store.GetLatestProcessedBlock(ctx)
	if err != nil {
		return nil, err
	}

	for len(logs) > 0 {
		block := logs[0].BlockNumber
		n := 1
		for n < len(logs) && logs[n].BlockNumber == block {
			n++
		}

		handled, skipped, err := ix.processBlock(ctx, block, logs[:n], cursor)
		if err != nil {
			return nil, err
		}
		result.LogsHandled += handled
		result.LogsSkipped += skipped
		if block > cursor {
			cursor = block
		}
		logs = logs[n:]
	}

	if toBlock > cursor {
		if err := ix.store.SetLatestProcessedBlock(ctx, toBlock); err != nil {
			return nil, err
		}
		cursor = toBlock
	}

	result.BlocksProcessed = int(toBlock - fromBlock + 1)
	result.ProcessingTime = time.Since(start)
	ix.updateStats(result, cursor)

	ix.logger.WithFields(logrus.Fields{
		"from":         fromBlock,
		"to":           toBlock,
		"logs_found":   result.LogsFound,
		"logs_handled": result.LogsHandled,
		"logs_skipped": result.LogsSkipped,
		"duration":     result.ProcessingTime,
	}).Debug("Block range processed")

	return result, nil
}

// processBlock applies one block's logs in a single transaction
func (ix *Indexer) processBlock(ctx context.Context, block uint64, logs []types.Log, cursor uint64) (handled, skipped int, err error) {
	err = ix.store.WithTx(ctx, func(tx storage.Tx) error {
		handled, skipped = 0, 0
		for _, log := range logs {
			if log.Removed {
				skipped++
				continue
			}

			decoded, err := ix.decoder.Decode(log)
			if err != nil {
				ix.logger.WithFields(logrus.Fields{
					"block":     log.BlockNumber,
					"log_index": log.Index,
					"tx_hash":   log.TxHash.Hex(),
				}).WithError(err).Warn("Skipping undecodable log")
				skipped++
				continue
			}

			if err := ix.handlers.HandleLog(ctx, tx, decoded); err != nil {
				return err
			}
			handled++
		}

		if block > cursor {
			return tx.SetLatestProcessedBlock(ctx, block)
		}
		return nil
	})
	return handled, skipped, err
}

func (ix *Indexer) updateStats(result *RangeResult, cursor uint64) {
	now := time.Now()

	ix.mu.Lock()
	ix.stats.LatestProcessedBlock = cursor
	ix.stats.TotalBlocksProcessed += uint64(result.BlocksProcessed)
	ix.stats.TotalLogsHandled += uint64(result.LogsHandled)
	ix.stats.TotalLogsSkipped += uint64(result.LogsSkipped)
	ix.stats.LastProcessedAt = &now
	ix.mu.Unlock()

	if ix.metricsManager != nil {
		prometheus := ix.metricsManager.GetPrometheusMetrics()
		prometheus.RecordBlocksProcessed(result.BlocksProcessed, result.ProcessingTime)
		prometheus.UpdateLatestProcessedBlock(cursor)
	}
}

func (ix *Indexer) recordError(err error) {
	now := time.Now()
	message := err.Error()

	ix.mu.Lock()
	ix.stats.ErrorCount++
	ix.stats.LastError = &message
	ix.stats.LastErrorTime = &now
	ix.mu.Unlock()
}

// GetStats returns a snapshot of the indexing statistics
func (ix *Indexer) GetStats() *Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	stats := *ix.stats
	stats.IsRunning = ix.running
	stats.Uptime = time.Since(ix.stats.StartTime)
	return &stats
}

// GetHealth checks the node and the store and reports how far behind the
// confirmed head the cursor is
func (ix *Indexer) GetHealth(ctx context.Context) *HealthStatus {
	health := &HealthStatus{
		Running:           ix.IsRunning(),
		ConnectionHealthy: true,
		StorageHealthy:    true,
	}

	if err := ix.chain.HealthCheck(ctx); err != nil {
		health.ConnectionHealthy = false
		health.Issues = append(health.Issues, "connection: "+err.Error())
	}

	if err := ix.store.Ping(); err != nil {
		health.StorageHealthy = false
		health.Issues = append(health.Issues, "storage: "+err.Error())
	}

	stats := ix.GetStats()
	confirmations := uint64(ix.config.ConfirmationBlocks)
	if stats.ChainHead > confirmations && stats.ChainHead-confirmations > stats.LatestProcessedBlock {
		health.BlocksBehind = stats.ChainHead - confirmations - stats.LatestProcessedBlock
	}

	if stats.LastErrorTime != nil && (stats.LastProcessedAt == nil || stats.LastErrorTime.After(*stats.LastProcessedAt)) {
		health.Issues = append(health.Issues, "last poll failed: "+*stats.LastError)
	}

	health.Healthy = health.ConnectionHealthy && health.StorageHealthy && len(health.Issues) == 0

	if ix.metricsManager != nil {
		prometheus := ix.metricsManager.GetPrometheusMetrics()
		prometheus.UpdateComponentHealth("connection", health.ConnectionHealthy)
		prometheus.UpdateComponentHealth("storage", health.StorageHealthy)
		prometheus.UpdateComponentHealth("indexer", health.Healthy)
	}

	return health
}
