// Package connection manages the JSON-RPC connection to the chain node,
// rotating through backup nodes when the current one fails.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/web3rsvp-indexer/internal/config"
	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// ConnectionManager hands out a healthy ethclient and retries calls across
// the configured nodes
type ConnectionManager struct {
	config          *config.ChainConfig
	urls            []string
	currentIndex    int
	client          *ethclient.Client
	mu              sync.RWMutex
	logger          *logrus.Entry
	stats           ConnectionStats
	lastHealthCheck time.Time
	isHealthy       bool
	metricsManager  *metrics.Manager
}

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	TotalRequests   uint64    `json:"total_requests"`
	FailedRequests  uint64    `json:"failed_requests"`
	Reconnects      uint64    `json:"reconnects"`
	CurrentURL      string    `json:"current_url"`
	LastConnectedAt time.Time `json:"last_connected_at"`
	LastHealthCheck time.Time `json:"last_health_check"`
	IsHealthy       bool      `json:"is_healthy"`
	NetworkID       uint64    `json:"network_id"`
	LatestBlock     uint64    `json:"latest_block"`
}

// NewConnectionManager creates a new connection manager. Nothing is dialed
// until the first call.
func NewConnectionManager(cfg *config.ChainConfig) *ConnectionManager {
	urls := []string{cfg.NodeURL}
	urls = append(urls, cfg.BackupNodes...)

	return &ConnectionManager{
		config: cfg,
		urls:   urls,
		logger: utils.ComponentLogger("connection"),
		stats: ConnectionStats{
			CurrentURL: cfg.NodeURL,
		},
	}
}

// SetMetricsManager sets the metrics manager for RPC metrics
func (cm *ConnectionManager) SetMetricsManager(metricsManager *metrics.Manager) {
	cm.metricsManager = metricsManager
}

// BlockNumber returns the current chain head
func (cm *ConnectionManager) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := cm.call(ctx, "eth_blockNumber", func(callCtx context.Context, client *ethclient.Client) error {
		n, err := client.BlockNumber(callCtx)
		head = n
		return err
	})
	if err != nil {
		return 0, err
	}

	cm.mu.Lock()
	cm.stats.LatestBlock = head
	cm.mu.Unlock()
	return head, nil
}

// FilterLogs runs eth_getLogs for q
func (cm *ConnectionManager) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	err := cm.call(ctx, "eth_getLogs", func(callCtx context.Context, client *ethclient.Client) error {
		result, err := client.FilterLogs(callCtx, q)
		logs = result
		return err
	})
	return logs, err
}

// call runs fn against the current client, reconnecting to the next node and
// retrying up to RetryAttempts times
func (cm *ConnectionManager) call(ctx context.Context, method string, fn func(context.Context, *ethclient.Client) error) error {
	attempts := cm.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(cm.config.RetryDelay):
			}
		}

		client, err := cm.getClient(ctx)
		if err != nil {
			lastErr = err
			continue
		}

		start := time.Now()
		callCtx, cancel := cm.withTimeout(ctx)
		err = fn(callCtx, client)
		cancel()

		endpoint := cm.currentURL()
		cm.recordRequest(endpoint, method, err, time.Since(start))
		if err == nil {
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cm.logger.WithFields(logrus.Fields{
			"method":  method,
			"url":     endpoint,
			"attempt": attempt + 1,
		}).WithError(err).Warn("RPC request failed")
		cm.dropClient()
	}

	var appErr *utils.AppError
	if errors.As(lastErr, &appErr) {
		return lastErr
	}
	return utils.NewAppError(utils.ErrCodeBlockchain, fmt.Sprintf("%s failed", method), lastErr.Error())
}

// getClient returns the current client, connecting first if needed
func (cm *ConnectionManager) getClient(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.RLock()
	client := cm.client
	cm.mu.RUnlock()

	if client != nil {
		return client, nil
	}
	return cm.connect(ctx)
}

// connect tries each node once, starting from the current index
func (cm *ConnectionManager) connect(ctx context.Context) (*ethclient.Client, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		return cm.client, nil
	}

	for offset := 0; offset < len(cm.urls); offset++ {
		index := (cm.currentIndex + offset) % len(cm.urls)
		url := cm.urls[index]
		logger := cm.logger.WithField("url", url)

		client, err := cm.dialWithTimeout(ctx, url)
		if err != nil {
			logger.WithError(err).Warn("Connection failed")
			cm.stats.FailedRequests++
			cm.recordConnectionError(url, "dial_failed")
			continue
		}

		// Verify the connection works and points at the expected network
		networkID, err := cm.checkNetwork(ctx, client)
		if err != nil {
			client.Close()
			logger.WithError(err).Warn("Health check failed after connection")
			cm.stats.FailedRequests++
			cm.recordConnectionError(url, "health_check_failed")
			continue
		}

		cm.client = client
		cm.currentIndex = index
		cm.stats.CurrentURL = url
		cm.stats.NetworkID = networkID
		cm.stats.LastConnectedAt = time.Now()
		cm.isHealthy = true
		cm.lastHealthCheck = time.Now()

		logger.WithField("network_id", networkID).Info("Connected to chain node")
		return client, nil
	}

	cm.isHealthy = false
	return nil, utils.NewAppError(utils.ErrCodeConnection, "Failed to connect to any chain node",
		"All connection attempts exhausted")
}

// dropClient closes the current client and moves on to the next node
func (cm *ConnectionManager) dropClient() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}
	cm.currentIndex = (cm.currentIndex + 1) % len(cm.urls)
	cm.stats.Reconnects++
	cm.isHealthy = false
}

// dialWithTimeout creates a connection with timeout
func (cm *ConnectionManager) dialWithTimeout(ctx context.Context, url string) (*ethclient.Client, error) {
	dialCtx, cancel := cm.withTimeout(ctx)
	defer cancel()

	return ethclient.DialContext(dialCtx, url)
}

// withTimeout bounds ctx by RequestTimeout when one is configured
func (cm *ConnectionManager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if cm.config.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, cm.config.RequestTimeout)
}

// checkNetwork reads net_version and compares it with the configured
// network id; zero disables the comparison
func (cm *ConnectionManager) checkNetwork(ctx context.Context, client *ethclient.Client) (uint64, error) {
	checkCtx, cancel := cm.withTimeout(ctx)
	defer cancel()

	networkID, err := client.NetworkID(checkCtx)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeConnection, "Failed to get network ID", err.Error())
	}

	if cm.config.NetworkID != 0 && networkID.Uint64() != cm.config.NetworkID {
		return 0, utils.NewAppError(utils.ErrCodeConnection,
			"Network ID mismatch",
			fmt.Sprintf("expected %d, got %d", cm.config.NetworkID, networkID.Uint64()))
	}

	return networkID.Uint64(), nil
}

// HealthCheck verifies the node answers and is on the expected network
func (cm *ConnectionManager) HealthCheck(ctx context.Context) error {
	client, err := cm.getClient(ctx)
	if err != nil {
		return err
	}

	networkID, err := cm.checkNetwork(ctx, client)
	if err != nil {
		cm.mu.Lock()
		cm.isHealthy = false
		cm.stats.IsHealthy = false
		cm.mu.Unlock()
		cm.dropClient()
		return err
	}

	blockNumber, err := cm.BlockNumber(ctx)
	if err != nil {
		return err
	}

	cm.mu.Lock()
	cm.stats.NetworkID = networkID
	cm.stats.LastHealthCheck = time.Now()
	cm.stats.IsHealthy = true
	cm.lastHealthCheck = time.Now()
	cm.isHealthy = true
	url := cm.stats.CurrentURL
	cm.mu.Unlock()

	cm.logger.WithFields(logrus.Fields{
		"network_id":   networkID,
		"latest_block": blockNumber,
		"url":          url,
	}).Debug("Health check passed")

	return nil
}

// IsConnected returns whether the manager is connected
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.client != nil && cm.isHealthy
}

// Close closes the connection
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.client != nil {
		cm.client.Close()
		cm.client = nil
	}

	cm.isHealthy = false
	cm.logger.Info("Connection manager closed")
	return nil
}

// Stats returns connection statistics
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	stats := cm.stats
	stats.IsHealthy = cm.isHealthy
	return stats
}

func (cm *ConnectionManager) currentURL() string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.stats.CurrentURL
}

func (cm *ConnectionManager) recordRequest(endpoint, method string, err error, duration time.Duration) {
	cm.mu.Lock()
	cm.stats.TotalRequests++
	if err != nil {
		cm.stats.FailedRequests++
	}
	cm.mu.Unlock()

	if cm.metricsManager == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		cm.metricsManager.GetPrometheusMetrics().RecordConnectionError(endpoint, "rpc_call_failed")
	}
	cm.metricsManager.GetPrometheusMetrics().RecordRPCRequest(endpoint, method, status, duration)
}

func (cm *ConnectionManager) recordConnectionError(endpoint, errorType string) {
	if cm.metricsManager != nil {
		cm.metricsManager.GetPrometheusMetrics().RecordConnectionError(endpoint, errorType)
	}
}
