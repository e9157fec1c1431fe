// Package ipfs fetches event metadata documents from a content-addressed gateway.
package ipfs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// Fetcher retrieves content by IPFS path (<cid>/<file>)
type Fetcher interface {
	Cat(ctx context.Context, path string) ([]byte, error)
}

// GatewayConfig holds gateway fetcher configuration
type GatewayConfig struct {
	GatewayURL string        `json:"gateway_url"`
	Timeout    time.Duration `json:"timeout"`
	MaxSize    int64         `json:"max_size"`
}

// GatewayFetcher reads content through an HTTP gateway such as https://ipfs.io
type GatewayFetcher struct {
	config         *GatewayConfig
	httpClient     *http.Client
	logger         *logrus.Entry
	metricsManager *metrics.Manager
}

// NewGatewayFetcher creates a new gateway fetcher
func NewGatewayFetcher(config *GatewayConfig) *GatewayFetcher {
	return &GatewayFetcher{
		config: config,
		logger: utils.ComponentLogger("ipfs"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// SetMetricsManager sets the metrics manager for fetch metrics
func (f *GatewayFetcher) SetMetricsManager(metricsManager *metrics.Manager) {
	f.metricsManager = metricsManager
}

// Cat fetches the content at path
func (f *GatewayFetcher) Cat(ctx context.Context, path string) ([]byte, error) {
	start := time.Now()

	data, err := f.cat(ctx, path)

	if f.metricsManager != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		f.metricsManager.GetPrometheusMetrics().RecordMetadataFetch(status, time.Since(start))
	}

	return data, err
}

func (f *GatewayFetcher) cat(ctx context.Context, path string) ([]byte, error) {
	url := strings.TrimRight(f.config.GatewayURL, "/") + "/ipfs/" + strings.TrimLeft(path, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeMetadata, "Failed to build gateway request", err.Error())
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeMetadata, "Gateway request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, utils.NewAppError(utils.ErrCodeMetadata, "Unexpected gateway status",
			fmt.Sprintf("%s: %d", path, resp.StatusCode))
	}

	body := io.Reader(resp.Body)
	if f.config.MaxSize > 0 {
		body = io.LimitReader(resp.Body, f.config.MaxSize+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeMetadata, "Failed to read gateway response", err.Error())
	}
	if f.config.MaxSize > 0 && int64(len(data)) > f.config.MaxSize {
		return nil, utils.NewAppError(utils.ErrCodeMetadata, "Content exceeds size limit",
			fmt.Sprintf("%s: limit %d bytes", path, f.config.MaxSize))
	}

	f.logger.WithFields(logrus.Fields{
		"path":  path,
		"bytes": len(data),
	}).Debug("Fetched content from gateway")

	return data, nil
}
