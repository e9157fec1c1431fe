// File: internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/web3rsvp-indexer/internal/indexer"
	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/internal/models"
	"github.com/smartdevs17/web3rsvp-indexer/internal/storage"
	"github.com/smartdevs17/web3rsvp-indexer/pkg/utils"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port          int           `json:"port"`
	Host          string        `json:"host"`
	ReadTimeout   time.Duration `json:"read_timeout"`
	WriteTimeout  time.Duration `json:"write_timeout"`
	EnableMetrics bool          `json:"enable_metrics"`
	EnableHealth  bool          `json:"enable_health"`
	Version       string        `json:"version"`
}

// IndexerStatus is the read-only view of the indexer the API exposes
type IndexerStatus interface {
	GetStats() *indexer.Stats
	GetHealth(ctx context.Context) *indexer.HealthStatus
}

// HTTPServer serves the read API over the indexed entities
type HTTPServer struct {
	config         *ServerConfig
	server         *http.Server
	router         *mux.Router
	storage        storage.Store
	indexer        IndexerStatus
	metricsManager *metrics.Manager
	logger         *logrus.Entry
}

// NewHTTPServer creates a new HTTP server. indexer and metricsManager may be nil.
func NewHTTPServer(
	config *ServerConfig,
	store storage.Store,
	indexer IndexerStatus,
	metricsManager *metrics.Manager,
) *HTTPServer {
	server := &HTTPServer{
		config:         config,
		storage:        store,
		indexer:        indexer,
		metricsManager: metricsManager,
		logger:         utils.ComponentLogger("server"),
	}

	server.setupRouter()

	server.server = &http.Server{
		Addr:         net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return server
}

// setupRouter sets up the HTTP routes
func (s *HTTPServer) setupRouter() {
	s.router = mux.NewRouter()

	// Middleware
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metricsManager != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	get := func(path string, handler http.HandlerFunc) {
		api.HandleFunc(path, handler).Methods(http.MethodGet, http.MethodOptions)
	}

	if s.config.EnableHealth {
		get("/health", s.healthHandler)
	}
	get("/stats", s.statsHandler)

	if s.config.EnableMetrics && s.metricsManager != nil {
		s.router.Handle("/metrics", s.metricsManager.Handler())
	}

	// Event endpoints
	get("/events", s.listEventsHandler)
	get("/events/{id}", s.getEventHandler)
	get("/events/{id}/rsvps", s.eventRSVPsHandler)
	get("/events/{id}/confirmations", s.eventConfirmationsHandler)

	// Account endpoints
	get("/accounts/{address}", s.getAccountHandler)
	get("/accounts/{address}/rsvps", s.accountRSVPsHandler)
	get("/accounts/{address}/confirmations", s.accountConfirmationsHandler)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, utils.ErrCodeNotFound, "Route not found", nil)
	})
}

// Handler returns the router, for embedding or tests
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *HTTPServer) Run(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting HTTP server")

	if s.metricsManager != nil {
		s.metricsManager.UpdateSystemMetrics()
		go s.systemMetricsUpdater(ctx)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.Stop(); err != nil {
		return err
	}
	return <-errChan
}

// systemMetricsUpdater updates system metrics periodically
func (s *HTTPServer) systemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metricsManager.UpdateSystemMetrics()
		}
	}
}

// Stop stops the HTTP server
func (s *HTTPServer) Stop() error {
	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Health Handlers

// healthHandler reports node, storage and indexer health; 503 when unhealthy
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"version":   s.config.Version,
	}

	healthy := true
	if s.indexer != nil {
		health := s.indexer.GetHealth(r.Context())
		resp["indexer"] = health
		healthy = health.Healthy
	} else if err := s.storage.Ping(); err != nil {
		resp["storage_error"] = err.Error()
		healthy = false
	}

	status := http.StatusOK
	resp["status"] = "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		resp["status"] = "unhealthy"
	}
	s.writeJSON(w, status, resp)
}

// statsHandler returns entity counts and indexer progress
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, utils.ErrCodeDatabase, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"storage":   storageStats,
	}
	if s.indexer != nil {
		stats["indexer"] = s.indexer.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Event Handlers

// listEventsHandler lists events, optionally by owner and payout state
func (s *HTTPServer) listEventsHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := models.EventFilter{}

	if owner := query.Get("owner"); owner != "" {
		if !utils.IsValidAddress(owner) {
			s.writeError(w, r, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid owner address", nil)
			return
		}
		normalized := utils.NormalizeAddress(owner)
		filter.Owner = &normalized
	}

	if paidOut := query.Get("paid_out"); paidOut != "" {
		value, err := strconv.ParseBool(paidOut)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid paid_out value", nil)
			return
		}
		filter.PaidOut = &value
	}

	var ok bool
	if filter.Limit, filter.Offset, ok = s.parsePage(w, r); !ok {
		return
	}

	events, err := s.storage.ListEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, utils.ErrCodeDatabase, "Failed to list events", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEventHandler returns a single event by id
func (s *HTTPServer) getEventHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.eventID(w, r)
	if !ok {
		return
	}

	event, err := s.storage.LoadEvent(r.Context(), id)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, utils.ErrCodeDatabase, "Failed to load event", err)
		return
	}
	if event == nil {
		s.writeError(w, r, http.StatusNotFound, utils.ErrCodeNotFound, "Event not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, event)
}

func (s *HTTPServer) eventRSVPsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.eventID(w, r)
	if !ok {
		return
	}
	s.listRSVPs(w, r, models.AttendanceFilter{Event: &id})
}

func (s *HTTPServer) eventConfirmationsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.eventID(w, r)
	if !ok {
		return
	}
	s.listConfirmations(w, r, models.AttendanceFilter{Event: &id})
}

// Account Handlers

// getAccountHandler returns an account's participation counters
func (s *HTTPServer) getAccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}

	account, err := s.storage.LoadAccount(r.Context(), id)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, utils.ErrCodeDatabase, "Failed to load account", err)
		return
	}
	if account == nil {
		s.writeError(w, r, http.StatusNotFound, utils.ErrCodeNotFound, "Account not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, account)
}

func (s *HTTPServer) accountRSVPsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	s.listRSVPs(w, r, models.AttendanceFilter{Attendee: &id})
}

func (s *HTTPServer) accountConfirmationsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}
	s.listConfirmations(w, r, models.AttendanceFilter{Attendee: &id})
}

func (s *HTTPServer) listRSVPs(w http.ResponseWriter, r *http.Request, filter models.AttendanceFilter) {
	var ok bool
	if filter.Limit, filter.Offset, ok = s.parsePage(w, r); !ok {
		return
	}

	rsvps, err := s.storage.ListRSVPs(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, utils.ErrCodeDatabase, "Failed to list rsvps", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"rsvps":  rsvps,
		"count":  len(rsvps),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *HTTPServer) listConfirmations(w http.ResponseWriter, r *http.Request, filter models.AttendanceFilter) {
	var ok bool
	if filter.Limit, filter.Offset, ok = s.parsePage(w, r); !ok {
		return
	}

	confirmations, err := s.storage.ListConfirmations(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, utils.ErrCodeDatabase, "Failed to list confirmations", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"confirmations": confirmations,
		"count":         len(confirmations),
		"limit":         filter.Limit,
		"offset":        filter.Offset,
	})
}

// Helper methods

// eventID reads and normalizes the {id} route variable
func (s *HTTPServer) eventID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	if !utils.IsValidBytes32(id) {
		s.writeError(w, r, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid event id", nil)
		return "", false
	}
	return strings.ToLower(id), true
}

// accountID reads and normalizes the {address} route variable
func (s *HTTPServer) accountID(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := mux.Vars(r)["address"]
	if !utils.IsValidAddress(address) {
		s.writeError(w, r, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid address", nil)
		return "", false
	}
	return utils.NormalizeAddress(address), true
}

// parsePage reads limit and offset, defaulting and clamping the limit
func (s *HTTPServer) parsePage(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	query := r.URL.Query()
	limit, offset := storage.DefaultListLimit, 0

	if raw := query.Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			s.writeError(w, r, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid limit", nil)
			return 0, 0, false
		}
		limit = value
	}
	if limit > storage.MaxListLimit {
		limit = storage.MaxListLimit
	}

	if raw := query.Get("offset"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			s.writeError(w, r, http.StatusBadRequest, utils.ErrCodeValidation, "Invalid offset", nil)
			return 0, 0, false
		}
		offset = value
	}

	return limit, offset, true
}

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeError writes the {"error": {"code", "message"}} envelope
func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, err error) {
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"status":     status,
			"request_id": RequestID(r.Context()),
		}).WithError(err).Error(message)
	}

	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
