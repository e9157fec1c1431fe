package server

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/web3rsvp-indexer/internal/indexer"
	"github.com/smartdevs17/web3rsvp-indexer/internal/metrics"
	"github.com/smartdevs17/web3rsvp-indexer/internal/models"
	"github.com/smartdevs17/web3rsvp-indexer/internal/storage"
)

const (
	eventA  = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	eventB  = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	owner   = "0x00000000000000000000000000000000000000a1"
	guestID = "0xabcdef0000000000000000000000000000000001"
)

type stubIndexer struct {
	healthy bool
}

func (s stubIndexer) GetStats() *indexer.Stats {
	return &indexer.Stats{LatestProcessedBlock: 42, IsRunning: true}
}

func (s stubIndexer) GetHealth(context.Context) *indexer.HealthStatus {
	return &indexer.HealthStatus{Healthy: s.healthy, ConnectionHealthy: s.healthy, StorageHealthy: true}
}

func seedStore(t *testing.T) *storage.MemoryStore {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Connect())

	name := "Demo"
	require.NoError(t, store.SaveEvent(ctx, &models.Event{
		ID:             eventA,
		EventOwner:     owner,
		EventTimestamp: models.NewBigInt(big.NewInt(1700000000)),
		MaxCapacity:    models.NewBigInt(big.NewInt(10)),
		Deposit:        models.NewBigInt(big.NewInt(1000)),
		TotalRSVPs:     1,
		Name:           &name,
	}))
	require.NoError(t, store.SaveEvent(ctx, &models.Event{ID: eventB, EventOwner: guestID, PaidOut: true}))
	require.NoError(t, store.SaveAccount(ctx, &models.Account{ID: guestID, TotalRSVPs: 1, TotalAttendedEvents: 1}))
	require.NoError(t, store.SaveRSVP(ctx, &models.RSVP{ID: eventA + guestID, Attendee: guestID, Event: eventA}))
	require.NoError(t, store.SaveConfirmation(ctx, &models.Confirmation{ID: eventA + guestID, Attendee: guestID, Event: eventA}))
	require.NoError(t, store.SetLatestProcessedBlock(ctx, 42))
	return store
}

func newTestServer(t *testing.T, status IndexerStatus, metricsManager *metrics.Manager) *httptest.Server {
	t.Helper()
	srv := NewHTTPServer(&ServerConfig{
		Host:          "127.0.0.1",
		Port:          0,
		EnableMetrics: true,
		EnableHealth:  true,
		Version:       "test",
	}, seedStore(t), status, metricsManager)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestGetEvent(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	var event map[string]interface{}
	resp := getJSON(t, ts.URL+"/api/v1/events/"+eventA[2:], nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing 0x prefix")

	// mixed case ids are normalized
	resp = getJSON(t, ts.URL+"/api/v1/events/0x"+strings.ToUpper(eventA[2:]), &event)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, eventA, event["id"])
	assert.Equal(t, "Demo", event["name"])
	assert.Equal(t, "1000", event["deposit"])
	assert.Equal(t, float64(1), event["total_rsvps"])
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))
}

func TestGetEventNotFound(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	var envelope errorEnvelope
	resp := getJSON(t, ts.URL+"/api/v1/events/0x"+strings.Repeat("c", 64), &envelope)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)

	resp = getJSON(t, ts.URL+"/api/v1/events/0x1234", &envelope)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", envelope.Error.Code)
}

func TestListEvents(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	var body struct {
		Events []models.Event `json:"events"`
		Count  int            `json:"count"`
		Limit  int            `json:"limit"`
	}
	resp := getJSON(t, ts.URL+"/api/v1/events", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, storage.DefaultListLimit, body.Limit)

	resp = getJSON(t, ts.URL+"/api/v1/events?paid_out=true", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Events, 1)
	assert.Equal(t, eventB, body.Events[0].ID)

	resp = getJSON(t, ts.URL+"/api/v1/events?owner=0x00000000000000000000000000000000000000A1", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Events, 1)
	assert.Equal(t, eventA, body.Events[0].ID)
	assert.Equal(t, "1700000000", body.Events[0].EventTimestamp.String())

	resp = getJSON(t, ts.URL+"/api/v1/events?limit=1&offset=1", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body.Events, 1)
	assert.Equal(t, eventB, body.Events[0].ID)

	for _, query := range []string{"paid_out=maybe", "owner=nope", "limit=0", "offset=-1"} {
		resp = getJSON(t, ts.URL+"/api/v1/events?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}

func TestAttendanceRoutes(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	var rsvps struct {
		RSVPs []models.RSVP `json:"rsvps"`
	}
	resp := getJSON(t, ts.URL+"/api/v1/events/"+eventA+"/rsvps", &rsvps)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rsvps.RSVPs, 1)
	assert.Equal(t, guestID, rsvps.RSVPs[0].Attendee)

	var confirmations struct {
		Confirmations []models.Confirmation `json:"confirmations"`
	}
	resp = getJSON(t, ts.URL+"/api/v1/accounts/0xABCDEF0000000000000000000000000000000001/confirmations", &confirmations)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, confirmations.Confirmations, 1)
	assert.Equal(t, eventA, confirmations.Confirmations[0].Event)

	resp = getJSON(t, ts.URL+"/api/v1/events/"+eventB+"/confirmations", &confirmations)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, confirmations.Confirmations)

	resp = getJSON(t, ts.URL+"/api/v1/accounts/"+guestID+"/rsvps", &rsvps)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, rsvps.RSVPs, 1)
}

func TestGetAccount(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	var account models.Account
	resp := getJSON(t, ts.URL+"/api/v1/accounts/"+guestID, &account)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), account.TotalRSVPs)
	assert.Equal(t, uint64(1), account.TotalAttendedEvents)

	resp = getJSON(t, ts.URL+"/api/v1/accounts/"+owner, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/api/v1/accounts/not-an-address", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndStats(t *testing.T) {
	ts := newTestServer(t, stubIndexer{healthy: true}, nil)

	var health map[string]interface{}
	resp := getJSON(t, ts.URL+"/api/v1/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health["status"])

	var stats struct {
		Storage storage.Stats `json:"storage"`
		Indexer indexer.Stats `json:"indexer"`
	}
	resp = getJSON(t, ts.URL+"/api/v1/stats", &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), stats.Storage.Events)
	assert.Equal(t, int64(1), stats.Storage.RSVPs)
	assert.Equal(t, uint64(42), stats.Storage.LatestBlock)
	assert.Equal(t, uint64(42), stats.Indexer.LatestProcessedBlock)

	unhealthy := newTestServer(t, stubIndexer{healthy: false}, nil)
	resp = getJSON(t, unhealthy.URL+"/api/v1/health", &health)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unhealthy", health["status"])
}

func TestMiddleware(t *testing.T) {
	manager := metrics.NewManager()
	ts := newTestServer(t, nil, manager)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/events", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `rsvp_http_requests_total{method="GET",path="/api/v1/events",status="200"}`)
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t, nil, nil)

	var envelope errorEnvelope
	resp := getJSON(t, ts.URL+"/api/v2/anything", &envelope)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", envelope.Error.Code)
}
