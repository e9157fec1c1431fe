package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Manager) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestManagersDoNotShareRegistries(t *testing.T) {
	first := NewManager()
	second := NewManager()

	first.GetPrometheusMetrics().RecordLogHandled("NewRSVP", "applied", time.Millisecond)

	assert.Contains(t, scrape(t, first), `rsvp_logs_handled_total{event_name="NewRSVP",outcome="applied"} 1`)
	assert.NotContains(t, scrape(t, second), `rsvp_logs_handled_total{event_name="NewRSVP"`)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewManager()
	m.GetPrometheusMetrics().UpdateLatestProcessedBlock(1234)
	m.GetPrometheusMetrics().RecordMetadataFetch("success", 20*time.Millisecond)
	m.GetPrometheusMetrics().UpdateComponentHealth("storage", true)
	m.UpdateSystemMetrics()

	body := scrape(t, m)
	assert.Contains(t, body, "rsvp_latest_processed_block 1234")
	assert.Contains(t, body, `rsvp_metadata_fetches_total{status="success"} 1`)
	assert.Contains(t, body, `rsvp_component_health{component="storage"} 1`)
	assert.Contains(t, body, "rsvp_goroutines")
	assert.Contains(t, body, "go_goroutines")
}
