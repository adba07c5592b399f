package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

func TestRequestIDGenerated(t *testing.T) {
	mw := NewMiddleware(newTestLogger(), metrics.NewCollectorForTesting())

	var seenID string
	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	mw.RequestID(probe).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/weather", nil))

	require.NotEmpty(t, seenID)
	assert.NoError(t, uuid.Validate(seenID))
	assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsInbound(t *testing.T) {
	mw := NewMiddleware(newTestLogger(), metrics.NewCollectorForTesting())

	var seenID string
	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = logging.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/weather", nil)
	req.Header.Set("X-Request-ID", "ingest-run-42")
	rec := httptest.NewRecorder()
	mw.RequestID(probe).ServeHTTP(rec, req)

	assert.Equal(t, "ingest-run-42", seenID)
	assert.Equal(t, "ingest-run-42", rec.Header().Get("X-Request-ID"))
}

func TestInstrumentTracksInFlightRequests(t *testing.T) {
	collector := metrics.NewCollectorForTesting()
	mw := NewMiddleware(newTestLogger(), collector)

	var inFlight float64
	probe := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlight = testutil.ToFloat64(collector.ActiveConnections)
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	mw.Instrument(probe).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, float64(1), inFlight)
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.ActiveConnections))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
