package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordAPIRequest(t *testing.T) {
	collector := NewCollectorForTesting()

	collector.RecordAPIRequest("/api/weather", "GET", "200")
	collector.RecordAPIRequest("/api/weather", "GET", "200")
	collector.RecordAPIRequest("/api/weather/stats", "GET", "400")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.APIRequestsTotal.WithLabelValues("/api/weather", "GET", "200")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.APIRequestsTotal.WithLabelValues("/api/weather/stats", "GET", "400")))
}

func TestRecordObservationOutcomes(t *testing.T) {
	collector := NewCollectorForTesting()

	for i := 0; i < 3; i++ {
		collector.RecordObservation("ingested")
	}
	collector.RecordObservation("skipped")
	collector.RecordObservation("error")

	assert.Equal(t, float64(3),
		testutil.ToFloat64(collector.IngestionObservationsTotal.WithLabelValues("ingested")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.IngestionObservationsTotal.WithLabelValues("skipped")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(collector.IngestionObservationsTotal.WithLabelValues("error")))
}

func TestTimerObservesDuration(t *testing.T) {
	collector := NewCollectorForTesting()

	timer := collector.NewTimer(collector.IngestionFileDuration)
	duration := timer.ObserveDuration()

	assert.GreaterOrEqual(t, duration.Nanoseconds(), int64(0))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.IngestionFileDuration))
}

func TestUpdateDBConnectionPool(t *testing.T) {
	collector := NewCollectorForTesting()

	collector.UpdateDBConnectionPool(3, 2, 5)

	assert.Equal(t, float64(3),
		testutil.ToFloat64(collector.DBConnectionPool.WithLabelValues("in_use")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(collector.DBConnectionPool.WithLabelValues("idle")))
	assert.Equal(t, float64(5),
		testutil.ToFloat64(collector.DBConnectionPool.WithLabelValues("total")))
}

func TestCollectorsUseIsolatedRegistries(t *testing.T) {
	first := NewCollectorForTesting()
	second := NewCollectorForTesting()

	first.RecordIngestionFile("success")

	assert.Equal(t, float64(1),
		testutil.ToFloat64(first.IngestionFilesTotal.WithLabelValues("success")))
	assert.Equal(t, float64(0),
		testutil.ToFloat64(second.IngestionFilesTotal.WithLabelValues("success")))
}
