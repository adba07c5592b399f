package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// Middleware bundles cross-cutting request handling: correlation ids,
// in-flight tracking, and access logging.
type Middleware struct {
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewMiddleware creates a new middleware set
func NewMiddleware(logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Middleware {
	return &Middleware{
		logger:  logger,
		metrics: metricsCollector,
	}
}

// RequestID honors an inbound X-Request-ID header or assigns a fresh
// UUID, propagates it through the request context, and echoes it on
// the response.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Instrument tracks in-flight requests and writes one access log
// entry per request.
func (m *Middleware) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.metrics.ActiveConnections.Inc()
		defer m.metrics.ActiveConnections.Dec()

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		m.logger.Info(r.Context(), "[HTTP_REQUEST] Request handled", logging.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      recorder.status,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}
