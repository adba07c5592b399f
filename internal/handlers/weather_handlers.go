package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// WeatherHandler handles weather API endpoints
type WeatherHandler struct {
	weatherService *services.WeatherService
	statsService   *services.StatisticsService
	logger         *logging.StructuredLogger
	metrics        *metrics.Collector
	validate       *validator.Validate
}

// NewWeatherHandler creates a new weather handler
func NewWeatherHandler(
	weatherService *services.WeatherService,
	statsService *services.StatisticsService,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *WeatherHandler {
	return &WeatherHandler{
		weatherService: weatherService,
		statsService:   statsService,
		logger:         logger,
		metrics:        metricsCollector,
		validate:       newQueryValidator(),
	}
}

// newQueryValidator builds the validator with the API's custom rules.
func newQueryValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag name.
	_ = v.RegisterValidation("station_id", validStationID)
	_ = v.RegisterValidation("iso_date", validISODate)
	return v
}

// validStationID accepts 3-20 character identifiers that are
// alphanumeric once "-" and "_" are disregarded.
func validStationID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if len(id) < 3 || len(id) > 20 {
		return false
	}

	stripped := strings.NewReplacer("-", "", "_", "").Replace(id)
	if stripped == "" {
		return false
	}
	for _, r := range stripped {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// validISODate accepts real calendar dates in YYYY-MM-DD form with a
// year between 1800 and 2100.
func validISODate(fl validator.FieldLevel) bool {
	parsed, err := time.Parse("2006-01-02", fl.Field().String())
	if err != nil {
		return false
	}
	year := parsed.Year()
	return year >= 1800 && year <= 2100
}

type observationQuery struct {
	StationID string `validate:"omitempty,station_id"`
	Date      string `validate:"omitempty,iso_date"`
}

type statsQuery struct {
	StationID string `validate:"omitempty,station_id"`
	Year      *int   `validate:"omitempty,gte=1800,lte=2100"`
}

// validationMessage maps the first failed rule to its client-facing
// message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		switch verrs[0].StructField() {
		case "StationID":
			return "Invalid station_id format. Use alphanumeric characters only."
		case "Date":
			return "Invalid date format. Use YYYY-MM-DD format."
		case "Year":
			return "Invalid year. Must be between 1800 and 2100."
		}
	}
	return "Invalid query parameters."
}

// parsePagination extracts page and pageSize from the query string.
// Malformed values fall back to defaults; out-of-range values clamp
// into the supported window instead of failing the request.
func parsePagination(query url.Values) (int, int) {
	page := 1
	if raw := query.Get("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			page = v
		}
	}
	if page < 1 {
		page = 1
	}

	limit := 100
	if raw := query.Get("pageSize"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}

	return page, limit
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated API response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

func paginated(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

// GetObservations handles GET /api/weather
func (h *WeatherHandler) GetObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/weather").Observe(duration.Seconds())
	}()

	query := r.URL.Query()
	params := observationQuery{
		StationID: query.Get("station_id"),
		Date:      query.Get("date"),
	}

	if err := h.validate.Struct(params); err != nil {
		h.metrics.RecordAPIError("validation_error", "/api/weather")
		h.sendError(w, r, validationMessage(err), http.StatusBadRequest)
		return
	}

	page, limit := parsePagination(query)

	filter := repository.ObservationFilter{
		Page:     page,
		PageSize: limit,
	}
	if params.StationID != "" {
		filter.StationID = &params.StationID
	}
	if params.Date != "" {
		filter.Date = &params.Date
	}

	observations, total, err := h.weatherService.GetObservations(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_OBSERVATIONS_ERROR] Failed to get observations", logging.Fields{
			"station_id": params.StationID,
			"date":       params.Date,
			"page":       page,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/weather")
		h.sendError(w, r, "failed to retrieve observations", http.StatusInternalServerError)
		return
	}

	if observations == nil {
		observations = []*models.Observation{}
	}

	h.metrics.RecordAPIRequest("/api/weather", "GET", "200")
	h.sendJSON(w, paginated(observations, total, page, limit), http.StatusOK)
}

// GetStatistics handles GET /api/weather/stats
func (h *WeatherHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/weather/stats").Observe(duration.Seconds())
	}()

	query := r.URL.Query()
	params := statsQuery{
		StationID: query.Get("station_id"),
	}

	if rawYear := query.Get("year"); rawYear != "" {
		year, err := strconv.Atoi(rawYear)
		if err != nil {
			h.metrics.RecordAPIError("validation_error", "/api/weather/stats")
			h.sendError(w, r, "Invalid year. Must be between 1800 and 2100.", http.StatusBadRequest)
			return
		}
		params.Year = &year
	}

	if err := h.validate.Struct(params); err != nil {
		h.metrics.RecordAPIError("validation_error", "/api/weather/stats")
		h.sendError(w, r, validationMessage(err), http.StatusBadRequest)
		return
	}

	page, limit := parsePagination(query)

	filter := repository.StatsFilter{
		Year:     params.Year,
		Page:     page,
		PageSize: limit,
	}
	if params.StationID != "" {
		filter.StationID = &params.StationID
	}

	stats, total, err := h.statsService.GetStatistics(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_STATISTICS_ERROR] Failed to get statistics", logging.Fields{
			"station_id": params.StationID,
			"page":       page,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/weather/stats")
		h.sendError(w, r, "failed to retrieve statistics", http.StatusInternalServerError)
		return
	}

	if stats == nil {
		stats = []*models.AnnualStat{}
	}

	h.metrics.RecordAPIRequest("/api/weather/stats", "GET", "200")
	h.sendJSON(w, paginated(stats, total, page, limit), http.StatusOK)
}

// HealthCheck handles GET /health
func (h *WeatherHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.weatherService.HealthCheck(ctx); err != nil {
		h.logger.Error(ctx, "[HEALTH_CHECK_ERROR] Storage unreachable", logging.Fields{}, err)
		h.sendJSON(w, map[string]string{
			"status":    "unhealthy",
			"database":  "unreachable",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, map[string]string{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, http.StatusOK)
}

// sendJSON sends a JSON response
func (h *WeatherHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *WeatherHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all weather API routes
func (h *WeatherHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/weather", h.GetObservations).Methods("GET")
	router.HandleFunc("/api/weather/stats", h.GetStatistics).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
