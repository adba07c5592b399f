package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"weather-pipeline/internal/models"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// WeatherRepository owns the two persistent tables. All other
// components read and write weather data only through it.
type WeatherRepository interface {
	// Write path
	BeginFileBatch(ctx context.Context) (ObservationWriter, error)
	ReplaceAnnualStats(ctx context.Context, rows []*models.AnnualStat) error

	// Read path
	CountObservations(ctx context.Context, filter ObservationFilter) (int, error)
	QueryObservations(ctx context.Context, filter ObservationFilter) ([]*models.Observation, int, error)
	QueryAnnualStats(ctx context.Context, filter StatsFilter) ([]*models.AnnualStat, int, error)
	ComputeAnnualAggregates(ctx context.Context) ([]*models.AnnualStat, error)

	// Utility operations
	HealthCheck(ctx context.Context) error
}

// ObservationWriter is the write handle for one file's records. All
// inserts issued through a writer belong to a single transaction and
// become durable together on Commit.
type ObservationWriter interface {
	Insert(ctx context.Context, obs *models.Observation) (InsertOutcome, error)
	Commit() error
	Rollback() error
}

// InsertOutcome reports what happened to a single observation insert.
type InsertOutcome int

const (
	InsertFailed InsertOutcome = iota
	Inserted
	DuplicateSkipped
)

func (o InsertOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case DuplicateSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// ObservationFilter defines filters for querying observations.
// Page is 1-based; callers clamp Page and PageSize before handing the
// filter over.
type ObservationFilter struct {
	StationID *string
	Date      *string
	Page      int
	PageSize  int
}

// StatsFilter defines filters for querying annual statistics
type StatsFilter struct {
	StationID *string
	Year      *int
	Page      int
	PageSize  int
}

// FatalStorageError marks a storage failure that leaves the current
// transaction unusable: connection loss, server shutdown, a failed
// savepoint rollback or commit. File ingestion aborts on it; ordinary
// row-level errors are returned unwrapped in it.
type FatalStorageError struct {
	Op  string
	Err error
}

func (e *FatalStorageError) Error() string {
	return fmt.Sprintf("fatal storage error during %s: %v", e.Op, e.Err)
}

func (e *FatalStorageError) Unwrap() error {
	return e.Err
}

// IsFatalStorage reports whether err carries a FatalStorageError.
func IsFatalStorage(err error) bool {
	var fatal *FatalStorageError
	return errors.As(err, &fatal)
}

// isConnectionFatal classifies driver errors that indicate the
// connection or server, not the submitted row, is the problem.
// PostgreSQL classes: 08 connection exception, 53 insufficient
// resources, 57 operator intervention, 58 system error, XX internal.
func isConnectionFatal(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code.Class()) {
		case "08", "53", "57", "58", "XX":
			return true
		}
	}
	return false
}

// weatherRepository implements WeatherRepository
type weatherRepository struct {
	db      *database.PostgresDB
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewWeatherRepository creates a new weather repository
func NewWeatherRepository(db *database.PostgresDB, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) WeatherRepository {
	return &weatherRepository{
		db:      db,
		logger:  logger,
		metrics: metricsCollector,
	}
}

const insertObservationQuery = `
	INSERT INTO weather_observations (station_id, date, max_temp, min_temp, precipitation)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (station_id, date) DO NOTHING
`

// BeginFileBatch opens the transaction covering one input file.
func (r *weatherRepository) BeginFileBatch(ctx context.Context) (ObservationWriter, error) {
	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return nil, &FatalStorageError{Op: "begin", Err: err}
	}
	return &observationWriter{tx: tx}, nil
}

type observationWriter struct {
	tx *sqlx.Tx
}

// Insert writes one observation inside the file transaction. A
// duplicate (station_id, date) key is not an error: the existing row
// is left untouched and DuplicateSkipped is returned. Each insert runs
// under a savepoint so a rejected row leaves the transaction usable
// for the remaining lines of the file.
func (w *observationWriter) Insert(ctx context.Context, obs *models.Observation) (InsertOutcome, error) {
	if _, err := w.tx.ExecContext(ctx, "SAVEPOINT observation_insert"); err != nil {
		return InsertFailed, &FatalStorageError{Op: "savepoint", Err: err}
	}

	res, err := w.tx.ExecContext(ctx, insertObservationQuery,
		obs.StationID,
		obs.Date,
		obs.MaxTemp,
		obs.MinTemp,
		obs.Precipitation,
	)
	if err != nil {
		if isConnectionFatal(err) {
			return InsertFailed, &FatalStorageError{Op: "insert_observation", Err: err}
		}
		if _, rbErr := w.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT observation_insert"); rbErr != nil {
			return InsertFailed, &FatalStorageError{Op: "rollback_savepoint", Err: rbErr}
		}
		return InsertFailed, fmt.Errorf("failed to insert observation %s %s: %w", obs.StationID, obs.Date, err)
	}

	if _, err := w.tx.ExecContext(ctx, "RELEASE SAVEPOINT observation_insert"); err != nil {
		return InsertFailed, &FatalStorageError{Op: "release_savepoint", Err: err}
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return InsertFailed, &FatalStorageError{Op: "rows_affected", Err: err}
	}
	if affected == 0 {
		return DuplicateSkipped, nil
	}
	return Inserted, nil
}

func (w *observationWriter) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return &FatalStorageError{Op: "commit", Err: err}
	}
	return nil
}

// Rollback discards the batch. Safe to defer past Commit.
func (w *observationWriter) Rollback() error {
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// ReplaceAnnualStats swaps the entire derived table for rows in a
// single transaction. Interruption leaves the prior content fully
// intact; success leaves exactly rows.
func (r *weatherRepository) ReplaceAnnualStats(ctx context.Context, rows []*models.AnnualStat) error {
	timer := time.Now()

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM annual_weather_stats"); err != nil {
		return fmt.Errorf("failed to clear annual stats: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO annual_weather_stats (station_id, year, avg_max_temp, avg_min_temp, total_precipitation)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, stat := range rows {
		_, err := stmt.ExecContext(ctx,
			stat.StationID,
			stat.Year,
			stat.AvgMaxTemp,
			stat.AvgMinTemp,
			stat.TotalPrecipitation,
		)
		if err != nil {
			return fmt.Errorf("failed to insert annual stat %s/%d: %w", stat.StationID, stat.Year, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit annual stats replace: %w", err)
	}

	r.metrics.StatsRowsReplaced.Set(float64(len(rows)))
	r.logger.Debug(ctx, "[REPO_REPLACE_STATS] Annual stats replaced", logging.Fields{
		"rows":        len(rows),
		"duration_ms": time.Since(timer).Milliseconds(),
	})

	return nil
}

// ComputeAnnualAggregates runs the sentinel-aware aggregation over all
// stored observations. Each metric excludes only its own sentinel
// rows: a missing max_temp does not stop the row's min_temp or
// precipitation from contributing. Temperatures come back in whole
// degrees Celsius and precipitation in centimeters, both rounded to
// two decimals, ordered by (station_id, year) ascending.
func (r *weatherRepository) ComputeAnnualAggregates(ctx context.Context) ([]*models.AnnualStat, error) {
	query := `
		SELECT station_id,
		       CAST(LEFT(date, 4) AS INTEGER) AS year,
		       ROUND(AVG(CASE WHEN max_temp <> $1 THEN max_temp / 10.0 END)::numeric, 2) AS avg_max_temp,
		       ROUND(AVG(CASE WHEN min_temp <> $1 THEN min_temp / 10.0 END)::numeric, 2) AS avg_min_temp,
		       ROUND(SUM(CASE WHEN precipitation <> $1 THEN precipitation / 100.0 END)::numeric, 2) AS total_precipitation
		FROM weather_observations
		GROUP BY station_id, CAST(LEFT(date, 4) AS INTEGER)
		ORDER BY station_id, year
	`

	var stats []*models.AnnualStat
	err := r.db.SelectContext(ctx, "compute_annual_aggregates", &stats, query, models.SentinelValue)
	if err != nil {
		return nil, fmt.Errorf("failed to compute annual aggregates: %w", err)
	}

	return stats, nil
}

// buildObservationsFilter renders the WHERE clause shared by the
// observation count and page queries.
func buildObservationsFilter(filter ObservationFilter) (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}
	argNum := 1

	if filter.StationID != nil {
		clause += fmt.Sprintf(" AND station_id = $%d", argNum)
		args = append(args, *filter.StationID)
		argNum++
	}

	if filter.Date != nil {
		clause += fmt.Sprintf(" AND date = $%d", argNum)
		args = append(args, *filter.Date)
		argNum++
	}

	return clause, args
}

// CountObservations returns the number of observations matching the
// filter, ignoring pagination.
func (r *weatherRepository) CountObservations(ctx context.Context, filter ObservationFilter) (int, error) {
	clause, args := buildObservationsFilter(filter)

	var totalCount int
	err := r.db.GetContext(ctx, "count_observations", &totalCount,
		"SELECT COUNT(*) FROM weather_observations"+clause, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}

	return totalCount, nil
}

// QueryObservations retrieves one page of observations plus the total
// count for the same filter.
func (r *weatherRepository) QueryObservations(ctx context.Context, filter ObservationFilter) ([]*models.Observation, int, error) {
	totalCount, err := r.CountObservations(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	clause, args := buildObservationsFilter(filter)
	query := `
		SELECT station_id, date, max_temp, min_temp, precipitation
		FROM weather_observations
	` + clause
	query += " ORDER BY station_id, date"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var observations []*models.Observation
	err = r.db.SelectContext(ctx, "query_observations", &observations, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query observations: %w", err)
	}

	return observations, totalCount, nil
}

// QueryAnnualStats retrieves one page of annual statistics plus the
// total count for the same filter.
func (r *weatherRepository) QueryAnnualStats(ctx context.Context, filter StatsFilter) ([]*models.AnnualStat, int, error) {
	query := `
		SELECT station_id, year, avg_max_temp, avg_min_temp, total_precipitation
		FROM annual_weather_stats
		WHERE 1=1
	`
	args := []interface{}{}
	argNum := 1

	if filter.StationID != nil {
		query += fmt.Sprintf(" AND station_id = $%d", argNum)
		args = append(args, *filter.StationID)
		argNum++
	}

	if filter.Year != nil {
		query += fmt.Sprintf(" AND year = $%d", argNum)
		args = append(args, *filter.Year)
		argNum++
	}

	countQuery := "SELECT COUNT(*) FROM (" + query + ") AS count_query"
	var totalCount int
	err := r.db.GetContext(ctx, "count_annual_stats", &totalCount, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count annual stats: %w", err)
	}

	query += " ORDER BY station_id, year"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argNum, argNum+1)
	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)

	var stats []*models.AnnualStat
	err = r.db.SelectContext(ctx, "query_annual_stats", &stats, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query annual stats: %w", err)
	}

	return stats, totalCount, nil
}

// HealthCheck performs a repository health check
func (r *weatherRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
