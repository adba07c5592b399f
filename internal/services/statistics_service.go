package services

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// StatisticsService owns the derived annual statistics: it rebuilds
// them from stored observations and serves statistics reads for the
// query API.
type StatisticsService struct {
	repo    repository.WeatherRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	clock   clockwork.Clock
}

// NewStatisticsService creates a new statistics service
func NewStatisticsService(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *StatisticsService {
	return &StatisticsService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
		clock:   clockwork.NewRealClock(),
	}
}

// Recompute rebuilds the whole annual statistics table from stored
// observations: compute, then atomic replace, as one logical
// operation. On failure the prior derived content stays intact.
// Returns the number of station-year rows written.
func (s *StatisticsService) Recompute(ctx context.Context) (int, error) {
	start := s.clock.Now()

	s.logger.Info(ctx, "[STATS_RECOMPUTE_START] Recomputing annual statistics", logging.Fields{})

	stats, err := s.repo.ComputeAnnualAggregates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to compute annual aggregates: %w", err)
	}

	if err := s.repo.ReplaceAnnualStats(ctx, stats); err != nil {
		return 0, fmt.Errorf("failed to replace annual stats: %w", err)
	}

	duration := s.clock.Since(start)
	s.metrics.StatsRecomputeDuration.Observe(duration.Seconds())

	s.logger.Info(ctx, "[STATS_RECOMPUTE_COMPLETE] Annual statistics recomputed", logging.Fields{
		"rows_stored":      len(stats),
		"duration_seconds": duration.Seconds(),
	})

	return len(stats), nil
}

// GetStatistics retrieves annual statistics with filtering
func (s *StatisticsService) GetStatistics(ctx context.Context, filter repository.StatsFilter) ([]*models.AnnualStat, int, error) {
	return s.repo.QueryAnnualStats(ctx, filter)
}
