package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"weather-pipeline/internal/config"
	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("weather-analyzer", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[ANALYZER_START] Starting annual statistics recompute", logging.Fields{
		"version": "1.0.0",
		"db_host": cfg.Database.Host,
		"db_name": cfg.Database.Database,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("weather_analyzer")

	// Initialize database
	dbConfig := &database.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}

	db, err := database.NewPostgresDB(dbConfig, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[ANALYZER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository and service
	weatherRepo := repository.NewWeatherRepository(db, logger, metricsCollector)
	statsService := services.NewStatisticsService(weatherRepo, logger, metricsCollector)

	// Recompute annual statistics
	start := time.Now()

	rows, err := statsService.Recompute(ctx)
	if err != nil {
		logger.Fatal(ctx, "[ANALYZER_ERROR] Statistics recompute failed", logging.Fields{}, err)
	}

	duration := time.Since(start)

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("STATISTICS RECOMPUTED")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Station-Year Rows: %d\n", rows)
	fmt.Printf("Duration:          %v\n", duration)
	fmt.Println(strings.Repeat("=", 80))

	logger.Info(ctx, "[ANALYZER_COMPLETE] Statistics recompute completed", logging.Fields{
		"rows":             rows,
		"duration_seconds": duration.Seconds(),
	})
}
