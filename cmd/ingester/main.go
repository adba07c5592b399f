package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"weather-pipeline/internal/config"
	"weather-pipeline/internal/repository"
	"weather-pipeline/internal/services"
	"weather-pipeline/pkg/database"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

func main() {
	// Parse command-line flags
	inputPath := flag.String("input", "", "Station data file or directory of station files (defaults to INGESTION_DATA_DIR)")
	recomputeStats := flag.Bool("recompute-stats", false, "Recompute annual statistics after ingestion")
	flag.Parse()

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

	if *inputPath == "" {
		*inputPath = cfg.Ingestion.DataDir
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("weather-ingester", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[INGESTER_START] Starting weather data ingestion", logging.Fields{
		"version":         "1.0.0",
		"input":           *inputPath,
		"recompute_stats": *recomputeStats,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("weather_ingester")

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
		logger.Fatal(ctx, "[INGESTER_ERROR] Failed to connect to database", logging.Fields{}, err)
	}
	defer db.Close()

	// Initialize repository
	weatherRepo := repository.NewWeatherRepository(db, logger, metricsCollector)

	// Initialize services
	ingestionService := services.NewIngestionService(weatherRepo, logger, metricsCollector)
	statsService := services.NewStatisticsService(weatherRepo, logger, metricsCollector)

	// Ingest data
	result, err := ingestionService.Ingest(ctx, *inputPath)
	if err != nil {
		if errors.Is(err, services.ErrInputNotFound) || errors.Is(err, services.ErrInvalidInput) || errors.Is(err, services.ErrNoDataFiles) {
			fmt.Fprintf(os.Stderr, "Ingestion failed: %v\n", err)
			os.Exit(1)
		}
		logger.Fatal(ctx, "[INGESTION_ERROR] Ingestion failed", logging.Fields{
			"input": *inputPath,
		}, err)
	}

	// Print results
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("INGESTION COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Files Processed:    %d\n", result.FilesProcessed)
	fmt.Printf("Files Successful:   %d\n", result.FilesSuccessful)
	fmt.Printf("Files Failed:       %d\n", result.FilesFailed)
	fmt.Printf("Records Processed:  %d\n", result.TotalProcessed)
	fmt.Printf("Records Ingested:   %d\n", result.TotalIngested)
	fmt.Printf("Duplicates Skipped: %d\n", result.TotalSkipped)
	fmt.Printf("Malformed Records:  %d\n", result.TotalErrors)
	fmt.Printf("Duration:           %v\n", result.Duration)
	if result.Duration > 0 {
		fmt.Printf("Records/Second:     %.2f\n", float64(result.TotalProcessed)/result.Duration.Seconds())
	}

	if len(result.Failures) > 0 {
		fmt.Printf("\nFailed Files (%d):\n", len(result.Failures))
		for i, failure := range result.Failures {
			if i < 10 {
				fmt.Printf("  - %s: %v\n", failure.FilePath, failure.Err)
			}
		}
		if len(result.Failures) > 10 {
			fmt.Printf("  ... and %d more failures\n", len(result.Failures)-10)
		}
	}

	exitCode := 0
	if result.FilesFailed > 0 {
		exitCode = 1
	}

	// Recompute statistics if requested
	if *recomputeStats {
		fmt.Println("\n" + strings.Repeat("=", 80))
		fmt.Println("RECOMPUTING STATISTICS")
		fmt.Println(strings.Repeat("=", 80))

		rows, err := statsService.Recompute(ctx)
		if err != nil {
			logger.Error(ctx, "[STATS_ERROR] Statistics recompute failed", logging.Fields{}, err)
			fmt.Printf("Statistics recompute failed: %v\n", err)
			exitCode = 1
		} else {
			fmt.Printf("Station-year rows replaced: %d\n", rows)
		}
	}

	logger.Info(ctx, "[INGESTER_COMPLETE] Ingestion completed", logging.Fields{
		"files_processed":  result.FilesProcessed,
		"files_failed":     result.FilesFailed,
		"records_ingested": result.TotalIngested,
		"records_skipped":  result.TotalSkipped,
		"records_errored":  result.TotalErrors,
		"duration_seconds": result.Duration.Seconds(),
	})

	if exitCode != 0 {
		db.Close()
		os.Exit(exitCode)
	}
}
