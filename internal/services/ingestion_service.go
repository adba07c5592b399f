package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// DataFileExtension is the extension of recognized station data files.
const DataFileExtension = ".txt"

// Input resolution errors. They fail a batch run before any file is
// touched.
var (
	ErrInputNotFound = errors.New("input path does not exist")
	ErrInvalidInput  = errors.New("input is not a recognized data file")
	ErrNoDataFiles   = errors.New("no data files found in directory")
)

// IngestionService drives the write path: it discovers input files and
// funnels each one through parse-and-insert under a single transaction
// per file.
type IngestionService struct {
	repo    repository.WeatherRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
	clock   clockwork.Clock
}

// NewIngestionService creates a new ingestion service
func NewIngestionService(repo repository.WeatherRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *IngestionService {
	return &IngestionService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
		clock:   clockwork.NewRealClock(),
	}
}

// FileStats contains per-file ingestion statistics. Processed counts
// non-blank lines only; Ingested + Skipped + Errors == Processed.
type FileStats struct {
	StationID string
	FilePath  string
	Processed int
	Ingested  int
	Skipped   int
	Errors    int
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}

// FileFailure records one file the run could not ingest, with cause.
type FileFailure struct {
	FilePath string
	Err      error
}

// RunStats contains whole-run ingestion statistics. Totals accumulate
// the per-file stats of successful files; failed files are listed in
// Failures.
type RunStats struct {
	FilesProcessed  int
	FilesSuccessful int
	FilesFailed     int
	TotalProcessed  int
	TotalIngested   int
	TotalSkipped    int
	TotalErrors     int
	Duration        time.Duration
	FileStats       []*FileStats
	Failures        []FileFailure
}

// Ingest runs ingestion over inputPath, a single station data file or
// a directory of them. Directory entries are processed in
// lexicographic order so runs are reproducible. Each file is ingested
// independently: a failed file is recorded with its cause and does not
// stop the remaining files. Only input resolution makes Ingest itself
// return an error; the run summary is complete even when files failed.
func (s *IngestionService) Ingest(ctx context.Context, inputPath string) (*RunStats, error) {
	ctx = logging.WithRunID(ctx, uuid.NewString())
	start := s.clock.Now()

	info, err := os.Stat(inputPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, inputPath)
		}
		return nil, fmt.Errorf("failed to stat input path: %w", err)
	}

	var files []string
	if info.IsDir() {
		files, err = discoverDataFiles(inputPath)
		if err != nil {
			return nil, err
		}
	} else {
		if !strings.HasSuffix(inputPath, DataFileExtension) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidInput, inputPath)
		}
		files = []string{inputPath}
	}

	s.logger.Info(ctx, "[INGEST_START] Starting ingestion run", logging.Fields{
		"input_path": inputPath,
		"file_count": len(files),
	})

	result := &RunStats{}

	for _, filePath := range files {
		fileStats, err := s.IngestFile(ctx, filePath)
		result.FilesProcessed++

		if err != nil {
			result.FilesFailed++
			result.Failures = append(result.Failures, FileFailure{FilePath: filePath, Err: err})
			s.logger.Error(ctx, "[INGEST_FILE_ERROR] File ingestion failed", logging.Fields{
				"file_path": filePath,
			}, err)
			s.metrics.RecordIngestionFile("failed")
			continue
		}

		result.FilesSuccessful++
		result.TotalProcessed += fileStats.Processed
		result.TotalIngested += fileStats.Ingested
		result.TotalSkipped += fileStats.Skipped
		result.TotalErrors += fileStats.Errors
		result.FileStats = append(result.FileStats, fileStats)
		s.metrics.RecordIngestionFile("success")
	}

	result.Duration = s.clock.Since(start)
	s.metrics.IngestionRunDuration.Observe(result.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_COMPLETE] Ingestion run completed", logging.Fields{
		"files_processed":   result.FilesProcessed,
		"files_successful":  result.FilesSuccessful,
		"files_failed":      result.FilesFailed,
		"records_processed": result.TotalProcessed,
		"records_ingested":  result.TotalIngested,
		"records_skipped":   result.TotalSkipped,
		"errors":            result.TotalErrors,
		"duration_seconds":  result.Duration.Seconds(),
	})

	return result, nil
}

// IngestFile ingests one station file. The station id is the file's
// base name with the extension stripped. All inserts commit together
// at end of file: malformed lines and row-level storage errors are
// counted and skipped, while a fatal storage error or a read error
// aborts and rolls back the whole file.
func (s *IngestionService) IngestFile(ctx context.Context, filePath string) (*FileStats, error) {
	fileName := filepath.Base(filePath)
	stationID := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	if stationID == "" {
		return nil, fmt.Errorf("%w: cannot derive station id from %q", ErrInvalidInput, fileName)
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, filePath)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stats := &FileStats{
		StationID: stationID,
		FilePath:  filePath,
		StartTime: s.clock.Now(),
	}

	writer, err := s.repo.BeginFileBatch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin file batch: %w", err)
	}
	defer writer.Rollback()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		stats.Processed++

		obs, err := models.ParseLine(line, stationID)
		if err != nil {
			stats.Errors++
			s.metrics.RecordObservation("error")
			s.logger.Debug(ctx, "[INGEST_PARSE_REJECT] Malformed record", logging.Fields{
				"station_id": stationID,
				"record":     stats.Processed,
				"cause":      err.Error(),
			})
			continue
		}

		outcome, err := writer.Insert(ctx, obs)
		if err != nil {
			if repository.IsFatalStorage(err) {
				return nil, fmt.Errorf("failed to ingest %s: %w", filePath, err)
			}
			stats.Errors++
			s.metrics.RecordObservation("error")
			s.logger.Warn(ctx, "[INGEST_ROW_ERROR] Observation rejected by storage", logging.Fields{
				"station_id": stationID,
				"date":       obs.Date,
				"cause":      err.Error(),
			})
			continue
		}

		switch outcome {
		case repository.Inserted:
			stats.Ingested++
			s.metrics.RecordObservation("ingested")
		case repository.DuplicateSkipped:
			stats.Skipped++
			s.metrics.RecordObservation("skipped")
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	if err := writer.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", filePath, err)
	}

	stats.EndTime = s.clock.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	s.metrics.IngestionFileDuration.Observe(stats.Duration.Seconds())

	s.logger.Info(ctx, "[INGEST_FILE] File ingested", logging.Fields{
		"station_id":  stationID,
		"file_path":   filePath,
		"processed":   stats.Processed,
		"ingested":    stats.Ingested,
		"skipped":     stats.Skipped,
		"errors":      stats.Errors,
		"duration_ms": stats.Duration.Milliseconds(),
	})

	return stats, nil
}

// discoverDataFiles lists the station data files directly under dir,
// sorted so every run sees the same order.
func discoverDataFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), DataFileExtension) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDataFiles, dir)
	}

	sort.Strings(files)
	return files, nil
}
