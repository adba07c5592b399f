package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"weather-pipeline/internal/config"
	"weather-pipeline/internal/models"
	"weather-pipeline/pkg/logging"
)

// fileReport holds the data-quality results for one station file.
type fileReport struct {
	stationID string
	filePath  string
	processed int
	parsed    int
	rejected  int
	causes    map[string]int
	missing   map[string]int
	aborted   bool
}

func main() {
	// Parse command-line flags
	inputPath := flag.String("input", "", "Station data file or directory of station files (defaults to INGESTION_DATA_DIR)")
	showSamples := flag.Int("show-samples", 3, "Number of parsed observations to print per file")
	maxErrors := flag.Int("max-errors", 100, "Abort a file after this many rejected lines (0 = no limit)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *inputPath == "" {
		*inputPath = cfg.Ingestion.DataDir
	}

	logger := logging.NewStructuredLogger("weather-validate", "1.0.0", logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[VALIDATE_START] Starting data file validation", logging.Fields{
		"input":        *inputPath,
		"show_samples": *showSamples,
		"max_errors":   *maxErrors,
	})

	files, err := discoverFiles(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("VALIDATING %d DATA FILE(S)\n", len(files))
	fmt.Println(strings.Repeat("=", 80))

	var (
		reports    []*fileReport
		unreadable int
	)

	for _, file := range files {
		report, err := validateFile(file, *showSamples, *maxErrors)
		if err != nil {
			fmt.Printf("\nFile: %s\n  ERROR: %v\n", file, err)
			unreadable++
			continue
		}
		reports = append(reports, report)
	}

	printSummary(reports, unreadable)

	exitCode := 0
	if unreadable > 0 {
		exitCode = 1
	}
	for _, report := range reports {
		if report.aborted {
			exitCode = 1
		}
	}

	logger.Info(ctx, "[VALIDATE_COMPLETE] Validation finished", logging.Fields{
		"files_checked":    len(reports),
		"files_unreadable": unreadable,
		"exit_code":        exitCode,
	})

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// discoverFiles resolves the input path to a sorted list of station
// data files, mirroring the ingester's discovery rules.
func discoverFiles(inputPath string) ([]string, error) {
	info, err := os.Stat(inputPath)
	if err != nil {
		return nil, fmt.Errorf("input path %s not found", inputPath)
	}

	if !info.IsDir() {
		if filepath.Ext(inputPath) != ".txt" {
			return nil, fmt.Errorf("input file %s is not a .txt data file", inputPath)
		}
		return []string{inputPath}, nil
	}

	entries, err := os.ReadDir(inputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", inputPath, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".txt" {
			continue
		}
		files = append(files, filepath.Join(inputPath, entry.Name()))
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no .txt data files found in %s", inputPath)
	}

	sort.Strings(files)
	return files, nil
}

// validateFile parses every line of one station file and prints its
// per-file section: sample records, parse counts, rejection causes and
// sentinel density. It never touches storage.
func validateFile(filePath string, showSamples, maxErrors int) (*fileReport, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	report := &fileReport{
		stationID: strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		filePath:  filePath,
		causes:    make(map[string]int),
		missing:   make(map[string]int),
	}

	fmt.Println("\n" + strings.Repeat("-", 80))
	fmt.Printf("Station: %s (%s)\n", report.stationID, filePath)
	fmt.Println(strings.Repeat("-", 80))

	shown := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		report.processed++

		obs, err := models.ParseLine(line, report.stationID)
		if err != nil {
			report.rejected++
			report.causes[rejectionCause(err)]++
			if maxErrors > 0 && report.rejected >= maxErrors {
				report.aborted = true
				fmt.Printf("  ABORTED: %d rejected lines reached the -max-errors threshold\n", report.rejected)
				break
			}
			continue
		}

		report.parsed++
		if !obs.HasMaxTemp() {
			report.missing["max_temp"]++
		}
		if !obs.HasMinTemp() {
			report.missing["min_temp"]++
		}
		if !obs.HasPrecipitation() {
			report.missing["precipitation"]++
		}

		if shown < showSamples {
			fmt.Printf("  %s  Max: %-8s Min: %-8s Precip: %s\n",
				obs.Date,
				formatReading(obs.MaxTemp, obs.HasMaxTemp(), 10, "°C"),
				formatReading(obs.MinTemp, obs.HasMinTemp(), 10, "°C"),
				formatReading(obs.Precipitation, obs.HasPrecipitation(), 10, "mm"))
			shown++
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	fmt.Printf("\n  Lines processed: %d\n", report.processed)
	fmt.Printf("  Parsed:          %d\n", report.parsed)
	fmt.Printf("  Rejected:        %d\n", report.rejected)

	if len(report.causes) > 0 {
		fmt.Println("  Rejection causes:")
		for _, field := range sortedKeys(report.causes) {
			fmt.Printf("    %-15s %d\n", field+":", report.causes[field])
		}
	}

	if report.parsed > 0 {
		fmt.Println("  Missing readings:")
		for _, metric := range []string{"max_temp", "min_temp", "precipitation"} {
			count := report.missing[metric]
			fmt.Printf("    %-15s %d (%.2f%%)\n", metric+":", count,
				float64(count)/float64(report.parsed)*100)
		}
	}

	return report, nil
}

// printSummary prints the run-level totals across all checked files.
func printSummary(reports []*fileReport, unreadable int) {
	var processed, parsed, rejected, aborted int
	for _, report := range reports {
		processed += report.processed
		parsed += report.parsed
		rejected += report.rejected
		if report.aborted {
			aborted++
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("VALIDATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Files Checked:    %d\n", len(reports))
	fmt.Printf("Files Unreadable: %d\n", unreadable)
	fmt.Printf("Files Aborted:    %d\n", aborted)
	fmt.Printf("Lines Processed:  %d\n", processed)
	fmt.Printf("Records Parsed:   %d\n", parsed)
	fmt.Printf("Records Rejected: %d\n", rejected)
	if processed > 0 {
		fmt.Printf("Success Rate:     %.2f%%\n", float64(parsed)/float64(processed)*100)
	}
	fmt.Println(strings.Repeat("=", 80))
}

// rejectionCause maps a parse error to its offending field for
// grouped reporting.
func rejectionCause(err error) string {
	if malformed, ok := err.(*models.MalformedRecordError); ok {
		return malformed.Field
	}
	return "other"
}

// formatReading renders a raw tenths-scaled reading for display, or
// NULL when the value is the missing-data sentinel.
func formatReading(value int, present bool, scale float64, unit string) string {
	if !present {
		return "NULL"
	}
	return fmt.Sprintf("%.1f%s", float64(value)/scale, unit)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
