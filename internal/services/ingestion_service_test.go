package services

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weather-pipeline/internal/models"
	"weather-pipeline/internal/repository"
	"weather-pipeline/pkg/logging"
	"weather-pipeline/pkg/metrics"
)

// fakeRepository is an in-memory WeatherRepository. Observations live
// in rows keyed by "station|date"; writers buffer into pending and
// merge on Commit, mirroring file-level commit granularity.
type fakeRepository struct {
	rows       map[string]*models.Observation
	stats      []*models.AnnualStat
	insertErrs map[string]error
	beginErr   error
	commitErr  error
	computeErr error
	replaceErr error
	healthErr  error
	beginCalls int
	writers    []*fakeWriter
}

var _ repository.WeatherRepository = (*fakeRepository)(nil)

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		rows:       make(map[string]*models.Observation),
		insertErrs: make(map[string]error),
	}
}

func obsKey(stationID, date string) string {
	return stationID + "|" + date
}

func (r *fakeRepository) BeginFileBatch(ctx context.Context) (repository.ObservationWriter, error) {
	r.beginCalls++
	if r.beginErr != nil {
		return nil, r.beginErr
	}
	writer := &fakeWriter{
		repo:      r,
		pending:   make(map[string]*models.Observation),
		commitErr: r.commitErr,
	}
	r.writers = append(r.writers, writer)
	return writer, nil
}

func (r *fakeRepository) ReplaceAnnualStats(ctx context.Context, stats []*models.AnnualStat) error {
	if r.replaceErr != nil {
		return r.replaceErr
	}
	r.stats = append([]*models.AnnualStat(nil), stats...)
	return nil
}

func (r *fakeRepository) ComputeAnnualAggregates(ctx context.Context) ([]*models.AnnualStat, error) {
	if r.computeErr != nil {
		return nil, r.computeErr
	}

	type accumulator struct {
		maxSum, minSum, precipSum float64
		maxN, minN, precipN       int
	}

	groups := make(map[string]*accumulator)
	for _, obs := range r.rows {
		year, err := strconv.Atoi(obs.Date[:4])
		if err != nil {
			return nil, err
		}
		key := obs.StationID + "|" + strconv.Itoa(year)
		acc, ok := groups[key]
		if !ok {
			acc = &accumulator{}
			groups[key] = acc
		}
		if obs.HasMaxTemp() {
			acc.maxSum += float64(obs.MaxTemp) / 10.0
			acc.maxN++
		}
		if obs.HasMinTemp() {
			acc.minSum += float64(obs.MinTemp) / 10.0
			acc.minN++
		}
		if obs.HasPrecipitation() {
			acc.precipSum += float64(obs.Precipitation) / 100.0
			acc.precipN++
		}
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	round2 := func(v float64) *float64 {
		rounded := math.Round(v*100) / 100
		return &rounded
	}

	stats := make([]*models.AnnualStat, 0, len(keys))
	for _, key := range keys {
		acc := groups[key]
		parts := splitKey(key)
		year, _ := strconv.Atoi(parts[1])
		stat := &models.AnnualStat{StationID: parts[0], Year: year}
		if acc.maxN > 0 {
			stat.AvgMaxTemp = round2(acc.maxSum / float64(acc.maxN))
		}
		if acc.minN > 0 {
			stat.AvgMinTemp = round2(acc.minSum / float64(acc.minN))
		}
		if acc.precipN > 0 {
			stat.TotalPrecipitation = round2(acc.precipSum)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

func splitKey(key string) [2]string {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return [2]string{key[:i], key[i+1:]}
		}
	}
	return [2]string{key, ""}
}

func (r *fakeRepository) matchObservations(filter repository.ObservationFilter) []*models.Observation {
	var matched []*models.Observation
	for _, obs := range r.rows {
		if filter.StationID != nil && obs.StationID != *filter.StationID {
			continue
		}
		if filter.Date != nil && obs.Date != *filter.Date {
			continue
		}
		matched = append(matched, obs)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].StationID != matched[j].StationID {
			return matched[i].StationID < matched[j].StationID
		}
		return matched[i].Date < matched[j].Date
	})
	return matched
}

func (r *fakeRepository) CountObservations(ctx context.Context, filter repository.ObservationFilter) (int, error) {
	return len(r.matchObservations(filter)), nil
}

func (r *fakeRepository) QueryObservations(ctx context.Context, filter repository.ObservationFilter) ([]*models.Observation, int, error) {
	matched := r.matchObservations(filter)
	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *fakeRepository) QueryAnnualStats(ctx context.Context, filter repository.StatsFilter) ([]*models.AnnualStat, int, error) {
	var matched []*models.AnnualStat
	for _, stat := range r.stats {
		if filter.StationID != nil && stat.StationID != *filter.StationID {
			continue
		}
		if filter.Year != nil && stat.Year != *filter.Year {
			continue
		}
		matched = append(matched, stat)
	}
	total := len(matched)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *fakeRepository) HealthCheck(ctx context.Context) error {
	return r.healthErr
}

// fakeWriter buffers inserts until Commit, detecting duplicates
// against both committed rows and its own pending buffer.
type fakeWriter struct {
	repo       *fakeRepository
	pending    map[string]*models.Observation
	commitErr  error
	committed  bool
	rolledBack bool
}

var _ repository.ObservationWriter = (*fakeWriter)(nil)

func (w *fakeWriter) Insert(ctx context.Context, obs *models.Observation) (repository.InsertOutcome, error) {
	key := obsKey(obs.StationID, obs.Date)
	if err, ok := w.repo.insertErrs[key]; ok {
		return repository.InsertFailed, err
	}
	if _, ok := w.repo.rows[key]; ok {
		return repository.DuplicateSkipped, nil
	}
	if _, ok := w.pending[key]; ok {
		return repository.DuplicateSkipped, nil
	}
	w.pending[key] = obs
	return repository.Inserted, nil
}

func (w *fakeWriter) Commit() error {
	if w.commitErr != nil {
		return w.commitErr
	}
	for key, obs := range w.pending {
		w.repo.rows[key] = obs
	}
	w.committed = true
	return nil
}

func (w *fakeWriter) Rollback() error {
	if !w.committed {
		w.rolledBack = true
	}
	return nil
}

func newTestLogger() *logging.StructuredLogger {
	logger := logging.NewStructuredLogger("services-test", "test", logging.ErrorLevel)
	logger.SetOutput(io.Discard)
	return logger
}

func newTestIngestionService(repo repository.WeatherRepository) *IngestionService {
	svc := NewIngestionService(repo, newTestLogger(), metrics.NewCollectorForTesting())
	svc.clock = clockwork.NewFakeClock()
	return svc
}

func writeDataFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngestFileMixedOutcomes(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	content := "19900101\t250\t100\t50\n" +
		"19900102\t260\t110\t60\n" +
		"\n" +
		"invalid\tline\n" +
		"19900103\t240\t90\t40\n"
	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", content)

	stats, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "USC00110072", stats.StationID)
	assert.Equal(t, 4, stats.Processed)
	assert.Equal(t, 3, stats.Ingested)
	assert.Equal(t, 0, stats.Skipped)
	assert.Equal(t, 1, stats.Errors)

	assert.Len(t, repo.rows, 3)
	require.Len(t, repo.writers, 1)
	assert.True(t, repo.writers[0].committed)
}

func TestIngestFileIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	content := "19900101\t250\t100\t50\n" +
		"19900102\t260\t110\t60\n" +
		"19900103\t240\t90\t40\n"
	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", content)

	first, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Ingested)
	assert.Equal(t, 0, first.Skipped)
	assert.Len(t, repo.rows, 3)

	second, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Processed)
	assert.Equal(t, 0, second.Ingested)
	assert.Equal(t, 3, second.Skipped)
	assert.Len(t, repo.rows, 3)
}

func TestIngestFileDuplicateWithinFile(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	content := "19900101\t250\t100\t50\n" +
		"19900101\t250\t100\t50\n"
	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", content)

	stats, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Ingested)
	assert.Equal(t, 1, stats.Skipped)
	assert.Len(t, repo.rows, 1)
}

func TestIngestFileRowErrorContinues(t *testing.T) {
	repo := newFakeRepository()
	repo.insertErrs[obsKey("USC00110072", "1990-01-02")] = errors.New("value out of range")
	svc := newTestIngestionService(repo)

	content := "19900101\t250\t100\t50\n" +
		"19900102\t260\t110\t60\n" +
		"19900103\t240\t90\t40\n"
	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", content)

	stats, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Processed)
	assert.Equal(t, 2, stats.Ingested)
	assert.Equal(t, 1, stats.Errors)
	assert.Len(t, repo.rows, 2)
	require.Len(t, repo.writers, 1)
	assert.True(t, repo.writers[0].committed)
}

func TestIngestFileFatalStorageAborts(t *testing.T) {
	repo := newFakeRepository()
	repo.insertErrs[obsKey("USC00110072", "1990-01-02")] = &repository.FatalStorageError{
		Op:  "insert observation",
		Err: errors.New("connection reset by peer"),
	}
	svc := newTestIngestionService(repo)

	content := "19900101\t250\t100\t50\n" +
		"19900102\t260\t110\t60\n" +
		"19900103\t240\t90\t40\n"
	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", content)

	stats, err := svc.IngestFile(context.Background(), path)
	require.Error(t, err)
	assert.Nil(t, stats)
	assert.True(t, repository.IsFatalStorage(err))

	assert.Empty(t, repo.rows)
	require.Len(t, repo.writers, 1)
	assert.True(t, repo.writers[0].rolledBack)
	assert.False(t, repo.writers[0].committed)
}

func TestIngestFileCommitError(t *testing.T) {
	repo := newFakeRepository()
	repo.commitErr = &repository.FatalStorageError{Op: "commit file batch", Err: errors.New("server closed the connection")}
	svc := newTestIngestionService(repo)

	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", "19900101\t250\t100\t50\n")

	stats, err := svc.IngestFile(context.Background(), path)
	require.Error(t, err)
	assert.Nil(t, stats)
	assert.Contains(t, err.Error(), "failed to commit")
	assert.Empty(t, repo.rows)
}

func TestIngestFileBeginError(t *testing.T) {
	repo := newFakeRepository()
	repo.beginErr = errors.New("connection pool exhausted")
	svc := newTestIngestionService(repo)

	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", "19900101\t250\t100\t50\n")

	_, err := svc.IngestFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin file batch")
}

func TestIngestFileMissing(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	_, err := svc.IngestFile(context.Background(), filepath.Join(t.TempDir(), "USC00110072.txt"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInputNotFound)
	assert.Zero(t, repo.beginCalls)
}

func TestIngestFileEmpty(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", "\n\n")

	stats, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)
	assert.Equal(t, 0, stats.Ingested)
	assert.Empty(t, repo.rows)
}

func TestIngestFileClockTimestamps(t *testing.T) {
	repo := newFakeRepository()
	svc := NewIngestionService(repo, newTestLogger(), metrics.NewCollectorForTesting())
	clock := clockwork.NewFakeClock()
	svc.clock = clock

	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", "19900101\t250\t100\t50\n")

	stats, err := svc.IngestFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, stats.StartTime.Equal(clock.Now()))
	assert.True(t, stats.EndTime.Equal(clock.Now()))
	assert.Zero(t, stats.Duration)
}

func TestIngestDirectoryTotalsAndOrder(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	dir := t.TempDir()
	writeDataFile(t, dir, "USC00112140.txt", "19900101\t240\t90\t40\n")
	writeDataFile(t, dir, "USC00110072.txt", "19900101\t250\t100\t50\n19900102\t260\t110\t60\ninvalid\tline\n")
	writeDataFile(t, dir, "USC00111280.txt", "19910101\t300\t150\t0\n19910102\t310\t160\t10\n")
	writeDataFile(t, dir, "notes.md", "not a data file\n")

	result, err := svc.Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.FilesProcessed)
	assert.Equal(t, 3, result.FilesSuccessful)
	assert.Equal(t, 0, result.FilesFailed)
	assert.Equal(t, 6, result.TotalProcessed)
	assert.Equal(t, 5, result.TotalIngested)
	assert.Equal(t, 0, result.TotalSkipped)
	assert.Equal(t, 1, result.TotalErrors)
	assert.Empty(t, result.Failures)

	require.Len(t, result.FileStats, 3)
	stations := []string{
		result.FileStats[0].StationID,
		result.FileStats[1].StationID,
		result.FileStats[2].StationID,
	}
	assert.Equal(t, []string{"USC00110072", "USC00111280", "USC00112140"}, stations)
	assert.Len(t, repo.rows, 5)
}

func TestIngestContinuesPastUnreadableFile(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	dir := t.TempDir()
	writeDataFile(t, dir, "USC00110072.txt", "19900101\t250\t100\t50\n")
	writeDataFile(t, dir, "USC00112140.txt", "19900101\t240\t90\t40\n")
	require.NoError(t, os.Symlink(filepath.Join(dir, "missing-target"), filepath.Join(dir, "USC00111280.txt")))

	result, err := svc.Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.FilesProcessed)
	assert.Equal(t, 2, result.FilesSuccessful)
	assert.Equal(t, 1, result.FilesFailed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].FilePath, "USC00111280.txt")
	assert.Equal(t, 2, result.TotalIngested)
	assert.Len(t, repo.rows, 2)
}

func TestIngestContinuesPastFatalStorageFile(t *testing.T) {
	repo := newFakeRepository()
	repo.insertErrs[obsKey("USC00111280", "1991-01-01")] = &repository.FatalStorageError{
		Op:  "insert observation",
		Err: errors.New("the database system is shutting down"),
	}
	svc := newTestIngestionService(repo)

	dir := t.TempDir()
	writeDataFile(t, dir, "USC00110072.txt", "19900101\t250\t100\t50\n")
	writeDataFile(t, dir, "USC00111280.txt", "19910101\t300\t150\t0\n19910102\t310\t160\t10\n")
	writeDataFile(t, dir, "USC00112140.txt", "19900101\t240\t90\t40\n")

	result, err := svc.Ingest(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 3, result.FilesProcessed)
	assert.Equal(t, 2, result.FilesSuccessful)
	assert.Equal(t, 1, result.FilesFailed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].FilePath, "USC00111280.txt")
	assert.True(t, repository.IsFatalStorage(result.Failures[0].Err))

	// The failed file's rows rolled back; the other files committed.
	assert.Len(t, repo.rows, 2)
	assert.Contains(t, repo.rows, obsKey("USC00110072", "1990-01-01"))
	assert.Contains(t, repo.rows, obsKey("USC00112140", "1990-01-01"))
}

func TestIngestInputNotFound(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	result, err := svc.Ingest(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrInputNotFound)
	assert.Zero(t, repo.beginCalls)
}

func TestIngestSingleFileWrongExtension(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	path := writeDataFile(t, t.TempDir(), "USC00110072.csv", "19900101\t250\t100\t50\n")

	_, err := svc.Ingest(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, repo.beginCalls)
}

func TestIngestEmptyDirectory(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	dir := t.TempDir()
	writeDataFile(t, dir, "notes.md", "no station files here\n")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive.txt"), 0o755))

	_, err := svc.Ingest(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDataFiles)
}

func TestIngestSingleFileDirectly(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestIngestionService(repo)

	path := writeDataFile(t, t.TempDir(), "USC00110072.txt", "19900101\t250\t100\t50\n19900102\t260\t110\t60\n")

	result, err := svc.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, result.FilesProcessed)
	assert.Equal(t, 1, result.FilesSuccessful)
	assert.Equal(t, 2, result.TotalIngested)
	assert.Len(t, repo.rows, 2)
}
