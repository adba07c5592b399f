package repository

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", Inserted.String())
	assert.Equal(t, "skipped", DuplicateSkipped.String())
	assert.Equal(t, "failed", InsertFailed.String())
}

func TestIsConnectionFatal(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"bad connection", driver.ErrBadConn, true},
		{"wrapped bad connection", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"connection failure", &pq.Error{Code: "08006"}, true},
		{"out of disk", &pq.Error{Code: "53100"}, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true},
		{"system io error", &pq.Error{Code: "58030"}, true},
		{"internal error", &pq.Error{Code: "XX000"}, true},
		{"string too long", &pq.Error{Code: "22001"}, false},
		{"numeric out of range", &pq.Error{Code: "22003"}, false},
		{"check violation", &pq.Error{Code: "23514"}, false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, isConnectionFatal(tt.err))
		})
	}
}

func TestFatalStorageError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &FatalStorageError{Op: "commit", Err: cause}

	assert.True(t, IsFatalStorage(err))
	assert.True(t, IsFatalStorage(fmt.Errorf("ingest file: %w", err)))
	assert.False(t, IsFatalStorage(cause))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "commit")
}

func TestBuildObservationsFilter(t *testing.T) {
	clause, args := buildObservationsFilter(ObservationFilter{})
	assert.Equal(t, " WHERE 1=1", clause)
	assert.Empty(t, args)

	station := "USC00110072"
	clause, args = buildObservationsFilter(ObservationFilter{StationID: &station})
	assert.Equal(t, " WHERE 1=1 AND station_id = $1", clause)
	require.Len(t, args, 1)
	assert.Equal(t, station, args[0])

	date := "1990-01-01"
	clause, args = buildObservationsFilter(ObservationFilter{StationID: &station, Date: &date})
	assert.Equal(t, " WHERE 1=1 AND station_id = $1 AND date = $2", clause)
	require.Len(t, args, 2)
	assert.Equal(t, date, args[1])
}
