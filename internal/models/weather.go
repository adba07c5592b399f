package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SentinelValue marks a missing reading in the raw data files. It is
// stored as-is, in the same integer column as real values, so that
// records round-trip through storage unchanged.
const SentinelValue = -9999

// Observation is one raw daily reading for one station, kept in the
// units of the input files: temperatures in tenths of a degree Celsius,
// precipitation in tenths of a millimeter. The date is normalized to
// YYYY-MM-DD. (station_id, date) is the unique key; rows are never
// updated or deleted once ingested.
type Observation struct {
	StationID     string `json:"station_id" db:"station_id"`
	Date          string `json:"date" db:"date"`
	MaxTemp       int    `json:"max_temp" db:"max_temp"`
	MinTemp       int    `json:"min_temp" db:"min_temp"`
	Precipitation int    `json:"precipitation" db:"precipitation"`
}

// HasMaxTemp reports whether the max temperature was actually recorded.
func (o *Observation) HasMaxTemp() bool {
	return o.MaxTemp != SentinelValue
}

// HasMinTemp reports whether the min temperature was actually recorded.
func (o *Observation) HasMinTemp() bool {
	return o.MinTemp != SentinelValue
}

// HasPrecipitation reports whether precipitation was actually recorded.
func (o *Observation) HasPrecipitation() bool {
	return o.Precipitation != SentinelValue
}

// AnnualStat is the derived per-station-per-year summary. Temperature
// averages are in whole degrees Celsius, precipitation totals in
// centimeters, both rounded to two decimals. A nil aggregate means
// every underlying value for that metric was the sentinel. The table
// holding these rows is a disposable cache, rebuilt from observations.
type AnnualStat struct {
	StationID          string   `json:"station_id" db:"station_id"`
	Year               int      `json:"year" db:"year"`
	AvgMaxTemp         *float64 `json:"avg_max_temp" db:"avg_max_temp"`
	AvgMinTemp         *float64 `json:"avg_min_temp" db:"avg_min_temp"`
	TotalPrecipitation *float64 `json:"total_precipitation" db:"total_precipitation"`
}

// MalformedRecordError reports a line that failed structural, date, or
// numeric parsing. The cause is recorded for logging; callers treat
// every malformed record the same way regardless of cause.
type MalformedRecordError struct {
	Field   string
	Value   string
	Message string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseLine parses one tab-separated record into an Observation for the
// given station. The expected layout is
//
//	YYYYMMDD<TAB>max_temp<TAB>min_temp<TAB>precipitation
//
// with base-10 integer readings, possibly negative. The date is
// validated as a real calendar date and re-emitted as YYYY-MM-DD.
// Rejections come back as *MalformedRecordError. Pure function: no
// side effects, no state.
func ParseLine(rawLine, stationID string) (*Observation, error) {
	fields := strings.Split(rawLine, "\t")
	if len(fields) != 4 {
		return nil, &MalformedRecordError{
			Field:   "line",
			Value:   rawLine,
			Message: fmt.Sprintf("expected 4 tab-separated fields, got %d", len(fields)),
		}
	}

	date, err := NormalizeDate(strings.TrimSpace(fields[0]))
	if err != nil {
		return nil, err
	}

	maxTemp, err := parseReading("max_temp", fields[1])
	if err != nil {
		return nil, err
	}

	minTemp, err := parseReading("min_temp", fields[2])
	if err != nil {
		return nil, err
	}

	precipitation, err := parseReading("precipitation", fields[3])
	if err != nil {
		return nil, err
	}

	return &Observation{
		StationID:     stationID,
		Date:          date,
		MaxTemp:       maxTemp,
		MinTemp:       minTemp,
		Precipitation: precipitation,
	}, nil
}

// NormalizeDate converts a raw YYYYMMDD date into its YYYY-MM-DD form.
// Anything that is not a real calendar date is rejected, including
// out-of-range months, impossible days and February 29 outside leap
// years.
func NormalizeDate(raw string) (string, error) {
	if len(raw) != 8 {
		return "", &MalformedRecordError{
			Field:   "date",
			Value:   raw,
			Message: "expected 8-digit YYYYMMDD date",
		}
	}

	date, err := time.Parse("20060102", raw)
	if err != nil {
		return "", &MalformedRecordError{
			Field:   "date",
			Value:   raw,
			Message: "invalid calendar date",
		}
	}

	return date.Format("2006-01-02"), nil
}

func parseReading(field, raw string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &MalformedRecordError{
			Field:   field,
			Value:   raw,
			Message: "not a base-10 integer",
		}
	}
	return value, nil
}
