package processor

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"SpeedRecords/src/datasource/file"
)

var (
	// ErrMissingColumn means the header lacks one of RequiredColumns.
	ErrMissingColumn = errors.New("missing required column")
	// ErrEmptyInput means the file had no header line.
	ErrEmptyInput = file.ErrEmptyFile
)

// Reason names why a row was dropped as bad data.
type Reason string

const (
	ReasonMissingValue   Reason = "missing_value"
	ReasonBadPosition    Reason = "bad_position"
	ReasonBadDate        Reason = "bad_date"
	ReasonBadTime        Reason = "bad_time"
	ReasonInvalidMeasure Reason = "invalid_measure"
)

// Exclusion names why a well-formed row was left out of a filtered table.
type Exclusion string

const (
	ExcludedNegativeDifference Exclusion = "negative_difference"
	ExcludedZeroCoordinates    Exclusion = "zero_coordinates"
	ExcludedMissingCoordinates Exclusion = "missing_coordinates"
)

// maxSamples bounds the source lines remembered per drop reason.
const maxSamples = 5

// Diagnostics counts what happened to the rows of one run.
type Diagnostics struct {
	RowsRead     int `json:"rows_read"`
	RowsCleaned  int `json:"rows_cleaned"`
	RowsFiltered int `json:"rows_filtered"`
	RowsValid    int `json:"rows_valid"`

	Dropped  map[Reason]int    `json:"dropped"`
	Excluded map[Exclusion]int `json:"excluded"`
	// Samples holds the first source line numbers dropped for each reason.
	Samples map[Reason][]int `json:"samples,omitempty"`
}

func newDiagnostics() Diagnostics {
	return Diagnostics{
		Dropped:  make(map[Reason]int),
		Excluded: make(map[Exclusion]int),
		Samples:  make(map[Reason][]int),
	}
}

func (d *Diagnostics) drop(reason Reason, line int) {
	d.Dropped[reason]++
	if len(d.Samples[reason]) < maxSamples {
		d.Samples[reason] = append(d.Samples[reason], line)
	}
}

// TotalDropped is the number of rows removed as bad data.
func (d Diagnostics) TotalDropped() int {
	n := 0
	for _, c := range d.Dropped {
		n += c
	}
	return n
}

// TotalExcluded is the number of rows filtered out of Filtered or Valid.
func (d Diagnostics) TotalExcluded() int {
	n := 0
	for _, c := range d.Excluded {
		n += c
	}
	return n
}

// String renders the drop counts as "reason=n ..." sorted by reason.
func (d Diagnostics) String() string {
	keys := make([]string, 0, len(d.Dropped))
	for r := range d.Dropped {
		keys = append(keys, string(r))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, d.Dropped[Reason(k)]))
	}
	return strings.Join(parts, " ")
}

// RowError is returned in strict mode for the first row that cannot be parsed.
type RowError struct {
	Line   int
	Column string
	Value  string
	Reason Reason
}

func (e *RowError) Error() string {
	return fmt.Sprintf("line %d: %s: column %q value %q", e.Line, e.Reason, e.Column, e.Value)
}
