package processor

import (
	"fmt"
	"math"

	"SpeedRecords/src/utils"

	"github.com/go-gota/gota/dataframe"
)

// Record is one row of a cleaned, filtered or valid table. A missing
// coordinate is nil.
type Record struct {
	Longitude   *float64          `json:"longitude"`
	Latitude    *float64          `json:"latitude"`
	Date        string            `json:"datej"`
	Hour        int               `json:"hour"`
	Weekday     int               `json:"weekday"`
	Month       int               `json:"month"`
	Mesure      float64           `json:"mesure"`
	Limite      float64           `json:"limite"`
	Difference  float64           `json:"difference"`
	WeekdayName string            `json:"weekday_name"`
	MonthName   string            `json:"month_name"`
	Extra       map[string]string `json:"extra,omitempty"` // passthrough columns
}

// Records converts a table produced by the pipeline into typed rows.
func Records(df dataframe.DataFrame) ([]Record, error) {
	if df.Err != nil {
		return nil, df.Err
	}
	for _, c := range append([]string{ColMesure, ColLimite}, DerivedColumns...) {
		if !utils.HasColumn(df, c) {
			return nil, fmt.Errorf("records: %w: %s", ErrMissingColumn, c)
		}
	}

	hours, err := df.Col(ColHour).Int()
	if err != nil {
		return nil, fmt.Errorf("records: %s: %w", ColHour, err)
	}
	weekdays, err := df.Col(ColWeekday).Int()
	if err != nil {
		return nil, fmt.Errorf("records: %s: %w", ColWeekday, err)
	}
	months, err := df.Col(ColMonth).Int()
	if err != nil {
		return nil, fmt.Errorf("records: %s: %w", ColMonth, err)
	}

	var (
		lons   = df.Col(ColLongitude).Float()
		lats   = df.Col(ColLatitude).Float()
		ms     = df.Col(ColMesure).Float()
		ls     = df.Col(ColLimite).Float()
		diffs  = df.Col(ColDifference).Float()
		days   = df.Col(ColDateJ).Records()
		wnames = df.Col(ColWeekdayName).Records()
		mnames = df.Col(ColMonthName).Records()
	)

	extras := PassthroughColumns(df)
	extraVals := make(map[string][]string, len(extras))
	for _, name := range extras {
		extraVals[name] = df.Col(name).Records()
	}

	out := make([]Record, df.Nrow())
	for i := range out {
		out[i] = Record{
			Longitude:   optional(lons[i]),
			Latitude:    optional(lats[i]),
			Date:        days[i],
			Hour:        hours[i],
			Weekday:     weekdays[i],
			Month:       months[i],
			Mesure:      ms[i],
			Limite:      ls[i],
			Difference:  diffs[i],
			WeekdayName: wnames[i],
			MonthName:   mnames[i],
		}
		if len(extras) > 0 {
			out[i].Extra = make(map[string]string, len(extras))
			for _, name := range extras {
				out[i].Extra[name] = extraVals[name][i]
			}
		}
	}
	return out, nil
}

// PassthroughColumns lists the columns of df the pipeline neither requires
// nor derives, in table order.
func PassthroughColumns(df dataframe.DataFrame) []string {
	known := make(map[string]bool)
	for _, c := range RequiredColumns {
		known[c] = true
	}
	for _, c := range DerivedColumns {
		known[c] = true
	}
	known[colLine] = true

	var out []string
	for _, name := range df.Names() {
		if !known[name] {
			out = append(out, name)
		}
	}
	return out
}

func optional(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
