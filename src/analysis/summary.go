// Package analysis derives the dashboard figures from the pipeline tables.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"SpeedRecords/src/processor"
	"SpeedRecords/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrNoRows is returned by statistics that are undefined on an empty table.
var ErrNoRows = errors.New("no rows")

// Summary is the headline row of the dashboard.
type Summary struct {
	AverageDifference *float64 `json:"average_difference"`
	MaxDifference     *float64 `json:"max_difference"`
	TotalEntries      int      `json:"total_entries"`
}

// Summarize computes the mean and max of difference. Both are nil when df
// has no rows.
func Summarize(df dataframe.DataFrame) (Summary, error) {
	diffs, err := column(df, processor.ColDifference)
	if err != nil {
		return Summary{}, err
	}

	s := Summary{TotalEntries: df.Nrow()}
	if len(diffs) == 0 {
		return s, nil
	}
	mean := stat.Mean(diffs, nil)
	peak := floats.Max(diffs)
	s.AverageDifference = &mean
	s.MaxDifference = &peak
	return s, nil
}

// DescribeColumns are the numeric columns reported by Describe.
var DescribeColumns = []string{
	processor.ColMesure, processor.ColLimite, processor.ColDifference,
	processor.ColHour, processor.ColWeekday, processor.ColMonth,
}

// Describe returns mean, median, stddev, min, quartiles and max of the
// numeric columns, keyed by column then statistic.
func Describe(df dataframe.DataFrame) (map[string]map[string]*float64, error) {
	if df.Nrow() == 0 {
		return nil, ErrNoRows
	}
	for _, c := range DescribeColumns {
		if !utils.HasColumn(df, c) {
			return nil, fmt.Errorf("describe: %w: %s", processor.ErrMissingColumn, c)
		}
	}

	desc := df.Select(DescribeColumns).Describe()
	if desc.Err != nil {
		return nil, desc.Err
	}

	stats := desc.Col("column").Records()
	out := make(map[string]map[string]*float64, len(DescribeColumns))
	for _, c := range DescribeColumns {
		vals := desc.Col(c).Float()
		out[c] = make(map[string]*float64, len(stats))
		for i, name := range stats {
			if math.IsNaN(vals[i]) {
				out[c][name] = nil
				continue
			}
			v := vals[i]
			out[c][name] = &v
		}
	}
	return out, nil
}

// UniqueLimits returns the distinct speed limits in ascending order.
func UniqueLimits(df dataframe.DataFrame) ([]float64, error) {
	limits, err := column(df, processor.ColLimite)
	if err != nil {
		return nil, err
	}

	seen := make(map[float64]bool)
	out := []float64{}
	for _, l := range limits {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	sort.Float64s(out)
	return out, nil
}

// FilterByLimit keeps the rows whose limite equals limit.
func FilterByLimit(df dataframe.DataFrame, limit float64) (dataframe.DataFrame, error) {
	if !utils.HasColumn(df, processor.ColLimite) {
		return df, fmt.Errorf("filter: %w: %s", processor.ErrMissingColumn, processor.ColLimite)
	}
	out := df.Filter(dataframe.F{
		Colname:    processor.ColLimite,
		Comparator: series.CompFunc,
		Comparando: func(el series.Element) bool {
			return !el.IsNA() && el.Float() == limit
		},
	})
	return out, out.Err
}

// Bounds is the extent of the plotted coordinates.
type Bounds struct {
	MinLatitude  float64 `json:"min_latitude"`
	MaxLatitude  float64 `json:"max_latitude"`
	MinLongitude float64 `json:"min_longitude"`
	MaxLongitude float64 `json:"max_longitude"`
}

// CoordinateBounds returns the extent of the non-missing coordinates of df.
// ok is false when no row has both.
func CoordinateBounds(df dataframe.DataFrame) (b Bounds, ok bool, err error) {
	lats, err := rawColumn(df, processor.ColLatitude)
	if err != nil {
		return Bounds{}, false, err
	}
	lons, err := rawColumn(df, processor.ColLongitude)
	if err != nil {
		return Bounds{}, false, err
	}

	for i := range lats {
		if !finite(lats[i]) || !finite(lons[i]) {
			continue
		}
		if !ok {
			b = Bounds{lats[i], lats[i], lons[i], lons[i]}
			ok = true
			continue
		}
		b.MinLatitude = math.Min(b.MinLatitude, lats[i])
		b.MaxLatitude = math.Max(b.MaxLatitude, lats[i])
		b.MinLongitude = math.Min(b.MinLongitude, lons[i])
		b.MaxLongitude = math.Max(b.MaxLongitude, lons[i])
	}
	return b, ok, nil
}

// column returns the finite values of a numeric column.
func column(df dataframe.DataFrame, name string) ([]float64, error) {
	raw, err := rawColumn(df, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		if finite(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func rawColumn(df dataframe.DataFrame, name string) ([]float64, error) {
	if df.Err != nil {
		return nil, df.Err
	}
	if !utils.HasColumn(df, name) {
		return nil, fmt.Errorf("%w: %s", processor.ErrMissingColumn, name)
	}
	return df.Col(name).Float(), nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
