package analysis

import (
	"fmt"
	"math"
	"sort"

	"SpeedRecords/src/processor"
	"SpeedRecords/src/utils"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Bin limits accepted by NewHistogram.
const (
	MinBins     = 5
	MaxBins     = 100
	DefaultBins = 20
)

// HistogramColumns are the columns that may be binned.
var HistogramColumns = []string{processor.ColHour, processor.ColDifference}

// Bin is one bar: Lower <= v < Upper, except the last bin which includes Upper.
type Bin struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// Histogram is an equal-width binning of one column.
type Histogram struct {
	Column string `json:"column"`
	Bins   []Bin  `json:"bins"`
	Total  int    `json:"total"`
}

// NewHistogram bins the non-missing values of column into nbins equal-width
// bins spanning [min, max].
func NewHistogram(df dataframe.DataFrame, col string, nbins int) (*Histogram, error) {
	if nbins < MinBins || nbins > MaxBins {
		return nil, fmt.Errorf("bins must be between %d and %d, got %d", MinBins, MaxBins, nbins)
	}
	if !utils.Contains(HistogramColumns, col) {
		return nil, fmt.Errorf("column %q cannot be binned", col)
	}

	x, err := column(df, col)
	if err != nil {
		return nil, err
	}
	h := &Histogram{Column: col, Bins: []Bin{}, Total: len(x)}
	if len(x) == 0 {
		return h, nil
	}

	sort.Float64s(x)
	lo, hi := x[0], x[len(x)-1]
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}

	dividers := floats.Span(make([]float64, nbins+1), lo, hi)
	// stat.Histogram excludes the last divider; nudge it so max lands in the last bin
	dividers[nbins] = math.Nextafter(hi, math.Inf(1))

	counts := stat.Histogram(nil, dividers, x, nil)
	for i, c := range counts {
		upper := dividers[i+1]
		if i == nbins-1 {
			upper = hi
		}
		h.Bins = append(h.Bins, Bin{Lower: dividers[i], Upper: upper, Count: int(c)})
	}
	return h, nil
}

// Category is one slice of a distribution.
type Category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// DistributionColumns are the columns Distribution accepts.
var DistributionColumns = []string{processor.ColWeekdayName, processor.ColMonthName}

// Distribution counts the values of weekday_name or month_name. Categories
// come in calendar order; absent ones are left out.
func Distribution(df dataframe.DataFrame, col string) ([]Category, error) {
	var order []string
	switch col {
	case processor.ColWeekdayName:
		order = processor.WeekdayNames()
	case processor.ColMonthName:
		order = processor.MonthNames()
	default:
		return nil, fmt.Errorf("column %q has no distribution", col)
	}
	if !utils.HasColumn(df, col) {
		return nil, fmt.Errorf("%w: %s", processor.ErrMissingColumn, col)
	}

	counts := make(map[string]int)
	s := df.Col(col)
	for i := 0; i < s.Len(); i++ {
		e := s.Elem(i)
		if e.IsNA() {
			continue
		}
		counts[e.String()]++
	}

	out := []Category{}
	for _, name := range order {
		if n := counts[name]; n > 0 {
			out = append(out, Category{Name: name, Count: n})
		}
	}
	return out, nil
}
