package processor

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"SpeedRecords/src/config"
	"SpeedRecords/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Line numbers in comments are source lines; the header is line 1.
var fixture = strings.Join([]string{
	"position;date;mesure;limite;route",
	"2.5 48.8;2024-01-15T08:30:00;95;90;A6",  // 2  kept, Monday
	"1.0 2.0;2024-01-16T09:10:00;80;90;A6",   // 3  negative difference
	"0 0;2024-02-03T23:59;100;90;N7",         // 4  zero coordinates
	"abc 3.5;2024-02-03T10:00;91;90;N7",      // 5  latitude NaN, filtered but not valid
	"1 2 3;2024-01-15T08:00;95;90;A6",        // 6  bad position
	"1 2;2024-01-15;95;90;A6",                // 7  no T
	"1 2;2024-01-15T25:00;95;90;A6",          // 8  bad time
	"1 2;2024-13-01T08:00;95;90;A6",          // 9  bad date
	"1 2;2024-01-15T08:00;fast;90;A6",        // 10 bad measure
	"1 2;2024-01-15T08:00;95;;A6",            // 11 missing limite
	"3 4;2024-01-15T08:45;120;90;",           // 12 missing passthrough value
	"5 6;2024-01-15T08:05:10.5Z;90;90;A6",    // 13 kept, difference 0
	"0 7;2024-03-10T14:20;110;90;A1",         // 14 kept, Sunday
}, "\n") + "\n"

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vitesse.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func loadFixture(t *testing.T, opts Options) *Result {
	t.Helper()
	res, err := LoadAndClean(context.Background(), writeFixture(t, fixture), opts)
	require.NoError(t, err)
	return res
}

func TestLoadAndCleanCounts(t *testing.T) {
	res := loadFixture(t, DefaultOptions())
	d := res.Diagnostics

	assert.Equal(t, 13, d.RowsRead)
	assert.Equal(t, 6, d.RowsCleaned)
	assert.Equal(t, 4, d.RowsFiltered)
	assert.Equal(t, 3, d.RowsValid)

	assert.Equal(t, map[Reason]int{
		ReasonMissingValue:   2,
		ReasonBadPosition:    1,
		ReasonBadDate:        2,
		ReasonBadTime:        1,
		ReasonInvalidMeasure: 1,
	}, d.Dropped)
	assert.Equal(t, map[Exclusion]int{
		ExcludedNegativeDifference: 1,
		ExcludedZeroCoordinates:    1,
		ExcludedMissingCoordinates: 1,
	}, d.Excluded)
	assert.Equal(t, []int{11, 12}, d.Samples[ReasonMissingValue])
	assert.Equal(t, []int{7, 9}, d.Samples[ReasonBadDate])
	assert.Equal(t, 7, d.TotalDropped())
	assert.Equal(t, 3, d.TotalExcluded())
	assert.Equal(t, "bad_date=2 bad_position=1 bad_time=1 invalid_measure=1 missing_value=2", d.String())

	assert.NotEmpty(t, res.RunID)
	assert.True(t, strings.HasSuffix(res.Source, "vitesse.csv"))
}

func TestCleanedColumnOrder(t *testing.T) {
	res := loadFixture(t, DefaultOptions())
	assert.Equal(t, []string{
		"mesure", "limite", "route",
		"longitude", "latitude", "datej", "hour", "weekday", "month",
		"difference", "weekday_name", "month_name",
	}, res.Cleaned.Names())
	assert.Equal(t, res.Cleaned.Names(), res.Filtered.Names())
	assert.Equal(t, res.Cleaned.Names(), res.Valid.Names())
}

func TestFilteredRecords(t *testing.T) {
	res := loadFixture(t, DefaultOptions())

	recs, err := Records(res.Filtered)
	require.NoError(t, err)
	require.Len(t, recs, 4)

	first := recs[0]
	require.NotNil(t, first.Latitude)
	require.NotNil(t, first.Longitude)
	assert.Equal(t, 2.5, *first.Latitude)
	assert.Equal(t, 48.8, *first.Longitude)
	assert.Equal(t, "2024-01-15", first.Date)
	assert.Equal(t, 8, first.Hour)
	assert.Equal(t, 0, first.Weekday)
	assert.Equal(t, "Monday", first.WeekdayName)
	assert.Equal(t, 1, first.Month)
	assert.Equal(t, "January", first.MonthName)
	assert.Equal(t, 5.0, first.Difference)
	assert.Equal(t, map[string]string{"route": "A6"}, first.Extra)

	// non-numeric first token: latitude missing, longitude kept
	assert.Nil(t, recs[1].Latitude)
	require.NotNil(t, recs[1].Longitude)
	assert.Equal(t, 3.5, *recs[1].Longitude)
	assert.Equal(t, "Saturday", recs[1].WeekdayName)

	assert.Equal(t, 0.0, recs[2].Difference)
	assert.Equal(t, 8, recs[2].Hour)

	last := recs[3]
	assert.Equal(t, 0.0, *last.Latitude)
	assert.Equal(t, 7.0, *last.Longitude)
	assert.Equal(t, 6, last.Weekday)
	assert.Equal(t, "Sunday", last.WeekdayName)
	assert.Equal(t, "March", last.MonthName)
	assert.Equal(t, 14, last.Hour)

	for _, r := range recs {
		assert.GreaterOrEqual(t, r.Difference, 0.0)
		zero := r.Latitude != nil && r.Longitude != nil && *r.Latitude == 0 && *r.Longitude == 0
		assert.False(t, zero)
	}
}

func TestValidRecords(t *testing.T) {
	res := loadFixture(t, DefaultOptions())

	recs, err := Records(res.Valid)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	for _, r := range recs {
		assert.NotNil(t, r.Latitude)
		assert.NotNil(t, r.Longitude)
	}
}

func TestPivotTables(t *testing.T) {
	res := loadFixture(t, DefaultOptions())

	hw := res.HourWeekday
	assert.Equal(t, "hour", hw.RowName)
	assert.Equal(t, "weekday", hw.ColName)
	assert.Equal(t, []int{8, 10, 14}, hw.Rows)
	assert.Equal(t, []int{0, 5, 6}, hw.Cols)
	n, ok := hw.Get(8, 0)
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	_, ok = hw.Get(8, 5)
	assert.False(t, ok)
	assert.Equal(t, res.Filtered.Nrow(), hw.Total())

	wm := res.WeekdayMonth
	assert.Equal(t, []PivotCell{
		{Row: 0, Col: 1, Count: 2},
		{Row: 5, Col: 2, Count: 1},
		{Row: 6, Col: 3, Count: 1},
	}, wm.Cells())
	assert.Equal(t, res.Filtered.Nrow(), wm.Total())
}

func TestTupleOrder(t *testing.T) {
	res := loadFixture(t, DefaultOptions())
	filtered, hw, valid, wm := res.Tuple()
	assert.Equal(t, 4, filtered.Nrow())
	assert.Same(t, res.HourWeekday, hw)
	assert.Equal(t, 3, valid.Nrow())
	assert.Same(t, res.WeekdayMonth, wm)
}

func TestSwapDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.SwapCoordinates = false
	res := loadFixture(t, opts)

	recs, err := Records(res.Filtered)
	require.NoError(t, err)
	assert.Equal(t, 2.5, *recs[0].Longitude)
	assert.Equal(t, 48.8, *recs[0].Latitude)
}

func TestStrictMode(t *testing.T) {
	opts := DefaultOptions()
	opts.Strict = true

	_, err := LoadAndClean(context.Background(), writeFixture(t, fixture), opts)
	require.Error(t, err)

	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, 6, rowErr.Line)
	assert.Equal(t, ReasonBadPosition, rowErr.Reason)
	assert.Equal(t, "1 2 3", rowErr.Value)
}

func TestStrictModeMeasure(t *testing.T) {
	opts := DefaultOptions()
	opts.Strict = true
	in := "position;date;mesure;limite\n1 2;2024-01-15T08:00;95;ninety\n"

	_, err := LoadAndClean(context.Background(), writeFixture(t, in), opts)
	var rowErr *RowError
	require.ErrorAs(t, err, &rowErr)
	assert.Equal(t, ColLimite, rowErr.Column)
	assert.Equal(t, ReasonInvalidMeasure, rowErr.Reason)
}

func TestInputErrors(t *testing.T) {
	t.Run("missing column", func(t *testing.T) {
		path := writeFixture(t, "position;date;mesure\n1 2;2024-01-15T08:00;95\n")
		_, err := LoadAndClean(context.Background(), path, DefaultOptions())
		assert.ErrorIs(t, err, ErrMissingColumn)
		assert.Contains(t, err.Error(), "limite")
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := LoadAndClean(context.Background(), writeFixture(t, ""), DefaultOptions())
		assert.ErrorIs(t, err, ErrEmptyInput)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadAndClean(context.Background(), filepath.Join(t.TempDir(), "none.csv"), DefaultOptions())
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("ragged rows", func(t *testing.T) {
		path := writeFixture(t, "position;date;mesure;limite\n1 2;2024-01-15T08:00\n")
		_, err := LoadAndClean(context.Background(), path, DefaultOptions())
		assert.Error(t, err)
	})
}

func TestHeaderOnly(t *testing.T) {
	path := writeFixture(t, "position;date;mesure;limite\n")
	res, err := LoadAndClean(context.Background(), path, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, 0, res.Filtered.Nrow())
	assert.Equal(t, 0, res.Valid.Nrow())
	assert.Equal(t, 0, res.HourWeekday.Len())
	assert.Equal(t, 0, res.WeekdayMonth.Total())
	assert.Equal(t, "hour", res.HourWeekday.DataFrame().Names()[0])
}

func TestAllRowsDropped(t *testing.T) {
	path := writeFixture(t, "position;date;mesure;limite\n1;2024-01-15T08:00;95;90\n")
	res, err := LoadAndClean(context.Background(), path, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Filtered.Nrow())
	assert.Equal(t, 1, res.Diagnostics.Dropped[ReasonBadPosition])
}

func TestColumnMapping(t *testing.T) {
	in := "pos;horodatage;vitesse;limite\n2.5 48.8;2024-01-15T08:30;95;90\n"
	opts := DefaultOptions()
	opts.Columns = map[string]string{"position": "pos", "date": "horodatage", "mesure": "vitesse"}

	res, err := LoadAndClean(context.Background(), writeFixture(t, in), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Filtered.Nrow())
	assert.Equal(t, 5.0, res.Filtered.Col(ColDifference).Float()[0])
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SheetName = "Mesures"
	dcfg := config.DefaultDataConfig()
	dcfg.SwapCoordinates = false
	dcfg.Encoding = "iso-8859-1"
	dcfg.SetColumn("mesure", "vitesse")

	opts := OptionsFromConfig(cfg, dcfg)
	assert.False(t, opts.SwapCoordinates)
	assert.Equal(t, "vitesse", opts.Columns["mesure"])
	assert.Equal(t, "position", opts.Columns["position"])
	assert.Equal(t, "iso-8859-1", opts.Read.Encoding)
	assert.Equal(t, "Mesures", opts.Read.SheetName)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := LoadAndClean(ctx, writeFixture(t, fixture), DefaultOptions())
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingObserver struct {
	results []*Result
	errs    []error
}

func (o *recordingObserver) ObserveRun(res *Result, _ time.Duration, err error) {
	o.results = append(o.results, res)
	o.errs = append(o.errs, err)
}

func TestObserverAndLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "app.log")
	logger, err := storage.NewLogger(logPath)
	require.NoError(t, err)
	defer logger.Close()

	obs := &recordingObserver{}
	opts := DefaultOptions()
	opts.Logger = logger
	opts.Observer = obs

	res, err := LoadAndClean(context.Background(), writeFixture(t, fixture), opts)
	require.NoError(t, err)
	_, err = LoadAndClean(context.Background(), writeFixture(t, ""), opts)
	require.Error(t, err)

	require.Len(t, obs.results, 2)
	assert.Same(t, res, obs.results[0])
	assert.NoError(t, obs.errs[0])
	assert.Nil(t, obs.results[1])
	assert.Error(t, obs.errs[1])

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "pipeline finished")
	assert.Contains(t, string(data), "rows dropped")
	assert.Contains(t, string(data), "pipeline failed")
}

func TestRunsAreIndependent(t *testing.T) {
	path := writeFixture(t, fixture)
	res1 := loadFixture(t, DefaultOptions())
	res2, err := LoadAndClean(context.Background(), path, DefaultOptions())
	require.NoError(t, err)

	// independent runs produce equal tables and distinct ids
	assert.Equal(t, res1.Filtered.Records(), res2.Filtered.Records())
	assert.NotEqual(t, res1.RunID, res2.RunID)
}

func TestPivotDataFrame(t *testing.T) {
	res := loadFixture(t, DefaultOptions())
	df := res.HourWeekday.DataFrame()

	assert.Equal(t, []string{"hour", "0", "5", "6"}, df.Names())
	monday := df.Col("0").Float()
	assert.Equal(t, 2.0, monday[0])
	assert.True(t, math.IsNaN(monday[1]))
}

func TestLoadBytes(t *testing.T) {
	res, err := LoadBytes(context.Background(), "mail/vitesse.csv", []byte(fixture), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, "mail/vitesse.csv", res.Source)
	assert.Equal(t, 4, res.Diagnostics.RowsFiltered)
	assert.Equal(t, loadFixture(t, DefaultOptions()).Filtered.Records(), res.Filtered.Records())

	_, err = LoadBytes(context.Background(), "empty.csv", nil, DefaultOptions())
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestInfiniteValues(t *testing.T) {
	content := "position;date;mesure;limite\n" +
		"2.5 48.8;2024-01-15T08:30:00;95;90\n" +
		"1 2;2024-01-15T08:00;inf;90\n" +
		"1 2;2024-01-15T08:00;95;-Infinity\n" +
		"Inf 3;2024-01-15T09:00;100;90\n"
	res, err := LoadAndClean(context.Background(), writeFixture(t, content), DefaultOptions())
	require.NoError(t, err)
	d := res.Diagnostics

	assert.Equal(t, 4, d.RowsRead)
	assert.Equal(t, 2, d.Dropped[ReasonInvalidMeasure])
	assert.Equal(t, 2, d.RowsFiltered)
	assert.Equal(t, 1, d.RowsValid)
	assert.Equal(t, 1, d.Excluded[ExcludedMissingCoordinates])

	for _, v := range res.Filtered.Col(ColDifference).Float() {
		assert.False(t, math.IsInf(v, 0))
	}
	recs, err := Records(res.Filtered)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Nil(t, recs[1].Latitude)
}
