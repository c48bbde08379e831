package processor

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"SpeedRecords/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// dayLayouts are tried in order on the part of date before the T.
var dayLayouts = []string{"2006-1-2", "2006/1/2"}

// clockPattern accepts H:MM with optional seconds, fraction and zone suffix.
// Only the hour is kept.
var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2})(?:[.,]\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?$`)

// step turns one frame into the next. It must not modify its input.
type step struct {
	name string
	run  func(df dataframe.DataFrame, st *runState) (dataframe.DataFrame, error)
}

type runState struct {
	opts Options
	diag *Diagnostics
}

var cleaningSteps = []step{
	{"drop_missing", dropMissing},
	{"split_position", splitPosition},
	{"split_date", splitDate},
	{"derive_calendar", deriveCalendar},
	{"difference", computeDifference},
	{"name_columns", nameColumns},
}

// clean runs the cleaning steps in order and returns the CleanedRecord table.
func clean(ctx context.Context, df dataframe.DataFrame, st *runState) (dataframe.DataFrame, error) {
	var err error
	for _, s := range cleaningSteps {
		if err := ctx.Err(); err != nil {
			return dataframe.DataFrame{}, err
		}
		df, err = s.run(df, st)
		if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("%s: %w", s.name, err)
		}
		if df.Err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("%s: %w", s.name, df.Err)
		}
	}
	return df.Drop(colLine), nil
}

// withLines appends the 1-based source line of each row; the header is line 1.
func withLines(df dataframe.DataFrame) dataframe.DataFrame {
	lines := make([]int, df.Nrow())
	for i := range lines {
		lines[i] = i + 2
	}
	return df.Mutate(series.New(lines, series.Int, colLine))
}

func sourceLines(df dataframe.DataFrame) []int {
	if !utils.HasColumn(df, colLine) {
		return make([]int, df.Nrow())
	}
	lines, err := df.Col(colLine).Int()
	if err != nil {
		return make([]int, df.Nrow())
	}
	return lines
}

// dropMissing removes every row with a missing value in any read column.
func dropMissing(df dataframe.DataFrame, st *runState) (dataframe.DataFrame, error) {
	missing := make([]bool, df.Nrow())
	for _, name := range df.Names() {
		if name == colLine {
			continue
		}
		for i, na := range df.Col(name).IsNaN() {
			if na {
				missing[i] = true
			}
		}
	}

	lines := sourceLines(df)
	keep := make([]int, 0, df.Nrow())
	for i, m := range missing {
		if m {
			st.diag.drop(ReasonMissingValue, lines[i])
			continue
		}
		keep = append(keep, i)
	}
	return df.Subset(keep), nil
}

// splitPosition turns "<a> <b>" into longitude and latitude. Tokens that
// are not numbers become NaN; anything but two tokens drops the row.
func splitPosition(df dataframe.DataFrame, st *runState) (dataframe.DataFrame, error) {
	raw := df.Col(ColPosition).Records()
	lines := sourceLines(df)

	keep := make([]int, 0, len(raw))
	lons := make([]float64, 0, len(raw))
	lats := make([]float64, 0, len(raw))
	for i, s := range raw {
		fields := strings.Fields(s)
		if len(fields) != 2 {
			if st.opts.Strict {
				return df, &RowError{Line: lines[i], Column: ColPosition, Value: s, Reason: ReasonBadPosition}
			}
			st.diag.drop(ReasonBadPosition, lines[i])
			continue
		}

		// the file stores latitude first, so the naive reading is swapped
		lon, lat := coerceFloat(fields[0]), coerceFloat(fields[1])
		if st.opts.SwapCoordinates {
			lon, lat = lat, lon
		}
		keep = append(keep, i)
		lons = append(lons, lon)
		lats = append(lats, lat)
	}

	return df.Subset(keep).
		Mutate(series.New(lons, series.Float, ColLongitude)).
		Mutate(series.New(lats, series.Float, ColLatitude)).
		Drop(ColPosition), nil
}

// coerceFloat parses s, mapping unparsable and infinite values to NaN.
func coerceFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(f, 0) {
		return math.NaN()
	}
	return f
}

// splitDate splits "<day>T<clock>" into datej and hour.
func splitDate(df dataframe.DataFrame, st *runState) (dataframe.DataFrame, error) {
	raw := df.Col(ColDate).Records()
	lines := sourceLines(df)

	keep := make([]int, 0, len(raw))
	days := make([]string, 0, len(raw))
	hours := make([]int, 0, len(raw))
	for i, s := range raw {
		parts := strings.Split(s, "T")
		var (
			day    time.Time
			hour   int
			reason Reason
		)
		switch {
		case len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "":
			reason = ReasonBadDate
		default:
			var ok bool
			if day, ok = parseDay(parts[0]); !ok {
				reason = ReasonBadDate
			} else if hour, ok = parseHour(parts[1]); !ok {
				reason = ReasonBadTime
			}
		}

		if reason != "" {
			if st.opts.Strict {
				return df, &RowError{Line: lines[i], Column: ColDate, Value: s, Reason: reason}
			}
			st.diag.drop(reason, lines[i])
			continue
		}
		keep = append(keep, i)
		days = append(days, day.Format("2006-01-02"))
		hours = append(hours, hour)
	}

	return df.Subset(keep).
		Mutate(series.New(days, series.String, ColDateJ)).
		Mutate(series.New(hours, series.Int, ColHour)).
		Drop(ColDate), nil
}

func parseDay(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseHour(s string) (int, bool) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, false
	}
	if m[3] != "" {
		if sec, _ := strconv.Atoi(m[3]); sec > 59 {
			return 0, false
		}
	}
	return hour, true
}

// deriveCalendar adds weekday (0=Monday) and month from datej.
func deriveCalendar(df dataframe.DataFrame, _ *runState) (dataframe.DataFrame, error) {
	days := df.Col(ColDateJ).Records()
	weekdays := make([]int, len(days))
	months := make([]int, len(days))
	for i, s := range days {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return df, fmt.Errorf("datej %q: %w", s, err)
		}
		weekdays[i] = (int(t.Weekday()) + 6) % 7
		months[i] = int(t.Month())
	}

	return df.
		Mutate(series.New(weekdays, series.Int, ColWeekday)).
		Mutate(series.New(months, series.Int, ColMonth)), nil
}

// computeDifference types mesure and limite as floats and adds their
// difference. A value that does not parse as a number drops the row.
func computeDifference(df dataframe.DataFrame, st *runState) (dataframe.DataFrame, error) {
	mesures := df.Col(ColMesure).Records()
	limites := df.Col(ColLimite).Records()
	lines := sourceLines(df)

	keep := make([]int, 0, len(mesures))
	ms := make([]float64, 0, len(mesures))
	ls := make([]float64, 0, len(mesures))
	diffs := make([]float64, 0, len(mesures))
	for i := range mesures {
		m, l := coerceFloat(mesures[i]), coerceFloat(limites[i])
		if math.IsNaN(m) || math.IsNaN(l) {
			if st.opts.Strict {
				col, val := ColMesure, mesures[i]
				if !math.IsNaN(m) {
					col, val = ColLimite, limites[i]
				}
				return df, &RowError{Line: lines[i], Column: col, Value: val, Reason: ReasonInvalidMeasure}
			}
			st.diag.drop(ReasonInvalidMeasure, lines[i])
			continue
		}
		keep = append(keep, i)
		ms = append(ms, m)
		ls = append(ls, l)
		diffs = append(diffs, m-l)
	}

	return df.Subset(keep).
		Mutate(series.New(ms, series.Float, ColMesure)).
		Mutate(series.New(ls, series.Float, ColLimite)).
		Mutate(series.New(diffs, series.Float, ColDifference)), nil
}

// nameColumns adds weekday_name and month_name. Out of range values map to NA.
func nameColumns(df dataframe.DataFrame, _ *runState) (dataframe.DataFrame, error) {
	weekdays, err := df.Col(ColWeekday).Int()
	if err != nil {
		return df, err
	}
	months, err := df.Col(ColMonth).Int()
	if err != nil {
		return df, err
	}

	wn := make([]string, len(weekdays))
	for i, w := range weekdays {
		if name, ok := WeekdayName(w); ok {
			wn[i] = name
		} else {
			wn[i] = "NaN"
		}
	}
	mn := make([]string, len(months))
	for i, m := range months {
		if name, ok := MonthName(m); ok {
			mn[i] = name
		} else {
			mn[i] = "NaN"
		}
	}

	return df.
		Mutate(series.New(wn, series.String, ColWeekdayName)).
		Mutate(series.New(mn, series.String, ColMonthName)), nil
}
