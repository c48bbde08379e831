package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SpeedRecords/src/config"
	"SpeedRecords/src/datasource/file"
	"SpeedRecords/src/storage"
	"SpeedRecords/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/google/uuid"
)

// Options tunes one pipeline run.
type Options struct {
	// Columns maps a logical column (position, date, mesure, limite) to the
	// header used in the file. Unmapped columns use their logical name.
	Columns map[string]string
	// SwapCoordinates reads the first position token as latitude.
	SwapCoordinates bool
	// Strict fails the run on the first unparseable position, date, time or
	// measure instead of dropping the row.
	Strict bool
	Read   file.ReadOptions

	Logger   *storage.Logger
	Observer Observer
}

// Observer is told about every finished run. res is nil when err is set.
type Observer interface {
	ObserveRun(res *Result, elapsed time.Duration, err error)
}

// DefaultOptions matches the layout of the published measurement files.
func DefaultOptions() Options {
	return Options{SwapCoordinates: true}
}

// OptionsFromConfig builds Options from the loaded configuration files.
func OptionsFromConfig(cfg *config.Config, dcfg *config.DataConfig) Options {
	opts := DefaultOptions()
	if dcfg != nil {
		opts.Columns = make(map[string]string, len(RequiredColumns))
		for _, c := range RequiredColumns {
			opts.Columns[c] = dcfg.Column(c)
		}
		opts.SwapCoordinates = dcfg.Swap()
		opts.Read.Encoding = dcfg.Encoding
		opts.Read.NAValues = dcfg.NAValues
	}
	if cfg != nil {
		opts.Read.SheetName = cfg.SheetName
	}
	return opts
}

// Result holds the tables of one run. The frames are never modified after
// the run returns and may be shared between readers.
type Result struct {
	RunID    string
	Source   string
	LoadedAt time.Time
	Elapsed  time.Duration

	Cleaned      dataframe.DataFrame
	Filtered     dataframe.DataFrame
	Valid        dataframe.DataFrame
	HourWeekday  *PivotTable
	WeekdayMonth *PivotTable

	Diagnostics Diagnostics
}

// Tuple returns the outputs in their published order: filtered records,
// hour x weekday counts, valid records, weekday x month counts.
func (r *Result) Tuple() (dataframe.DataFrame, *PivotTable, dataframe.DataFrame, *PivotTable) {
	return r.Filtered, r.HourWeekday, r.Valid, r.WeekdayMonth
}

// LoadAndClean reads the measurement file at path and runs the full
// pipeline on it. Any file level problem is an error with no partial result.
func LoadAndClean(ctx context.Context, path string, opts Options) (*Result, error) {
	return run(ctx, path, opts, func() (dataframe.DataFrame, error) {
		return file.Load(path, opts.Read)
	})
}

// LoadBytes runs the pipeline on the content of a file that has already been
// read. name picks the format by extension and becomes the result's Source.
func LoadBytes(ctx context.Context, name string, data []byte, opts Options) (*Result, error) {
	return run(ctx, name, opts, func() (dataframe.DataFrame, error) {
		return file.ReadBytes(name, data, opts.Read)
	})
}

func run(ctx context.Context, source string, opts Options, read func() (dataframe.DataFrame, error)) (*Result, error) {
	start := time.Now()

	raw, err := read()
	if err != nil {
		err = fmt.Errorf("load %s: %w", source, err)
		opts.finish(nil, source, start, err)
		return nil, err
	}

	res, err := process(ctx, raw, opts)
	if err != nil {
		err = fmt.Errorf("process %s: %w", source, err)
		opts.finish(nil, source, start, err)
		return nil, err
	}
	res.Source = source
	opts.finish(res, source, start, nil)
	return res, nil
}

// Process runs the pipeline on a frame that is already in memory, such as a
// mailed attachment. Every column of raw is expected to be a String series.
func Process(ctx context.Context, raw dataframe.DataFrame, opts Options) (*Result, error) {
	start := time.Now()
	res, err := process(ctx, raw, opts)
	opts.finish(res, "memory", start, err)
	return res, err
}

func process(ctx context.Context, raw dataframe.DataFrame, opts Options) (*Result, error) {
	if raw.Err != nil {
		return nil, raw.Err
	}

	df, err := mapColumns(raw, opts.Columns)
	if err != nil {
		return nil, err
	}

	diag := newDiagnostics()
	diag.RowsRead = df.Nrow()
	st := &runState{opts: opts, diag: &diag}

	cleaned, err := clean(ctx, withLines(df), st)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filtered := filterRecords(cleaned, &diag)
	valid := validRecords(filtered, &diag)
	for _, d := range []dataframe.DataFrame{cleaned, filtered, valid} {
		if d.Err != nil {
			return nil, d.Err
		}
	}

	hourWeekday, err := NewPivotTable(filtered, ColHour, ColWeekday)
	if err != nil {
		return nil, err
	}
	weekdayMonth, err := NewPivotTable(filtered, ColWeekday, ColMonth)
	if err != nil {
		return nil, err
	}

	diag.RowsCleaned = cleaned.Nrow()
	diag.RowsFiltered = filtered.Nrow()
	diag.RowsValid = valid.Nrow()

	return &Result{
		RunID:        uuid.NewString(),
		LoadedAt:     time.Now(),
		Cleaned:      cleaned,
		Filtered:     filtered,
		Valid:        valid,
		HourWeekday:  hourWeekday,
		WeekdayMonth: weekdayMonth,
		Diagnostics:  diag,
	}, nil
}

// mapColumns renames configured headers to their logical names and checks
// that every required column is present.
func mapColumns(df dataframe.DataFrame, columns map[string]string) (dataframe.DataFrame, error) {
	for _, logical := range RequiredColumns {
		header, ok := columns[logical]
		if !ok || header == logical || utils.HasColumn(df, logical) || !utils.HasColumn(df, header) {
			continue
		}
		df = df.Rename(logical, header)
		if df.Err != nil {
			return df, df.Err
		}
	}

	var missing []string
	for _, c := range RequiredColumns {
		if !utils.HasColumn(df, c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return df, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return df, nil
}

func (o Options) finish(res *Result, source string, start time.Time, err error) {
	elapsed := time.Since(start)
	if res != nil {
		res.Elapsed = elapsed
	}

	if o.Logger != nil {
		if err != nil {
			o.Logger.Errorw("pipeline failed", "source", source, "error", err)
		} else {
			d := res.Diagnostics
			o.Logger.Infow("pipeline finished",
				"run", res.RunID,
				"source", source,
				"read", d.RowsRead,
				"cleaned", d.RowsCleaned,
				"filtered", d.RowsFiltered,
				"valid", d.RowsValid,
				"dropped", d.TotalDropped(),
				"excluded", d.TotalExcluded(),
				"elapsed", elapsed)
			if d.TotalDropped() > 0 {
				o.Logger.Warningw("rows dropped", "run", res.RunID, "reasons", d.String())
			}
		}
	}

	if o.Observer != nil {
		o.Observer.ObserveRun(res, elapsed, err)
	}
}
