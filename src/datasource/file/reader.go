// reader.go
package file

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Delimiter separates fields in measurement files.
const Delimiter = ';'

// ErrEmptyFile is returned when the input has no header line at all.
var ErrEmptyFile = errors.New("empty input file")

// DefaultNAValues are the cell values read as missing.
var DefaultNAValues = []string{
	"", "#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// ReadOptions controls how a source file is turned into a DataFrame.
type ReadOptions struct {
	Encoding  string   // utf-8 (default), iso-8859-1, windows-1252
	NAValues  []string // added to DefaultNAValues
	SheetName string   // xlsx only; empty means the first sheet
}

func (o ReadOptions) naValues() []string {
	out := make([]string, 0, len(DefaultNAValues)+len(o.NAValues))
	out = append(out, DefaultNAValues...)
	return append(out, o.NAValues...)
}

// Load reads path as xlsx when it has that extension and as ';' CSV otherwise.
// Every column comes back as a String series; missing cells are NA.
func Load(path string, opts ReadOptions) (dataframe.DataFrame, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return ReadXLSX(path, opts)
	}
	return ReadCSVFile(path, opts)
}

// ReadCSVFile opens path and hands it to ReadCSV.
func ReadCSVFile(path string, opts ReadOptions) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	df, err := ReadCSV(f, opts)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("read %s: %w", path, err)
	}
	return df, nil
}

// ReadCSV decodes r with the configured charset and parses it as ';'
// separated values with a header line. Rows with a different field count
// than the header are a structural error.
func ReadCSV(r io.Reader, opts ReadOptions) (dataframe.DataFrame, error) {
	t, err := decoder(opts.Encoding)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	cr := csv.NewReader(transform.NewReader(r, t))
	cr.Comma = Delimiter
	records, err := cr.ReadAll()
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("parse csv: %w", err)
	}

	return recordsToDataFrame(records, opts.naValues())
}

// decoder returns the transformer turning the file charset into UTF-8. A
// leading byte order mark is consumed for UTF-8 input.
func decoder(encoding string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return unicode.BOMOverride(unicode.UTF8.NewDecoder()), nil
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder(), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// recordsToDataFrame builds an all-string frame from a header line plus rows.
func recordsToDataFrame(records [][]string, naValues []string) (dataframe.DataFrame, error) {
	if len(records) == 0 {
		return dataframe.DataFrame{}, ErrEmptyFile
	}

	// LoadRecords refuses a header without rows.
	if len(records) == 1 {
		cols := make([]series.Series, len(records[0]))
		for i, name := range records[0] {
			cols[i] = series.New([]string{}, series.String, name)
		}
		df := dataframe.New(cols...)
		return df, df.Err
	}

	df := dataframe.LoadRecords(records,
		dataframe.HasHeader(true),
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
		dataframe.NaNValues(naValues),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("load records: %w", df.Err)
	}
	return df, nil
}

// ReadXLSX loads one sheet of an xlsx workbook. The first row is the header.
func ReadXLSX(filePath string, opts ReadOptions) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenFile(filePath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("open xlsx %s: %w", filePath, err)
	}
	return sheetToDataFrame(xlFile, opts)
}

// ReadXLSXBytes is ReadXLSX for an in-memory workbook, e.g. a mail attachment.
func ReadXLSXBytes(data []byte, opts ReadOptions) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenBinary(data)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("open xlsx: %w", err)
	}
	return sheetToDataFrame(xlFile, opts)
}

// ReadBytes dispatches on the file name like Load but reads from memory.
func ReadBytes(name string, data []byte, opts ReadOptions) (dataframe.DataFrame, error) {
	if strings.EqualFold(filepath.Ext(name), ".xlsx") {
		return ReadXLSXBytes(data, opts)
	}
	return ReadCSV(bytes.NewReader(data), opts)
}

func sheetToDataFrame(xlFile *xlsx.File, opts ReadOptions) (dataframe.DataFrame, error) {
	if len(xlFile.Sheets) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("workbook has no sheets")
	}

	sheet := xlFile.Sheets[0]
	if opts.SheetName != "" {
		s, ok := xlFile.Sheet[opts.SheetName]
		if !ok {
			return dataframe.DataFrame{}, fmt.Errorf("sheet %q not found", opts.SheetName)
		}
		sheet = s
	}

	return recordsToDataFrame(sheetRecords(sheet), opts.naValues())
}

// sheetRecords pads short rows so every record has the header's width.
func sheetRecords(sheet *xlsx.Sheet) [][]string {
	if len(sheet.Rows) == 0 {
		return nil
	}

	var headers []string
	for _, cell := range sheet.Rows[0].Cells {
		headers = append(headers, strings.TrimSpace(cell.Value))
	}
	// trailing empty header cells are formatting, not columns
	for len(headers) > 0 && headers[len(headers)-1] == "" {
		headers = headers[:len(headers)-1]
	}

	records := [][]string{headers}
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		record := make([]string, len(headers))
		empty := true
		for i, cell := range row.Cells {
			if i >= len(headers) || cell == nil {
				continue
			}
			record[i] = cell.Value
			if cell.Value != "" {
				empty = false
			}
		}
		if empty {
			continue
		}
		records = append(records, record)
	}
	return records
}
