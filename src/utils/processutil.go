package utils

import (
	"fmt"
	"io"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"
)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// HasColumn reports whether df has a column called name. Check before
// df.Col, which hands back an unusable series for unknown names.
func HasColumn(df dataframe.DataFrame, name string) bool {
	return Contains(df.Names(), name)
}

// Sheet is one worksheet of an exported workbook.
type Sheet struct {
	Name  string
	Frame dataframe.DataFrame
}

// SaveToExcel writes the sheets to a new workbook at filePath.
func SaveToExcel(filePath string, sheets ...Sheet) error {
	f, err := buildWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("save workbook %s: %w", filePath, err)
	}
	return nil
}

// WriteExcel streams the workbook to w.
func WriteExcel(w io.Writer, sheets ...Sheet) error {
	f, err := buildWorkbook(sheets)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func buildWorkbook(sheets []Sheet) (*excelize.File, error) {
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook needs at least one sheet")
	}

	f := excelize.NewFile()
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				f.Close()
				return nil, fmt.Errorf("sheet %q: %w", s.Name, err)
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			f.Close()
			return nil, fmt.Errorf("sheet %q: %w", s.Name, err)
		}

		if err := writeFrame(f, s.Name, s.Frame); err != nil {
			f.Close()
			return nil, err
		}
	}
	return f, nil
}

// writeFrame writes the header on row 1 and one row per record. NA cells
// stay empty.
func writeFrame(f *excelize.File, sheetName string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return fmt.Errorf("sheet %q: %w", sheetName, df.Err)
	}

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("sheet %q: %w", sheetName, err)
	}

	colNames := df.Names()
	header := make([]interface{}, len(colNames))
	for i, name := range colNames {
		header[i] = name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("sheet %q header: %w", sheetName, err)
	}

	cols := make([]series.Series, len(colNames))
	for i, name := range colNames {
		cols[i] = df.Col(name)
	}

	for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
		row := make([]interface{}, len(cols))
		for colIdx, col := range cols {
			e := col.Elem(rowIdx)
			if e.IsNA() {
				continue
			}
			row[colIdx] = e.Val()
		}
		cell, _ := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("sheet %q row %d: %w", sheetName, rowIdx+2, err)
		}
	}

	return sw.Flush()
}
