package utils

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func frame() dataframe.DataFrame {
	return dataframe.New(
		series.New([]string{"A6", "N7"}, series.String, "route"),
		series.New([]float64{5, math.NaN()}, series.Float, "difference"),
	)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains([]int{1, 2}, 3))
	assert.False(t, Contains(nil, "x"))
}

func TestHasColumn(t *testing.T) {
	df := frame()
	assert.True(t, HasColumn(df, "route"))
	assert.False(t, HasColumn(df, "latitude"))
}

func TestSaveToExcel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	require.NoError(t, SaveToExcel(path,
		Sheet{Name: "filtered", Frame: frame()},
		Sheet{Name: "empty", Frame: frame().Subset([]int{})},
	))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"filtered", "empty"}, f.GetSheetList())

	rows, err := f.GetRows("filtered")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"route", "difference"}, rows[0])
	assert.Equal(t, []string{"A6", "5"}, rows[1])
	// NA cells stay empty
	assert.Equal(t, []string{"N7"}, rows[2])

	rows, err = f.GetRows("empty")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"route", "difference"}}, rows)
}

func TestWriteExcelErrors(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteExcel(&buf))

	bad := dataframe.DataFrame{Err: assert.AnError}
	assert.ErrorIs(t, WriteExcel(&buf, Sheet{Name: "bad", Frame: bad}), assert.AnError)
}
