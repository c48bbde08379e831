package processor

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"SpeedRecords/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

type cellKey struct{ row, col int }

// PivotCell is one non-empty cell of a PivotTable.
type PivotCell struct {
	Row   int `json:"row"`
	Col   int `json:"col"`
	Count int `json:"count"`
}

// PivotTable counts rows per (row key, column key). Combinations that never
// occur are absent, not zero.
type PivotTable struct {
	RowName string
	ColName string
	Rows    []int // distinct row keys, ascending
	Cols    []int // distinct column keys, ascending
	counts  map[cellKey]int
}

// NewPivotTable counts the rows of df grouped by two integer columns.
func NewPivotTable(df dataframe.DataFrame, rowCol, colCol string) (*PivotTable, error) {
	for _, name := range []string{rowCol, colCol} {
		if !utils.HasColumn(df, name) {
			return nil, fmt.Errorf("pivot: %w: %s", ErrMissingColumn, name)
		}
	}
	rows, err := df.Col(rowCol).Int()
	if err != nil {
		return nil, fmt.Errorf("pivot %s: %w", rowCol, err)
	}
	cols, err := df.Col(colCol).Int()
	if err != nil {
		return nil, fmt.Errorf("pivot %s: %w", colCol, err)
	}

	p := &PivotTable{
		RowName: rowCol,
		ColName: colCol,
		counts:  make(map[cellKey]int),
	}
	seenRows := make(map[int]bool)
	seenCols := make(map[int]bool)
	for i := range rows {
		p.counts[cellKey{rows[i], cols[i]}]++
		if !seenRows[rows[i]] {
			seenRows[rows[i]] = true
			p.Rows = append(p.Rows, rows[i])
		}
		if !seenCols[cols[i]] {
			seenCols[cols[i]] = true
			p.Cols = append(p.Cols, cols[i])
		}
	}
	sort.Ints(p.Rows)
	sort.Ints(p.Cols)
	return p, nil
}

// Get returns the count at (row, col) and whether that combination occurred.
func (p *PivotTable) Get(row, col int) (int, bool) {
	n, ok := p.counts[cellKey{row, col}]
	return n, ok
}

// Total is the number of rows counted.
func (p *PivotTable) Total() int {
	n := 0
	for _, c := range p.counts {
		n += c
	}
	return n
}

// Len is the number of non-empty cells.
func (p *PivotTable) Len() int { return len(p.counts) }

// Cells lists the non-empty cells ordered by row then column.
func (p *PivotTable) Cells() []PivotCell {
	cells := make([]PivotCell, 0, len(p.counts))
	for _, r := range p.Rows {
		for _, c := range p.Cols {
			if n, ok := p.counts[cellKey{r, c}]; ok {
				cells = append(cells, PivotCell{Row: r, Col: c, Count: n})
			}
		}
	}
	return cells
}

// Matrix returns one slice per row key with a nil entry for absent cells.
func (p *PivotTable) Matrix() [][]*int {
	out := make([][]*int, len(p.Rows))
	for i, r := range p.Rows {
		out[i] = make([]*int, len(p.Cols))
		for j, c := range p.Cols {
			if n, ok := p.counts[cellKey{r, c}]; ok {
				v := n
				out[i][j] = &v
			}
		}
	}
	return out
}

// DataFrame renders the table wide: the row key column followed by one Float
// column per column key, NaN where a combination is absent.
func (p *PivotTable) DataFrame() dataframe.DataFrame {
	cols := []series.Series{series.New(append([]int{}, p.Rows...), series.Int, p.RowName)}
	for _, c := range p.Cols {
		vals := make([]float64, len(p.Rows))
		for i, r := range p.Rows {
			if n, ok := p.counts[cellKey{r, c}]; ok {
				vals[i] = float64(n)
			} else {
				vals[i] = math.NaN()
			}
		}
		cols = append(cols, series.New(vals, series.Float, strconv.Itoa(c)))
	}
	return dataframe.New(cols...)
}

func (p *PivotTable) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Row    string      `json:"row"`
		Col    string      `json:"col"`
		Rows   []int       `json:"rows"`
		Cols   []int       `json:"cols"`
		Matrix [][]*int    `json:"matrix"`
		Cells  []PivotCell `json:"cells"`
		Total  int         `json:"total"`
	}{
		Row:    p.RowName,
		Col:    p.ColName,
		Rows:   nonNilInts(p.Rows),
		Cols:   nonNilInts(p.Cols),
		Matrix: p.Matrix(),
		Cells:  p.Cells(),
		Total:  p.Total(),
	})
}

func nonNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
