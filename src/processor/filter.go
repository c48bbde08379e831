package processor

import (
	"math"

	"github.com/go-gota/gota/dataframe"
)

// filterRecords keeps rows with difference >= 0 whose coordinates are not
// both zero. A NaN coordinate is "not zero" and passes.
func filterRecords(cleaned dataframe.DataFrame, diag *Diagnostics) dataframe.DataFrame {
	diffs := cleaned.Col(ColDifference).Float()
	lats := cleaned.Col(ColLatitude).Float()
	lons := cleaned.Col(ColLongitude).Float()

	keep := make([]int, 0, len(diffs))
	for i, d := range diffs {
		if !(d >= 0) {
			diag.Excluded[ExcludedNegativeDifference]++
			continue
		}
		if lats[i] == 0 && lons[i] == 0 {
			diag.Excluded[ExcludedZeroCoordinates]++
			continue
		}
		keep = append(keep, i)
	}
	return cleaned.Subset(keep)
}

// validRecords keeps filtered rows with both coordinates present.
func validRecords(filtered dataframe.DataFrame, diag *Diagnostics) dataframe.DataFrame {
	lats := filtered.Col(ColLatitude).Float()
	lons := filtered.Col(ColLongitude).Float()

	keep := make([]int, 0, len(lats))
	for i := range lats {
		if math.IsNaN(lats[i]) || math.IsNaN(lons[i]) {
			diag.Excluded[ExcludedMissingCoordinates]++
			continue
		}
		keep = append(keep, i)
	}
	return filtered.Subset(keep)
}
