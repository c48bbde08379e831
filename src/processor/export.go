package processor

import "SpeedRecords/src/utils"

// Sheet names of the exported workbook, in output order.
const (
	SheetFiltered     = "filtered"
	SheetHourWeekday  = "hour_weekday"
	SheetValid        = "valid"
	SheetWeekdayMonth = "weekday_month"
)

// Sheets lays the four outputs out as workbook sheets.
func (r *Result) Sheets() []utils.Sheet {
	return []utils.Sheet{
		{Name: SheetFiltered, Frame: r.Filtered},
		{Name: SheetHourWeekday, Frame: r.HourWeekday.DataFrame()},
		{Name: SheetValid, Frame: r.Valid},
		{Name: SheetWeekdayMonth, Frame: r.WeekdayMonth.DataFrame()},
	}
}

// Export saves the four outputs to an xlsx workbook at path.
func (r *Result) Export(path string) error {
	return utils.SaveToExcel(path, r.Sheets()...)
}
