package processor

// Raw columns every input must carry.
const (
	ColPosition = "position"
	ColDate     = "date"
	ColMesure   = "mesure"
	ColLimite   = "limite"
)

// Columns added by the cleaning steps, in output order.
const (
	ColLongitude   = "longitude"
	ColLatitude    = "latitude"
	ColDateJ       = "datej"
	ColHour        = "hour"
	ColWeekday     = "weekday"
	ColMonth       = "month"
	ColDifference  = "difference"
	ColWeekdayName = "weekday_name"
	ColMonthName   = "month_name"
)

// colLine carries the source line number between steps and never leaves
// the package.
const colLine = "_line"

var RequiredColumns = []string{ColPosition, ColDate, ColMesure, ColLimite}

var DerivedColumns = []string{
	ColLongitude, ColLatitude, ColDateJ, ColHour, ColWeekday, ColMonth,
	ColDifference, ColWeekdayName, ColMonthName,
}

// weekday 0 is Monday.
var weekdayNames = [7]string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// month 1 is January, stored at index 0.
var monthNames = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// WeekdayName returns the English name of weekday (0=Monday..6=Sunday).
func WeekdayName(weekday int) (string, bool) {
	if weekday < 0 || weekday >= len(weekdayNames) {
		return "", false
	}
	return weekdayNames[weekday], true
}

// MonthName returns the English name of month (1..12).
func MonthName(month int) (string, bool) {
	if month < 1 || month > len(monthNames) {
		return "", false
	}
	return monthNames[month-1], true
}

// WeekdayNames lists the names in weekday order.
func WeekdayNames() []string { return append([]string(nil), weekdayNames[:]...) }

// MonthNames lists the names in calendar order.
func MonthNames() []string { return append([]string(nil), monthNames[:]...) }
