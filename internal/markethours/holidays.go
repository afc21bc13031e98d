package markethours

import "time"

// NYSE full-day holidays. No algorithmic derivation: floating holidays
// (Good Friday, observed dates) are unreliable to compute, so each year
// is configured explicitly. Extend with AddHolidays for future years.
var nyseHolidays = map[int][]struct {
	month time.Month
	day   int
}{
	2025: {
		{time.January, 1},   // New Year's Day
		{time.January, 20},  // Martin Luther King Jr. Day
		{time.February, 17}, // Washington's Birthday
		{time.April, 18},    // Good Friday
		{time.May, 26},      // Memorial Day
		{time.June, 19},     // Juneteenth
		{time.July, 4},      // Independence Day
		{time.September, 1}, // Labor Day
		{time.November, 27}, // Thanksgiving Day
		{time.December, 25}, // Christmas Day
	},
	2026: {
		{time.January, 1},   // New Year's Day
		{time.January, 19},  // Martin Luther King Jr. Day
		{time.February, 16}, // Washington's Birthday
		{time.April, 3},     // Good Friday
		{time.May, 25},      // Memorial Day
		{time.June, 19},     // Juneteenth
		{time.July, 3},      // Independence Day (observed)
		{time.September, 7}, // Labor Day
		{time.November, 26}, // Thanksgiving Day
		{time.December, 25}, // Christmas Day
	},
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool, 32)
	for year, days := range nyseHolidays {
		for _, h := range days {
			holidaySet[dateKey(year, h.month, h.day)] = true
		}
	}
}

// IsHoliday returns true if the date (Eastern) is a configured NYSE holiday.
func IsHoliday(t time.Time) bool {
	et := t.In(Eastern)
	return holidaySet[dateKey(et.Year(), et.Month(), et.Day())]
}

// AddHolidays registers additional full-day holidays, e.g. when a new
// year's calendar is published. Call during startup, before serving.
func AddHolidays(year int, dates ...time.Time) {
	for _, d := range dates {
		et := d.In(Eastern)
		if et.Year() != year {
			continue
		}
		holidaySet[dateKey(et.Year(), et.Month(), et.Day())] = true
	}
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, Eastern).Format("2006-01-02")
}
