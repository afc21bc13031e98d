// Package markethours classifies instants against US equity (NYSE)
// trading hours in the exchange's local time zone. All functions are
// pure and total over any timestamp.
package markethours

import (
	"fmt"
	"time"
)

// Eastern is the exchange-local zone. A named zone, not a fixed offset:
// the UTC offset shifts with DST and "today's" session boundary moves
// with it.
var Eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("markethours: load America/New_York: %v", err))
	}
	return loc
}

// Regular session hours, Eastern time. Close is exclusive.
const (
	OpenHour    = 9
	OpenMinute  = 30
	CloseHour   = 16
	CloseMinute = 0
)

// IsMarketOpen returns true if t falls within regular trading hours
// (9:30 AM – 4:00 PM ET, Mon–Fri, excluding holidays).
func IsMarketOpen(t time.Time) bool {
	et := t.In(Eastern)
	if IsHolidayOrWeekend(et) {
		return false
	}
	hm := et.Hour()*60 + et.Minute()
	return hm >= OpenHour*60+OpenMinute && hm < CloseHour*60+CloseMinute
}

// IsHolidayOrWeekend returns true if t's calendar date (Eastern) is a
// Saturday, Sunday, or configured exchange holiday.
func IsHolidayOrWeekend(t time.Time) bool {
	et := t.In(Eastern)
	wd := et.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return true
	}
	return IsHoliday(et)
}

// IsMarketClosedAllDay reports whether no session happens at all on t's
// date. Equivalent to IsHolidayOrWeekend.
func IsMarketClosedAllDay(t time.Time) bool {
	return IsHolidayOrWeekend(t)
}

// IsTradingDay returns true if t's date is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	return !IsHolidayOrWeekend(t)
}

// PreviousTradingDay walks backward one calendar day at a time,
// skipping weekends and holidays, and returns the first trading date
// strictly before t's date (midnight Eastern).
func PreviousTradingDay(t time.Time) time.Time {
	et := t.In(Eastern)
	d := time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, Eastern)
	for {
		d = d.AddDate(0, 0, -1)
		if IsTradingDay(d) {
			return d
		}
	}
}

// TodayClose returns t's date's market close time (4:00 PM ET).
func TodayClose(t time.Time) time.Time {
	et := t.In(Eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), CloseHour, CloseMinute, 0, 0, Eastern)
}

// StatusString returns a human-readable market status for dashboards.
func StatusString(t time.Time) string {
	if IsMarketOpen(t) {
		return "Market Open"
	}
	if IsMarketClosedAllDay(t) {
		return "Market Closed — holiday/weekend"
	}
	return "Market Closed"
}
