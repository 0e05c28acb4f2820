// Package marketcal provides the NYSE trading calendar: trading-day
// enumeration and the intraday session grid used for gap detection and
// self-heal backfills.
package marketcal

import (
	"time"
)

// nyLoc is the exchange timezone. time.LoadLocation is cheap after the first
// call but we resolve it once anyway.
var nyLoc = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic("marketcal: America/New_York tzdata unavailable: " + err.Error())
	}
	return loc
}()

// Location returns the exchange timezone (America/New_York).
func Location() *time.Location {
	return nyLoc
}

// Regular session bounds, exchange local time.
const (
	sessionOpenHour    = 9
	sessionOpenMinute  = 30
	sessionCloseHour   = 16
	sessionCloseMinute = 0
)

// IsTradingDay reports whether the given date (interpreted in exchange time)
// is an NYSE trading day.
func IsTradingDay(t time.Time) bool {
	d := t.In(nyLoc)
	if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		return false
	}
	key := d.Format("2006-01-02")
	for _, h := range holidays(d.Year()) {
		if h == key {
			return false
		}
	}
	return true
}

// TradingDays returns the YYYY-MM-DD trading dates in [from, to], inclusive,
// in ascending order.
func TradingDays(from, to time.Time) []string {
	from = dateOnly(from)
	to = dateOnly(to)
	var days []string
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if IsTradingDay(d) {
			days = append(days, d.Format("2006-01-02"))
		}
	}
	return days
}

// PreviousTradingDay returns the last trading day strictly before t.
func PreviousTradingDay(t time.Time) time.Time {
	d := dateOnly(t)
	for {
		d = d.AddDate(0, 0, -1)
		if IsTradingDay(d) {
			return d
		}
	}
}

// SessionGrid returns the UTC timestamps of every bar of the given interval
// within the regular session of one trading day. Bars are stamped at
// interval start: a 15m grid runs 09:30 through 15:45 exchange time.
// Returns nil for non-trading days.
func SessionGrid(day time.Time, interval time.Duration) []time.Time {
	if !IsTradingDay(day) {
		return nil
	}
	d := day.In(nyLoc)
	open := time.Date(d.Year(), d.Month(), d.Day(), sessionOpenHour, sessionOpenMinute, 0, 0, nyLoc)
	close := time.Date(d.Year(), d.Month(), d.Day(), sessionCloseHour, sessionCloseMinute, 0, 0, nyLoc)

	var grid []time.Time
	for ts := open; ts.Before(close); ts = ts.Add(interval) {
		grid = append(grid, ts.UTC())
	}
	return grid
}

// SessionGridRange returns the session grid for every trading day in
// [from, to], inclusive.
func SessionGridRange(from, to time.Time, interval time.Duration) []time.Time {
	from = dateOnly(from)
	to = dateOnly(to)
	var grid []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		grid = append(grid, SessionGrid(d, interval)...)
	}
	return grid
}

func dateOnly(t time.Time) time.Time {
	d := t.In(nyLoc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, nyLoc)
}

// holidays returns the observed NYSE full-closure dates for a year as
// YYYY-MM-DD strings. Half days are treated as trading days.
func holidays(year int) []string {
	hs := []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, nyLoc)),   // New Year's Day
		nthWeekday(year, time.January, time.Monday, 3),                  // MLK Day
		nthWeekday(year, time.February, time.Monday, 3),                 // Washington's Birthday
		goodFriday(year),                                                // Good Friday
		lastWeekday(year, time.May, time.Monday),                        // Memorial Day
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, nyLoc)),      // Independence Day
		nthWeekday(year, time.September, time.Monday, 1),                // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4),               // Thanksgiving
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, nyLoc)), // Christmas
	}
	// Juneteenth became an NYSE holiday in 2022.
	if year >= 2022 {
		hs = append(hs, observed(time.Date(year, time.June, 19, 0, 0, 0, 0, nyLoc)))
	}

	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.Format("2006-01-02"))
	}
	return out
}

// observed shifts a fixed-date holiday to Friday when it falls on Saturday
// and to Monday when it falls on Sunday.
func observed(d time.Time) time.Time {
	switch d.Weekday() {
	case time.Saturday:
		return d.AddDate(0, 0, -1)
	case time.Sunday:
		return d.AddDate(0, 0, 1)
	}
	return d
}

// nthWeekday returns the nth given weekday of a month.
func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, nyLoc)
	for d.Weekday() != weekday {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 7*(n-1))
}

// lastWeekday returns the last given weekday of a month.
func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	d := time.Date(year, month+1, 1, 0, 0, 0, 0, nyLoc).AddDate(0, 0, -1)
	for d.Weekday() != weekday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// goodFriday is two days before Easter Sunday (Gregorian computus).
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, nyLoc)
	return easter.AddDate(0, 0, -2)
}
