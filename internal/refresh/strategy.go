// Package refresh decides when market data is fetched and drives the
// fetch → validate → persist → audit pipeline per (symbol, data type).
package refresh

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quantpane/marketsync/internal/domain"
	"github.com/quantpane/marketsync/internal/marketcal"
)

// Strategy defaults.
const (
	DefaultScheduleTime   = "17:30"
	DefaultScheduleWindow = 30 * time.Minute
	DefaultLiveMaxAge     = time.Minute
	scheduledStaleAfter   = 23 * time.Hour
)

// Strategy decides whether a (symbol, data type) is due for refresh under
// a given mode. Force bypasses the strategy entirely; that decision lives
// in the manager.
type Strategy struct {
	scheduleHour   int
	scheduleMinute int
	window         time.Duration
	liveMaxAge     time.Duration
	now            func() time.Time
}

// NewStrategy parses an HH:MM schedule time (exchange local) and builds a
// strategy with the default window and live max age.
func NewStrategy(scheduleTime string) (*Strategy, error) {
	if scheduleTime == "" {
		scheduleTime = DefaultScheduleTime
	}
	parts := strings.SplitN(scheduleTime, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid schedule time %q, want HH:MM", scheduleTime)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return nil, fmt.Errorf("invalid schedule hour in %q", scheduleTime)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return nil, fmt.Errorf("invalid schedule minute in %q", scheduleTime)
	}

	return &Strategy{
		scheduleHour:   hour,
		scheduleMinute: minute,
		window:         DefaultScheduleWindow,
		liveMaxAge:     DefaultLiveMaxAge,
		now:            time.Now,
	}, nil
}

// ShouldRefresh reports whether a refresh is due. lastSuccess is zero when
// the key has never succeeded, which always makes it due.
func (s *Strategy) ShouldRefresh(mode domain.RefreshMode, dataType domain.DataType, lastSuccess time.Time) bool {
	now := s.now()
	if lastSuccess.IsZero() {
		return true
	}

	switch mode {
	case domain.ModeOnDemand:
		return true

	case domain.ModeScheduled:
		if now.Sub(lastSuccess) > scheduledStaleAfter {
			return true
		}
		return s.inScheduleWindow(now)

	case domain.ModePeriodic:
		return now.Sub(lastSuccess) > dataType.PeriodicInterval()

	case domain.ModeLive:
		return now.Sub(lastSuccess) > s.liveMaxAge
	}
	return false
}

// inScheduleWindow reports whether now falls inside the ± window around
// the daily schedule time, evaluated in exchange local time.
func (s *Strategy) inScheduleWindow(now time.Time) bool {
	local := now.In(marketcal.Location())
	anchor := time.Date(local.Year(), local.Month(), local.Day(),
		s.scheduleHour, s.scheduleMinute, 0, 0, marketcal.Location())

	diff := local.Sub(anchor)
	if diff < 0 {
		diff = -diff
	}
	return diff <= s.window
}
