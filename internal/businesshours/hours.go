// Package businesshours maps points in time onto a weekly send window.
package businesshours

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoBusinessHoursConfigured is returned when a calendar has no enabled day.
	ErrNoBusinessHoursConfigured = errors.New("businesshours: no business hours configured")

	// ErrInvalidHours is returned for an unknown timezone or an enabled day with an unparseable or empty window.
	ErrInvalidHours = errors.New("businesshours: invalid day hours")
)

// DayHours is the send window for a single weekday, in "15:04" local clock form.
type DayHours struct {
	Enabled bool   `json:"enabled"`
	Open    string `json:"open"`
	Close   string `json:"close"`
}

// WeeklyHours is a per-weekday calendar anchored in a timezone.
type WeeklyHours struct {
	Timezone  string   `json:"timezone"`
	Sunday    DayHours `json:"sunday"`
	Monday    DayHours `json:"monday"`
	Tuesday   DayHours `json:"tuesday"`
	Wednesday DayHours `json:"wednesday"`
	Thursday  DayHours `json:"thursday"`
	Friday    DayHours `json:"friday"`
	Saturday  DayHours `json:"saturday"`
}

var dayAbbrev = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// Weekly builds a calendar with the same window on each listed day ("mon", "tue", ...).
func Weekly(tz, open, close string, days ...string) (WeeklyHours, error) {
	cal := WeeklyHours{Timezone: tz}
	for _, d := range days {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := dayAbbrev[key]
		if !ok {
			return WeeklyHours{}, fmt.Errorf("businesshours: unknown weekday %q", d)
		}
		cal.Set(wd, DayHours{Enabled: true, Open: open, Close: close})
	}
	if err := cal.Validate(); err != nil {
		return WeeklyHours{}, err
	}
	return cal, nil
}

// ForDay returns the hours configured for a weekday.
func (w WeeklyHours) ForDay(weekday time.Weekday) DayHours {
	switch weekday {
	case time.Sunday:
		return w.Sunday
	case time.Monday:
		return w.Monday
	case time.Tuesday:
		return w.Tuesday
	case time.Wednesday:
		return w.Wednesday
	case time.Thursday:
		return w.Thursday
	case time.Friday:
		return w.Friday
	case time.Saturday:
		return w.Saturday
	default:
		return DayHours{}
	}
}

// Set replaces the hours for a weekday.
func (w *WeeklyHours) Set(weekday time.Weekday, hours DayHours) {
	switch weekday {
	case time.Sunday:
		w.Sunday = hours
	case time.Monday:
		w.Monday = hours
	case time.Tuesday:
		w.Tuesday = hours
	case time.Wednesday:
		w.Wednesday = hours
	case time.Thursday:
		w.Thursday = hours
	case time.Friday:
		w.Friday = hours
	case time.Saturday:
		w.Saturday = hours
	}
}

// HasEnabledDay reports whether at least one weekday is enabled.
func (w WeeklyHours) HasEnabledDay() bool {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.ForDay(d).Enabled {
			return true
		}
	}
	return false
}

// Location resolves the calendar timezone; empty means UTC.
func (w WeeklyHours) Location() (*time.Location, error) {
	if strings.TrimSpace(w.Timezone) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidHours, w.Timezone, err)
	}
	return loc, nil
}

// Validate checks the timezone and every enabled day's window.
func (w WeeklyHours) Validate() error {
	if _, err := w.Location(); err != nil {
		return err
	}
	if !w.HasEnabledDay() {
		return ErrNoBusinessHoursConfigured
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		h := w.ForDay(d)
		if !h.Enabled {
			continue
		}
		if _, _, err := h.minutes(); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidHours, d, err)
		}
	}
	return nil
}

func (h DayHours) minutes() (int, int, error) {
	open, err := parseClock(h.Open)
	if err != nil {
		return 0, 0, fmt.Errorf("open: %w", err)
	}
	closeMin, err := parseClock(h.Close)
	if err != nil {
		return 0, 0, fmt.Errorf("close: %w", err)
	}
	if closeMin <= open {
		return 0, 0, fmt.Errorf("close %s not after open %s", h.Close, h.Open)
	}
	return open, closeMin, nil
}

func parseClock(v string) (int, error) {
	if v == "" {
		return 0, errors.New("empty clock")
	}
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// window returns the open and close instants for the calendar day containing day.
func (h DayHours) window(day time.Time, loc *time.Location) (time.Time, time.Time, error) {
	openMin, closeMin, err := h.minutes()
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidHours, day.Weekday(), err)
	}
	y, m, d := day.Date()
	open := time.Date(y, m, d, openMin/60, openMin%60, 0, 0, loc)
	closeAt := time.Date(y, m, d, closeMin/60, closeMin%60, 0, 0, loc)
	return open, closeAt, nil
}

// NextBusinessMoment returns the earliest instant at or after from that falls inside
// the calendar's send window. A from already inside the window is returned unchanged.
// The search covers today plus the following seven days.
func NextBusinessMoment(from time.Time, cal WeeklyHours) (time.Time, error) {
	if !cal.HasEnabledDay() {
		return time.Time{}, ErrNoBusinessHoursConfigured
	}
	loc, err := cal.Location()
	if err != nil {
		return time.Time{}, err
	}
	local := from.In(loc)
	y, m, d := local.Date()

	for i := 0; i < 8; i++ {
		day := time.Date(y, m, d+i, 0, 0, 0, 0, loc)
		hours := cal.ForDay(day.Weekday())
		if !hours.Enabled {
			continue
		}
		open, closeAt, err := hours.window(day, loc)
		if err != nil {
			return time.Time{}, err
		}
		if i == 0 {
			if local.Before(open) {
				return open, nil
			}
			if local.Before(closeAt) {
				return from, nil
			}
			continue
		}
		return open, nil
	}
	return time.Time{}, ErrNoBusinessHoursConfigured
}

// IsOpen reports whether t falls inside the calendar's send window.
func IsOpen(t time.Time, cal WeeklyHours) bool {
	next, err := NextBusinessMoment(t, cal)
	return err == nil && next.Equal(t)
}
