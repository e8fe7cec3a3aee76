package core

import (
	"fmt"
	"time"
)

// Recurrence computes the occurrences of a schedule. Next always returns a
// date strictly after ref.
type Recurrence interface {
	Frequency() Frequency
	Next(ref Date) Date
}

// Daily recurs every day.
type Daily struct{}

func (Daily) Frequency() Frequency { return FrequencyDaily }

func (Daily) Next(ref Date) Date { return ref.AddDays(1) }

// Weekly recurs on a fixed weekday.
type Weekly struct {
	DayOfWeek time.Weekday
}

func (Weekly) Frequency() Frequency { return FrequencyWeekly }

func (w Weekly) Next(ref Date) Date {
	diff := (int(w.DayOfWeek) - int(ref.Weekday()) + 7) % 7
	if diff == 0 {
		diff = 7
	}
	return ref.AddDays(diff)
}

// Monthly recurs on a day of the month, clamped to the month length.
type Monthly struct {
	DayOfMonth int
}

func (Monthly) Frequency() Frequency { return FrequencyMonthly }

func (m Monthly) Next(ref Date) Date { return stepMonths(ref, m.DayOfMonth, 1) }

// Quarterly recurs every three months on a day of the month.
type Quarterly struct {
	DayOfMonth int
}

func (Quarterly) Frequency() Frequency { return FrequencyQuarterly }

func (q Quarterly) Next(ref Date) Date { return stepMonths(ref, q.DayOfMonth, 3) }

// Yearly recurs once a year on a month and day, clamped to the month length.
type Yearly struct {
	Month      time.Month
	DayOfMonth int
}

func (Yearly) Frequency() Frequency { return FrequencyYearly }

func (y Yearly) Next(ref Date) Date {
	candidate := clampedDate(ref.Year(), y.Month, y.DayOfMonth)
	if candidate.After(ref) {
		return candidate
	}
	return clampedDate(ref.Year()+1, y.Month, y.DayOfMonth)
}

// stepMonths returns the anchor day in ref's month if it is still ahead,
// otherwise the anchor day step months later.
func stepMonths(ref Date, day, step int) Date {
	candidate := clampedDate(ref.Year(), ref.Month(), day)
	if candidate.After(ref) {
		return candidate
	}
	year, month := addMonths(ref.Year(), ref.Month(), step)
	return clampedDate(year, month, day)
}

func addMonths(year int, month time.Month, n int) (int, time.Month) {
	total := int(month) - 1 + n
	return year + total/12, time.Month(total%12 + 1)
}

// DaysIn returns the number of days of month in year.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampedDate(year int, month time.Month, day int) Date {
	if last := DaysIn(year, month); day > last {
		day = last
	}
	return NewDate(year, month, day)
}

// FirstOnOrAfter returns the first occurrence of r on or after d.
func FirstOnOrAfter(r Recurrence, d Date) Date {
	return r.Next(d.AddDays(-1))
}

type recurrenceBuilder func(a Anchor) (Recurrence, error)

var recurrenceBuilders = map[Frequency]recurrenceBuilder{
	FrequencyDaily: func(Anchor) (Recurrence, error) {
		return Daily{}, nil
	},
	FrequencyWeekly: func(a Anchor) (Recurrence, error) {
		if a.DayOfWeek == nil {
			return nil, fmt.Errorf("%w: weekly schedules need dayOfWeek", ErrMissingAnchor)
		}
		if *a.DayOfWeek < 0 || *a.DayOfWeek > 6 {
			return nil, fmt.Errorf("%w: dayOfWeek %d not in 0..6", ErrInvalidAnchor, *a.DayOfWeek)
		}
		return Weekly{DayOfWeek: time.Weekday(*a.DayOfWeek)}, nil
	},
	FrequencyMonthly: func(a Anchor) (Recurrence, error) {
		day, err := dayOfMonth(a, FrequencyMonthly)
		if err != nil {
			return nil, err
		}
		return Monthly{DayOfMonth: day}, nil
	},
	FrequencyQuarterly: func(a Anchor) (Recurrence, error) {
		day, err := dayOfMonth(a, FrequencyQuarterly)
		if err != nil {
			return nil, err
		}
		return Quarterly{DayOfMonth: day}, nil
	},
	FrequencyYearly: func(a Anchor) (Recurrence, error) {
		day, err := dayOfMonth(a, FrequencyYearly)
		if err != nil {
			return nil, err
		}
		if a.MonthOfYear == nil {
			return nil, fmt.Errorf("%w: yearly schedules need a month", ErrMissingAnchor)
		}
		if *a.MonthOfYear < 1 || *a.MonthOfYear > 12 {
			return nil, fmt.Errorf("%w: month %d not in 1..12", ErrInvalidAnchor, *a.MonthOfYear)
		}
		return Yearly{Month: time.Month(*a.MonthOfYear), DayOfMonth: day}, nil
	},
}

func dayOfMonth(a Anchor, f Frequency) (int, error) {
	if a.DayOfMonth == nil {
		return 0, fmt.Errorf("%w: %s schedules need dayOfMonth", ErrMissingAnchor, f)
	}
	if *a.DayOfMonth < 1 || *a.DayOfMonth > 31 {
		return 0, fmt.Errorf("%w: dayOfMonth %d not in 1..31", ErrInvalidAnchor, *a.DayOfMonth)
	}
	return *a.DayOfMonth, nil
}

// NewRecurrence validates the anchor for f and builds the matching rule.
func NewRecurrence(f Frequency, a Anchor) (Recurrence, error) {
	build, ok := recurrenceBuilders[f]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFrequency, f)
	}
	return build(a)
}

// NextOccurrence returns the first occurrence strictly after ref. A yearly
// anchor without a month falls in the month of ref.
func NextOccurrence(f Frequency, a Anchor, ref Date) (Date, error) {
	if f == FrequencyYearly && a.MonthOfYear == nil {
		m := int(ref.Month())
		a.MonthOfYear = &m
	}
	r, err := NewRecurrence(f, a)
	if err != nil {
		return Date{}, err
	}
	return r.Next(ref), nil
}

// Normalize drops the anchor fields that f does not use.
func (a Anchor) Normalize(f Frequency) Anchor {
	switch f {
	case FrequencyWeekly:
		return Anchor{DayOfWeek: cloneInt(a.DayOfWeek)}
	case FrequencyMonthly, FrequencyQuarterly:
		return Anchor{DayOfMonth: cloneInt(a.DayOfMonth)}
	case FrequencyYearly:
		return Anchor{DayOfMonth: cloneInt(a.DayOfMonth), MonthOfYear: cloneInt(a.MonthOfYear)}
	}
	return Anchor{}
}
