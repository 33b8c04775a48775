package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvertedRange is returned when a range starts after it ends.
var ErrInvertedRange = errors.New("start date is after end date")

// DateRange is a closed interval of calendar dates [Start, End].
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds a range from two dates, truncating both to calendar days.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: DateOf(start), End: DateOf(end)}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// ParseDateRange parses two YYYY-MM-DD strings.
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := ParseDate(start)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDate(end)
	if err != nil {
		return DateRange{}, err
	}
	return NewDateRange(s, e)
}

// Validate checks that the range is non-empty.
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("date range bounds must be set")
	}
	if r.Start.After(r.End) {
		return fmt.Errorf("%w: %s > %s", ErrInvertedRange, r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

// Contains reports whether the date of t falls inside the range (inclusive).
// Bounds are compared as calendar dates, so a bound carrying a time of day
// still includes its own date.
func (r DateRange) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(DateOf(r.Start)) && !d.After(DateOf(r.End))
}

// Days returns the number of calendar days covered.
func (r DateRange) Days() int {
	return int(DateOf(r.End).Sub(DateOf(r.Start)).Hours()/24) + 1
}

func (r DateRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start.Format(DateLayout), r.End.Format(DateLayout))
}
