package utils

import (
	"errors"
	"fmt"
	"time"
)

const Layout = "2006-01-02"

// Holidays observed by the default schedule calendar.
var NYSE = []string{"2022-01-17", "2022-02-21", "2022-04-15", "2022-05-30", "2022-06-20", "2022-07-04", "2022-09-05", "2022-11-24", "2022-12-26", "2023-01-02", "2023-01-16", "2023-02-20", "2023-04-07", "2023-05-29", "2023-06-19", "2023-07-04", "2023-09-04", "2023-11-23", "2023-12-25", "2024-01-01", "2024-01-15", "2024-02-19", "2024-03-29", "2024-05-27", "2024-06-19", "2024-07-04", "2024-09-02", "2024-11-28", "2024-12-25"}

// Convert holidays from string to time.Time format
func Hols(s []string) ([]time.Time, error) {
	h := make([]time.Time, len(s))
	for i, v := range s {
		d, err := time.Parse(Layout, v)
		if err != nil {
			return nil, err
		}
		h[i] = d
	}
	return h, nil
}

func IsHol(d time.Time, hols []time.Time) bool {
	for _, v := range hols {
		if d.Equal(v) {
			return true
		}
	}
	return false
}

func IsWeekday(d time.Time) bool {
	return d.Weekday() > 0 && d.Weekday() < 6
}

func AdjustFollowing(d time.Time, hols []time.Time) time.Time {
	for IsHol(d, hols) || !IsWeekday(d) {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

// Unit of a Period.
type Unit int

const (
	Days Unit = iota
	Weeks
	Months
	Years
)

// Period is a calendar length such as 3M or 5Y.
type Period struct {
	Length int
	Unit   Unit
}

// ParsePeriod reads strings such as "3M", "5Y", "2W", "10D".
func ParsePeriod(s string) (Period, error) {
	var n int
	var u byte
	if _, err := fmt.Sscanf(s, "%d%c", &n, &u); err != nil {
		return Period{}, fmt.Errorf("bad period %q: %w", s, err)
	}
	switch u {
	case 'D', 'd':
		return Period{n, Days}, nil
	case 'W', 'w':
		return Period{n, Weeks}, nil
	case 'M', 'm':
		return Period{n, Months}, nil
	case 'Y', 'y':
		return Period{n, Years}, nil
	}
	return Period{}, fmt.Errorf("bad period unit in %q", s)
}

// Advance moves d forward by k periods without business-day adjustment.
func (p Period) Advance(d time.Time, k int) time.Time {
	n := p.Length * k
	switch p.Unit {
	case Days:
		return d.AddDate(0, 0, n)
	case Weeks:
		return d.AddDate(0, 0, 7*n)
	case Months:
		return d.AddDate(0, n, 0)
	default:
		return d.AddDate(n, 0, 0)
	}
}

func (p Period) String() string {
	return fmt.Sprintf("%d%c", p.Length, "DWMY"[p.Unit])
}

// Return the coupon schedule from (and including) start to (and including) maturity.
// Dates are generated forward in steps of tenor and adjusted to the following business day;
// the first date is left unadjusted and the last date is the adjusted maturity.
func GenerateSchedule(start, maturity time.Time, tenor Period, hols []time.Time) ([]time.Time, error) {
	if !maturity.After(start) {
		return nil, errors.New("maturity must be later than start date")
	}
	if tenor.Length <= 0 {
		return nil, errors.New("schedule tenor must be positive")
	}
	out := []time.Time{start}
	for i := 1; ; i++ {
		d := tenor.Advance(start, i)
		if !d.Before(maturity) {
			break
		}
		out = append(out, AdjustFollowing(d, hols))
	}
	return append(out, AdjustFollowing(maturity, hols)), nil
}

// Return a uniform date grid from start to end with the given step, always ending on end.
func DateGrid(start, end time.Time, step Period) []time.Time {
	out := []time.Time{start}
	for i := 1; ; i++ {
		d := step.Advance(start, i)
		if !d.Before(end) {
			break
		}
		out = append(out, d)
	}
	return append(out, end)
}
