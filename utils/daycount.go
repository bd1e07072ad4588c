package utils

import (
	"fmt"
	"time"
)

const (
	Act365F = "ACT/365F"
	Act360  = "ACT/360"
	Thirty  = "30/360"
)

// YearFraction computes the accrual fraction between start and end.
// Negative intervals return negative fractions.
func YearFraction(start, end time.Time, convention string) (float64, error) {
	days := end.Sub(start).Hours() / 24.0
	switch convention {
	case Act365F, "":
		return days / 365.0, nil
	case Act360:
		return days / 360.0, nil
	case Thirty:
		y1, m1, d1 := start.Date()
		y2, m2, d2 := end.Date()
		if d1 == 31 {
			d1 = 30
		}
		if d2 == 31 && d1 >= 30 {
			d2 = 30
		}
		n := 360*(y2-y1) + 30*(int(m2)-int(m1)) + (d2 - d1)
		return float64(n) / 360.0, nil
	}
	return 0, fmt.Errorf("unsupported day count %q", convention)
}
