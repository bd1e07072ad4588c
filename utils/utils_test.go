package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerateSchedule(t *testing.T) {
	start, _ := time.Parse(Layout, "2023-01-17")
	hols, err := Hols(NYSE)
	require.NoError(t, err)

	type testCases struct {
		name     string
		maturity time.Time
		tenor    Period
		n        int
	}

	for _, test := range []testCases{
		{name: "QUARTERLY_1Y", maturity: start.AddDate(1, 0, 0), tenor: Period{3, Months}, n: 5},
		{name: "QUARTERLY_5Y", maturity: start.AddDate(5, 0, 0), tenor: Period{3, Months}, n: 21},
		{name: "ANNUAL_STUB", maturity: start.AddDate(1, 6, 0), tenor: Period{1, Years}, n: 3},
	} {
		t.Run(test.name, func(t *testing.T) {
			dates, err := GenerateSchedule(start, test.maturity, test.tenor, hols)
			require.NoError(t, err)
			require.Len(t, dates, test.n)
			require.True(t, dates[0].Equal(start))
			for i := 1; i < len(dates); i++ {
				require.True(t, dates[i].After(dates[i-1]))
				require.True(t, IsWeekday(dates[i]))
				require.False(t, IsHol(dates[i], hols))
			}
		})
	}

	_, err = GenerateSchedule(start, start, Period{3, Months}, hols)
	require.Error(t, err)
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("5Y")
	require.NoError(t, err)
	require.Equal(t, Period{5, Years}, p)
	require.Equal(t, "5Y", p.String())

	p, err = ParsePeriod("3m")
	require.NoError(t, err)
	require.Equal(t, Period{3, Months}, p)

	_, err = ParsePeriod("3Q")
	require.Error(t, err)
}

func TestYearFraction(t *testing.T) {
	start, _ := time.Parse(Layout, "2023-01-31")
	end, _ := time.Parse(Layout, "2024-01-31")

	yf, err := YearFraction(start, end, Act365F)
	require.NoError(t, err)
	require.InDelta(t, 1.0, yf, 1e-12)

	yf, err = YearFraction(start, end, Act360)
	require.NoError(t, err)
	require.InDelta(t, 365.0/360.0, yf, 1e-12)

	yf, err = YearFraction(start, end, Thirty)
	require.NoError(t, err)
	require.InDelta(t, 1.0, yf, 1e-12)

	_, err = YearFraction(start, end, "BUS/252")
	require.Error(t, err)
}

func TestDateGrid(t *testing.T) {
	start, _ := time.Parse(Layout, "2023-01-17")
	end := start.AddDate(1, 1, 0)
	grid := DateGrid(start, end, Period{3, Months})
	require.Len(t, grid, 6)
	require.True(t, grid[len(grid)-1].Equal(end))
}
