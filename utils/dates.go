// utils/dates.go
package utils

import (
	"math"
	"time"
)

func BeginningOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func DaysBetween(start, end time.Time) int {
	start = BeginningOfDay(start)
	end = BeginningOfDay(end)
	return int(math.Round(end.Sub(start).Hours() / 24))
}

// DayKey formats a date as YYYY-MM-DD in its own location
func DayKey(t time.Time) string {
	return t.Format("2006-01-02")
}
