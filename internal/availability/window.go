package availability

import (
	"iter"
	"time"

	"cloud.google.com/go/civil"

	"freebusy/internal/model"
)

// DayWindow returns the working window of a calendar date, interpreting
// startHour:00:00 and endHour:00:00 as wall-clock times in loc.
// Hours are not validated here; see Params.Validate.
func DayWindow(date civil.Date, loc *time.Location, startHour, endHour int) (time.Time, time.Time) {
	start := time.Date(date.Year, date.Month, date.Day, startHour, 0, 0, 0, loc)
	end := time.Date(date.Year, date.Month, date.Day, endHour, 0, 0, 0, loc)
	return start, end
}

// Slots yields consecutive [t, t+d) intervals beginning at start for as
// long as t < end. The final slot's end may fall after end when d does not
// divide the window evenly. Each iteration starts over from start.
func Slots(start, end time.Time, d time.Duration) iter.Seq[model.Slot] {
	return func(yield func(model.Slot) bool) {
		if d <= 0 {
			return
		}
		for t := start; t.Before(end); t = t.Add(d) {
			if !yield(model.Slot{Start: t, End: t.Add(d)}) {
				return
			}
		}
	}
}
