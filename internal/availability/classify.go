package availability

import (
	"time"

	"cloud.google.com/go/civil"

	"freebusy/internal/model"
)

// Participates reports whether ev can block a slot at all. Only confirmed
// events count, and an invitation the owner declined never does.
func Participates(ev model.Event) bool {
	if ev.Status != model.StatusConfirmed {
		return false
	}
	if self, ok := ev.SelfAttendee(); ok && self.ResponseStatus == model.ResponseDeclined {
		return false
	}
	return true
}

// Classify tags slot as free or busy against events, tested in the given
// order. The first participating event that occupies the slot is recorded
// as the cause; later overlaps are not considered.
//
// An all-day event occupies every slot whose start falls on its start date
// in loc. A timed event occupies the slot when the two half-open intervals
// share at least one instant, so touching boundaries do not count.
func Classify(slot model.Slot, loc *time.Location, events []model.Event) model.SlotResult {
	res := model.SlotResult{Slot: slot}
	slotDay := civil.DateOf(slot.Start.In(loc))

	for _, ev := range events {
		if !Participates(ev) {
			continue
		}
		if occupies(ev.Timing, slot, slotDay) {
			res.Busy = true
			res.Cause = ev.Title()
			res.EventID = ev.ID
			return res
		}
	}
	return res
}

func occupies(t model.Timing, slot model.Slot, slotDay civil.Date) bool {
	switch t := t.(type) {
	case model.AllDay:
		return t.Start == slotDay
	case model.Timed:
		return overlaps(slot.Start, slot.End, t.Start, t.End)
	default:
		// Malformed events are filtered before classification; anything
		// reaching here without a timing never blocks.
		return false
	}
}

// overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	lo := aStart
	if bStart.After(lo) {
		lo = bStart
	}
	hi := aEnd
	if bEnd.Before(hi) {
		hi = bEnd
	}
	return lo.Before(hi)
}
