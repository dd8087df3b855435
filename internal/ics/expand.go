package ics

import (
	"errors"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	appLog "freebusy/internal/log"
	"freebusy/internal/model"
)

const defaultMaxOccurrencesPerEvent = 5000

// ExpandConfig controls recurrence expansion.
type ExpandConfig struct {
	// Location anchors all-day instances when checking the range and
	// sorting. Nil means UTC.
	Location *time.Location

	// Instances intersecting [RangeStart, RangeEnd) are kept.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps a single RRULE. Zero selects the default.
	MaxOccurrencesPerEvent int

	// SelfEmails holds lower-cased owner addresses for attendee matching.
	SelfEmails map[string]bool
}

// ExpandResult lists concrete events ordered by start.
type ExpandResult struct {
	Events []model.Event
	// TruncatedUIDs records UIDs that hit MaxOccurrencesPerEvent.
	TruncatedUIDs []string
}

// Expand turns parsed VEVENTs into the concrete instances intersecting the
// configured range. RRULE series honor EXDATE and RECURRENCE-ID overrides;
// overrides whose series is absent are treated as single events.
func Expand(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)
	seen := make(map[string]bool)
	var uids []string
	for _, ev := range events {
		if !seen[ev.UID] {
			seen[ev.UID] = true
			uids = append(uids, ev.UID)
		}
		if ev.IsOverride {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		} else {
			baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
		}
	}

	out := make([]model.Event, 0)
	for _, uid := range uids {
		bases := baseByUID[uid]
		overrides := overridesByUID[uid]

		if len(bases) == 0 {
			for _, ov := range overrides {
				out = appendIfInRange(out, ov, ov.Start, ov.End, cfg)
			}
			continue
		}

		truncated := false
		for _, ev := range bases {
			if ev.RawRRule == "" {
				out = expandSingle(out, ev, overrides, cfg)
				continue
			}
			var hitCap bool
			out, hitCap = expandRecurring(out, ev, overrides, cfg)
			truncated = truncated || hitCap
		}
		if truncated {
			result.TruncatedUIDs = append(result.TruncatedUIDs, uid)
			appLog.Warn("expand: occurrences truncated", "uid", uid, "cap", cfg.MaxOccurrencesPerEvent)
		}
	}

	slices.SortStableFunc(out, func(a, b model.Event) int {
		return startOf(a, cfg.Location).Compare(startOf(b, cfg.Location))
	})
	result.Events = out
	return result, nil
}

func expandSingle(out []model.Event, ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Event {
	if ov, ok := findOverride(overrides, ev.Start); ok {
		return appendIfInRange(out, ov, ov.Start, ov.End, cfg)
	}
	return appendIfInRange(out, ev, ev.Start, ev.End, cfg)
}

func expandRecurring(out []model.Event, ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Event, bool) {
	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	dur := ev.End.Sub(ev.Start)
	// Widen the lower bound so instances that started earlier but still
	// run into the range are found.
	from := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	to := cfg.RangeEnd.In(ev.Start.Location())

	starts := set.Between(from, to, true)
	hitCap := false
	if len(starts) > cfg.MaxOccurrencesPerEvent {
		starts = starts[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range starts {
		occEnd := occStart.Add(dur)
		if ev.AllDay {
			days := ev.EndDate.DaysSince(ev.StartDate)
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occEnd = occStart.AddDate(0, 0, days)
		}
		if ov, ok := findOverride(overrides, occStart); ok {
			out = appendIfInRange(out, ov, ov.Start, ov.End, cfg)
			continue
		}
		out = appendIfInRange(out, ev, occStart, occEnd, cfg)
	}
	return out, hitCap
}

// findOverride returns the override whose RECURRENCE-ID equals start.
func findOverride(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

func appendIfInRange(out []model.Event, ev ParsedEvent, start, end time.Time, cfg ExpandConfig) []model.Event {
	inst := ev.toModel(start, end, cfg.SelfEmails)
	s, e := startOf(inst, cfg.Location), endOf(inst, cfg.Location)
	if !s.Before(cfg.RangeEnd) {
		return out
	}
	// Point events at the range start still count as inside it.
	if !e.After(cfg.RangeStart) && !(s.Equal(e) && s.Equal(cfg.RangeStart)) {
		return out
	}
	return append(out, inst)
}

func startOf(ev model.Event, loc *time.Location) time.Time {
	switch t := ev.Timing.(type) {
	case model.AllDay:
		return t.Start.In(loc)
	case model.Timed:
		return t.Start
	}
	return time.Time{}
}

func endOf(ev model.Event, loc *time.Location) time.Time {
	switch t := ev.Timing.(type) {
	case model.AllDay:
		return t.End.In(loc)
	case model.Timed:
		return t.End
	}
	return time.Time{}
}
