package availability

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"

	appLog "freebusy/internal/log"
	"freebusy/internal/model"
)

// maxParallelDays bounds concurrent per-day work.
const maxParallelDays = 8

// EventSource supplies the calendar data the scheduler classifies against.
// Implementations own authentication, network access and retries.
type EventSource interface {
	// ResolveTimezone returns the IANA zone name of the calendar.
	ResolveTimezone(ctx context.Context, calendarID string) (string, error)
	// FetchEvents returns the concrete events intersecting [timeMin, timeMax),
	// ordered by start time.
	FetchEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.Event, error)
}

// Report is the outcome of one scheduler run.
type Report struct {
	Timezone  string
	Location  *time.Location
	Reference civil.Date
	Params    Params
	Days      []model.DayResult
}

// Compute classifies Days consecutive days starting at ref. buckets[i] holds
// the events of day ref+i; a missing bucket means no events. Days are
// computed concurrently and returned in day order.
func Compute(p Params, loc *time.Location, ref civil.Date, buckets [][]model.Event) ([]model.DayResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}

	results := make([]model.DayResult, p.Days)

	var g errgroup.Group
	g.SetLimit(maxParallelDays)
	for offset := range p.Days {
		var events []model.Event
		if offset < len(buckets) {
			events = buckets[offset]
		}
		g.Go(func() error {
			day, err := dayFunc(p, loc, ref.AddDays(offset), events)
			if err != nil {
				return err
			}
			results[offset] = day
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// dayFunc classifies one day; tests replace it.
var dayFunc = computeDay

func computeDay(p Params, loc *time.Location, date civil.Date, events []model.Event) (model.DayResult, error) {
	start, end := DayWindow(date, loc, p.StartHour, p.EndHour)
	if end.Before(start) {
		return model.DayResult{}, fmt.Errorf("availability: window for %s ends before it starts", date)
	}
	day := model.DayResult{
		Date:        date,
		WindowStart: start,
		WindowEnd:   end,
	}

	usable := make([]model.Event, 0, len(events))
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			appLog.Warn("ignoring malformed event", "date", date.String(), "id", ev.ID, "err", err)
			day.Ignored = append(day.Ignored, model.IgnoredEvent{ID: ev.ID, Summary: ev.Summary, Reason: err.Error()})
			continue
		}
		usable = append(usable, ev)
	}

	for slot := range Slots(start, end, p.SlotDuration) {
		day.Slots = append(day.Slots, Classify(slot, loc, usable))
	}
	return day, nil
}

// Scheduler runs the full pipeline against an EventSource.
type Scheduler struct {
	Source     EventSource
	CalendarID string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Run validates p, resolves the calendar timezone, fetches every day's
// events concurrently and classifies them. The first fetch error cancels
// the remaining fetches and is returned.
func (s *Scheduler) Run(ctx context.Context, p Params) (Report, error) {
	if err := p.Validate(); err != nil {
		return Report{}, err
	}
	if s.Source == nil {
		return Report{}, fmt.Errorf("scheduler: no event source configured")
	}

	tzName, err := s.Source.ResolveTimezone(ctx, s.CalendarID)
	if err != nil {
		return Report{}, fmt.Errorf("scheduler: resolve timezone: %w", err)
	}
	loc, tzName := LoadLocation(tzName)

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ref := civil.DateOf(now().In(loc))

	appLog.Info("checking availability",
		"days", p.Days,
		"start_hour", p.StartHour,
		"end_hour", p.EndHour,
		"slot", p.SlotDuration.String(),
		"timezone", tzName,
		"from", ref.String(),
	)

	buckets := make([][]model.Event, p.Days)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDays)
	for offset := range p.Days {
		date := ref.AddDays(offset)
		g.Go(func() error {
			timeMin, timeMax := DayWindow(date, loc, p.StartHour, p.EndHour)
			events, err := s.Source.FetchEvents(gctx, s.CalendarID, timeMin, timeMax)
			if err != nil {
				return fmt.Errorf("scheduler: fetch events for %s: %w", date, err)
			}
			appLog.Debug("fetched events", "date", date.String(), "count", len(events))
			for _, ev := range events {
				appLog.Debug("event",
					"date", date.String(),
					"summary", ev.Title(),
					"status", string(ev.Status),
					"timing", describeTiming(ev.Timing),
				)
			}
			buckets[offset] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	days, err := Compute(p, loc, ref, buckets)
	if err != nil {
		return Report{}, err
	}

	return Report{
		Timezone:  tzName,
		Location:  loc,
		Reference: ref,
		Params:    p,
		Days:      days,
	}, nil
}

// LoadLocation resolves an IANA zone name, falling back to UTC when the
// name is empty or unknown. The returned name matches the location used.
func LoadLocation(name string) (*time.Location, string) {
	if name == "" {
		return time.UTC, "UTC"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", name)
		return time.UTC, "UTC"
	}
	return loc, name
}

func describeTiming(t model.Timing) string {
	switch t := t.(type) {
	case model.AllDay:
		return "all-day " + t.Start.String() + ".." + t.End.String()
	case model.Timed:
		return t.Start.Format(time.RFC3339) + ".." + t.End.Format(time.RFC3339)
	default:
		return "unknown"
	}
}
