package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	ical "github.com/arran4/golang-ical"

	appLog "freebusy/internal/log"
	"freebusy/internal/model"
)

// ParsedCalendar is the content of one feed.
type ParsedCalendar struct {
	Feed Feed
	// Timezone is the feed's X-WR-TIMEZONE, if any.
	Timezone string
	Events   []ParsedEvent
}

// ParsedAttendee is an ATTENDEE property with its PARTSTAT.
type ParsedAttendee struct {
	Email    string
	PartStat string
}

// ParsedEvent is the normalized representation of a VEVENT before
// recurrence expansion.
type ParsedEvent struct {
	Feed Feed

	UID string
	Seq int

	Summary   string
	Status    model.Status
	Attendees []ParsedAttendee

	// Timed events use Start/End; all-day events use StartDate/EndDate
	// (EndDate exclusive) and keep Start at midnight of StartDate in the
	// event's zone for RRULE anchoring.
	AllDay    bool
	Start     time.Time
	End       time.Time
	StartDate civil.Date
	EndDate   civil.Date

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID, if present
	IsOverride bool       // true if this VEVENT overrides one recurring instance
}

// ParseICS parses a single ICS payload. VEVENTs that cannot be read are
// logged and skipped; the rest of the feed is still returned.
func ParseICS(feed Feed, body []byte) (ParsedCalendar, error) {
	out := ParsedCalendar{Feed: feed}
	if len(body) == 0 {
		return out, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", feed.ID, "url", redactURL(feed.URL))
		return out, fmt.Errorf("ics: parse %s: %w", feed.ID, err)
	}

	for _, p := range cal.CalendarProperties {
		if strings.EqualFold(p.IANAToken, "X-WR-TIMEZONE") {
			out.Timezone = strings.TrimSpace(p.Value)
		}
	}

	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(feed, comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "id", feed.ID, "url", redactURL(feed.URL), "err", perr)
			continue
		}
		out.Events = append(out.Events, ev)
	}

	appLog.Info("ics parse completed", "id", feed.ID, "url", redactURL(feed.URL), "event_count", len(out.Events), "timezone", out.Timezone)
	return out, nil
}

func parseVEvent(feed Feed, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Feed: feed}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if seqProp := ve.GetProperty(ical.ComponentPropertySequence); seqProp != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(seqProp.Value)); err == nil {
			out.Seq = n
		}
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	out.Status = model.StatusConfirmed
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Status = mapStatus(p.Value)
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyAttendee) {
		a := ParsedAttendee{Email: stripMailto(p.Value)}
		if vs, ok := p.ICalParameters["PARTSTAT"]; ok && len(vs) > 0 {
			a.PartStat = strings.ToUpper(vs[0])
		}
		out.Attendees = append(out.Attendees, a)
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	if out.AllDay {
		sd, err := parseDateValue(dtStart.Value)
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.StartDate = sd
		out.EndDate = sd.AddDays(1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if !isDateValue(dtEnd) {
				return out, errors.New("DTSTART is a date but DTEND is a date-time")
			}
			ed, err := parseDateValue(dtEnd.Value)
			if err != nil {
				return out, fmt.Errorf("DTEND: %w", err)
			}
			if ed.After(sd) {
				out.EndDate = ed
			}
		} else if p := ve.GetProperty(ical.ComponentPropertyDuration); p != nil {
			d, err := parseICSDuration(p.Value)
			if err != nil {
				return out, fmt.Errorf("DURATION: %w", err)
			}
			if days := int(d / (24 * time.Hour)); days > 1 {
				out.EndDate = sd.AddDays(days)
			}
		}
		loc := paramLocation(dtStart, time.UTC)
		out.Start = sd.In(loc)
		out.End = out.EndDate.In(loc)
	} else {
		start, err := ve.GetStartAt()
		if err != nil {
			return out, fmt.Errorf("DTSTART: %w", err)
		}
		out.Start = start
		dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd)
		switch {
		case dtEnd != nil:
			if isDateValue(dtEnd) {
				return out, errors.New("DTSTART is a date-time but DTEND is a date")
			}
			end, err := ve.GetEndAt()
			if err != nil {
				return out, fmt.Errorf("DTEND: %w", err)
			}
			out.End = end
		case ve.GetProperty(ical.ComponentPropertyDuration) != nil:
			d, err := parseICSDuration(ve.GetProperty(ical.ComponentPropertyDuration).Value)
			if err != nil {
				return out, fmt.Errorf("DURATION: %w", err)
			}
			out.End = start.Add(d)
		default:
			// Neither DTEND nor DURATION: a point in time.
			out.End = start
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := paramLocation(p, out.Start.Location())
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty(ical.ComponentProperty("RECURRENCE-ID")); p != nil {
		if t, err := parseICSTime(p.Value, paramLocation(p, out.Start.Location())); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// toModel converts one concrete instance into a model.Event. selfEmails
// holds lower-cased owner addresses.
func (ev ParsedEvent) toModel(start, end time.Time, selfEmails map[string]bool) model.Event {
	out := model.Event{
		ID:      ev.UID,
		Summary: ev.Summary,
		Status:  ev.Status,
	}
	if ev.RawRRule != "" || ev.IsOverride {
		out.ID = ev.UID + "@" + start.UTC().Format("20060102T150405Z")
	}
	for _, a := range ev.Attendees {
		out.Attendees = append(out.Attendees, model.Attendee{
			Email:          a.Email,
			Self:           selfEmails[strings.ToLower(a.Email)],
			ResponseStatus: mapPartStat(a.PartStat),
		})
	}
	if ev.AllDay {
		days := ev.EndDate.DaysSince(ev.StartDate)
		if days < 1 {
			days = 1
		}
		sd := civil.DateOf(start)
		out.Timing = model.AllDay{Start: sd, End: sd.AddDays(days)}
	} else {
		out.Timing = model.Timed{Start: start, End: end}
	}
	return out
}

func mapStatus(v string) model.Status {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "CONFIRMED", "":
		return model.StatusConfirmed
	case "TENTATIVE":
		return model.StatusTentative
	case "CANCELLED":
		return model.StatusCancelled
	default:
		return model.Status(strings.ToLower(v))
	}
}

func mapPartStat(v string) model.ResponseStatus {
	switch v {
	case "ACCEPTED":
		return model.ResponseAccepted
	case "DECLINED":
		return model.ResponseDeclined
	case "TENTATIVE":
		return model.ResponseTentative
	default:
		return model.ResponseNeedsAction
	}
}

func stripMailto(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}

// isDateValue reports VALUE=DATE or a bare YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseDateValue(v string) (civil.Date, error) {
	v = strings.TrimSpace(v)
	if len(v) < 8 {
		return civil.Date{}, fmt.Errorf("invalid date %q", v)
	}
	t, err := time.Parse("20060102", v[:8])
	if err != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}

// paramLocation returns the zone named by the property's TZID, or def.
func paramLocation(p *ical.IANAProperty, def *time.Location) *time.Location {
	if def == nil {
		def = time.UTC
	}
	vs, ok := p.ICalParameters["TZID"]
	if !ok || len(vs) == 0 {
		return def
	}
	loc, err := time.LoadLocation(vs[0])
	if err != nil {
		return def
	}
	return loc
}

// parseICSTime parses DATE, floating DATE-TIME (interpreted in loc) and
// UTC DATE-TIME values as used by EXDATE and RECURRENCE-ID.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}

// parseICSDuration parses an RFC 5545 DURATION value such as PT1H30M, P1D,
// P1DT2H or P2W. A leading sign is accepted; negative results are rejected
// since they cannot end an event.
func parseICSDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}
	if !strings.HasPrefix(s, "P") || len(s) < 3 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		num = ""

		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		total += time.Duration(n) * unit
	}
	if num != "" {
		return 0, fmt.Errorf("invalid duration %q: trailing number", v)
	}
	if neg && total > 0 {
		return 0, fmt.Errorf("negative duration %q", v)
	}
	return total, nil
}
