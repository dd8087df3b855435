package ics

import (
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"freebusy/internal/availability"
	"freebusy/internal/model"
)

var sampleLines = []string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//freebusy//test//EN",
	"X-WR-TIMEZONE:Europe/Berlin",
	"BEGIN:VEVENT",
	"UID:standup",
	"SUMMARY:Standup",
	"DTSTART;TZID=Europe/Berlin:20260302T100000",
	"DTEND;TZID=Europe/Berlin:20260302T103000",
	"RRULE:FREQ=DAILY;COUNT=5",
	"EXDATE;TZID=Europe/Berlin:20260304T100000",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:standup",
	"RECURRENCE-ID;TZID=Europe/Berlin:20260303T100000",
	"SUMMARY:Standup (moved)",
	"DTSTART;TZID=Europe/Berlin:20260303T140000",
	"DTEND;TZID=Europe/Berlin:20260303T143000",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:offsite",
	"SUMMARY:Offsite",
	"DTSTART;VALUE=DATE:20260305",
	"DTEND;VALUE=DATE:20260307",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:party",
	"SUMMARY:Party",
	"STATUS:TENTATIVE",
	"DTSTART:20260302T160000Z",
	"DTEND:20260302T170000Z",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:review",
	"SUMMARY:Review",
	"DTSTART:20260302T120000Z",
	"DTEND:20260302T130000Z",
	"ATTENDEE;PARTSTAT=DECLINED:mailto:Me@Example.com",
	"ATTENDEE;PARTSTAT=ACCEPTED:mailto:boss@example.com",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:broken",
	"SUMMARY:No start",
	"END:VEVENT",
	"END:VCALENDAR",
}

func sampleICS() []byte {
	return []byte(strings.Join(sampleLines, "\r\n") + "\r\n")
}

func berlin(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("Europe/Berlin unavailable: %v", err)
	}
	return loc
}

func TestParseICS(t *testing.T) {
	cal, err := ParseICS(Feed{ID: "work", URL: "https://example.com/secret.ics"}, sampleICS())
	if err != nil {
		t.Fatalf("ParseICS failed: %v", err)
	}
	if cal.Timezone != "Europe/Berlin" {
		t.Fatalf("expected X-WR-TIMEZONE Europe/Berlin, got %q", cal.Timezone)
	}
	// The VEVENT without DTSTART is skipped.
	if len(cal.Events) != 5 {
		t.Fatalf("expected 5 parsed events, got %d", len(cal.Events))
	}

	byUID := map[string]ParsedEvent{}
	for _, ev := range cal.Events {
		if !ev.IsOverride {
			byUID[ev.UID] = ev
		}
	}

	if ev := byUID["party"]; ev.Status != model.StatusTentative {
		t.Fatalf("expected party tentative, got %q", ev.Status)
	}
	if ev := byUID["standup"]; ev.Status != model.StatusConfirmed || ev.RawRRule == "" || len(ev.ExDates) != 1 {
		t.Fatalf("unexpected standup %+v", ev)
	}
	offsite := byUID["offsite"]
	if !offsite.AllDay || offsite.StartDate != (civil.Date{Year: 2026, Month: 3, Day: 5}) || offsite.EndDate != (civil.Date{Year: 2026, Month: 3, Day: 7}) {
		t.Fatalf("unexpected offsite %+v", offsite)
	}
	review := byUID["review"]
	if len(review.Attendees) != 2 || review.Attendees[0].Email != "Me@Example.com" || review.Attendees[0].PartStat != "DECLINED" {
		t.Fatalf("unexpected review attendees %+v", review.Attendees)
	}
}

var durationLines = []string{
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//freebusy//test//EN",
	"BEGIN:VEVENT",
	"UID:planning",
	"SUMMARY:Planning",
	"DTSTART:20260302T100000Z",
	"DURATION:PT2H",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:retreat",
	"SUMMARY:Retreat",
	"DTSTART;VALUE=DATE:20260309",
	"DURATION:P3D",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:ping",
	"SUMMARY:Ping",
	"DTSTART:20260302T150000Z",
	"END:VEVENT",
	"END:VCALENDAR",
}

func durationICS() []byte {
	return []byte(strings.Join(durationLines, "\r\n") + "\r\n")
}

func TestParseICS_Duration(t *testing.T) {
	cal, err := ParseICS(Feed{ID: "work"}, durationICS())
	if err != nil {
		t.Fatalf("ParseICS failed: %v", err)
	}
	byUID := map[string]ParsedEvent{}
	for _, ev := range cal.Events {
		byUID[ev.UID] = ev
	}

	planning := byUID["planning"]
	wantStart := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	if !planning.Start.Equal(wantStart) || !planning.End.Equal(wantStart.Add(2*time.Hour)) {
		t.Fatalf("expected 10:00-12:00 from DURATION, got %s - %s", planning.Start, planning.End)
	}

	retreat := byUID["retreat"]
	if !retreat.AllDay || retreat.EndDate != (civil.Date{Year: 2026, Month: 3, Day: 12}) {
		t.Fatalf("expected all-day retreat ending 2026-03-12, got %+v", retreat)
	}

	// Neither DTEND nor DURATION: a point in time.
	ping := byUID["ping"]
	if !ping.End.Equal(ping.Start) {
		t.Fatalf("expected zero-length ping, got %s - %s", ping.Start, ping.End)
	}
}

func TestExpand_DurationEventBlocksSlots(t *testing.T) {
	cal, err := ParseICS(Feed{ID: "work"}, durationICS())
	if err != nil {
		t.Fatal(err)
	}
	from := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	res, err := Expand(cal.Events, ExpandConfig{Location: time.UTC, RangeStart: from, RangeEnd: to})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}

	var busy []string
	for slot := range availability.Slots(from, to, time.Hour) {
		if r := availability.Classify(slot, time.UTC, res.Events); r.Busy {
			busy = append(busy, slot.Start.Format("15:04")+" "+r.Cause)
		}
	}
	want := []string{"10:00 Planning", "11:00 Planning"}
	if strings.Join(busy, ",") != strings.Join(want, ",") {
		t.Fatalf("expected busy slots %v, got %v", want, busy)
	}
}

func TestParseICSDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT15M", 15 * time.Minute},
		{"PT1H30M", 90 * time.Minute},
		{"P1DT2H", 26 * time.Hour},
		{"P2W", 14 * 24 * time.Hour},
		{"+PT45S", 45 * time.Second},
	}
	for _, tt := range tests {
		got, err := parseICSDuration(tt.in)
		if err != nil {
			t.Fatalf("parseICSDuration(%q) failed: %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("parseICSDuration(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{"", "P", "PT", "1H", "PT1D", "P1H", "PT1", "-PT1H"} {
		if _, err := parseICSDuration(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseICS_Empty(t *testing.T) {
	if _, err := ParseICS(Feed{ID: "x"}, nil); err == nil {
		t.Fatal("expected error for empty body")
	}
}

func expandSample(t *testing.T, from, to time.Time) []model.Event {
	t.Helper()
	cal, err := ParseICS(Feed{ID: "work"}, sampleICS())
	if err != nil {
		t.Fatal(err)
	}
	res, err := Expand(cal.Events, ExpandConfig{
		Location:   from.Location(),
		RangeStart: from,
		RangeEnd:   to,
		SelfEmails: map[string]bool{"me@example.com": true},
	})
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	return res.Events
}

func TestExpand_Range(t *testing.T) {
	loc := berlin(t)
	events := expandSample(t,
		time.Date(2026, 3, 2, 0, 0, 0, 0, loc),
		time.Date(2026, 3, 7, 0, 0, 0, 0, loc),
	)

	var summaries []string
	for _, ev := range events {
		summaries = append(summaries, ev.Summary)
	}
	want := []string{"Standup", "Review", "Party", "Standup (moved)", "Offsite", "Standup", "Standup"}
	if strings.Join(summaries, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, summaries)
	}

	for _, ev := range events {
		if ev.Summary != "Review" {
			continue
		}
		self, ok := ev.SelfAttendee()
		if !ok || self.ResponseStatus != model.ResponseDeclined {
			t.Fatalf("expected declined self attendee on review, got %+v", ev.Attendees)
		}
	}
}

func TestExpand_SingleDayWindow(t *testing.T) {
	loc := berlin(t)
	events := expandSample(t,
		time.Date(2026, 3, 3, 9, 0, 0, 0, loc),
		time.Date(2026, 3, 3, 17, 0, 0, 0, loc),
	)
	if len(events) != 1 {
		t.Fatalf("expected only the moved standup, got %+v", events)
	}
	ev := events[0]
	if ev.Summary != "Standup (moved)" || ev.ID != "standup@20260303T130000Z" {
		t.Fatalf("unexpected event %+v", ev)
	}
	timed, ok := ev.Timing.(model.Timed)
	if !ok || !timed.Start.Equal(time.Date(2026, 3, 3, 14, 0, 0, 0, loc)) {
		t.Fatalf("unexpected timing %#v", ev.Timing)
	}
}

func TestExpand_AllDaySpansBothDays(t *testing.T) {
	loc := berlin(t)
	events := expandSample(t,
		time.Date(2026, 3, 6, 9, 0, 0, 0, loc),
		time.Date(2026, 3, 6, 17, 0, 0, 0, loc),
	)
	var found bool
	for _, ev := range events {
		if ev.Summary == "Offsite" {
			found = true
			ad, ok := ev.Timing.(model.AllDay)
			if !ok || ad.Start != (civil.Date{Year: 2026, Month: 3, Day: 5}) {
				t.Fatalf("unexpected offsite timing %#v", ev.Timing)
			}
		}
	}
	if !found {
		t.Fatal("expected multi-day all-day event in its second day's window")
	}
}

func TestExpand_RejectsInvertedRange(t *testing.T) {
	now := time.Now()
	if _, err := Expand(nil, ExpandConfig{RangeStart: now, RangeEnd: now.Add(-time.Hour)}); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestMappings(t *testing.T) {
	if mapStatus("") != model.StatusConfirmed || mapStatus("cancelled") != model.StatusCancelled {
		t.Fatal("unexpected status mapping")
	}
	if mapPartStat("NEEDS-ACTION") != model.ResponseNeedsAction || mapPartStat("TENTATIVE") != model.ResponseTentative {
		t.Fatal("unexpected partstat mapping")
	}
	if stripMailto("MAILTO:a@b.c") != "a@b.c" || stripMailto("a@b.c") != "a@b.c" {
		t.Fatal("unexpected mailto stripping")
	}
	if got := redactURL("https://cal.example.com/private/abc.ics?token=1"); got != "https://cal.example.com/...(redacted)" {
		t.Fatalf("unexpected redaction %q", got)
	}
}
