package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/civil"

	"freebusy/internal/availability"
	"freebusy/internal/model"
)

func sampleReport(t *testing.T) availability.Report {
	t.Helper()
	p := availability.Params{Days: 1, StartHour: 9, EndHour: 12, SlotDuration: time.Hour}
	ref := civil.Date{Year: 2026, Month: time.March, Day: 2}
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	days, err := availability.Compute(p, time.UTC, ref, [][]model.Event{{
		{ID: "s", Summary: "Standup", Status: model.StatusConfirmed, Timing: model.Timed{Start: start, End: start.Add(time.Hour)}},
		{ID: "bad", Summary: "Broken", Status: model.StatusConfirmed},
	}})
	if err != nil {
		t.Fatal(err)
	}
	return availability.Report{Timezone: "UTC", Location: time.UTC, Reference: ref, Params: p, Days: days}
}

func TestParseMode(t *testing.T) {
	for _, in := range []string{"free", "BUSY", " both "} {
		if _, err := ParseMode(in); err != nil {
			t.Fatalf("ParseMode(%q) failed: %v", in, err)
		}
	}
	if _, err := ParseMode("all"); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestWriteText_Both(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleReport(t), ModeBoth); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	for _, want := range []string{
		"Working hours: 9:00 to 12:00",
		"Time zone: UTC",
		"Day: Monday, March 02",
		"Busy times (1):",
		"    10:00 - 11:00 : Standup",
		"Free times (2):",
		"    09:00 - 10:00",
		"    11:00 - 12:00",
		`Ignored event "Broken"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestWriteText_FreeOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, sampleReport(t), ModeFree); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "Busy times") {
		t.Fatalf("busy section printed in free mode:\n%s", buf.String())
	}
}

func TestWriteText_EmptySections(t *testing.T) {
	rep := sampleReport(t)
	rep.Days[0].Slots = nil

	var buf bytes.Buffer
	if err := WriteText(&buf, rep, ModeBoth); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No busy slots") || !strings.Contains(buf.String(), "No free slots") {
		t.Fatalf("expected placeholders:\n%s", buf.String())
	}
}

func TestWriteJSON_BusyOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, sampleReport(t), ModeBusy); err != nil {
		t.Fatal(err)
	}

	var doc Document
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc.SlotMinutes != 60 || doc.GeneratedFor != "2026-03-02" || len(doc.Results) != 1 {
		t.Fatalf("unexpected document header %+v", doc)
	}
	day := doc.Results[0]
	if len(day.Free) != 0 {
		t.Fatalf("expected no free slots in busy mode, got %d", len(day.Free))
	}
	if len(day.Busy) != 1 || day.Busy[0].Summary != "Standup" || day.Busy[0].EventID != "s" {
		t.Fatalf("unexpected busy slots %+v", day.Busy)
	}
	if len(day.Ignored) != 1 || day.Ignored[0].ID != "bad" {
		t.Fatalf("unexpected ignored events %+v", day.Ignored)
	}
}
