// Package report renders availability results for people and programs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"freebusy/internal/availability"
	"freebusy/internal/model"
)

// Mode selects which slots are shown. It never changes classification.
type Mode string

const (
	ModeFree Mode = "free"
	ModeBusy Mode = "busy"
	ModeBoth Mode = "both"
)

// ParseMode accepts free, busy or both, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeFree, ModeBusy, ModeBoth:
		return m, nil
	default:
		return "", fmt.Errorf("report: unknown mode %q (want free, busy or both)", s)
	}
}

func (m Mode) showFree() bool { return m == ModeFree || m == ModeBoth }
func (m Mode) showBusy() bool { return m == ModeBusy || m == ModeBoth }

const clock = "15:04"

// WriteText prints a human-readable summary of rep.
func WriteText(w io.Writer, rep availability.Report, mode Mode) error {
	tw := &errWriter{w: w}
	loc := rep.Location
	if loc == nil {
		loc = time.UTC
	}

	tw.printf("\nChecking availability for the next %d days\n", rep.Params.Days)
	tw.printf("Working hours: %d:00 to %d:00\n", rep.Params.StartHour, rep.Params.EndHour)
	tw.printf("Time zone: %s\n", rep.Timezone)
	tw.printf("%s\n", strings.Repeat("=", 50))

	for _, day := range rep.Days {
		tw.printf("\nDay: %s\n", day.WindowStart.Format("Monday, January 02"))

		if mode.showBusy() {
			busy := day.Busy()
			tw.printf("  Busy times (%d):\n", len(busy))
			if len(busy) == 0 {
				tw.printf("    No busy slots\n")
			}
			for _, s := range busy {
				tw.printf("    %s - %s : %s\n", s.Start.In(loc).Format(clock), s.End.In(loc).Format(clock), s.Cause)
			}
		}

		if mode.showFree() {
			free := day.Free()
			tw.printf("  Free times (%d):\n", len(free))
			if len(free) == 0 {
				tw.printf("    No free slots\n")
			}
			for _, s := range free {
				tw.printf("    %s - %s\n", s.Start.In(loc).Format(clock), s.End.In(loc).Format(clock))
			}
		}

		for _, ig := range day.Ignored {
			tw.printf("  Ignored event %q: %s\n", ig.Summary, ig.Reason)
		}
	}
	return tw.err
}

// Document is the JSON view of a report.
type Document struct {
	Timezone     string   `json:"timezone"`
	Days         int      `json:"days"`
	StartHour    int      `json:"start_hour"`
	EndHour      int      `json:"end_hour"`
	SlotMinutes  int      `json:"slot_minutes"`
	Mode         Mode     `json:"mode"`
	GeneratedFor string   `json:"generated_for"`
	Results      []DayDoc `json:"results"`
}

// DayDoc is one day in a Document.
type DayDoc struct {
	Date        string       `json:"date"`
	WindowStart time.Time    `json:"window_start"`
	WindowEnd   time.Time    `json:"window_end"`
	Busy        []SlotDoc    `json:"busy,omitempty"`
	Free        []SlotDoc    `json:"free,omitempty"`
	Ignored     []IgnoredDoc `json:"ignored,omitempty"`
}

// SlotDoc is one slot in a DayDoc. Summary is set for busy slots.
type SlotDoc struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Summary string    `json:"summary,omitempty"`
	EventID string    `json:"event_id,omitempty"`
}

// IgnoredDoc describes a malformed event left out of a day.
type IgnoredDoc struct {
	ID      string `json:"id"`
	Summary string `json:"summary,omitempty"`
	Reason  string `json:"reason"`
}

// Build converts rep into its JSON view, keeping only what mode shows.
func Build(rep availability.Report, mode Mode) Document {
	doc := Document{
		Timezone:     rep.Timezone,
		Days:         rep.Params.Days,
		StartHour:    rep.Params.StartHour,
		EndHour:      rep.Params.EndHour,
		SlotMinutes:  int(rep.Params.SlotDuration / time.Minute),
		Mode:         mode,
		GeneratedFor: rep.Reference.String(),
		Results:      make([]DayDoc, 0, len(rep.Days)),
	}
	for _, day := range rep.Days {
		dd := DayDoc{
			Date:        day.Date.String(),
			WindowStart: day.WindowStart,
			WindowEnd:   day.WindowEnd,
		}
		if mode.showBusy() {
			dd.Busy = slotDocs(day.Busy(), rep.Location)
		}
		if mode.showFree() {
			dd.Free = slotDocs(day.Free(), rep.Location)
		}
		for _, ig := range day.Ignored {
			dd.Ignored = append(dd.Ignored, IgnoredDoc{ID: ig.ID, Summary: ig.Summary, Reason: ig.Reason})
		}
		doc.Results = append(doc.Results, dd)
	}
	return doc
}

// WriteJSON encodes Build(rep, mode) as indented JSON.
func WriteJSON(w io.Writer, rep availability.Report, mode Mode) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Build(rep, mode))
}

func slotDocs(slots []model.SlotResult, loc *time.Location) []SlotDoc {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]SlotDoc, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotDoc{
			Start:   s.Start.In(loc),
			End:     s.End.In(loc),
			Summary: s.Cause,
			EventID: s.EventID,
		})
	}
	return out
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
