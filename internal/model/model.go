package model

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// DefaultSummary is shown for busy slots whose event carries no title.
const DefaultSummary = "Busy"

// Status is the confirmation state of an event as reported by the source.
// Values other than the three known ones are kept verbatim.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusTentative Status = "tentative"
	StatusCancelled Status = "cancelled"
)

// ResponseStatus is an attendee's answer to an invitation.
type ResponseStatus string

const (
	ResponseAccepted    ResponseStatus = "accepted"
	ResponseDeclined    ResponseStatus = "declined"
	ResponseNeedsAction ResponseStatus = "needsAction"
	ResponseTentative   ResponseStatus = "tentative"
)

// Attendee is one entry of an event's guest list.
type Attendee struct {
	Email          string
	Self           bool // true for the calendar owner
	ResponseStatus ResponseStatus
}

// Timing is either AllDay or Timed. The interface is sealed so that
// consumers can switch over it exhaustively.
type Timing interface {
	timing()
}

// AllDay spans whole calendar dates, End exclusive.
type AllDay struct {
	Start civil.Date
	End   civil.Date
}

// Timed spans two absolute instants.
type Timed struct {
	Start time.Time
	End   time.Time
}

func (AllDay) timing() {}
func (Timed) timing()  {}

// Event is a single concrete calendar entry, already expanded from any
// recurrence rule by the source that produced it.
type Event struct {
	ID        string
	Summary   string
	Status    Status
	Attendees []Attendee
	Timing    Timing
}

// Title returns the summary, or DefaultSummary when the event has none.
func (e Event) Title() string {
	if e.Summary == "" {
		return DefaultSummary
	}
	return e.Summary
}

// SelfAttendee returns the attendee entry flagged as the calendar owner.
func (e Event) SelfAttendee() (Attendee, bool) {
	for _, a := range e.Attendees {
		if a.Self {
			return a, true
		}
	}
	return Attendee{}, false
}

// Validate reports whether the event can take part in overlap testing.
func (e Event) Validate() error {
	switch t := e.Timing.(type) {
	case nil:
		return &MalformedEventError{EventID: e.ID, Reason: "missing or mismatched start/end"}
	case Timed:
		if t.Start.IsZero() || t.End.IsZero() {
			return &MalformedEventError{EventID: e.ID, Reason: "timed event without start or end instant"}
		}
		if t.End.Before(t.Start) {
			return &MalformedEventError{EventID: e.ID, Reason: "end before start"}
		}
	case AllDay:
		if !t.Start.IsValid() {
			return &MalformedEventError{EventID: e.ID, Reason: "invalid all-day start date"}
		}
	}
	return nil
}

// MalformedEventError marks an event whose start/end cannot be interpreted.
type MalformedEventError struct {
	EventID string
	Reason  string
}

func (e *MalformedEventError) Error() string {
	if e.EventID == "" {
		return "malformed event: " + e.Reason
	}
	return fmt.Sprintf("malformed event %q: %s", e.EventID, e.Reason)
}

// Slot is the half-open interval [Start, End).
type Slot struct {
	Start time.Time
	End   time.Time
}

// SlotResult is a slot tagged free or busy. Cause and EventID are set only
// for busy slots and name the first event that overlapped.
type SlotResult struct {
	Slot
	Busy    bool
	Cause   string
	EventID string
}

// IgnoredEvent records an event dropped from a day because it was malformed.
type IgnoredEvent struct {
	ID      string
	Summary string
	Reason  string
}

// DayResult is the classification of one day's working window.
type DayResult struct {
	Date        civil.Date
	WindowStart time.Time
	WindowEnd   time.Time
	Slots       []SlotResult
	Ignored     []IgnoredEvent
}

// Free returns the free slots in chronological order.
func (d DayResult) Free() []SlotResult {
	out := make([]SlotResult, 0, len(d.Slots))
	for _, s := range d.Slots {
		if !s.Busy {
			out = append(out, s)
		}
	}
	return out
}

// Busy returns the busy slots in chronological order.
func (d DayResult) Busy() []SlotResult {
	out := make([]SlotResult, 0, len(d.Slots))
	for _, s := range d.Slots {
		if s.Busy {
			out = append(out, s)
		}
	}
	return out
}
