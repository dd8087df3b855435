// Package ics reads events from iCalendar subscription feeds.
package ics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	appLog "freebusy/internal/log"
	"freebusy/internal/model"
)

// Source is an availability.EventSource over one or more ICS feeds. Feeds
// are downloaded and parsed once, on first use, and shared by all days.
type Source struct {
	fetcher    *Fetcher
	feeds      []Feed
	selfEmails map[string]bool
	fallbackTZ string

	mu       sync.Mutex
	loaded   bool
	timezone string
	events   []ParsedEvent
}

// NewSource creates a Source. fallbackTZ is reported when no feed carries
// X-WR-TIMEZONE.
func NewSource(fetcher *Fetcher, feeds []Feed, selfEmails []string, fallbackTZ string) *Source {
	self := make(map[string]bool, len(selfEmails))
	for _, e := range selfEmails {
		self[strings.ToLower(strings.TrimSpace(e))] = true
	}
	return &Source{
		fetcher:    fetcher,
		feeds:      feeds,
		selfEmails: self,
		fallbackTZ: fallbackTZ,
	}
}

// load fetches and parses every feed. It fails only when no feed could be
// read at all; partial failures are logged.
func (s *Source) load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}

	results, fetchErr := s.fetcher.FetchAll(ctx, s.feeds)
	if len(results) == 0 {
		if fetchErr == nil {
			fetchErr = errors.New("no feeds configured")
		}
		return fmt.Errorf("ics: %w", fetchErr)
	}

	var parsed []ParsedEvent
	tz := ""
	for _, res := range results {
		cal, err := ParseICS(res.Feed, res.Body)
		if err != nil {
			continue
		}
		if tz == "" {
			tz = cal.Timezone
		}
		parsed = append(parsed, cal.Events...)
	}

	s.timezone = tz
	s.events = parsed
	s.loaded = true
	return nil
}

// ResolveTimezone reports the first feed's X-WR-TIMEZONE, else the fallback.
func (s *Source) ResolveTimezone(ctx context.Context, _ string) (string, error) {
	if err := s.load(ctx); err != nil {
		return "", err
	}
	if s.timezone != "" {
		return s.timezone, nil
	}
	return s.fallbackTZ, nil
}

// FetchEvents expands the feeds over [timeMin, timeMax).
func (s *Source) FetchEvents(ctx context.Context, _ string, timeMin, timeMax time.Time) ([]model.Event, error) {
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	res, err := Expand(s.events, ExpandConfig{
		Location:   timeMin.Location(),
		RangeStart: timeMin,
		RangeEnd:   timeMax,
		SelfEmails: s.selfEmails,
	})
	if err != nil {
		return nil, err
	}
	appLog.Debug("ics events expanded", "from", timeMin.Format(time.RFC3339), "count", len(res.Events))
	return res.Events, nil
}
