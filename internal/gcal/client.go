// Package gcal reads calendars and events from the Google Calendar API.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/civil"
	"github.com/cenkalti/backoff/v5"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	appLog "freebusy/internal/log"
	"freebusy/internal/model"
)

const defaultMaxTries = 4

// Client is an availability.EventSource backed by the Calendar API.
type Client struct {
	svc      *calendar.Service
	maxTries uint
	// newBackOff builds the retry schedule for a single request.
	newBackOff func() backoff.BackOff
}

// New creates a Client using an authorized HTTP client (see Authorize).
// Extra options are appended, which tests use to point at a fake endpoint.
func New(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: create service: %w", err)
	}
	return &Client{
		svc:      svc,
		maxTries: defaultMaxTries,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}, nil
}

// ResolveTimezone returns the calendar's IANA timezone, "UTC" when unset.
func (c *Client) ResolveTimezone(ctx context.Context, calendarID string) (string, error) {
	cal, err := retry(ctx, c, func() (*calendar.Calendar, error) {
		return c.svc.Calendars.Get(calendarID).Context(ctx).Do()
	})
	if err != nil {
		return "", fmt.Errorf("gcal: get calendar %q: %w", calendarID, err)
	}
	if cal.TimeZone == "" {
		return "UTC", nil
	}
	return cal.TimeZone, nil
}

// FetchEvents lists the expanded event instances intersecting
// [timeMin, timeMax), ordered by start time, following every result page.
func (c *Client) FetchEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]model.Event, error) {
	var out []model.Event
	pageToken := ""
	for {
		page, err := retry(ctx, c, func() (*calendar.Events, error) {
			call := c.svc.Events.List(calendarID).
				TimeMin(timeMin.Format(time.RFC3339)).
				TimeMax(timeMax.Format(time.RFC3339)).
				SingleEvents(true).
				OrderBy("startTime").
				Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			return call.Do()
		})
		if err != nil {
			return nil, fmt.Errorf("gcal: list events %q: %w", calendarID, err)
		}
		for _, item := range page.Items {
			out = append(out, convertEvent(item))
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return out, nil
}

func retry[T any](ctx context.Context, c *Client, op func() (T, error)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := op()
		if err == nil {
			return res, nil
		}
		if !retryable(err) {
			return res, backoff.Permanent(err)
		}
		appLog.Warn("gcal: request failed, retrying", "attempt", attempt, "err", err)
		return res, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxTries))
}

// retryable reports whether err is worth another attempt: rate limiting,
// server errors and transport failures are; other API errors are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500
	}
	return true
}

// convertEvent maps an API event into the model. An event whose start and
// end cannot be read keeps a nil Timing and is reported as malformed later.
func convertEvent(ev *calendar.Event) model.Event {
	out := model.Event{
		ID:      ev.Id,
		Summary: ev.Summary,
		Status:  model.Status(ev.Status),
	}
	for _, a := range ev.Attendees {
		if a == nil {
			continue
		}
		out.Attendees = append(out.Attendees, model.Attendee{
			Email:          a.Email,
			Self:           a.Self,
			ResponseStatus: model.ResponseStatus(a.ResponseStatus),
		})
	}

	timing, err := convertTiming(ev.Start, ev.End)
	if err != nil {
		appLog.Warn("gcal: unreadable event time", "id", ev.Id, "err", err)
		return out
	}
	out.Timing = timing
	return out
}

func convertTiming(start, end *calendar.EventDateTime) (model.Timing, error) {
	if start == nil || end == nil {
		return nil, errors.New("missing start or end")
	}

	switch {
	case start.DateTime != "" && end.DateTime != "":
		s, err := time.Parse(time.RFC3339, start.DateTime)
		if err != nil {
			return nil, fmt.Errorf("start dateTime: %w", err)
		}
		e, err := time.Parse(time.RFC3339, end.DateTime)
		if err != nil {
			return nil, fmt.Errorf("end dateTime: %w", err)
		}
		return model.Timed{Start: s, End: e}, nil

	case start.DateTime == "" && end.DateTime == "" && start.Date != "" && end.Date != "":
		s, err := civil.ParseDate(start.Date)
		if err != nil {
			return nil, fmt.Errorf("start date: %w", err)
		}
		e, err := civil.ParseDate(end.Date)
		if err != nil {
			return nil, fmt.Errorf("end date: %w", err)
		}
		return model.AllDay{Start: s, End: e}, nil

	case start.DateTime == "" && start.Date == "", end.DateTime == "" && end.Date == "":
		return nil, errors.New("missing start or end")

	default:
		return nil, errors.New("start and end mix date and dateTime")
	}
}
