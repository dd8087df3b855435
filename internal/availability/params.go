package availability

import (
	"errors"
	"fmt"
	"time"
)

// Params is the scheduling configuration of one run.
type Params struct {
	// Days is the number of consecutive days to classify, starting today.
	Days int
	// StartHour and EndHour bound the working window, 0-23, StartHour < EndHour.
	StartHour int
	EndHour   int
	// SlotDuration is the slot granularity.
	SlotDuration time.Duration
}

// ConfigurationError reports an invalid Params field. Runs fail fast on it.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Validate returns every violated constraint joined into one error.
func (p Params) Validate() error {
	var errs []error
	if p.Days < 0 {
		errs = append(errs, &ConfigurationError{Field: "days", Reason: fmt.Sprintf("must be >= 0 (got %d)", p.Days)})
	}
	if p.StartHour < 0 || p.StartHour > 23 {
		errs = append(errs, &ConfigurationError{Field: "start_hour", Reason: fmt.Sprintf("must be within 0-23 (got %d)", p.StartHour)})
	}
	if p.EndHour < 0 || p.EndHour > 23 {
		errs = append(errs, &ConfigurationError{Field: "end_hour", Reason: fmt.Sprintf("must be within 0-23 (got %d)", p.EndHour)})
	}
	if p.StartHour >= p.EndHour {
		errs = append(errs, &ConfigurationError{Field: "start_hour", Reason: fmt.Sprintf("must be before end_hour (%d >= %d)", p.StartHour, p.EndHour)})
	}
	if p.SlotDuration <= 0 {
		errs = append(errs, &ConfigurationError{Field: "slot_duration", Reason: fmt.Sprintf("must be positive (got %s)", p.SlotDuration)})
	}
	return errors.Join(errs...)
}
