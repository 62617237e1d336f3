// Package window computes the rolling audit time window of a collection run.
package window

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/upb/audit-collector/services"
)

// TimeRangeLayout formats window bounds in run logs
const TimeRangeLayout = "2006-01-02:15:04:05"

const day = 24 * time.Hour

// Window is the half-open interval [Begin, End) a run audits
type Window struct {
	Begin time.Time
	End   time.Time
}

// Compute returns the window ending at now and reaching lookbackDays whole days back.
// It does not validate its input; see ValidateLookback.
func Compute(lookbackDays int, now time.Time) Window {
	return Window{
		Begin: now.Add(-time.Duration(lookbackDays) * day),
		End:   now,
	}
}

// MaxLookbackDays bounds the lookback so the window length fits in a time.Duration
const MaxLookbackDays = 36500

// ValidateLookback rejects a negative or oversized lookback before a run starts
func ValidateLookback(lookbackDays int) error {
	if lookbackDays < 0 || lookbackDays > MaxLookbackDays {
		return services.NewDomainError(services.ErrorTypeConfiguration, services.ErrInvalidLookback.Message, nil).
			WithDetail("lookback_days", lookbackDays)
	}
	return nil
}

// BeginMillis returns Begin in epoch milliseconds
func (w Window) BeginMillis() int64 {
	return w.Begin.UnixMilli()
}

// EndMillis returns End in epoch milliseconds
func (w Window) EndMillis() int64 {
	return w.End.UnixMilli()
}

// String renders the bounds with TimeRangeLayout
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Begin.Format(TimeRangeLayout), w.End.Format(TimeRangeLayout))
}

// Calculator derives windows from an injectable clock
type Calculator struct {
	clock clock.Clock
}

// NewCalculator creates a calculator; a nil clock means wall time
func NewCalculator(c clock.Clock) *Calculator {
	if c == nil {
		c = clock.New()
	}
	return &Calculator{clock: c}
}

// Window validates the lookback and computes the window ending at the clock's now
func (c *Calculator) Window(lookbackDays int) (Window, error) {
	if err := ValidateLookback(lookbackDays); err != nil {
		return Window{}, err
	}
	return Compute(lookbackDays, c.clock.Now()), nil
}
