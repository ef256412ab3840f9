// Package period maps a point in time and a plan billing day to billing windows.
package period

import (
	"fmt"
	"time"
)

// Window is a half-open billing period [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// IsZero reports whether the window is unset.
func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

func (w Window) String() string {
	return fmt.Sprintf("%s..%s", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// NormalizeBillingDay clamps a billing day into 1..31.
func NormalizeBillingDay(day int) int {
	if day < 1 {
		return 1
	}
	if day > 31 {
		return 31
	}
	return day
}

// Anchor returns the billing boundary for the given month, clamping the day to the
// month length (billing day 31 lands on Feb 28/29, Apr 30, and so on).
func Anchor(year int, month time.Month, billingDay int) time.Time {
	day := NormalizeBillingDay(billingDay)
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Current returns the billing window containing now.
func Current(now time.Time, billingDay int) Window {
	now = now.UTC()
	start := Anchor(now.Year(), now.Month(), billingDay)
	if now.Before(start) {
		y, m := prevMonth(now.Year(), now.Month())
		start = Anchor(y, m, billingDay)
	}
	return Window{Start: start, End: NextBoundary(start, billingDay)}
}

// NextBoundary returns the first billing boundary strictly after t.
func NextBoundary(t time.Time, billingDay int) time.Time {
	t = t.UTC()
	candidate := Anchor(t.Year(), t.Month(), billingDay)
	if candidate.After(t) {
		return candidate
	}
	y, m := nextMonth(t.Year(), t.Month())
	return Anchor(y, m, billingDay)
}

// Next returns the window that follows w.
func Next(w Window, billingDay int) Window {
	return Window{Start: w.End, End: NextBoundary(w.End, billingDay)}
}

// Previous returns the window that precedes w.
func Previous(w Window, billingDay int) Window {
	start := w.Start.UTC()
	y, m := prevMonth(start.Year(), start.Month())
	prevStart := Anchor(y, m, billingDay)
	if !prevStart.Before(start) {
		y, m = prevMonth(y, m)
		prevStart = Anchor(y, m, billingDay)
	}
	return Window{Start: prevStart, End: w.Start}
}

// Activation returns the first window of a plan activated at now: it starts at now
// and ends at the next billing boundary.
func Activation(now time.Time, billingDay int) Window {
	now = now.UTC()
	return Window{Start: now, End: NextBoundary(now, billingDay)}
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func prevMonth(year int, month time.Month) (int, time.Month) {
	if month == time.January {
		return year - 1, time.December
	}
	return year, month - 1
}
