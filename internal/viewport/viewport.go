// Package viewport keeps the visible time window and the wider window that is
// actually fetched from upstream apart.
package viewport

import (
	"fmt"
	"time"
)

// Range is the half-open interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Duration returns End minus Start.
func (r Range) Duration() time.Duration { return r.End.Sub(r.Start) }

// Contains reports whether o lies entirely within r.
func (r Range) Contains(o Range) bool {
	return !o.Start.Before(r.Start) && !o.End.After(r.End)
}

// Coordinator derives the FetchRange from the ViewportRange. The buffer is
// one-sided: it extends the lower bound earlier in time. A Coordinator is a
// value; its methods return updated copies.
type Coordinator struct {
	buffer   time.Duration
	viewport Range
	fetch    Range
}

// New creates a Coordinator whose viewport of length duration ends at now.
func New(duration, buffer time.Duration, now time.Time) (Coordinator, error) {
	if duration <= 0 {
		return Coordinator{}, fmt.Errorf("viewport: duration must be positive, got %s", duration)
	}
	if buffer < 0 {
		return Coordinator{}, fmt.Errorf("viewport: buffer must not be negative, got %s", buffer)
	}
	c := Coordinator{buffer: buffer}
	c.viewport = Range{Start: now.Add(-duration), End: now}
	c.fetch = c.fetchFor(c.viewport)
	return c, nil
}

// Viewport returns the visible range.
func (c Coordinator) Viewport() Range { return c.viewport }

// FetchRange returns the range that must be fetched to serve the viewport.
func (c Coordinator) FetchRange() Range { return c.fetch }

// Buffer returns the fetch buffer.
func (c Coordinator) Buffer() time.Duration { return c.buffer }

// SetDuration changes the viewport length, keeping its end. The FetchRange is
// recomputed, and fetch is true, only when the new viewport is not covered by
// the current FetchRange; otherwise the fetched data is reused as is.
func (c Coordinator) SetDuration(d time.Duration) (next Coordinator, fetch bool, err error) {
	if d <= 0 {
		return c, false, fmt.Errorf("viewport: duration must be positive, got %s", d)
	}
	next = c
	next.viewport = Range{Start: c.viewport.End.Add(-d), End: c.viewport.End}
	if c.fetch.Contains(next.viewport) {
		return next, false, nil
	}
	next.fetch = next.fetchFor(next.viewport)
	return next, true, nil
}

// Advance moves the viewport so that it ends at now, keeping its length, and
// extends the FetchRange end to match. The tail is picked up by the next
// scheduled or manual refresh, so fetch is true only when the viewport leaves
// the fetched range.
func (c Coordinator) Advance(now time.Time) (Coordinator, bool) {
	if !now.After(c.viewport.End) {
		return c, false
	}
	d := c.viewport.Duration()
	next := c
	next.viewport = Range{Start: now.Add(-d), End: now}
	if next.fetch.End.Before(now) {
		next.fetch.End = now
	}
	if next.fetch.Contains(next.viewport) {
		return next, false
	}
	next.fetch = next.fetchFor(next.viewport)
	return next, true
}

// Rebase recomputes the FetchRange around the current viewport. Manual and
// scheduled refreshes call it so that a long-running session does not keep
// widening the fetched range.
func (c Coordinator) Rebase() Coordinator {
	c.fetch = c.fetchFor(c.viewport)
	return c
}

// Pan shifts the viewport by delta (negative moves back in time). A pan that
// leaves the FetchRange recomputes it and reports fetch.
func (c Coordinator) Pan(delta time.Duration) (next Coordinator, fetch bool) {
	next = c
	next.viewport = Range{Start: c.viewport.Start.Add(delta), End: c.viewport.End.Add(delta)}
	if c.fetch.Contains(next.viewport) {
		return next, false
	}
	next.fetch = next.fetchFor(next.viewport)
	return next, true
}

// Since is the lower time bound to request upstream.
func (c Coordinator) Since() time.Time { return c.fetch.Start }

func (c Coordinator) fetchFor(v Range) Range {
	return Range{Start: v.End.Add(-v.Duration() - c.buffer), End: v.End}
}

// Durations are the selectable viewport lengths with their query-string codes.
var Durations = []struct {
	Code     string
	Duration time.Duration
}{
	{"1h", time.Hour},
	{"4h", 4 * time.Hour},
	{"8h", 8 * time.Hour},
	{"1d", 24 * time.Hour},
	{"3d", 72 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
}

// ParseCode returns the duration for a code such as "4h" or "1d". Codes not in
// Durations are accepted when time.ParseDuration understands them, or as a
// whole number of days with a "d" suffix.
func ParseCode(code string) (time.Duration, error) {
	for _, d := range Durations {
		if d.Code == code {
			return d.Duration, nil
		}
	}
	var days int
	if n, err := fmt.Sscanf(code, "%dd", &days); err == nil && n == 1 && fmt.Sprintf("%dd", days) == code && days > 0 {
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(code)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("viewport: unknown duration code %q", code)
	}
	return d, nil
}

// Code returns the query-string code of d.
func Code(d time.Duration) string {
	for _, c := range Durations {
		if c.Duration == d {
			return c.Code
		}
	}
	if d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	return d.String()
}

// Next returns the selectable duration after d, wrapping around.
func Next(d time.Duration) time.Duration {
	for i, c := range Durations {
		if c.Duration == d {
			return Durations[(i+1)%len(Durations)].Duration
		}
	}
	return Durations[0].Duration
}
