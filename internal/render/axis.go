package render

import "time"

var tickSteps = []time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	3 * time.Hour,
	6 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
	7 * 24 * time.Hour,
}

// tickStep picks the smallest step giving at most maxTicks ticks over span.
func tickStep(span time.Duration, maxTicks int) time.Duration {
	if maxTicks < 1 {
		maxTicks = 1
	}
	for _, s := range tickSteps {
		if span/s <= time.Duration(maxTicks) {
			return s
		}
	}
	return tickSteps[len(tickSteps)-1]
}

// ticks returns the step-aligned instants within [start, end].
func ticks(start, end time.Time, step time.Duration) []time.Time {
	var out []time.Time
	for t := start.Truncate(step); !t.After(end); t = t.Add(step) {
		if !t.Before(start) {
			out = append(out, t)
		}
	}
	return out
}

func tickLabel(t time.Time, step time.Duration) string {
	switch {
	case step >= 24*time.Hour:
		return t.Format("Jan 2")
	case t.Hour() == 0 && t.Minute() == 0:
		return t.Format("Jan 2")
	default:
		return t.Format("15:04")
	}
}
