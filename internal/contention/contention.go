// Package contention computes the periods during which several pipelines or
// jobs execute at the same time.
package contention

import (
	"sort"
	"time"

	"github.com/waabox/pipegantt/internal/domain"
)

// Severity classifies a concurrency count.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// SeverityFor maps a concurrency count to its severity: low 2-3, medium 4,
// high 5-7, critical 8 and above. A single execution is not contention.
func SeverityFor(count int) Severity {
	switch {
	case count >= 8:
		return SeverityCritical
	case count >= 5:
		return SeverityHigh
	case count == 4:
		return SeverityMedium
	case count >= 2:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// Period is the half-open interval [Start, End) during which Count executions overlap.
type Period struct {
	Start    time.Time
	End      time.Time
	Count    int
	Severity Severity
}

// Interval is one execution span.
type Interval struct {
	Start time.Time
	End   time.Time
}

// PipelineIntervals returns the execution spans of pipelines. Running
// pipelines extend to now. Pipelines without a start, or finished pipelines
// without a finish time, are left out.
func PipelineIntervals(pipelines []domain.Pipeline, now time.Time) []Interval {
	out := make([]Interval, 0, len(pipelines))
	for _, p := range pipelines {
		if iv, ok := span(p.Status, p.StartedAt, p.FinishedAt, now); ok {
			out = append(out, iv)
		}
	}
	return out
}

// JobIntervals is PipelineIntervals for jobs.
func JobIntervals(jobs []domain.Job, now time.Time) []Interval {
	out := make([]Interval, 0, len(jobs))
	for _, j := range jobs {
		if iv, ok := span(j.Status, j.StartedAt, j.FinishedAt, now); ok {
			out = append(out, iv)
		}
	}
	return out
}

func span(status domain.Status, started, finished *time.Time, now time.Time) (Interval, bool) {
	if started == nil {
		return Interval{}, false
	}
	var end time.Time
	switch {
	case finished != nil:
		end = *finished
	case status == domain.StatusRunning:
		end = now
	default:
		return Interval{}, false
	}
	if !end.After(*started) {
		return Interval{}, false
	}
	return Interval{Start: *started, End: end}, true
}

type event struct {
	at    time.Time
	delta int
}

// Analyze sweeps the interval boundaries and returns the periods during which
// at least one interval is active, ordered by start and pairwise disjoint.
// A new period starts whenever the active count changes. At equal timestamps
// ends are processed before starts, so back-to-back intervals never overlap.
// The input is not modified and the returned slice is always new.
func Analyze(intervals []Interval) []Period {
	events := make([]event, 0, 2*len(intervals))
	for _, iv := range intervals {
		if !iv.End.After(iv.Start) {
			continue
		}
		events = append(events, event{at: iv.Start, delta: 1}, event{at: iv.End, delta: -1})
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].at.Equal(events[j].at) {
			return events[i].at.Before(events[j].at)
		}
		return events[i].delta < events[j].delta
	})

	var (
		periods []Period
		count   int
		since   time.Time
	)
	for i := 0; i < len(events); {
		at := events[i].at
		before := count
		for ; i < len(events) && events[i].at.Equal(at); i++ {
			count += events[i].delta
		}
		if count == before {
			continue
		}
		if before > 0 {
			periods = append(periods, Period{Start: since, End: at, Count: before, Severity: SeverityFor(before)})
		}
		since = at
	}
	return periods
}

// AnalyzePipelines is Analyze over the spans of pipelines.
func AnalyzePipelines(pipelines []domain.Pipeline, now time.Time) []Period {
	return Analyze(PipelineIntervals(pipelines, now))
}

// CountAt returns the concurrency count at t according to periods, which must
// be ordered and disjoint as returned by Analyze.
func CountAt(periods []Period, t time.Time) int {
	i := sort.Search(len(periods), func(i int) bool { return periods[i].End.After(t) })
	if i < len(periods) && !periods[i].Start.After(t) {
		return periods[i].Count
	}
	return 0
}

// Contended returns the periods whose severity is at least min.
func Contended(periods []Period, min Severity) []Period {
	var out []Period
	for _, p := range periods {
		if p.Severity >= min && p.Severity != SeverityNone {
			out = append(out, p)
		}
	}
	return out
}
