package viewport_test

import (
	"testing"
	"time"

	"github.com/waabox/pipegantt/internal/viewport"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestCoordinator_ZoomOutWithinBufferNeedsNoFetch(t *testing.T) {
	c, err := viewport.New(time.Hour, 6*time.Hour, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := c.FetchRange().Duration(); got != 7*time.Hour {
		t.Fatalf("expected 7h fetch range, got %s", got)
	}
	if !c.FetchRange().End.Equal(now) || !c.Since().Equal(now.Add(-7*time.Hour)) {
		t.Errorf("expected buffer on the lower bound only, got %+v", c.FetchRange())
	}

	c4, fetch, err := c.SetDuration(4 * time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetch {
		t.Errorf("zooming out to 4h must reuse the fetched range")
	}
	if c4.FetchRange() != c.FetchRange() {
		t.Errorf("fetch range changed without a fetch: %+v", c4.FetchRange())
	}
	if got := c4.Viewport().Duration(); got != 4*time.Hour {
		t.Errorf("expected 4h viewport, got %s", got)
	}

	c8, fetch, err := c4.SetDuration(8 * time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fetch {
		t.Fatalf("zooming out to 8h must trigger a fetch")
	}
	if got := c8.FetchRange().Duration(); got != 14*time.Hour {
		t.Errorf("expected recomputed 14h fetch range, got %s", got)
	}
}

func TestCoordinator_ZoomInNeverFetches(t *testing.T) {
	c, _ := viewport.New(8*time.Hour, time.Hour, now)
	_, fetch, err := c.SetDuration(time.Hour)
	if err != nil || fetch {
		t.Errorf("expected no fetch when zooming in, got fetch=%v err=%v", fetch, err)
	}
}

func TestCoordinator_RejectsInvalidDurations(t *testing.T) {
	if _, err := viewport.New(0, time.Hour, now); err == nil {
		t.Errorf("expected error for zero duration")
	}
	if _, err := viewport.New(time.Hour, -time.Hour, now); err == nil {
		t.Errorf("expected error for negative buffer")
	}
	c, _ := viewport.New(time.Hour, time.Hour, now)
	if _, _, err := c.SetDuration(-time.Minute); err == nil {
		t.Errorf("expected error for negative duration")
	}
}

func TestCoordinator_PanAndAdvance(t *testing.T) {
	c, _ := viewport.New(time.Hour, 2*time.Hour, now)
	back, fetch := c.Pan(-90 * time.Minute)
	if fetch {
		t.Errorf("panning inside the buffer must not fetch")
	}
	if !back.Viewport().End.Equal(now.Add(-90 * time.Minute)) {
		t.Errorf("unexpected viewport %+v", back.Viewport())
	}
	if _, fetch := c.Pan(-3 * time.Hour); !fetch {
		t.Errorf("panning past the buffer must fetch")
	}
	if _, fetch := c.Pan(time.Minute); !fetch {
		t.Errorf("panning past the upper bound must fetch")
	}

	if _, fetch := c.Advance(now); fetch {
		t.Errorf("advancing to the same instant must not fetch")
	}
}

func TestCoordinator_AdvanceSlidesWithoutFetching(t *testing.T) {
	c, _ := viewport.New(time.Hour, 6*time.Hour, now)
	start := c.FetchRange().Start
	for i := 1; i <= 120; i++ {
		next, fetch := c.Advance(now.Add(time.Duration(i) * time.Second))
		if fetch {
			t.Fatalf("tick %d: advancing the clock must not fetch", i)
		}
		c = next
	}
	later := now.Add(2 * time.Minute)
	if !c.Viewport().End.Equal(later) || c.Viewport().Duration() != time.Hour {
		t.Errorf("unexpected viewport %+v", c.Viewport())
	}
	if !c.FetchRange().Start.Equal(start) || !c.FetchRange().End.Equal(later) {
		t.Errorf("expected fetch start kept and end extended, got %+v", c.FetchRange())
	}

	rebased := c.Rebase()
	want := viewport.Range{Start: later.Add(-7 * time.Hour), End: later}
	if rebased.FetchRange() != want {
		t.Errorf("expected rebased fetch %+v, got %+v", want, rebased.FetchRange())
	}
	if rebased.Viewport() != c.Viewport() {
		t.Errorf("rebase must not move the viewport")
	}
}

func TestParseCodeAndCode(t *testing.T) {
	cases := map[string]time.Duration{
		"1h":  time.Hour,
		"8h":  8 * time.Hour,
		"1d":  24 * time.Hour,
		"14d": 14 * 24 * time.Hour,
		"90m": 90 * time.Minute,
	}
	for code, want := range cases {
		got, err := viewport.ParseCode(code)
		if err != nil || got != want {
			t.Errorf("ParseCode(%q) = %s, %v; want %s", code, got, err, want)
		}
	}
	for _, bad := range []string{"", "x", "-1h", "0d"} {
		if _, err := viewport.ParseCode(bad); err == nil {
			t.Errorf("ParseCode(%q): expected error", bad)
		}
	}
	if got := viewport.Code(72 * time.Hour); got != "3d" {
		t.Errorf("Code(72h) = %q", got)
	}
	if got := viewport.Code(14 * 24 * time.Hour); got != "14d" {
		t.Errorf("Code(14d) = %q", got)
	}
	if got := viewport.Next(7 * 24 * time.Hour); got != time.Hour {
		t.Errorf("expected Next to wrap to 1h, got %s", got)
	}
}
