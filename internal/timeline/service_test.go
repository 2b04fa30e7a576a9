package timeline_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/waabox/pipegantt/internal/contention"
	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/metrics"
	"github.com/waabox/pipegantt/internal/provider"
	"github.com/waabox/pipegantt/internal/rows"
	"github.com/waabox/pipegantt/internal/testutil"
	"github.com/waabox/pipegantt/internal/timeline"
	"github.com/waabox/pipegantt/internal/viewport"
)

var now = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	fetch func(ctx context.Context, since time.Time) (provider.Snapshot, error)
	calls atomic.Int32
}

func (f *fakeSource) Fetch(ctx context.Context, since time.Time) (provider.Snapshot, error) {
	f.calls.Add(1)
	return f.fetch(ctx, since)
}

func strp(s string) *string { return &s }

func snapshot() provider.Snapshot {
	user := &provider.RawUser{ID: 3, Username: "carol"}
	return provider.Snapshot{
		Projects: []provider.RawProject{{ID: 1, PathWithNamespace: "acme/api"}},
		Pipelines: []provider.RawPipeline{
			{ID: 10, ProjectID: 1, Status: "success", CreatedAt: "2026-02-01T11:00:00Z",
				StartedAt: strp("2026-02-01T11:00:00Z"), FinishedAt: strp("2026-02-01T11:30:00Z"), User: user},
			{ID: 11, ProjectID: 1, Status: "running", CreatedAt: "2026-02-01T11:10:00Z",
				StartedAt: strp("2026-02-01T11:10:00Z"), User: user},
		},
		Jobs: []provider.RawJob{
			{ID: 100, Name: "build", Status: "success", CreatedAt: "2026-02-01T11:00:00Z",
				Pipeline: provider.RawJobPipeline{ID: 10, ProjectID: 1}},
		},
	}
}

func fetchRange() viewport.Range {
	return viewport.Range{Start: now.Add(-7 * time.Hour), End: now}
}

func newService(t *testing.T, src provider.Source, opts timeline.Options) (*timeline.Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(prometheus.NewRegistry())
	opts.Source = src
	opts.Logger = testutil.NewLogger(t)
	opts.Metrics = m
	opts.Now = func() time.Time { return now }
	s, err := timeline.New(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s, m
}

func TestRefresh_BuildsEveryDerivedCollection(t *testing.T) {
	var since time.Time
	src := &fakeSource{fetch: func(_ context.Context, s time.Time) (provider.Snapshot, error) {
		since = s
		return snapshot(), nil
	}}
	svc, m := newService(t, src, timeline.Options{Collapse: rows.NewCollapseState(false)})

	res, err := svc.Refresh(context.Background(), fetchRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !since.Equal(now.Add(-7 * time.Hour)) {
		t.Errorf("expected fetch from the lower bound, got %v", since)
	}
	if len(res.Model.Groups) != 1 || res.Model.Mode != domain.GroupProject {
		t.Errorf("unexpected model %+v", res.Model)
	}
	if len(res.Rows) != 4 {
		t.Errorf("expected group, two pipelines and a job, got %d rows", len(res.Rows))
	}
	if got := contention.CountAt(res.Periods, now.Add(-45*time.Minute)); got != 2 {
		t.Errorf("expected both pipelines to overlap at 11:15, got %d", got)
	}
	if got := contention.CountAt(res.Periods, now.Add(-time.Minute)); got != 1 {
		t.Errorf("expected the running pipeline to extend to now, got %d", got)
	}
	if last, ok := svc.Last(); !ok || len(last.Rows) != 4 {
		t.Errorf("expected the result to be kept")
	}
	if got := promtest.ToFloat64(m.Refreshes.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected one ok refresh, got %f", got)
	}
}

func TestRefresh_NeverFetchesBeforeNotBefore(t *testing.T) {
	var since time.Time
	src := &fakeSource{fetch: func(_ context.Context, s time.Time) (provider.Snapshot, error) {
		since = s
		return snapshot(), nil
	}}
	bound := now.Add(-2 * time.Hour)
	svc, _ := newService(t, src, timeline.Options{NotBefore: bound})
	res, err := svc.Refresh(context.Background(), fetchRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !since.Equal(bound) {
		t.Errorf("expected fetch from %v, got %v", bound, since)
	}
	if !res.Fetch.Start.Equal(now.Add(-7 * time.Hour)) {
		t.Errorf("expected the requested range to be reported, got %v", res.Fetch)
	}
}

func TestRefresh_FailureKeepsLastGoodResult(t *testing.T) {
	fail := false
	src := &fakeSource{fetch: func(context.Context, time.Time) (provider.Snapshot, error) {
		snap := snapshot()
		if fail {
			snap.Jobs[0].Pipeline.ID = 9999
		}
		return snap, nil
	}}
	svc, m := newService(t, src, timeline.Options{})
	if _, err := svc.Refresh(context.Background(), fetchRange()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fail = true
	_, err := svc.Refresh(context.Background(), fetchRange())
	var de *domain.DataIntegrityError
	if !errors.As(err, &de) || de.Missing != "9999" {
		t.Fatalf("expected integrity error, got %v", err)
	}
	last, ok := svc.Last()
	if !ok || len(last.Model.Pipelines()) != 2 {
		t.Errorf("expected the previous result to survive, got %+v", last)
	}
	if got := promtest.ToFloat64(m.Refreshes.WithLabelValues("error")); got != 1 {
		t.Errorf("expected one failed refresh, got %f", got)
	}
}

func TestRefresh_NewRefreshCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	src := &fakeSource{}
	src.fetch = func(ctx context.Context, _ time.Time) (provider.Snapshot, error) {
		if src.calls.Load() == 1 {
			close(started)
			<-ctx.Done()
			return provider.Snapshot{}, ctx.Err()
		}
		return snapshot(), nil
	}
	svc, m := newService(t, src, timeline.Options{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Refresh(context.Background(), fetchRange())
		firstErr <- err
	}()
	<-started

	if _, err := svc.Refresh(context.Background(), fetchRange()); err != nil {
		t.Fatalf("second refresh failed: %v", err)
	}
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected the first refresh to be canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first refresh was never canceled")
	}
	if got := promtest.ToFloat64(m.Refreshes.WithLabelValues("canceled")); got != 1 {
		t.Errorf("expected one canceled refresh, got %f", got)
	}
}

func TestRefresh_UserGroupingIgnoresProjects(t *testing.T) {
	src := &fakeSource{fetch: func(context.Context, time.Time) (provider.Snapshot, error) {
		return snapshot(), nil
	}}
	svc, _ := newService(t, src, timeline.Options{GroupBy: domain.GroupUser})
	res, err := svc.Refresh(context.Background(), fetchRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Model.Mode != domain.GroupUser || res.Model.Groups[0].Key.Label != "carol" {
		t.Errorf("expected grouping by user, got %+v", res.Model.Keys())
	}
}

func TestRefresh_PartialFailureIsReported(t *testing.T) {
	warn := provider.Warning{Entity: "2", Err: &domain.Error{Kind: domain.KindNetwork, Op: "list pipelines"}}
	src := &fakeSource{fetch: func(context.Context, time.Time) (provider.Snapshot, error) {
		snap := snapshot()
		snap.Warnings = []provider.Warning{warn}
		return snap, nil
	}}
	svc, m := newService(t, src, timeline.Options{JobContention: true})
	res, err := svc.Refresh(context.Background(), fetchRange())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Entity != "2" {
		t.Errorf("expected the warning to be passed through, got %+v", res.Warnings)
	}
	if len(res.Periods) != 0 {
		t.Errorf("jobs without start times cannot contend, got %+v", res.Periods)
	}
	if got := promtest.ToFloat64(m.Refreshes.WithLabelValues("partial")); got != 1 {
		t.Errorf("expected one partial refresh, got %f", got)
	}
}

func TestPoll_RefreshesOnceWithoutInterval(t *testing.T) {
	src := &fakeSource{fetch: func(context.Context, time.Time) (provider.Snapshot, error) {
		return snapshot(), nil
	}}
	svc, _ := newService(t, src, timeline.Options{})
	if err := svc.Poll(context.Background(), 0, fetchRange); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if src.calls.Load() != 1 {
		t.Errorf("expected a single refresh, got %d", src.calls.Load())
	}
}

func TestPoll_StopsWithContext(t *testing.T) {
	src := &fakeSource{fetch: func(context.Context, time.Time) (provider.Snapshot, error) {
		return snapshot(), nil
	}}
	svc, _ := newService(t, src, timeline.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	err := svc.Poll(ctx, 10*time.Millisecond, fetchRange)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if src.calls.Load() < 2 {
		t.Errorf("expected repeated refreshes, got %d", src.calls.Load())
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := timeline.New(timeline.Options{Logger: testutil.NewLogger(t)}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected configuration error without a source, got %v", err)
	}
	if _, err := timeline.New(timeline.Options{Source: &fakeSource{}}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected configuration error without a logger, got %v", err)
	}
	if _, err := timeline.New(timeline.Options{Source: &fakeSource{}, Logger: testutil.NewLogger(t)}); !errors.Is(err, domain.ErrConfiguration) {
		t.Errorf("expected configuration error without metrics, got %v", err)
	}
}

// blockingSource holds every Fetch until release is closed.
func blockingSource(release <-chan struct{}) *fakeSource {
	return &fakeSource{fetch: func(ctx context.Context, _ time.Time) (provider.Snapshot, error) {
		select {
		case <-release:
			return snapshot(), nil
		case <-ctx.Done():
			return provider.Snapshot{}, ctx.Err()
		}
	}}
}

func waitForCalls(t *testing.T, src *fakeSource, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for src.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d fetches, got %d", n, src.calls.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestShared_SameRangeJoinsCallInFlight(t *testing.T) {
	release := make(chan struct{})
	src := blockingSource(release)
	svc, _ := newService(t, src, timeline.Options{})

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := svc.Shared(context.Background(), fetchRange())
			errs <- err
		}()
	}
	waitForCalls(t, src, 1)
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		if err := <-errs; err != nil {
			t.Errorf("caller %d failed: %v", i, err)
		}
	}
	if src.calls.Load() != 1 {
		t.Errorf("expected callers to share one fetch, got %d", src.calls.Load())
	}
}

func TestShared_DifferentRangesRunInTurn(t *testing.T) {
	release := make(chan struct{})
	src := blockingSource(release)
	svc, m := newService(t, src, timeline.Options{})

	first := make(chan error, 1)
	go func() {
		_, err := svc.Shared(context.Background(), fetchRange())
		first <- err
	}()
	waitForCalls(t, src, 1)

	wider := viewport.Range{Start: now.Add(-14 * time.Hour), End: now}
	second := make(chan error, 1)
	go func() {
		_, err := svc.Shared(context.Background(), wider)
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)
	if src.calls.Load() != 1 {
		t.Errorf("expected the second range to wait for the first, got %d fetches", src.calls.Load())
	}
	close(release)

	if err := <-first; err != nil {
		t.Errorf("first caller was superseded: %v", err)
	}
	if err := <-second; err != nil {
		t.Errorf("second caller failed: %v", err)
	}
	if got := promtest.ToFloat64(m.Refreshes.WithLabelValues("canceled")); got != 0 {
		t.Errorf("expected no canceled refresh, got %f", got)
	}
	if last, ok := svc.Last(); !ok || last.Fetch != wider {
		t.Errorf("expected the later range to be the last result, got %+v", last.Fetch)
	}
}

func TestShared_CallerLeavingDoesNotCancelOthers(t *testing.T) {
	release := make(chan struct{})
	src := blockingSource(release)
	svc, _ := newService(t, src, timeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	leaving := make(chan error, 1)
	go func() {
		_, err := svc.Shared(ctx, fetchRange())
		leaving <- err
	}()
	waitForCalls(t, src, 1)

	staying := make(chan error, 1)
	go func() {
		_, err := svc.Shared(context.Background(), fetchRange())
		staying <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-leaving; !errors.Is(err, context.Canceled) {
		t.Errorf("expected the leaving caller to stop waiting, got %v", err)
	}
	close(release)
	if err := <-staying; err != nil {
		t.Errorf("expected the remaining caller to get the result, got %v", err)
	}
}
