// Package timeline runs refresh cycles: fetch, build, analyze and project.
package timeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/waabox/pipegantt/internal/contention"
	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/metrics"
	"github.com/waabox/pipegantt/internal/model"
	"github.com/waabox/pipegantt/internal/provider"
	"github.com/waabox/pipegantt/internal/rows"
	"github.com/waabox/pipegantt/internal/viewport"
)

// Result is the outcome of one successful refresh cycle.
type Result struct {
	Model    model.Model
	Rows     []rows.Row
	Periods  []contention.Period
	Warnings []provider.Warning
	Fetch    viewport.Range
	At       time.Time
}

// Options configures a Service. Source and Logger are required.
type Options struct {
	Source  provider.Source
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// GroupBy selects user grouping even when projects are known.
	GroupBy domain.GroupKind
	// JobContention counts jobs instead of pipelines for contention.
	JobContention bool
	// Collapse is the state Result.Rows is projected with.
	Collapse rows.CollapseState
	// NotBefore, when set, is the earliest instant ever fetched.
	NotBefore time.Time
	Now       func() time.Time
}

// Service runs refresh cycles. Starting a refresh cancels the one in flight,
// and the last successful result is kept when a refresh fails. Callers that
// share a Service between independent clients use Shared instead of Refresh.
type Service struct {
	source        provider.Source
	logger        *slog.Logger
	metrics       *metrics.Metrics
	groupBy       domain.GroupKind
	jobContention bool
	collapse      rows.CollapseState
	notBefore     time.Time
	now           func() time.Time

	flight singleflight.Group
	serial sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
	seq    uint64
	last   *Result
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Source == nil {
		return nil, &domain.ConfigurationError{Field: "timeline", Reason: "source is required"}
	}
	if opts.Logger == nil {
		return nil, &domain.ConfigurationError{Field: "timeline", Reason: "logger is required"}
	}
	if opts.Metrics == nil {
		return nil, &domain.ConfigurationError{Field: "timeline", Reason: "metrics are required"}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		source:        opts.Source,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		groupBy:       opts.GroupBy,
		jobContention: opts.JobContention,
		collapse:      opts.Collapse,
		notBefore:     opts.NotBefore,
		now:           opts.Now,
	}, nil
}

// Refresh fetches fetch.Start onwards and rebuilds every derived collection.
// A newer Refresh cancels this one, which then returns a context error.
// Validation and integrity failures are returned unchanged so callers can
// recover their detail with errors.As.
func (s *Service) Refresh(ctx context.Context, fetch viewport.Range) (Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.seq++
	seq := s.seq
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.seq == seq {
			s.cancel = nil
		}
		s.mu.Unlock()
		cancel()
	}()

	started := s.now()
	res, err := s.refresh(ctx, fetch)
	switch {
	case err != nil && ctx.Err() != nil:
		s.observe("canceled")
		s.logger.Debug("refresh superseded", "err", err)
		return Result{}, err
	case err != nil:
		s.observe("error")
		s.logger.Error("refresh failed", "kind", domain.KindOf(err).String(), "err", err)
		return Result{}, err
	}

	s.mu.Lock()
	if s.seq != seq {
		s.mu.Unlock()
		s.observe("canceled")
		return Result{}, context.Canceled
	}
	s.last = &res
	s.mu.Unlock()

	outcome := "ok"
	if len(res.Warnings) > 0 {
		outcome = "partial"
	}
	s.observe(outcome)
	s.logger.Info("refresh completed",
		"pipelines", len(res.Model.Pipelines()),
		"rows", len(res.Rows),
		"periods", len(res.Periods),
		"warnings", len(res.Warnings),
		"elapsed", s.now().Sub(started))
	return res, nil
}

func (s *Service) refresh(ctx context.Context, fetch viewport.Range) (Result, error) {
	since := fetch.Start
	if since.Before(s.notBefore) {
		since = s.notBefore
	}
	snap, err := s.source.Fetch(ctx, since)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if s.groupBy == domain.GroupUser {
		snap.Projects = nil
	}
	m, err := model.Build(snap)
	if err != nil {
		return Result{}, err
	}
	now := s.now()
	var periods []contention.Period
	if s.jobContention {
		periods = contention.Analyze(contention.JobIntervals(m.Jobs(), now))
	} else {
		periods = contention.AnalyzePipelines(m.Pipelines(), now)
	}
	return Result{
		Model:    m,
		Rows:     rows.Project(m, s.collapse),
		Periods:  periods,
		Warnings: snap.Warnings,
		Fetch:    fetch,
		At:       now,
	}, nil
}

func (s *Service) observe(result string) {
	s.metrics.ObserveRefresh(result)
}

// Shared runs a refresh that never supersedes another Shared caller. Callers
// asking for the same range join the call in flight, and calls for different
// ranges run one after another. A caller whose ctx ends stops waiting without
// cancelling the call for the others.
func (s *Service) Shared(ctx context.Context, fetch viewport.Range) (Result, error) {
	key := fetch.Start.UTC().Format(time.RFC3339Nano) + "/" + fetch.End.UTC().Format(time.RFC3339Nano)
	ch := s.flight.DoChan(key, func() (interface{}, error) {
		s.serial.Lock()
		defer s.serial.Unlock()
		return s.Refresh(context.WithoutCancel(ctx), fetch)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		return r.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Last returns the last successful result.
func (s *Service) Last() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

// Cancel aborts the refresh in flight, if any.
func (s *Service) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Poll refreshes immediately and then every interval until ctx is done.
// rangeFn supplies the fetch range of each cycle. Cycles go through Shared, so
// they neither cancel nor are cancelled by other Shared callers. Failures are
// logged and the last good result stays available through Last. A
// non-positive interval refreshes once.
func (s *Service) Poll(ctx context.Context, interval time.Duration, rangeFn func() viewport.Range) error {
	if _, err := s.Shared(ctx, rangeFn()); err != nil && ctx.Err() == nil {
		s.logger.Warn("initial refresh failed", "err", err)
	}
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Shared(ctx, rangeFn()); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn("scheduled refresh failed", "err", err)
			}
		}
	}
}
