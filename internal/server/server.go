// Package server exposes the timeline over HTTP: an SVG rendering, the JSON
// refresh result and Prometheus metrics. View state comes from the query
// string in the same encoding the terminal UI persists.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/timeline"
	"github.com/waabox/pipegantt/internal/urlstate"
	"github.com/waabox/pipegantt/internal/viewport"
)

// Config holds configuration for the HTTP server.
type Config struct {
	Addr     string
	Timeline *timeline.Service
	// Viewport is the initial coordinator; requests for longer durations widen it.
	Viewport viewport.Coordinator
	Defaults urlstate.State
	// RefreshInterval polls upstream in the background; 0 refreshes on demand only.
	RefreshInterval time.Duration
	Gatherer        prometheus.Gatherer
	Logger          *slog.Logger
	Now             func() time.Time
}

// Server is the HTTP surface.
type Server struct {
	addr     string
	timeline *timeline.Service
	defaults urlstate.State
	interval time.Duration
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	viewport viewport.Coordinator
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Timeline == nil {
		return nil, &domain.ConfigurationError{Field: "server", Reason: "timeline service is required"}
	}
	if cfg.Logger == nil {
		return nil, &domain.ConfigurationError{Field: "server", Reason: "logger is required"}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	return &Server{
		addr:     cfg.Addr,
		timeline: cfg.Timeline,
		defaults: cfg.Defaults,
		interval: cfg.RefreshInterval,
		gatherer: cfg.Gatherer,
		logger:   cfg.Logger,
		now:      cfg.Now,
		viewport: cfg.Viewport,
	}, nil
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Compress(5),
	)
	r.Get("/healthz", s.handleHealth)
	r.Get("/timeline.svg", s.handleSVG)
	r.Route("/api", func(r chi.Router) {
		r.Get("/timeline", s.handleJSON)
		r.Post("/refresh", s.handleRefresh)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Serve listens on the configured address and polls upstream until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	eg, egctx := errgroup.WithContext(ctx)
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.Routes(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting HTTP server", "addr", s.addr)

	eg.Go(func() error {
		err := s.timeline.Poll(egctx, s.interval, s.fetchRange)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Debug("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// fetchRange advances the viewport to now and returns its fetch range.
func (s *Server) fetchRange() viewport.Range {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport, _ = s.viewport.Advance(s.now())
	s.viewport = s.viewport.Rebase()
	return s.viewport.FetchRange()
}

// resolve returns the result to serve for a duration. A duration outside the
// fetched range widens the coordinator and refreshes synchronously.
func (s *Server) resolve(ctx context.Context, d time.Duration) (timeline.Result, viewport.Range, error) {
	s.mu.Lock()
	if d <= 0 {
		d = s.viewport.Viewport().Duration()
	}
	next, fetch, err := s.viewport.SetDuration(d)
	if err != nil {
		s.mu.Unlock()
		return timeline.Result{}, viewport.Range{}, err
	}
	last, ok := s.timeline.Last()
	if ok && !last.Fetch.Contains(next.Viewport()) {
		fetch = true
	}
	if fetch {
		s.viewport = next
	}
	fetchRange, visible := next.FetchRange(), next.Viewport()
	s.mu.Unlock()

	if !ok || fetch {
		s.logger.Debug("refreshing for request", "duration", d, "fetch_start", fetchRange.Start)
		res, err := s.timeline.Shared(ctx, fetchRange)
		if err != nil {
			return timeline.Result{}, viewport.Range{}, err
		}
		return res, visible, nil
	}
	return last, visible, nil
}

func (s *Server) state(r *http.Request) (urlstate.State, error) {
	return urlstate.FromValues(r.URL.Query(), s.defaults)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.timeline.Shared(r.Context(), s.fetchRange())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res, viewport.Range{}, urlstate.State{}))
}

// fail writes err with a status derived from its kind.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch domain.KindOf(err) {
	case domain.KindValidation, domain.KindDataIntegrity, domain.KindMalformedResponse:
		status = http.StatusUnprocessableEntity
	case domain.KindTimeout:
		status = http.StatusGatewayTimeout
	case domain.KindConfiguration:
		status = http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) {
		status = http.StatusServiceUnavailable
	}
	s.logger.Warn("request failed", "status", status, "err", err)
	http.Error(w, domain.UserMessage(err), status)
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return v, nil
}
