package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/waabox/pipegantt/internal/contention"
	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/model"
	"github.com/waabox/pipegantt/internal/render"
	"github.com/waabox/pipegantt/internal/rows"
	"github.com/waabox/pipegantt/internal/timeline"
	"github.com/waabox/pipegantt/internal/urlstate"
	"github.com/waabox/pipegantt/internal/viewport"
)

func (s *Server) handleSVG(w http.ResponseWriter, r *http.Request) {
	st, err := s.state(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := render.SVGOptions(s.logger)
	if opts.Width, err = queryFloat(r, "w", opts.Width); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if opts.Height, err = queryFloat(r, "h", opts.Height); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	engine, err := render.NewEngine(opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, visible, err := s.resolve(r.Context(), st.Duration)
	if err != nil {
		s.fail(w, err)
		return
	}
	engine.SetData(render.Data{Model: res.Model, Periods: res.Periods, Fetch: res.Fetch}, res.At)
	engine.SetView(render.View{
		Collapse: rows.NewCollapseState(r.URL.Query().Get("jobs") != "1"),
		Statuses: st.Statuses,
		Search:   st.Search,
	})

	var buf bytes.Buffer
	if err := render.WriteSVG(&buf, engine.Render(visible)); err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	st, err := s.state(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, visible, err := s.resolve(r.Context(), st.Duration)
	if err != nil {
		s.fail(w, err)
		return
	}
	res.Model = model.Filter(res.Model, st.Statuses, st.Search)
	res.Rows = rows.Project(res.Model, rows.NewCollapseState(r.URL.Query().Get("jobs") != "1"))
	writeJSON(w, http.StatusOK, toResponse(res, visible, st))
}

type rangeJSON struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type rowJSON struct {
	ID         string     `json:"id"`
	Kind       string     `json:"kind"`
	Level      int        `json:"level"`
	Label      string     `json:"label"`
	Status     string     `json:"status"`
	Group      string     `json:"group"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	User       string     `json:"user,omitempty"`
	WebURL     string     `json:"web_url,omitempty"`
	Collapsed  bool       `json:"collapsed,omitempty"`
}

type periodJSON struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Count    int       `json:"count"`
	Severity string    `json:"severity"`
}

type warningJSON struct {
	Entity  string `json:"entity"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type groupJSON struct {
	Kind      string `json:"kind"`
	ID        string `json:"id"`
	Label     string `json:"label"`
	Pipelines int    `json:"pipelines"`
}

type response struct {
	Location string        `json:"location"`
	Fetch    rangeJSON     `json:"fetch"`
	Viewport *rangeJSON    `json:"viewport,omitempty"`
	At       time.Time     `json:"at"`
	Groups   []groupJSON   `json:"groups"`
	Rows     []rowJSON     `json:"rows"`
	Periods  []periodJSON  `json:"contention"`
	Warnings []warningJSON `json:"warnings"`
}

func toResponse(res timeline.Result, visible viewport.Range, st urlstate.State) response {
	out := response{
		Location: st.Encode(),
		Fetch:    rangeJSON{Start: res.Fetch.Start, End: res.Fetch.End},
		At:       res.At,
		Groups:   []groupJSON{},
		Rows:     []rowJSON{},
		Periods:  []periodJSON{},
		Warnings: []warningJSON{},
	}
	if visible != (viewport.Range{}) {
		out.Viewport = &rangeJSON{Start: visible.Start, End: visible.End}
	}
	for _, g := range res.Model.Groups {
		out.Groups = append(out.Groups, groupJSON{Kind: string(g.Key.Kind), ID: g.Key.ID, Label: g.Key.Label, Pipelines: len(g.Pipelines)})
	}
	for _, r := range res.Rows {
		row := rowJSON{
			ID: r.ID, Kind: r.Kind.String(), Level: r.Level, Label: r.Label, Status: string(r.Status),
			Group: r.Group.Label, StartedAt: r.StartedAt, FinishedAt: r.FinishedAt, WebURL: r.WebURL,
			Collapsed: r.Collapsed,
		}
		if r.User != nil {
			row.User = r.User.Username
		}
		out.Rows = append(out.Rows, row)
	}
	for _, p := range contention.Contended(res.Periods, contention.SeverityLow) {
		out.Periods = append(out.Periods, periodJSON{Start: p.Start, End: p.End, Count: p.Count, Severity: p.Severity.String()})
	}
	for _, wn := range res.Warnings {
		out.Warnings = append(out.Warnings, warningJSON{
			Entity:  wn.Entity,
			Kind:    domain.KindOf(wn.Err).String(),
			Message: domain.UserMessage(wn.Err),
		})
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
