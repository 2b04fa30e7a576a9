// Package rows flattens the grouped domain model into the ordered row
// sequence the timeline draws, one line per group header, pipeline or job.
package rows

import (
	"strings"
	"time"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/model"
)

// Kind tells what a Row stands for.
type Kind int

const (
	KindGroup Kind = iota
	KindPipeline
	KindJob
)

func (k Kind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindPipeline:
		return "pipeline"
	case KindJob:
		return "job"
	default:
		return "unknown"
	}
}

// Row is one flattened, renderable line. Rows hold copies of the fields they
// need and never point into the model they were projected from.
type Row struct {
	Kind       Kind
	Level      int
	ID         string
	Group      domain.GroupKey
	PipelineID string
	JobID      string
	Label      string
	Status     domain.Status
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	User       *domain.User
	WebURL     string
	// Children is the number of rows this row hides or shows when toggled.
	Children  int
	Collapsed bool
}

// Span returns the row's execution interval. Running rows extend to now.
// ok is false when the row has no start.
func (r Row) Span(now time.Time) (start, end time.Time, ok bool) {
	if r.StartedAt == nil {
		return time.Time{}, time.Time{}, false
	}
	switch {
	case r.FinishedAt != nil:
		return *r.StartedAt, *r.FinishedAt, true
	case r.Status == domain.StatusRunning || r.Status == domain.StatusPending:
		return *r.StartedAt, now, true
	default:
		return *r.StartedAt, *r.StartedAt, true
	}
}

// GroupID is the row and collapse identifier of a group.
func GroupID(key domain.GroupKey) string {
	return "g:" + string(key.Kind) + ":" + key.ID
}

// PipelineID is the row and collapse identifier of a pipeline.
func PipelineID(id string) string {
	return "p:" + id
}

// JobID is the row identifier of a job.
func JobID(id string) string {
	return "j:" + id
}

// CollapseState records which groups are collapsed and which pipelines differ
// from the default pipeline state. It is immutable: Toggle returns a copy.
type CollapseState struct {
	pipelinesCollapsed bool
	toggled            map[string]bool
}

// NewCollapseState returns a state with every group expanded and every
// pipeline collapsed when pipelinesCollapsed is true, expanded otherwise.
func NewCollapseState(pipelinesCollapsed bool) CollapseState {
	return CollapseState{pipelinesCollapsed: pipelinesCollapsed}
}

// Toggle returns a new state with the row identified by id flipped.
func (c CollapseState) Toggle(id string) CollapseState {
	next := CollapseState{
		pipelinesCollapsed: c.pipelinesCollapsed,
		toggled:            make(map[string]bool, len(c.toggled)+1),
	}
	for k := range c.toggled {
		next.toggled[k] = true
	}
	if next.toggled[id] {
		delete(next.toggled, id)
	} else {
		next.toggled[id] = true
	}
	return next
}

// Collapsed reports whether the row identified by id is collapsed.
func (c CollapseState) Collapsed(id string) bool {
	if strings.HasPrefix(id, "p:") {
		return c.pipelinesCollapsed != c.toggled[id]
	}
	return c.toggled[id]
}

// Equal reports whether both states collapse the same rows.
func (c CollapseState) Equal(o CollapseState) bool {
	if c.pipelinesCollapsed != o.pipelinesCollapsed || len(c.toggled) != len(o.toggled) {
		return false
	}
	for k := range c.toggled {
		if !o.toggled[k] {
			return false
		}
	}
	return true
}

// Project returns the flat row sequence for m under state. Each group emits a
// header row followed, unless the group is collapsed, by its pipelines; each
// expanded pipeline is followed by its jobs. Project is pure: identical inputs
// yield value-equal, freshly allocated rows.
func Project(m model.Model, state CollapseState) []Row {
	n := len(m.Groups)
	for _, g := range m.Groups {
		n += len(g.Pipelines)
	}
	out := make([]Row, 0, n)
	for _, g := range m.Groups {
		gid := GroupID(g.Key)
		groupCollapsed := state.Collapsed(gid)
		out = append(out, Row{
			Kind:      KindGroup,
			Level:     0,
			ID:        gid,
			Group:     g.Key,
			Label:     g.Key.Label,
			Status:    groupStatus(g.Pipelines),
			Children:  len(g.Pipelines),
			Collapsed: groupCollapsed,
		})
		if groupCollapsed {
			continue
		}
		for _, p := range g.Pipelines {
			pid := PipelineID(p.ID)
			pipelineCollapsed := state.Collapsed(pid)
			out = append(out, Row{
				Kind:       KindPipeline,
				Level:      1,
				ID:         pid,
				Group:      g.Key,
				PipelineID: p.ID,
				Label:      pipelineLabel(p),
				Status:     p.Status,
				CreatedAt:  p.CreatedAt,
				StartedAt:  copyTime(p.StartedAt),
				FinishedAt: copyTime(p.FinishedAt),
				User:       copyUser(p.User),
				WebURL:     p.WebURL,
				Children:   len(p.Jobs),
				Collapsed:  pipelineCollapsed,
			})
			if pipelineCollapsed {
				continue
			}
			for _, j := range p.Jobs {
				out = append(out, Row{
					Kind:       KindJob,
					Level:      2,
					ID:         JobID(j.ID),
					Group:      g.Key,
					PipelineID: p.ID,
					JobID:      j.ID,
					Label:      j.Name,
					Status:     j.Status,
					CreatedAt:  j.CreatedAt,
					StartedAt:  copyTime(j.StartedAt),
					FinishedAt: copyTime(j.FinishedAt),
					User:       copyUser(j.User),
					WebURL:     j.WebURL,
				})
			}
		}
	}
	return out
}

// Find returns the index of the row with id, or -1.
func Find(rs []Row, id string) int {
	for i, r := range rs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func pipelineLabel(p domain.Pipeline) string {
	if p.Ref == "" {
		return "#" + p.ID
	}
	return "#" + p.ID + " " + p.Ref
}

// groupStatus summarizes a group: running wins, then failed, then the first
// pipeline's status.
func groupStatus(pipelines []domain.Pipeline) domain.Status {
	if len(pipelines) == 0 {
		return domain.StatusOther
	}
	status := pipelines[0].Status
	for _, p := range pipelines {
		if p.Status == domain.StatusRunning {
			return domain.StatusRunning
		}
		if p.Status == domain.StatusFailed {
			status = domain.StatusFailed
		}
	}
	return status
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
