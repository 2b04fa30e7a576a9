// Package model turns raw upstream payloads into the validated domain model.
//
// Build is a fail-fast boundary: the first structural defect or dangling
// reference aborts the whole transform with a *domain.ValidationError or
// *domain.DataIntegrityError. No record is skipped silently.
package model

import (
	"strconv"
	"time"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/provider"
)

// Model is the validated domain model of one refresh cycle.
type Model struct {
	Mode   domain.GroupKind
	Groups []domain.Group
}

// Pipelines returns every pipeline in display order.
func (m Model) Pipelines() []domain.Pipeline {
	var out []domain.Pipeline
	for _, g := range m.Groups {
		out = append(out, g.Pipelines...)
	}
	return out
}

// Jobs returns every job in display order.
func (m Model) Jobs() []domain.Job {
	var out []domain.Job
	for _, g := range m.Groups {
		for _, p := range g.Pipelines {
			out = append(out, p.Jobs...)
		}
	}
	return out
}

// Keys returns the group keys in display order.
func (m Model) Keys() []domain.GroupKey {
	keys := make([]domain.GroupKey, len(m.Groups))
	for i, g := range m.Groups {
		keys[i] = g.Key
	}
	return keys
}

// Build converts a snapshot into a Model. Pipelines are grouped by project when
// snap.Projects is non-empty and by triggering user otherwise; an empty but
// non-nil project table still selects user grouping.
func Build(snap provider.Snapshot) (Model, error) {
	mode := domain.GroupUser
	if len(snap.Projects) > 0 {
		mode = domain.GroupProject
	}

	projects, err := projectTable(snap.Projects)
	if err != nil {
		return Model{}, err
	}

	pipelines := make([]domain.Pipeline, 0, len(snap.Pipelines))
	index := make(map[string]int, len(snap.Pipelines))
	order := make([]string, 0, len(snap.Pipelines))
	for _, raw := range snap.Pipelines {
		p, err := toPipeline(raw)
		if err != nil {
			return Model{}, err
		}
		if _, dup := index[p.ID]; dup {
			return Model{}, &domain.ValidationError{Entity: "pipeline", ID: p.ID, Field: "id", Reason: "is duplicated"}
		}
		index[p.ID] = len(pipelines)
		order = append(order, p.ID)
		pipelines = append(pipelines, p)
	}

	for _, raw := range snap.Jobs {
		j, err := toJob(raw)
		if err != nil {
			return Model{}, err
		}
		i, ok := index[j.PipelineID]
		if !ok {
			return Model{}, &domain.DataIntegrityError{
				Entity:   "job",
				EntityID: j.ID,
				Ref:      "pipeline",
				Missing:  j.PipelineID,
				Known:    append([]string(nil), order...),
			}
		}
		pipelines[i].Jobs = append(pipelines[i].Jobs, j)
	}

	for i := range pipelines {
		derive(&pipelines[i])
	}

	groups, err := group(mode, projects, pipelines)
	if err != nil {
		return Model{}, err
	}
	return Model{Mode: mode, Groups: groups}, nil
}

type projectLookup struct {
	byID  map[string]provider.RawProject
	order []string
}

func projectTable(raws []provider.RawProject) (projectLookup, error) {
	t := projectLookup{byID: make(map[string]provider.RawProject, len(raws))}
	for _, p := range raws {
		if p.ID == 0 {
			return projectLookup{}, &domain.ValidationError{Entity: "project", Field: "id", Reason: "is required"}
		}
		id := strconv.FormatInt(p.ID, 10)
		if _, dup := t.byID[id]; !dup {
			t.order = append(t.order, id)
		}
		t.byID[id] = p
	}
	return t, nil
}

// group resolves each pipeline's GroupKey and collects groups in order of first encounter.
func group(mode domain.GroupKind, projects projectLookup, pipelines []domain.Pipeline) ([]domain.Group, error) {
	var groups []domain.Group
	position := map[string]int{}
	for _, p := range pipelines {
		key, err := resolveKey(mode, projects, p)
		if err != nil {
			return nil, err
		}
		i, seen := position[key.ID]
		if !seen {
			i = len(groups)
			position[key.ID] = i
			groups = append(groups, domain.Group{Key: key})
		}
		groups[i].Pipelines = append(groups[i].Pipelines, p)
	}
	return groups, nil
}

func resolveKey(mode domain.GroupKind, projects projectLookup, p domain.Pipeline) (domain.GroupKey, error) {
	if mode == domain.GroupProject {
		proj, ok := projects.byID[p.GroupID]
		if !ok {
			return domain.GroupKey{}, &domain.DataIntegrityError{
				Entity:   "pipeline",
				EntityID: p.ID,
				Ref:      "project",
				Missing:  p.GroupID,
				Known:    append([]string(nil), projects.order...),
			}
		}
		label := proj.PathWithNamespace
		if label == "" {
			label = proj.Name
		}
		return domain.GroupKey{Kind: domain.GroupProject, ID: p.GroupID, Label: label}, nil
	}
	if p.User == nil || p.User.ID == "" {
		return domain.GroupKey{}, &domain.ValidationError{Entity: "pipeline", ID: p.ID, Field: "user", Reason: "is required when grouping by user"}
	}
	label := p.User.Name
	if label == "" {
		label = p.User.Username
	}
	return domain.GroupKey{Kind: domain.GroupUser, ID: p.User.ID, Label: label}, nil
}

func toPipeline(raw provider.RawPipeline) (domain.Pipeline, error) {
	id := formatID(raw.ID)
	invalid := func(field, reason string) error {
		return &domain.ValidationError{Entity: "pipeline", ID: id, Field: field, Reason: reason}
	}
	if raw.ID == 0 {
		return domain.Pipeline{}, invalid("id", "is required")
	}
	if raw.ProjectID == 0 {
		return domain.Pipeline{}, invalid("project_id", "is required")
	}
	if raw.Status == "" {
		return domain.Pipeline{}, invalid("status", "is required")
	}
	if raw.CreatedAt == "" {
		return domain.Pipeline{}, invalid("created_at", "is required")
	}
	created, err := parseTime(raw.CreatedAt)
	if err != nil {
		return domain.Pipeline{}, invalid("created_at", err.Error())
	}
	started, err := parseOptionalTime(raw.StartedAt)
	if err != nil {
		return domain.Pipeline{}, invalid("started_at", err.Error())
	}
	finished, err := parseOptionalTime(raw.FinishedAt)
	if err != nil {
		return domain.Pipeline{}, invalid("finished_at", err.Error())
	}
	if started != nil && finished != nil && finished.Before(*started) {
		return domain.Pipeline{}, invalid("finished_at", "is before started_at")
	}
	return domain.Pipeline{
		ID:         id,
		GroupID:    formatID(raw.ProjectID),
		Ref:        raw.Ref,
		Status:     mapStatus(raw.Status),
		CreatedAt:  created,
		StartedAt:  started,
		FinishedAt: finished,
		User:       toUser(raw.User),
		WebURL:     raw.WebURL,
	}, nil
}

func toJob(raw provider.RawJob) (domain.Job, error) {
	id := formatID(raw.ID)
	invalid := func(field, reason string) error {
		return &domain.ValidationError{Entity: "job", ID: id, Field: field, Reason: reason}
	}
	if raw.ID == 0 {
		return domain.Job{}, invalid("id", "is required")
	}
	if raw.Pipeline.ID == 0 {
		return domain.Job{}, invalid("pipeline.id", "is required")
	}
	if raw.Status == "" {
		return domain.Job{}, invalid("status", "is required")
	}
	if raw.CreatedAt == "" {
		return domain.Job{}, invalid("created_at", "is required")
	}
	created, err := parseTime(raw.CreatedAt)
	if err != nil {
		return domain.Job{}, invalid("created_at", err.Error())
	}
	started, err := parseOptionalTime(raw.StartedAt)
	if err != nil {
		return domain.Job{}, invalid("started_at", err.Error())
	}
	finished, err := parseOptionalTime(raw.FinishedAt)
	if err != nil {
		return domain.Job{}, invalid("finished_at", err.Error())
	}
	if started != nil && finished != nil && finished.Before(*started) {
		return domain.Job{}, invalid("finished_at", "is before started_at")
	}
	var runner *domain.Runner
	if raw.Runner != nil {
		runner = &domain.Runner{ID: formatID(raw.Runner.ID), Description: raw.Runner.Description}
	}
	return domain.Job{
		ID:            id,
		PipelineID:    formatID(raw.Pipeline.ID),
		Name:          raw.Name,
		Stage:         raw.Stage,
		Status:        mapStatus(raw.Status),
		CreatedAt:     created,
		StartedAt:     started,
		FinishedAt:    finished,
		Runner:        runner,
		FailureReason: raw.FailureReason,
		User:          toUser(raw.User),
		WebURL:        raw.WebURL,
	}, nil
}

// derive fills pipeline fields the list endpoint omits from the pipeline's jobs:
// start from the earliest job start, finish from the latest job finish once the
// pipeline is terminal, and the triggering user from the first job.
func derive(p *domain.Pipeline) {
	if len(p.Jobs) == 0 {
		return
	}
	if p.StartedAt == nil {
		for _, j := range p.Jobs {
			if j.StartedAt != nil && (p.StartedAt == nil || j.StartedAt.Before(*p.StartedAt)) {
				t := *j.StartedAt
				p.StartedAt = &t
			}
		}
	}
	if p.FinishedAt == nil && p.Status.Terminal() {
		for _, j := range p.Jobs {
			if j.FinishedAt != nil && (p.FinishedAt == nil || j.FinishedAt.After(*p.FinishedAt)) {
				t := *j.FinishedAt
				p.FinishedAt = &t
			}
		}
		if p.StartedAt != nil && p.FinishedAt != nil && p.FinishedAt.Before(*p.StartedAt) {
			p.FinishedAt = nil
		}
	}
	if p.User == nil {
		for _, j := range p.Jobs {
			if j.User != nil {
				u := *j.User
				p.User = &u
				break
			}
		}
	}
}

func toUser(raw *provider.RawUser) *domain.User {
	if raw == nil {
		return nil
	}
	return &domain.User{
		ID:        formatID(raw.ID),
		Username:  raw.Username,
		Name:      raw.Name,
		AvatarURL: raw.AvatarURL,
	}
}

func mapStatus(status string) domain.Status {
	switch status {
	case "success":
		return domain.StatusSuccess
	case "failed":
		return domain.StatusFailed
	case "running":
		return domain.StatusRunning
	case "pending", "created", "waiting_for_resource", "preparing", "scheduled":
		return domain.StatusPending
	case "canceled", "canceling":
		return domain.StatusCanceled
	default:
		return domain.StatusOther
	}
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
