package gitlab

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/waabox/pipegantt/internal/provider"
)

// Target selects the projects a Source fetches: every project of GroupID, or
// the explicit ProjectIDs when GroupID is empty.
type Target struct {
	GroupID    string
	ProjectIDs []string
}

// Source implements provider.Source on top of a Client.
type Source struct {
	client *Client
	target Target
}

// Ensure Source implements provider.Source.
var _ provider.Source = (*Source)(nil)

// NewSource creates a Source for target.
func NewSource(client *Client, target Target) (*Source, error) {
	if client == nil {
		return nil, errors.New("gitlab source: client is required")
	}
	if target.GroupID == "" && len(target.ProjectIDs) == 0 {
		return nil, errors.New("gitlab source: a group or at least one project is required")
	}
	return &Source{client: client, target: target}, nil
}

type projectResult struct {
	project   provider.RawProject
	pipelines []provider.RawPipeline
	jobs      []provider.RawJob
	err       error
}

// Fetch resolves the target projects and fetches their pipelines and jobs
// concurrently. Each project is isolated: the call fails only when every
// project fails, otherwise failed projects are reported as warnings.
// Results keep the order projects were requested in.
func (s *Source) Fetch(ctx context.Context, since time.Time) (provider.Snapshot, error) {
	var (
		projects []provider.RawProject
		warnings []provider.Warning
		ids      []string
	)
	if s.target.GroupID != "" {
		listed, err := s.client.ListGroupProjects(ctx, s.target.GroupID)
		if err != nil {
			return provider.Snapshot{}, err
		}
		projects = listed
		for _, p := range listed {
			ids = append(ids, strconv.FormatInt(p.ID, 10))
		}
	} else {
		ids = s.target.ProjectIDs
	}
	if len(ids) == 0 {
		return provider.Snapshot{Projects: []provider.RawProject{}}, nil
	}

	results := make([]projectResult, len(ids))
	var g errgroup.Group
	g.SetLimit(s.client.concurrency)
	for i, id := range ids {
		var known *provider.RawProject
		if projects != nil {
			known = &projects[i]
		}
		g.Go(func() error {
			results[i] = s.fetchProject(ctx, id, known, since)
			// Never fail the group: siblings must settle independently.
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return provider.Snapshot{}, err
	}

	snap := provider.Snapshot{Projects: []provider.RawProject{}}
	var failures []error
	for i, r := range results {
		if r.err != nil {
			warnings = append(warnings, provider.Warning{Entity: ids[i], Err: r.err})
			failures = append(failures, r.err)
			s.client.logger.Warn("project fetch failed", "project", ids[i], "err", r.err)
			continue
		}
		snap.Projects = append(snap.Projects, r.project)
		snap.Pipelines = append(snap.Pipelines, r.pipelines...)
		snap.Jobs = append(snap.Jobs, r.jobs...)
	}
	if len(failures) == len(ids) {
		return provider.Snapshot{}, fmt.Errorf("all %d projects failed: %w", len(ids), errors.Join(failures...))
	}
	if len(warnings) > 0 {
		s.client.metrics.ObservePartialFailures(len(warnings))
	}
	snap.Warnings = warnings
	s.client.logger.Debug("fetched snapshot",
		"projects", len(snap.Projects),
		"pipelines", len(snap.Pipelines),
		"jobs", len(snap.Jobs),
		"warnings", len(warnings))
	return snap, nil
}

// fetchProject fetches one project's metadata (unless already known), its
// pipelines and their jobs. Job lists are fetched concurrently and the first
// failure cancels the rest of this project only.
func (s *Source) fetchProject(ctx context.Context, id string, known *provider.RawProject, since time.Time) projectResult {
	var project provider.RawProject
	if known != nil {
		project = *known
	} else {
		p, err := s.client.GetProject(ctx, id)
		if err != nil {
			return projectResult{err: err}
		}
		project = p
	}

	pipelines, err := s.client.ListPipelines(ctx, id, since)
	if err != nil {
		return projectResult{err: err}
	}

	jobsPerPipeline := make([][]provider.RawJob, len(pipelines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.client.concurrency)
	for i, p := range pipelines {
		g.Go(func() error {
			jobs, err := s.client.ListJobs(gctx, id, p.ID)
			if err != nil {
				return err
			}
			jobsPerPipeline[i] = jobs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return projectResult{err: err}
	}

	var jobs []provider.RawJob
	for _, js := range jobsPerPipeline {
		jobs = append(jobs, js...)
	}
	return projectResult{project: project, pipelines: pipelines, jobs: jobs}
}
