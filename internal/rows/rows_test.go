package rows_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/model"
	"github.com/waabox/pipegantt/internal/rows"
)

func fixture() model.Model {
	start := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	api := domain.GroupKey{Kind: domain.GroupProject, ID: "1", Label: "acme/api"}
	web := domain.GroupKey{Kind: domain.GroupProject, ID: "2", Label: "acme/web"}
	return model.Model{
		Mode: domain.GroupProject,
		Groups: []domain.Group{
			{Key: api, Pipelines: []domain.Pipeline{
				{ID: "100", GroupID: "1", Ref: "main", Status: domain.StatusSuccess, StartedAt: &start,
					User: &domain.User{ID: "7", Username: "alice"},
					Jobs: []domain.Job{
						{ID: "1001", PipelineID: "100", Name: "build", Status: domain.StatusSuccess},
						{ID: "1002", PipelineID: "100", Name: "test", Status: domain.StatusFailed},
					}},
				{ID: "101", GroupID: "1", Ref: "feat", Status: domain.StatusRunning},
			}},
			{Key: web, Pipelines: []domain.Pipeline{
				{ID: "102", GroupID: "2", Status: domain.StatusFailed,
					Jobs: []domain.Job{{ID: "1003", PipelineID: "102", Name: "lint", Status: domain.StatusFailed}}},
			}},
		},
	}
}

func ids(rs []rows.Row) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestProject_ExpandedEmitsJobsAfterPipelines(t *testing.T) {
	got := rows.Project(fixture(), rows.NewCollapseState(false))
	want := []string{"g:project:1", "p:100", "j:1001", "j:1002", "p:101", "g:project:2", "p:102", "j:1003"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Fatalf("unexpected rows (-want +got):\n%s", diff)
	}
	levels := []int{0, 1, 2, 2, 1, 0, 1, 2}
	for i, r := range got {
		if r.Level != levels[i] {
			t.Errorf("row %s: expected level %d, got %d", r.ID, levels[i], r.Level)
		}
	}
	if got[0].Status != domain.StatusRunning {
		t.Errorf("expected group with a running pipeline to be running, got %s", got[0].Status)
	}
	if got[1].Label != "#100 main" || got[1].Children != 2 {
		t.Errorf("unexpected pipeline row %+v", got[1])
	}
}

func TestProject_CollapsedPipelineContributesOneRow(t *testing.T) {
	got := rows.Project(fixture(), rows.NewCollapseState(true))
	want := []string{"g:project:1", "p:100", "p:101", "g:project:2", "p:102"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("unexpected rows (-want +got):\n%s", diff)
	}

	expanded := rows.NewCollapseState(true).Toggle(rows.PipelineID("102"))
	got = rows.Project(fixture(), expanded)
	want = []string{"g:project:1", "p:100", "p:101", "g:project:2", "p:102", "j:1003"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("unexpected rows after expanding 102 (-want +got):\n%s", diff)
	}
}

func TestProject_CollapsedGroupContributesNoPipelines(t *testing.T) {
	state := rows.NewCollapseState(false).Toggle(rows.GroupID(fixture().Groups[0].Key))
	got := rows.Project(fixture(), state)
	want := []string{"g:project:1", "g:project:2", "p:102", "j:1003"}
	if diff := cmp.Diff(want, ids(got)); diff != "" {
		t.Errorf("unexpected rows (-want +got):\n%s", diff)
	}
	if !got[0].Collapsed {
		t.Errorf("expected group header to be marked collapsed")
	}
}

func TestProject_IsIdempotentWithFreshRows(t *testing.T) {
	m := fixture()
	state := rows.NewCollapseState(false)
	a := rows.Project(m, state)
	b := rows.Project(m, state)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("projection is not idempotent (-first +second):\n%s", diff)
	}
	if &a[0] == &b[0] {
		t.Errorf("expected freshly allocated rows")
	}
	if a[1].StartedAt == m.Groups[0].Pipelines[0].StartedAt {
		t.Errorf("rows must not share pointers with the model")
	}
	a[1].User.Username = "mallory"
	if m.Groups[0].Pipelines[0].User.Username != "alice" {
		t.Errorf("mutating a row leaked into the model")
	}
}

func TestCollapseState_ToggleIsImmutable(t *testing.T) {
	base := rows.NewCollapseState(true)
	next := base.Toggle("p:1")
	if !base.Collapsed("p:1") || next.Collapsed("p:1") {
		t.Errorf("toggle must not change the receiver")
	}
	if base.Equal(next) {
		t.Errorf("expected states to differ")
	}
	if !base.Equal(next.Toggle("p:1")) {
		t.Errorf("toggling twice should restore the state")
	}
	if next.Collapsed("g:project:1") {
		t.Errorf("groups are expanded by default")
	}
}

func TestRow_Span(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-time.Hour)
	running := rows.Row{Status: domain.StatusRunning, StartedAt: &start}
	if _, end, ok := running.Span(now); !ok || !end.Equal(now) {
		t.Errorf("expected running row to end at now, got %v %v", end, ok)
	}
	if _, _, ok := (rows.Row{Status: domain.StatusPending}).Span(now); ok {
		t.Errorf("expected no span without a start")
	}
}
