package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/model"
	"github.com/waabox/pipegantt/internal/rows"
)

// detailLines is the fixed height of the detail panel.
const detailLines = 3

// DetailModel is an immutable model for the panel describing the selected row.
type DetailModel struct {
	row rows.Row
	ok  bool
	job *domain.Job
	// pipelines counts the pipelines of a group row.
	pipelines int
	now       time.Time
}

// NewDetailModel describes row, looking up job details in m.
func NewDetailModel(row rows.Row, ok bool, m model.Model, now time.Time) DetailModel {
	d := DetailModel{row: row, ok: ok, now: now}
	if !ok {
		return d
	}
	switch row.Kind {
	case rows.KindJob:
		for _, j := range m.Jobs() {
			if j.ID == row.JobID {
				d.job = &j
				break
			}
		}
	case rows.KindGroup:
		for _, g := range m.Groups {
			if g.Key == row.Group {
				d.pipelines = len(g.Pipelines)
				break
			}
		}
	}
	return d
}

// View renders the panel as detailLines lines of at most width cells.
func (d DetailModel) View(width int) string {
	lines := make([]string, detailLines)
	if !d.ok {
		lines[0] = " Select a row to see its details."
	} else {
		lines[0] = fmt.Sprintf(" %s %s  %s  %s", statusIcon(d.row.Status), d.row.Label, d.row.Status, d.timing())
		lines[1] = " " + d.facts()
		if d.row.WebURL != "" {
			lines[2] = " " + d.row.WebURL
		}
	}
	for i, l := range lines {
		lines[i] = truncate(l, width)
	}
	return strings.Join(lines, "\n")
}

func (d DetailModel) timing() string {
	if d.row.Kind == rows.KindGroup {
		return fmt.Sprintf("%d pipelines", d.pipelines)
	}
	created := "created " + formatAge(d.row.CreatedAt, d.now)
	switch {
	case d.row.StartedAt == nil:
		return created
	case d.row.FinishedAt != nil:
		return created + "  took " + formatDuration(d.row.FinishedAt.Sub(*d.row.StartedAt))
	case d.row.Status == domain.StatusRunning:
		return created + "  running for " + formatDuration(d.now.Sub(*d.row.StartedAt))
	default:
		return created
	}
}

func (d DetailModel) facts() string {
	var parts []string
	if d.row.User != nil {
		parts = append(parts, "by "+userName(d.row.User))
	}
	if d.row.Kind == rows.KindPipeline && d.row.Children > 0 {
		parts = append(parts, fmt.Sprintf("%d jobs", d.row.Children))
	}
	if d.job != nil {
		if d.job.Stage != "" {
			parts = append(parts, "stage "+d.job.Stage)
		}
		if d.job.Runner != nil {
			parts = append(parts, "runner "+d.job.Runner.Description)
		}
		if d.job.FailureReason != "" {
			parts = append(parts, "reason "+d.job.FailureReason)
		}
	}
	if d.row.Kind == rows.KindGroup {
		parts = append(parts, string(d.row.Group.Kind)+" "+d.row.Group.Label)
	}
	return strings.Join(parts, "  ")
}

func userName(u *domain.User) string {
	if u.Name != "" {
		return u.Name + " (" + u.Username + ")"
	}
	return u.Username
}

func statusIcon(s domain.Status) string {
	switch s {
	case domain.StatusSuccess:
		return "✓"
	case domain.StatusFailed:
		return "✗"
	case domain.StatusRunning:
		return "●"
	case domain.StatusPending:
		return "↷"
	case domain.StatusCanceled:
		return "○"
	default:
		return "?"
	}
}

func formatAge(t, now time.Time) string {
	if t.IsZero() {
		return "--"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	return runewidth.Truncate(s, width, "…")
}
