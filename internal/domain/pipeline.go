package domain

import "time"

// Status represents the execution state of a pipeline or job.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusFailed   Status = "failed"
	StatusRunning  Status = "running"
	StatusPending  Status = "pending"
	StatusCanceled Status = "canceled"
	StatusOther    Status = "other"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusSuccess, StatusFailed, StatusRunning, StatusPending, StatusCanceled, StatusOther}

// ParseStatus returns the Status named by s and whether it is known.
func ParseStatus(s string) (Status, bool) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// GroupKind tells whether a group buckets pipelines by project or by triggering user.
type GroupKind string

const (
	GroupProject GroupKind = "project"
	GroupUser    GroupKind = "user"
)

// GroupKey identifies one row-grouping bucket. It is a value type and never mutated.
type GroupKey struct {
	Kind  GroupKind
	ID    string
	Label string
}

// User is the account that triggered a pipeline or job.
type User struct {
	ID        string
	Username  string
	Name      string
	AvatarURL string
}

// Pipeline represents one CI run.
type Pipeline struct {
	ID         string
	GroupID    string
	Ref        string
	Status     Status
	CreatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
	User       *User
	WebURL     string
	Jobs       []Job
}

// Duration returns finish minus start, or false while either end is unknown.
func (p Pipeline) Duration() (time.Duration, bool) {
	if p.StartedAt == nil || p.FinishedAt == nil {
		return 0, false
	}
	return p.FinishedAt.Sub(*p.StartedAt), true
}

// Job represents a single unit of work within a pipeline.
type Job struct {
	ID            string
	PipelineID    string
	Name          string
	Stage         string
	Status        Status
	CreatedAt     time.Time
	StartedAt     *time.Time
	FinishedAt    *time.Time
	Runner        *Runner
	FailureReason string
	User          *User
	WebURL        string
}

// Duration returns finish minus start, or false while either end is unknown.
func (j Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0, false
	}
	return j.FinishedAt.Sub(*j.StartedAt), true
}

// Runner describes the executor a job ran on.
type Runner struct {
	ID          string
	Description string
}

// Group is a GroupKey together with the pipelines it owns, in API order.
type Group struct {
	Key       GroupKey
	Pipelines []Pipeline
}
