// Package provider defines the raw payloads the ingestion client returns and the
// port the refresh service consumes. The domain model builder turns a Snapshot
// into validated domain entities.
package provider

import (
	"context"
	"time"
)

// RawProject is a project record as returned by the upstream API.
type RawProject struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

// RawUser is a user reference embedded in pipeline and job records.
type RawUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// RawPipeline is a pipeline record. Timestamps are kept as strings so the
// builder can reject malformed values instead of the decoder zeroing them.
type RawPipeline struct {
	ID         int64    `json:"id"`
	ProjectID  int64    `json:"project_id"`
	Ref        string   `json:"ref"`
	Status     string   `json:"status"`
	CreatedAt  string   `json:"created_at"`
	UpdatedAt  string   `json:"updated_at"`
	StartedAt  *string  `json:"started_at"`
	FinishedAt *string  `json:"finished_at"`
	User       *RawUser `json:"user"`
	WebURL     string   `json:"web_url"`
}

// RawRunner is the runner reference embedded in a job record.
type RawRunner struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
}

// RawJobPipeline is the parent reference embedded in a job record.
type RawJobPipeline struct {
	ID        int64 `json:"id"`
	ProjectID int64 `json:"project_id"`
}

// RawJob is a job record.
type RawJob struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	Stage         string         `json:"stage"`
	Status        string         `json:"status"`
	CreatedAt     string         `json:"created_at"`
	StartedAt     *string        `json:"started_at"`
	FinishedAt    *string        `json:"finished_at"`
	Runner        *RawRunner     `json:"runner"`
	FailureReason string         `json:"failure_reason"`
	User          *RawUser       `json:"user"`
	WebURL        string         `json:"web_url"`
	Pipeline      RawJobPipeline `json:"pipeline"`
}

// Warning records an entity whose fetch failed while others succeeded.
type Warning struct {
	Entity string
	Err    error
}

// Snapshot is everything fetched in one refresh cycle.
// Projects is nil when no project lookup table applies.
type Snapshot struct {
	Projects  []RawProject
	Pipelines []RawPipeline
	Jobs      []RawJob
	Warnings  []Warning
}

// Source fetches a Snapshot of pipelines and jobs updated at or after since.
type Source interface {
	Fetch(ctx context.Context, since time.Time) (Snapshot, error)
}
