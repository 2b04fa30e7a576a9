// Package config loads the frozen configuration object: a TOML file with
// environment overrides, validated once at startup.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/waabox/pipegantt/internal/domain"
)

// GitLabConfig holds the upstream endpoint and credential.
type GitLabConfig struct {
	Token string `toml:"token"`
	URL   string `toml:"url"`
}

// Config holds all pipegantt configuration.
type Config struct {
	GitLab   GitLabConfig `toml:"gitlab"`
	GroupID  string       `toml:"group_id"`
	Projects []string     `toml:"projects"`
	// Since pins the earliest instant ever fetched, whatever the viewport.
	Since           time.Time     `toml:"since"`
	RefreshInterval time.Duration `toml:"refresh_interval"`
	Viewport        time.Duration `toml:"viewport"`
	FetchBuffer     time.Duration `toml:"fetch_buffer"`
	RequestTimeout  time.Duration `toml:"request_timeout"`
	PageSize        int           `toml:"page_size"`
	Concurrency     int           `toml:"concurrency"`
	GroupBy         string        `toml:"group_by"`
	Contention      string        `toml:"contention"`
}

const (
	defaultGitLabURL      = "https://gitlab.com"
	defaultViewport       = time.Hour
	defaultFetchBuffer    = 6 * time.Hour
	defaultRequestTimeout = 30 * time.Second
	defaultPageSize       = 100
	defaultConcurrency    = 4
	maxPageSize           = 100
)

// GitLabURLOrDefault returns GitLab.URL if set, otherwise gitlab.com.
func (c Config) GitLabURLOrDefault() string {
	if c.GitLab.URL != "" {
		return strings.TrimRight(c.GitLab.URL, "/")
	}
	return defaultGitLabURL
}

// ViewportOrDefault returns Viewport if set, otherwise one hour.
func (c Config) ViewportOrDefault() time.Duration {
	if c.Viewport > 0 {
		return c.Viewport
	}
	return defaultViewport
}

// FetchBufferOrDefault returns FetchBuffer if set, otherwise six hours.
func (c Config) FetchBufferOrDefault() time.Duration {
	if c.FetchBuffer > 0 {
		return c.FetchBuffer
	}
	return defaultFetchBuffer
}

// RequestTimeoutOrDefault returns RequestTimeout if set, otherwise 30 seconds.
func (c Config) RequestTimeoutOrDefault() time.Duration {
	if c.RequestTimeout > 0 {
		return c.RequestTimeout
	}
	return defaultRequestTimeout
}

// PageSizeOrDefault returns PageSize if set, otherwise 100.
func (c Config) PageSizeOrDefault() int {
	if c.PageSize > 0 {
		return c.PageSize
	}
	return defaultPageSize
}

// ConcurrencyOrDefault returns Concurrency if set, otherwise 4.
func (c Config) ConcurrencyOrDefault() int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	return defaultConcurrency
}

// GroupKind returns the grouping mode. Project grouping is the default.
func (c Config) GroupKind() domain.GroupKind {
	if c.GroupBy == string(domain.GroupUser) {
		return domain.GroupUser
	}
	return domain.GroupProject
}

// JobContention reports whether contention counts jobs rather than pipelines.
func (c Config) JobContention() bool {
	return c.Contention == "jobs"
}

// HasTarget reports whether a group or at least one project is configured.
func (c Config) HasTarget() bool {
	return c.GroupID != "" || len(c.Projects) > 0
}

// Validate checks the configuration. Missing optional values are not errors;
// their accessors supply defaults.
func (c Config) Validate() error {
	invalid := func(field, reason string) error {
		return &domain.ConfigurationError{Field: field, Reason: reason}
	}
	if c.GitLab.Token == "" {
		return invalid("gitlab.token", "is required (or set GITLAB_TOKEN)")
	}
	if c.GitLab.URL != "" {
		u, err := url.Parse(c.GitLab.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("gitlab.url", "must be an http or https URL")
		}
	}
	if c.GroupID != "" && len(c.Projects) > 0 {
		return invalid("group_id", "cannot be combined with projects")
	}
	for _, p := range c.Projects {
		if strings.TrimSpace(p) == "" {
			return invalid("projects", "contains an empty identifier")
		}
	}
	if !c.HasTarget() {
		return invalid("projects", "a group_id or at least one project is required")
	}
	if c.RefreshInterval < 0 {
		return invalid("refresh_interval", "must not be negative (0 disables polling)")
	}
	if c.Viewport < 0 || c.FetchBuffer < 0 || c.RequestTimeout < 0 {
		return invalid("viewport", "durations must not be negative")
	}
	if c.PageSize < 0 || c.PageSize > maxPageSize {
		return invalid("page_size", "must be between 1 and 100")
	}
	if c.Concurrency < 0 {
		return invalid("concurrency", "must not be negative")
	}
	switch c.GroupBy {
	case "", string(domain.GroupProject), string(domain.GroupUser):
	default:
		return invalid("group_by", `must be "project" or "user"`)
	}
	switch c.Contention {
	case "", "pipelines", "jobs":
	default:
		return invalid("contention", `must be "pipelines" or "jobs"`)
	}
	return nil
}

// LoadFrom reads configuration from the given TOML file path.
// If the file does not exist, it returns an empty config without error.
// Environment variables always take precedence over file values:
//   - GITLAB_TOKEN       overrides gitlab.token
//   - GITLAB_URL         overrides gitlab.url
//   - PIPEGANTT_GROUP    overrides group_id and clears projects
//   - PIPEGANTT_PROJECTS overrides projects (comma-separated) and clears group_id
func LoadFrom(path string) (Config, error) {
	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, &domain.ConfigurationError{Field: filepath.Base(path), Reason: err.Error()}
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// DefaultConfigPath returns the default path for the pipegantt config file.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pipegantt", "config.toml")
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		cfg.GitLab.Token = v
	}
	if v := os.Getenv("GITLAB_URL"); v != "" {
		cfg.GitLab.URL = v
	}
	if v := os.Getenv("PIPEGANTT_GROUP"); v != "" {
		cfg.GroupID = v
		cfg.Projects = nil
	}
	if v := os.Getenv("PIPEGANTT_PROJECTS"); v != "" {
		cfg.Projects = SplitList(v)
		cfg.GroupID = ""
	}
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
