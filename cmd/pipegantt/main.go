// Command pipegantt shows GitLab CI pipelines on a Gantt timeline, in the
// terminal, as an SVG file or over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/waabox/pipegantt/internal/config"
	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/git"
	"github.com/waabox/pipegantt/internal/metrics"
	"github.com/waabox/pipegantt/internal/provider/gitlab"
	"github.com/waabox/pipegantt/internal/rows"
	"github.com/waabox/pipegantt/internal/timeline"
	"github.com/waabox/pipegantt/internal/urlstate"
	"github.com/waabox/pipegantt/internal/viewport"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	gitlabURL  string
	group      string
	projects   []string
	groupBy    string
	contention string
	since      string
	state      string
	jobs       bool
	verbose    bool
	logFile    string
}

// app is the wiring shared by the commands.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	timeline *timeline.Service
	coord    viewport.Coordinator
	defaults urlstate.State
	title    string
	closers  []io.Closer
}

func (a *app) Close() {
	for _, c := range a.closers {
		_ = c.Close()
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pipegantt: %s\n", domain.UserMessage(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "pipegantt",
		Short: "GitLab CI pipelines on a Gantt timeline",
		Long: `pipegantt fetches the pipelines and jobs of a GitLab group or project list
and draws them on a time axis, highlighting periods where many run at once.

Without a subcommand it starts the terminal UI. When no group or project is
configured, the origin remote of the current git repository is used.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTUI(cmd, opts)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "config file")
	flags.StringVar(&opts.gitlabURL, "gitlab-url", "", "GitLab base URL (overrides gitlab.url)")
	flags.StringVar(&opts.group, "group", "", "GitLab group ID or path (overrides group_id)")
	flags.StringSliceVar(&opts.projects, "project", nil, "GitLab project ID or path, repeatable (overrides projects)")
	flags.StringVar(&opts.groupBy, "group-by", "", "row grouping: project or user")
	flags.StringVar(&opts.contention, "contention", "", "what contention counts: pipelines or jobs")
	flags.StringVar(&opts.since, "since", "", "never fetch before this RFC 3339 instant")
	flags.StringVar(&opts.state, "state", "", `initial view state, e.g. "d=4h&status=failed&q=deploy"`)
	flags.BoolVar(&opts.jobs, "jobs", false, "expand the jobs of every pipeline")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&opts.logFile, "log-file", "", "write logs to this file (the terminal UI logs nowhere otherwise)")

	_ = root.RegisterFlagCompletionFunc("group-by", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{string(domain.GroupProject), string(domain.GroupUser)}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = root.RegisterFlagCompletionFunc("contention", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"pipelines", "jobs"}, cobra.ShellCompDirectiveNoFileComp
	})

	root.AddCommand(newTUICmd(opts))
	root.AddCommand(newRenderCmd(opts))
	root.AddCommand(newServeCmd(opts))
	return root
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (config.Config, error) {
	cfg, err := config.LoadFrom(opts.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := applyFlags(&cfg, cmd, opts); err != nil {
		return config.Config{}, err
	}
	if !cfg.HasTarget() {
		detectProject(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config, cmd *cobra.Command, opts *rootOptions) error {
	flags := cmd.Flags()
	if flags.Changed("gitlab-url") {
		cfg.GitLab.URL = opts.gitlabURL
	}
	if flags.Changed("group") {
		cfg.GroupID, cfg.Projects = opts.group, nil
	}
	if flags.Changed("project") {
		cfg.Projects, cfg.GroupID = opts.projects, ""
	}
	if flags.Changed("group-by") {
		cfg.GroupBy = opts.groupBy
	}
	if flags.Changed("contention") {
		cfg.Contention = opts.contention
	}
	if flags.Changed("since") {
		t, err := time.Parse(time.RFC3339, opts.since)
		if err != nil {
			return &domain.ConfigurationError{Field: "since", Reason: "must be an RFC 3339 instant"}
		}
		cfg.Since = t
	}
	return nil
}

// detectProject targets the project of the working copy's origin remote.
func detectProject(cfg *config.Config) {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	remote, err := git.DetectProject(cwd)
	if err != nil {
		return
	}
	cfg.Projects = []string{remote.Project}
	if cfg.GitLab.URL == "" && remote.Host != "gitlab.com" {
		cfg.GitLab.URL = remote.BaseURL()
	}
}

// newLogger writes to the log file when one is set, otherwise to fallback.
// A nil fallback discards.
func newLogger(opts *rootOptions, fallback io.Writer) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, nil, &domain.ConfigurationError{Field: "log-file", Reason: err.Error()}
		}
		return slog.New(slog.NewTextHandler(f, handlerOpts)), f, nil
	}
	if fallback == nil {
		return slog.New(slog.DiscardHandler), nil, nil
	}
	return slog.New(slog.NewTextHandler(fallback, handlerOpts)), nil, nil
}

func setup(cmd *cobra.Command, opts *rootOptions, logTo io.Writer) (*app, error) {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return nil, err
	}
	logger, closer, err := newLogger(opts, logTo)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	m := metrics.New(a.registry)

	client, err := gitlab.NewClient(gitlab.Options{
		BaseURL:     cfg.GitLabURLOrDefault(),
		Token:       cfg.GitLab.Token,
		Timeout:     cfg.RequestTimeoutOrDefault(),
		PageSize:    cfg.PageSizeOrDefault(),
		Concurrency: cfg.ConcurrencyOrDefault(),
		Logger:      logger,
		Metrics:     m,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	source, err := gitlab.NewSource(client, gitlab.Target{GroupID: cfg.GroupID, ProjectIDs: cfg.Projects})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.timeline, err = timeline.New(timeline.Options{
		Source:        source,
		Logger:        logger,
		Metrics:       m,
		GroupBy:       cfg.GroupKind(),
		JobContention: cfg.JobContention(),
		Collapse:      rows.NewCollapseState(!opts.jobs),
		NotBefore:     cfg.Since,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.coord, err = viewport.New(cfg.ViewportOrDefault(), cfg.FetchBufferOrDefault(), time.Now())
	if err != nil {
		a.Close()
		return nil, &domain.ConfigurationError{Field: "viewport", Reason: err.Error()}
	}
	a.defaults = urlstate.State{Duration: cfg.ViewportOrDefault()}
	a.title = title(cfg)
	logger.Debug("configured", "gitlab", cfg.GitLabURLOrDefault(), "target", a.title,
		"viewport", cfg.ViewportOrDefault(), "buffer", cfg.FetchBufferOrDefault())
	return a, nil
}

func title(cfg config.Config) string {
	if cfg.GroupID != "" {
		return cfg.GroupID
	}
	return strings.Join(cfg.Projects, ", ")
}

// signalContext is cancelled on interrupt or termination.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}
