package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/metrics"
	"github.com/waabox/pipegantt/internal/provider"
)

const (
	defaultBaseURL     = "https://gitlab.com"
	defaultTimeout     = 30 * time.Second
	defaultPageSize    = 100
	defaultConcurrency = 4
	maxErrorBody       = 4 << 10
)

// Options configures a Client. Logger and Metrics are required.
type Options struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	PageSize    int
	Concurrency int
	HTTPClient  *http.Client
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Client talks to the GitLab v4 REST API.
type Client struct {
	token       string
	baseURL     string
	timeout     time.Duration
	pageSize    int
	concurrency int
	client      *http.Client
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewClient creates a GitLab client.
// BaseURL can be a self-hosted instance; pass empty string for gitlab.com.
func NewClient(opts Options) (*Client, error) {
	if opts.Logger == nil {
		return nil, &domain.ConfigurationError{Field: "gitlab client", Reason: "logger is required"}
	}
	if opts.Metrics == nil {
		return nil, &domain.ConfigurationError{Field: "gitlab client", Reason: "metrics are required"}
	}
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, &domain.ConfigurationError{Field: "gitlab.url", Reason: err.Error()}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.HTTPClient == nil {
		// Timeouts are enforced per request through the context.
		opts.HTTPClient = &http.Client{}
	}
	return &Client{
		token:       opts.Token,
		baseURL:     strings.TrimSuffix(opts.BaseURL, "/"),
		timeout:     opts.Timeout,
		pageSize:    opts.PageSize,
		concurrency: opts.Concurrency,
		client:      opts.HTTPClient,
		logger:      opts.Logger.With("component", "gitlab"),
		metrics:     opts.Metrics,
	}, nil
}

// GetProject returns a single project. projectID may be numeric or a namespaced path.
func (c *Client) GetProject(ctx context.Context, projectID string) (provider.RawProject, error) {
	var project provider.RawProject
	path := "/api/v4/projects/" + url.PathEscape(projectID)
	if _, err := c.get(ctx, request{op: "get project", entity: projectID, endpoint: "project", path: path}, &project); err != nil {
		return provider.RawProject{}, err
	}
	return project, nil
}

// ListGroupProjects returns every project of a group, including subgroups.
func (c *Client) ListGroupProjects(ctx context.Context, groupID string) ([]provider.RawProject, error) {
	q := url.Values{}
	q.Set("include_subgroups", "true")
	q.Set("archived", "false")
	return paginate[provider.RawProject](ctx, c, request{
		op:       "list group projects",
		entity:   groupID,
		endpoint: "group_projects",
		path:     "/api/v4/groups/" + url.PathEscape(groupID) + "/projects",
		query:    q,
	})
}

// ListPipelines returns the pipelines of a project updated at or after updatedAfter.
func (c *Client) ListPipelines(ctx context.Context, projectID string, updatedAfter time.Time) ([]provider.RawPipeline, error) {
	q := url.Values{}
	if !updatedAfter.IsZero() {
		q.Set("updated_after", updatedAfter.UTC().Format(time.RFC3339))
	}
	q.Set("order_by", "id")
	q.Set("sort", "desc")
	return paginate[provider.RawPipeline](ctx, c, request{
		op:       "list pipelines",
		entity:   projectID,
		endpoint: "pipelines",
		path:     "/api/v4/projects/" + url.PathEscape(projectID) + "/pipelines",
		query:    q,
	})
}

// ListJobs returns every job of a pipeline.
func (c *Client) ListJobs(ctx context.Context, projectID string, pipelineID int64) ([]provider.RawJob, error) {
	return paginate[provider.RawJob](ctx, c, request{
		op:       "list jobs",
		entity:   projectID,
		endpoint: "jobs",
		path: fmt.Sprintf("/api/v4/projects/%s/pipelines/%d/jobs",
			url.PathEscape(projectID), pipelineID),
	})
}

type request struct {
	op       string
	entity   string
	endpoint string
	path     string
	query    url.Values
}

// paginate requests pages of pageSize items until the server stops sending
// X-Next-Page, and concatenates them. Each page has its own timeout.
func paginate[T any](ctx context.Context, c *Client, req request) ([]T, error) {
	var all []T
	page := 1
	for {
		q := url.Values{}
		for k, v := range req.query {
			q[k] = v
		}
		q.Set("per_page", strconv.Itoa(c.pageSize))
		q.Set("page", strconv.Itoa(page))
		pageReq := req
		pageReq.query = q

		var items []T
		header, err := c.get(ctx, pageReq, &items)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)

		next, err := strconv.Atoi(header.Get("X-Next-Page"))
		if err != nil || next <= page {
			return all, nil
		}
		page = next
	}
}

// get performs one GET bounded by the client timeout and decodes the JSON body
// into target. Errors are classified into the domain taxonomy.
func (c *Client) get(ctx context.Context, req request, target interface{}) (http.Header, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindConfiguration, Op: req.op, Entity: req.entity, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	header, err := c.do(ctx, httpReq, req, target)
	c.metrics.ObserveRequest(req.endpoint, outcome(err), time.Since(started))
	return header, err
}

func (c *Client) do(parent context.Context, httpReq *http.Request, req request, target interface{}) (http.Header, error) {
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.transportError(parent, req, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.statusError(req, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportError(parent, req, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		c.logger.Error("decoding response body",
			"op", req.op,
			"entity", req.entity,
			"status", resp.StatusCode,
			"content_type", resp.Header.Get("Content-Type"),
			"bytes", len(body),
			"err", err)
		return nil, &domain.Error{Kind: domain.KindMalformedResponse, Op: req.op, Entity: req.entity, Status: resp.StatusCode, Err: err}
	}
	return resp.Header, nil
}

// transportError classifies a failure that produced no HTTP status.
// A cancelled parent context is returned unclassified: the caller superseded the request.
func (c *Client) transportError(parent context.Context, req request, err error) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return parent.Err()
	}
	kind := domain.KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = domain.KindTimeout
	}
	return &domain.Error{Kind: kind, Op: req.op, Entity: req.entity, Err: err}
}

func (c *Client) statusError(req request, resp *http.Response) error {
	e := &domain.Error{Op: req.op, Entity: req.entity, Status: resp.StatusCode}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = domain.KindInvalidCredential
	case resp.StatusCode == http.StatusForbidden:
		e.Kind = domain.KindExpiredCredential
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = domain.KindNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		e.Kind = domain.KindRateLimited
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	case resp.StatusCode >= 500:
		e.Kind = domain.KindServerError
	default:
		e.Kind = domain.KindRejected
	}
	if msg := c.errorMessage(req, resp); msg != "" {
		e.Err = errors.New(msg)
	}
	return e
}

// errorMessage extracts GitLab's {"message": ...} or {"error": ...} from an error body.
func (c *Client) errorMessage(req request, resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil || len(body) == 0 {
		return ""
	}
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Warn("unparseable error body",
			"op", req.op,
			"entity", req.entity,
			"status", resp.StatusCode,
			"content_type", resp.Header.Get("Content-Type"),
			"err", err)
		return ""
	}
	if payload.Error != "" {
		return payload.Error
	}
	var msg string
	if err := json.Unmarshal(payload.Message, &msg); err == nil {
		return msg
	}
	return string(payload.Message)
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d.Round(time.Second)
		}
	}
	return 0
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return domain.KindOf(err).String()
}
