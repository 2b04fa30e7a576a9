package gitlab_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/waabox/pipegantt/internal/domain"
	"github.com/waabox/pipegantt/internal/metrics"
	"github.com/waabox/pipegantt/internal/provider"
	gitlabprovider "github.com/waabox/pipegantt/internal/provider/gitlab"
	"github.com/waabox/pipegantt/internal/testutil"
)

// fakeGitLab serves a tiny subset of the v4 API with page/per_page pagination.
type fakeGitLab struct {
	mu        sync.Mutex
	projects  map[string]provider.RawProject
	pipelines map[string][]provider.RawPipeline
	jobs      map[int64][]provider.RawJob
	requests  map[string]int
}

func newFakeGitLab() *fakeGitLab {
	return &fakeGitLab{
		projects:  map[string]provider.RawProject{},
		pipelines: map[string][]provider.RawPipeline{},
		jobs:      map[int64][]provider.RawJob{},
		requests:  map[string]int{},
	}
}

func (f *fakeGitLab) addProject(id int64, n int) {
	key := strconv.FormatInt(id, 10)
	f.projects[key] = provider.RawProject{ID: id, Name: "project-" + key, PathWithNamespace: "group/project-" + key}
	for i := 0; i < n; i++ {
		pid := id*1000 + int64(i)
		f.pipelines[key] = append(f.pipelines[key], provider.RawPipeline{
			ID: pid, ProjectID: id, Ref: "main", Status: "success",
			CreatedAt: "2026-01-01T10:00:00Z",
		})
		f.jobs[pid] = []provider.RawJob{{
			ID: pid * 10, Name: "build", Stage: "build", Status: "success",
			CreatedAt: "2026-01-01T10:00:00Z",
			Pipeline:  provider.RawJobPipeline{ID: pid, ProjectID: id},
		}}
	}
}

func (f *fakeGitLab) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for path, n := range f.requests {
		if strings.HasPrefix(path, prefix) {
			total += n
		}
	}
	return total
}

func (f *fakeGitLab) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests[r.URL.Path]++
	f.mu.Unlock()

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v4/"), "/")
	w.Header().Set("Content-Type", "application/json")
	switch {
	case len(parts) == 2 && parts[0] == "projects":
		p, ok := f.projects[parts[1]]
		if !ok {
			http.Error(w, `{"message":"404 Project Not Found"}`, http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(p)
	case len(parts) == 3 && parts[0] == "projects" && parts[2] == "pipelines":
		writePage(w, r, f.pipelines[parts[1]])
	case len(parts) == 5 && parts[0] == "projects" && parts[4] == "jobs":
		id, _ := strconv.ParseInt(parts[3], 10, 64)
		writePage(w, r, f.jobs[id])
	case len(parts) == 3 && parts[0] == "groups" && parts[2] == "projects":
		var all []provider.RawProject
		for i := int64(1); i <= int64(len(f.projects)); i++ {
			all = append(all, f.projects[strconv.FormatInt(i, 10)])
		}
		writePage(w, r, all)
	default:
		http.NotFound(w, r)
	}
}

func writePage[T any](w http.ResponseWriter, r *http.Request, items []T) {
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * perPage
	if start > len(items) {
		start = len(items)
	}
	end := start + perPage
	if end > len(items) {
		end = len(items)
	}
	if end < len(items) {
		w.Header().Set("X-Next-Page", strconv.Itoa(page+1))
	} else {
		w.Header().Set("X-Next-Page", "")
	}
	out := items[start:end]
	if out == nil {
		out = []T{}
	}
	json.NewEncoder(w).Encode(out)
}

func newClient(t *testing.T, baseURL string, mutate func(*gitlabprovider.Options)) *gitlabprovider.Client {
	t.Helper()
	opts := gitlabprovider.Options{
		BaseURL:  baseURL,
		Token:    "test-token",
		Timeout:  2 * time.Second,
		PageSize: 100,
		Logger:   testutil.NewLogger(t),
		Metrics:  metrics.New(prometheus.NewRegistry()),
	}
	if mutate != nil {
		mutate(&opts)
	}
	c, err := gitlabprovider.NewClient(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func TestNewClient_RequiresLogger(t *testing.T) {
	_, err := gitlabprovider.NewClient(gitlabprovider.Options{Metrics: metrics.New(prometheus.NewRegistry())})
	if domain.KindOf(err) != domain.KindConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestListPipelines_ConcatenatesPages(t *testing.T) {
	fake := newFakeGitLab()
	fake.addProject(1, 250)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	paged := newClient(t, srv.URL, func(o *gitlabprovider.Options) { o.PageSize = 100 })
	pipelines, err := paged.ListPipelines(context.Background(), "1", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.count("/api/v4/projects/1/pipelines"); got != 3 {
		t.Errorf("expected ceil(250/100)=3 requests, got %d", got)
	}

	unpaged := newClient(t, srv.URL, func(o *gitlabprovider.Options) { o.PageSize = 1000 })
	all, err := unpaged.ListPipelines(context.Background(), "1", time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(all, pipelines); diff != "" {
		t.Errorf("paged result differs from unpaged (-unpaged +paged):\n%s", diff)
	}
}

func TestListPipelines_RequestCountMatchesPageMath(t *testing.T) {
	for _, tc := range []struct{ total, pageSize, want int }{
		{1, 10, 1}, {10, 10, 1}, {11, 10, 2}, {95, 7, 14},
	} {
		fake := newFakeGitLab()
		fake.addProject(1, tc.total)
		srv := httptest.NewServer(fake)
		c := newClient(t, srv.URL, func(o *gitlabprovider.Options) { o.PageSize = tc.pageSize })
		got, err := c.ListPipelines(context.Background(), "1", time.Time{})
		srv.Close()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != tc.total {
			t.Errorf("total=%d: expected %d items, got %d", tc.total, tc.total, len(got))
		}
		if n := fake.count("/api/v4/projects/1/pipelines"); n != tc.want {
			t.Errorf("total=%d pageSize=%d: expected %d requests, got %d", tc.total, tc.pageSize, tc.want, n)
		}
	}
}

func TestListPipelines_SendsBearerAndUpdatedAfter(t *testing.T) {
	var gotAuth, gotUpdated string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUpdated = r.URL.Query().Get("updated_after")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	since := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if _, err := newClient(t, srv.URL, nil).ListPipelines(context.Background(), "1", since); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotUpdated != "2026-03-01T12:00:00Z" {
		t.Errorf("expected updated_after, got %q", gotUpdated)
	}
}

func TestGet_ClassifiesHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   domain.ErrorKind
	}{
		{http.StatusUnauthorized, domain.KindInvalidCredential},
		{http.StatusForbidden, domain.KindExpiredCredential},
		{http.StatusNotFound, domain.KindNotFound},
		{http.StatusTooManyRequests, domain.KindRateLimited},
		{http.StatusInternalServerError, domain.KindServerError},
		{http.StatusBadGateway, domain.KindServerError},
		{http.StatusBadRequest, domain.KindRejected},
	}
	for _, c := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(c.status)
			w.Write([]byte(`{"message":"nope"}`))
		}))
		_, err := newClient(t, srv.URL, nil).ListPipelines(context.Background(), "1", time.Time{})
		srv.Close()

		if got := domain.KindOf(err); got != c.want {
			t.Errorf("status %d: expected %s, got %s (%v)", c.status, c.want, got, err)
		}
		var de *domain.Error
		if !errors.As(err, &de) || de.Status != c.status {
			t.Errorf("status %d: expected status on error, got %v", c.status, err)
		}
		if c.status == http.StatusTooManyRequests && de != nil && de.RetryAfter != 7*time.Second {
			t.Errorf("expected Retry-After 7s, got %v", de.RetryAfter)
		}
		if !strings.Contains(err.Error(), "nope") {
			t.Errorf("expected server message in %q", err.Error())
		}
	}
}

func TestGet_TimeoutIsDistinctFromNetwork(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newClient(t, srv.URL, func(o *gitlabprovider.Options) { o.Timeout = 50 * time.Millisecond })
	_, err := c.ListPipelines(context.Background(), "1", time.Time{})
	if !errors.Is(err, domain.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestPaginate_EveryPageHasItsOwnTimeout(t *testing.T) {
	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.Header().Set("X-Next-Page", "2")
			w.Write([]byte(`[{"id":1,"project_id":1,"status":"success","created_at":"2026-01-01T00:00:00Z"}]`))
			return
		}
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, func(o *gitlabprovider.Options) { o.Timeout = 50 * time.Millisecond })
	_, err := c.ListPipelines(context.Background(), "1", time.Time{})
	if domain.KindOf(err) != domain.KindTimeout {
		t.Fatalf("expected the second page to time out, got %v", err)
	}
}

func TestGet_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url, nil).ListPipelines(context.Background(), "1", time.Time{})
	if domain.KindOf(err) != domain.KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestGet_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>maintenance</html>"))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, nil).ListPipelines(context.Background(), "1", time.Time{})
	if domain.KindOf(err) != domain.KindMalformedResponse {
		t.Fatalf("expected malformed response, got %v", err)
	}
}

func TestGet_CanceledParentIsNotClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := newClient(t, srv.URL, nil).ListPipelines(ctx, "1", time.Time{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if domain.KindOf(err) != domain.KindUnknown {
		t.Errorf("expected cancellation to stay unclassified, got %s", domain.KindOf(err))
	}
}

// failingTransport fails every request whose path contains failPath with a dial error.
type failingTransport struct {
	base     http.RoundTripper
	failPath string
}

func (t failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if strings.Contains(r.URL.Path, t.failPath) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}
	return t.base.RoundTrip(r)
}

func TestSourceFetch_PartialFailureReturnsSucceededSubset(t *testing.T) {
	fake := newFakeGitLab()
	fake.addProject(1, 2)
	fake.addProject(2, 2)
	fake.addProject(3, 2)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newClient(t, srv.URL, func(o *gitlabprovider.Options) {
		o.HTTPClient = &http.Client{Transport: failingTransport{base: http.DefaultTransport, failPath: "/projects/2"}}
	})
	src, err := gitlabprovider.NewSource(c, gitlabprovider.Target{ProjectIDs: []string{"1", "2", "3"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := src.Fetch(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range snap.Pipelines {
		if p.ProjectID == 2 {
			t.Errorf("unexpected pipeline %d from failed project", p.ID)
		}
	}
	if len(snap.Pipelines) != 4 {
		t.Errorf("expected 4 pipelines from projects 1 and 3, got %d", len(snap.Pipelines))
	}
	if len(snap.Projects) != 2 || snap.Projects[0].ID != 1 || snap.Projects[1].ID != 3 {
		t.Errorf("expected projects 1 and 3 in request order, got %+v", snap.Projects)
	}
	if len(snap.Warnings) != 1 || snap.Warnings[0].Entity != "2" {
		t.Fatalf("expected one warning naming project 2, got %+v", snap.Warnings)
	}
	if domain.KindOf(snap.Warnings[0].Err) != domain.KindNetwork {
		t.Errorf("expected network warning, got %v", snap.Warnings[0].Err)
	}
}

func TestSourceFetch_AllFailedIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	src, _ := gitlabprovider.NewSource(newClient(t, srv.URL, nil), gitlabprovider.Target{ProjectIDs: []string{"1", "2"}})
	_, err := src.Fetch(context.Background(), time.Time{})
	if !errors.Is(err, domain.ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
}

func TestSourceFetch_GroupListsProjects(t *testing.T) {
	fake := newFakeGitLab()
	fake.addProject(1, 1)
	fake.addProject(2, 3)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	src, _ := gitlabprovider.NewSource(newClient(t, srv.URL, nil), gitlabprovider.Target{GroupID: "acme"})
	snap, err := src.Fetch(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Projects) != 2 || len(snap.Pipelines) != 4 || len(snap.Jobs) != 4 {
		t.Errorf("unexpected snapshot sizes: %d projects, %d pipelines, %d jobs",
			len(snap.Projects), len(snap.Pipelines), len(snap.Jobs))
	}
	if n := fake.count("/api/v4/projects/1"); n != 2 {
		// pipelines + jobs; the project itself comes from the group listing
		t.Errorf("expected no per-project metadata request, got %d requests", n)
	}
}

func TestNewSource_RequiresTarget(t *testing.T) {
	c := newClient(t, "http://localhost", nil)
	if _, err := gitlabprovider.NewSource(c, gitlabprovider.Target{}); err == nil {
		t.Fatal("expected error for empty target")
	}
}
