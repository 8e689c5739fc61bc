package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "job-tracker-go/internal/errors"
	"job-tracker-go/internal/models"
	"job-tracker-go/internal/reconcile"
	"job-tracker-go/internal/storage"
	"job-tracker-go/internal/upstream"
)

// fakeUpstream records calls. Searches for a keyword listed in gates block
// until the gate is closed.
type fakeUpstream struct {
	mu           sync.Mutex
	searchCalls  int
	trackerCalls int
	started      chan string
	gates        map[string]chan struct{}
	results      map[string]upstream.SearchEnvelope
	tracker      []models.ApplicationRecord
	action       upstream.ActionEnvelope
	applied      map[int]models.ApplicationStatus
	updates      map[int]upstream.StatusUpdate
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		started: make(chan string, 16),
		gates:   map[string]chan struct{}{},
		results: map[string]upstream.SearchEnvelope{},
		action:  upstream.ActionEnvelope{Status: upstream.ActionSuccess},
		applied: map[int]models.ApplicationStatus{},
		updates: map[int]upstream.StatusUpdate{},
	}
}

func pageOf(ids ...int) models.SearchResult {
	jobs := make([]models.JobSummary, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, models.JobSummary{ID: id, Title: "Job " + strconv.Itoa(id)})
	}
	return models.SearchResult{Jobs: jobs, Total: len(ids), Pages: 1, CurrentPage: 1}
}

func (f *fakeUpstream) Search(ctx context.Context, q models.SearchQuery) upstream.SearchEnvelope {
	f.mu.Lock()
	f.searchCalls++
	gate := f.gates[q.Keyword]
	env, ok := f.results[q.Keyword]
	f.mu.Unlock()

	f.started <- q.Keyword
	if gate != nil {
		<-gate
	}
	if !ok {
		env = upstream.SearchEnvelope{Result: pageOf(1, 2, 3)}
	}
	return env
}

func (f *fakeUpstream) Tracker(ctx context.Context) upstream.TrackerEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackerCalls++
	return upstream.TrackerEnvelope{Applications: append([]models.ApplicationRecord(nil), f.tracker...)}
}

func (f *fakeUpstream) SaveJob(ctx context.Context, jobID int) upstream.ActionEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.action
}

func (f *fakeUpstream) UnsaveJob(ctx context.Context, jobID int) upstream.ActionEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.action
}

func (f *fakeUpstream) ApplyJob(ctx context.Context, jobID int, status models.ApplicationStatus) upstream.ActionEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied[jobID] = status
	if !f.action.OK() {
		return f.action
	}
	for _, rec := range f.tracker {
		if rec.JobID == jobID {
			return f.action
		}
	}
	f.tracker = append(f.tracker, models.ApplicationRecord{ID: 100 + jobID, JobID: jobID, Status: status})
	return f.action
}

func (f *fakeUpstream) UpdateApplicationStatus(ctx context.Context, applicationID int, update upstream.StatusUpdate) upstream.ActionEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[applicationID] = update
	return f.action
}

func (f *fakeUpstream) calls() (search, tracker int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls, f.trackerCalls
}

func newController(t *testing.T, up Upstream, store storage.SessionStore, pending reconcile.PendingStore, opts ...Option) *Controller {
	t.Helper()
	c, err := New(up, store, pending, opts...)
	require.NoError(t, err)
	return c
}

func TestNewWithoutPersistedSessionIsIdle(t *testing.T) {
	up := newFakeUpstream()
	c := newController(t, up, storage.NewMemoryStore(), reconcile.NewMemoryStore())

	assert.Equal(t, StateIdle, c.State())
	snap := c.Snapshot()
	assert.Equal(t, DefaultSessionID, snap.ID)
	assert.Empty(t, snap.Result.Jobs)
	assert.Equal(t, 1, snap.Result.Pages)
}

func TestStaleResponseRaceKeepsNewestSearch(t *testing.T) {
	up := newFakeUpstream()
	up.gates["first"] = make(chan struct{})
	up.gates["second"] = make(chan struct{})
	up.results["first"] = upstream.SearchEnvelope{Result: pageOf(1)}
	up.results["second"] = upstream.SearchEnvelope{Result: pageOf(2)}

	c := newController(t, up, storage.NewMemoryStore(), reconcile.NewMemoryStore())
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Search(ctx, models.SearchQuery{Keyword: "first"}) }()
	require.Equal(t, "first", <-up.started)

	secondDone := make(chan error, 1)
	go func() { secondDone <- c.Search(ctx, models.SearchQuery{Keyword: "second"}) }()
	require.Equal(t, "second", <-up.started)
	assert.Equal(t, StateSearching, c.State())

	// seq 2 arrives first, then the stale seq 1
	close(up.gates["second"])
	require.NoError(t, <-secondDone)
	close(up.gates["first"])
	assert.ErrorIs(t, <-firstDone, ErrSuperseded)

	snap := c.Snapshot()
	assert.Equal(t, "second", snap.Query.Keyword)
	require.Len(t, snap.Result.Jobs, 1)
	assert.Equal(t, 2, snap.Result.Jobs[0].ID)
	assert.Equal(t, StateReady, c.State())
}

func TestStaleResponseRaceInOrderArrival(t *testing.T) {
	up := newFakeUpstream()
	up.gates["first"] = make(chan struct{})
	up.results["first"] = upstream.SearchEnvelope{Result: pageOf(1)}
	up.results["second"] = upstream.SearchEnvelope{Result: pageOf(2)}

	c := newController(t, up, storage.NewMemoryStore(), reconcile.NewMemoryStore())
	ctx := context.Background()

	firstDone := make(chan error, 1)
	go func() { firstDone <- c.Search(ctx, models.SearchQuery{Keyword: "first"}) }()
	require.Equal(t, "first", <-up.started)

	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "second"}))
	<-up.started

	close(up.gates["first"])
	assert.ErrorIs(t, <-firstDone, ErrSuperseded)
	assert.Equal(t, "second", c.Snapshot().Query.Keyword)
}

func TestSearchPersistsAndRestoresWithoutNetwork(t *testing.T) {
	store, err := storage.NewBadgerStore(t.TempDir(), nil)
	require.NoError(t, err)
	defer store.Close()

	up := newFakeUpstream()
	up.results["golang"] = upstream.SearchEnvelope{Result: models.SearchResult{
		Jobs:        []models.JobSummary{{ID: 41}, {ID: 42}},
		Total:       22,
		Pages:       5,
		CurrentPage: 2,
	}}
	up.tracker = []models.ApplicationRecord{{ID: 9, JobID: 42, Status: models.StatusApplied}}

	c := newController(t, up, store, reconcile.NewMemoryStore(), WithSessionID("tab-1"))
	require.NoError(t, c.Search(context.Background(), models.SearchQuery{Keyword: "golang", Page: 2}))
	<-up.started
	before := c.Snapshot()
	assert.Equal(t, models.StatusApplied, before.StatusOverrides[42])

	restartUp := newFakeUpstream()
	restarted := newController(t, restartUp, store, reconcile.NewMemoryStore(), WithSessionID("tab-1"))

	searches, trackers := restartUp.calls()
	assert.Zero(t, searches)
	assert.Zero(t, trackers)
	assert.Equal(t, StateReady, restarted.State())

	after := restarted.Snapshot()
	assert.Equal(t, before.Query, after.Query)
	assert.Equal(t, before.Result.Jobs, after.Result.Jobs)
	assert.Equal(t, before.Result.CurrentPage, after.Result.CurrentPage)
	assert.Equal(t, before.StatusOverrides, after.StatusOverrides)
}

func TestSearchFailureKeepsPreviousResult(t *testing.T) {
	up := newFakeUpstream()
	up.results["ok"] = upstream.SearchEnvelope{Result: pageOf(5, 6)}
	up.results["down"] = upstream.SearchEnvelope{
		Result:   models.EmptyResult(),
		Envelope: upstream.Envelope{Error: upstream.ErrConnectMessage, Failure: errs.Transport("request failed", nil)},
	}

	store := storage.NewMemoryStore()
	c := newController(t, up, store, reconcile.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "ok"}))
	<-up.started
	saves := store.Saves()

	err := c.Search(ctx, models.SearchQuery{Keyword: "down"})
	<-up.started
	require.Error(t, err)
	assert.Equal(t, errs.ErrTypeTransport, errs.TypeOf(err))
	assert.Equal(t, StateError, c.State())
	assert.Equal(t, upstream.ErrConnectMessage, c.LastError())

	snap := c.Snapshot()
	assert.Equal(t, "ok", snap.Query.Keyword)
	assert.Len(t, snap.Result.Jobs, 2)
	assert.Equal(t, saves, store.Saves())

	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "ok"}))
	<-up.started
	assert.Equal(t, StateReady, c.State())
	assert.Empty(t, c.LastError())
}

func TestSetPageAndSortDeriveFromLatestQuery(t *testing.T) {
	up := newFakeUpstream()
	c := newController(t, up, storage.NewMemoryStore(), reconcile.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "go", Location: "Berlin"}))
	<-up.started

	require.NoError(t, c.SetPage(ctx, 3))
	<-up.started
	q := c.Snapshot().Query
	assert.Equal(t, "go", q.Keyword)
	assert.Equal(t, "Berlin", q.Location)
	assert.Equal(t, 3, q.Page)

	require.NoError(t, c.SetSort(ctx, models.SortCompany, models.SortAsc))
	<-up.started
	q = c.Snapshot().Query
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, models.SortCompany, q.SortBy)
	assert.Equal(t, models.SortAsc, q.SortOrder)

	searches, _ := up.calls()
	assert.Equal(t, 3, searches)
}

func TestDuplicateIDsAreDropped(t *testing.T) {
	up := newFakeUpstream()
	up.results["dup"] = upstream.SearchEnvelope{Result: models.SearchResult{
		Jobs:        []models.JobSummary{{ID: 1, Title: "a"}, {ID: 2}, {ID: 1, Title: "b"}},
		Total:       3,
		Pages:       1,
		CurrentPage: 1,
	}}
	c := newController(t, up, storage.NewMemoryStore(), reconcile.NewMemoryStore())

	require.NoError(t, c.Search(context.Background(), models.SearchQuery{Keyword: "dup"}))
	<-up.started

	jobs := c.Snapshot().Result.Jobs
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Title)
}

func TestCrossSessionDrainOnFocus(t *testing.T) {
	pending := reconcile.NewMemoryStore()

	upA := newFakeUpstream()
	a := newController(t, upA, storage.NewMemoryStore(), pending, WithOrigin("A"))
	upB := newFakeUpstream()
	b := newController(t, upB, storage.NewMemoryStore(), pending, WithOrigin("B"))
	ctx := context.Background()

	for _, c := range []*Controller{a, b} {
		c.up.(*fakeUpstream).results["go"] = upstream.SearchEnvelope{Result: pageOf(41, 42)}
		require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "go"}))
		<-c.up.(*fakeUpstream).started
	}

	out, err := a.ApplyJob(ctx, 42, models.StatusApplied)
	require.NoError(t, err)
	assert.False(t, out.Informational())
	assert.Equal(t, models.StatusApplied, upA.applied[42])
	assert.Equal(t, 1, pending.Len())

	_, ok := b.Snapshot().StatusOverrides[42]
	assert.False(t, ok)

	require.NoError(t, b.Focus(ctx))
	snap := b.Snapshot()
	assert.Equal(t, models.StatusApplied, snap.StatusOverrides[42])
	job, ok := snap.Job(42)
	require.True(t, ok)
	assert.Equal(t, models.StatusApplied, job.ApplicationStatus)
	assert.Equal(t, 0, pending.Len())

	// drained once; a second focus finds nothing
	require.NoError(t, a.Focus(ctx))
	_, ok = a.Snapshot().StatusOverrides[42]
	assert.True(t, ok)
}

func TestTrackerOverwritesOptimisticStatus(t *testing.T) {
	up := newFakeUpstream()
	c := newController(t, up, storage.NewMemoryStore(), reconcile.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "go"}))
	<-up.started

	up.mu.Lock()
	up.tracker = []models.ApplicationRecord{{ID: 7, JobID: 2, Status: models.StatusInterview}}
	up.mu.Unlock()

	_, err := c.ApplyJob(ctx, 2, models.StatusApplied)
	require.NoError(t, err)

	assert.Equal(t, models.StatusInterview, c.Snapshot().StatusOverrides[2])
	require.Len(t, c.Applications(), 1)
}

func TestReconcileDropsAppliedNoLongerTracked(t *testing.T) {
	up := newFakeUpstream()
	up.results["go"] = upstream.SearchEnvelope{Result: pageOf(41, 42)}
	up.tracker = []models.ApplicationRecord{{ID: 5, JobID: 42, Status: models.StatusApplied}}
	c := newController(t, up, storage.NewMemoryStore(), reconcile.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "go"}))
	<-up.started
	require.Equal(t, models.StatusApplied, c.Snapshot().StatusOverrides[42])

	// moved back to Open from another session; the backend deleted the record
	up.mu.Lock()
	up.tracker = nil
	up.mu.Unlock()

	require.NoError(t, c.Reconcile(ctx))
	snap := c.Snapshot()
	_, ok := snap.StatusOverrides[42]
	assert.False(t, ok)
	job, ok := snap.Job(42)
	require.True(t, ok)
	assert.NotEqual(t, models.StatusApplied, snap.EffectiveStatus(job))
	assert.Empty(t, c.Applications())
}

func TestReconcileKeepsNonAppliedOverrides(t *testing.T) {
	up := newFakeUpstream()
	pending := reconcile.NewMemoryStore()
	c := newController(t, up, storage.NewMemoryStore(), pending)
	ctx := context.Background()

	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "go"}))
	<-up.started

	require.NoError(t, pending.Publish(ctx, models.StatusUpdateEvent{JobID: 2, NewStatus: models.StatusInterview, EmittedAt: time.Now()}))
	require.NoError(t, c.Focus(ctx))
	require.NoError(t, c.Reconcile(ctx))

	assert.Equal(t, models.StatusInterview, c.Snapshot().StatusOverrides[2])
}

func TestInformationalOutcomeIsNotAnError(t *testing.T) {
	up := newFakeUpstream()
	up.action = upstream.ActionEnvelope{Status: upstream.ActionAlreadyApplied}
	c := newController(t, up, storage.NewMemoryStore(), reconcile.NewMemoryStore())

	out, err := c.ApplyJob(context.Background(), 3, "")
	require.NoError(t, err)
	assert.True(t, out.Informational())
	assert.Equal(t, "Job is already applied", out.Message)
	assert.Equal(t, models.StatusApplied, out.Status)
}

func TestFailedMutationLeavesStateUntouched(t *testing.T) {
	up := newFakeUpstream()
	up.action = upstream.ActionEnvelope{
		Status:   upstream.ActionError,
		Envelope: upstream.Envelope{Error: "Job not found", Failure: errs.Application("Job not found")},
	}
	pending := reconcile.NewMemoryStore()
	c := newController(t, up, storage.NewMemoryStore(), pending)

	_, err := c.ApplyJob(context.Background(), 3, models.StatusApplied)
	require.Error(t, err)
	assert.Empty(t, c.Snapshot().StatusOverrides)
	assert.Equal(t, 0, pending.Len())
}

func TestUpdateApplicationStatusResolvesJobFromTracker(t *testing.T) {
	up := newFakeUpstream()
	up.tracker = []models.ApplicationRecord{{ID: 11, JobID: 42, Status: models.StatusApplied}}
	pending := reconcile.NewMemoryStore()
	c := newController(t, up, storage.NewMemoryStore(), pending)
	ctx := context.Background()

	out, err := c.UpdateApplicationStatus(ctx, 11, upstream.StatusUpdate{Status: models.StatusRejected})
	require.NoError(t, err)
	assert.Equal(t, 42, out.JobID)
	assert.Equal(t, models.StatusRejected, up.updates[11].Status)

	events, err := pending.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, events[42].NewStatus)
}

func TestSaveJobPublishesEffectiveStatus(t *testing.T) {
	up := newFakeUpstream()
	pending := reconcile.NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newController(t, up, storage.NewMemoryStore(), pending, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	up.results["go"] = upstream.SearchEnvelope{Result: models.SearchResult{
		Jobs:  []models.JobSummary{{ID: 8, ApplicationStatus: models.StatusInterview}},
		Total: 1, Pages: 1, CurrentPage: 1,
	}}
	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "go"}))
	<-up.started

	out, err := c.SaveJob(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInterview, out.Status)

	events, err := pending.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInterview, events[8].NewStatus)
	assert.True(t, now.Equal(events[8].EmittedAt))
	assert.Equal(t, c.Origin(), events[8].Origin)
}

// backend is a minimal in-memory stand-in for the job API.
type backend struct {
	mu      sync.Mutex
	applied map[int]string
}

func (b *backend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/search", func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		jobs := []map[string]any{}
		for i := 0; i < 5; i++ {
			id := 35 + (page-1)*5 + i
			jobs = append(jobs, map[string]any{"id": id, "title": "Job " + strconv.Itoa(id), "company": "Acme", "location": "Remote", "platform": "LinkedIn", "url": "https://example.com"})
		}
		json.NewEncoder(w).Encode(map[string]any{"jobs": jobs, "total": 25, "pages": 5, "current_page": page})
	})
	mux.HandleFunc("/api/apply_job/", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(r.URL.Path[len("/api/apply_job/"):])
		if !assert.NoError(t, err) {
			return
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.applied[id] = body["status"]
		b.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	})
	mux.HandleFunc("/api/tracker", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		apps := []map[string]any{}
		n := 1
		for id, status := range b.applied {
			apps = append(apps, map[string]any{"id": n, "job_id": id, "status": status, "referral": "", "applied_at": ""})
			n++
		}
		json.NewEncoder(w).Encode(map[string]any{"applications": apps})
	})
	return mux
}

func TestEndToEndSearchApplyAndReconcile(t *testing.T) {
	be := &backend{applied: map[int]string{}}
	srv := httptest.NewServer(be.handler(t))
	defer srv.Close()

	client := upstream.NewClient(srv.URL, upstream.WithRetryDelay(time.Millisecond))
	c := newController(t, client, storage.NewMemoryStore(), reconcile.NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, c.Search(ctx, models.SearchQuery{Keyword: "go", Page: 2}))
	snap := c.Snapshot()
	assert.Equal(t, 2, snap.Result.CurrentPage)
	assert.Equal(t, 5, snap.Result.Pages)
	_, ok := snap.Job(42)
	require.True(t, ok)

	_, err := c.ApplyJob(ctx, 42, models.StatusApplied)
	require.NoError(t, err)

	snap = c.Snapshot()
	assert.Equal(t, models.StatusApplied, snap.StatusOverrides[42])
	job, _ := snap.Job(42)
	assert.Equal(t, models.StatusApplied, snap.EffectiveStatus(job))
	require.Len(t, c.Applications(), 1)
	assert.Equal(t, 42, c.Applications()[0].JobID)
}
