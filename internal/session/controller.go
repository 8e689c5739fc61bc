// Package session owns the client-side view of a search: the committed query
// and result page, status overrides learned since the page was fetched, and
// the rules that keep them consistent with the backend and other sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"job-tracker-go/internal/models"
	"job-tracker-go/internal/reconcile"
	"job-tracker-go/internal/storage"
	"job-tracker-go/internal/upstream"
)

// ErrSuperseded is returned to a caller whose search response arrived after a
// newer search had been issued. The response was discarded.
var ErrSuperseded = errors.New("search superseded by a newer request")

// DefaultSessionID is used when no session id is configured.
const DefaultSessionID = "default"

// Upstream is the part of the backend client the controller needs.
type Upstream interface {
	Search(ctx context.Context, q models.SearchQuery) upstream.SearchEnvelope
	Tracker(ctx context.Context) upstream.TrackerEnvelope
	SaveJob(ctx context.Context, jobID int) upstream.ActionEnvelope
	UnsaveJob(ctx context.Context, jobID int) upstream.ActionEnvelope
	ApplyJob(ctx context.Context, jobID int, status models.ApplicationStatus) upstream.ActionEnvelope
	UpdateApplicationStatus(ctx context.Context, applicationID int, update upstream.StatusUpdate) upstream.ActionEnvelope
}

// State is the lifecycle state of the controller.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Controller is safe for concurrent use. Network calls run outside the lock;
// the lock only guards state transitions.
type Controller struct {
	up      Upstream
	store   storage.SessionStore
	pending reconcile.PendingStore
	dedup   *Deduplicator
	logger  *zap.Logger
	now     func() time.Time
	origin  string

	mu           sync.Mutex
	session      models.Session
	state        State
	lastErr      string
	seq          uint64
	latest       models.SearchQuery
	applications map[int]models.ApplicationRecord // by job id

	persistMu sync.Mutex
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSessionID selects which persisted session to restore and write.
func WithSessionID(id string) Option {
	return func(c *Controller) {
		if id != "" {
			c.session.ID = id
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithOrigin sets the origin tag on published status updates. Defaults to a random UUID.
func WithOrigin(origin string) Option {
	return func(c *Controller) {
		if origin != "" {
			c.origin = origin
		}
	}
}

// New creates a controller and restores the last persisted session. Restoring
// reads storage only; no backend call is made. A missing session starts Idle,
// a restored one starts Ready.
func New(up Upstream, store storage.SessionStore, pending reconcile.PendingStore, opts ...Option) (*Controller, error) {
	c := &Controller{
		up:           up,
		store:        store,
		pending:      pending,
		dedup:        NewDeduplicator(),
		logger:       zap.NewNop(),
		now:          time.Now,
		origin:       uuid.NewString(),
		session:      models.Session{ID: DefaultSessionID},
		applications: make(map[int]models.ApplicationRecord),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("session").With(zap.String("session_id", c.session.ID))

	restored, err := store.Load(context.Background(), c.session.ID)
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		c.session = models.NewSession(c.session.ID)
		c.state = StateIdle
	case err != nil:
		return nil, fmt.Errorf("failed to restore session: %w", err)
	default:
		if restored.StatusOverrides == nil {
			restored.StatusOverrides = map[int]models.ApplicationStatus{}
		}
		c.session = restored
		c.state = StateReady
		c.logger.Info("Session restored",
			zap.String("keyword", restored.Query.Keyword),
			zap.Int("page", restored.Result.CurrentPage),
			zap.Int("jobs", len(restored.Result.Jobs)))
	}
	c.latest = c.session.Query
	return c, nil
}

// Snapshot returns a deep copy of the current session.
func (c *Controller) Snapshot() models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the message of the last failed search, cleared on success.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Origin identifies this controller in published status updates.
func (c *Controller) Origin() string {
	return c.origin
}

// Applications returns the application records from the last tracker fetch.
func (c *Controller) Applications() []models.ApplicationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.ApplicationRecord, 0, len(c.applications))
	for _, rec := range c.applications {
		out = append(out, rec)
	}
	return out
}

// Search issues a new search.
func (c *Controller) Search(ctx context.Context, q models.SearchQuery) error {
	return c.issue(ctx, func(models.SearchQuery) models.SearchQuery { return q })
}

// SetPage re-issues the latest query for another page.
func (c *Controller) SetPage(ctx context.Context, page int) error {
	return c.issue(ctx, func(latest models.SearchQuery) models.SearchQuery { return latest.WithPage(page) })
}

// SetSort re-issues the latest query with a new ordering, from page one.
func (c *Controller) SetSort(ctx context.Context, field models.SortField, order models.SortOrder) error {
	return c.issue(ctx, func(latest models.SearchQuery) models.SearchQuery { return latest.WithSort(field, order) })
}

// issue performs exactly one search call. The sequence number is taken under
// the lock; on arrival the response is committed only if no newer search has
// been issued since.
func (c *Controller) issue(ctx context.Context, build func(latest models.SearchQuery) models.SearchQuery) error {
	c.mu.Lock()
	q := build(c.latest).Normalize()
	c.seq++
	seq := c.seq
	c.latest = q
	c.state = StateSearching
	c.mu.Unlock()

	c.logger.Debug("Search issued",
		zap.Uint64("seq", seq),
		zap.String("keyword", q.Keyword),
		zap.Int("page", q.Page),
		zap.String("sort_by", string(q.SortBy)))

	env := c.up.Search(ctx, q)

	c.mu.Lock()
	if seq != c.seq {
		c.mu.Unlock()
		c.logger.Debug("Discarding superseded search response", zap.Uint64("seq", seq))
		return ErrSuperseded
	}
	if !env.OK() {
		c.state = StateError
		c.lastErr = env.Error
		c.mu.Unlock()
		c.logger.Warn("Search failed", zap.Uint64("seq", seq), zap.String("error", env.Error))
		return env.Err()
	}

	result := env.Result.Clone()
	result.Jobs = c.dedup.RemoveDuplicates(result.Jobs)
	next := c.session.Clone()
	next.Query = q
	next.Result = result
	next.SavedAt = c.now()
	c.session = next
	c.state = StateReady
	c.lastErr = ""
	c.mu.Unlock()

	c.logger.Info("Search committed",
		zap.Uint64("seq", seq),
		zap.Int("page", result.CurrentPage),
		zap.Int("pages", result.Pages),
		zap.Int("total", result.Total),
		zap.Int("jobs", len(result.Jobs)),
		zap.Int64("duplicates_dropped", c.dedup.Dropped()))

	if err := c.persist(ctx); err != nil {
		return err
	}
	if err := c.Reconcile(ctx); err != nil {
		c.logger.Warn("Tracker reconciliation after search failed", zap.Error(err))
	}
	return nil
}

// Reconcile fetches the backend's application records and merges them into
// the status overrides. Backend values overwrite optimistic local ones, and an
// Applied override without a tracker record is dropped.
func (c *Controller) Reconcile(ctx context.Context) error {
	env := c.up.Tracker(ctx)
	if !env.OK() {
		return fmt.Errorf("tracker: %w", env.Err())
	}

	c.mu.Lock()
	next := c.session.Clone()
	apps := make(map[int]models.ApplicationRecord, len(env.Applications))
	changed := 0
	for _, rec := range env.Applications {
		if rec.JobID == 0 {
			continue
		}
		apps[rec.JobID] = rec
		if applyStatus(&next, rec.JobID, rec.Status) {
			changed++
		}
	}
	// The tracker lists every Applied job, so an Applied override it no
	// longer lists was withdrawn or moved on elsewhere.
	for id, st := range next.StatusOverrides {
		if st != models.StatusApplied {
			continue
		}
		if _, ok := apps[id]; ok {
			continue
		}
		delete(next.StatusOverrides, id)
		for i := range next.Result.Jobs {
			if next.Result.Jobs[i].ID == id && next.Result.Jobs[i].ApplicationStatus == models.StatusApplied {
				next.Result.Jobs[i].ApplicationStatus = models.StatusOpen
			}
		}
		c.logger.Debug("Dropped Applied override missing from tracker", zap.Int("job_id", id))
		changed++
	}
	c.applications = apps
	c.session = next
	c.mu.Unlock()

	c.logger.Debug("Tracker merged",
		zap.Int("applications", len(apps)),
		zap.Int("changed", changed))

	if changed == 0 {
		return nil
	}
	return c.persist(ctx)
}

// Focus drains the shared pending store and applies every update to this
// session. Call it whenever the session becomes active again.
func (c *Controller) Focus(ctx context.Context) error {
	events, err := c.pending.Drain(ctx)
	if err != nil {
		return fmt.Errorf("failed to drain pending updates: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	c.mu.Lock()
	next := c.session.Clone()
	for id, ev := range events {
		applyStatus(&next, id, ev.NewStatus)
		c.logger.Debug("Applied pending update",
			zap.Int("job_id", id),
			zap.String("status", string(ev.NewStatus)),
			zap.String("origin", ev.Origin),
			zap.Bool("own", ev.Origin == c.origin))
	}
	c.session = next
	c.mu.Unlock()

	c.logger.Info("Pending updates applied", zap.Int("count", len(events)))
	return c.persist(ctx)
}

// persist writes the session as it is at call time. Writes are serialised so
// an older snapshot never lands after a newer one.
func (c *Controller) persist(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	c.mu.Lock()
	snapshot := c.session.Clone()
	c.mu.Unlock()

	if err := c.store.Save(ctx, snapshot); err != nil {
		c.logger.Error("Failed to persist session", zap.Error(err))
		return fmt.Errorf("failed to persist session: %w", err)
	}
	return nil
}

// applyStatus sets the override and the status on the job list. It reports
// whether anything changed.
func applyStatus(s *models.Session, jobID int, status models.ApplicationStatus) bool {
	changed := false
	if cur, ok := s.StatusOverrides[jobID]; !ok || cur != status {
		s.StatusOverrides[jobID] = status
		changed = true
	}
	for i := range s.Result.Jobs {
		if s.Result.Jobs[i].ID == jobID && s.Result.Jobs[i].ApplicationStatus != status {
			s.Result.Jobs[i].ApplicationStatus = status
			changed = true
		}
	}
	return changed
}
