// Package details manages the single open job-detail view.
package details

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"job-tracker-go/internal/models"
	"job-tracker-go/internal/upstream"
)

// UnavailableMessage is shown when a detail fetch fails.
const UnavailableMessage = "details unavailable"

// Fetcher loads the detail of one job.
type Fetcher interface {
	JobDetails(ctx context.Context, jobID int) upstream.DetailEnvelope
}

type Phase int

const (
	PhaseClosed Phase = iota
	PhaseLoading
	PhaseLoaded
	PhaseUnavailable
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseLoading:
		return "loading"
	case PhaseLoaded:
		return "loaded"
	case PhaseUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// View is what the detail pane shows. Detail is set only when Loaded and
// Reason only when Unavailable.
type View struct {
	Phase  Phase
	JobID  int
	Detail *models.JobDetail
	Reason string
}

// Open reports whether the view shows anything for a job.
func (v View) Open() bool {
	return v.Phase != PhaseClosed
}

// Controller is safe for concurrent use.
type Controller struct {
	up     Fetcher
	logger *zap.Logger

	mu   sync.Mutex
	view View
	seq  uint64
}

func New(up Fetcher, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		up:     up,
		logger: logger.Named("details"),
	}
}

// Current returns the view as it is now.
func (c *Controller) Current() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

// Close closes the view. A fetch still in flight is discarded when it lands.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.view = View{}
}

// Toggle opens details for jobID, or closes the view if that job is already
// open or loading. Opening a different job abandons any fetch in flight.
// Toggle blocks until its own fetch completes and returns the view at that
// point, which is a newer request's view if this one was superseded.
func (c *Controller) Toggle(ctx context.Context, jobID int) View {
	c.mu.Lock()
	if c.view.Open() && c.view.JobID == jobID {
		c.seq++
		c.view = View{}
		c.mu.Unlock()
		c.logger.Debug("Details closed", zap.Int("job_id", jobID))
		return View{}
	}
	c.seq++
	seq := c.seq
	c.view = View{Phase: PhaseLoading, JobID: jobID}
	c.mu.Unlock()

	env := c.up.JobDetails(ctx, jobID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.seq {
		c.logger.Debug("Discarding superseded detail response",
			zap.Int("job_id", jobID), zap.Uint64("seq", seq))
		return c.view
	}
	if !env.OK() || env.Detail == nil {
		c.logger.Warn("Detail fetch failed",
			zap.Int("job_id", jobID), zap.String("error", env.Error))
		c.view = View{Phase: PhaseUnavailable, JobID: jobID, Reason: UnavailableMessage}
		return c.view
	}
	c.view = View{Phase: PhaseLoaded, JobID: jobID, Detail: env.Detail}
	return c.view
}
