package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"job-tracker-go/internal/models"
	"job-tracker-go/internal/upstream"
)

// Outcome describes a completed mutation. Message is set for informational
// results such as already_applied; those are not errors.
type Outcome struct {
	JobID   int
	Status  models.ApplicationStatus
	Action  upstream.ActionStatus
	Message string
}

// Informational reports whether the backend left its state unchanged.
func (o Outcome) Informational() bool {
	return o.Message != ""
}

// SaveJob bookmarks a job. Saved is not an application status, so the job's
// current effective status is what gets published.
func (c *Controller) SaveJob(ctx context.Context, jobID int) (Outcome, error) {
	env := c.up.SaveJob(ctx, jobID)
	if !env.OK() {
		return Outcome{JobID: jobID, Action: env.Status}, fmt.Errorf("save job %d: %w", jobID, env.Err())
	}
	return c.afterMutation(ctx, jobID, c.effectiveStatus(jobID), env)
}

// UnsaveJob removes a bookmark.
func (c *Controller) UnsaveJob(ctx context.Context, jobID int) (Outcome, error) {
	env := c.up.UnsaveJob(ctx, jobID)
	if !env.OK() {
		return Outcome{JobID: jobID, Action: env.Status}, fmt.Errorf("unsave job %d: %w", jobID, env.Err())
	}
	return c.afterMutation(ctx, jobID, c.effectiveStatus(jobID), env)
}

// ApplyJob records an application for the job with the given status
// (Applied when empty).
func (c *Controller) ApplyJob(ctx context.Context, jobID int, status models.ApplicationStatus) (Outcome, error) {
	if status == "" {
		status = models.StatusApplied
	}
	env := c.up.ApplyJob(ctx, jobID, status)
	if !env.OK() {
		return Outcome{JobID: jobID, Action: env.Status}, fmt.Errorf("apply job %d: %w", jobID, env.Err())
	}
	return c.afterMutation(ctx, jobID, status, env)
}

// UpdateApplicationStatus changes an existing application. The job it belongs
// to is looked up from the tracker, refreshing it once if the id is unknown.
// Setting Open removes the application on the backend.
func (c *Controller) UpdateApplicationStatus(ctx context.Context, applicationID int, update upstream.StatusUpdate) (Outcome, error) {
	jobID, ok := c.jobForApplication(applicationID)
	if !ok {
		if err := c.Reconcile(ctx); err != nil {
			c.logger.Warn("Tracker refresh before status update failed", zap.Error(err))
		}
		jobID, ok = c.jobForApplication(applicationID)
	}

	env := c.up.UpdateApplicationStatus(ctx, applicationID, update)
	if !env.OK() {
		return Outcome{JobID: jobID, Action: env.Status},
			fmt.Errorf("update application %d: %w", applicationID, env.Err())
	}
	if !ok {
		c.logger.Warn("Application has no known job; local status not updated",
			zap.Int("application_id", applicationID))
		return Outcome{Status: update.Status, Action: env.Status, Message: env.Message}, nil
	}
	return c.afterMutation(ctx, jobID, update.Status, env)
}

// afterMutation applies the optimistic override, publishes it for other
// sessions, persists, then reconciles with the tracker.
func (c *Controller) afterMutation(ctx context.Context, jobID int, status models.ApplicationStatus, env upstream.ActionEnvelope) (Outcome, error) {
	out := Outcome{JobID: jobID, Status: status, Action: env.Status}
	if info := env.Informational(); info != nil {
		out.Message = info.Message
	}

	c.mu.Lock()
	next := c.session.Clone()
	applyStatus(&next, jobID, status)
	c.session = next
	c.mu.Unlock()

	event := models.StatusUpdateEvent{
		JobID:     jobID,
		NewStatus: status,
		EmittedAt: c.now(),
		Origin:    c.origin,
	}
	if err := c.pending.Publish(ctx, event); err != nil {
		c.logger.Error("Failed to publish status update", zap.Int("job_id", jobID), zap.Error(err))
		return out, fmt.Errorf("failed to publish status update: %w", err)
	}

	if err := c.persist(ctx); err != nil {
		return out, err
	}

	if err := c.Reconcile(ctx); err != nil {
		c.logger.Warn("Tracker reconciliation after mutation failed",
			zap.Int("job_id", jobID), zap.Error(err))
	}

	c.logger.Info("Job status updated",
		zap.Int("job_id", jobID),
		zap.String("status", string(status)),
		zap.String("action", string(env.Status)))
	return out, nil
}

func (c *Controller) effectiveStatus(jobID int) models.ApplicationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.session.StatusOverrides[jobID]; ok {
		return st
	}
	if job, ok := c.session.Job(jobID); ok {
		return c.session.EffectiveStatus(job)
	}
	return models.StatusOpen
}

func (c *Controller) jobForApplication(applicationID int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for jobID, rec := range c.applications {
		if rec.ID == applicationID {
			return jobID, true
		}
	}
	return 0, false
}
