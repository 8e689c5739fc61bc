package upstream

import (
	errs "job-tracker-go/internal/errors"
	"job-tracker-go/internal/models"
)

// Envelope carries the failure of a call, if any. Error is the user-facing
// message; Failure classifies it.
type Envelope struct {
	Error   string            `json:"error,omitempty"`
	Failure *errs.DomainError `json:"-"`
}

// OK reports whether the call succeeded.
func (e Envelope) OK() bool {
	return e.Failure == nil
}

// Err returns Failure as an error, or nil.
func (e Envelope) Err() error {
	if e.Failure == nil {
		return nil
	}
	return e.Failure
}

func failed(message string, failure *errs.DomainError) Envelope {
	return Envelope{Error: message, Failure: failure}
}

// messageFor picks the user-facing text for a failure.
func messageFor(failure *errs.DomainError) string {
	switch failure.Type {
	case errs.ErrTypeMalformedResponse:
		return ErrMalformedMessage
	case errs.ErrTypeTransport, errs.ErrTypeUpstreamStatus:
		return ErrConnectMessage
	}
	return failure.Message
}

// SearchEnvelope is the result of Search. Result always holds a usable page,
// the empty default when the call failed.
type SearchEnvelope struct {
	Envelope
	Result    models.SearchResult `json:"result"`
	SortBy    models.SortField    `json:"sort_by"`
	SortOrder models.SortOrder    `json:"sort_order"`
}

// DetailEnvelope is the result of JobDetails.
type DetailEnvelope struct {
	Envelope
	Detail *models.JobDetail `json:"detail,omitempty"`
}

// ActionStatus is the status string returned by mutating endpoints.
type ActionStatus string

const (
	ActionSuccess        ActionStatus = "success"
	ActionAlreadySaved   ActionStatus = "already_saved"
	ActionAlreadyApplied ActionStatus = "already_applied"
	ActionNotSaved       ActionStatus = "not_saved"
	ActionError          ActionStatus = "error"
	ActionPong           ActionStatus = "pong"
)

// ActionEnvelope is the result of a mutating call.
type ActionEnvelope struct {
	Envelope
	Status  ActionStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// Informational returns an APPLICATION error for outcomes like already_saved
// that leave the backend unchanged but are not failures. It returns nil otherwise.
func (e ActionEnvelope) Informational() *errs.DomainError {
	switch e.Status {
	case ActionAlreadySaved:
		return errs.Application("Job is already saved")
	case ActionAlreadyApplied:
		return errs.Application("Job is already applied")
	case ActionNotSaved:
		return errs.Application("Job was not saved")
	}
	return nil
}

// TrackerEnvelope is the result of Tracker.
type TrackerEnvelope struct {
	Envelope
	Applications []models.ApplicationRecord `json:"applications"`
}

// SavedJobsEnvelope is the result of SavedJobs.
type SavedJobsEnvelope struct {
	Envelope
	Page models.SavedJobsPage `json:"page"`
}

// ResumeEnvelope is the result of Resume and UploadResume. Resume is nil when
// nothing has been uploaded.
type ResumeEnvelope struct {
	Envelope
	Resume *models.Resume `json:"resume,omitempty"`
}

// StatusUpdate is the body of an application status change.
type StatusUpdate struct {
	Status       models.ApplicationStatus `json:"status"`
	Referral     models.Referral          `json:"referral,omitempty"`
	ReferralMail string                   `json:"referral_mail,omitempty"`
}
