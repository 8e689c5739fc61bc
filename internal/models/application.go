package models

import (
	"fmt"
	"time"
)

// Referral records whether an application went through a referral.
type Referral string

const (
	ReferralYes Referral = "Yes"
	ReferralNo  Referral = "No"
)

// ParseReferral accepts "Yes" or "No"; empty means No.
func ParseReferral(s string) (Referral, error) {
	switch Referral(s) {
	case "", ReferralNo:
		return ReferralNo, nil
	case ReferralYes:
		return ReferralYes, nil
	}
	return "", fmt.Errorf("unknown referral value %q", s)
}

// ApplicationRecord is the backend's authoritative record of an application.
// There is at most one record per job.
type ApplicationRecord struct {
	ID           int               `json:"id"`
	JobID        int               `json:"job_id"`
	Status       ApplicationStatus `json:"status"`
	Referral     Referral          `json:"referral,omitempty"`
	ReferralMail string            `json:"referral_mail,omitempty"`
	AppliedAt    *time.Time        `json:"applied_at,omitempty"`
	Company      string            `json:"company,omitempty"`
	Location     string            `json:"location,omitempty"`
	JobLink      string            `json:"job_link,omitempty"`
	Title        string            `json:"title,omitempty"`
}

// StatusUpdateEvent is published by one session and consumed by another to
// propagate a locally made status change.
type StatusUpdateEvent struct {
	JobID     int               `json:"job_id"`
	NewStatus ApplicationStatus `json:"new_status"`
	EmittedAt time.Time         `json:"emitted_at"`
	Origin    string            `json:"origin"`
}

// Newer reports whether e should replace other for the same job.
// Equal timestamps favour e so a repeated publish still lands.
func (e StatusUpdateEvent) Newer(other StatusUpdateEvent) bool {
	return !e.EmittedAt.Before(other.EmittedAt)
}
