package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is the durable view a client keeps between restarts: the last committed
// query, its result page, and status overrides learned since the page was fetched.
// Sessions are replaced wholesale, never partially updated.
type Session struct {
	ID              string                    `json:"id" badgerhold:"key"`
	Query           SearchQuery               `json:"query"`
	Result          SearchResult              `json:"result"`
	StatusOverrides map[int]ApplicationStatus `json:"status_overrides"`
	SavedAt         time.Time                 `json:"saved_at"`
}

// NewSession returns an empty session. A blank id gets a random one.
func NewSession(id string) Session {
	if id == "" {
		id = uuid.NewString()
	}
	return Session{
		ID:              id,
		Query:           SearchQuery{}.Normalize(),
		Result:          EmptyResult(),
		StatusOverrides: map[int]ApplicationStatus{},
	}
}

// EffectiveStatus returns the override for the job if one exists, else the
// status reported with the job itself.
func (s Session) EffectiveStatus(job JobSummary) ApplicationStatus {
	if st, ok := s.StatusOverrides[job.ID]; ok {
		return st
	}
	if job.ApplicationStatus == "" {
		return StatusOpen
	}
	return job.ApplicationStatus
}

// Job looks up a job on the current page.
func (s Session) Job(id int) (JobSummary, bool) {
	for _, j := range s.Result.Jobs {
		if j.ID == id {
			return j, true
		}
	}
	return JobSummary{}, false
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Result = s.Result.Clone()
	out.StatusOverrides = make(map[int]ApplicationStatus, len(s.StatusOverrides))
	for k, v := range s.StatusOverrides {
		out.StatusOverrides[k] = v
	}
	return out
}
