package models

import "fmt"

// ApplicationStatus is the tracking state of a job posting for the current user.
type ApplicationStatus string

// ApplicationStatus values as sent by the backend
const (
	StatusOpen      ApplicationStatus = "Open"
	StatusApplied   ApplicationStatus = "Applied"
	StatusRejected  ApplicationStatus = "Rejected"
	StatusInterview ApplicationStatus = "Interview"
	StatusCongrats  ApplicationStatus = "Congrats"
)

// ParseApplicationStatus converts a raw string to an ApplicationStatus. Matching is
// case-sensitive; the empty string is treated as Open because the backend omits
// the field for jobs without an application record.
func ParseApplicationStatus(s string) (ApplicationStatus, error) {
	if s == "" {
		return StatusOpen, nil
	}
	st := ApplicationStatus(s)
	switch st {
	case StatusOpen, StatusApplied, StatusRejected, StatusInterview, StatusCongrats:
		return st, nil
	}
	return "", fmt.Errorf("unknown application status %q", s)
}

// UnmarshalText lets JSON decoding reject unknown statuses.
func (s *ApplicationStatus) UnmarshalText(b []byte) error {
	st, err := ParseApplicationStatus(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// JobSummary is one row of a search result page. ID is unique within a
// SearchResult and stable across requests.
type JobSummary struct {
	ID                int               `json:"id"`
	Title             string            `json:"title"`
	Company           string            `json:"company"`
	Location          string            `json:"location"`
	Platform          string            `json:"platform"`
	URL               string            `json:"url"`
	DatePosted        string            `json:"date_posted,omitempty"`
	ApplicationStatus ApplicationStatus `json:"application_status,omitempty"`
}

// Suggestion is a personalised improvement hint attached to a job detail.
type Suggestion struct {
	Category    string   `json:"category"`
	Suggestion  string   `json:"suggestion"`
	ActionItems []string `json:"action_items"`
}

// SkillGroup lists skills of one category and the level they were matched at.
type SkillGroup struct {
	Skills []string `json:"skills"`
	Level  string   `json:"level"`
}

// JobDetail is the full view of a posting, including the optional match analysis
// computed by the backend against the uploaded resume.
type JobDetail struct {
	JobSummary
	Description     string                `json:"description"`
	Requirements    []string              `json:"requirements"`
	Suggestions     []Suggestion          `json:"suggestions"`
	MatchPercentage *float64              `json:"match_percentage,omitempty"`
	MatchedSkills   map[string]SkillGroup `json:"matched_skills,omitempty"`
	MissingSkills   map[string]SkillGroup `json:"missing_skills,omitempty"`
}

// SavedJob is a bookmarked posting.
type SavedJob struct {
	JobSummary
	SavedAt string `json:"saved_at"`
}

// SavedJobsPage is one page of bookmarked postings.
type SavedJobsPage struct {
	Jobs        []SavedJob `json:"saved_jobs"`
	Total       int        `json:"total"`
	Pages       int        `json:"pages"`
	CurrentPage int        `json:"current_page"`
}

// Resume describes the most recently uploaded resume.
type Resume struct {
	Filename   string `json:"filename"`
	UploadedAt string `json:"uploaded_at"`
}
