package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"job-tracker-go/internal/models"
)

// Wire types mirror the backend's JSON loosely. The backend emits empty
// strings for NULL columns and sometimes JSON-encodes lists into strings, so
// decoding goes through these before producing typed models.

type flexInt int

func (n *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*n = 0
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid integer %q", s)
		}
		*n = flexInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*n = flexInt(v)
	return nil
}

type wireJob struct {
	ID                flexInt `json:"id"`
	Title             string  `json:"title"`
	Company           string  `json:"company"`
	Location          string  `json:"location"`
	Platform          string  `json:"platform"`
	URL               string  `json:"url"`
	DatePosted        string  `json:"date_posted"`
	ApplicationStatus string  `json:"application_status"`
}

func (w wireJob) summary() (models.JobSummary, error) {
	st, err := models.ParseApplicationStatus(w.ApplicationStatus)
	if err != nil {
		return models.JobSummary{}, fmt.Errorf("job %d: %w", w.ID, err)
	}
	return models.JobSummary{
		ID:                int(w.ID),
		Title:             w.Title,
		Company:           w.Company,
		Location:          w.Location,
		Platform:          w.Platform,
		URL:               w.URL,
		DatePosted:        w.DatePosted,
		ApplicationStatus: st,
	}, nil
}

type wireSearch struct {
	Jobs        []wireJob `json:"jobs"`
	Total       int       `json:"total"`
	Pages       int       `json:"pages"`
	CurrentPage int       `json:"current_page"`
	Locations   []string  `json:"locations"`
	Platforms   []string  `json:"platforms"`
	SortBy      string    `json:"sort_by"`
	SortOrder   string    `json:"sort_order"`
	Error       string    `json:"error"`
}

// result converts the page. A zero page count means "no results" and is
// normalised to one empty page.
func (w wireSearch) result() (models.SearchResult, error) {
	res := models.SearchResult{
		Jobs:        make([]models.JobSummary, 0, len(w.Jobs)),
		Total:       w.Total,
		Pages:       w.Pages,
		CurrentPage: w.CurrentPage,
		Locations:   w.Locations,
		Platforms:   w.Platforms,
	}
	for _, j := range w.Jobs {
		s, err := j.summary()
		if err != nil {
			return models.SearchResult{}, err
		}
		res.Jobs = append(res.Jobs, s)
	}
	if res.Pages < 1 {
		res.Pages = 1
	}
	if res.CurrentPage < 1 {
		res.CurrentPage = 1
	}
	if res.CurrentPage > res.Pages && len(res.Jobs) == 0 {
		// past the last page
		res.CurrentPage = res.Pages
	}
	if err := res.Valid(); err != nil {
		return models.SearchResult{}, err
	}
	return res, nil
}

type wireDetail struct {
	wireJob
	Description     string           `json:"description"`
	Requirements    json.RawMessage  `json:"requirements"`
	Suggestions     []wireSuggestion `json:"suggestions"`
	MatchPercentage *float64         `json:"match_percentage"`
	MatchedSkills   json.RawMessage  `json:"matched_skills"`
	MissingSkills   json.RawMessage  `json:"missing_skills"`
	Error           string           `json:"error"`
}

type wireSuggestion struct {
	Category    string   `json:"category"`
	Suggestion  string   `json:"suggestion"`
	ActionItems []string `json:"action_items"`
}

func (w wireDetail) detail() (*models.JobDetail, error) {
	if w.Error != "" {
		return nil, fmt.Errorf("backend error: %s", w.Error)
	}
	if w.ID == 0 {
		return nil, fmt.Errorf("job detail without id")
	}
	summary, err := w.summary()
	if err != nil {
		return nil, err
	}
	reqs, err := decodeRequirements(w.Requirements)
	if err != nil {
		return nil, err
	}
	matched, err := decodeSkills(w.MatchedSkills)
	if err != nil {
		return nil, fmt.Errorf("matched_skills: %w", err)
	}
	missing, err := decodeSkills(w.MissingSkills)
	if err != nil {
		return nil, fmt.Errorf("missing_skills: %w", err)
	}

	d := &models.JobDetail{
		JobSummary:      summary,
		Description:     w.Description,
		Requirements:    reqs,
		Suggestions:     make([]models.Suggestion, 0, len(w.Suggestions)),
		MatchPercentage: w.MatchPercentage,
		MatchedSkills:   matched,
		MissingSkills:   missing,
	}
	for _, s := range w.Suggestions {
		d.Suggestions = append(d.Suggestions, models.Suggestion(s))
	}
	return d, nil
}

// decodeRequirements accepts a JSON list or a string holding a JSON list.
func decodeRequirements(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return []string{}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("requirements: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return []string{}, nil
	}
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		return list, nil
	}
	return []string{s}, nil
}

// decodeSkills accepts {"category": ["a","b"]} or {"category": {"skills": [...], "level": "..."}}.
func decodeSkills(raw json.RawMessage) (map[string]models.SkillGroup, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var flat map[string][]string
	if err := json.Unmarshal(raw, &flat); err == nil {
		out := make(map[string]models.SkillGroup, len(flat))
		for k, v := range flat {
			out[k] = models.SkillGroup{Skills: v}
		}
		return out, nil
	}
	var grouped map[string]models.SkillGroup
	if err := json.Unmarshal(raw, &grouped); err != nil {
		return nil, err
	}
	return grouped, nil
}

type wireAction struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type wireApplication struct {
	ID           flexInt `json:"id"`
	JobID        flexInt `json:"job_id"`
	Status       string  `json:"status"`
	Referral     string  `json:"referral"`
	ReferralMail string  `json:"referral_mail"`
	AppliedAt    string  `json:"applied_at"`
	Company      string  `json:"company"`
	Location     string  `json:"location"`
	JobLink      string  `json:"job_link"`
	Title        string  `json:"title"`
	JobTitle     string  `json:"job_title"`
}

func (w wireApplication) record() (models.ApplicationRecord, error) {
	st, err := models.ParseApplicationStatus(w.Status)
	if err != nil {
		return models.ApplicationRecord{}, err
	}
	ref, err := models.ParseReferral(w.Referral)
	if err != nil {
		ref = models.ReferralNo
	}
	title := w.Title
	if title == "" {
		title = w.JobTitle
	}
	return models.ApplicationRecord{
		ID:           int(w.ID),
		JobID:        int(w.JobID),
		Status:       st,
		Referral:     ref,
		ReferralMail: w.ReferralMail,
		AppliedAt:    parseTimestamp(w.AppliedAt),
		Company:      w.Company,
		Location:     w.Location,
		JobLink:      w.JobLink,
		Title:        title,
	}, nil
}

type wireTracker struct {
	Applications []wireApplication `json:"applications"`
	Error        string            `json:"error"`
}

type wireSavedJob struct {
	wireJob
	SavedAt string `json:"saved_at"`
}

type wireSavedJobs struct {
	SavedJobs   []wireSavedJob `json:"saved_jobs"`
	Total       int            `json:"total"`
	Pages       int            `json:"pages"`
	CurrentPage int            `json:"current_page"`
	Error       string         `json:"error"`
}

type wireResume struct {
	Resume *models.Resume `json:"resume"`
	Error  string         `json:"error"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04:05.999999",
	http.TimeFormat,
}

// parseTimestamp returns nil for empty or unrecognised values.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
