package models

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// SortField is a column the backend can order results by.
type SortField string

const (
	SortDatePosted SortField = "date_posted"
	SortTitle      SortField = "title"
	SortCompany    SortField = "company"
	SortLocation   SortField = "location"
	SortMatchScore SortField = "match_score"
)

// SortOrder is the direction of the ordering.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// SearchQuery is an immutable description of one /search request. Use WithPage and
// WithSort to derive a new query instead of mutating a submitted one.
type SearchQuery struct {
	Keyword   string    `json:"keyword"`
	Location  string    `json:"location"`
	Platform  string    `json:"platform"`
	Page      int       `json:"page" validate:"gte=1"`
	SortBy    SortField `json:"sort_by" validate:"oneof=date_posted title company location match_score"`
	SortOrder SortOrder `json:"sort_order" validate:"oneof=asc desc"`
}

// Normalize fills the backend defaults for unset fields.
func (q SearchQuery) Normalize() SearchQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.SortBy == "" {
		q.SortBy = SortDatePosted
	}
	if q.SortOrder == "" {
		q.SortOrder = SortDesc
	}
	return q
}

// Validate checks the query against the backend's accepted values.
func (q SearchQuery) Validate() error {
	if err := validatorInstance().Struct(q); err != nil {
		return fmt.Errorf("invalid search query: %w", err)
	}
	return nil
}

// WithPage returns a copy of q targeting page.
func (q SearchQuery) WithPage(page int) SearchQuery {
	q.Page = page
	return q
}

// WithSort returns a copy of q with a new ordering. Changing the ordering
// restarts from the first page.
func (q SearchQuery) WithSort(field SortField, order SortOrder) SearchQuery {
	q.SortBy = field
	q.SortOrder = order
	q.Page = 1
	return q
}

// SearchResult is one committed page of results with its pagination metadata.
type SearchResult struct {
	Jobs        []JobSummary `json:"jobs"`
	Total       int          `json:"total"`
	Pages       int          `json:"pages"`
	CurrentPage int          `json:"current_page"`
	Locations   []string     `json:"locations,omitempty"`
	Platforms   []string     `json:"platforms,omitempty"`
}

// EmptyResult is the neutral page used when nothing could be fetched.
func EmptyResult() SearchResult {
	return SearchResult{
		Jobs:        []JobSummary{},
		Total:       0,
		Pages:       1,
		CurrentPage: 1,
	}
}

// PageSize is the largest per-page count consistent with Total and Pages,
// i.e. the largest n for which ceil(Total/n) == Pages.
func (r SearchResult) PageSize() int {
	switch {
	case r.Pages < 1 || r.Total <= 0:
		return 0
	case r.Pages == 1:
		return r.Total
	}
	return (r.Total+r.Pages-2)/(r.Pages-1) - 1
}

// Valid reports whether the pagination metadata is self-consistent.
func (r SearchResult) Valid() error {
	if r.Total < 0 {
		return fmt.Errorf("total must not be negative, got %d", r.Total)
	}
	if r.Pages < 1 {
		return fmt.Errorf("pages must be at least 1, got %d", r.Pages)
	}
	if r.CurrentPage < 1 || r.CurrentPage > r.Pages {
		return fmt.Errorf("current page %d outside 1..%d", r.CurrentPage, r.Pages)
	}
	if len(r.Jobs) > r.PageSize() {
		return fmt.Errorf("page holds %d jobs, more than page size %d", len(r.Jobs), r.PageSize())
	}
	return nil
}

// Clone returns a deep copy.
func (r SearchResult) Clone() SearchResult {
	out := r
	out.Jobs = append([]JobSummary(nil), r.Jobs...)
	if out.Jobs == nil {
		out.Jobs = []JobSummary{}
	}
	out.Locations = append([]string(nil), r.Locations...)
	out.Platforms = append([]string(nil), r.Platforms...)
	return out
}
