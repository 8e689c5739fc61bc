package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	errs "job-tracker-go/internal/errors"
	"job-tracker-go/internal/models"
)

// MaxResumeBytes is the largest resume the backend accepts.
const MaxResumeBytes = 5 << 20

var (
	resumeExtensions       = map[string]bool{"pdf": true, "doc": true, "docx": true, "txt": true}
	applicationsExtensions = map[string]bool{"xlsx": true, "xls": true, "csv": true}
)

// Search runs a job search. The returned Result is the backend's page on
// success and the empty default page otherwise.
func (c *Client) Search(ctx context.Context, q models.SearchQuery) SearchEnvelope {
	q = q.Normalize()
	env := SearchEnvelope{Result: models.EmptyResult(), SortBy: q.SortBy, SortOrder: q.SortOrder}

	if err := q.Validate(); err != nil {
		env.Envelope = failed(err.Error(), errs.InvalidInput("invalid search query", err))
		return env
	}

	params := url.Values{}
	params.Set("keyword", q.Keyword)
	params.Set("location", q.Location)
	params.Set("platform", q.Platform)
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("sort_by", string(q.SortBy))
	params.Set("sort_order", string(q.SortOrder))

	body, failure := c.execute(ctx, request{
		endpoint: "search",
		method:   http.MethodGet,
		path:     "/api/search",
		query:    params,
	})
	if failure != nil {
		env.Envelope = failed(messageFor(failure), failure)
		return env
	}

	var w wireSearch
	if err := json.Unmarshal(body, &w); err != nil {
		env.Envelope = failed(ErrMalformedMessage, c.malformed("search", err))
		return env
	}
	if w.Error != "" {
		env.Envelope = failed(w.Error, errs.Application(w.Error))
		return env
	}
	res, err := w.result()
	if err != nil {
		env.Envelope = failed(ErrMalformedMessage, c.malformed("search", err))
		return env
	}

	env.Result = res
	if w.SortBy != "" {
		env.SortBy = models.SortField(w.SortBy)
	}
	if w.SortOrder != "" {
		env.SortOrder = models.SortOrder(w.SortOrder)
	}
	return env
}

// JobDetails fetches the full view of a job. A body carrying an error field
// or lacking an id counts as malformed.
func (c *Client) JobDetails(ctx context.Context, jobID int) DetailEnvelope {
	var env DetailEnvelope

	body, failure := c.execute(ctx, request{
		endpoint: "job_details",
		method:   http.MethodGet,
		path:     fmt.Sprintf("/api/job_details/%d", jobID),
	})
	if failure != nil {
		env.Envelope = failed(messageFor(failure), failure)
		return env
	}

	var w wireDetail
	if err := json.Unmarshal(body, &w); err != nil {
		env.Envelope = failed(ErrMalformedMessage, c.malformed("job_details", err))
		return env
	}
	detail, err := w.detail()
	if err != nil {
		env.Envelope = failed(ErrMalformedMessage, c.malformed("job_details", err))
		return env
	}
	env.Detail = detail
	return env
}

// SaveJob bookmarks a job. already_saved is informational.
func (c *Client) SaveJob(ctx context.Context, jobID int) ActionEnvelope {
	return c.action(ctx, request{
		endpoint: "save_job",
		method:   http.MethodPost,
		path:     fmt.Sprintf("/api/save_job/%d", jobID),
	})
}

// UnsaveJob removes a bookmark. not_saved is informational.
func (c *Client) UnsaveJob(ctx context.Context, jobID int) ActionEnvelope {
	return c.action(ctx, request{
		endpoint: "unsave_job",
		method:   http.MethodDelete,
		path:     fmt.Sprintf("/api/save_job/%d", jobID),
	})
}

// ApplyJob creates or updates the application record for a job.
func (c *Client) ApplyJob(ctx context.Context, jobID int, status models.ApplicationStatus) ActionEnvelope {
	if status == "" {
		status = models.StatusApplied
	}
	if _, err := models.ParseApplicationStatus(string(status)); err != nil {
		return ActionEnvelope{Status: ActionError, Envelope: failed(err.Error(), errs.InvalidInput("invalid status", err))}
	}
	return c.action(ctx, request{
		endpoint: "apply_job",
		method:   http.MethodPost,
		path:     fmt.Sprintf("/api/apply_job/%d", jobID),
		body:     jsonBody(map[string]string{"status": string(status)}),
	})
}

// UpdateApplicationStatus changes an application record. Setting the status to
// Open removes the record on the backend.
func (c *Client) UpdateApplicationStatus(ctx context.Context, applicationID int, update StatusUpdate) ActionEnvelope {
	if update.Status == "" {
		return ActionEnvelope{Status: ActionError, Envelope: failed("Status is required", errs.InvalidInput("Status is required", nil))}
	}
	if _, err := models.ParseApplicationStatus(string(update.Status)); err != nil {
		return ActionEnvelope{Status: ActionError, Envelope: failed(err.Error(), errs.InvalidInput("invalid status", err))}
	}
	return c.action(ctx, request{
		endpoint: "update_application_status",
		method:   http.MethodPost,
		path:     fmt.Sprintf("/api/update_application_status/%d", applicationID),
		body:     jsonBody(update),
	})
}

// Tracker returns the authoritative application records.
func (c *Client) Tracker(ctx context.Context) TrackerEnvelope {
	env := TrackerEnvelope{Applications: []models.ApplicationRecord{}}

	body, failure := c.execute(ctx, request{
		endpoint: "tracker",
		method:   http.MethodGet,
		path:     "/api/tracker",
	})
	if failure != nil {
		env.Envelope = failed(messageFor(failure), failure)
		return env
	}

	var w wireTracker
	if err := json.Unmarshal(body, &w); err != nil {
		env.Envelope = failed(ErrMalformedMessage, c.malformed("tracker", err))
		return env
	}
	if w.Error != "" {
		env.Envelope = failed(w.Error, errs.Application(w.Error))
		return env
	}

	seen := make(map[int]bool, len(w.Applications))
	for _, wa := range w.Applications {
		rec, err := wa.record()
		if err != nil {
			c.logger.Warn("Skipping application record",
				zap.Int("application_id", int(wa.ID)), zap.Error(err))
			continue
		}
		if rec.JobID != 0 {
			if seen[rec.JobID] {
				continue
			}
			seen[rec.JobID] = true
		}
		env.Applications = append(env.Applications, rec)
	}
	return env
}

// SavedJobs returns one page of bookmarked jobs.
func (c *Client) SavedJobs(ctx context.Context, page int) SavedJobsEnvelope {
	if page < 1 {
		page = 1
	}
	env := SavedJobsEnvelope{Page: models.SavedJobsPage{Jobs: []models.SavedJob{}, Pages: 1, CurrentPage: 1}}

	body, failure := c.execute(ctx, request{
		endpoint: "saved_jobs",
		method:   http.MethodGet,
		path:     "/api/saved_jobs",
		query:    url.Values{"page": {strconv.Itoa(page)}},
	})
	if failure != nil {
		env.Envelope = failed(messageFor(failure), failure)
		return env
	}

	var w wireSavedJobs
	if err := json.Unmarshal(body, &w); err != nil {
		env.Envelope = failed(ErrMalformedMessage, c.malformed("saved_jobs", err))
		return env
	}
	if w.Error != "" {
		env.Envelope = failed(w.Error, errs.Application(w.Error))
		return env
	}

	env.Page.Total = w.Total
	env.Page.Pages = max(w.Pages, 1)
	env.Page.CurrentPage = max(w.CurrentPage, 1)
	for _, sj := range w.SavedJobs {
		s, err := sj.summary()
		if err != nil {
			env.Envelope = failed(ErrMalformedMessage, c.malformed("saved_jobs", err))
			env.Page.Jobs = []models.SavedJob{}
			return env
		}
		env.Page.Jobs = append(env.Page.Jobs, models.SavedJob{JobSummary: s, SavedAt: sj.SavedAt})
	}
	return env
}

// Resume returns the most recent resume, or a nil Resume if none was uploaded.
func (c *Client) Resume(ctx context.Context) ResumeEnvelope {
	return c.resume(ctx, request{
		endpoint: "resume",
		method:   http.MethodGet,
		path:     "/api/details",
	})
}

// UploadResume sends a resume file. The extension and size are checked locally
// before any request is made.
func (c *Client) UploadResume(ctx context.Context, filename string, r io.Reader) ResumeEnvelope {
	data, derr := readUpload(filename, r, resumeExtensions, MaxResumeBytes)
	if derr != nil {
		return ResumeEnvelope{Envelope: failed(derr.Message, derr)}
	}
	return c.resume(ctx, request{
		endpoint: "upload_resume",
		method:   http.MethodPost,
		path:     "/api/details",
		body:     multipartBody(filename, data),
	})
}

// DeleteResume removes the current resume.
func (c *Client) DeleteResume(ctx context.Context) ActionEnvelope {
	return c.action(ctx, request{
		endpoint: "delete_resume",
		method:   http.MethodPost,
		path:     "/api/delete_resume",
	})
}

// UploadApplications imports application records from a spreadsheet.
func (c *Client) UploadApplications(ctx context.Context, filename string, r io.Reader) ActionEnvelope {
	data, derr := readUpload(filename, r, applicationsExtensions, maxBodyBytes)
	if derr != nil {
		return ActionEnvelope{Status: ActionError, Envelope: failed(derr.Message, derr)}
	}
	return c.action(ctx, request{
		endpoint: "upload_applications",
		method:   http.MethodPost,
		path:     "/api/upload_applications_excel",
		body:     multipartBody(filename, data),
	})
}

// Ping checks that the backend is reachable.
func (c *Client) Ping(ctx context.Context) ActionEnvelope {
	return c.action(ctx, request{
		endpoint: "ping",
		method:   http.MethodGet,
		path:     "/api/_ping",
	})
}

func (c *Client) action(ctx context.Context, r request) ActionEnvelope {
	env := ActionEnvelope{Status: ActionError}

	body, failure := c.execute(ctx, r)
	if failure != nil {
		env.Envelope = failed(messageFor(failure), failure)
		return env
	}

	var w wireAction
	if err := json.Unmarshal(body, &w); err != nil {
		env.Envelope = failed(ErrMalformedMessage, c.malformed(r.endpoint, err))
		return env
	}
	if w.Status == "" {
		if w.Error != "" {
			env.Envelope = failed(w.Error, errs.Application(w.Error))
			return env
		}
		env.Envelope = failed(ErrMalformedMessage, c.malformed(r.endpoint, fmt.Errorf("response without status")))
		return env
	}

	env.Status = ActionStatus(w.Status)
	env.Message = w.Message
	if env.Status == ActionError {
		msg := w.Message
		if msg == "" {
			msg = w.Error
		}
		env.Envelope = failed(msg, errs.Application(msg))
	}
	return env
}

func (c *Client) resume(ctx context.Context, r request) ResumeEnvelope {
	var env ResumeEnvelope

	body, failure := c.execute(ctx, r)
	if failure != nil {
		env.Envelope = failed(messageFor(failure), failure)
		return env
	}

	var w wireResume
	if err := json.Unmarshal(body, &w); err != nil {
		env.Envelope = failed(ErrMalformedMessage, c.malformed(r.endpoint, err))
		return env
	}
	if w.Error != "" {
		env.Envelope = failed(w.Error, errs.Application(w.Error))
		return env
	}
	env.Resume = w.Resume
	return env
}

func jsonBody(v any) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

func multipartBody(filename string, data []byte) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, err := mw.CreateFormFile("file", filepath.Base(filename))
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(data); err != nil {
			return nil, "", err
		}
		if err := mw.Close(); err != nil {
			return nil, "", err
		}
		return &buf, mw.FormDataContentType(), nil
	}
}

func readUpload(filename string, r io.Reader, allowed map[string]bool, limit int64) ([]byte, *errs.DomainError) {
	if strings.TrimSpace(filename) == "" {
		return nil, errs.InvalidInput("No file selected", nil)
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if !allowed[ext] {
		return nil, errs.InvalidInput(fmt.Sprintf("Invalid file type %q", ext), nil)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errs.InvalidInput("Failed to read file", err)
	}
	if int64(len(data)) > limit {
		return nil, errs.InvalidInput(fmt.Sprintf("File size exceeds %dMB limit", limit>>20), nil)
	}
	return data, nil
}
