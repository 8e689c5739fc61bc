package session

import (
	"sync"

	"job-tracker-go/internal/models"
)

// Deduplicator drops repeated job ids from a result page. The backend dedupes
// by title/company/location, which still lets the same id through twice when
// its listing is re-scraped mid-pagination.
type Deduplicator struct {
	dropped int64
	mu      sync.RWMutex
}

// NewDeduplicator creates a new deduplicator
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{}
}

// RemoveDuplicates returns jobs with repeated ids removed, keeping the first
// occurrence. Each call starts from an empty set.
func (d *Deduplicator) RemoveDuplicates(jobs []models.JobSummary) []models.JobSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[int]bool, len(jobs))
	uniqueJobs := make([]models.JobSummary, 0, len(jobs))

	for _, job := range jobs {
		if seen[job.ID] {
			d.dropped++
			continue
		}
		seen[job.ID] = true
		uniqueJobs = append(uniqueJobs, job)
	}

	return uniqueJobs
}

// Dropped returns the total number of duplicates removed so far.
func (d *Deduplicator) Dropped() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.dropped
}
