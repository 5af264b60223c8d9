// Package jobstore persists job records and exposes the filter, sort, group
// and page primitives the query engine compiles against.
package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/geoplex/procjobs/pkg/job"
)

// ErrNotFound indicates the requested job does not exist.
var ErrNotFound = errors.New("job not found")

// SortKey is a sortable job field. The allow-list is closed; the query engine
// rejects anything else before it reaches a store.
type SortKey string

const (
	SortCreated  SortKey = "created"
	SortFinished SortKey = "finished"
	SortID       SortKey = "id"
	SortUser     SortKey = "user"
)

// Canonical group-by field names. Aliases are resolved by the query engine
// before a filter reaches the store.
const (
	FieldProcess  = "process"
	FieldProvider = "provider"
	FieldStatus   = "status"
)

// Filter is a fully validated, conjunctive job filter. Zero values mean
// "no constraint".
type Filter struct {
	ProcessID string
	ServiceID string

	// HasService distinguishes process-only jobs (no service) from provider
	// jobs (service set) when a jobType filter is active.
	HasService *bool

	// Statuses is the expanded literal status set (categories are expanded
	// by the query engine).
	Statuses []job.Status

	// Tags must all be present on a matching job.
	Tags []string

	Access job.Access

	// UserID restricts results to jobs owned by this identity.
	UserID string

	// NotificationContact is compared against the stored opaque transform.
	NotificationContact string

	// MinDuration/MaxDuration are inclusive bounds, in seconds, on the
	// derived duration.
	MinDuration *int64
	MaxDuration *int64

	// Created bounds. Match is mutually exclusive with After/Before.
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	CreatedMatch  *time.Time

	Sort    SortKey
	SortAsc bool

	// Page is zero-based; Limit <= 0 disables paging (the full filtered set
	// is returned). Total always reflects the full filtered count.
	Page  int
	Limit int

	// Now is the reference instant for derived-duration filtering. Zero
	// means time.Now at evaluation.
	Now time.Time
}

func (f Filter) now() time.Time {
	if f.Now.IsZero() {
		return time.Now().UTC()
	}
	return f.Now
}

// Group is one partition of a grouped query: the distinct tuple of requested
// field values, its member jobs, and their count.
type Group struct {
	Values map[string]string
	Jobs   []job.Job
	Count  int
}

// Store is the persistence contract consumed by the lifecycle controller and
// the query engine. Implementations serialize writes per record; whole-record
// updates are atomic.
type Store interface {
	// Insert stores a new job. Fails if the id already exists.
	Insert(ctx context.Context, j *job.Job) error

	// Get returns a copy of the job, or ErrNotFound.
	Get(ctx context.Context, id string) (*job.Job, error)

	// Update replaces the stored record as a single atomic write.
	Update(ctx context.Context, j *job.Job) error

	// Delete removes the record permanently, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Query returns the page of jobs matching the filter plus the full
	// filtered count.
	Query(ctx context.Context, f Filter) ([]job.Job, int, error)

	// GroupBy partitions matching jobs by the distinct tuple of the named
	// canonical fields, returning per-partition members and counts plus the
	// full matched count. Paging does not apply.
	GroupBy(ctx context.Context, f Filter, fields []string) ([]Group, int, error)

	// Close releases underlying resources.
	Close() error
}

// matchesResidual applies the filter terms that are evaluated against loaded
// records (derived duration and tag membership) rather than pushed to the
// backend.
func matchesResidual(j *job.Job, f Filter) bool {
	if f.MinDuration != nil || f.MaxDuration != nil {
		secs := int64(j.Duration(f.now()) / time.Second)
		if f.MinDuration != nil && secs < *f.MinDuration {
			return false
		}
		if f.MaxDuration != nil && secs > *f.MaxDuration {
			return false
		}
	}
	for _, t := range f.Tags {
		if !j.HasTag(t) {
			return false
		}
	}
	return true
}

// pageWindow slices a full result set down to the requested page. Requests
// beyond the last page yield an empty slice.
func pageWindow(jobs []job.Job, page, limit int) []job.Job {
	if limit <= 0 {
		return jobs
	}
	start := page * limit
	if start >= len(jobs) {
		return []job.Job{}
	}
	end := start + limit
	if end > len(jobs) {
		end = len(jobs)
	}
	return jobs[start:end]
}

// groupValues extracts the canonical field tuple for a job.
func groupValues(j *job.Job, fields []string) map[string]string {
	vals := make(map[string]string, len(fields))
	for _, f := range fields {
		switch f {
		case FieldProcess:
			vals[f] = j.ProcessID
		case FieldProvider:
			vals[f] = j.ServiceID
		case FieldStatus:
			vals[f] = string(j.Status)
		}
	}
	return vals
}

// partition reduces an ordered job list into groups keyed by the distinct
// tuple of field values, preserving first-seen order.
func partition(jobs []job.Job, fields []string) []Group {
	index := make(map[string]int)
	var groups []Group
	for _, j := range jobs {
		vals := groupValues(&j, fields)
		key := ""
		for _, f := range fields {
			key += f + "=" + vals[f] + ";"
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Values: vals})
		}
		groups[i].Jobs = append(groups[i].Jobs, j)
		groups[i].Count++
	}
	return groups
}
