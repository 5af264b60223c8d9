// Package query compiles job listing specifications into store queries,
// enforcing visibility rules and filter validation.
package query

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/jobstore"
)

// Identity is the resolved requesting identity and permission level. The
// engine consumes it; computing it belongs to the surrounding layer.
type Identity struct {
	// Sub is the subject identifier; empty means anonymous.
	Sub string

	// Admin grants elevated permission: access filters are honored
	// literally across all owners.
	Admin bool
}

// Anonymous reports whether the identity is unauthenticated.
func (i Identity) Anonymous() bool {
	return strings.TrimSpace(i.Sub) == ""
}

// Spec is the raw, client-shaped listing specification. String fields carry
// unvalidated request input; the engine validates and normalizes everything
// before it reaches a store.
type Spec struct {
	ProcessID string
	ServiceID string

	// JobType is "process" or "provider" (process-only jobs carry no
	// service; provider jobs carry one).
	JobType string

	// Status is a comma-separated list of literal status values, or one
	// named category.
	Status string

	Tags []string

	Access string

	// Notification is the raw contact literal; it is matched against the
	// stored value through the same opaque write-time transform.
	Notification string

	// Datetime is an ISO-8601 instant, a "start/end" range, or an
	// open-ended range using a leading or trailing "..".
	Datetime string

	// MinDuration/MaxDuration are inclusive bounds in seconds.
	MinDuration *int64
	MaxDuration *int64

	// Groups are the requested group-by field names; "service" and
	// "provider" are aliases for the same underlying field and are
	// reported back under the originally requested name.
	Groups []string

	Sort  string
	Page  int
	Limit int
}

// GroupResult is one partition of a grouped listing.
type GroupResult struct {
	Category map[string]string `json:"category"`
	Jobs     []job.Job         `json:"jobs"`
	Count    int               `json:"count"`
}

// Result is the outcome of a listing query. Either Jobs (with paging) or
// Groups is populated, per Grouped.
type Result struct {
	Jobs    []job.Job
	Groups  []GroupResult
	Grouped bool
	Total   int
	Page    int
	Limit   int
}

// Engine translates specs into store queries.
type Engine struct {
	store jobstore.Store
	now   func() time.Time
}

// New returns an Engine reading from store.
func New(store jobstore.Store) *Engine {
	return &Engine{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Run validates the spec, applies visibility for the identity and executes
// the query. Validation failures surface synchronously as
// *job.ValidationError naming the offending field and raw value.
func (e *Engine) Run(ctx context.Context, s Spec, ident Identity) (*Result, error) {
	f, err := e.compile(s, ident)
	if err != nil {
		return nil, err
	}

	if len(s.Groups) > 0 {
		fields, names, err := normalizeGroupFields(s.Groups)
		if err != nil {
			return nil, err
		}
		// Paging parameters are not applicable to grouped results.
		f.Page, f.Limit = 0, 0
		groups, total, err := e.store.GroupBy(ctx, f, fields)
		if err != nil {
			return nil, fmt.Errorf("group jobs: %w", err)
		}
		out := make([]GroupResult, 0, len(groups))
		for _, g := range groups {
			category := make(map[string]string, len(g.Values))
			for canonical, v := range g.Values {
				category[names[canonical]] = v
			}
			out = append(out, GroupResult{Category: category, Jobs: g.Jobs, Count: g.Count})
		}
		return &Result{Groups: out, Grouped: true, Total: total}, nil
	}

	jobs, total, err := e.store.Query(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	return &Result{Jobs: jobs, Total: total, Page: f.Page, Limit: f.Limit}, nil
}

func (e *Engine) compile(s Spec, ident Identity) (jobstore.Filter, error) {
	f := jobstore.Filter{
		ProcessID: strings.TrimSpace(s.ProcessID),
		ServiceID: strings.TrimSpace(s.ServiceID),
		Tags:      s.Tags,
		Page:      s.Page,
		Limit:     s.Limit,
		Now:       e.now(),
	}

	switch strings.ToLower(strings.TrimSpace(s.JobType)) {
	case "":
	case "process":
		if f.ServiceID != "" {
			return f, &job.ValidationError{Field: "type", Value: s.JobType, Reason: "contradicts explicit provider filter"}
		}
		v := false
		f.HasService = &v
	case "provider":
		v := true
		f.HasService = &v
	default:
		return f, &job.ValidationError{Field: "type", Value: s.JobType, Reason: "must be process or provider"}
	}

	statuses, err := parseStatusFilter(s.Status)
	if err != nil {
		return f, err
	}
	f.Statuses = statuses

	var access job.Access
	if strings.TrimSpace(s.Access) != "" {
		access, err = job.ParseAccess(s.Access)
		if err != nil {
			return f, err
		}
	}

	// Visibility: elevated permission honors the explicit access filter
	// literally; a known identity is restricted to its own jobs, further
	// narrowed by an explicit access filter; anonymous callers only ever
	// see public jobs.
	switch {
	case ident.Admin:
		f.Access = access
	case !ident.Anonymous():
		f.UserID = ident.Sub
		f.Access = access
	default:
		f.Access = job.AccessPublic
	}

	if strings.TrimSpace(s.Notification) != "" {
		f.NotificationContact = job.TransformContact(s.Notification)
	}

	f.MinDuration = s.MinDuration
	f.MaxDuration = s.MaxDuration
	if f.MinDuration != nil && *f.MinDuration < 0 {
		return f, &job.ValidationError{Field: "minDuration", Value: fmt.Sprint(*f.MinDuration), Reason: "must be non-negative"}
	}
	if f.MaxDuration != nil && *f.MaxDuration < 0 {
		return f, &job.ValidationError{Field: "maxDuration", Value: fmt.Sprint(*f.MaxDuration), Reason: "must be non-negative"}
	}

	if err := parseDatetime(s.Datetime, &f); err != nil {
		return f, err
	}

	sortKey, asc, err := parseSort(s.Sort)
	if err != nil {
		return f, err
	}
	f.Sort, f.SortAsc = sortKey, asc

	return f, nil
}

// parseStatusFilter accepts comma-separated literal values or a single named
// category expanding to its member statuses.
func parseStatusFilter(raw string) ([]job.Status, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if !strings.Contains(raw, ",") {
		if expanded, ok := job.ExpandCategory(raw); ok {
			return expanded, nil
		}
	}
	var out []job.Status
	for _, tok := range strings.Split(raw, ",") {
		st, err := job.ParseStatus(tok)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// parseDatetime handles the four interval shapes: exact match, before-only,
// after-only and a closed range. The separator is "/" and ".." marks an open
// end.
func parseDatetime(raw string, f *jobstore.Filter) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if !strings.Contains(raw, "/") {
		t, err := parseInstant(raw)
		if err != nil {
			return &job.ValidationError{Field: "datetime", Value: raw, Reason: "invalid instant"}
		}
		f.CreatedMatch = &t
		return nil
	}

	parts := strings.SplitN(raw, "/", 2)
	start, end := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if (start == ".." || start == "") && (end == ".." || end == "") {
		return &job.ValidationError{Field: "datetime", Value: raw, Reason: "interval must bound at least one end"}
	}

	if start != ".." && start != "" {
		t, err := parseInstant(start)
		if err != nil {
			return &job.ValidationError{Field: "datetime", Value: raw, Reason: "invalid interval start"}
		}
		f.CreatedAfter = &t
	}
	if end != ".." && end != "" {
		t, err := parseInstant(end)
		if err != nil {
			return &job.ValidationError{Field: "datetime", Value: raw, Reason: "invalid interval end"}
		}
		f.CreatedBefore = &t
	}
	if f.CreatedAfter != nil && f.CreatedBefore != nil && f.CreatedAfter.After(*f.CreatedBefore) {
		return &job.ValidationError{Field: "datetime", Value: raw, Reason: "interval start is after its end"}
	}
	return nil
}

func parseInstant(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	// Date-only form bounds at midnight UTC.
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parseSort validates the sort key against the closed allow-list. Time-based
// keys default to descending, the rest to ascending.
func parseSort(raw string) (jobstore.SortKey, bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "created":
		return jobstore.SortCreated, false, nil
	case "finished":
		return jobstore.SortFinished, false, nil
	case "id":
		return jobstore.SortID, true, nil
	case "user":
		return jobstore.SortUser, true, nil
	}
	return "", false, &job.ValidationError{Field: "sort", Value: raw, Reason: "unknown sort key"}
}

// normalizeGroupFields resolves requested group names to canonical store
// fields and remembers the requested spelling so grouped results report it
// back unchanged.
func normalizeGroupFields(requested []string) ([]string, map[string]string, error) {
	var fields []string
	names := make(map[string]string, len(requested))
	seen := make(map[string]bool, len(requested))
	for _, r := range requested {
		name := strings.TrimSpace(r)
		var canonical string
		switch strings.ToLower(name) {
		case "process":
			canonical = jobstore.FieldProcess
		case "provider", "service":
			canonical = jobstore.FieldProvider
		case "status":
			canonical = jobstore.FieldStatus
		default:
			return nil, nil, &job.ValidationError{Field: "groups", Value: r, Reason: "unknown group field"}
		}
		if seen[canonical] {
			return nil, nil, &job.ValidationError{Field: "groups", Value: r, Reason: "duplicate group field"}
		}
		seen[canonical] = true
		fields = append(fields, canonical)
		names[canonical] = name
	}
	return fields, names, nil
}
