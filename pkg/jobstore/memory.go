package jobstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/geoplex/procjobs/pkg/job"
)

// Memory is a mutex-guarded in-memory Store. It backs embedded deployments
// and handler tests; semantics mirror the SQLite implementation.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]job.Job
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]job.Job)}
}

func (m *Memory) Insert(_ context.Context, j *job.Job) error {
	if j == nil {
		return fmt.Errorf("job is nil")
	}
	if strings.TrimSpace(j.ID) == "" {
		return fmt.Errorf("job_id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists", j.ID)
	}
	m.jobs[j.ID] = cloneJob(j)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneJob(&j)
	return &out, nil
}

func (m *Memory) Update(_ context.Context, j *job.Job) error {
	if j == nil {
		return fmt.Errorf("job is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	m.jobs[j.ID] = cloneJob(j)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) Query(_ context.Context, f Filter) ([]job.Job, int, error) {
	matched := m.match(f)
	sortJobs(matched, f)
	total := len(matched)
	return pageWindow(matched, f.Page, f.Limit), total, nil
}

func (m *Memory) GroupBy(_ context.Context, f Filter, fields []string) ([]Group, int, error) {
	matched := m.match(f)
	sortJobs(matched, f)
	return partition(matched, fields), len(matched), nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) match(f Filter) []job.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []job.Job
	for _, j := range m.jobs {
		if !matchesFilter(&j, f) {
			continue
		}
		out = append(out, cloneJob(&j))
	}
	return out
}

func matchesFilter(j *job.Job, f Filter) bool {
	if f.ProcessID != "" && j.ProcessID != f.ProcessID {
		return false
	}
	if f.ServiceID != "" && j.ServiceID != f.ServiceID {
		return false
	}
	if f.HasService != nil && (j.ServiceID != "") != *f.HasService {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if j.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Access != "" && j.Access != f.Access {
		return false
	}
	if f.UserID != "" && j.UserID != f.UserID {
		return false
	}
	if f.NotificationContact != "" && j.NotificationContact != f.NotificationContact {
		return false
	}
	// Match compares at second precision, same as the stored representation.
	if f.CreatedMatch != nil && !j.Created.Truncate(time.Second).Equal(f.CreatedMatch.Truncate(time.Second)) {
		return false
	}
	if f.CreatedAfter != nil && j.Created.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && j.Created.After(*f.CreatedBefore) {
		return false
	}
	return matchesResidual(j, f)
}

func sortJobs(jobs []job.Job, f Filter) {
	cmpKey := func(a, b *job.Job) int {
		switch f.Sort {
		case SortFinished:
			at, bt := timeOrZero(a.Finished), timeOrZero(b.Finished)
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			}
		case SortID:
			return strings.Compare(a.ID, b.ID)
		case SortUser:
			return strings.Compare(a.UserID, b.UserID)
		default:
			switch {
			case a.Created.Before(b.Created):
				return -1
			case a.Created.After(b.Created):
				return 1
			}
		}
		return 0
	}
	sort.SliceStable(jobs, func(i, k int) bool {
		c := cmpKey(&jobs[i], &jobs[k])
		if c == 0 {
			// Ties break ascending by id regardless of direction, matching
			// the SQL secondary order key.
			return jobs[i].ID < jobs[k].ID
		}
		if f.SortAsc {
			return c < 0
		}
		return c > 0
	})
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func cloneJob(j *job.Job) job.Job {
	out := *j
	if j.Started != nil {
		t := *j.Started
		out.Started = &t
	}
	if j.Finished != nil {
		t := *j.Finished
		out.Finished = &t
	}
	out.Logs = append([]string(nil), j.Logs...)
	out.Exceptions = append([]job.ExceptionInfo(nil), j.Exceptions...)
	out.Results = append([]job.ResultRef(nil), j.Results...)
	out.Tags = append([]string(nil), j.Tags...)
	return out
}
