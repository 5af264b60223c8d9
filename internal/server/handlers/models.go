package handlers

import (
	"time"

	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/links"
)

// JobStatus is the single-job response shape.
type JobStatus struct {
	JobID            string       `json:"jobID"`
	ProcessID        string       `json:"processID,omitempty"`
	ProviderID       string       `json:"providerID,omitempty"`
	Status           string       `json:"status"`
	Message          string       `json:"message,omitempty"`
	Created          string       `json:"created"`
	Started          string       `json:"started,omitempty"`
	Finished         string       `json:"finished,omitempty"`
	Duration         string       `json:"duration"`
	PercentCompleted float64      `json:"percentCompleted"`
	Tags             []string     `json:"tags,omitempty"`
	Links            []links.Link `json:"links"`
}

// JobList is the non-grouped listing response.
type JobList struct {
	Jobs  []interface{} `json:"jobs"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int           `json:"total"`
	Links []links.Link  `json:"links"`
}

// GroupEntry is one partition of a grouped listing.
type GroupEntry struct {
	Category map[string]string `json:"category"`
	Jobs     []interface{}     `json:"jobs"`
	Count    int               `json:"count"`
}

// GroupedJobList is the grouped listing response; paging does not apply.
type GroupedJobList struct {
	Groups []GroupEntry `json:"groups"`
	Total  int          `json:"total"`
}

func (h *Handlers) jobStatus(j *job.Job) JobStatus {
	now := h.now()
	out := JobStatus{
		JobID:            j.ID,
		ProcessID:        j.ProcessID,
		ProviderID:       j.ServiceID,
		Status:           string(j.Status),
		Message:          j.Message,
		Created:          j.Created.UTC().Format(time.RFC3339),
		Duration:         j.DurationString(now),
		PercentCompleted: j.Progress,
		Tags:             j.Tags,
		Links:            links.JobLinks(h.cfg.BaseURL, j),
	}
	if j.Started != nil {
		out.Started = j.Started.UTC().Format(time.RFC3339)
	}
	if j.Finished != nil {
		out.Finished = j.Finished.UTC().Format(time.RFC3339)
	}
	return out
}

// jobEntries renders listing members as bare ids or full detail objects.
func (h *Handlers) jobEntries(jobs []job.Job, detail bool) []interface{} {
	out := make([]interface{}, 0, len(jobs))
	for i := range jobs {
		if detail {
			out = append(out, h.jobStatus(&jobs[i]))
		} else {
			out = append(out, jobs[i].ID)
		}
	}
	return out
}
