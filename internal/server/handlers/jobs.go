package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/geoplex/procjobs/internal/errors"
	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/jobstore"
	"github.com/geoplex/procjobs/pkg/links"
	"github.com/geoplex/procjobs/pkg/query"
)

// ListJobs serves the global job collection.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	spec, detail, err := h.parseListSpec(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	lctx := links.ListContext{Base: h.cfg.BaseURL, Query: linkQuery(r, false)}
	h.serveListing(w, r, spec, detail, lctx)
}

// ListProcessJobs serves one process's job sub-collection.
func (h *Handlers) ListProcessJobs(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processID")
	if _, err := h.directory.LookupProcess(r.Context(), processID); err != nil {
		respondError(w, r, err)
		return
	}

	spec, detail, err := h.parseListSpec(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	// The path identifies the context; query-level aliases are superseded.
	spec.ProcessID = processID
	spec.ServiceID = ""

	lctx := links.ListContext{Base: h.cfg.BaseURL, ProcessID: processID, Query: linkQuery(r, true)}
	h.serveListing(w, r, spec, detail, lctx)
}

// ListProviderJobs serves one provider's job sub-collection.
func (h *Handlers) ListProviderJobs(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "providerID")
	known, err := h.directory.HasProvider(r.Context(), providerID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if !known {
		respondError(w, r, jobstore.ErrNotFound)
		return
	}

	spec, detail, err := h.parseListSpec(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	spec.ServiceID = providerID
	spec.ProcessID = r.URL.Query().Get("process")

	lctx := links.ListContext{Base: h.cfg.BaseURL, ProviderID: providerID, Query: linkQuery(r, true)}
	h.serveListing(w, r, spec, detail, lctx)
}

func (h *Handlers) serveListing(w http.ResponseWriter, r *http.Request, spec query.Spec, detail bool, lctx links.ListContext) {
	result, err := h.engine.Run(r.Context(), spec, identity(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	if result.Grouped {
		out := GroupedJobList{Total: result.Total, Groups: make([]GroupEntry, 0, len(result.Groups))}
		for _, g := range result.Groups {
			out.Groups = append(out.Groups, GroupEntry{
				Category: g.Category,
				Jobs:     h.jobEntries(g.Jobs, detail),
				Count:    g.Count,
			})
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	writeJSON(w, http.StatusOK, JobList{
		Jobs:  h.jobEntries(result.Jobs, detail),
		Page:  result.Page,
		Limit: result.Limit,
		Total: result.Total,
		Links: links.BuildListLinks(lctx, result.Page, result.Limit, result.Total),
	})
}

// loadVisible fetches a job and applies the single-job visibility rule.
func (h *Handlers) loadVisible(r *http.Request) (*job.Job, error) {
	j, err := h.store.Get(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		return nil, err
	}
	if !visibleTo(j, identity(r)) {
		return nil, jobstore.ErrNotFound
	}
	return j, nil
}

// GetJob serves the job status document.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.loadVisible(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.jobStatus(j))
}

// GetJobLogs serves the formatted log lines.
func (h *Handlers) GetJobLogs(w http.ResponseWriter, r *http.Request) {
	j, err := h.loadVisible(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	logs := j.Logs
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobID": j.ID,
		"logs":  logs,
	})
}

// GetJobResults serves output descriptors for a succeeded job.
func (h *Handlers) GetJobResults(w http.ResponseWriter, r *http.Request) {
	j, err := h.loadVisible(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if j.Status != job.StatusSucceeded {
		apperrors.Respond(w, http.StatusNotFound, apperrors.ErrorDetail{
			Code:    apperrors.CodeNotFound,
			Message: "job results are not available before successful completion",
		})
		return
	}
	results := j.Results
	if results == nil {
		results = []job.ResultRef{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobID":   j.ID,
		"results": results,
	})
}

// GetJobExceptions serves error records for a failed job.
func (h *Handlers) GetJobExceptions(w http.ResponseWriter, r *http.Request) {
	j, err := h.loadVisible(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if j.Status.Category() != job.CategoryFailure {
		apperrors.Respond(w, http.StatusNotFound, apperrors.ErrorDetail{
			Code:    apperrors.CodeNotFound,
			Message: "job exceptions are only available for failed jobs",
		})
		return
	}
	exceptions := j.Exceptions
	if exceptions == nil {
		exceptions = []job.ExceptionInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobID":      j.ID,
		"exceptions": exceptions,
	})
}

// DismissJob forces a terminal dismissed status and clears eligible result
// artifacts. Already-terminal jobs dismiss as a no-op success.
func (h *Handlers) DismissJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.loadVisible(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ident := identity(r)
	if !canModify(j, ident) {
		if ident.Anonymous() {
			respondError(w, r, apperrors.ErrUnauthorized)
		} else {
			respondError(w, r, apperrors.ErrForbidden)
		}
		return
	}

	dismissed, err := h.controller.Dismiss(r.Context(), j.ID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	h.log.Info("job dismissed via api", zap.String("job_id", j.ID), zap.String("user", ident.Sub))
	writeJSON(w, http.StatusOK, h.jobStatus(dismissed))
}
