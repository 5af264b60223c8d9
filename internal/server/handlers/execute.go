package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/geoplex/procjobs/internal/errors"
	"github.com/geoplex/procjobs/pkg/execmode"
	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/lifecycle"
)

// ExecuteRequest is the submission body.
type ExecuteRequest struct {
	Inputs              map[string]interface{} `json:"inputs"`
	Access              string                 `json:"access,omitempty"`
	NotificationContact string                 `json:"notificationContact,omitempty"`
	Tags                []string               `json:"tags,omitempty"`
}

// ExecuteProcess submits one invocation of a process. The Prefer header
// drives sync/async negotiation; honored preferences are echoed through
// Preference-Applied.
func (h *Handlers) ExecuteProcess(w http.ResponseWriter, r *http.Request) {
	processID := chi.URLParam(r, "processID")
	proc, err := h.directory.LookupProcess(r.Context(), processID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		respondError(w, r, &apperrors.BadRequestError{Field: "body", Value: "", Reason: "invalid JSON"})
		return
	}

	// Repeated Prefer headers fold into the single comma-separated form.
	prefer := execmode.JoinHeaders(r.Header.Values("Prefer"))
	decision, err := execmode.Decide(proc.Capabilities, prefer, h.cfg.MaxSyncWait)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var access job.Access
	if req.Access != "" {
		access, err = job.ParseAccess(req.Access)
		if err != nil {
			respondError(w, r, err)
			return
		}
	}

	ident := identity(r)
	created, err := h.controller.Create(r.Context(), lifecycle.CreateParams{
		TaskRef:             uuid.New().String(),
		ProcessID:           proc.ID,
		ServiceID:           proc.Provider,
		IsWorkflow:          proc.Workflow,
		UserID:              ident.Sub,
		Access:              access,
		ExecuteAsync:        decision.Mode == execmode.ModeAsync,
		NotificationContact: req.NotificationContact,
		AcceptLanguage:      r.Header.Get("Accept-Language"),
		Tags:                req.Tags,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	for k, v := range decision.Applied {
		w.Header().Set(k, v)
	}

	if h.runner != nil {
		if err := h.runner.Launch(r.Context(), created, req.Inputs); err != nil {
			h.log.Error("runner launch failed", zap.String("job_id", created.ID), zap.Error(err))
			if _, ferr := h.controller.FailLaunch(r.Context(), created.ID, job.ExceptionInfo{
				Code:    "LaunchFailed",
				Message: err.Error(),
			}); ferr != nil {
				h.log.Warn("could not mark launch failure", zap.String("job_id", created.ID), zap.Error(ferr))
			}
			respondError(w, r, err)
			return
		}
	}

	if decision.Mode == execmode.ModeSync && decision.WaitSeconds != nil {
		wait := time.Duration(*decision.WaitSeconds) * time.Second
		finished, err := h.controller.WaitForCompletion(r.Context(), created.ID, wait)
		if err != nil {
			respondError(w, r, err)
			return
		}
		if finished.Status.Terminal() {
			writeJSON(w, http.StatusOK, h.jobStatus(finished))
			return
		}
		// Wait elapsed: fall back to asynchronous semantics.
		created = finished
	}

	w.Header().Set("Location", h.cfg.BaseURL+"/jobs/"+created.ID)
	writeJSON(w, http.StatusCreated, h.jobStatus(created))
}
