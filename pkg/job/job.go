package job

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ExceptionInfo is a structured error record reported by the runner.
type ExceptionInfo struct {
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
	Locator    string `json:"locator,omitempty"`
	OccurredAt string `json:"occurred_at,omitempty"`
}

// ResultRef describes one output produced by a finished job.
type ResultRef struct {
	ID       string `json:"id"`
	Href     string `json:"href,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Value    string `json:"value,omitempty"`
}

// Job is the persistent record for one process invocation.
//
// The record is mutated exclusively through its validating methods; every
// invariant in the mutators holds for every stored copy.
type Job struct {
	ID        string `json:"job_id"`
	TaskRef   string `json:"task_ref"`
	ProcessID string `json:"process_id"`
	// ServiceID is set only when the process belongs to a remote provider.
	ServiceID  string `json:"service_id,omitempty"`
	IsWorkflow bool   `json:"is_workflow,omitempty"`

	Status   Status  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message,omitempty"`

	Created  time.Time  `json:"created"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`

	UserID string `json:"user_id,omitempty"`
	Access Access `json:"access"`

	Logs       []string        `json:"logs,omitempty"`
	Exceptions []ExceptionInfo `json:"exceptions,omitempty"`
	Results    []ResultRef     `json:"results,omitempty"`
	Tags       []string        `json:"tags,omitempty"`

	// NotificationContact holds the opaque write-time transform of the
	// contact; the raw value is never stored or recoverable here.
	NotificationContact string `json:"notification_contact,omitempty"`
	AcceptLanguage      string `json:"accept_language,omitempty"`
	ExecuteAsync        bool   `json:"execute_async"`
	// ContextID correlates the job with the underlying execution run.
	ContextID string `json:"context_id,omitempty"`
}

// SetStatus validates the value against the enumeration and the state
// machine. When the new status is terminal and Finished is unset, Finished is
// stamped with at (callers pass a fixed time for deterministic replays).
// Re-applying the current terminal status is a no-op.
func (j *Job) SetStatus(s Status, at time.Time) error {
	if !s.Valid() {
		return &ValidationError{Field: "status", Value: string(s), Reason: "unknown status"}
	}
	if !canTransition(j.Status, s) {
		return &ValidationError{Field: "status", Value: string(s), Reason: fmt.Sprintf("transition from %s not permitted", j.Status)}
	}
	if j.Status == s {
		return nil
	}
	j.Status = s
	if s == StatusRunning && j.Started == nil {
		t := at
		j.Started = &t
	}
	if s.Terminal() && j.Finished == nil {
		t := at
		j.Finished = &t
	}
	return nil
}

// SetProgress validates the [0,100] range. Out-of-range assignment fails and
// leaves the prior value intact.
func (j *Job) SetProgress(v float64) error {
	if v < 0 || v > 100 {
		return &ValidationError{Field: "progress", Value: fmt.Sprintf("%g", v), Reason: "must be within [0,100]"}
	}
	j.Progress = v
	return nil
}

// SetAccess validates membership in {public, private}.
func (j *Job) SetAccess(a Access) error {
	if a != AccessPublic && a != AccessPrivate {
		return &ValidationError{Field: "access", Value: string(a), Reason: "must be public or private"}
	}
	j.Access = a
	return nil
}

// Duration returns finished-started, or now-started while unfinished, or zero
// when the job never started. Never negative.
func (j *Job) Duration(now time.Time) time.Duration {
	if j.Started == nil {
		return 0
	}
	end := now
	if j.Finished != nil {
		end = *j.Finished
	}
	d := end.Sub(*j.Started)
	if d < 0 {
		return 0
	}
	return d
}

// DurationString formats the derived duration as HH:MM:SS.
func (j *Job) DurationString(now time.Time) string {
	return FormatDuration(j.Duration(now))
}

// FormatDuration renders a duration as HH:MM:SS, truncating sub-second parts.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// AppendLog formats one line embedding elapsed duration, progress, status and
// message, and appends it only when distinct from the prior entry.
func (j *Job) AppendLog(level, message string, at time.Time) {
	line := fmt.Sprintf("[%s] %s %3.0f%% %-9s %s %s",
		at.UTC().Format(time.RFC3339), j.DurationString(at), j.Progress, j.Status,
		strings.ToUpper(level), strings.TrimSpace(message))
	if n := len(j.Logs); n > 0 && j.Logs[n-1] == line {
		return
	}
	j.Logs = append(j.Logs, line)
}

// RecordException appends a structured error record. Append-only.
func (j *Job) RecordException(e ExceptionInfo) {
	j.Exceptions = append(j.Exceptions, e)
}

// RecordResult appends an output descriptor. Append-only.
func (j *Job) RecordResult(r ResultRef) {
	j.Results = append(j.Results, r)
}

// AddTags merges tags into the job's tag set, preserving first-seen order.
func (j *Job) AddTags(tags ...string) {
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || j.HasTag(t) {
			continue
		}
		j.Tags = append(j.Tags, t)
	}
}

// HasTag reports whether the tag is present.
func (j *Job) HasTag(tag string) bool {
	for _, t := range j.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// TransformContact applies the opaque write-time transform to a notification
// contact. Filtering compares equality on the transformed representation; the
// core never recovers the raw value.
func TransformContact(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
