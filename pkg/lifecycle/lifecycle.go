// Package lifecycle owns job creation, runner-reported mutations and
// dismissal, guaranteeing the record invariants on every write.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/jobstore"
)

// Runner is the external execution collaborator. Implementations live
// outside this core; the controller only signals it.
type Runner interface {
	// Launch starts execution of the job. It must not block on the work
	// itself; progress is reported back through the controller.
	Launch(ctx context.Context, j *job.Job, inputs map[string]interface{}) error

	// Cancel best-effort signals the runner to stop work on the job. The
	// local record is already terminal when this is called.
	Cancel(ctx context.Context, jobID string)
}

// Options configures a Controller.
type Options struct {
	// Runner receives best-effort cancel signals on dismiss. Optional.
	Runner Runner

	// Logger defaults to zap.NewNop().
	Logger *zap.Logger

	// PollInterval is the status poll cadence for synchronous waits.
	// Defaults to one second.
	PollInterval time.Duration

	// Now overrides the clock for deterministic tests.
	Now func() time.Time
}

// Controller applies all job mutations as atomic single-record writes
// against the injected store.
type Controller struct {
	store  jobstore.Store
	runner Runner
	log    *zap.Logger
	poll   time.Duration
	now    func() time.Time
}

// New returns a Controller writing to store.
func New(store jobstore.Store, opts Options) *Controller {
	c := &Controller{
		store:  store,
		runner: opts.Runner,
		log:    opts.Logger,
		poll:   opts.PollInterval,
		now:    opts.Now,
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	if c.poll <= 0 {
		c.poll = time.Second
	}
	if c.now == nil {
		c.now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// CreateParams describes a job submission.
type CreateParams struct {
	TaskRef    string
	ProcessID  string
	ServiceID  string
	IsWorkflow bool
	UserID     string

	// Access defaults to private.
	Access job.Access

	ExecuteAsync bool

	// Created overrides the creation timestamp for deterministic replays.
	Created *time.Time

	// NotificationContact is the raw contact; only its opaque transform is
	// stored.
	NotificationContact string

	AcceptLanguage string
	Tags           []string
	ContextID      string
}

// Create assigns a fresh identity, sets the accepted status and tags the
// record with its classification markers.
func (c *Controller) Create(ctx context.Context, p CreateParams) (*job.Job, error) {
	taskRef := strings.TrimSpace(p.TaskRef)
	if taskRef == "" || strings.ContainsAny(taskRef, " \t\n") {
		return nil, &job.ValidationError{Field: "taskReference", Value: p.TaskRef, Reason: "must be a non-empty token"}
	}

	access := p.Access
	if access == "" {
		access = job.AccessPrivate
	}
	if access != job.AccessPublic && access != job.AccessPrivate {
		return nil, &job.ValidationError{Field: "access", Value: string(access), Reason: "must be public or private"}
	}

	created := c.now()
	if p.Created != nil {
		created = p.Created.UTC()
	}

	j := &job.Job{
		ID:                  uuid.New().String(),
		TaskRef:             taskRef,
		ProcessID:           strings.TrimSpace(p.ProcessID),
		ServiceID:           strings.TrimSpace(p.ServiceID),
		IsWorkflow:          p.IsWorkflow,
		Status:              job.StatusAccepted,
		Created:             created,
		UserID:              strings.TrimSpace(p.UserID),
		Access:              access,
		NotificationContact: job.TransformContact(p.NotificationContact),
		AcceptLanguage:      p.AcceptLanguage,
		ExecuteAsync:        p.ExecuteAsync,
		ContextID:           p.ContextID,
	}

	j.AddTags(p.Tags...)
	if j.ServiceID != "" {
		j.AddTags("provider")
	} else {
		j.AddTags("process")
	}
	if j.IsWorkflow {
		j.AddTags("workflow")
	} else {
		j.AddTags("application")
	}
	if j.ExecuteAsync {
		j.AddTags("async")
	} else {
		j.AddTags("sync")
	}

	if err := c.store.Insert(ctx, j); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	c.log.Info("job created",
		zap.String("job_id", j.ID),
		zap.String("process_id", j.ProcessID),
		zap.String("service_id", j.ServiceID),
		zap.Bool("async", j.ExecuteAsync))
	return j, nil
}

// ApplyStatus validates and applies a status transition, stamping Finished on
// the first terminal transition and logging the change. Re-applying the
// current terminal status is a no-op.
func (c *Controller) ApplyStatus(ctx context.Context, id string, status job.Status, at *time.Time) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status == status {
		return j, nil
	}

	when := c.now()
	if at != nil {
		when = at.UTC()
	}
	prev := j.Status
	if err := j.SetStatus(status, when); err != nil {
		return nil, err
	}
	j.AppendLog("info", fmt.Sprintf("status changed from %s to %s", prev, status), when)

	if err := c.store.Update(ctx, j); err != nil {
		return nil, fmt.Errorf("update job status: %w", err)
	}
	c.log.Debug("job status applied",
		zap.String("job_id", id),
		zap.String("from", string(prev)),
		zap.String("to", string(status)))
	return j, nil
}

// ApplyProgress validates the range and writes the value; unchanged values
// are a no-op.
func (c *Controller) ApplyProgress(ctx context.Context, id string, value float64) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Progress == value {
		return j, nil
	}
	if err := j.SetProgress(value); err != nil {
		return nil, err
	}
	if err := c.store.Update(ctx, j); err != nil {
		return nil, fmt.Errorf("update job progress: %w", err)
	}
	return j, nil
}

// AppendLog formats and appends one log line; consecutive duplicates are
// suppressed by the record itself.
func (c *Controller) AppendLog(ctx context.Context, id, level, message string, at *time.Time) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	when := c.now()
	if at != nil {
		when = at.UTC()
	}
	before := len(j.Logs)
	j.AppendLog(level, message, when)
	if len(j.Logs) == before {
		return j, nil
	}
	if err := c.store.Update(ctx, j); err != nil {
		return nil, fmt.Errorf("update job logs: %w", err)
	}
	return j, nil
}

// RecordException appends a structured error record.
func (c *Controller) RecordException(ctx context.Context, id string, e job.ExceptionInfo) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	j.RecordException(e)
	if err := c.store.Update(ctx, j); err != nil {
		return nil, fmt.Errorf("update job exceptions: %w", err)
	}
	return j, nil
}

// RecordResult appends an output descriptor.
func (c *Controller) RecordResult(ctx context.Context, id string, r job.ResultRef) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	j.RecordResult(r)
	if err := c.store.Update(ctx, j); err != nil {
		return nil, fmt.Errorf("update job results: %w", err)
	}
	return j, nil
}

// FailLaunch marks a job whose execution could not be started as failed,
// recording the cause. A still-accepted record is stepped through running so
// Started and Finished are both stamped at the failure instant. Calling this
// on an already-terminal job is a no-op.
func (c *Controller) FailLaunch(ctx context.Context, id string, e job.ExceptionInfo) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	when := c.now()
	if j.Status == job.StatusAccepted {
		if err := j.SetStatus(job.StatusRunning, when); err != nil {
			return nil, err
		}
	}
	if err := j.SetStatus(job.StatusFailed, when); err != nil {
		return nil, err
	}
	j.RecordException(e)
	j.AppendLog("error", e.Message, when)

	if err := c.store.Update(ctx, j); err != nil {
		return nil, fmt.Errorf("update launch-failed job: %w", err)
	}
	c.log.Warn("job launch failed",
		zap.String("job_id", id),
		zap.String("code", e.Code))
	return j, nil
}

// Dismiss forces a terminal dismissed status on a non-terminal job and clears
// result artifacts eligible for cleanup. Dismissing an already-terminal job
// is a no-op success. The runner is signaled best-effort; only the local
// record is guaranteed to reflect dismissal.
func (c *Controller) Dismiss(ctx context.Context, id string) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	when := c.now()
	if err := j.SetStatus(job.StatusDismissed, when); err != nil {
		return nil, err
	}
	j.Results = nil
	j.AppendLog("info", "job dismissed", when)

	if err := c.store.Update(ctx, j); err != nil {
		return nil, fmt.Errorf("update dismissed job: %w", err)
	}
	if c.runner != nil {
		c.runner.Cancel(ctx, id)
	}
	c.log.Info("job dismissed", zap.String("job_id", id))
	return j, nil
}

// Delete removes the record permanently. Unknown ids surface
// jobstore.ErrNotFound; deletion of an already-deleted job is therefore
// reported as not-found, not as a conflict.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	c.log.Info("job deleted", zap.String("job_id", id))
	return nil
}

// WaitForCompletion polls the job at the configured interval until a
// terminal status is observed or wait elapses, whichever comes first. The
// still-pending job is returned on timeout so the caller can fall back to
// asynchronous semantics. Cancellation of ctx aborts the wait.
func (c *Controller) WaitForCompletion(ctx context.Context, id string, wait time.Duration) (*job.Job, error) {
	j, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Status.Terminal() {
		return j, nil
	}

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	tick := time.NewTicker(c.poll)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return j, nil
		case <-tick.C:
			j, err = c.store.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if j.Status.Terminal() {
				return j, nil
			}
		}
	}
}
