package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geoplex/procjobs/pkg/job"
	"github.com/geoplex/procjobs/pkg/jobstore"
)

var lcBase = time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC)

type fakeRunner struct {
	mu       sync.Mutex
	launched []string
	canceled []string
}

func (r *fakeRunner) Launch(_ context.Context, j *job.Job, _ map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launched = append(r.launched, j.ID)
	return nil
}

func (r *fakeRunner) Cancel(_ context.Context, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.canceled = append(r.canceled, jobID)
}

func newTestController(t *testing.T) (*Controller, *fakeRunner, jobstore.Store) {
	t.Helper()
	store := jobstore.NewMemory()
	runner := &fakeRunner{}
	c := New(store, Options{
		Runner:       runner,
		PollInterval: time.Millisecond,
		Now:          func() time.Time { return lcBase },
	})
	return c, runner, store
}

func TestCreate(t *testing.T) {
	c, _, store := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, CreateParams{
		TaskRef:             "resample-run",
		ProcessID:           "resample",
		UserID:              "alice",
		NotificationContact: "alice@example.com",
		Tags:                []string{"nightly"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, j.ID)
	assert.Equal(t, job.StatusAccepted, j.Status)
	assert.Equal(t, job.AccessPrivate, j.Access)
	assert.Equal(t, lcBase, j.Created)
	assert.Equal(t, job.TransformContact("alice@example.com"), j.NotificationContact)

	// Classification tags derive from the submission shape.
	assert.True(t, j.HasTag("nightly"))
	assert.True(t, j.HasTag("process"))
	assert.True(t, j.HasTag("application"))
	assert.True(t, j.HasTag("sync"))

	stored, err := store.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, stored.ID)
}

func TestCreateClassifiesProviderWorkflowAsync(t *testing.T) {
	c, _, _ := newTestController(t)

	j, err := c.Create(context.Background(), CreateParams{
		TaskRef:      "reproject-run",
		ProcessID:    "reproject",
		ServiceID:    "geoserver",
		IsWorkflow:   true,
		ExecuteAsync: true,
	})
	require.NoError(t, err)
	assert.True(t, j.HasTag("provider"))
	assert.True(t, j.HasTag("workflow"))
	assert.True(t, j.HasTag("async"))
	assert.False(t, j.HasTag("process"))
}

func TestCreateValidation(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	_, err := c.Create(ctx, CreateParams{TaskRef: "  "})
	var verr *job.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "taskReference", verr.Field)

	_, err = c.Create(ctx, CreateParams{TaskRef: "has space"})
	require.Error(t, err)

	_, err = c.Create(ctx, CreateParams{TaskRef: "ok", Access: "shared"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "access", verr.Field)
}

func TestApplyStatusLifecycle(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
	require.NoError(t, err)

	j, err = c.ApplyStatus(ctx, j.ID, job.StatusRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, j.Status)
	require.NotNil(t, j.Started)
	assert.NotEmpty(t, j.Logs)

	finishedAt := lcBase.Add(time.Minute)
	j, err = c.ApplyStatus(ctx, j.ID, job.StatusSucceeded, &finishedAt)
	require.NoError(t, err)
	require.NotNil(t, j.Finished)
	assert.Equal(t, finishedAt, *j.Finished)

	// Re-applying the terminal status is an idempotent no-op.
	logCount := len(j.Logs)
	j, err = c.ApplyStatus(ctx, j.ID, job.StatusSucceeded, nil)
	require.NoError(t, err)
	assert.Len(t, j.Logs, logCount)

	// A forward transition out of a terminal status is rejected.
	_, err = c.ApplyStatus(ctx, j.ID, job.StatusRunning, nil)
	require.Error(t, err)

	_, err = c.ApplyStatus(ctx, "missing", job.StatusRunning, nil)
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
}

func TestApplyProgress(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
	require.NoError(t, err)

	j, err = c.ApplyProgress(ctx, j.ID, 55)
	require.NoError(t, err)
	assert.Equal(t, 55.0, j.Progress)

	_, err = c.ApplyProgress(ctx, j.ID, 120)
	require.Error(t, err)

	got, err := c.ApplyProgress(ctx, j.ID, 55)
	require.NoError(t, err)
	assert.Equal(t, 55.0, got.Progress)
}

func TestAppendLogDeduplicates(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
	require.NoError(t, err)

	at := lcBase.Add(time.Second)
	j, err = c.AppendLog(ctx, j.ID, "info", "tiles rendered", &at)
	require.NoError(t, err)
	n := len(j.Logs)

	j, err = c.AppendLog(ctx, j.ID, "info", "tiles rendered", &at)
	require.NoError(t, err)
	assert.Len(t, j.Logs, n)
}

func TestRecordExceptionAndResult(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
	require.NoError(t, err)

	j, err = c.RecordException(ctx, j.ID, job.ExceptionInfo{Code: "E42", Message: "tile fetch failed"})
	require.NoError(t, err)
	require.Len(t, j.Exceptions, 1)

	j, err = c.RecordResult(ctx, j.ID, job.ResultRef{ID: "mosaic", Href: "/jobs/" + j.ID + "/results/mosaic"})
	require.NoError(t, err)
	require.Len(t, j.Results, 1)
}

func TestFailLaunch(t *testing.T) {
	c, _, store := newTestController(t)
	ctx := context.Background()

	t.Run("accepted job ends up failed", func(t *testing.T) {
		j, err := c.Create(ctx, CreateParams{TaskRef: "doomed-run", ProcessID: "resample"})
		require.NoError(t, err)

		j, err = c.FailLaunch(ctx, j.ID, job.ExceptionInfo{Code: "LaunchFailed", Message: "no capacity"})
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, j.Status)
		require.NotNil(t, j.Started)
		require.NotNil(t, j.Finished)
		assert.Equal(t, lcBase, *j.Started)
		assert.Equal(t, lcBase, *j.Finished)
		require.Len(t, j.Exceptions, 1)
		assert.Equal(t, "LaunchFailed", j.Exceptions[0].Code)

		stored, err := store.Get(ctx, j.ID)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, stored.Status)
	})

	t.Run("running job ends up failed", func(t *testing.T) {
		j, err := c.Create(ctx, CreateParams{TaskRef: "doomed-run-2", ProcessID: "resample"})
		require.NoError(t, err)
		_, err = c.ApplyStatus(ctx, j.ID, job.StatusRunning, nil)
		require.NoError(t, err)

		j, err = c.FailLaunch(ctx, j.ID, job.ExceptionInfo{Code: "LaunchFailed", Message: "worker lost"})
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, j.Status)
	})

	t.Run("terminal job is untouched", func(t *testing.T) {
		j, err := c.Create(ctx, CreateParams{TaskRef: "done-run", ProcessID: "resample"})
		require.NoError(t, err)
		_, err = c.ApplyStatus(ctx, j.ID, job.StatusRunning, nil)
		require.NoError(t, err)
		_, err = c.ApplyStatus(ctx, j.ID, job.StatusSucceeded, nil)
		require.NoError(t, err)

		j, err = c.FailLaunch(ctx, j.ID, job.ExceptionInfo{Code: "LaunchFailed", Message: "late"})
		require.NoError(t, err)
		assert.Equal(t, job.StatusSucceeded, j.Status)
		assert.Empty(t, j.Exceptions)
	})

	t.Run("unknown job surfaces not-found", func(t *testing.T) {
		_, err := c.FailLaunch(ctx, "ghost", job.ExceptionInfo{Code: "LaunchFailed", Message: "x"})
		assert.ErrorIs(t, err, jobstore.ErrNotFound)
	})
}

func TestDismiss(t *testing.T) {
	c, runner, _ := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
	require.NoError(t, err)
	_, err = c.ApplyStatus(ctx, j.ID, job.StatusRunning, nil)
	require.NoError(t, err)
	_, err = c.RecordResult(ctx, j.ID, job.ResultRef{ID: "partial"})
	require.NoError(t, err)

	j, err = c.Dismiss(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDismissed, j.Status)
	assert.Nil(t, j.Results)
	assert.Equal(t, []string{j.ID}, runner.canceled)

	// Dismissing again is a no-op success and does not re-signal the runner.
	j, err = c.Dismiss(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusDismissed, j.Status)
	assert.Len(t, runner.canceled, 1)

	// Dismissing any other terminal job leaves it untouched.
	done, err := c.Create(ctx, CreateParams{TaskRef: "done"})
	require.NoError(t, err)
	_, err = c.ApplyStatus(ctx, done.ID, job.StatusRunning, nil)
	require.NoError(t, err)
	_, err = c.ApplyStatus(ctx, done.ID, job.StatusSucceeded, nil)
	require.NoError(t, err)
	got, err := c.Dismiss(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, got.Status)
}

func TestDelete(t *testing.T) {
	c, _, store := newTestController(t)
	ctx := context.Background()

	j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, j.ID))
	_, err = store.Get(ctx, j.ID)
	assert.ErrorIs(t, err, jobstore.ErrNotFound)
	assert.ErrorIs(t, c.Delete(ctx, j.ID), jobstore.ErrNotFound)
}

func TestWaitForCompletion(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()

	t.Run("already terminal returns immediately", func(t *testing.T) {
		j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
		require.NoError(t, err)
		_, err = c.ApplyStatus(ctx, j.ID, job.StatusRunning, nil)
		require.NoError(t, err)
		_, err = c.ApplyStatus(ctx, j.ID, job.StatusSucceeded, nil)
		require.NoError(t, err)

		got, err := c.WaitForCompletion(ctx, j.ID, time.Second)
		require.NoError(t, err)
		assert.Equal(t, job.StatusSucceeded, got.Status)
	})

	t.Run("observes completion while polling", func(t *testing.T) {
		j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
		require.NoError(t, err)
		_, err = c.ApplyStatus(ctx, j.ID, job.StatusRunning, nil)
		require.NoError(t, err)

		go func() {
			time.Sleep(10 * time.Millisecond)
			_, _ = c.ApplyStatus(ctx, j.ID, job.StatusFailed, nil)
		}()

		got, err := c.WaitForCompletion(ctx, j.ID, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, job.StatusFailed, got.Status)
	})

	t.Run("returns the pending job on timeout", func(t *testing.T) {
		j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
		require.NoError(t, err)

		got, err := c.WaitForCompletion(ctx, j.ID, 20*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, job.StatusAccepted, got.Status)
	})

	t.Run("context cancellation aborts the wait", func(t *testing.T) {
		j, err := c.Create(ctx, CreateParams{TaskRef: "run"})
		require.NoError(t, err)

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err = c.WaitForCompletion(cctx, j.ID, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
