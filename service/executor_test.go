package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"testtheweb/errs"
	"testtheweb/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, ex *Executor, id string) *models.Execution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ex.Wait(ctx, id))
	exec, err := ex.Get(ctx, id)
	require.NoError(t, err)
	return exec
}

// blockingGoto holds the first navigation open until release is closed and
// signals entered once it is inside.
func blockingGoto(session *fakeSession) (entered chan struct{}, release chan struct{}) {
	entered = make(chan struct{})
	release = make(chan struct{})
	first := true
	session.gotoHook = func(string) {
		if !first {
			return
		}
		first = false
		close(entered)
		<-release
	}
	return entered, release
}

func TestExecutor_FailingStepDoesNotAbortReplay(t *testing.T) {
	st := newTestStore(t)
	session := newFakeSession()
	ex := NewExecutor(st, &fakeDriver{session: session}, nil)
	tc := createCase(t, st,
		models.Step{Type: models.StepClick, Selector: "#missing", Order: 1},
		models.Step{Type: models.StepNavigation, URL: "https://example.com/next", Order: 2},
	)

	exec, err := ex.Start(context.Background(), tc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, exec.Status)

	done := waitDone(t, ex, exec.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.Len(t, done.Results, 2)

	assert.False(t, done.Results[0].Success)
	assert.Equal(t, "Element not found: #missing", done.Results[0].Message)
	assert.Nil(t, done.Results[0].TargetX)
	assert.Nil(t, done.Results[0].TargetY)

	assert.True(t, done.Results[1].Success)
	assert.Equal(t, []string{"https://example.com/next"}, session.visits())

	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.EqualValues(t, 1, session.closed.Load())
}

func TestExecutor_RoundTripFollowsOrder(t *testing.T) {
	st := newTestStore(t)
	session := newFakeSession()
	session.withElement("#q", 100, 50)
	session.withElement("button[name=submit]", 40, 12)
	uploader := &fakeUploader{}
	ex := NewExecutor(st, &fakeDriver{session: session}, uploader)

	// Stored out of order on purpose; replay must follow Order.
	tc := createCase(t, st,
		models.Step{Type: models.StepClick, Selector: "button[name=submit]", Order: 4},
		models.Step{Type: models.StepScreenshot, Order: 3},
		models.Step{Type: models.StepNavigation, URL: "https://example.com", Order: 1},
		models.Step{Type: models.StepInput, Selector: "#q", Value: "hello", Order: 2},
	)

	exec, err := ex.Start(context.Background(), tc.ID)
	require.NoError(t, err)
	done := waitDone(t, ex, exec.ID)

	require.Equal(t, models.StatusCompleted, done.Status)
	require.Len(t, done.Results, 4)
	for i, r := range done.Results {
		assert.True(t, r.Success, "step %d: %s", i+1, r.Message)
	}

	assert.Equal(t, "Navigated to https://example.com", done.Results[0].Message)
	assert.Nil(t, done.Results[0].TargetX)

	require.NotNil(t, done.Results[1].TargetX)
	assert.Equal(t, 100.0, *done.Results[1].TargetX)
	assert.Equal(t, 50.0, *done.Results[1].TargetY)
	assert.Equal(t, []string{"hello"}, session.filled)

	shot := done.Results[2]
	require.NotNil(t, shot.TargetX)
	assert.Zero(t, *shot.TargetX)
	assert.Zero(t, *shot.TargetY)
	assert.NotEmpty(t, shot.Screenshot)
	assert.Equal(t, "https://cdn.example.com/executions/"+exec.ID+"/step-003.png", shot.ScreenshotURL)
	assert.Len(t, uploader.keys, 1)

	require.NotNil(t, done.Results[3].TargetX)
	assert.Equal(t, 40.0, *done.Results[3].TargetX)
	assert.Equal(t, 12.0, *done.Results[3].TargetY)
	assert.Equal(t, "Clicked button[name=submit]", done.Results[3].Message)
}

func TestExecutor_SessionAcquisitionFailure(t *testing.T) {
	st := newTestStore(t)
	ex := NewExecutor(st, &fakeDriver{err: errors.New("chromium missing")}, nil)
	tc := createCase(t, st, models.Step{Type: models.StepNavigation, URL: "https://example.com", Order: 1})

	exec, err := ex.Start(context.Background(), tc.ID)
	require.NoError(t, err)
	done := waitDone(t, ex, exec.ID)

	assert.Equal(t, models.StatusFailed, done.Status)
	require.Len(t, done.Results, 1)
	assert.False(t, done.Results[0].Success)
	assert.Equal(t, "Execution failed: chromium missing", done.Results[0].Message)
	assert.Equal(t, "chromium missing", done.Error)
	assert.Nil(t, done.StartedAt)
}

func TestExecutor_SessionCrashFailsRun(t *testing.T) {
	st := newTestStore(t)
	session := newFakeSession()
	session.withElement("#boom", 1, 1).crash = true
	ex := NewExecutor(st, &fakeDriver{session: session}, nil)
	tc := createCase(t, st,
		models.Step{Type: models.StepNavigation, URL: "https://example.com", Order: 1},
		models.Step{Type: models.StepClick, Selector: "#boom", Order: 2},
		models.Step{Type: models.StepNavigation, URL: "https://example.com/after", Order: 3},
	)

	exec, err := ex.Start(context.Background(), tc.ID)
	require.NoError(t, err)
	done := waitDone(t, ex, exec.ID)

	assert.Equal(t, models.StatusFailed, done.Status)
	require.Len(t, done.Results, 1, "session failure replaces partial results")
	assert.Contains(t, done.Results[0].Message, "Execution failed:")
	assert.Equal(t, []string{"https://example.com"}, session.visits())
	assert.EqualValues(t, 1, session.closed.Load())
}

func TestExecutor_StopHaltsBetweenSteps(t *testing.T) {
	st := newTestStore(t)
	session := newFakeSession()
	entered, release := blockingGoto(session)
	ex := NewExecutor(st, &fakeDriver{session: session}, nil)
	tc := createCase(t, st,
		models.Step{Type: models.StepNavigation, URL: "https://example.com/1", Order: 1},
		models.Step{Type: models.StepNavigation, URL: "https://example.com/2", Order: 2},
	)

	exec, err := ex.Start(context.Background(), tc.ID)
	require.NoError(t, err)
	<-entered

	stopped, err := ex.Stop(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, stopped.Status)

	close(release)
	done := waitDone(t, ex, exec.ID)

	assert.Equal(t, models.StatusStopped, done.Status, "late completion must not overwrite stopped")
	assert.Nil(t, done.CompletedAt)
	assert.Empty(t, done.Results, "results are not appended after stop")
	assert.Equal(t, []string{"https://example.com/1"}, session.visits())
	assert.EqualValues(t, 1, session.closed.Load())
}

func TestExecutor_StopTerminalIsNoop(t *testing.T) {
	st := newTestStore(t)
	ex := NewExecutor(st, &fakeDriver{session: newFakeSession()}, nil)
	tc := createCase(t, st, models.Step{Type: models.StepNavigation, URL: "https://example.com", Order: 1})

	exec, err := ex.Start(context.Background(), tc.ID)
	require.NoError(t, err)
	done := waitDone(t, ex, exec.ID)
	require.Equal(t, models.StatusCompleted, done.Status)

	again, err := ex.Stop(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, again.Status)
	assert.Equal(t, done.Results, again.Results)

	_, err = ex.Stop(context.Background(), "nope")
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestExecutor_StartUnknownTestCase(t *testing.T) {
	st := newTestStore(t)
	ex := NewExecutor(st, &fakeDriver{session: newFakeSession()}, nil)

	_, err := ex.Start(context.Background(), "missing")
	assert.True(t, errs.Is(err, errs.NotFound))

	_, err = ex.Start(context.Background(), "")
	assert.True(t, errs.Is(err, errs.InvalidArgument))

	execs, err := ex.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestExecutor_ShutdownInterruptsRuns(t *testing.T) {
	st := newTestStore(t)
	session := newFakeSession()
	entered, release := blockingGoto(session)
	ex := NewExecutor(st, &fakeDriver{session: session}, nil)
	tc := createCase(t, st,
		models.Step{Type: models.StepNavigation, URL: "https://example.com/1", Order: 1},
		models.Step{Type: models.StepNavigation, URL: "https://example.com/2", Order: 2},
	)

	exec, err := ex.Start(context.Background(), tc.ID)
	require.NoError(t, err)
	<-entered

	shutdownErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		shutdownErr <- ex.Shutdown(ctx)
	}()
	require.Eventually(t, func() bool { return ex.baseCtx.Err() != nil }, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, <-shutdownErr)

	done, err := ex.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Equal(t, shutdownReason, done.Error)
	assert.Len(t, done.Results, 1, "the step in flight still reports")
	assert.Zero(t, ex.Running())

	_, err = ex.Start(context.Background(), tc.ID)
	assert.True(t, errs.Is(err, errs.Unavailable))
}

func TestExecutor_DeleteStopsInFlight(t *testing.T) {
	st := newTestStore(t)
	session := newFakeSession()
	entered, release := blockingGoto(session)
	ex := NewExecutor(st, &fakeDriver{session: session}, nil)
	tc := createCase(t, st, models.Step{Type: models.StepNavigation, URL: "https://example.com", Order: 1})

	exec, err := ex.Start(context.Background(), tc.ID)
	require.NoError(t, err)
	<-entered

	deleted := make(chan error, 1)
	go func() { deleted <- ex.Delete(context.Background(), exec.ID) }()
	require.Eventually(t, func() bool {
		got, err := ex.Get(context.Background(), exec.ID)
		return err == nil && got.Status == models.StatusStopped
	}, 2*time.Second, 5*time.Millisecond)
	close(release)
	require.NoError(t, <-deleted)

	_, err = ex.Get(context.Background(), exec.ID)
	assert.True(t, errs.Is(err, errs.NotFound))
	_, err = st.GetTestCase(context.Background(), tc.ID)
	assert.NoError(t, err)
}

func TestPollUntilTerminal(t *testing.T) {
	statuses := []models.ExecutionStatus{models.StatusPending, models.StatusRunning, models.StatusCompleted}
	calls := 0
	get := func(context.Context, string) (*models.Execution, error) {
		s := statuses[calls]
		calls++
		return &models.Execution{ID: "x", Status: s}, nil
	}

	var seen []models.ExecutionStatus
	exec, err := PollUntilTerminal(context.Background(), get, "x", time.Millisecond, func(e *models.Execution) {
		seen = append(seen, e.Status)
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, statuses, seen)
}

func TestPollUntilTerminal_ContextCancelled(t *testing.T) {
	get := func(context.Context, string) (*models.Execution, error) {
		return &models.Execution{ID: "x", Status: models.StatusRunning}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	exec, err := PollUntilTerminal(ctx, get, "x", time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.StatusRunning, exec.Status)
}
