package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"testtheweb/config"
	"testtheweb/errs"
	"testtheweb/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := config.InitDatabase(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func sampleCase(name string) models.TestCaseRequest {
	return models.TestCaseRequest{
		Name:      name,
		TargetURL: "https://example.com",
		Steps: []models.Step{
			{Type: models.StepNavigation, URL: "https://example.com", Description: "open", Order: 1},
			{Type: models.StepClick, Selector: "#go", Description: "Clicked on button", Order: 2},
		},
	}
}

func TestCreateTestCase_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateTestCase(ctx, sampleCase("login"))
	require.NoError(t, err)

	got, err := s.GetTestCase(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "login", got.Name)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, models.StepClick, got.Steps[1].Type)
	assert.Equal(t, "#go", got.Steps[1].Selector)
	assert.False(t, got.Steps[0].Timestamp.IsZero(), "missing timestamps are filled at save time")
}

func TestCreateTestCase_InputErrors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.TestCaseRequest
	}{
		{"missing name", models.TestCaseRequest{TargetURL: "https://example.com"}},
		{"missing url", models.TestCaseRequest{Name: "x"}},
		{"ftp url", models.TestCaseRequest{Name: "x", TargetURL: "ftp://example.com"}},
		{"bad step", models.TestCaseRequest{Name: "x", TargetURL: "https://example.com",
			Steps: []models.Step{{Type: models.StepClick, Order: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateTestCase(ctx, tt.req)
			require.Error(t, err)
			assert.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
		})
	}

	all, err := s.ListTestCases(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all, "nothing is persisted on input errors")
}

func TestCreateTestCase_UnknownSuite(t *testing.T) {
	s := newTestStore(t)
	req := sampleCase("orphan")
	req.TestSuiteID = "missing"

	_, err := s.CreateTestCase(context.Background(), req)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestDeleteTestSuite_CascadesTestCases(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	suite, err := s.CreateTestSuite(ctx, models.TestSuiteRequest{Name: "smoke"})
	require.NoError(t, err)
	other, err := s.CreateTestSuite(ctx, models.TestSuiteRequest{Name: "other"})
	require.NoError(t, err)

	var ids []string
	for _, name := range []string{"a", "b"} {
		req := sampleCase(name)
		req.TestSuiteID = suite.ID
		tc, err := s.CreateTestCase(ctx, req)
		require.NoError(t, err)
		ids = append(ids, tc.ID)
	}
	// Cross-link one member into a second suite.
	require.NoError(t, s.withTx(ctx, func(tx *sql.Tx) error {
		return linkTestCase(ctx, tx, other.ID, ids[0])
	}))

	got, err := s.GetTestSuite(ctx, suite.ID)
	require.NoError(t, err)
	assert.Equal(t, ids, got.TestCaseIDs)

	require.NoError(t, s.DeleteTestSuite(ctx, suite.ID))

	for _, id := range ids {
		_, err := s.GetTestCase(ctx, id)
		assert.Equal(t, errs.NotFound, errs.CodeOf(err))
	}
	_, err = s.GetTestSuite(ctx, suite.ID)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))

	remaining, err := s.GetTestSuite(ctx, other.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining.TestCaseIDs, "no dangling reference survives the cascade")
}

func TestDeleteTestCase_PullsFromEverySuite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateTestSuite(ctx, models.TestSuiteRequest{Name: "first"})
	require.NoError(t, err)
	second, err := s.CreateTestSuite(ctx, models.TestSuiteRequest{Name: "second"})
	require.NoError(t, err)

	req := sampleCase("shared")
	req.TestSuiteID = first.ID
	tc, err := s.CreateTestCase(ctx, req)
	require.NoError(t, err)
	require.NoError(t, s.withTx(ctx, func(tx *sql.Tx) error {
		return linkTestCase(ctx, tx, second.ID, tc.ID)
	}))

	require.NoError(t, s.DeleteTestCase(ctx, tc.ID))

	suites, err := s.ListTestSuites(ctx)
	require.NoError(t, err)
	require.Len(t, suites, 2)
	for _, suite := range suites {
		assert.NotContains(t, suite.TestCaseIDs, tc.ID)
	}

	err = s.DeleteTestCase(ctx, tc.ID)
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestListTestCases_BySuiteKeepsSuiteOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	suite, err := s.CreateTestSuite(ctx, models.TestSuiteRequest{Name: "ordered"})
	require.NoError(t, err)
	_, err = s.CreateTestCase(ctx, sampleCase("unrelated"))
	require.NoError(t, err)

	var want []string
	for _, name := range []string{"one", "two", "three"} {
		req := sampleCase(name)
		req.TestSuiteID = suite.ID
		tc, err := s.CreateTestCase(ctx, req)
		require.NoError(t, err)
		want = append(want, tc.ID)
	}

	cases, err := s.ListTestCases(ctx, suite.ID)
	require.NoError(t, err)
	var got []string
	for _, tc := range cases {
		got = append(got, tc.ID)
	}
	assert.Equal(t, want, got)
}

func TestExecutionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tc, err := s.CreateTestCase(ctx, sampleCase("exec"))
	require.NoError(t, err)

	_, err = s.CreateExecution(ctx, "missing")
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))

	exec, err := s.CreateExecution(ctx, tc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, exec.Status)

	applied, err := s.AppendResult(ctx, exec.ID, models.StepResult{Success: true, Message: "early"})
	require.NoError(t, err)
	assert.False(t, applied, "results are only appended while running")

	applied, err = s.MarkRunning(ctx, exec.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.AppendResult(ctx, exec.ID, models.StepResult{Success: true, Message: "one"})
	require.NoError(t, err)
	assert.True(t, applied)

	polled, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, polled.Status)
	require.Len(t, polled.Results, 1, "partial results are visible while running")
	require.NotNil(t, polled.StartedAt)

	applied, err = s.FinishExecution(ctx, exec.ID, Finish{Status: models.StatusCompleted, At: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, applied)

	done, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.Len(t, done.Results, 1, "nil Results keeps the appended list")
	require.NotNil(t, done.CompletedAt)
}

func TestFinishExecution_FirstTerminalWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tc, err := s.CreateTestCase(ctx, sampleCase("race"))
	require.NoError(t, err)
	exec, err := s.CreateExecution(ctx, tc.ID)
	require.NoError(t, err)
	_, err = s.MarkRunning(ctx, exec.ID, time.Now().UTC())
	require.NoError(t, err)

	finishes := []Finish{
		{Status: models.StatusStopped, At: time.Now().UTC()},
		{Status: models.StatusCompleted, Results: []models.StepResult{{Success: true}}, At: time.Now().UTC()},
		{Status: models.StatusFailed, Error: "boom", At: time.Now().UTC()},
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []models.ExecutionStatus
	)
	for _, fin := range finishes {
		wg.Add(1)
		go func(fin Finish) {
			defer wg.Done()
			applied, err := s.FinishExecution(ctx, exec.ID, fin)
			assert.NoError(t, err)
			if applied {
				mu.Lock()
				winners = append(winners, fin.Status)
				mu.Unlock()
			}
		}(fin)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	final, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], final.Status)

	// A late stop cannot change a terminal execution.
	applied, err := s.FinishExecution(ctx, exec.ID, Finish{Status: models.StatusStopped, At: time.Now().UTC()})
	require.NoError(t, err)
	assert.False(t, applied)
	again, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, final.Status, again.Status)
	assert.Equal(t, final.Results, again.Results)
}

func TestFinishExecution_StoppedHasNoCompletedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tc, err := s.CreateTestCase(ctx, sampleCase("stop"))
	require.NoError(t, err)
	exec, err := s.CreateExecution(ctx, tc.ID)
	require.NoError(t, err)

	applied, err := s.FinishExecution(ctx, exec.ID, Finish{Status: models.StatusStopped, At: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, applied, "pending executions can be stopped")

	got, err := s.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusStopped, got.Status)
	assert.Nil(t, got.CompletedAt)

	applied, err = s.MarkRunning(ctx, exec.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied, "stopped is absorbing")

	_, err = s.FinishExecution(ctx, "missing", Finish{Status: models.StatusStopped})
	assert.Equal(t, errs.NotFound, errs.CodeOf(err))

	_, err = s.FinishExecution(ctx, exec.ID, Finish{Status: models.StatusRunning})
	assert.Error(t, err)
}

func TestDeleteExecution_KeepsTestCase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tc, err := s.CreateTestCase(ctx, sampleCase("keep"))
	require.NoError(t, err)
	exec, err := s.CreateExecution(ctx, tc.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteExecution(ctx, exec.ID))
	_, err = s.GetTestCase(ctx, tc.ID)
	require.NoError(t, err)

	listed, err := s.ListExecutions(ctx, tc.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}
