package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	"testtheweb/artifacts"
	"testtheweb/browser"
	"testtheweb/errs"
	"testtheweb/models"
	"testtheweb/store"
)

const shutdownReason = "interrupted: server shutting down"

// ExecutionStore is the persistence the engine needs. *store.Store
// implements it.
type ExecutionStore interface {
	GetTestCase(ctx context.Context, id string) (*models.TestCase, error)
	CreateExecution(ctx context.Context, testCaseID string) (*models.Execution, error)
	GetExecution(ctx context.Context, id string) (*models.Execution, error)
	ListExecutions(ctx context.Context, testCaseID string) ([]*models.Execution, error)
	MarkRunning(ctx context.Context, id string, at time.Time) (bool, error)
	AppendResult(ctx context.Context, id string, result models.StepResult) (bool, error)
	FinishExecution(ctx context.Context, id string, fin store.Finish) (bool, error)
	DeleteExecution(ctx context.Context, id string) error
}

// ScreenshotUploader offloads execution screenshots. *artifacts.Store
// implements it.
type ScreenshotUploader interface {
	PutScreenshot(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Executor replays test cases in the background, one dedicated browser
// session per execution.
type Executor struct {
	store    ExecutionStore
	driver   browser.Driver
	uploader ScreenshotUploader
	now      func() time.Time

	baseCtx   context.Context
	cancelAll context.CancelFunc

	running      map[string]*runningExecution
	shuttingDown bool
	mu           sync.Mutex
	wg           sync.WaitGroup
}

// runningExecution is the registry entry for one in-flight task.
type runningExecution struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor builds an engine. uploader may be nil, in which case
// screenshots stay inline in the results.
func NewExecutor(st ExecutionStore, driver browser.Driver, uploader ScreenshotUploader) *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		store:     st,
		driver:    driver,
		uploader:  uploader,
		now:       time.Now,
		baseCtx:   ctx,
		cancelAll: cancel,
		running:   make(map[string]*runningExecution),
	}
}

// Start creates a pending execution and replays it in the background. It
// returns as soon as the execution is recorded.
func (e *Executor) Start(ctx context.Context, testCaseID string) (*models.Execution, error) {
	if testCaseID == "" {
		return nil, errs.New(errs.InvalidArgument, "testCaseId is required")
	}
	tc, err := e.store.GetTestCase(ctx, testCaseID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shuttingDown {
		return nil, errs.New(errs.Unavailable, "server is shutting down")
	}

	exec, err := e.store.CreateExecution(ctx, tc.ID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(e.baseCtx)
	entry := &runningExecution{cancel: cancel, done: make(chan struct{})}
	e.running[exec.ID] = entry
	e.wg.Add(1)

	log.Printf("🚀 [%s] Execution queued for test case %s (%d steps)", exec.ID, tc.ID, len(tc.Steps))
	go e.run(runCtx, entry, exec.ID, tc)
	return exec, nil
}

func (e *Executor) run(ctx context.Context, entry *runningExecution, id string, tc *models.TestCase) {
	defer func() {
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
		entry.cancel()
		close(entry.done)
		e.wg.Done()
	}()

	// Persistence must outlive cancellation of the run itself.
	persist := context.WithoutCancel(ctx)

	session, err := e.driver.NewSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			e.interrupted(persist, id)
			return
		}
		e.fail(persist, id, err)
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Printf("⚠️ [%s] Error closing browser session: %v", id, err)
		}
	}()

	applied, err := e.store.MarkRunning(persist, id, e.now())
	if err != nil {
		log.Printf("❌ [%s] Failed to mark execution running: %v", id, err)
		e.fail(persist, id, err)
		return
	}
	if !applied {
		log.Printf("⏭️ [%s] Execution left pending before it started, skipping replay", id)
		return
	}
	log.Printf("▶️ [%s] Execution running", id)

	steps := models.OrderSteps(tc.Steps)
	results := make([]models.StepResult, 0, len(steps))
	for i, step := range steps {
		if ctx.Err() != nil {
			log.Printf("🛑 [%s] Cancelled before step %d/%d", id, i+1, len(steps))
			e.interrupted(persist, id)
			return
		}

		result := e.executeStep(persist, session, id, i, step)
		if !result.Success && !session.Alive() {
			e.fail(persist, id, fmt.Errorf("browser session lost at step %d: %s", i+1, result.Message))
			return
		}

		results = append(results, result)
		if _, err := e.store.AppendResult(persist, id, result); err != nil {
			log.Printf("⚠️ [%s] Failed to persist result of step %d: %v", id, i+1, err)
		}
		if result.Success {
			log.Printf("✅ [%s] Step %d/%d: %s", id, i+1, len(steps), result.Message)
		} else {
			log.Printf("❌ [%s] Step %d/%d: %s", id, i+1, len(steps), result.Message)
		}
	}

	applied, err = e.store.FinishExecution(persist, id, store.Finish{
		Status:  models.StatusCompleted,
		Results: results,
		At:      e.now(),
	})
	switch {
	case err != nil:
		log.Printf("❌ [%s] Failed to record completion: %v", id, err)
	case !applied:
		log.Printf("⏭️ [%s] Execution already terminal, completion ignored", id)
	default:
		log.Printf("🏁 [%s] Execution completed (%d results)", id, len(results))
	}
}

// executeStep replays one step. Every failure, panics included, becomes an
// unsuccessful result so the caller can move on to the next step.
func (e *Executor) executeStep(ctx context.Context, session browser.Session, execID string, index int, step models.Step) (result models.StepResult) {
	result = models.StepResult{
		Timestamp: e.now(),
		Details: map[string]interface{}{
			"type":  string(step.Type),
			"order": step.Order,
		},
	}
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Message = fmt.Sprintf("Failed to execute step: %v", r)
		}
	}()

	switch step.Type {
	case models.StepClick, models.StepInput:
		result.Details["selector"] = step.Selector
		el, err := session.Query(step.Selector)
		if err != nil {
			result.Message = "Failed to execute step: " + err.Error()
			return result
		}
		if el == nil {
			result.Message = "Element not found: " + step.Selector
			return result
		}
		x, y, err := el.Center()
		if err != nil {
			result.Message = "Failed to execute step: " + err.Error()
			return result
		}
		result.TargetX, result.TargetY = &x, &y

		if step.Type == models.StepClick {
			err = el.Click()
			result.Message = "Clicked " + step.Selector
		} else {
			err = el.Fill(step.Value)
			result.Message = fmt.Sprintf("Entered %q into %s", step.Value, step.Selector)
		}
		if err != nil {
			result.Message = "Failed to execute step: " + err.Error()
			return result
		}
		result.Success = true

	case models.StepNavigation:
		result.Details["url"] = step.URL
		if err := session.Goto(step.URL); err != nil {
			result.Message = "Failed to execute step: " + err.Error()
			return result
		}
		result.Success = true
		result.Message = "Navigated to " + step.URL

	case models.StepScreenshot:
		data, err := session.Screenshot(browser.ScreenshotOptions{FullPage: true})
		if err != nil {
			result.Message = "Failed to execute step: " + err.Error()
			return result
		}
		x, y := 0.0, 0.0
		result.TargetX, result.TargetY = &x, &y
		result.Screenshot = base64.StdEncoding.EncodeToString(data)
		if e.uploader != nil {
			key := artifacts.ScreenshotKey(execID, index, "png")
			url, err := e.uploader.PutScreenshot(ctx, key, data, "image/png")
			if err != nil {
				log.Printf("⚠️ [%s] Screenshot upload failed, keeping it inline: %v", execID, err)
			} else {
				result.ScreenshotURL = url
			}
		}
		result.Success = true
		result.Message = "Screenshot captured"

	default:
		result.Message = fmt.Sprintf("Failed to execute step: unsupported step type %q", step.Type)
	}
	return result
}

// fail records a session-level failure: the run ends failed with a single
// synthetic result describing it.
func (e *Executor) fail(ctx context.Context, id string, cause error) {
	msg := "Execution failed: " + cause.Error()
	applied, err := e.store.FinishExecution(ctx, id, store.Finish{
		Status: models.StatusFailed,
		Results: []models.StepResult{{
			Success:   false,
			Message:   msg,
			Timestamp: e.now(),
		}},
		Error: cause.Error(),
		At:    e.now(),
	})
	switch {
	case err != nil:
		log.Printf("❌ [%s] Failed to record failure: %v", id, err)
	case applied:
		log.Printf("💥 [%s] %s", id, msg)
	}
}

// interrupted ends a cancelled run. After a stop request the execution is
// already terminal and this is a no-op; on shutdown it ends failed.
func (e *Executor) interrupted(ctx context.Context, id string) {
	applied, err := e.store.FinishExecution(ctx, id, store.Finish{
		Status: models.StatusFailed,
		Error:  shutdownReason,
		At:     e.now(),
	})
	if err != nil {
		log.Printf("❌ [%s] Failed to record interruption: %v", id, err)
		return
	}
	if applied {
		log.Printf("🛑 [%s] Execution %s", id, shutdownReason)
	}
}

// Stop moves a pending or running execution to stopped and cancels its
// task. The running step finishes first; no later step starts. Stopping a
// terminal execution changes nothing.
func (e *Executor) Stop(ctx context.Context, id string) (*models.Execution, error) {
	applied, err := e.store.FinishExecution(ctx, id, store.Finish{
		Status: models.StatusStopped,
		At:     e.now(),
	})
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	entry := e.running[id]
	e.mu.Unlock()
	if entry != nil {
		entry.cancel()
	}
	if applied {
		log.Printf("⏹️ [%s] Execution stopped", id)
	}
	return e.store.GetExecution(ctx, id)
}

// Wait blocks until the task for id has exited or ctx is done. It returns
// immediately when nothing is running under id.
func (e *Executor) Wait(ctx context.Context, id string) error {
	e.mu.Lock()
	entry := e.running[id]
	e.mu.Unlock()
	if entry == nil {
		return nil
	}
	select {
	case <-entry.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) Get(ctx context.Context, id string) (*models.Execution, error) {
	return e.store.GetExecution(ctx, id)
}

func (e *Executor) List(ctx context.Context, testCaseID string) ([]*models.Execution, error) {
	return e.store.ListExecutions(ctx, testCaseID)
}

// Delete removes an execution record, stopping it first if it is in flight.
func (e *Executor) Delete(ctx context.Context, id string) error {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		return err
	}
	if !exec.Status.Terminal() {
		if _, err := e.Stop(ctx, id); err != nil && !errs.Is(err, errs.NotFound) {
			return err
		}
		if err := e.Wait(ctx, id); err != nil {
			return err
		}
	}
	return e.store.DeleteExecution(ctx, id)
}

// Running reports how many executions are in flight.
func (e *Executor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

// Shutdown refuses new executions, cancels the in-flight ones and waits for
// their tasks to exit or ctx to expire.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.shuttingDown = true
	n := len(e.running)
	e.mu.Unlock()

	if n > 0 {
		log.Printf("🛑 Shutting down %d running executions", n)
	}
	e.cancelAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("executor shutdown: %w", ctx.Err())
	}
}
