package service

import (
	"context"
	"time"

	"testtheweb/models"
)

// PollInterval is how often callers re-read an execution while waiting for
// it to finish.
const PollInterval = time.Second

// ExecutionGetter reads the current execution document.
type ExecutionGetter func(ctx context.Context, id string) (*models.Execution, error)

// PollUntilTerminal re-reads the execution every interval until it reaches
// a terminal status. onUpdate, when set, sees every document read.
func PollUntilTerminal(ctx context.Context, get ExecutionGetter, id string, interval time.Duration, onUpdate func(*models.Execution)) (*models.Execution, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		exec, err := get(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(exec)
		}
		if exec.Status.Terminal() {
			return exec, nil
		}

		select {
		case <-ctx.Done():
			return exec, ctx.Err()
		case <-ticker.C:
		}
	}
}
