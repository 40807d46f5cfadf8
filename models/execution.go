package models

import "time"

type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusStopped   ExecutionStatus = "stopped"
)

// Terminal reports whether no further transition is allowed.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	}
	return false
}

type Execution struct {
	ID          string          `json:"id"`
	TestCaseID  string          `json:"testCaseId"`
	Status      ExecutionStatus `json:"status"`
	Results     []StepResult    `json:"results"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// StepResult is the outcome of replaying one step. TargetX/TargetY are nil
// when no element was resolved.
type StepResult struct {
	Success       bool                   `json:"success"`
	Message       string                 `json:"message"`
	Screenshot    string                 `json:"screenshot,omitempty"` // base64 image
	ScreenshotURL string                 `json:"screenshotUrl,omitempty"`
	TargetX       *float64               `json:"targetX,omitempty"`
	TargetY       *float64               `json:"targetY,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

type ExecutionRequest struct {
	TestCaseID string `json:"testCaseId"`
}
