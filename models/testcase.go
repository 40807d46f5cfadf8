package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type TestCase struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TargetURL   string    `json:"targetUrl"`
	Steps       []Step    `json:"steps"`
	CreatedAt   time.Time `json:"createdAt"`
}

// TestCaseRequest is the create payload. TestSuiteID optionally links the
// new case into an existing suite.
type TestCaseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TargetURL   string `json:"targetUrl"`
	Steps       []Step `json:"steps"`
	TestSuiteID string `json:"testSuiteId,omitempty"`
}

func (r TestCaseRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name is required")
	}
	if err := ValidateHTTPURL(r.TargetURL); err != nil {
		problems = append(problems, "targetUrl: "+err.Error())
	}
	for _, step := range r.Steps {
		if err := step.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

type TestSuite struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	TestCaseIDs []string  `json:"testCaseIds"`
	CreatedAt   time.Time `json:"createdAt"`
}

type TestSuiteRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r TestSuiteRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required")
	}
	return nil
}
