package models

import (
	"fmt"
	"net/url"
	"sort"
	"time"
)

type StepType string

const (
	StepClick      StepType = "click"
	StepInput      StepType = "input"
	StepNavigation StepType = "navigation"
	StepScreenshot StepType = "screenshot"
)

// Step is one recorded interaction. Type selects which of Selector, Value,
// URL and Screenshot are meaningful.
type Step struct {
	Type        StepType  `json:"type"`
	Selector    string    `json:"selector,omitempty"`
	Value       string    `json:"value,omitempty"`
	URL         string    `json:"url,omitempty"`
	Screenshot  string    `json:"screenshot,omitempty"` // data URL, recorder screenshots only
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Order       int       `json:"order"`
}

func (s Step) Validate() error {
	if s.Order <= 0 {
		return fmt.Errorf("step order must be positive, got %d", s.Order)
	}
	switch s.Type {
	case StepClick:
		if s.Selector == "" {
			return fmt.Errorf("click step %d requires a selector", s.Order)
		}
	case StepInput:
		if s.Selector == "" {
			return fmt.Errorf("input step %d requires a selector", s.Order)
		}
	case StepNavigation:
		if err := ValidateHTTPURL(s.URL); err != nil {
			return fmt.Errorf("navigation step %d: %w", s.Order, err)
		}
	case StepScreenshot:
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	return nil
}

// OrderSteps returns a copy of steps sorted by Order. Storage order is not
// trusted; ties keep their relative position.
func OrderSteps(steps []Step) []Step {
	ordered := make([]Step, len(steps))
	copy(ordered, steps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Order < ordered[j].Order
	})
	return ordered
}

// ValidateHTTPURL accepts absolute http and https URLs only.
func ValidateHTTPURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid url protocol %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("url has no host")
	}
	return nil
}
