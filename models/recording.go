package models

// Recorder event kinds emitted by the page instrumentation.
const (
	EventClick  = "click"
	EventSubmit = "submit"
	EventChange = "change"
)

// RecorderEvent is one interaction reported by instrumentation running inside
// a tracked browsing context. Source identifies the context that sent it.
type RecorderEvent struct {
	Source string `json:"source"`
	Type   string `json:"type"`
	Target string `json:"target"`
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
}

type RecordingRequest struct {
	TargetURL string `json:"targetUrl"`
}

// RecordingStopRequest optionally saves the frozen steps as a new test case.
type RecordingStopRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	TestSuiteID string `json:"testSuiteId,omitempty"`
}

type RecordingStatus struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	TargetURL string `json:"targetUrl"`
	Active    bool   `json:"active"`
	Steps     []Step `json:"steps"`
}
