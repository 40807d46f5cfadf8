package service

import (
	"context"
	"encoding/base64"
	"log"
	"sync"
	"time"

	"testtheweb/browser"
	"testtheweb/errs"
	"testtheweb/models"

	"github.com/google/uuid"
)

// StepBroadcaster fans accepted steps out to live viewers. Declared here so
// the api hub can satisfy it without an import cycle.
type StepBroadcaster interface {
	BroadcastToRecording(recordingID string, message interface{})
}

// RecordingSession follows one human-driven browsing context and turns its
// interaction events into an ordered step buffer.
type RecordingSession struct {
	id       string
	recorder browser.Recorder
	hub      StepBroadcaster
	now      func() time.Time

	mu        sync.Mutex
	active    bool
	closed    bool
	targetURL string
	tracked   browser.TrackedContext
	source    string
	steps     []models.Step
	nextOrder int
}

func NewRecordingSession(id string, rec browser.Recorder, hub StepBroadcaster) *RecordingSession {
	return &RecordingSession{
		id:       id,
		recorder: rec,
		hub:      hub,
		now:      time.Now,
		steps:    []models.Step{},
	}
}

func (s *RecordingSession) ID() string { return s.id }

// Source is the token events must carry to be accepted.
func (s *RecordingSession) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Start opens the tracked context and begins intake. If the context cannot
// be opened the session stays inactive with an empty buffer.
func (s *RecordingSession) Start(ctx context.Context, targetURL string) error {
	if err := models.ValidateHTTPURL(targetURL); err != nil {
		return errs.New(errs.InvalidArgument, "targetUrl: "+err.Error())
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return errs.New(errs.FailedPrecondition, "recording session is closed")
	case s.active:
		s.mu.Unlock()
		return errs.New(errs.FailedPrecondition, "recording already in progress")
	}
	s.mu.Unlock()

	// The sink may fire before OpenTracked returns; those events are dropped
	// because no source is registered yet.
	tracked, err := s.recorder.OpenTracked(ctx, targetURL, func(ev models.RecorderEvent) {
		s.Deliver(ev)
	})
	if err != nil {
		log.Printf("❌ [%s] Failed to open recording context for %s: %v", s.id, targetURL, err)
		return errs.Wrap(errs.Unavailable, "could not open browsing context", err)
	}

	s.mu.Lock()
	if s.closed || s.active {
		s.mu.Unlock()
		tracked.Close()
		return errs.New(errs.FailedPrecondition, "recording session changed while starting")
	}
	s.tracked = tracked
	s.source = tracked.Source()
	s.targetURL = targetURL
	s.steps = []models.Step{}
	s.nextOrder = 0
	s.active = true
	s.mu.Unlock()

	log.Printf("🔴 [%s] Recording started on %s (source=%s)", s.id, targetURL, s.source)
	return nil
}

// Deliver offers one event to the session. It is accepted only while
// recording and only from the tracked context's source.
func (s *RecordingSession) Deliver(ev models.RecorderEvent) bool {
	s.mu.Lock()
	if !s.active || s.source == "" || ev.Source != s.source {
		s.mu.Unlock()
		return false
	}
	step, ok := StepFromEvent(ev, s.nextOrder+1, s.now())
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.nextOrder++
	s.steps = append(s.steps, step)
	s.mu.Unlock()

	s.broadcast(step)
	return true
}

// TakeScreenshot appends a screenshot step of the tracked context. Outside
// an active recording it does nothing and returns (nil, nil).
func (s *RecordingSession) TakeScreenshot(ctx context.Context) (*models.Step, error) {
	s.mu.Lock()
	if !s.active || s.targetURL == "" || s.tracked == nil {
		s.mu.Unlock()
		return nil, nil
	}
	tracked := s.tracked
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := tracked.Screenshot()
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "could not capture recording screenshot", err)
	}

	s.mu.Lock()
	if !s.active || s.tracked != tracked {
		s.mu.Unlock()
		return nil, nil
	}
	at := s.now()
	s.nextOrder++
	step := models.Step{
		Type:        models.StepScreenshot,
		Screenshot:  "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
		Timestamp:   at,
		Description: "Screenshot at " + at.Format("15:04:05"),
		Order:       s.nextOrder,
	}
	s.steps = append(s.steps, step)
	s.mu.Unlock()

	log.Printf("📸 [%s] Screenshot step #%d captured", s.id, step.Order)
	s.broadcast(step)
	return &step, nil
}

// Stop ends intake, releases the tracked context and returns the frozen
// buffer.
func (s *RecordingSession) Stop() ([]models.Step, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil, errs.New(errs.FailedPrecondition, "no recording in progress")
	}
	s.active = false
	tracked := s.tracked
	s.tracked = nil
	steps := make([]models.Step, len(s.steps))
	copy(steps, s.steps)
	s.mu.Unlock()

	if tracked != nil && !tracked.Closed() {
		if err := tracked.Close(); err != nil {
			log.Printf("⚠️ [%s] Error closing recording context: %v", s.id, err)
		}
	}
	log.Printf("⏹️ [%s] Recording stopped with %d steps", s.id, len(steps))
	return steps, nil
}

// Close releases everything the session holds. Safe to call repeatedly and
// in any state.
func (s *RecordingSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.active = false
	tracked := s.tracked
	s.tracked = nil
	s.mu.Unlock()

	if tracked == nil {
		return nil
	}
	return tracked.Close()
}

// Steps returns a copy of the current buffer.
func (s *RecordingSession) Steps() []models.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := make([]models.Step, len(s.steps))
	copy(steps, s.steps)
	return steps
}

func (s *RecordingSession) Status() models.RecordingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps := make([]models.Step, len(s.steps))
	copy(steps, s.steps)
	return models.RecordingStatus{
		ID:        s.id,
		Source:    s.source,
		TargetURL: s.targetURL,
		Active:    s.active,
		Steps:     steps,
	}
}

func (s *RecordingSession) broadcast(step models.Step) {
	if s.hub == nil {
		return
	}
	s.hub.BroadcastToRecording(s.id, map[string]interface{}{
		"type":        "step",
		"recordingId": s.id,
		"step":        step,
	})
}

// RecorderManager owns the recording sessions opened through the API.
type RecorderManager struct {
	recorder browser.Recorder
	hub      StepBroadcaster
	sessions map[string]*RecordingSession
	mu       sync.RWMutex
}

func NewRecorderManager(rec browser.Recorder, hub StepBroadcaster) *RecorderManager {
	return &RecorderManager{
		recorder: rec,
		hub:      hub,
		sessions: make(map[string]*RecordingSession),
	}
}

// Start creates a session and opens its tracked context. Sessions that fail
// to start are not registered.
func (m *RecorderManager) Start(ctx context.Context, targetURL string) (*RecordingSession, error) {
	session := NewRecordingSession(uuid.NewString(), m.recorder, m.hub)
	if err := session.Start(ctx, targetURL); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[session.ID()] = session
	m.mu.Unlock()
	return session, nil
}

func (m *RecorderManager) Get(id string) (*RecordingSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "Recording not found")
	}
	return session, nil
}

// Stop freezes a session's buffer. The session stays registered so its
// steps remain readable until it is closed.
func (m *RecorderManager) Stop(id string) ([]models.Step, error) {
	session, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	return session.Stop()
}

// Deliver routes an externally reported event to a session.
func (m *RecorderManager) Deliver(id string, ev models.RecorderEvent) (bool, error) {
	session, err := m.Get(id)
	if err != nil {
		return false, err
	}
	return session.Deliver(ev), nil
}

// Close tears a session down and forgets it.
func (m *RecorderManager) Close(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return errs.New(errs.NotFound, "Recording not found")
	}
	if err := session.Close(); err != nil {
		log.Printf("⚠️ [%s] Error closing recording: %v", id, err)
	}
	return nil
}

// CloseAll releases every session. Used on process shutdown.
func (m *RecorderManager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*RecordingSession)
	m.mu.Unlock()

	for id, session := range sessions {
		if err := session.Close(); err != nil {
			log.Printf("⚠️ [%s] Error closing recording: %v", id, err)
		}
	}
	if len(sessions) > 0 {
		log.Printf("🧹 Closed %d recording sessions", len(sessions))
	}
}
