package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"testtheweb/browser"
	"testtheweb/config"
	"testtheweb/models"
	"testtheweb/store"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := config.InitDatabase(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.New(db)
}

func createCase(t *testing.T, st *store.Store, steps ...models.Step) *models.TestCase {
	t.Helper()
	tc, err := st.CreateTestCase(context.Background(), models.TestCaseRequest{
		Name:      "case",
		TargetURL: "https://example.com",
		Steps:     steps,
	})
	require.NoError(t, err)
	return tc
}

type fakeElement struct {
	session  *fakeSession
	x, y     float64
	clickErr error
	crash    bool
}

func (e *fakeElement) Center() (float64, float64, error) { return e.x, e.y, nil }

func (e *fakeElement) Click() error {
	if e.crash {
		e.session.alive.Store(false)
		return errors.New("target closed")
	}
	return e.clickErr
}

func (e *fakeElement) Fill(value string) error {
	e.session.mu.Lock()
	defer e.session.mu.Unlock()
	e.session.filled = append(e.session.filled, value)
	return nil
}

// fakeSession records what replay did to it. gotoHook, when set, runs inside
// Goto and lets a test hold a step open.
type fakeSession struct {
	mu       sync.Mutex
	elements map[string]*fakeElement
	visited  []string
	filled   []string
	gotoErr  error
	gotoHook func(url string)
	alive    atomic.Bool
	closed   atomic.Int32
}

func newFakeSession() *fakeSession {
	s := &fakeSession{elements: make(map[string]*fakeElement)}
	s.alive.Store(true)
	return s
}

func (s *fakeSession) withElement(selector string, x, y float64) *fakeElement {
	el := &fakeElement{session: s, x: x, y: y}
	s.elements[selector] = el
	return el
}

func (s *fakeSession) Goto(url string) error {
	if s.gotoHook != nil {
		s.gotoHook(url)
	}
	s.mu.Lock()
	s.visited = append(s.visited, url)
	s.mu.Unlock()
	return s.gotoErr
}

func (s *fakeSession) Query(selector string) (browser.Element, error) {
	el, ok := s.elements[selector]
	if !ok {
		return nil, nil
	}
	return el, nil
}

func (s *fakeSession) Screenshot(browser.ScreenshotOptions) ([]byte, error) {
	return []byte("png-bytes"), nil
}

func (s *fakeSession) Alive() bool  { return s.alive.Load() }
func (s *fakeSession) Close() error { s.closed.Add(1); return nil }

func (s *fakeSession) visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

type fakeDriver struct {
	session *fakeSession
	err     error
}

func (d *fakeDriver) NewSession(context.Context) (browser.Session, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.session, nil
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
}

func (u *fakeUploader) PutScreenshot(_ context.Context, key string, _ []byte, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	return "https://cdn.example.com/" + key, nil
}

// fakeTracked stands in for a live recording context.
type fakeTracked struct {
	source string
	closed atomic.Int32
	shot   []byte
}

func (f *fakeTracked) Source() string              { return f.source }
func (f *fakeTracked) Screenshot() ([]byte, error) { return f.shot, nil }
func (f *fakeTracked) Closed() bool                { return f.closed.Load() > 0 }
func (f *fakeTracked) Close() error                { f.closed.Add(1); return nil }

// fakeRecorder keeps the sink it was handed so tests can play the part of
// the page instrumentation.
type fakeRecorder struct {
	mu      sync.Mutex
	err     error
	tracked *fakeTracked
	sink    browser.EventSink
	opened  []string
}

func (r *fakeRecorder) OpenTracked(_ context.Context, targetURL string, sink browser.EventSink) (browser.TrackedContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.opened = append(r.opened, targetURL)
	r.sink = sink
	return r.tracked, nil
}

func (r *fakeRecorder) emit(ev models.RecorderEvent) {
	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()
	sink(ev)
}

type captureHub struct {
	mu       sync.Mutex
	messages []interface{}
}

func (h *captureHub) BroadcastToRecording(_ string, message interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, message)
}

func (h *captureHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages)
}
