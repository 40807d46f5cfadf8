// Package browser abstracts the automated browser used for replay, recording
// and on-demand screenshots. The playwright implementation lives in
// playwright.go; tests substitute their own Driver and Recorder.
package browser

import (
	"context"
	"errors"

	"testtheweb/models"
)

// ErrNotVisible is returned when a resolved element has no bounding box.
var ErrNotVisible = errors.New("element is not visible")

// Driver launches hermetic sessions. Every session owns its own browser
// instance and must be closed by the caller.
type Driver interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is one page inside a dedicated browser instance.
type Session interface {
	// Goto navigates and waits for the network to go idle. The response
	// status is not inspected.
	Goto(url string) error
	// Query resolves selector to the first matching element. A nil Element
	// with a nil error means nothing matched.
	Query(selector string) (Element, error)
	Screenshot(opts ScreenshotOptions) ([]byte, error)
	// Alive reports whether the underlying browser is still connected.
	Alive() bool
	Close() error
}

type Element interface {
	// Center returns the centre of the element's bounding box in page pixels.
	Center() (x, y float64, err error)
	Click() error
	Fill(value string) error
}

type ScreenshotOptions struct {
	FullPage bool
	JPEG     bool
	Quality  int
}

// EventSink receives interaction events from a tracked context. It is called
// from the driver's event goroutine and must not block.
type EventSink func(models.RecorderEvent)

// Recorder opens human-driven browsing contexts instrumented to report
// click, submit and change events.
type Recorder interface {
	OpenTracked(ctx context.Context, targetURL string, sink EventSink) (TrackedContext, error)
}

// TrackedContext is the live context a recording session follows. Source is
// the identity stamped on events emitted by its main page.
type TrackedContext interface {
	Source() string
	Screenshot() ([]byte, error)
	Closed() bool
	Close() error
}

// Capture opens a throwaway session, loads url and returns a screenshot.
func Capture(ctx context.Context, d Driver, url string, opts ScreenshotOptions) ([]byte, error) {
	session, err := d.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	if err := session.Goto(url); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return session.Screenshot(opts)
}
