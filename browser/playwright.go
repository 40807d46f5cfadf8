package browser

import (
	"context"
	"fmt"
	"log"
	"sync"

	"testtheweb/models"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
)

// Options configures the playwright driver.
type Options struct {
	Headless         bool
	RecorderHeadless bool
	TimeoutMS        float64
	ViewportWidth    int
	ViewportHeight   int
}

// Playwright implements Driver and Recorder on top of a single playwright
// server process. Each session or tracked context launches its own Chromium.
type Playwright struct {
	pw   *playwright.Playwright
	opts Options
}

// StartPlaywright boots the playwright server. Stop must be called on shutdown.
func StartPlaywright(opts Options) (*Playwright, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	log.Printf("🎭 Playwright started (headless=%v, timeout=%.0fms)", opts.Headless, opts.TimeoutMS)
	return &Playwright{pw: pw, opts: opts}, nil
}

func (p *Playwright) Stop() error {
	return p.pw.Stop()
}

func (p *Playwright) launch(headless bool) (playwright.Browser, error) {
	return p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(headless),
	})
}

func (p *Playwright) viewport() *playwright.Size {
	return &playwright.Size{Width: p.opts.ViewportWidth, Height: p.opts.ViewportHeight}
}

// NewSession launches a dedicated browser with one page.
func (p *Playwright) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := p.launch(p.opts.Headless)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	page, err := browser.NewPage(playwright.BrowserNewPageOptions{
		Viewport: p.viewport(),
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	page.SetDefaultTimeout(p.opts.TimeoutMS)
	page.SetDefaultNavigationTimeout(p.opts.TimeoutMS)

	return &pwSession{browser: browser, page: page}, nil
}

type pwSession struct {
	browser   playwright.Browser
	page      playwright.Page
	closeOnce sync.Once
	closeErr  error
}

func (s *pwSession) Goto(url string) error {
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	})
	return err
}

func (s *pwSession) Query(selector string) (Element, error) {
	handle, err := s.page.QuerySelector(selector)
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, nil
	}
	return &pwElement{handle: handle}, nil
}

func (s *pwSession) Screenshot(opts ScreenshotOptions) ([]byte, error) {
	return s.page.Screenshot(pageScreenshotOptions(opts))
}

func (s *pwSession) Alive() bool {
	return s.browser.IsConnected() && !s.page.IsClosed()
}

func (s *pwSession) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.browser.Close()
	})
	return s.closeErr
}

type pwElement struct {
	handle playwright.ElementHandle
}

func (e *pwElement) Center() (float64, float64, error) {
	box, err := e.handle.BoundingBox()
	if err != nil {
		return 0, 0, err
	}
	if box == nil {
		return 0, 0, ErrNotVisible
	}
	return box.X + box.Width/2, box.Y + box.Height/2, nil
}

func (e *pwElement) Click() error {
	return e.handle.Click()
}

func (e *pwElement) Fill(value string) error {
	return e.handle.Fill(value)
}

func pageScreenshotOptions(opts ScreenshotOptions) playwright.PageScreenshotOptions {
	out := playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(opts.FullPage),
	}
	if opts.JPEG {
		out.Type = playwright.ScreenshotTypeJpeg
		if opts.Quality > 0 {
			out.Quality = playwright.Int(opts.Quality)
		}
	}
	return out
}

// OpenTracked launches a (usually headed) browser for a human to drive,
// exposes the recording binding and navigates to targetURL.
func (p *Playwright) OpenTracked(ctx context.Context, targetURL string, sink EventSink) (TrackedContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	browser, err := p.launch(p.opts.RecorderHeadless)
	if err != nil {
		return nil, fmt.Errorf("failed to launch recording browser: %w", err)
	}

	tracked := &pwTracked{
		browser: browser,
		source:  uuid.NewString(),
	}
	if err := tracked.open(p, targetURL, sink); err != nil {
		browser.Close()
		return nil, err
	}
	return tracked, nil
}

type pwTracked struct {
	browser playwright.Browser
	page    playwright.Page
	source  string

	// tokens maps every page of the context to its source identity. Only
	// the page opened at start carries the tracked source.
	tokens sync.Map

	closeOnce sync.Once
	closeErr  error
}

func (t *pwTracked) open(p *Playwright, targetURL string, sink EventSink) error {
	bctx, err := t.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: p.viewport(),
	})
	if err != nil {
		return fmt.Errorf("failed to open browsing context: %w", err)
	}

	err = bctx.ExposeBinding(bindingName, func(src *playwright.BindingSource, args ...interface{}) interface{} {
		ev, ok := decodeEvent(args)
		if !ok {
			return nil
		}
		ev.Source = t.sourceOf(src.Page)
		sink(ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to expose recorder binding: %w", err)
	}

	if err := bctx.AddInitScript(playwright.Script{
		Content: playwright.String(InstrumentationScript()),
	}); err != nil {
		return fmt.Errorf("failed to install instrumentation: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	page.SetDefaultNavigationTimeout(p.opts.TimeoutMS)
	t.page = page
	t.tokens.Store(page, t.source)

	if _, err := page.Goto(targetURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return fmt.Errorf("failed to open %s: %w", targetURL, err)
	}
	return nil
}

func (t *pwTracked) sourceOf(page playwright.Page) string {
	if page == nil {
		return ""
	}
	token, _ := t.tokens.LoadOrStore(page, uuid.NewString())
	return token.(string)
}

func (t *pwTracked) Source() string {
	return t.source
}

func (t *pwTracked) Screenshot() ([]byte, error) {
	return t.page.Screenshot(pageScreenshotOptions(ScreenshotOptions{JPEG: true, Quality: 80}))
}

func (t *pwTracked) Closed() bool {
	return !t.browser.IsConnected() || t.page == nil || t.page.IsClosed()
}

func (t *pwTracked) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.browser.Close()
	})
	return t.closeErr
}

func decodeEvent(args []interface{}) (models.RecorderEvent, bool) {
	if len(args) == 0 {
		return models.RecorderEvent{}, false
	}
	raw, ok := args[0].(map[string]interface{})
	if !ok {
		return models.RecorderEvent{}, false
	}
	str := func(key string) string {
		v, _ := raw[key].(string)
		return v
	}
	ev := models.RecorderEvent{
		Type:   str("type"),
		Target: str("target"),
		ID:     str("id"),
		Name:   str("name"),
		Value:  str("value"),
	}
	return ev, ev.Type != ""
}
