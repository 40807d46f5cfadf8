package api

import (
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"

	"testtheweb/browser"
	"testtheweb/errs"
	"testtheweb/models"
	"testtheweb/service"
	"testtheweb/store"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Handlers holds what the HTTP surface needs. Driver, Limiter and Proxy may
// be nil; the endpoints that use them then answer 503 or run unthrottled.
type Handlers struct {
	Store             *store.Store
	Executor          *service.Executor
	Recorders         *service.RecorderManager
	Driver            browser.Driver
	Limiter           *rate.Limiter
	Proxy             *Proxy
	ScreenshotQuality int
}

// respondError writes err as the JSON envelope with its mapped status.
func respondError(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	status := errs.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		log.Printf("❌ %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, models.CodedErrorResponse(string(code), errs.MessageOf(err)))
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, errs.New(errs.InvalidArgument, "invalid request body: "+err.Error()))
		return false
	}
	return true
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"status":  "ok",
		"message": "testtheweb backend is running",
	}))
}

// Test suites

func (h *Handlers) ListTestSuites(c *gin.Context) {
	suites, err := h.Store.ListTestSuites(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(suites))
}

func (h *Handlers) CreateTestSuite(c *gin.Context) {
	var req models.TestSuiteRequest
	if !bindJSON(c, &req) {
		return
	}
	suite, err := h.Store.CreateTestSuite(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse(suite))
}

func (h *Handlers) GetTestSuite(c *gin.Context) {
	suite, err := h.Store.GetTestSuite(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(suite))
}

func (h *Handlers) DeleteTestSuite(c *gin.Context) {
	if err := h.Store.DeleteTestSuite(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Test suite deleted"))
}

// Test cases

func (h *Handlers) ListTestCases(c *gin.Context) {
	cases, err := h.Store.ListTestCases(c.Request.Context(), c.Query("testSuiteId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(cases))
}

func (h *Handlers) CreateTestCase(c *gin.Context) {
	var req models.TestCaseRequest
	if !bindJSON(c, &req) {
		return
	}
	tc, err := h.Store.CreateTestCase(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse(tc))
}

func (h *Handlers) GetTestCase(c *gin.Context) {
	tc, err := h.Store.GetTestCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(tc))
}

func (h *Handlers) DeleteTestCase(c *gin.Context) {
	if err := h.Store.DeleteTestCase(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Test case deleted"))
}

// Executions

func (h *Handlers) StartExecution(c *gin.Context) {
	var req models.ExecutionRequest
	if !bindJSON(c, &req) {
		return
	}
	exec, err := h.Executor.Start(c.Request.Context(), req.TestCaseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse(exec))
}

func (h *Handlers) ListExecutions(c *gin.Context) {
	execs, err := h.Executor.List(c.Request.Context(), c.Query("testCaseId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(execs))
}

func (h *Handlers) GetExecution(c *gin.Context) {
	exec, err := h.Executor.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(exec))
}

func (h *Handlers) StopExecution(c *gin.Context) {
	exec, err := h.Executor.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(exec))
}

func (h *Handlers) DeleteExecution(c *gin.Context) {
	if err := h.Executor.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Execution deleted"))
}

// Recordings

func (h *Handlers) StartRecording(c *gin.Context) {
	var req models.RecordingRequest
	if !bindJSON(c, &req) {
		return
	}
	session, err := h.Recorders.Start(c.Request.Context(), req.TargetURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse(session.Status()))
}

func (h *Handlers) GetRecording(c *gin.Context) {
	session, err := h.Recorders.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(session.Status()))
}

func (h *Handlers) TakeRecordingScreenshot(c *gin.Context) {
	session, err := h.Recorders.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	step, err := session.TakeScreenshot(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if step == nil {
		c.JSON(http.StatusOK, models.MessageResponse("No recording in progress, screenshot skipped"))
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse(step))
}

// StopRecording freezes the buffer. With a name in the body the steps are
// also saved as a new test case.
func (h *Handlers) StopRecording(c *gin.Context) {
	var req models.RecordingStopRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, errs.New(errs.InvalidArgument, "invalid request body: "+err.Error()))
			return
		}
	}

	session, err := h.Recorders.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if req.TestSuiteID != "" {
		if _, err := h.Store.GetTestSuite(c.Request.Context(), req.TestSuiteID); err != nil {
			respondError(c, err)
			return
		}
	}

	steps, err := session.Stop()
	if err != nil {
		respondError(c, err)
		return
	}
	status := session.Status()

	if req.Name == "" {
		c.JSON(http.StatusOK, models.SuccessResponse(status))
		return
	}
	tc, err := h.Store.CreateTestCase(c.Request.Context(), models.TestCaseRequest{
		Name:        req.Name,
		Description: req.Description,
		TargetURL:   status.TargetURL,
		Steps:       steps,
		TestSuiteID: req.TestSuiteID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SuccessResponse(gin.H{
		"recording": status,
		"testCase":  tc,
	}))
}

func (h *Handlers) DeleteRecording(c *gin.Context) {
	if err := h.Recorders.Close(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("Recording closed"))
}

// RecordingScript serves instrumentation that reports over the recording's
// websocket, for windows opened outside the tracked context.
func (h *Handlers) RecordingScript(c *gin.Context) {
	session, err := h.Recorders.Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	scheme := "ws"
	if c.Request.TLS != nil {
		scheme = "wss"
	}
	wsURL := scheme + "://" + c.Request.Host + "/ws/recordings/" + session.ID()
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/javascript", []byte(browser.WebSocketInstrumentationScript(wsURL, session.Source())))
}

// Screenshot and proxy

func parseTargetURL(c *gin.Context) (*url.URL, bool) {
	raw := c.Query("url")
	if raw == "" {
		respondError(c, errs.New(errs.InvalidArgument, "URL parameter is required"))
		return nil, false
	}
	if err := models.ValidateHTTPURL(raw); err != nil {
		respondError(c, errs.New(errs.InvalidArgument, "Invalid URL: "+err.Error()))
		return nil, false
	}
	parsed, _ := url.Parse(raw)
	return parsed, true
}

// Screenshot renders url in a throwaway headless session and returns a JPEG
// of the viewport.
func (h *Handlers) Screenshot(c *gin.Context) {
	target, ok := parseTargetURL(c)
	if !ok {
		return
	}
	if h.Driver == nil {
		respondError(c, errs.New(errs.Unavailable, "browser automation is not available"))
		return
	}
	if h.Limiter != nil && !h.Limiter.Allow() {
		respondError(c, errs.New(errs.TooManyRequests, "too many screenshot requests"))
		return
	}

	data, err := browser.Capture(c.Request.Context(), h.Driver, target.String(), browser.ScreenshotOptions{
		JPEG:    true,
		Quality: h.ScreenshotQuality,
	})
	if err != nil {
		respondError(c, errs.Wrap(errs.Internal, "Error capturing screenshot", err))
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (h *Handlers) ProxyPage(c *gin.Context) {
	target, ok := parseTargetURL(c)
	if !ok {
		return
	}
	if h.Proxy == nil {
		respondError(c, errs.New(errs.Unavailable, "proxy is disabled"))
		return
	}

	page, err := h.Proxy.Fetch(c.Request.Context(), target)
	if err != nil {
		status := http.StatusInternalServerError
		var upstream *UpstreamError
		if errors.As(err, &upstream) {
			status = upstream.Status
		}
		log.Printf("⚠️ Proxy fetch of %s failed: %v", target, err)
		resp := models.ErrorResponse("Error fetching website content")
		resp.Message = err.Error()
		c.JSON(status, resp)
		return
	}

	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Content-Security-Policy", "default-src 'self' 'unsafe-inline' 'unsafe-eval' *;")
	c.Data(http.StatusOK, page.ContentType, page.Body)
}
