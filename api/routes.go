package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, h *Handlers, hub *RecordingHub, corsOrigin string) {
	router.Use(CORSMiddleware(corsOrigin))

	router.GET("/health", Health)

	api := router.Group("/api")
	{
		suites := api.Group("/testsuites")
		{
			suites.GET("", h.ListTestSuites)
			suites.POST("", h.CreateTestSuite)
			suites.GET("/:id", h.GetTestSuite)
			suites.DELETE("/:id", h.DeleteTestSuite)
		}

		cases := api.Group("/testcases")
		{
			cases.GET("", h.ListTestCases)
			cases.POST("", h.CreateTestCase)
			cases.GET("/:id", h.GetTestCase)
			cases.DELETE("/:id", h.DeleteTestCase)
		}

		// Stop is only reachable by execution id.
		executions := api.Group("/executions")
		{
			executions.GET("", h.ListExecutions)
			executions.POST("", h.StartExecution)
			executions.GET("/:id", h.GetExecution)
			executions.POST("/:id/stop", h.StopExecution)
			executions.DELETE("/:id", h.DeleteExecution)
		}

		recordings := api.Group("/recordings")
		{
			recordings.POST("", h.StartRecording)
			recordings.GET("/:id", h.GetRecording)
			recordings.GET("/:id/instrument.js", h.RecordingScript)
			recordings.POST("/:id/screenshot", h.TakeRecordingScreenshot)
			recordings.POST("/:id/stop", h.StopRecording)
			recordings.DELETE("/:id", h.DeleteRecording)
		}

		api.GET("/screenshot", h.Screenshot)
		api.GET("/proxy", h.ProxyPage)
	}

	router.GET("/ws/recordings/:id", func(c *gin.Context) {
		HandleRecordingWebSocket(hub, h.Recorders, c)
	})
}

func CORSMiddleware(origin string) gin.HandlerFunc {
	if origin == "" {
		origin = "*"
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
