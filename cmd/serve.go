package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"testtheweb/api"
	"testtheweb/artifacts"
	"testtheweb/browser"
	"testtheweb/config"
	"testtheweb/service"
	"testtheweb/store"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, recorder and execution engine",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func browserOptions(cfg *config.Config) browser.Options {
	return browser.Options{
		Headless:         cfg.Browser.Headless,
		RecorderHeadless: cfg.Recorder.Headless,
		TimeoutMS:        float64(cfg.Browser.TimeoutMS),
		ViewportWidth:    cfg.Browser.ViewportWidth,
		ViewportHeight:   cfg.Browser.ViewportHeight,
	}
}

// screenshotUploader returns nil when offload is not configured.
func screenshotUploader(ctx context.Context, cfg config.ArtifactsConfig) (service.ScreenshotUploader, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	s, err := artifacts.New(ctx, artifacts.Config{
		Endpoint:        cfg.Endpoint,
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Bucket:          cfg.Bucket,
		PublicURL:       cfg.PublicURL,
		PathStyle:       cfg.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("🪣 Screenshots offloaded to bucket %s", cfg.Bucket)
	return s, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	logFile, err := setupLogging(cfg.LogDir)
	if err != nil {
		log.Printf("Warning: Failed to setup file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting testtheweb backend...")

	db, err := config.InitDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.New(db)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uploader, err := screenshotUploader(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}

	pw, err := browser.StartPlaywright(browserOptions(cfg))
	if err != nil {
		return err
	}
	defer func() {
		if err := pw.Stop(); err != nil {
			log.Printf("⚠️ Error stopping playwright: %v", err)
		}
	}()

	hub := api.NewRecordingHub()
	go hub.Run()

	recorders := service.NewRecorderManager(pw, hub)
	executor := service.NewExecutor(st, pw, uploader)

	handlers := &api.Handlers{
		Store:             st,
		Executor:          executor,
		Recorders:         recorders,
		Driver:            pw,
		Limiter:           rate.NewLimiter(rate.Limit(cfg.Screenshot.RPS), cfg.Screenshot.Burst),
		Proxy:             api.NewProxy(cfg.Proxy.Timeout, cfg.Proxy.MaxRedirects, cfg.Proxy.UserAgent),
		ScreenshotQuality: cfg.Screenshot.Quality,
	}

	router := gin.Default()
	api.SetupRoutes(router, handlers, hub, cfg.Server.CORSOrigin)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", cfg.Server.Addr)
		log.Printf("Recorder sockets on ws://<host>%s/ws/recordings/:id", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		log.Println("🛑 Shutdown requested")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	if err := executor.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ %v", err)
	}
	recorders.CloseAll()

	log.Println("👋 Server stopped")
	return nil
}
