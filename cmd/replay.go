package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"testtheweb/browser"
	"testtheweb/config"
	"testtheweb/models"
	"testtheweb/service"
	"testtheweb/store"

	"github.com/spf13/cobra"
)

var replayTestCaseID string

var replayCmd = &cobra.Command{
	Use:   "replay [testcase.json]",
	Short: "Replay a test case once and print its step results",
	Long: `Replay a test case in a fresh headless browser and wait for it to finish.

The test case is either read from a JSON file (name, targetUrl, steps) and
saved first, or referenced by id with --test-case. The command exits non-zero
when the execution does not complete or any step fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayTestCaseID, "test-case", "", "id of a stored test case to replay")
	rootCmd.AddCommand(replayCmd)
}

func loadTestCaseFile(path string) (models.TestCaseRequest, error) {
	var req models.TestCaseRequest
	f, err := os.Open(path)
	if err != nil {
		return req, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return req, err
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, fmt.Errorf("parse %s: %w", path, err)
	}
	return req, nil
}

func runReplay(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (replayTestCaseID == "") {
		return errors.New("provide exactly one of a test case file or --test-case")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	db, err := config.InitDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	st := store.New(db)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	testCaseID := replayTestCaseID
	if len(args) == 1 {
		req, err := loadTestCaseFile(args[0])
		if err != nil {
			return err
		}
		tc, err := st.CreateTestCase(ctx, req)
		if err != nil {
			return err
		}
		testCaseID = tc.ID
		log.Printf("💾 Saved test case %s (%d steps)", tc.ID, len(tc.Steps))
	}

	uploader, err := screenshotUploader(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}
	pw, err := browser.StartPlaywright(browserOptions(cfg))
	if err != nil {
		return err
	}
	defer pw.Stop()

	executor := service.NewExecutor(st, pw, uploader)
	defer executor.Shutdown(context.Background())

	exec, err := executor.Start(ctx, testCaseID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printed := 0
	final, err := service.PollUntilTerminal(ctx, executor.Get, exec.ID, service.PollInterval, func(e *models.Execution) {
		for ; printed < len(e.Results); printed++ {
			printResult(out, printed, e.Results[printed])
		}
	})
	if errors.Is(err, context.Canceled) {
		// Interrupted from the terminal: stop the run rather than leave it dangling.
		stopped, stopErr := executor.Stop(context.Background(), exec.ID)
		if stopErr != nil {
			return err
		}
		final = stopped
	} else if err != nil {
		return err
	}

	return summarize(out, final)
}

func printResult(w io.Writer, index int, r models.StepResult) {
	mark := "✅"
	if !r.Success {
		mark = "❌"
	}
	fmt.Fprintf(w, "%s step %d: %s\n", mark, index+1, r.Message)
	if r.ScreenshotURL != "" {
		fmt.Fprintf(w, "   screenshot: %s\n", r.ScreenshotURL)
	}
}

// summarize prints the outcome and returns an error for anything short of a
// fully successful run.
func summarize(w io.Writer, exec *models.Execution) error {
	failed := 0
	for _, r := range exec.Results {
		if !r.Success {
			failed++
		}
	}
	fmt.Fprintf(w, "Execution %s %s: %d/%d steps passed\n", exec.ID, exec.Status, len(exec.Results)-failed, len(exec.Results))

	switch {
	case exec.Status != models.StatusCompleted:
		if exec.Error != "" {
			return fmt.Errorf("execution %s: %s", exec.Status, exec.Error)
		}
		return fmt.Errorf("execution %s", exec.Status)
	case failed > 0:
		return fmt.Errorf("%d step(s) failed", failed)
	}
	return nil
}
