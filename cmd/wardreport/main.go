package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/use-agent/wardreport/config"
	"github.com/use-agent/wardreport/extract"
	"github.com/use-agent/wardreport/fetch"
	"github.com/use-agent/wardreport/models"
	"github.com/use-agent/wardreport/pipeline"
	"github.com/use-agent/wardreport/report"
	"github.com/use-agent/wardreport/session"
)

var version = "dev" // set via ldflags at build time

var (
	outputFlag string
	emailsFlag string
	headedFlag bool
	quietFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "wardreport",
	Short: "Browser-automation report pipeline",
	Long: `Wardreport drives a headless browser through a declared step
sequence (sign-in, navigation, data endpoints), extracts typed records
along the way, and assembles them into a single JSON report that can be
written to a file, emailed, or posted to a webhook.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var runCmd = &cobra.Command{
	Use:   "run <runfile.yaml>",
	Short: "Execute a run file and emit its report",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var checkCmd = &cobra.Command{
	Use:   "check <runfile.yaml>",
	Short: "Validate a run file without launching a browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rf, err := config.LoadRunFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s: ok (%d steps)\n", args[0], len(rf.Steps))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Report destination path; \"-\" for stdout")
	runCmd.Flags().StringVar(&emailsFlag, "emails", "", "Comma-separated recipients; overrides EMAIL_TOS")
	runCmd.Flags().BoolVar(&headedFlag, "headed", false, "Run the browser with a visible window")
	runCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress the terminal summary")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}

func main() {
	// Missing .env is fine; the environment itself may carry the config.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	initLogger(cfg.Log)

	if headedFlag {
		cfg.Browser.Headless = false
	}
	if outputFlag != "" {
		cfg.Report.Output = outputFlag
	}
	if emailsFlag != "" {
		cfg.SMTP.To = splitEmails(emailsFlag)
	}

	rf, err := config.LoadRunFile(args[0])
	if err != nil {
		return err
	}

	slog.Info("wardreport starting",
		"version", version,
		"run", rf.Name,
		"steps", len(rf.Steps),
		"headless", cfg.Browser.Headless,
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := session.NewManager(cfg.Session, session.NewRodLauncher(cfg.Browser))
	fetcher := fetch.NewClient(cfg.Fetch, cfg.Browser.Proxy)
	pipe := pipeline.New(cfg.Pipeline, cfg.Report, manager, extract.New(), fetcher)

	result := pipe.Run(ctx, rf)
	if result.Artifact == nil {
		return result.Err
	}

	if err := report.Write(cfg.Report.Output, result.Artifact); err != nil {
		return err
	}
	if !quietFlag && cfg.Report.Output != "-" && cfg.Report.Output != "" {
		fmt.Print(report.FormatSummary(&result.Report))
	}

	deliver(ctx, cfg, &result)

	if result.Err != nil {
		return result.Err
	}
	slog.Info("wardreport finished", "run_id", result.Report.RunID,
		"records", len(result.Report.Records))
	return nil
}

// deliver pushes the finished report to the configured channels. Failed
// delivery is logged but never changes the run's exit status; the
// artifact already reached the primary destination.
func deliver(ctx context.Context, cfg *config.Config, result *pipeline.Result) {
	if cfg.SMTP.Server != "" && len(cfg.SMTP.To) > 0 {
		if err := report.Email(cfg.SMTP, &result.Report, result.Artifact); err != nil {
			slog.Error("email delivery failed", "error", err)
		} else {
			slog.Info("report emailed", "recipients", len(cfg.SMTP.To))
		}
	}

	if cfg.Report.WebhookURL != "" {
		event := &report.WebhookEvent{
			Type:      webhookEventType(result.Report.Status),
			RunID:     result.Report.RunID,
			Timestamp: time.Now().Unix(),
			Report:    result.Artifact,
		}
		if err := report.DeliverWebhook(ctx, cfg.Report.WebhookURL,
			cfg.Report.WebhookSecret, event); err != nil {
			slog.Error("webhook delivery failed", "error", err)
		}
	}
}

func webhookEventType(status models.RunStatus) string {
	switch status {
	case models.StatusDone:
		return "run.completed"
	case models.StatusCancelled:
		return "run.cancelled"
	default:
		return "run.failed"
	}
}

func splitEmails(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// initLogger configures slog based on the LogConfig. Logs go to stderr
// so a stdout report stays machine-readable.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
