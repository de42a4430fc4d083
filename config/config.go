package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Browser  BrowserConfig
	Session  SessionConfig
	Pipeline PipelineConfig
	Fetch    FetchConfig
	Report   ReportConfig
	SMTP     SMTPConfig
	Log      LogConfig
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// Proxy is the proxy URL for all browser traffic.
	Proxy string

	// Stealth injects anti-bot-detection evasions into every page.
	Stealth bool // default: true

	// BlockedResourceTypes lists resource types to block during
	// navigation. default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string
}

// SessionConfig controls browser session lifecycle.
type SessionConfig struct {
	// StartupTimeout bounds browser launch plus first page creation.
	StartupTimeout time.Duration // default: 30s

	// MaxSessions is the number of concurrently allowed sessions.
	// Acquisition beyond the bound blocks until a slot frees.
	MaxSessions int // default: 2

	// HealthTimeout bounds a single health-check probe.
	HealthTimeout time.Duration // default: 5s
}

// PipelineConfig controls step execution and failure policy.
type PipelineConfig struct {
	// DefaultStepWait is the predicate polling deadline for steps
	// without an explicit max_wait.
	DefaultStepWait time.Duration // default: 20s

	// DefaultStepRetries is the action retry budget for steps without
	// an explicit budget.
	DefaultStepRetries int // default: 2

	// PollInterval is the initial predicate polling interval.
	PollInterval time.Duration // default: 250ms

	// BackoffFactor multiplies the polling interval after each miss.
	BackoffFactor float64 // default: 1.5

	// MaxSessionRestarts bounds restart-and-resume after session
	// crashes, per run.
	MaxSessionRestarts int // default: 1

	// MaxRunRetries bounds whole-run restarts after session start
	// failures.
	MaxRunRetries int // default: 1
}

// FetchConfig controls the cookie-bearing HTTP fetch client.
type FetchConfig struct {
	// Timeout bounds a single fetch request.
	Timeout time.Duration // default: 15s

	// RequestsPerSecond is the sustained per-host request rate.
	RequestsPerSecond float64 // default: 2

	// Burst is the per-host burst size.
	Burst int // default: 4
}

// ReportConfig controls report serialization and delivery.
type ReportConfig struct {
	// Output is the artifact destination path. "-" writes to stdout.
	Output string // default: "-"

	// Pretty indents the JSON artifact.
	Pretty bool // default: true

	// WebhookURL, when set, receives the finalized report as a signed POST.
	WebhookURL string

	// WebhookSecret signs webhook payloads with HMAC-SHA256.
	WebhookSecret string
}

// SMTPConfig controls email delivery of the finished report.
type SMTPConfig struct {
	Server   string
	Port     int // default: 25
	Username string
	Password string
	From     string
	To       []string
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "text"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:   envBoolOr("WARDREPORT_HEADLESS", true),
			NoSandbox:  envBoolOr("WARDREPORT_NO_SANDBOX", false),
			BrowserBin: os.Getenv("WARDREPORT_BROWSER_BIN"),
			Proxy:      os.Getenv("WARDREPORT_PROXY"),
			Stealth:    envBoolOr("WARDREPORT_STEALTH", true),
			BlockedResourceTypes: envSliceOr("WARDREPORT_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Session: SessionConfig{
			StartupTimeout: envDurationOr("WARDREPORT_STARTUP_TIMEOUT", 30*time.Second),
			MaxSessions:    envIntOr("WARDREPORT_MAX_SESSIONS", 2),
			HealthTimeout:  envDurationOr("WARDREPORT_HEALTH_TIMEOUT", 5*time.Second),
		},
		Pipeline: PipelineConfig{
			DefaultStepWait:    envDurationOr("WARDREPORT_STEP_WAIT", 20*time.Second),
			DefaultStepRetries: envIntOr("WARDREPORT_STEP_RETRIES", 2),
			PollInterval:       envDurationOr("WARDREPORT_POLL_INTERVAL", 250*time.Millisecond),
			BackoffFactor:      envFloatOr("WARDREPORT_BACKOFF_FACTOR", 1.5),
			MaxSessionRestarts: envIntOr("WARDREPORT_MAX_SESSION_RESTARTS", 1),
			MaxRunRetries:      envIntOr("WARDREPORT_MAX_RUN_RETRIES", 1),
		},
		Fetch: FetchConfig{
			Timeout:           envDurationOr("WARDREPORT_FETCH_TIMEOUT", 15*time.Second),
			RequestsPerSecond: envFloatOr("WARDREPORT_FETCH_RPS", 2.0),
			Burst:             envIntOr("WARDREPORT_FETCH_BURST", 4),
		},
		Report: ReportConfig{
			Output:        envOr("WARDREPORT_OUTPUT", "-"),
			Pretty:        envBoolOr("WARDREPORT_PRETTY", true),
			WebhookURL:    os.Getenv("WARDREPORT_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("WARDREPORT_WEBHOOK_SECRET"),
		},
		SMTP: SMTPConfig{
			Server:   os.Getenv("SMTP_SERVER"),
			Port:     envIntOr("SMTP_SERVER_PORT", 25),
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("EMAIL_FROM"),
			To:       envSliceOr("EMAIL_TOS", nil),
		},
		Log: LogConfig{
			Level:  envOr("WARDREPORT_LOG_LEVEL", "info"),
			Format: envOr("WARDREPORT_LOG_FORMAT", "text"),
		},
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
