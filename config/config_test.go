package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if !cfg.Browser.Headless {
		t.Error("Headless should default to true")
	}
	if !cfg.Browser.Stealth {
		t.Error("Stealth should default to true")
	}
	if cfg.Session.MaxSessions != 2 {
		t.Errorf("MaxSessions = %d, want 2", cfg.Session.MaxSessions)
	}
	if cfg.Session.StartupTimeout != 30*time.Second {
		t.Errorf("StartupTimeout = %s, want 30s", cfg.Session.StartupTimeout)
	}
	if cfg.Pipeline.DefaultStepWait != 20*time.Second {
		t.Errorf("DefaultStepWait = %s, want 20s", cfg.Pipeline.DefaultStepWait)
	}
	if cfg.Pipeline.DefaultStepRetries != 2 {
		t.Errorf("DefaultStepRetries = %d, want 2", cfg.Pipeline.DefaultStepRetries)
	}
	if cfg.Pipeline.MaxSessionRestarts != 1 {
		t.Errorf("MaxSessionRestarts = %d, want 1", cfg.Pipeline.MaxSessionRestarts)
	}
	if cfg.Report.Output != "-" {
		t.Errorf("Output = %q, want -", cfg.Report.Output)
	}
	if len(cfg.Browser.BlockedResourceTypes) != 3 {
		t.Errorf("BlockedResourceTypes = %v", cfg.Browser.BlockedResourceTypes)
	}
	if cfg.SMTP.Port != 25 {
		t.Errorf("SMTP port = %d, want 25", cfg.SMTP.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WARDREPORT_HEADLESS", "false")
	t.Setenv("WARDREPORT_MAX_SESSIONS", "5")
	t.Setenv("WARDREPORT_STEP_WAIT", "45s")
	t.Setenv("WARDREPORT_BACKOFF_FACTOR", "2.0")
	t.Setenv("WARDREPORT_BLOCKED_RESOURCES", "Image, Media")
	t.Setenv("SMTP_SERVER", "smtp.example.org")
	t.Setenv("EMAIL_TOS", "don@example.org, nurse@example.org")

	cfg := Load()

	if cfg.Browser.Headless {
		t.Error("Headless override ignored")
	}
	if cfg.Session.MaxSessions != 5 {
		t.Errorf("MaxSessions = %d, want 5", cfg.Session.MaxSessions)
	}
	if cfg.Pipeline.DefaultStepWait != 45*time.Second {
		t.Errorf("DefaultStepWait = %s, want 45s", cfg.Pipeline.DefaultStepWait)
	}
	if cfg.Pipeline.BackoffFactor != 2.0 {
		t.Errorf("BackoffFactor = %v, want 2.0", cfg.Pipeline.BackoffFactor)
	}
	if got := cfg.Browser.BlockedResourceTypes; len(got) != 2 || got[0] != "Image" || got[1] != "Media" {
		t.Errorf("BlockedResourceTypes = %v, want [Image Media]", got)
	}
	if cfg.SMTP.Server != "smtp.example.org" {
		t.Errorf("SMTP server = %q", cfg.SMTP.Server)
	}
	if len(cfg.SMTP.To) != 2 || cfg.SMTP.To[1] != "nurse@example.org" {
		t.Errorf("SMTP recipients = %v", cfg.SMTP.To)
	}
}

func TestLoad_MalformedEnvFallsBack(t *testing.T) {
	t.Setenv("WARDREPORT_MAX_SESSIONS", "many")
	t.Setenv("WARDREPORT_STEP_WAIT", "soon")
	t.Setenv("WARDREPORT_HEADLESS", "yep")

	cfg := Load()

	if cfg.Session.MaxSessions != 2 {
		t.Errorf("MaxSessions = %d, want default 2", cfg.Session.MaxSessions)
	}
	if cfg.Pipeline.DefaultStepWait != 20*time.Second {
		t.Errorf("DefaultStepWait = %s, want default 20s", cfg.Pipeline.DefaultStepWait)
	}
	if !cfg.Browser.Headless {
		t.Error("malformed bool should fall back to default true")
	}
}
