package report

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/use-agent/wardreport/config"
	"github.com/use-agent/wardreport/models"
)

// Email sends the finished report to the configured recipients: a
// human-readable summary as the body with the JSON artifact appended.
func Email(cfg config.SMTPConfig, r *models.Report, artifact []byte) error {
	if cfg.Server == "" {
		return fmt.Errorf("email: no SMTP server configured")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return fmt.Errorf("email: sender and recipients are required")
	}
	for _, to := range cfg.To {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("email: %q is not a valid address", to)
		}
	}

	subject := fmt.Sprintf("wardreport: %s (%s)", r.Name, r.Status)
	if r.Name == "" {
		subject = fmt.Sprintf("wardreport: run %s (%s)", r.RunID, r.Status)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(FormatSummary(r))
	msg.WriteString("\n")
	msg.Write(artifact)
	msg.WriteString("\n")

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Server)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	if err := smtp.SendMail(addr, auth, cfg.From, cfg.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("email: sending via %s: %w", addr, err)
	}
	return nil
}
