package config

import (
	"log/slog"

	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/secmon-lab/cyberscope/pkg/service/notify"
	"github.com/urfave/cli/v3"
)

// Slack holds alert notification configuration
type Slack struct {
	WebhookURL string
}

// Flags returns CLI flags for Slack configuration
func (s *Slack) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "slack-webhook-url",
			Usage:       "Slack incoming webhook URL for alert escalation",
			Category:    "Slack",
			Sources:     cli.EnvVars("CYBERSCOPE_SLACK_WEBHOOK_URL"),
			Destination: &s.WebhookURL,
		},
	}
}

// ConfigureOptional creates a notifier if configured, returns nil if
// not (alerts are then log-only)
func (s *Slack) ConfigureOptional() interfaces.Notifier {
	if s.WebhookURL == "" {
		return nil
	}
	return notify.NewSlackNotifier(s.WebhookURL)
}

// LogValue returns structured log value
func (s Slack) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool("hasWebhook", s.WebhookURL != ""),
	)
}
