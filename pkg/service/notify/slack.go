package notify

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/cyberscope/pkg/domain/interfaces"
	"github.com/slack-go/slack"
)

// SlackNotifier posts alert conditions (e.g. repeated ingestion cycle
// failures) to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
}

// NewSlackNotifier creates a new SlackNotifier
func NewSlackNotifier(webhookURL string) interfaces.Notifier {
	return &SlackNotifier{webhookURL: webhookURL}
}

// NotifyAlert posts an alert message to the configured webhook
func (n *SlackNotifier) NotifyAlert(ctx context.Context, title, detail string) error {
	msg := &slack.WebhookMessage{
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewHeaderBlock(
					slack.NewTextBlockObject(slack.PlainTextType, fmt.Sprintf(":rotating_light: %s", title), true, false),
				),
				slack.NewSectionBlock(
					slack.NewTextBlockObject(slack.MarkdownType, detail, false, false),
					nil, nil,
				),
			},
		},
	}

	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		return goerr.Wrap(err, "failed to post alert to slack webhook")
	}

	return nil
}
