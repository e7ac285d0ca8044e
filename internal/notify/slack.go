package notify

import (
	"context"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/slack-go/slack"
)

// defaultSlackTimeout bounds a single webhook POST
const defaultSlackTimeout = 10 * time.Second

// SlackNotifier posts notifications to a Slack incoming webhook
type SlackNotifier struct {
	webhookURL string
	channel    string
	logger     *log.Logger
	timeout    time.Duration
	httpClient *http.Client
}

// SlackOption configures a SlackNotifier
type SlackOption func(*SlackNotifier)

// WithSlackTimeout overrides how long a single webhook POST may take
func WithSlackTimeout(d time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSlackNotifier creates a SlackNotifier; channel may be empty to use the webhook default
func NewSlackNotifier(webhookURL, channel string, logger *log.Logger, opts ...SlackOption) *SlackNotifier {
	if logger == nil {
		logger = log.Default()
	}
	s := &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		logger:     logger,
		timeout:    defaultSlackTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpClient = &http.Client{Timeout: s.timeout}
	return s
}

// Notify posts n and gives up after the notifier timeout. The caller's
// cancellation does not cut the POST short, only the timeout does.
func (s *SlackNotifier) Notify(ctx context.Context, n Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := slack.PostWebhookCustomHTTPContext(ctx, s.webhookURL, s.httpClient, s.message(n)); err != nil {
		s.logger.Printf("notify: slack webhook failed: %v", err)
	}
}

func (s *SlackNotifier) message(n Notification) *slack.WebhookMessage {
	color := "good"
	if n.Level == LevelError {
		color = "danger"
	}

	keys := make([]string, 0, len(n.Fields))
	for k := range n.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]slack.AttachmentField, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, slack.AttachmentField{
			Title: k,
			Value: n.Fields[k],
			Short: true,
		})
	}

	return &slack.WebhookMessage{
		Channel: s.channel,
		Text:    n.Title,
		Attachments: []slack.Attachment{{
			Color:  color,
			Text:   n.Message,
			Fields: fields,
		}},
	}
}
