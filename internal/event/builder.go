package event

import (
	"time"

	"github.com/google/uuid"
)

const DefaultMaxRetries = 3

// New wraps p in an envelope with a fresh id, NORMAL priority and the
// current time as its schedule.
func New(recipient string, p Payload) *Notification {
	now := time.Now().UTC()
	return &Notification{
		ID:          uuid.NewString(),
		Channel:     p.Channel(),
		Recipient:   recipient,
		Priority:    PriorityNormal,
		MaxRetries:  DefaultMaxRetries,
		ScheduledAt: &now,
		Payload:     p,
	}
}

func NewEmail(to, subject, body string) *Notification {
	return New(to, &Email{Subject: subject, Body: body})
}

func NewSMS(phone, message string) *Notification {
	return New(phone, &SMS{Message: message})
}

func NewPush(deviceToken, title, body string) *Notification {
	return New(deviceToken, &Push{DeviceToken: deviceToken, Title: title, Body: body})
}

func NewSlack(channel, text string) *Notification {
	return New(channel, &Slack{ChannelName: channel, Text: text})
}

func NewDiscord(webhookURL, content string) *Notification {
	return New("", &Discord{WebhookURL: webhookURL, Text: content})
}

func NewWebhook(url string, payload map[string]any) *Notification {
	return New(url, &Webhook{URL: url, Method: "POST", ContentType: "application/json", TimeoutSecs: 30, Payload: payload})
}

// WithPriority sets the priority and returns n.
func (n *Notification) WithPriority(p Priority) *Notification {
	n.Priority = p
	return n
}

// WithMetadata sets one metadata key and returns n.
func (n *Notification) WithMetadata(key string, v any) *Notification {
	if n.Metadata == nil {
		n.Metadata = map[string]any{}
	}
	n.Metadata[key] = v
	return n
}
