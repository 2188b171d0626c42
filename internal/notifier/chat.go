package notifier

import (
	"context"
	"fmt"
	"net/http"

	"kafnotif/internal/event"
)

// Slack posts to an incoming-webhook URL. The payload's own webhookUrl
// overrides the configured default.
type Slack struct {
	Client     *http.Client
	WebhookURL string
}

func (s *Slack) Send(ctx context.Context, n *event.Notification) error {
	p, ok := n.Payload.(*event.Slack)
	if !ok {
		return Permanent(fmt.Errorf("slack: unexpected payload %T", n.Payload))
	}
	url := firstNonEmpty(p.WebhookURL, s.WebhookURL)
	if url == "" {
		return Permanent(fmt.Errorf("slack: no webhook url for %s", n.ID))
	}
	body := map[string]any{"text": p.Text}
	setIf(body, "channel", p.ChannelName)
	setIf(body, "username", p.Username)
	setIf(body, "icon_emoji", p.IconEmoji)
	setIf(body, "icon_url", p.IconURL)
	setIf(body, "thread_ts", p.ThreadTS)
	if len(p.Attachments) > 0 {
		body["attachments"] = p.Attachments
	}
	if len(p.Blocks) > 0 {
		body["blocks"] = p.Blocks
	}
	r, err := jsonRequest(url, body)
	if err != nil {
		return err
	}
	return do(ctx, client(s.Client), r)
}

// Discord posts to a channel webhook.
type Discord struct {
	Client     *http.Client
	WebhookURL string
}

func (d *Discord) Send(ctx context.Context, n *event.Notification) error {
	p, ok := n.Payload.(*event.Discord)
	if !ok {
		return Permanent(fmt.Errorf("discord: unexpected payload %T", n.Payload))
	}
	url := firstNonEmpty(p.WebhookURL, d.WebhookURL)
	if url == "" {
		return Permanent(fmt.Errorf("discord: no webhook url for %s", n.ID))
	}
	body := map[string]any{"content": p.Text}
	setIf(body, "username", p.Username)
	setIf(body, "avatar_url", p.AvatarURL)
	if p.TTS {
		body["tts"] = true
	}
	if len(p.Embeds) > 0 {
		body["embeds"] = p.Embeds
	}
	r, err := jsonRequest(url, body)
	if err != nil {
		return err
	}
	return do(ctx, client(d.Client), r)
}

func client(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

func setIf(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
