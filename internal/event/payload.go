package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var ErrInvalid = errors.New("event: invalid notification")

const (
	MaxSMSLength     = 1600
	MaxDiscordLength = 2000
)

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)
)

// Payload is the channel-specific part of a Notification.
type Payload interface {
	Channel() Channel
	// Validate checks the payload together with the envelope recipient.
	Validate(recipient string) error
	// Content is the primary human-readable body.
	Content() string
}

func invalid(ch Channel, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalid, ch, fmt.Sprintf(format, args...))
}

func blank(s string) bool { return strings.TrimSpace(s) == "" }

type Email struct {
	Subject     string   `json:"subject"`
	Body        string   `json:"body,omitempty"`
	HTMLBody    string   `json:"htmlBody,omitempty"`
	CC          []string `json:"cc,omitempty"`
	BCC         []string `json:"bcc,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
	FromEmail   string   `json:"fromEmail,omitempty"`
	FromName    string   `json:"fromName,omitempty"`
}

func (*Email) Channel() Channel { return ChannelEmail }

func (e *Email) Validate(recipient string) error {
	switch {
	case blank(recipient):
		return invalid(ChannelEmail, "recipient is required")
	case !emailPattern.MatchString(recipient):
		return invalid(ChannelEmail, "recipient %q is not an email address", recipient)
	case blank(e.Subject):
		return invalid(ChannelEmail, "subject is required")
	case e.Body == "" && e.HTMLBody == "":
		return invalid(ChannelEmail, "body or htmlBody is required")
	}
	return nil
}

func (e *Email) Content() string {
	if e.HTMLBody != "" {
		return e.HTMLBody
	}
	return e.Body
}

type SMS struct {
	Message     string `json:"message"`
	CountryCode string `json:"countryCode,omitempty"`
	Provider    string `json:"provider,omitempty"`
}

func (*SMS) Channel() Channel { return ChannelSMS }

func (s *SMS) Validate(recipient string) error {
	switch {
	case !phonePattern.MatchString(recipient):
		return invalid(ChannelSMS, "recipient %q is not an E.164 number", recipient)
	case blank(s.Message):
		return invalid(ChannelSMS, "message is required")
	case utf8.RuneCountInString(s.Message) > MaxSMSLength:
		return invalid(ChannelSMS, "message exceeds %d characters", MaxSMSLength)
	}
	return nil
}

func (s *SMS) Content() string { return s.Message }

type Platform string

const (
	PlatformIOS     Platform = "IOS"
	PlatformAndroid Platform = "ANDROID"
	PlatformWeb     Platform = "WEB"
)

type Push struct {
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Icon        string            `json:"icon,omitempty"`
	Badge       *int              `json:"badge,omitempty"`
	Sound       string            `json:"sound,omitempty"`
	ClickAction string            `json:"clickAction,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
	DeviceToken string            `json:"deviceToken"`
	Platform    Platform          `json:"platform,omitempty"`
	CollapseKey string            `json:"collapseKey,omitempty"`
	TTL         *int              `json:"ttl,omitempty"`
}

func (*Push) Channel() Channel { return ChannelPush }

func (p *Push) Validate(string) error {
	switch {
	case blank(p.DeviceToken):
		return invalid(ChannelPush, "deviceToken is required")
	case blank(p.Title):
		return invalid(ChannelPush, "title is required")
	case blank(p.Body):
		return invalid(ChannelPush, "body is required")
	}
	return nil
}

func (p *Push) Content() string { return p.Body }

type Slack struct {
	Text        string           `json:"text"`
	ChannelName string           `json:"channel,omitempty"`
	Username    string           `json:"username,omitempty"`
	IconEmoji   string           `json:"iconEmoji,omitempty"`
	IconURL     string           `json:"iconUrl,omitempty"`
	Attachments []map[string]any `json:"attachments,omitempty"`
	Blocks      []map[string]any `json:"blocks,omitempty"`
	WebhookURL  string           `json:"webhookUrl,omitempty"`
	ThreadTS    string           `json:"threadTs,omitempty"`
}

func (*Slack) Channel() Channel { return ChannelSlack }

func (s *Slack) Validate(string) error {
	switch {
	case blank(s.Text):
		return invalid(ChannelSlack, "text is required")
	case blank(s.ChannelName) && blank(s.WebhookURL):
		return invalid(ChannelSlack, "channel or webhookUrl is required")
	}
	return nil
}

func (s *Slack) Content() string { return s.Text }

type Discord struct {
	Text       string           `json:"content"`
	Username   string           `json:"username,omitempty"`
	AvatarURL  string           `json:"avatarUrl,omitempty"`
	TTS        bool             `json:"tts,omitempty"`
	Embeds     []map[string]any `json:"embeds,omitempty"`
	WebhookURL string           `json:"webhookUrl"`
	ChannelID  string           `json:"channelId,omitempty"`
}

func (*Discord) Channel() Channel { return ChannelDiscord }

func (d *Discord) Validate(string) error {
	switch {
	case blank(d.Text):
		return invalid(ChannelDiscord, "content is required")
	case utf8.RuneCountInString(d.Text) > MaxDiscordLength:
		return invalid(ChannelDiscord, "content exceeds %d characters", MaxDiscordLength)
	case blank(d.WebhookURL):
		return invalid(ChannelDiscord, "webhookUrl is required")
	}
	return nil
}

func (d *Discord) Content() string { return d.Text }

type Webhook struct {
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers,omitempty"`
	Payload     map[string]any    `json:"payload"`
	ContentType string            `json:"contentType,omitempty"`
	TimeoutSecs int               `json:"timeout,omitempty"`
}

func (*Webhook) Channel() Channel { return ChannelWebhook }

func (w *Webhook) Validate(string) error {
	switch {
	case blank(w.URL):
		return invalid(ChannelWebhook, "url is required")
	case !validURL(w.URL):
		return invalid(ChannelWebhook, "url %q is not an absolute http(s) URL", w.URL)
	case blank(w.Method):
		return invalid(ChannelWebhook, "method is required")
	case len(w.Payload) == 0:
		return invalid(ChannelWebhook, "payload is required")
	}
	return nil
}

func (w *Webhook) Content() string {
	if len(w.Payload) == 0 {
		return ""
	}
	b, err := json.Marshal(w.Payload)
	if err != nil {
		return ""
	}
	return string(b)
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// newPayload returns an empty payload for ch with its defaults applied.
func newPayload(ch Channel) (Payload, error) {
	switch ch {
	case ChannelEmail:
		return &Email{}, nil
	case ChannelSMS:
		return &SMS{}, nil
	case ChannelPush:
		return &Push{}, nil
	case ChannelSlack:
		return &Slack{}, nil
	case ChannelDiscord:
		return &Discord{}, nil
	case ChannelWebhook:
		return &Webhook{Method: "POST", ContentType: "application/json", TimeoutSecs: 30}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownChannel, ch)
}
