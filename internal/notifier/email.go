package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mrz1836/postmark"

	"kafnotif/internal/event"
)

var ErrEmailConfig = errors.New("notifier: invalid email configuration")

// EmailSender is the subset of *postmark.Client used here.
type EmailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

type EmailConfig struct {
	ServerToken  string
	AccountToken string
	From         string
	Tag          string
}

// Email delivers through Postmark's transactional API.
type Email struct {
	client EmailSender
	cfg    EmailConfig
}

func NewPostmarkEmail(cfg EmailConfig) (*Email, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrEmailConfig)
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("%w: from address is required", ErrEmailConfig)
	}
	return NewEmail(postmark.NewClient(cfg.ServerToken, cfg.AccountToken), cfg), nil
}

func NewEmail(client EmailSender, cfg EmailConfig) *Email {
	return &Email{client: client, cfg: cfg}
}

func (e *Email) Send(ctx context.Context, n *event.Notification) error {
	p, ok := n.Payload.(*event.Email)
	if !ok {
		return Permanent(fmt.Errorf("email: unexpected payload %T", n.Payload))
	}
	from := e.cfg.From
	if p.FromEmail != "" {
		from = p.FromEmail
		if p.FromName != "" {
			from = fmt.Sprintf("%s <%s>", p.FromName, p.FromEmail)
		}
	}
	msg := postmark.Email{
		From:       from,
		To:         n.Recipient,
		Cc:         strings.Join(p.CC, ","),
		Bcc:        strings.Join(p.BCC, ","),
		Subject:    p.Subject,
		Tag:        e.cfg.Tag,
		HTMLBody:   p.HTMLBody,
		TextBody:   p.Body,
		TrackOpens: true,
		Metadata:   map[string]string{"notification_id": n.ID},
	}
	if p.HTMLBody != "" {
		msg.TrackLinks = "HtmlOnly"
	}

	resp, err := e.client.SendEmail(ctx, msg)
	if err != nil {
		return fmt.Errorf("email: postmark: %w", err)
	}
	if resp.ErrorCode > 0 {
		return Permanent(fmt.Errorf("email: postmark error %d: %s", resp.ErrorCode, resp.Message))
	}
	return nil
}
