package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kafnotif/internal/event"
)

// Webhook delivers event.Webhook payloads to their own URL.
type Webhook struct {
	Client         *http.Client
	DefaultTimeout time.Duration
}

func NewWebhook(client *http.Client, defaultTimeout time.Duration) *Webhook {
	if client == nil {
		client = NewHTTPClient(0)
	}
	return &Webhook{Client: client, DefaultTimeout: defaultTimeout}
}

func (w *Webhook) Send(ctx context.Context, n *event.Notification) error {
	p, ok := n.Payload.(*event.Webhook)
	if !ok {
		return Permanent(fmt.Errorf("webhook: unexpected payload %T", n.Payload))
	}
	body, err := json.Marshal(p.Payload)
	if err != nil {
		return Permanent(fmt.Errorf("webhook: marshal payload: %w", err))
	}
	r := request{
		method:      strings.ToUpper(p.Method),
		url:         p.URL,
		body:        body,
		contentType: p.ContentType,
		headers:     p.Headers,
		timeout:     w.DefaultTimeout,
	}
	if r.method == "" {
		r.method = http.MethodPost
	}
	if r.contentType == "" {
		r.contentType = "application/json"
	}
	if p.TimeoutSecs > 0 {
		r.timeout = time.Duration(p.TimeoutSecs) * time.Second
	}
	return do(ctx, w.Client, r)
}
