package notifier

import (
	"context"
	"log/slog"

	"kafnotif/internal/event"
	"kafnotif/internal/logging"
)

// Log writes each notification to the logger instead of delivering it.
type Log struct {
	L *slog.Logger
}

func (h Log) Send(_ context.Context, n *event.Notification) error {
	l := h.L
	if l == nil {
		l = logging.For("notifier")
	}
	l.Info("notification delivered to log",
		"id", n.ID,
		"channel", n.Channel,
		"recipient", n.Recipient,
		"priority", n.Priority.String(),
		"content", n.Content(),
	)
	return nil
}
