package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Notification is the envelope consumed from and published to the broker.
// On the wire it is a single flat JSON object whose "notificationType"
// field selects the payload variant.
type Notification struct {
	ID          string
	Channel     Channel
	Recipient   string
	Priority    Priority
	RetryCount  int
	MaxRetries  int
	ScheduledAt *time.Time
	Metadata    map[string]any
	Payload     Payload
}

type envelope struct {
	ID          string         `json:"id"`
	Channel     Channel        `json:"notificationType"`
	Recipient   string         `json:"recipient,omitempty"`
	Priority    *Priority      `json:"priority,omitempty"`
	RetryCount  int            `json:"retryCount"`
	MaxRetries  *int           `json:"maxRetries,omitempty"`
	ScheduledAt *time.Time     `json:"scheduledAt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Validate applies the payload's channel rules.
func (n *Notification) Validate() error {
	if n.Payload == nil {
		return fmt.Errorf("%w: %s: payload is missing", ErrInvalid, n.Channel)
	}
	if n.Payload.Channel() != n.Channel {
		return fmt.Errorf("%w: payload is %s but notificationType is %q", ErrInvalid, n.Payload.Channel(), n.Channel)
	}
	return n.Payload.Validate(n.Recipient)
}

// Content returns the payload's primary body, or "" without a payload.
func (n *Notification) Content() string {
	if n.Payload == nil {
		return ""
	}
	return n.Payload.Content()
}

func (n *Notification) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if n.Payload != nil {
		raw, err := json.Marshal(n.Payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
	}
	pr, max := n.Priority, n.MaxRetries
	env := envelope{
		ID:          n.ID,
		Channel:     n.Channel,
		Recipient:   n.Recipient,
		Priority:    &pr,
		RetryCount:  n.RetryCount,
		MaxRetries:  &max,
		ScheduledAt: n.ScheduledAt,
		Metadata:    n.Metadata,
	}
	if pr == 0 {
		env.Priority = nil
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	head := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	for k, v := range head {
		out[k] = v
	}
	return json.Marshal(out)
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	ch, err := ParseChannel(string(env.Channel))
	if err != nil {
		return err
	}
	p, err := newPayload(ch)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, p); err != nil {
		return fmt.Errorf("event: decode %s payload: %w", ch, err)
	}
	*n = Notification{
		ID:          env.ID,
		Channel:     ch,
		Recipient:   env.Recipient,
		Priority:    PriorityNormal,
		RetryCount:  env.RetryCount,
		MaxRetries:  DefaultMaxRetries,
		ScheduledAt: env.ScheduledAt,
		Metadata:    env.Metadata,
		Payload:     p,
	}
	if env.Priority != nil {
		n.Priority = *env.Priority
	}
	if env.MaxRetries != nil {
		n.MaxRetries = *env.MaxRetries
	}
	return nil
}

// Decode parses a broker record value.
func Decode(data []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("event: decode: %w", err)
	}
	return &n, nil
}

// Encode renders n as a broker record value.
func Encode(n *Notification) ([]byte, error) {
	return json.Marshal(n)
}
