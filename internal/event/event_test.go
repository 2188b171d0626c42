package event_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kafnotif/internal/event"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		n       *event.Notification
		wantErr bool
	}{
		{"email ok", event.NewEmail("a@b.com", "hi", "x"), false},
		{"email html only", event.New("a@b.com", &event.Email{Subject: "hi", HTMLBody: "<p>x</p>"}), false},
		{"email bad address", event.NewEmail("not-an-address", "hi", "x"), true},
		{"email no subject", event.NewEmail("a@b.com", " ", "x"), true},
		{"email no body", event.NewEmail("a@b.com", "hi", ""), true},
		{"sms ok", event.NewSMS("+14155550100", "code 1234"), false},
		{"sms bad phone", event.NewSMS("0123", "code"), true},
		{"sms too long", event.NewSMS("+14155550100", strings.Repeat("x", event.MaxSMSLength+1)), true},
		{"sms at limit", event.NewSMS("+14155550100", strings.Repeat("x", event.MaxSMSLength)), false},
		{"push ok", event.NewPush("tok", "t", "b"), false},
		{"push no token", event.NewPush("", "t", "b"), true},
		{"slack channel", event.NewSlack("#ops", "deploy done"), false},
		{"slack webhook only", event.New("", &event.Slack{Text: "x", WebhookURL: "https://hooks.slack.test/1"}), false},
		{"slack no target", event.New("", &event.Slack{Text: "x"}), true},
		{"slack no text", event.NewSlack("#ops", ""), true},
		{"discord ok", event.NewDiscord("https://discord.test/api/webhooks/1", "hello"), false},
		{"discord too long", event.NewDiscord("https://discord.test/api/webhooks/1", strings.Repeat("y", event.MaxDiscordLength+1)), true},
		{"discord no webhook", event.NewDiscord("", "hello"), true},
		{"webhook ok", event.NewWebhook("https://example.com/hook", map[string]any{"a": 1}), false},
		{"webhook relative url", event.NewWebhook("/hook", map[string]any{"a": 1}), true},
		{"webhook empty payload", event.NewWebhook("https://example.com/hook", nil), true},
		{"missing payload", &event.Notification{Channel: event.ChannelEmail}, true},
		{"mismatched payload", &event.Notification{Channel: event.ChannelSMS, Payload: &event.Email{}}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.n.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, event.ErrInvalid)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestContent(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "<b>x</b>", event.New("a@b.com", &event.Email{Body: "x", HTMLBody: "<b>x</b>"}).Content())
	assert.Equal(t, "x", event.NewEmail("a@b.com", "s", "x").Content())
	assert.Equal(t, `{"a":1}`, event.NewWebhook("https://e.com", map[string]any{"a": 1}).Content())
	assert.Equal(t, "", (&event.Notification{}).Content())
}

func TestDecodeFlatJSON(t *testing.T) {
	t.Parallel()

	raw := `{"id":"e1","notificationType":"EMAIL","recipient":"a@b.com","subject":"hi","body":"x","priority":"HIGH","metadata":{"tenant":"t1"}}`
	n, err := event.Decode([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "e1", n.ID)
	assert.Equal(t, event.ChannelEmail, n.Channel)
	assert.Equal(t, event.PriorityHigh, n.Priority)
	assert.Equal(t, event.DefaultMaxRetries, n.MaxRetries)
	assert.Equal(t, "t1", n.Metadata["tenant"])

	email, ok := n.Payload.(*event.Email)
	require.True(t, ok)
	assert.Equal(t, "hi", email.Subject)
	require.NoError(t, n.Validate())
}

func TestDecodeDefaults(t *testing.T) {
	t.Parallel()

	n, err := event.Decode([]byte(`{"id":"w1","notificationType":"webhook","url":"https://e.com","payload":{"k":"v"}}`))
	require.NoError(t, err)
	assert.Equal(t, event.PriorityNormal, n.Priority)

	wh := n.Payload.(*event.Webhook)
	assert.Equal(t, "POST", wh.Method)
	assert.Equal(t, 30, wh.TimeoutSecs)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	_, err := event.Decode([]byte(`{not json`))
	require.Error(t, err)

	_, err = event.Decode([]byte(`{"id":"x","notificationType":"fax"}`))
	require.ErrorIs(t, err, event.ErrUnknownChannel)

	_, err = event.Decode([]byte(`{"id":"x"}`))
	require.ErrorIs(t, err, event.ErrUnknownChannel)
}

func TestEncodeIsFlat(t *testing.T) {
	t.Parallel()

	n := event.NewSMS("+14155550100", "ping").WithPriority(event.PriorityUrgent)
	b, err := event.Encode(n)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "sms", m["notificationType"])
	assert.Equal(t, "ping", m["message"])
	assert.Equal(t, "URGENT", m["priority"])
	assert.Equal(t, n.ID, m["id"])

	back, err := event.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, n.Payload, back.Payload)
}

func TestPriority(t *testing.T) {
	t.Parallel()

	var p event.Priority
	require.NoError(t, json.Unmarshal([]byte(`5`), &p))
	assert.Equal(t, event.PriorityCritical, p)
	require.NoError(t, json.Unmarshal([]byte(`"low"`), &p))
	assert.Equal(t, event.PriorityLow, p)
	require.Error(t, json.Unmarshal([]byte(`9`), &p))
	assert.Equal(t, 3, event.PriorityHigh.Level())
}

func TestTopics(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "notifications.email", event.ChannelEmail.Topic("notifications"))
	assert.Equal(t, "notifications.email.dlq", event.DeadLetterTopic("notifications.email", ".dlq"))

	ch, err := event.ChannelFromTopic("notifications", "notifications.slack")
	require.NoError(t, err)
	assert.Equal(t, event.ChannelSlack, ch)

	_, err = event.ChannelFromTopic("notifications", "other.slack")
	require.ErrorIs(t, err, event.ErrUnknownChannel)

	assert.Len(t, event.Channels(), 6)
}
