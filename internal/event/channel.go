package event

import (
	"errors"
	"fmt"
	"strings"
)

// Channel names a delivery medium. The set is closed.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelSlack   Channel = "slack"
	ChannelDiscord Channel = "discord"
	ChannelWebhook Channel = "webhook"
)

var ErrUnknownChannel = errors.New("event: unknown channel")

var channels = []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelSlack, ChannelDiscord, ChannelWebhook}

// Channels returns every known channel in declaration order.
func Channels() []Channel {
	out := make([]Channel, len(channels))
	copy(out, channels)
	return out
}

// ParseChannel is case-insensitive.
func ParseChannel(s string) (Channel, error) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range channels {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownChannel, s)
}

func (c Channel) String() string { return string(c) }

// Topic returns the broker topic carrying this channel: "<prefix>.<channel>".
func (c Channel) Topic(prefix string) string {
	if prefix == "" {
		return string(c)
	}
	return prefix + "." + string(c)
}

// DeadLetterTopic appends suffix to a source topic.
func DeadLetterTopic(topic, suffix string) string {
	return topic + suffix
}

// ChannelFromTopic reverses Topic for the given prefix.
func ChannelFromTopic(prefix, topic string) (Channel, error) {
	name := topic
	if prefix != "" {
		if !strings.HasPrefix(topic, prefix+".") {
			return "", fmt.Errorf("%w: topic %q outside prefix %q", ErrUnknownChannel, topic, prefix)
		}
		name = strings.TrimPrefix(topic, prefix+".")
	}
	return ParseChannel(name)
}
