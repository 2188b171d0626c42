// Package config loads the kafnotif configuration: an optional YAML file
// overlaid with KAFNOTIF__SECTION__KEY environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"kafnotif/internal/ack"
	"kafnotif/internal/event"
	"kafnotif/internal/executor"
	"kafnotif/internal/logging"
	"kafnotif/source/kafka"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "KAFNOTIF__"
)

var ErrInvalid = errors.New("config: invalid")

type Consumer struct {
	Concurrency    int           `koanf:"concurrency" yaml:"concurrency"`
	MaxPoolSize    int           `koanf:"max_pool_size" yaml:"max_pool_size"`
	Threading      string        `koanf:"threading" yaml:"threading"`
	MaxInFlight    int           `koanf:"max_in_flight" yaml:"max_in_flight"`
	AckMode        string        `koanf:"ack_mode" yaml:"ack_mode"`
	PollTimeout    time.Duration `koanf:"poll_timeout" yaml:"poll_timeout"`
	MaxPollRecords int           `koanf:"max_poll_records" yaml:"max_poll_records"`
	ShutdownGrace  time.Duration `koanf:"shutdown_grace" yaml:"shutdown_grace"`
	TaskGrace      time.Duration `koanf:"task_grace" yaml:"task_grace"`
}

type Retry struct {
	Enabled    bool          `koanf:"enabled" yaml:"enabled"`
	MaxRetries int           `koanf:"max_retries" yaml:"max_retries"`
	Delay      time.Duration `koanf:"delay" yaml:"delay"`
}

type DLQ struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Suffix  string `koanf:"suffix" yaml:"suffix"`
}

type Topics struct {
	AutoCreate        bool          `koanf:"auto_create" yaml:"auto_create"`
	Partitions        int32         `koanf:"partitions" yaml:"partitions"`
	ReplicationFactor int16         `koanf:"replication_factor" yaml:"replication_factor"`
	Retention         time.Duration `koanf:"retention" yaml:"retention"`
}

type Log struct {
	Level string `koanf:"level" yaml:"level"`
	JSON  bool   `koanf:"json" yaml:"json"`
}

type Metrics struct {
	Port int `koanf:"port" yaml:"port"`
}

type GRPC struct {
	Port int `koanf:"port" yaml:"port"`
}

type HTTP struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

type Status struct {
	Backend  string        `koanf:"backend" yaml:"backend"`
	RedisURL string        `koanf:"redis_url" yaml:"redis_url"`
	TTL      time.Duration `koanf:"ttl" yaml:"ttl"`
}

type Postmark struct {
	ServerToken  string `koanf:"server_token" yaml:"-"`
	AccountToken string `koanf:"account_token" yaml:"-"`
	From         string `koanf:"from" yaml:"from"`
}

type Webhook struct {
	URL string `koanf:"webhook_url" yaml:"webhook_url"`
}

type HTTPNotifier struct {
	Timeout time.Duration `koanf:"timeout" yaml:"timeout"`
}

type Notifiers struct {
	Postmark Postmark     `koanf:"postmark" yaml:"postmark"`
	Slack    Webhook      `koanf:"slack" yaml:"slack"`
	Discord  Webhook      `koanf:"discord" yaml:"discord"`
	Webhook  HTTPNotifier `koanf:"webhook" yaml:"webhook"`
	// Log routes every channel to the log handler.
	Log bool `koanf:"log" yaml:"log"`
}

type Config struct {
	SchemaVersion string       `koanf:"schema_version" yaml:"schema_version"`
	Driver        string       `koanf:"driver" yaml:"driver"`
	TopicPrefix   string       `koanf:"topic_prefix" yaml:"topic_prefix"`
	Channels      []string     `koanf:"channels" yaml:"channels"`
	Kafka         kafka.Config `koanf:"kafka" yaml:"kafka"`
	Consumer      Consumer     `koanf:"consumer" yaml:"consumer"`
	Retry         Retry        `koanf:"retry" yaml:"retry"`
	DLQ           DLQ          `koanf:"dlq" yaml:"dlq"`
	Topics        Topics       `koanf:"topics" yaml:"topics"`
	Log           Log          `koanf:"log" yaml:"log"`
	Metrics       Metrics      `koanf:"metrics" yaml:"metrics"`
	GRPC          GRPC         `koanf:"grpc" yaml:"grpc"`
	HTTP          HTTP         `koanf:"http" yaml:"http"`
	Status        Status       `koanf:"status" yaml:"status"`
	Notifiers     Notifiers    `koanf:"notifiers" yaml:"notifiers"`
}

// Default returns the configuration used for every key left unset.
func Default() Config {
	c := Config{
		SchemaVersion: SupportedSchema,
		Driver:        "sarama",
		TopicPrefix:   "notifications",
		Consumer: Consumer{
			Concurrency:    3,
			MaxPoolSize:    10,
			Threading:      string(executor.ModeFixed),
			AckMode:        string(ack.ModeAuto),
			PollTimeout:    time.Second,
			MaxPollRecords: 500,
			ShutdownGrace:  time.Second,
			TaskGrace:      10 * time.Second,
		},
		Retry:   Retry{Enabled: true, MaxRetries: 3, Delay: 5 * time.Second},
		DLQ:     DLQ{Suffix: ".dlq"},
		Topics:  Topics{AutoCreate: true, Partitions: 3, ReplicationFactor: 1, Retention: 7 * 24 * time.Hour},
		Log:     Log{Level: "info"},
		Metrics: Metrics{Port: 9100},
		GRPC:    GRPC{Port: 7070},
		HTTP:    HTTP{Addr: ":8080"},
		Status:  Status{Backend: "memory", RedisURL: "redis://localhost:6379/0", TTL: 24 * time.Hour},
		Notifiers: Notifiers{
			Webhook: HTTPNotifier{Timeout: 30 * time.Second},
		},
	}
	c.Kafka.ApplyDefaults()
	return c
}

// Load merges the YAML at path (a missing file is not an error) with the
// environment, applies defaults and validates.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("%w: schema_version %q not supported (want %s)", ErrInvalid, sv, SupportedSchema)
	}

	if err := k.Load(env.Provider(EnvPrefix, "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return Config{}, fmt.Errorf("config: env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.SchemaVersion = SupportedSchema
	cfg.Kafka.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if _, err := cfg.ChannelSet(); err != nil {
		logging.For("config").Warn("unknown channels skipped", "err", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Kafka.Validate(); err != nil {
		errs = append(errs, err)
	}
	if chans, err := c.ChannelSet(); len(chans) == 0 {
		errs = append(errs, fmt.Errorf("channels: no known channel: %w", err))
	}
	if c.Consumer.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("consumer.concurrency must be >= 1, got %d", c.Consumer.Concurrency))
	}
	if c.Consumer.MaxPoolSize < 1 {
		errs = append(errs, fmt.Errorf("consumer.max_pool_size must be >= 1, got %d", c.Consumer.MaxPoolSize))
	}
	if _, err := executor.ParseMode(c.Consumer.Threading); err != nil {
		errs = append(errs, err)
	}
	if _, err := ack.ParseMode(c.Consumer.AckMode); err != nil {
		errs = append(errs, err)
	}
	if c.Consumer.PollTimeout <= 0 {
		errs = append(errs, errors.New("consumer.poll_timeout must be positive"))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries))
	}
	if c.Retry.Delay < 0 {
		errs = append(errs, errors.New("retry.delay must not be negative"))
	}
	if c.DLQ.Enabled && c.DLQ.Suffix == "" {
		errs = append(errs, errors.New("dlq.suffix is required when dlq.enabled"))
	}
	switch c.Status.Backend {
	case "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("status.backend %q must be memory, redis or none", c.Status.Backend))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// ChannelSet returns the configured channels, or every channel when none
// are listed. Unknown names are dropped and reported in the error.
func (c Config) ChannelSet() ([]event.Channel, error) {
	if len(c.Channels) == 0 {
		return event.Channels(), nil
	}
	out := make([]event.Channel, 0, len(c.Channels))
	var errs []error
	for _, s := range c.Channels {
		ch, err := event.ParseChannel(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, ch)
	}
	return out, errors.Join(errs...)
}

// SubscribeTopics maps the channel set onto topic names.
func (c Config) SubscribeTopics() []string {
	chans, _ := c.ChannelSet()
	out := make([]string, len(chans))
	for i, ch := range chans {
		out[i] = ch.Topic(c.TopicPrefix)
	}
	return out
}
