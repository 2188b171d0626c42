// Package engine wires configuration into a running consumer: producer,
// handlers, status tracking, topics, pool and the HTTP, gRPC and metrics
// listeners.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kafnotif/internal/ack"
	"kafnotif/internal/api"
	"kafnotif/internal/config"
	"kafnotif/internal/event"
	"kafnotif/internal/executor"
	"kafnotif/internal/hooks"
	"kafnotif/internal/logging"
	"kafnotif/internal/notifier"
	"kafnotif/internal/pipeline"
	"kafnotif/internal/publisher"
	"kafnotif/internal/retry"
	"kafnotif/internal/status"
	"kafnotif/internal/telemetry"
	"kafnotif/internal/topics"
	"kafnotif/internal/transport"
	"kafnotif/sink"
	_ "kafnotif/sink/kafka"
	_ "kafnotif/sink/stdout"
	"kafnotif/source/kafka"
)

type Option func(*options)

type options struct {
	hooks    hooks.Hooks
	handlers map[event.Channel]notifier.Handler
}

// WithHooks adds caller hooks after the status-tracking hooks.
func WithHooks(h hooks.Hooks) Option { return func(o *options) { o.hooks = h } }

// WithHandler overrides the configured handler for ch.
func WithHandler(ch event.Channel, h notifier.Handler) Option {
	return func(o *options) {
		if o.handlers == nil {
			o.handlers = map[event.Channel]notifier.Handler{}
		}
		o.handlers[ch] = h
	}
}

// Configure applies the log settings to the process logger.
func Configure(cfg config.Config) {
	logging.Configure(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
}

// OpenPublisher opens the producer for cfg.Driver.
func OpenPublisher(cfg config.Config) (*publisher.Publisher, sink.Producer, error) {
	prod, err := sink.Open(cfg.Driver, cfg.Kafka)
	if err != nil {
		return nil, nil, fmt.Errorf("producer: %w", err)
	}
	return publisher.New(prod, cfg.TopicPrefix), prod, nil
}

// Handlers builds the delivery handler registry from the notifier settings.
func Handlers(cfg config.Notifiers) (map[event.Channel]notifier.Handler, error) {
	out := map[event.Channel]notifier.Handler{}
	if cfg.Log {
		for _, ch := range event.Channels() {
			out[ch] = notifier.Log{}
		}
		return out, nil
	}
	hc := notifier.NewHTTPClient(cfg.Webhook.Timeout)
	out[event.ChannelWebhook] = notifier.NewWebhook(hc, cfg.Webhook.Timeout)
	out[event.ChannelSlack] = &notifier.Slack{Client: hc, WebhookURL: cfg.Slack.URL}
	out[event.ChannelDiscord] = &notifier.Discord{Client: hc, WebhookURL: cfg.Discord.URL}
	if cfg.Postmark.ServerToken != "" {
		email, err := notifier.NewPostmarkEmail(notifier.EmailConfig{
			ServerToken:  cfg.Postmark.ServerToken,
			AccountToken: cfg.Postmark.AccountToken,
			From:         cfg.Postmark.From,
		})
		if err != nil {
			return nil, err
		}
		out[event.ChannelEmail] = email
	}
	return out, nil
}

func openStore(ctx context.Context, cfg config.Status) (status.Store, error) {
	switch cfg.Backend {
	case "redis":
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return status.DialRedis(dctx, cfg.RedisURL, cfg.TTL)
	case "none":
		return nil, nil
	default:
		return status.NewMemory(), nil
	}
}

func openAdmin(cfg config.Config) (topics.Admin, error) {
	if cfg.Driver == "memory" {
		return topics.NewMemoryAdmin(kafka.DefaultBroker()), nil
	}
	return topics.NewSaramaAdmin(cfg.Kafka)
}

// EnsureTopics creates the subscribed topics and their dead-letter topics.
func EnsureTopics(ctx context.Context, cfg config.Config, log *slog.Logger) ([]string, error) {
	admin, err := openAdmin(cfg)
	if err != nil {
		return nil, fmt.Errorf("topic admin: %w", err)
	}
	defer admin.Close()
	m := topics.NewManager(admin, topics.Options{
		Prefix:            cfg.TopicPrefix,
		Partitions:        cfg.Topics.Partitions,
		ReplicationFactor: cfg.Topics.ReplicationFactor,
		Retention:         cfg.Topics.Retention,
		DeadLetter:        cfg.DLQ.Enabled,
		DeadLetterSuffix:  cfg.DLQ.Suffix,
	})
	created, err := m.EnsureTopics(ctx, cfg.SubscribeTopics())
	if err != nil {
		return nil, err
	}
	if len(created) > 0 {
		log.Info("topics ready", "created", created)
	}
	return created, nil
}

func Bootstrap(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	Configure(cfg)
	log := logging.For("engine")
	e := &Engine{cfg: cfg, log: log, metrics: telemetry.New()}

	pub, prod, err := OpenPublisher(cfg)
	if err != nil {
		return nil, err
	}
	e.producer = prod

	store, err := openStore(ctx, cfg.Status)
	if err != nil {
		e.close()
		return nil, err
	}
	e.store = store

	handlers, err := Handlers(cfg.Notifiers)
	if err != nil {
		e.close()
		return nil, err
	}
	for ch, h := range o.handlers {
		handlers[ch] = h
	}
	registry := notifier.NewRegistry(handlers)
	log.Info("delivery handlers registered", "channels", registry.Channels())

	hookSet := o.hooks
	if store != nil {
		hookSet = hooks.Compose(status.Hooks(store), o.hooks)
	}

	retryOpts := []retry.Option{
		retry.WithHooks(hooks.NewDispatcher(hookSet)),
		retry.WithObserver(e.metrics),
	}
	if cfg.DLQ.Enabled {
		retryOpts = append(retryOpts, retry.WithDeadLetter(publisher.NewDeadLetter(prod, cfg.DLQ.Suffix)))
	}
	policy := retry.NewPolicy(cfg.Retry.Enabled, cfg.Retry.MaxRetries, cfg.Retry.Delay)
	eng := retry.NewEngine(policy, registry, retryOpts...)

	if cfg.Topics.AutoCreate {
		if _, err := EnsureTopics(ctx, cfg, log); err != nil {
			log.Warn("topic setup skipped", "err", err)
		}
	}

	mode, _ := ack.ParseMode(cfg.Consumer.AckMode)
	threading, _ := executor.ParseMode(cfg.Consumer.Threading)
	kc := cfg.Kafka
	kc.MaxPollRecords = cfg.Consumer.MaxPollRecords
	e.pool = pipeline.New(pipeline.Config{
		Driver:        cfg.Driver,
		Kafka:         kc,
		Topics:        cfg.SubscribeTopics(),
		Concurrency:   cfg.Consumer.Concurrency,
		AckMode:       mode,
		PollTimeout:   cfg.Consumer.PollTimeout,
		ShutdownGrace: cfg.Consumer.ShutdownGrace,
		TaskGrace:     cfg.Consumer.TaskGrace,
		Executor: executor.Options{
			Mode:        threading,
			Size:        cfg.Consumer.MaxPoolSize,
			MaxInFlight: cfg.Consumer.MaxInFlight,
		},
	}, eng,
		pipeline.WithHooks(hookSet),
		pipeline.WithObserver(e.metrics),
		pipeline.WithCommitObserver(e.metrics),
	)
	e.metrics.TrackInFlight(e.pool.InFlight)

	if cfg.GRPC.Port > 0 {
		srv, err := transport.StartServer(cfg.GRPC.Port)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("transport: %w", err)
		}
		e.grpc = srv
	}
	if cfg.HTTP.Addr != "" {
		e.api = api.NewServer(api.ServerConfig{Addr: cfg.HTTP.Addr}, pub, store, e.pool.Running)
	}
	if cfg.Metrics.Port > 0 {
		e.metricsSrv = e.metrics.Server(cfg.Metrics.Port)
	}
	return e, nil
}
