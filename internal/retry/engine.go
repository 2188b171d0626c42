package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"kafnotif/internal/ack"
	"kafnotif/internal/event"
	"kafnotif/internal/hooks"
	"kafnotif/internal/logging"
	"kafnotif/internal/notifier"
	"kafnotif/source/kafka"
)

type Handlers interface {
	Lookup(ch event.Channel) (notifier.Handler, error)
}

// DeadLetterer routes a failed record. ev is nil when the record could not
// be decoded.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, rec kafka.Record, ev *event.Notification, cause error, attempts int) error
}

type Observer interface {
	ObserveAttempt(channel string, kind Kind)
	ObserveRetry(channel string)
	ObserveDeadLetter(channel string, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveAttempt(string, Kind)      {}
func (nopObserver) ObserveRetry(string)              {}
func (nopObserver) ObserveDeadLetter(string, error) {}

// Engine runs one message through attempt, retry and dead-letter states.
type Engine struct {
	policy   Policy
	handlers Handlers
	hooks    *hooks.Dispatcher
	dlq      DeadLetterer
	obs      Observer
	log      *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Engine)

func WithHooks(d *hooks.Dispatcher) Option { return func(e *Engine) { e.hooks = d } }

// WithDeadLetter enables dead-letter routing; nil disables it.
func WithDeadLetter(d DeadLetterer) Option { return func(e *Engine) { e.dlq = d } }

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func NewEngine(p Policy, handlers Handlers, opts ...Option) *Engine {
	e := &Engine{
		policy:   p,
		handlers: handlers,
		hooks:    hooks.NewDispatcher(hooks.Hooks{}),
		obs:      nopObserver{},
		log:      logging.For("retry"),
		sleep:    Sleep,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) Policy() Policy { return e.policy }

// Deliver attempts ev until it succeeds, fails permanently or retries are
// exhausted. The caller acknowledges after any outcome except Abandoned.
func (e *Engine) Deliver(ctx context.Context, rec kafka.Record, ev *event.Notification, ctl ack.Control) Outcome {
	ch := string(ev.Channel)
	log := e.log.With("id", ev.ID, "channel", ch, "topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)

	if err := ev.Validate(); err != nil {
		return e.fail(ctx, log, rec, ev, notifier.Permanent(err), 0, ctl)
	}
	h, err := e.handlers.Lookup(ev.Channel)
	if err != nil {
		return e.fail(ctx, log, rec, ev, err, 0, ctl)
	}

	state := Attempting
	for attempt := 1; ; attempt++ {
		log.Debug("delivery attempt", "state", state, "attempt", attempt)
		err := invoke(ctx, h, ev)
		kind := Classify(err)
		e.obs.ObserveAttempt(ch, kind)

		switch {
		case kind == Success:
			log.Debug("delivered", "state", Succeeded, "attempts", attempt)
			return Outcome{Kind: Success, Attempts: attempt}
		case kind == PermanentFailure:
			return e.fail(ctx, log, rec, ev, err, attempt, ctl)
		case attempt > e.policy.MaxRetries:
			return e.fail(ctx, log, rec, ev, err, attempt, ctl)
		}

		state = Retrying
		log.Warn("delivery failed; retrying", "state", state, "retry", attempt, "max_retries", e.policy.MaxRetries, "delay", e.policy.Delay, "err", err)
		e.obs.ObserveRetry(ch)
		e.hooks.OnRetry(ctx, ev, attempt, e.policy.MaxRetries, err)
		if serr := e.sleep(ctx, e.policy.Delay); serr != nil {
			log.Info("retry interrupted; leaving message for redelivery", "err", serr)
			return Outcome{Kind: Abandoned, Err: err, Attempts: attempt}
		}
		state = Attempting
	}
}

func (e *Engine) fail(ctx context.Context, log *slog.Logger, rec kafka.Record, ev *event.Notification, cause error, attempts int, ctl ack.Control) Outcome {
	log.Error("delivery failed permanently", "state", PermanentlyFailed, "attempts", attempts, "err", cause)
	e.hooks.OnPermanentFailure(ctx, ev, cause, ctl)
	out := Outcome{Kind: PermanentFailure, Err: cause, Attempts: attempts}
	out.DeadLettered = e.deadLetter(ctx, log, rec, ev, cause, attempts)
	return out
}

// Reject handles a record that could not be decoded: it is dead-lettered
// as raw bytes when routing is enabled and never retried.
func (e *Engine) Reject(ctx context.Context, rec kafka.Record, cause error) bool {
	log := e.log.With("topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset)
	log.Error("undecodable record", "err", cause)
	return e.deadLetter(ctx, log, rec, nil, cause, 0)
}

func (e *Engine) deadLetter(ctx context.Context, log *slog.Logger, rec kafka.Record, ev *event.Notification, cause error, attempts int) bool {
	if e.dlq == nil {
		return false
	}
	ch := ""
	if ev != nil {
		ch = string(ev.Channel)
	}
	// Detached from task cancellation.
	err := e.dlq.DeadLetter(context.WithoutCancel(ctx), rec, ev, cause, attempts)
	e.obs.ObserveDeadLetter(ch, err)
	if err != nil {
		log.Error("dead-letter publish failed", "err", err)
		return false
	}
	log.Info("routed to dead-letter topic")
	return true
}

func invoke(ctx context.Context, h notifier.Handler, ev *event.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return h.Send(ctx, ev)
}

// Sleep waits d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
