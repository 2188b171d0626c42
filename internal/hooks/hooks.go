package hooks

import (
	"context"
	"fmt"
	"log/slog"

	"kafnotif/internal/ack"
	"kafnotif/internal/event"
	"kafnotif/internal/logging"
)

// Hooks are optional lifecycle callbacks. A nil field uses the default:
// BeforeSend allows, the others do nothing. Callbacks may run on any
// goroutine. ctl is nil in auto acknowledgment mode.
type Hooks struct {
	// BeforeSend returning false vetoes delivery: the handler is skipped,
	// AfterSend does not fire and the message is acknowledged.
	BeforeSend func(ctx context.Context, ev *event.Notification, ctl ack.Control) (bool, error)
	// AfterSend fires once per delivered-or-failed message.
	AfterSend func(ctx context.Context, ev *event.Notification, success bool, err error, ctl ack.Control)
	// OnRetry fires before each retry delay. attempt counts from 1.
	OnRetry func(ctx context.Context, ev *event.Notification, attempt, maxRetries int, err error)
	// OnPermanentFailure fires once, before dead-letter routing.
	OnPermanentFailure func(ctx context.Context, ev *event.Notification, err error, ctl ack.Control)
}

// Compose runs each set in order, each under its own recover, so one
// failing set never hides the sets after it. BeforeSend stops at the first
// veto; an error or panic from an earlier set is logged and does not keep
// a later set from vetoing. With no veto the first error is returned.
func Compose(sets ...Hooks) Hooks {
	log := logging.For("hooks")
	var out Hooks
	out.BeforeSend = func(ctx context.Context, ev *event.Notification, ctl ack.Control) (bool, error) {
		var first error
		for i, s := range sets {
			if s.BeforeSend == nil {
				continue
			}
			ok, err := composedBefore(ctx, s, ev, ctl)
			if err != nil {
				if first == nil {
					first = err
				}
				continue
			}
			if !ok {
				if first != nil {
					log.Warn("before-send hook failed before a veto", "id", ev.ID, "set", i, "err", first)
				}
				return false, nil
			}
		}
		return true, first
	}
	out.AfterSend = func(ctx context.Context, ev *event.Notification, success bool, err error, ctl ack.Control) {
		for i, s := range sets {
			if s.AfterSend != nil {
				isolate(log, "after_send", i, ev, func() { s.AfterSend(ctx, ev, success, err, ctl) })
			}
		}
	}
	out.OnRetry = func(ctx context.Context, ev *event.Notification, attempt, max int, err error) {
		for i, s := range sets {
			if s.OnRetry != nil {
				isolate(log, "on_retry", i, ev, func() { s.OnRetry(ctx, ev, attempt, max, err) })
			}
		}
	}
	out.OnPermanentFailure = func(ctx context.Context, ev *event.Notification, err error, ctl ack.Control) {
		for i, s := range sets {
			if s.OnPermanentFailure != nil {
				isolate(log, "on_permanent_failure", i, ev, func() { s.OnPermanentFailure(ctx, ev, err, ctl) })
			}
		}
	}
	return out
}

// composedBefore turns a panic in one set's BeforeSend into an error.
func composedBefore(ctx context.Context, s Hooks, ev *event.Notification, ctl ack.Control) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = true, fmt.Errorf("hooks: before_send panicked: %v", r)
		}
	}()
	return s.BeforeSend(ctx, ev, ctl)
}

func isolate(log *slog.Logger, name string, set int, ev *event.Notification, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("hook panicked", "hook", name, "set", set, "id", ev.ID, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

// Dispatcher invokes Hooks, recovering and logging panics.
type Dispatcher struct {
	h   Hooks
	log *slog.Logger
}

func NewDispatcher(h Hooks) *Dispatcher {
	return &Dispatcher{h: h, log: logging.For("hooks")}
}

func (d *Dispatcher) guard(name string, ev *event.Notification) {
	if r := recover(); r != nil {
		d.log.Error("hook panicked", "hook", name, "id", ev.ID, "panic", fmt.Sprint(r))
	}
}

// BeforeSend reports whether delivery should proceed. Errors and panics
// fail open.
func (d *Dispatcher) BeforeSend(ctx context.Context, ev *event.Notification, ctl ack.Control) (proceed bool) {
	if d.h.BeforeSend == nil {
		return true
	}
	proceed = true
	defer d.guard("before_send", ev)
	ok, err := d.h.BeforeSend(ctx, ev, ctl)
	if err != nil {
		d.log.Warn("before-send hook failed; continuing", "id", ev.ID, "err", err)
		return true
	}
	return ok
}

func (d *Dispatcher) AfterSend(ctx context.Context, ev *event.Notification, success bool, err error, ctl ack.Control) {
	if d.h.AfterSend == nil {
		return
	}
	defer d.guard("after_send", ev)
	d.h.AfterSend(ctx, ev, success, err, ctl)
}

func (d *Dispatcher) OnRetry(ctx context.Context, ev *event.Notification, attempt, maxRetries int, err error) {
	if d.h.OnRetry == nil {
		return
	}
	defer d.guard("on_retry", ev)
	d.h.OnRetry(ctx, ev, attempt, maxRetries, err)
}

func (d *Dispatcher) OnPermanentFailure(ctx context.Context, ev *event.Notification, err error, ctl ack.Control) {
	if d.h.OnPermanentFailure == nil {
		return
	}
	defer d.guard("on_permanent_failure", ev)
	d.h.OnPermanentFailure(ctx, ev, err, ctl)
}
