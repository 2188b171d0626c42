// Package notifier holds the delivery handlers and the immutable
// channel-to-handler registry consulted by the retry engine.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"kafnotif/internal/event"
)

var (
	// ErrPermanent marks a failure that retrying cannot fix.
	ErrPermanent = errors.New("notifier: permanent failure")
	// ErrNoHandler is returned for channels without a registered handler.
	ErrNoHandler = fmt.Errorf("%w: no handler registered", ErrPermanent)
)

// Handler delivers one notification. The error classifies the outcome:
// nil is success, an error wrapping ErrPermanent is permanent, anything else
// is transient and may be retried.
type Handler interface {
	Send(ctx context.Context, n *event.Notification) error
}

type HandlerFunc func(ctx context.Context, n *event.Notification) error

func (f HandlerFunc) Send(ctx context.Context, n *event.Notification) error { return f(ctx, n) }

type permanentError struct{ err error }

func (e *permanentError) Error() string   { return e.err.Error() }
func (e *permanentError) Unwrap() []error { return []error{ErrPermanent, e.err} }

// Permanent marks err as not worth retrying. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil || errors.Is(err, ErrPermanent) {
		return err
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// Registry maps channels to handlers. It is built once and never mutated.
type Registry struct {
	m map[event.Channel]Handler
}

func NewRegistry(handlers map[event.Channel]Handler) *Registry {
	m := make(map[event.Channel]Handler, len(handlers))
	for ch, h := range handlers {
		if h != nil {
			m[ch] = h
		}
	}
	return &Registry{m: m}
}

func (r *Registry) Lookup(ch event.Channel) (Handler, error) {
	if h, ok := r.m[ch]; ok {
		return h, nil
	}
	return nil, fmt.Errorf("%w for channel %q", ErrNoHandler, ch)
}

// Channels lists the channels with a handler.
func (r *Registry) Channels() []event.Channel {
	out := make([]event.Channel, 0, len(r.m))
	for ch := range r.m {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
