package status

import (
	"context"
	"time"

	"kafnotif/internal/ack"
	"kafnotif/internal/event"
	"kafnotif/internal/hooks"
	"kafnotif/internal/logging"
)

// Hooks records PROCESSING before delivery, RETRYING before each retry and
// SENT or FAILED once the message is done. A store error on before-send is
// returned so the dispatcher logs it and continues.
func Hooks(s Store) hooks.Hooks {
	log := logging.For("status")
	now := func() time.Time { return time.Now().UTC() }
	put := func(ctx context.Context, r Record) error {
		r.UpdatedAt = now()
		err := s.Put(ctx, r)
		if err != nil {
			log.Warn("status update failed", "id", r.ID, "state", r.State, "err", err)
		}
		return err
	}
	base := func(ev *event.Notification, st State) Record {
		return Record{ID: ev.ID, Channel: string(ev.Channel), Recipient: ev.Recipient, State: st}
	}

	return hooks.Hooks{
		BeforeSend: func(ctx context.Context, ev *event.Notification, _ ack.Control) (bool, error) {
			return true, put(ctx, base(ev, StateProcessing))
		},
		OnRetry: func(ctx context.Context, ev *event.Notification, attempt, _ int, err error) {
			r := base(ev, StateRetrying)
			r.Attempts = attempt
			if err != nil {
				r.LastError = err.Error()
			}
			_ = put(ctx, r)
		},
		OnPermanentFailure: func(ctx context.Context, ev *event.Notification, err error, _ ack.Control) {
			r := base(ev, StateFailed)
			if prev, gerr := s.Get(ctx, ev.ID); gerr == nil {
				r.Attempts = prev.Attempts + 1
			}
			if err != nil {
				r.LastError = err.Error()
			}
			_ = put(ctx, r)
		},
		AfterSend: func(ctx context.Context, ev *event.Notification, success bool, err error, _ ack.Control) {
			if !success {
				// OnPermanentFailure already recorded the failure.
				return
			}
			r := base(ev, StateSent)
			if prev, gerr := s.Get(ctx, ev.ID); gerr == nil {
				r.Attempts = prev.Attempts + 1
			}
			_ = put(ctx, r)
		},
	}
}
