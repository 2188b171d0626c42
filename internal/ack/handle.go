package ack

import (
	"context"
	"sync/atomic"

	"kafnotif/source/kafka"
)

// Control is what hooks and handlers see of a message's acknowledgment.
type Control interface {
	// Acknowledge marks the message done. In manual_immediate mode it
	// commits before returning.
	Acknowledge(ctx context.Context) error
	// AcknowledgeDeferred marks the message done; the commit happens on
	// the next drain of the poll loop.
	AcknowledgeDeferred()
	Acknowledged() bool
}

// Handle is set at most once; later calls are no-ops.
type Handle struct {
	c      *Coordinator
	marker kafka.Offset
	done   atomic.Bool
}

var _ Control = (*Handle)(nil)

func (h *Handle) Marker() kafka.Offset { return h.marker }

func (h *Handle) Acknowledged() bool { return h.done.Load() }

func (h *Handle) claim() bool {
	if h.done.CompareAndSwap(false, true) {
		return true
	}
	h.c.log.Debug("duplicate acknowledge ignored",
		"topic", h.marker.Topic, "partition", h.marker.Partition, "offset", h.marker.Next-1)
	return false
}

func (h *Handle) Acknowledge(ctx context.Context) error {
	if !h.claim() {
		return nil
	}
	switch h.c.mode {
	case ModeManual:
		h.c.ledger.Enqueue(h.marker)
	case ModeManualImmediate:
		return h.c.CommitNow(ctx, h.marker)
	}
	return nil
}

func (h *Handle) AcknowledgeDeferred() {
	if !h.claim() {
		return
	}
	if h.c.mode.Manual() {
		h.c.ledger.Enqueue(h.marker)
	}
}
