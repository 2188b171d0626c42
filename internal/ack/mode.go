// Package ack records which consumed messages are done and turns those
// records into offset commits on the connection that consumed them.
//
// Three disciplines are supported:
//
//	auto              the driver commits on its own; handles are no-ops
//	manual            handles enqueue on a Ledger, the poll loop drains and
//	                  commits asynchronously between polls
//	manual_immediate  Acknowledge commits synchronously through the owning
//	                  connection; AcknowledgeDeferred behaves as manual
package ack

import (
	"fmt"
	"strings"
)

type Mode string

const (
	ModeAuto            Mode = "auto"
	ModeManual          Mode = "manual"
	ModeManualImmediate Mode = "manual_immediate"
)

// ParseMode accepts the lower- or upper-case names.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeManual, ModeManualImmediate:
		return m, nil
	}
	return "", fmt.Errorf("ack: unknown mode %q (want auto, manual or manual_immediate)", s)
}

// Manual reports whether the pipeline does its own offset bookkeeping.
func (m Mode) Manual() bool { return m == ModeManual || m == ModeManualImmediate }
