package retry

import (
	"errors"
	"fmt"
	"time"

	"kafnotif/internal/notifier"
)

// Policy is a bounded fixed-delay retry policy. MaxRetries is the number of
// attempts after the first.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

// NewPolicy returns the policy for the retry settings; disabled retries
// means a single attempt.
func NewPolicy(enabled bool, maxRetries int, delay time.Duration) Policy {
	if !enabled || maxRetries < 0 {
		maxRetries = 0
	}
	if delay < 0 {
		delay = 0
	}
	return Policy{MaxRetries: maxRetries, Delay: delay}
}

// State is the position of one delivery in the retry state machine.
type State int

const (
	Attempting State = iota
	Retrying
	Succeeded
	PermanentlyFailed
)

func (s State) String() string {
	switch s {
	case Attempting:
		return "attempting"
	case Retrying:
		return "retrying"
	case Succeeded:
		return "succeeded"
	case PermanentlyFailed:
		return "permanently_failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type Kind int

const (
	Success Kind = iota
	TransientFailure
	PermanentFailure
	// Abandoned means shutdown interrupted a retry wait; the message is
	// left unacknowledged for redelivery.
	Abandoned
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case TransientFailure:
		return "transient_failure"
	case PermanentFailure:
		return "permanent_failure"
	case Abandoned:
		return "abandoned"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Classify maps one handler result to an outcome kind.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return Success
	case notifier.IsPermanent(err):
		return PermanentFailure
	default:
		return TransientFailure
	}
}

// Outcome is the terminal result of Deliver.
type Outcome struct {
	Kind     Kind
	Err      error
	Attempts int
	// DeadLettered is set when the record reached the dead-letter topic.
	DeadLettered bool
}

func (o Outcome) Succeeded() bool { return o.Kind == Success }

var ErrPanic = errors.New("retry: handler panicked")
