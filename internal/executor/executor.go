// Package executor runs delivery tasks in one of three scheduling modes.
// The mode only changes how many goroutines do the work; every mode runs
// each submitted task exactly once.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kafnotif/internal/logging"
)

var (
	ErrClosed          = errors.New("executor: closed")
	ErrShutdownTimeout = errors.New("executor: tasks still running after grace period")
)

type Mode string

const (
	// ModeSingle runs tasks one at a time on a single goroutine.
	ModeSingle Mode = "single"
	// ModeFixed runs tasks on a fixed set of worker goroutines.
	ModeFixed Mode = "fixed"
	// ModeElastic starts a goroutine per task.
	ModeElastic Mode = "elastic"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeSingle, ModeFixed, ModeElastic:
		return m, nil
	case "":
		return ModeFixed, nil
	}
	return "", fmt.Errorf("executor: unknown threading mode %q", s)
}

type Options struct {
	Mode Mode
	// Size is the worker count in fixed mode.
	Size int
	// MaxInFlight bounds running plus queued tasks; 0 leaves fixed mode
	// bounded by Size and elastic mode unbounded.
	MaxInFlight int
	Logger      *slog.Logger
}

type Executor struct {
	mode  Mode
	gate  *Gate
	tasks chan func()
	log   *slog.Logger

	mu      sync.RWMutex
	closed  bool
	workers sync.WaitGroup
	running sync.WaitGroup
	active  atomic.Int64
}

func New(o Options) *Executor {
	if o.Logger == nil {
		o.Logger = logging.For("executor")
	}
	e := &Executor{mode: o.Mode, log: o.Logger}
	if o.MaxInFlight > 0 {
		e.gate = NewGate(int64(o.MaxInFlight))
	}

	n := 0
	switch o.Mode {
	case ModeSingle:
		n = 1
	case ModeElastic:
	default:
		e.mode = ModeFixed
		n = max(o.Size, 1)
	}
	if n > 0 {
		e.tasks = make(chan func())
		e.workers.Add(n)
		for i := 0; i < n; i++ {
			go e.worker()
		}
	}
	return e
}

func (e *Executor) Mode() Mode { return e.mode }

// InFlight is the number of submitted tasks that have not returned.
func (e *Executor) InFlight() int64 { return e.active.Load() }

func (e *Executor) worker() {
	defer e.workers.Done()
	for fn := range e.tasks {
		fn()
	}
}

// Submit schedules fn. It blocks while the executor is saturated and
// returns ctx's error if ctx ends first.
func (e *Executor) Submit(ctx context.Context, fn func()) error {
	if e.gate != nil {
		if err := e.gate.Acquire(ctx); err != nil {
			return err
		}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.release()
		return ErrClosed
	}

	e.active.Add(1)
	e.running.Add(1)
	task := func() {
		defer e.done()
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("task panicked", "panic", r)
			}
		}()
		fn()
	}

	if e.tasks == nil {
		go task()
		return nil
	}
	select {
	case e.tasks <- task:
		return nil
	case <-ctx.Done():
		e.done()
		return ctx.Err()
	}
}

func (e *Executor) done() {
	e.active.Add(-1)
	e.running.Done()
	e.release()
}

func (e *Executor) release() {
	if e.gate != nil {
		e.gate.Release()
	}
}

// Shutdown stops accepting tasks and waits up to grace for running ones.
// Tasks still running after grace are left to finish on their own.
func (e *Executor) Shutdown(grace time.Duration) error {
	if e.gate != nil {
		e.gate.Close()
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	if e.tasks != nil {
		close(e.tasks)
	}
	e.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		e.workers.Wait()
		e.running.Wait()
		close(idle)
	}()

	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-idle:
		return nil
	case <-t.C:
		e.log.Warn("shutdown grace elapsed", "in_flight", e.InFlight())
		return ErrShutdownTimeout
	}
}
