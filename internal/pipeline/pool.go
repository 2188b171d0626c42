// Package pipeline runs the consumption pool: K poll loops, each owning one
// broker connection and one offset coordinator, feeding delivery tasks to a
// shared executor.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"kafnotif/internal/ack"
	"kafnotif/internal/event"
	"kafnotif/internal/executor"
	"kafnotif/internal/hooks"
	"kafnotif/internal/logging"
	"kafnotif/internal/retry"
	"kafnotif/source/kafka"
)

var (
	ErrNoTopics       = errors.New("pipeline: no topics to subscribe")
	ErrAlreadyStarted = errors.New("pipeline: already started")
	// ErrWorkersExited is returned by Consume when every poll loop ended on
	// its own.
	ErrWorkersExited  = errors.New("pipeline: all poll loops exited")
)

type Config struct {
	Driver string
	Kafka  kafka.Config
	Topics []string

	// Concurrency is the number of poll loops and broker connections.
	Concurrency   int
	AckMode       ack.Mode
	PollTimeout   time.Duration
	ShutdownGrace time.Duration
	TaskGrace     time.Duration
	Executor      executor.Options
}

func (c *Config) applyDefaults() {
	if c.Driver == "" {
		c.Driver = "sarama"
	}
	if c.Concurrency < 1 {
		c.Concurrency = 1
	}
	if c.AckMode == "" {
		c.AckMode = ack.ModeAuto
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Second
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = time.Second
	}
	if c.TaskGrace <= 0 {
		c.TaskGrace = 10 * time.Second
	}
}

// Outcome labels reported to the Observer.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeVetoed    = "vetoed"
	OutcomeAbandoned = "abandoned"
	OutcomeRejected  = "rejected"
)

type Observer interface {
	ObserveOutcome(channel, outcome string)
	ObserveDecodeError(topic string)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(string, string) {}
func (nopObserver) ObserveDecodeError(string)     {}

// Dialer opens one consumer-group member.
type Dialer func(cfg kafka.Config) (kafka.Conn, error)

type Option func(*Pool)

func WithHooks(h hooks.Hooks) Option { return func(p *Pool) { p.hooks = hooks.NewDispatcher(h) } }

func WithObserver(o Observer) Option {
	return func(p *Pool) {
		if o != nil {
			p.obs = o
		}
	}
}

// WithCommitObserver is handed to every coordinator.
func WithCommitObserver(o ack.Observer) Option { return func(p *Pool) { p.commitObs = o } }

// WithDialer replaces the registry lookup of Config.Driver.
func WithDialer(d Dialer) Option { return func(p *Pool) { p.dial = d } }

type worker struct {
	id    int
	conn  kafka.Conn
	coord *ack.Coordinator
	log   *slog.Logger
}

type Pool struct {
	cfg       Config
	engine    *retry.Engine
	hooks     *hooks.Dispatcher
	obs       Observer
	commitObs ack.Observer
	dial      Dialer
	log       *slog.Logger

	exec    *executor.Executor
	workers []*worker
	running atomic.Bool
	started atomic.Bool

	loops     sync.WaitGroup
	loopsDone chan struct{}
	loopCtx   context.Context
	stopLoops context.CancelFunc
	taskCtx   context.Context
	stopTasks context.CancelFunc
	stopOnce  sync.Once
	stopErr   error
}

func New(cfg Config, engine *retry.Engine, opts ...Option) *Pool {
	cfg.applyDefaults()
	p := &Pool{
		cfg:       cfg,
		engine:    engine,
		hooks:     hooks.NewDispatcher(hooks.Hooks{}),
		obs:       nopObserver{},
		log:       logging.For("pipeline"),
		loopsDone: make(chan struct{}),
	}
	p.dial = func(c kafka.Config) (kafka.Conn, error) { return kafka.Open(p.cfg.Driver, c) }
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Pool) Running() bool { return p.running.Load() }

// InFlight is the number of delivery tasks not yet finished.
func (p *Pool) InFlight() int64 {
	if p.exec == nil {
		return 0
	}
	return p.exec.InFlight()
}

// Done is closed once every poll loop has returned.
func (p *Pool) Done() <-chan struct{} { return p.loopsDone }

// Coordinators exposes each worker's coordinator, in worker order.
func (p *Pool) Coordinators() []*ack.Coordinator {
	out := make([]*ack.Coordinator, len(p.workers))
	for i, w := range p.workers {
		out[i] = w.coord
	}
	return out
}

// Start opens and subscribes every connection, then launches the poll
// loops. A connection that fails to open aborts startup.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	if len(p.cfg.Topics) == 0 {
		return ErrNoTopics
	}

	for i := 0; i < p.cfg.Concurrency; i++ {
		kc := p.cfg.Kafka
		kc.AutoCommit = !p.cfg.AckMode.Manual()
		if kc.ClientID != "" {
			kc.ClientID = fmt.Sprintf("%s-%d", kc.ClientID, i)
		}
		conn, err := p.dial(kc)
		if err == nil {
			err = conn.Subscribe(p.cfg.Topics)
			if err != nil {
				_ = conn.Close()
			}
		}
		if err != nil {
			p.closeConns()
			return fmt.Errorf("pipeline: worker %d: %w", i, err)
		}
		log := p.log.With("worker", i)
		p.workers = append(p.workers, &worker{
			id:    i,
			conn:  conn,
			coord: ack.NewCoordinator(conn, p.cfg.AckMode, ack.WithLogger(log), ack.WithObserver(p.commitObs)),
			log:   log,
		})
	}

	p.exec = executor.New(p.cfg.Executor)
	p.loopCtx, p.stopLoops = context.WithCancel(context.WithoutCancel(ctx))
	p.taskCtx, p.stopTasks = context.WithCancel(context.WithoutCancel(ctx))
	p.running.Store(true)

	p.loops.Add(len(p.workers))
	for _, w := range p.workers {
		go p.loop(w)
	}
	go func() {
		p.loops.Wait()
		close(p.loopsDone)
	}()

	p.log.Info("consumption started",
		"driver", p.cfg.Driver,
		"topics", p.cfg.Topics,
		"workers", len(p.workers),
		"ack_mode", p.cfg.AckMode,
		"threading", p.exec.Mode(),
	)
	return nil
}

// Consume starts the pool and blocks until ctx ends or every loop exits,
// then stops it.
func (p *Pool) Consume(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	var err error
	select {
	case <-ctx.Done():
	case <-p.loopsDone:
		err = ErrWorkersExited
	}
	return errors.Join(err, p.Stop())
}

func (p *Pool) loop(w *worker) {
	defer p.loops.Done()
	for p.running.Load() {
		if !p.iterate(w) {
			break
		}
	}
	w.log.Debug("poll loop exited")
}

// iterate runs one drain, poll and dispatch cycle. It returns false when the
// loop must end.
func (p *Pool) iterate(w *worker) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("poll loop iteration panicked", "panic", r)
			cont = true
		}
	}()

	// Stop flushes whatever is still acknowledged once the flag is down.
	if !p.running.Load() {
		return false
	}
	_ = w.coord.DrainAndCommit(p.loopCtx)

	recs, err := w.conn.Poll(p.loopCtx, p.cfg.PollTimeout)
	switch {
	case errors.Is(err, kafka.ErrWakeup):
		return true
	case err != nil:
		if p.running.Load() {
			w.log.Error("poll failed; worker stopping", "err", err)
		}
		return false
	}

	for _, rec := range recs {
		rec := rec
		h := w.coord.NewHandle(rec)
		var ctl ack.Control
		if p.cfg.AckMode.Manual() {
			ctl = h
		}
		if err := p.exec.Submit(p.loopCtx, func() { p.process(w, rec, h, ctl) }); err != nil {
			w.log.Warn("dispatch stopped; rest of batch left for redelivery",
				"topic", rec.Topic, "partition", rec.Partition, "offset", rec.Offset, "err", err)
			break
		}
	}
	return true
}

func (p *Pool) process(w *worker, rec kafka.Record, h *ack.Handle, ctl ack.Control) {
	ctx := p.taskCtx
	ev, err := event.Decode(rec.Value)
	if err != nil {
		p.obs.ObserveDecodeError(rec.Topic)
		p.obs.ObserveOutcome("", OutcomeRejected)
		p.engine.Reject(ctx, rec, err)
		p.ack(ctx, w, h)
		return
	}
	ch := string(ev.Channel)

	if !p.hooks.BeforeSend(ctx, ev, ctl) {
		w.log.Debug("delivery vetoed", "id", ev.ID, "channel", ch)
		p.obs.ObserveOutcome(ch, OutcomeVetoed)
		p.ack(ctx, w, h)
		return
	}

	out := p.engine.Deliver(ctx, rec, ev, ctl)
	if out.Kind == retry.Abandoned {
		p.obs.ObserveOutcome(ch, OutcomeAbandoned)
		return
	}
	p.hooks.AfterSend(ctx, ev, out.Succeeded(), out.Err, ctl)
	if out.Succeeded() {
		p.obs.ObserveOutcome(ch, OutcomeSucceeded)
	} else {
		p.obs.ObserveOutcome(ch, OutcomeFailed)
	}
	p.ack(ctx, w, h)
}

func (p *Pool) ack(ctx context.Context, w *worker, h *ack.Handle) {
	switch p.cfg.AckMode {
	case ack.ModeManualImmediate:
		if err := h.Acknowledge(ctx); err != nil {
			m := h.Marker()
			w.log.Warn("immediate commit failed; retried on next drain",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Next-1, "err", err)
		}
	default:
		// Auto mode only marks the handle; the driver commits.
		h.AcknowledgeDeferred()
	}
}

// Stop clears the running flag, wakes every poll, waits ShutdownGrace for
// the loops and TaskGrace for in-flight tasks, flushes pending
// acknowledgments and closes the connections. It is safe to call twice.
func (p *Pool) Stop() error {
	if !p.started.Load() || p.exec == nil {
		return nil
	}
	p.stopOnce.Do(func() {
		p.running.Store(false)
		for _, w := range p.workers {
			w.conn.Wakeup()
		}
		p.stopLoops()

		t := time.NewTimer(p.cfg.ShutdownGrace)
		select {
		case <-p.loopsDone:
		case <-t.C:
			p.log.Warn("poll loops still running after shutdown grace; closing connections")
		}
		t.Stop()

		var errs []error
		if err := p.exec.Shutdown(p.cfg.TaskGrace); err != nil {
			errs = append(errs, err)
		}
		p.stopTasks()

		for _, w := range p.workers {
			if err := w.coord.Flush(context.Background()); err != nil {
				errs = append(errs, fmt.Errorf("worker %d: final commit: %w", w.id, err))
			}
		}
		p.closeConns()
		p.stopErr = errors.Join(errs...)
		p.log.Info("consumption stopped")
	})
	return p.stopErr
}

func (p *Pool) closeConns() {
	for _, w := range p.workers {
		if err := w.conn.Close(); err != nil {
			w.log.Warn("close connection", "err", err)
		}
	}
}
