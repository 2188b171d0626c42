package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"kafnotif/internal/api"
	"kafnotif/internal/config"
	"kafnotif/internal/pipeline"
	"kafnotif/internal/status"
	"kafnotif/internal/telemetry"
	"kafnotif/internal/transport"
	"kafnotif/sink"
)

const shutdownTimeout = 5 * time.Second

type Engine struct {
	cfg config.Config
	log *slog.Logger

	pool       *pipeline.Pool
	producer   sink.Producer
	store      status.Store
	metrics    *telemetry.Metrics
	metricsSrv *http.Server
	grpc       *transport.Server
	api        *api.Server
}

func (e *Engine) Pool() *pipeline.Pool        { return e.pool }
func (e *Engine) Metrics() *telemetry.Metrics { return e.metrics }
func (e *Engine) Store() status.Store         { return e.store }

// Run consumes until ctx ends, serving the configured listeners alongside.
// Every listener and the pool are stopped before Run returns.
func (e *Engine) Run(ctx context.Context) error {
	defer e.close()

	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var exited error
		select {
		case <-gctx.Done():
		case <-e.pool.Done():
			exited = pipeline.ErrWorkersExited
		}
		return errors.Join(exited, e.pool.Stop())
	})

	if e.grpc != nil {
		e.grpc.SetServing(true)
		srv := e.grpc
		e.grpc = nil
		g.Go(srv.Serve)
		g.Go(func() error {
			<-gctx.Done()
			srv.Stop()
			return nil
		})
	}
	if e.api != nil {
		g.Go(e.api.ListenAndServe)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.api.Shutdown(sctx)
		})
	}
	if e.metricsSrv != nil {
		g.Go(func() error {
			e.log.Info("metrics listening", "addr", e.metricsSrv.Addr)
			if err := e.metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return e.metricsSrv.Shutdown(sctx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func (e *Engine) close() {
	if e.grpc != nil {
		e.grpc.Stop()
	}
	if e.producer != nil {
		if err := e.producer.Close(); err != nil {
			e.log.Warn("close producer", "err", err)
		}
	}
	if e.store != nil {
		_ = e.store.Close()
	}
}
