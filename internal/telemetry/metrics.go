// Package telemetry exposes pipeline counters in the Prometheus format.
package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kafnotif/internal/retry"
)

const namespace = "kafnotif"

// Metrics satisfies the retry, ack and pipeline observers.
type Metrics struct {
	reg *prometheus.Registry

	messages     *prometheus.CounterVec
	attempts     *prometheus.CounterVec
	retries      *prometheus.CounterVec
	deadLetters  *prometheus.CounterVec
	commits      *prometheus.CounterVec
	decodeErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Consumed messages by channel and terminal outcome.",
		}, []string{"channel", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "delivery_attempts_total",
			Help: "Handler invocations by channel and result.",
		}, []string{"channel", "result"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_total",
			Help: "Scheduled retries by channel.",
		}, []string{"channel"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dead_letters_total",
			Help: "Dead-letter publishes by channel and result.",
		}, []string{"channel", "result"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "offset_commits_total",
			Help: "Offset commits by kind and result.",
		}, []string{"kind", "result"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "decode_errors_total",
			Help: "Records that could not be decoded, by topic.",
		}, []string{"topic"}),
	}
	m.reg.MustRegister(
		m.messages, m.attempts, m.retries, m.deadLetters, m.commits, m.decodeErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// TrackInFlight exports fn as the in-flight task gauge.
func (m *Metrics) TrackInFlight(fn func() int64) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Name: "in_flight_tasks",
		Help: "Delivery tasks submitted and not yet finished.",
	}, func() float64 { return float64(fn()) }))
}

func label(ch string) string {
	if ch == "" {
		return "unknown"
	}
	return ch
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveAttempt(ch string, k retry.Kind) {
	m.attempts.WithLabelValues(label(ch), k.String()).Inc()
}

func (m *Metrics) ObserveRetry(ch string) { m.retries.WithLabelValues(label(ch)).Inc() }

func (m *Metrics) ObserveDeadLetter(ch string, err error) {
	m.deadLetters.WithLabelValues(label(ch), result(err)).Inc()
}

func (m *Metrics) ObserveCommit(async bool, _ int, err error) {
	kind := "sync"
	if async {
		kind = "async"
	}
	m.commits.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) ObserveOutcome(ch, outcome string) {
	m.messages.WithLabelValues(label(ch), outcome).Inc()
}

func (m *Metrics) ObserveDecodeError(topic string) { m.decodeErrors.WithLabelValues(topic).Inc() }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Server returns an unstarted HTTP server for /metrics on port.
func (m *Metrics) Server(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
