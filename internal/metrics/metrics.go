// Package metrics exposes the cycler's Prometheus series:
//
//	cycler_cycles_total{result}           cycles by outcome (ok|partial|error)
//	cycler_tx_submitted_total{phase}      broadcasts by leg (open|close)
//	cycler_positions_resolved_total       position ids read from receipts
//	cycler_failures_total{stage,kind}     per-account failures
//	cycler_last_block                     last observed head height
//	cycler_cycle_seconds                  wall time of a full cycle
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics methods are safe on a nil receiver.
type Metrics struct {
	reg *prometheus.Registry

	cycles       *prometheus.CounterVec
	txSubmitted  *prometheus.CounterVec
	resolved     prometheus.Counter
	failures     *prometheus.CounterVec
	lastBlock    prometheus.Gauge
	cycleSeconds prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cycler_cycles_total",
			Help: "Completed cycles by result.",
		}, []string{"result"}),
		txSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cycler_tx_submitted_total",
			Help: "Transactions accepted by the node, by leg.",
		}, []string{"phase"}),
		resolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cycler_positions_resolved_total",
			Help: "Position ids resolved from open-order receipts.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cycler_failures_total",
			Help: "Per-account failures by stage and error kind.",
		}, []string{"stage", "kind"}),
		lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cycler_last_block",
			Help: "Last observed chain head height.",
		}),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cycler_cycle_seconds",
			Help:    "Wall time of one open/close cycle.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	m.reg.MustRegister(m.cycles, m.txSubmitted, m.resolved, m.failures, m.lastBlock, m.cycleSeconds)
	m.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) CycleDone(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
	m.cycleSeconds.Observe(d.Seconds())
}

func (m *Metrics) TxSubmitted(phase string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.txSubmitted.WithLabelValues(phase).Add(float64(n))
}

func (m *Metrics) PositionsResolved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.resolved.Add(float64(n))
}

func (m *Metrics) Failure(stage, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(stage, kind).Inc()
}

func (m *Metrics) Block(h uint64) {
	if m == nil {
		return
	}
	m.lastBlock.Set(float64(h))
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[metrics] serving on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
