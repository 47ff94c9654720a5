// Package metrics exposes test case outcomes to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/launchdarkly/frame-test-harness/framework"
	"github.com/launchdarkly/frame-test-harness/frametest"
)

const MetricsNamespace = "frametest"

// Metrics holds the collectors for one test run. Each run uses its own registry, so the
// collectors can be created more than once in a process.
type Metrics struct {
	runID        string
	registry     *prometheus.Registry
	casesTotal   *prometheus.CounterVec
	spinsTotal   *prometheus.CounterVec
	caseDuration *prometheus.HistogramVec
	inProgress   *prometheus.GaugeVec
}

func New(runID string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &Metrics{
		runID:    runID,
		registry: registry,
		casesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "cases_total",
			Help:      "Count of finished test cases by result",
		}, []string{
			"run_id",
			"suite",
			"result",
		}),
		spinsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "spin_polls_total",
			Help:      "Count of polls that found a frame not ready or a case not complete",
		}, []string{
			"run_id",
			"suite",
		}),
		caseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "case_duration_seconds",
			Help:      "Time from starting a case in its frame to the runtime reporting completion",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{
			"run_id",
			"suite",
		}),
		inProgress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "cases_in_progress",
			Help:      "Number of cases that have started publishing but are not done",
		}, []string{
			"run_id",
			"suite",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the run's metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve serves Handler at /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger framework.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: time.Second * 10}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	logger.Printf("Serving metrics on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Presenter returns a ResultPresenter that records one case's outcome. Its signature matches
// suite.PresenterFactory.
func (m *Metrics) Presenter(suiteName, _ string) frametest.ResultPresenter {
	return &presenter{metrics: m, suite: suiteName}
}

type presenter struct {
	metrics *Metrics
	suite   string
	started bool
	status  frametest.Status
	elapsed int64
	lock    sync.Mutex
}

func (p *presenter) start() {
	if !p.started {
		p.started = true
		p.metrics.inProgress.WithLabelValues(p.metrics.runID, p.suite).Inc()
	}
}

func (p *presenter) SetStatus(status frametest.Status) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.start()
	p.status = status
	if status == frametest.StatusSpin {
		p.metrics.spinsTotal.WithLabelValues(p.metrics.runID, p.suite).Inc()
	}
}

func (p *presenter) SetResultText(string) {}

func (p *presenter) SetElapsed(ms int64) {
	p.lock.Lock()
	p.elapsed = ms
	p.lock.Unlock()
}

func (p *presenter) NotifyDone() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.start()
	m := p.metrics
	m.inProgress.WithLabelValues(m.runID, p.suite).Dec()
	m.casesTotal.WithLabelValues(m.runID, p.suite, string(p.status)).Inc()
	m.caseDuration.WithLabelValues(m.runID, p.suite).Observe(float64(p.elapsed) / 1000)
}
