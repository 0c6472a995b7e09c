// Package metrics exposes pipeline, registry and prediction counters to
// Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/animus-labs/propensity/internal/pipeline"
	"github.com/animus-labs/propensity/internal/prediction"
)

const namespace = "propensity"

type Metrics struct {
	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	stageDuration  *prometheus.HistogramVec
	predictions    *prometheus.CounterVec
	cacheHits      prometheus.Counter
	fetches        *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	publishes      *prometheus.CounterVec
	publishedBytes prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, errors.New("registerer is required")
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_runs_total",
			Help:      "Training pipeline runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall time of a full training pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Wall time of a pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage", "status"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Predictions served by result label.",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_cache_hits_total",
			Help:      "Model loads answered from the in-process cache.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_fetches_total",
			Help:      "Model bundle downloads from the object store.",
		}, []string{"status"}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_fetch_duration_seconds",
			Help:      "Time to download and decode a model bundle.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_publishes_total",
			Help:      "Model bundle uploads to the object store.",
		}, []string{"status"}),
		publishedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "registry_published_bundle_bytes",
			Help:      "Size of the last published model bundle.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.runs, m.runDuration, m.stageDuration, m.predictions,
		m.cacheHits, m.fetches, m.fetchDuration, m.publishes, m.publishedBytes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) StageDone(stage pipeline.Stage, d time.Duration, err error) {
	m.stageDuration.WithLabelValues(string(stage), status(err)).Observe(d.Seconds())
}

func (m *Metrics) RunDone(outcome string, d time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) Prediction(label prediction.Label, err error) {
	switch {
	case errors.Is(err, prediction.ErrModelNotDeployed):
		m.predictions.WithLabelValues("not_deployed").Inc()
	case errors.Is(err, prediction.ErrInvalidRecord):
		m.predictions.WithLabelValues("invalid").Inc()
	case err != nil:
		m.predictions.WithLabelValues("error").Inc()
	default:
		m.predictions.WithLabelValues(label.String()).Inc()
	}
}

func (m *Metrics) CacheHit(string) { m.cacheHits.Inc() }

func (m *Metrics) Fetch(_ string, d time.Duration, err error) {
	m.fetches.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.fetchDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) Publish(_ string, size int64, err error) {
	m.publishes.WithLabelValues(status(err)).Inc()
	if err == nil {
		m.publishedBytes.Set(float64(size))
	}
}
