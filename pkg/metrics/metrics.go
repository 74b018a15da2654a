// Package metrics exposes keeper run results as Prometheus metrics, over
// HTTP for long-running watch mode or as a node_exporter textfile for
// cron-driven one-shot runs.
package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

const namespace = "epoch_keeper"

// Recorder tracks keeper activity. The zero value is not usable; use New.
type Recorder struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	actions        *prometheus.CounterVec
	errors         *prometheus.CounterVec
	runDuration    prometheus.Histogram
	lastRun        prometheus.Gauge
	operatingRate  prometheus.Gauge
	targetRate     prometheus.Gauge
	rateInSync     prometheus.Gauge
	epochID        prometheus.Gauge
	epochRemaining prometheus.Gauge
}

// New creates a Recorder backed by its own registry
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Keeper passes by result",
			},
			[]string{"mode", "result"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Maintenance actions by kind and outcome",
			},
			[]string{"action", "outcome"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Classified action failures by category",
			},
			[]string{"category"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a keeper pass",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
			},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last pass finished",
		}),
		operatingRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operating_rate_percent",
			Help:      "Interest rate the vault currently applies",
		}),
		targetRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_rate_percent",
			Help:      "Interest rate published by the rate source",
		}),
		rateInSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_in_sync",
			Help:      "1 when the vault rate matches the source rate",
		}),
		epochID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_epoch_id",
			Help:      "Current epoch identifier",
		}),
		epochRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch_seconds_remaining",
			Help:      "Seconds until the current epoch ends, 0 once due",
		}),
	}

	r.registry.MustRegister(
		r.runs,
		r.actions,
		r.errors,
		r.runDuration,
		r.lastRun,
		r.operatingRate,
		r.targetRate,
		r.rateInSync,
		r.epochID,
		r.epochRemaining,
	)

	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// RecordRun records a finished pass
func (r *Recorder) RecordRun(mode string, ok bool, duration time.Duration, finished time.Time) {
	result := "success"
	if !ok {
		result = "failure"
	}
	r.runs.WithLabelValues(mode, result).Inc()
	r.runDuration.Observe(duration.Seconds())
	r.lastRun.Set(float64(finished.Unix()))
}

// RecordAction counts one action outcome
func (r *Recorder) RecordAction(action, outcome string) {
	r.actions.WithLabelValues(action, outcome).Inc()
}

// RecordError counts one classified failure
func (r *Recorder) RecordError(category string) {
	r.errors.WithLabelValues(category).Inc()
}

// SetRates records the operating and target rates in percent
func (r *Recorder) SetRates(operating, target float64) {
	r.operatingRate.Set(operating)
	r.targetRate.Set(target)
	if operating == target {
		r.rateInSync.Set(1)
	} else {
		r.rateInSync.Set(0)
	}
}

// SetEpoch records the current epoch and how long it has left
func (r *Recorder) SetEpoch(id uint64, remaining time.Duration) {
	r.epochID.Set(float64(id))
	if remaining < 0 {
		remaining = 0
	}
	r.epochRemaining.Set(remaining.Seconds())
}

// Handler serves the registry at /metrics
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Encode renders all metrics in the Prometheus text format
func (r *Recorder) Encode() ([]byte, error) {
	families, err := r.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.FmtText)
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return nil, fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}

// WriteTextfile atomically writes the metrics to path for node_exporter's
// textfile collector
func (r *Recorder) WriteTextfile(path string) error {
	data, err := r.Encode()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write metrics file: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
