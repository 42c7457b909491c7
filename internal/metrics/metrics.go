// Package metrics exports reconcile run results in the Prometheus
// textfile-collector format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/uclllabs/sasm-dns/internal/reconcile"
)

const (
	namespace = "sasm_dns"

	passLabel    = "pass"
	outcomeLabel = "outcome"
)

// Recorder holds the run metrics in its own registry.
type Recorder struct {
	registry *prometheus.Registry

	outcomes     *prometheus.CounterVec
	passDuration *prometheus.GaugeVec
	lastRun      prometheus.Gauge
	changes      *prometheus.GaugeVec
}

// NewRecorder creates a recorder with every metric registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Units processed per pass and outcome.",
		}, []string{passLabel, outcomeLabel}),
		passDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of the last run of each pass.",
		}, []string{passLabel}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		changes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "changes",
			Help:      "Objects changed by the last run.",
		}, []string{"kind"}),
	}
	r.registry.MustRegister(r.outcomes, r.passDuration, r.lastRun, r.changes)
	return r
}

// Observe records report. finished is the time the run ended.
func (r *Recorder) Observe(report *reconcile.Report, finished time.Time) {
	for _, e := range report.Entries {
		r.outcomes.With(prometheus.Labels{
			passLabel:    string(e.Pass),
			outcomeLabel: e.Outcome,
		}).Inc()
	}
	for pass, d := range report.Durations {
		r.passDuration.With(prometheus.Labels{passLabel: string(pass)}).Set(d.Seconds())
	}

	for kind, n := range map[string]int{
		"zones_deleted":  report.ZonesDeleted,
		"zones_created":  report.ZonesCreated,
		"rrsets_deleted": report.RRsetsDeleted,
		"rrsets_created": report.RRsetsCreated,
		"rrsets_updated": report.RRsetsUpdated,
		"ptrs_written":   report.PTRsWritten,
	} {
		r.changes.With(prometheus.Labels{"kind": kind}).Set(float64(n))
	}
	r.lastRun.Set(float64(finished.Unix()))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
