// Package metrics exports the outcome of a backup run to a Prometheus
// Pushgateway. A CLI run is too short-lived to be scraped, so every run
// builds its own registry and pushes it once.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"adhoc-backup/internal/backup"
)

// DefaultJob is the Pushgateway job name used when none is configured.
const DefaultJob = "adhoc_backup"

// Run holds the metrics of one backup run.
type Run struct {
	registry *prometheus.Registry

	Duration    prometheus.Gauge
	Files       prometheus.Gauge
	Bytes       prometheus.Gauge
	Skips       prometheus.Gauge
	LastSuccess prometheus.Gauge
	Outcome     *prometheus.GaugeVec
}

// NewRun creates a fresh set of run metrics on a private registry.
func NewRun() *Run {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Run{
		registry: reg,
		Duration: factory.NewGauge(prometheus.GaugeOpts{
			Name: "adhoc_backup_duration_seconds",
			Help: "Wall-clock duration of the last backup run.",
		}),
		Files: factory.NewGauge(prometheus.GaugeOpts{
			Name: "adhoc_backup_files",
			Help: "Number of files staged by the last backup run.",
		}),
		Bytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "adhoc_backup_bytes",
			Help: "Content bytes staged by the last backup run.",
		}),
		Skips: factory.NewGauge(prometheus.GaugeOpts{
			Name: "adhoc_backup_skipped_sources",
			Help: "Number of sources skipped by the last backup run.",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "adhoc_backup_last_success_timestamp_seconds",
			Help: "Unix time of the last successful backup run.",
		}),
		Outcome: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "adhoc_backup_outcome",
			Help: "1 for the final state of the last backup run, 0 otherwise.",
		}, []string{"state"}), // state: done, failed
	}
}

// Observe fills the metrics from a run result.
func (r *Run) Observe(res *backup.Result) {
	r.Duration.Set(res.FinishedAt.Sub(res.StartedAt).Seconds())
	r.Files.Set(float64(len(res.Items)))
	r.Bytes.Set(float64(res.TotalBytes()))
	r.Skips.Set(float64(len(res.Skips)))

	done := res.State == backup.StateDone
	if done {
		r.LastSuccess.Set(float64(res.FinishedAt.Unix()))
		r.Outcome.WithLabelValues(backup.StateDone.String()).Set(1)
		r.Outcome.WithLabelValues(backup.StateFailed.String()).Set(0)
	} else {
		r.Outcome.WithLabelValues(backup.StateDone.String()).Set(0)
		r.Outcome.WithLabelValues(backup.StateFailed.String()).Set(1)
	}
}

// Gatherer exposes the run registry.
func (r *Run) Gatherer() prometheus.Gatherer { return r.registry }

// Push sends the run metrics to the Pushgateway at url, grouped by host.
// Failed runs do not carry a last success timestamp, so they are added to
// the group instead of replacing it.
func (r *Run) Push(ctx context.Context, url, job, hostID string, replace bool) error {
	if job == "" {
		job = DefaultJob
	}
	p := push.New(url, job).Gatherer(r.registry)
	if hostID != "" {
		p = p.Grouping("host", hostID)
	}

	var err error
	if replace {
		err = p.PushContext(ctx)
	} else {
		err = p.AddContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("pushing metrics: %w", err)
	}
	return nil
}
