package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Instruments holds the Prometheus collectors for the backup pipeline.
type Instruments struct {
	BackupResources *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	RunsTotal       *prometheus.CounterVec
	SweepDeleted    *prometheus.CounterVec
	RestoreTotal    *prometheus.CounterVec
}

// NewInstruments registers the pipeline collectors on reg.
func NewInstruments(reg prometheus.Registerer) *Instruments {
	factory := promauto.With(reg)

	return &Instruments{
		BackupResources: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backupd_resources_total",
			Help: "Backed-up resources by kind and result",
		}, []string{"kind", "result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "backupd_run_duration_seconds",
			Help:    "Duration of each backup orchestration pass",
			Buckets: prometheus.DefBuckets,
		}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backupd_runs_total",
			Help: "Backup runs by terminal state",
		}, []string{"state"}),
		SweepDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backupd_sweep_deleted_total",
			Help: "Backup records deleted by the retention sweep",
		}, []string{"kind"}),
		RestoreTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "backupd_restores_total",
			Help: "Restore operations by kind and result",
		}, []string{"kind", "result"}),
	}
}
