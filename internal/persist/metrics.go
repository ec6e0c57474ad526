package persist

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the persistence counters exported on /metrics.
type Metrics struct {
	Flushes      *prometheus.CounterVec
	FlushErrors  *prometheus.CounterVec
	Backups      prometheus.Counter
	BackupErrors prometheus.Counter
	LastBackup   prometheus.GaugeFunc
}

// NewMetrics creates and registers the persistence metrics. lastBackup
// reports the time of the most recent backup.
func NewMetrics(reg prometheus.Registerer, lastBackup func() float64) *Metrics {
	m := &Metrics{
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wppdash",
			Subsystem: "persist",
			Name:      "flushes_total",
			Help:      "Successful dataset flushes to disk.",
		}, []string{"dataset"}),
		FlushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wppdash",
			Subsystem: "persist",
			Name:      "flush_errors_total",
			Help:      "Failed dataset flushes; the dataset stays dirty.",
		}, []string{"dataset"}),
		Backups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wppdash",
			Subsystem: "persist",
			Name:      "backups_total",
			Help:      "Snapshot backups created.",
		}),
		BackupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wppdash",
			Subsystem: "persist",
			Name:      "backup_errors_total",
			Help:      "Snapshot backups that failed.",
		}),
		LastBackup: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "wppdash",
			Subsystem: "persist",
			Name:      "last_backup_timestamp_seconds",
			Help:      "Unix time of the most recent backup.",
		}, lastBackup),
	}
	if reg != nil {
		reg.MustRegister(m.Flushes, m.FlushErrors, m.Backups, m.BackupErrors, m.LastBackup)
	}
	return m
}
