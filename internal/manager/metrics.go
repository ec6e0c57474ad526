package manager

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the session counters exported on /metrics.
type Metrics struct {
	Connects     prometheus.Counter
	Reconnects   prometheus.Counter
	Messages     *prometheus.CounterVec
	SendFailures prometheus.Counter
	Connected    prometheus.GaugeFunc
}

// NewMetrics creates and registers the session metrics. connected reports
// 1 while the connection is open.
func NewMetrics(reg prometheus.Registerer, connected func() float64) *Metrics {
	m := &Metrics{
		Connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wppdash",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Protocol client initializations.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wppdash",
			Subsystem: "session",
			Name:      "reconnects_scheduled_total",
			Help:      "Automatic reconnects scheduled after a non-terminal close.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wppdash",
			Subsystem: "session",
			Name:      "messages_total",
			Help:      "Messages recorded, by direction.",
		}, []string{"direction"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wppdash",
			Subsystem: "session",
			Name:      "send_failures_total",
			Help:      "Outgoing messages that could not be sent.",
		}),
		Connected: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "wppdash",
			Subsystem: "session",
			Name:      "connected",
			Help:      "1 while the WhatsApp connection is open.",
		}, connected),
	}
	if reg != nil {
		reg.MustRegister(m.Connects, m.Reconnects, m.Messages, m.SendFailures, m.Connected)
	}
	return m
}
