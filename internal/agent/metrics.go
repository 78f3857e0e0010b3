package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the agent. A nil *Metrics disables instrumentation,
// so call sites never branch on it.
type Metrics struct {
	updates  prometheus.Counter
	syncs    prometheus.Counter
	inserted prometheus.Counter
	records  prometheus.Gauge
	lastLoss prometheus.Gauge
}

// NewMetrics registers the agent metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		updates: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plexus", Subsystem: "agent", Name: "update_rounds_total",
			Help: "Update rounds completed.",
		}),
		syncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plexus", Subsystem: "agent", Name: "target_syncs_total",
			Help: "Target network syncs, scheduled and manual.",
		}),
		inserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "plexus", Subsystem: "agent", Name: "records_inserted_total",
			Help: "Records inserted into the replay memory.",
		}),
		records: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "plexus", Subsystem: "agent", Name: "memory_records",
			Help: "Records currently held by the replay memory.",
		}),
		lastLoss: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "plexus", Subsystem: "agent", Name: "last_loss",
			Help: "Scalar loss of the most recent update round.",
		}),
	}
}

func (m *Metrics) observeUpdate(loss float64, synced bool) {
	if m == nil {
		return
	}
	m.updates.Inc()
	if synced {
		m.syncs.Inc()
	}
	m.lastLoss.Set(loss)
}

func (m *Metrics) observeSync() {
	if m == nil {
		return
	}
	m.syncs.Inc()
}

func (m *Metrics) observeInsert(n, held int) {
	if m == nil {
		return
	}
	m.inserted.Add(float64(n))
	m.records.Set(float64(held))
}
