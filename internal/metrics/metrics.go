// Package metrics exposes the engine's counters and gauges on an
// in-process prometheus registry. The process has no network surface
// beyond stdio (spec.md §6), so nothing here is ever bound to an HTTP
// listener -- Snapshot lets callers (tests, cmd/node) read current
// values directly.
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters/gauges the dispatch engine updates while
// processing envelopes.
type Metrics struct {
	registry *prometheus.Registry

	EnvelopesProcessed  prometheus.Counter
	DuplicatesDropped   prometheus.Counter
	GapsDetected        prometheus.Counter
	SyncRequestsSent    prometheus.Counter
	BroadcastsForwarded prometheus.Counter
	UnackedMessages     *prometheus.GaugeVec
}

// New constructs a Metrics bound to a fresh, private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		EnvelopesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gossip_envelopes_processed_total",
			Help: "Envelopes that reached handler fan-out.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gossip_duplicates_dropped_total",
			Help: "Inbound envelopes dropped as duplicate deliveries.",
		}),
		GapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gossip_gaps_detected_total",
			Help: "Inbound sequence gaps that triggered a sync_request.",
		}),
		SyncRequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gossip_sync_requests_sent_total",
			Help: "sync_request envelopes emitted.",
		}),
		BroadcastsForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gossip_broadcasts_forwarded_total",
			Help: "broadcast envelopes relayed to a forwarding target.",
		}),
		UnackedMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gossip_unacked_messages",
			Help: "Current size of a peer's un_ack_messages buffer.",
		}, []string{"peer"}),
	}

	registry.MustRegister(
		m.EnvelopesProcessed,
		m.DuplicatesDropped,
		m.GapsDetected,
		m.SyncRequestsSent,
		m.BroadcastsForwarded,
		m.UnackedMessages,
	)
	return m
}

// Snapshot collects current counter values for diagnostics/tests
// without scraping an HTTP endpoint.
func (m *Metrics) Snapshot() map[string]float64 {
	return map[string]float64{
		"envelopes_processed":  readCounter(m.EnvelopesProcessed),
		"duplicates_dropped":   readCounter(m.DuplicatesDropped),
		"gaps_detected":        readCounter(m.GapsDetected),
		"sync_requests_sent":   readCounter(m.SyncRequestsSent),
		"broadcasts_forwarded": readCounter(m.BroadcastsForwarded),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
