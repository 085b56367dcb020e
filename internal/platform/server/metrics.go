package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	webhookEventsTotal   *prometheus.CounterVec
	providerCallsTotal   *prometheus.CounterVec
	orchestrationsTotal  *prometheus.CounterVec
	storeConflictsTotal  prometheus.Counter
	staleRegistrations   prometheus.Gauge
	staleScanLastRunUnix prometheus.Gauge
	staleScanRunsTotal   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		webhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Total webhook events partitioned by kind and result.",
			},
			[]string{"kind", "result"},
		),
		providerCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "provider",
				Name:      "calls_total",
				Help:      "Total provider API calls partitioned by operation and result.",
			},
			[]string{"op", "result"},
		),
		orchestrationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "payments",
				Name:      "orchestrations_total",
				Help:      "Total payment workflows partitioned by workflow and result.",
			},
			[]string{"workflow", "result"},
		),
		storeConflictsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "store",
				Name:      "version_conflicts_total",
				Help:      "Total optimistic concurrency conflicts hit by writers.",
			},
		),
		staleRegistrations: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "paygate",
				Subsystem: "payments",
				Name:      "stale_registrations",
				Help:      "Current count of outbound legs stuck in the registering state.",
			},
		),
		staleScanLastRunUnix: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "paygate",
				Subsystem: "payments",
				Name:      "stale_scan_last_run_unix",
				Help:      "Unix time of the most recent stale registration scan.",
			},
		),
		staleScanRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "paygate",
				Subsystem: "payments",
				Name:      "stale_scan_runs_total",
				Help:      "Total stale registration scans partitioned by result.",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) ObserveWebhookEvent(kind, result string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveProviderCall(op, result string) {
	if m == nil {
		return
	}
	m.providerCallsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) ObserveOrchestration(workflow, result string) {
	if m == nil {
		return
	}
	m.orchestrationsTotal.WithLabelValues(workflow, result).Inc()
}

func (m *Metrics) ObserveStoreConflict() {
	if m == nil {
		return
	}
	m.storeConflictsTotal.Inc()
}

func (m *Metrics) ObserveStaleScan(count int, err error) {
	if m == nil {
		return
	}
	m.staleScanLastRunUnix.Set(float64(time.Now().UTC().Unix()))
	if err != nil {
		m.staleScanRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.staleScanRunsTotal.WithLabelValues("success").Inc()
	m.staleRegistrations.Set(float64(count))
}
