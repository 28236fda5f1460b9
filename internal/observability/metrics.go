package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	TrackedTabs     prometheus.Gauge
	SweepRuns       *prometheus.CounterVec
	TabsSuspended   prometheus.Counter
	EvalReasons     *prometheus.CounterVec
	PersistFlushes  *prometheus.CounterVec
	BridgeMessages  *prometheus.CounterVec
	BridgeRPCErrors *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		TrackedTabs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_tabs",
			Help:      "Number of tabs with an activity record.",
		}),
		SweepRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Suspend sweep runs by result.",
		}, []string{"result"}),
		TabsSuspended: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tabs_suspended_total",
			Help:      "Tabs replaced with the suspended placeholder.",
		}),
		EvalReasons: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eval_reasons_total",
			Help:      "Policy evaluations by decision reason.",
		}, []string{"reason"}),
		PersistFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_flushes_total",
			Help:      "Persistence queue flushes by store and result.",
		}, []string{"store", "result"}),
		BridgeMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_messages_total",
			Help:      "Extension bridge messages by direction and type.",
		}, []string{"direction", "type"}),
		BridgeRPCErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_rpc_errors_total",
			Help:      "Extension bridge RPC failures by kind.",
		}, []string{"kind"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
