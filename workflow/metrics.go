package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for graph compilation and
// execution, namespaced "kanworkflow_".
//
//  1. inflight_nodes (gauge): nodes currently executing. Labels: run_id.
//  2. queue_depth (gauge): nodes dispatched to the job system but not yet
//     started. Labels: run_id.
//  3. node_latency_ms (histogram): node execution duration. Labels: node_id.
//  4. race_rejections_total (counter): Finalize calls that failed with a
//     race or cycle error. Labels: reason (race/cycle).
//  5. checkpoints_elided_total (counter): checkpoint nodes removed during
//     compilation.
type Metrics struct {
	inflightNodes  *prometheus.GaugeVec
	queueDepth     *prometheus.GaugeVec
	nodeLatency    *prometheus.HistogramVec
	raceRejections *prometheus.CounterVec
	elidedTotal    prometheus.Counter
}

// NewMetrics registers the workflow metrics with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		inflightNodes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kanworkflow",
			Name:      "inflight_nodes",
			Help:      "Nodes currently executing for a run.",
		}, []string{"run_id"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "kanworkflow",
			Name:      "queue_depth",
			Help:      "Nodes dispatched but not yet started for a run.",
		}, []string{"run_id"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kanworkflow",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds.",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000},
		}, []string{"node_id"}),
		raceRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kanworkflow",
			Name:      "race_rejections_total",
			Help:      "Finalize calls rejected for a race or cycle.",
		}, []string{"reason"}),
		elidedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kanworkflow",
			Name:      "checkpoints_elided_total",
			Help:      "Checkpoint nodes removed during compilation.",
		}),
	}
}

func (m *Metrics) nodeStarted(runID string) {
	m.inflightNodes.WithLabelValues(runID).Inc()
}

func (m *Metrics) nodeFinished(runID, nodeID string, latencyMs float64) {
	m.inflightNodes.WithLabelValues(runID).Dec()
	m.nodeLatency.WithLabelValues(nodeID).Observe(latencyMs)
}

func (m *Metrics) queued(runID string, delta float64) {
	m.queueDepth.WithLabelValues(runID).Add(delta)
}

func (m *Metrics) rejected(reason string) {
	m.raceRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) checkpointElided() {
	m.elidedTotal.Inc()
}
