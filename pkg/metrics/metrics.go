package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Node Lifecycle Manager metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_nodes_total",
			Help: "Total number of nodes by type and state",
		},
		[]string{"type", "state"},
	)

	NodeTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_node_transitions_total",
			Help: "Total number of node state transitions by from/to state",
		},
		[]string{"from", "to"},
	)

	// Routing Policy Reconciler metrics
	RoutingPoliciesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_routing_policies_total",
			Help: "Total number of routing policies known to the reconciler",
		},
	)

	EndpointsConfiguredOut = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_endpoints_configured_out",
			Help: "Number of endpoints currently configured out of routing",
		},
	)

	NXDomainSafetyPromotions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_nxdomain_safety_promotions_total",
			Help: "Total number of times the NXDOMAIN-safety rule promoted an inactive target set to active",
		},
	)

	// Deployment Pipeline Runner metrics
	RunsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_runs_total",
			Help: "Total number of runs by status",
		},
		[]string{"status"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_step_duration_seconds",
			Help:    "Time taken to execute one pipeline step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	StepRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_step_retries_total",
			Help: "Total number of transient-error step retries",
		},
		[]string{"step"},
	)

	// Raft metrics — still a Raft cluster underneath the coordination store.
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_raft_is_leader",
			Help: "Whether this replica is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleet_raft_apply_duration_seconds",
			Help:    "Time taken to apply a Raft log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciliation loop metrics, shared label set across the three engines.
	ReconciliationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_reconciliation_duration_seconds",
			Help:    "Time taken for one reconciliation pass",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"engine"},
	)

	ReconciliationCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_reconciliation_cycles_total",
			Help: "Total number of reconciliation passes completed",
		},
		[]string{"engine"},
	)

	// Name-Service Forwarder metrics
	ForwarderQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_forwarder_queue_depth",
			Help: "Current number of pending DNS change requests",
		},
	)

	ForwarderDuplicatesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleet_forwarder_duplicates_dropped_total",
			Help: "Total number of duplicate DNS change requests absorbed",
		},
	)

	// Lock contention metrics
	LockWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleet_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire a named lock",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"lock"},
	)
)

func init() {
	prometheus.MustRegister(
		NodesTotal,
		NodeTransitionsTotal,
		RoutingPoliciesTotal,
		EndpointsConfiguredOut,
		NXDomainSafetyPromotions,
		RunsTotal,
		StepDuration,
		StepRetriesTotal,
		RaftLeader,
		RaftPeers,
		RaftApplyDuration,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ForwarderQueueDepth,
		ForwarderDuplicatesDropped,
		LockWaitDuration,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
