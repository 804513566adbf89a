package stats

import (
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	Namespace = "HDFS"
)

var (
	Gather = prometheus.NewRegistry()

	ReceivedHeartbeatCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "received_heartbeats",
			Help:      "Counter of received node heartbeats.",
		}, []string{"type"})

	HeartbeatProcessingHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "heartbeat_seconds",
			Help:      "Bucketed histogram of heartbeat processing time.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 20),
		})

	BlockReportCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "block_reports",
			Help:      "Counter of processed block reports.",
		}, []string{"type"})

	StaleReplicaReportCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "ingest",
			Name:      "stale_replica_reports",
			Help:      "Counter of replica reports rejected for an old generation stamp.",
		})

	LowRedundancyBlocks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "redundancy",
			Name:      "low_redundancy_blocks",
			Help:      "Number of blocks below their redundancy target, by priority.",
		}, []string{"priority"})

	DataAtRiskBlocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "redundancy",
			Name:      "data_at_risk_blocks",
			Help:      "Blocks with zero live replicas or below the reconstruction floor.",
		})

	CorruptReplicas = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "redundancy",
			Name:      "corrupt_replicas",
			Help:      "Replicas currently flagged corrupt.",
		})

	ExcessBlocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "redundancy",
			Name:      "excess_blocks",
			Help:      "Blocks with more replicas than their target.",
		})

	PendingReconstructionBlocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "redundancy",
			Name:      "pending_reconstruction_blocks",
			Help:      "Work items handed to nodes and not yet confirmed.",
		})

	TimedOutReconstructionCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "redundancy",
			Name:      "timed_out_reconstructions",
			Help:      "Counter of reconstruction work items re-emitted after a timeout.",
		})

	EmittedWorkCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "emitted_work",
			Help:      "Counter of scheduled repair work items by strategy.",
		}, []string{"strategy"})

	PlacementFailureCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scheduler",
			Name:      "placement_failures",
			Help:      "Counter of placement attempts that found too few eligible nodes.",
		}, []string{"mode"})

	DeadNodeCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "topology",
			Name:      "dead_nodes",
			Help:      "Counter of nodes declared dead or fatally failed.",
		}, []string{"reason"})

	DecommissioningNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "topology",
			Name:      "decommissioning_nodes",
			Help:      "Nodes currently draining their replicas.",
		})
)

func init() {
	Gather.MustRegister(
		ReceivedHeartbeatCounter,
		HeartbeatProcessingHistogram,
		BlockReportCounter,
		StaleReplicaReportCounter,
		LowRedundancyBlocks,
		DataAtRiskBlocks,
		CorruptReplicas,
		ExcessBlocks,
		PendingReconstructionBlocks,
		TimedOutReconstructionCounter,
		EmittedWorkCounter,
		PlacementFailureCounter,
		DeadNodeCounter,
		DecommissioningNodes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func SetLowRedundancyBlocks(priority int, count int) {
	LowRedundancyBlocks.WithLabelValues(strconv.Itoa(priority)).Set(float64(count))
}

func StartMetricsServer(addr string) {
	if addr == "" {
		return
	}
	http.Handle("/metrics", promhttp.HandlerFor(Gather, promhttp.HandlerOpts{}))
	go func() {
		for {
			err := http.ListenAndServe(addr, nil)
			glog.Errorf("metrics server on %s: %v", addr, err)
			time.Sleep(10 * time.Second)
		}
	}()
}
