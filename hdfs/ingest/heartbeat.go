package ingest

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/hidataplus/hadoop-sub001/hdfs/blockmap"
	"github.com/hidataplus/hadoop-sub001/hdfs/command"
	"github.com/hidataplus/hadoop-sub001/hdfs/redundancy"
	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

// StorageReport is one storage's slice of a heartbeat.
type StorageReport struct {
	Id       types.StorageId
	Type     types.StorageType
	Capacity uint64
	Used     uint64
	Failed   bool
}

// maxCommandsPerHeartbeat bounds the work handed out in one response so a
// node returning from a long absence is not buried.
const maxCommandsPerHeartbeat = 32

// HeartbeatManager is the node-facing entry point: it registers nodes and
// storages from heartbeats, enforces the volume failure tolerance, and
// hands back queued commands.
type HeartbeatManager struct {
	topo      *topology.Topology
	bm        *blockmap.BlocksMap
	cmdQueues *command.Queues
	pending   *redundancy.Pending

	failedVolumesTolerated atomic.Int64
}

func NewHeartbeatManager(topo *topology.Topology, bm *blockmap.BlocksMap,
	cmdQueues *command.Queues, pending *redundancy.Pending, failedVolumesTolerated int) *HeartbeatManager {
	h := &HeartbeatManager{
		topo:      topo,
		bm:        bm,
		cmdQueues: cmdQueues,
		pending:   pending,
	}
	h.failedVolumesTolerated.Store(int64(failedVolumesTolerated))
	return h
}

// SetFailedVolumesTolerated adjusts the tolerance at runtime. Takes effect
// on the next heartbeat of each node.
func (h *HeartbeatManager) SetFailedVolumesTolerated(n int) {
	h.failedVolumesTolerated.Store(int64(n))
}

// Heartbeat processes one heartbeat and returns the commands the node
// should execute. A node past its volume failure tolerance gets a single
// shutdown command and nothing else, now and on every later heartbeat.
func (h *HeartbeatManager) Heartbeat(nodeId topology.NodeId, rackId topology.RackId, reports []StorageReport) ([]command.Command, error) {
	start := time.Now()
	defer func() {
		stats.HeartbeatProcessingHistogram.Observe(time.Since(start).Seconds())
	}()
	stats.ReceivedHeartbeatCounter.WithLabelValues("node").Inc()

	if nodeId == "" {
		return nil, fmt.Errorf("heartbeat without a node id from rack %s", rackId)
	}
	if rackId == "" {
		rackId = topology.RackId("/default-rack")
	}

	dn := h.topo.RegisterNode(nodeId, rackId)
	if dn.IsFatal() {
		return []command.Command{{Kind: command.Shutdown}}, nil
	}

	var totalCapacity, totalUsed uint64
	for _, r := range reports {
		if r.Id == "" {
			r.Id = types.StorageId(uuid.New().String())
			glog.V(0).Infof("minted storage id %s for node %s", r.Id, nodeId)
		}
		st := h.topo.RegisterStorage(dn, r.Id, types.NormalizeStorageType(r.Type))
		st.UpdateUsage(r.Capacity, r.Used)
		totalCapacity += r.Capacity
		totalUsed += r.Used
		if !r.Failed {
			continue
		}
		failures := dn.RecordVolumeFailure(r.Id)
		h.purgeStorage(r.Id)
		if failures > int(h.failedVolumesTolerated.Load()) {
			return h.shutdownNode(dn, failures), nil
		}
	}
	glog.V(2).Infof("heartbeat from %s: %d storages, %s of %s used",
		nodeId, len(reports), humanize.Bytes(totalUsed), humanize.Bytes(totalCapacity))

	return h.cmdQueues.Drain(nodeId, maxCommandsPerHeartbeat), nil
}

// shutdownNode takes a node past its failure tolerance out of service:
// every replica it held becomes unavailable at once and the deficiency
// scan picks the pieces up.
func (h *HeartbeatManager) shutdownNode(dn *topology.DataNode, failures int) []command.Command {
	glog.Errorf("node %s has %d failed volumes, tolerated %d, shutting it down",
		dn.Id(), failures, h.failedVolumesTolerated.Load())
	dn.MarkFatal()
	h.cmdQueues.Purge(dn.Id())
	for _, st := range dn.Storages() {
		h.purgeStorage(st.Id)
	}
	return []command.Command{{Kind: command.Shutdown}}
}

// purgeStorage drops a storage's replicas from the graph and requeues any
// repair that expected a result there.
func (h *HeartbeatManager) purgeStorage(id types.StorageId) {
	touched := h.bm.RemoveStorage(id)
	for _, blockId := range touched {
		h.bm.MarkDirty(blockId)
	}
	for _, blockId := range h.pending.CancelForStorages([]types.StorageId{id}) {
		h.bm.MarkDirty(blockId)
	}
}

// SweepDeadNodes removes nodes whose heartbeats stopped long enough ago
// and dirties every block they held. Called periodically by the manager
// loop.
func (h *HeartbeatManager) SweepDeadNodes() (removed int) {
	for _, dn := range h.topo.CollectDeadNodes() {
		reason := "heartbeat_timeout"
		if dn.IsFatal() {
			reason = "volume_failures"
		}
		glog.Warningf("removing dead node %s (%s)", dn.Id(), reason)
		h.cmdQueues.Purge(dn.Id())
		for _, st := range h.topo.RemoveNode(dn.Id(), reason) {
			h.purgeStorage(st.Id)
		}
		removed++
	}
	return
}
