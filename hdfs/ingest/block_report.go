package ingest

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/hidataplus/hadoop-sub001/hdfs/blockmap"
	"github.com/hidataplus/hadoop-sub001/hdfs/command"
	"github.com/hidataplus/hadoop-sub001/hdfs/sequence"
	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

// ReplicaSummary is one replica as a node reports it.
type ReplicaSummary struct {
	Id              types.BlockId
	GenerationStamp types.GenerationStamp
	Slot            int
	Length          uint64
	Finalized       bool
}

// ReportIngestor reconciles node block reports into the block map. Full
// reports are authoritative for their storage: anything the node no longer
// reports is gone, anything the map has never heard of gets invalidated on
// the node.
type ReportIngestor struct {
	topo      *topology.Topology
	bm        *blockmap.BlocksMap
	cmdQueues *command.Queues
	seq       *sequence.Sequencer
	confirm   func(types.BlockId, types.StorageId)
}

// NewReportIngestor wires the ingestor. confirm is called for every replica
// that appears on a storage, letting the repair tracker close out expected
// work. Reported generation stamps raise the sequencer floor so a restarted
// coordinator never re-mints a stamp already on disk somewhere.
func NewReportIngestor(topo *topology.Topology, bm *blockmap.BlocksMap,
	cmdQueues *command.Queues, seq *sequence.Sequencer, confirm func(types.BlockId, types.StorageId)) *ReportIngestor {
	return &ReportIngestor{topo: topo, bm: bm, cmdQueues: cmdQueues, seq: seq, confirm: confirm}
}

// FullReport replaces the recorded contents of one storage with what the
// node reports.
func (ri *ReportIngestor) FullReport(nodeId topology.NodeId, storageId types.StorageId, replicas []ReplicaSummary) error {
	stats.BlockReportCounter.WithLabelValues("full").Inc()
	if err := ri.checkStorage(nodeId, storageId); err != nil {
		return err
	}

	known := make(map[types.BlockId]struct{})
	for _, id := range ri.bm.ListBlocks(storageId) {
		known[id] = struct{}{}
	}

	var unknown []types.BlockId
	for _, r := range replicas {
		delete(known, r.Id)
		if !ri.record(storageId, r) {
			unknown = append(unknown, r.Id)
		}
	}

	// anything recorded but absent from the report no longer exists there
	for id := range known {
		if ri.bm.RemoveReplica(id, storageId) {
			ri.bm.MarkDirty(id)
			glog.V(1).Infof("replica of %s vanished from %s", id, storageId)
		}
	}

	if len(unknown) > 0 {
		glog.Warningf("storage %s reported %d blocks this namespace does not track", storageId, len(unknown))
		ri.cmdQueues.Enqueue(nodeId, command.Command{
			Kind:           command.Invalidate,
			Blocks:         unknown,
			TargetStorages: []types.StorageId{storageId},
		})
	}
	return nil
}

// IncrementalReport applies received and deleted replica deltas between
// full reports.
func (ri *ReportIngestor) IncrementalReport(nodeId topology.NodeId, storageId types.StorageId,
	received []ReplicaSummary, deleted []types.BlockId) error {
	stats.BlockReportCounter.WithLabelValues("incremental").Inc()
	if err := ri.checkStorage(nodeId, storageId); err != nil {
		return err
	}

	var unknown []types.BlockId
	for _, r := range received {
		if !ri.record(storageId, r) {
			unknown = append(unknown, r.Id)
		}
	}
	for _, id := range deleted {
		if ri.bm.RemoveReplica(id, storageId) {
			ri.bm.MarkDirty(id)
		}
	}
	if len(unknown) > 0 {
		ri.cmdQueues.Enqueue(nodeId, command.Command{
			Kind:           command.Invalidate,
			Blocks:         unknown,
			TargetStorages: []types.StorageId{storageId},
		})
	}
	return nil
}

// ReportBadBlock marks a replica a reader found unreadable. The block is
// dirtied so the next scan schedules its repair.
func (ri *ReportIngestor) ReportBadBlock(storageId types.StorageId, id types.BlockId) error {
	if !ri.bm.MarkCorrupt(id, storageId) {
		return fmt.Errorf("no replica of %s recorded on %s", id, storageId)
	}
	ri.bm.MarkDirty(id)
	glog.Warningf("replica of %s on %s reported corrupt", id, storageId)
	return nil
}

// record stores one reported replica. Returns false when the block is not
// tracked at all; stale generation stamps are swallowed inside the map.
func (ri *ReportIngestor) record(storageId types.StorageId, r ReplicaSummary) bool {
	ri.seq.SetMaxGenerationStamp(r.GenerationStamp)
	slot := r.Slot
	if info, ok := ri.bm.GetBlock(r.Id); !ok {
		return false
	} else if !info.IsStriped() {
		slot = blockmap.NoSlot
	}
	state := types.UnderConstruction
	if r.Finalized {
		state = types.Finalized
	}
	added, err := ri.bm.AddReplica(r.Id, storageId, slot, r.GenerationStamp, state)
	if err != nil {
		return false
	}
	if added {
		ri.bm.MarkDirty(r.Id)
	}
	if state == types.Finalized && ri.confirm != nil {
		ri.confirm(r.Id, storageId)
	}
	return true
}

func (ri *ReportIngestor) checkStorage(nodeId topology.NodeId, storageId types.StorageId) error {
	dn, ok := ri.topo.GetNode(nodeId)
	if !ok {
		return fmt.Errorf("report from unregistered node %s", nodeId)
	}
	if dn.IsFatal() {
		return fmt.Errorf("report from node %s which is shut down", nodeId)
	}
	if _, ok := dn.GetStorage(storageId); !ok {
		return fmt.Errorf("report for storage %s not registered on node %s", storageId, nodeId)
	}
	return nil
}
