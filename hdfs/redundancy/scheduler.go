package redundancy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/glog"

	"github.com/hidataplus/hadoop-sub001/hdfs/blockmap"
	"github.com/hidataplus/hadoop-sub001/hdfs/command"
	"github.com/hidataplus/hadoop-sub001/hdfs/placement"
	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

// ErrUnrecoverable marks a striped group with fewer present internal
// blocks than its data-slot floor: no decode is possible until more nodes
// or racks come back.
var ErrUnrecoverable = errors.New("fewer present internal blocks than the decode floor")

// ErrNothingToDo means re-evaluation found the block healthy.
var ErrNothingToDo = errors.New("block already satisfied")

// Scheduler turns a deficient block into the cheapest repair that fixes
// it, places the new replicas, and queues the command on the source node.
type Scheduler struct {
	topo    *topology.Topology
	bm      *blockmap.BlocksMap
	policy  *placement.Policy
	queues  *command.Queues
	pending *Pending
}

func NewScheduler(topo *topology.Topology, bm *blockmap.BlocksMap, policy *placement.Policy, queues *command.Queues, pending *Pending) *Scheduler {
	s := &Scheduler{topo: topo, bm: bm, policy: policy, queues: queues, pending: pending}
	pending.OnRelease(func(id types.StorageId, reconstruct bool) {
		st, ok := topo.GetStorage(id)
		if !ok {
			return
		}
		if reconstruct {
			st.Node().AddPendingReconstructions(-1)
		} else {
			st.Node().AddPendingReplications(-1)
		}
	})
	return s
}

// Schedule plans and emits repair work for one block. The plan is
// re-derived from the live graph, not from the classification that queued
// the block, so stale queue entries resolve to ErrNothingToDo.
func (s *Scheduler) Schedule(id types.BlockId, priority int) (*WorkItem, error) {
	info, replicas, ok := s.bm.GetBlockAndReplicas(id)
	if !ok {
		return nil, ErrNothingToDo
	}
	counts := Count(s.topo, replicas)

	var item *WorkItem
	var err error
	if info.IsStriped() {
		item, err = s.planStriped(info, replicas, counts)
	} else {
		item, err = s.planReplicated(info, replicas, counts)
	}
	if err != nil {
		return nil, err
	}
	item.Priority = priority

	if !s.pending.Add(id, item.TargetStorageIds(), item.Strategy == StrategyDecode) {
		return nil, ErrNothingToDo
	}
	s.emit(item)
	return item, nil
}

// planReplicated covers plain replication repair, including the case where
// the count is satisfied but the replicas are under-spread across racks.
func (s *Scheduler) planReplicated(info *storage.BlockInfo, replicas []blockmap.Replica, c Counts) (*WorkItem, error) {
	missing := info.Replication - c.Live
	if missing <= 0 {
		if c.Racks >= info.TargetRackCount(s.topo.RackCount()) {
			return nil, ErrNothingToDo
		}
		// count satisfied, rack spread is not: one copy to a new rack
		missing = 1
	}
	if c.Readable == 0 {
		return nil, fmt.Errorf("block %s has no readable replica to copy from", info.Id)
	}

	source := s.pickSource(replicas, blockmap.NoSlot)
	if source == nil {
		return nil, fmt.Errorf("block %s has no usable source node", info.Id)
	}

	existing, holders := s.holders(replicas)
	targets, err := s.policy.Choose(missing, holders, existing, source.Type)
	if err != nil {
		return nil, err
	}
	return &WorkItem{
		Info:          info,
		Strategy:      StrategyReplicate,
		SourceNode:    source.Node().Id(),
		SourceStorage: source.Id,
		SourceSlot:    blockmap.NoSlot,
		Targets:       targets,
	}, nil
}

// planStriped implements the copy-versus-decode decision for a striped
// group. Cheapest repair wins: when every internal block is present and
// only the rack spread is deficient, one plain copy fixes it and a decode
// would be pure waste. Decode happens only for genuinely missing slots,
// and only above the data-slot floor.
func (s *Scheduler) planStriped(info *storage.BlockInfo, replicas []blockmap.Replica, c Counts) (*WorkItem, error) {
	policy := info.EcPolicy
	present := c.ReadableSlots.SlotIdCount()

	if present < policy.DataSlots {
		return nil, ErrUnrecoverable
	}

	if present >= policy.TotalSlots() {
		if c.Racks >= info.TargetRackCount(s.topo.RackCount()) {
			return nil, ErrNothingToDo
		}
		return s.planSlotCopy(info, replicas)
	}

	return s.planDecode(info, replicas, c)
}

// planSlotCopy schedules a single plain copy of one existing internal
// block to a rack that holds none of the group.
func (s *Scheduler) planSlotCopy(info *storage.BlockInfo, replicas []blockmap.Replica) (*WorkItem, error) {
	// copy out of the most crowded rack so the spread improves fastest
	perRack := make(map[topology.RackId][]blockmap.Replica)
	for _, r := range replicas {
		st, ok := s.topo.GetStorage(r.StorageId)
		if !ok || st.IsFailed() || !r.State.IsLive() {
			continue
		}
		dn := st.Node()
		if s.topo.IsNodeDead(dn) || !dn.CanServeReads() {
			continue
		}
		perRack[dn.RackId()] = append(perRack[dn.RackId()], r)
	}
	var sourceReplica *blockmap.Replica
	best := 0
	for _, rs := range perRack {
		if len(rs) > best {
			best = len(rs)
			r := rs[0]
			sourceReplica = &r
		}
	}
	if sourceReplica == nil {
		return nil, fmt.Errorf("group %s has no live internal block to copy", info.Id)
	}
	source, _ := s.topo.GetStorage(sourceReplica.StorageId)

	existing, holders := s.holders(replicas)
	targets, err := s.policy.Choose(1, holders, existing, source.Type)
	if err != nil {
		return nil, err
	}
	return &WorkItem{
		Info:          info,
		Strategy:      StrategyCopySlot,
		SourceNode:    source.Node().Id(),
		SourceStorage: source.Id,
		SourceSlot:    sourceReplica.Slot,
		Targets:       targets,
		TargetSlots:   []int{sourceReplica.Slot},
	}, nil
}

// planDecode schedules a decode-based reconstruction: read any d present
// internal blocks, compute the missing ones, write them to fresh storages.
func (s *Scheduler) planDecode(info *storage.BlockInfo, replicas []blockmap.Replica, c Counts) (*WorkItem, error) {
	policy := info.EcPolicy
	missingSlots := c.ReadableSlots.MissingSlotIds(policy)

	// any d slots decode the rest; prefer the least loaded holders
	type slotSource struct {
		slot    int
		storage *topology.Storage
	}
	var sources []slotSource
	seen := make(map[int]struct{})
	for _, r := range replicas {
		if r.Slot == blockmap.NoSlot || !r.State.IsLive() {
			continue
		}
		if _, ok := seen[r.Slot]; ok {
			continue
		}
		st, ok := s.topo.GetStorage(r.StorageId)
		if !ok || st.IsFailed() {
			continue
		}
		dn := st.Node()
		if s.topo.IsNodeDead(dn) || !dn.CanServeReads() {
			continue
		}
		seen[r.Slot] = struct{}{}
		sources = append(sources, slotSource{slot: r.Slot, storage: st})
	}
	if len(sources) < policy.DataSlots {
		return nil, ErrUnrecoverable
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].storage.Node().PendingWork() < sources[j].storage.Node().PendingWork()
	})
	sources = sources[:policy.DataSlots]

	existing, holders := s.holders(replicas)
	targets, err := s.policy.Choose(len(missingSlots), holders, existing, sources[0].storage.Type)
	if err != nil {
		return nil, err
	}

	item := &WorkItem{
		Info:       info,
		Strategy:   StrategyDecode,
		SourceNode: targets[0].Node().Id(), // the first target rebuilds
	}
	for _, src := range sources {
		item.SourceSlots = append(item.SourceSlots, src.slot)
		item.SourceStorages = append(item.SourceStorages, src.storage.Id)
	}
	for _, slot := range missingSlots {
		item.TargetSlots = append(item.TargetSlots, int(slot))
	}
	item.Targets = targets
	return item, nil
}

// holders collects the storages and nodes already carrying the block so
// placement avoids them.
func (s *Scheduler) holders(replicas []blockmap.Replica) ([]types.StorageId, map[topology.NodeId]struct{}) {
	var existing []types.StorageId
	nodes := make(map[topology.NodeId]struct{})
	for _, r := range replicas {
		if !r.State.IsLive() {
			continue
		}
		existing = append(existing, r.StorageId)
		if st, ok := s.topo.GetStorage(r.StorageId); ok {
			nodes[st.Node().Id()] = struct{}{}
		}
	}
	return existing, nodes
}

// pickSource chooses the replica to copy from: a readable holder,
// preferring draining nodes (they serve reads only) and then the least
// loaded one.
func (s *Scheduler) pickSource(replicas []blockmap.Replica, slot int) *topology.Storage {
	var best *topology.Storage
	bestDraining := false
	for _, r := range replicas {
		if !r.State.IsLive() || (slot != blockmap.NoSlot && r.Slot != slot) {
			continue
		}
		st, ok := s.topo.GetStorage(r.StorageId)
		if !ok || st.IsFailed() {
			continue
		}
		dn := st.Node()
		if s.topo.IsNodeDead(dn) || !dn.CanServeReads() {
			continue
		}
		draining := !dn.CountsTowardRedundancy()
		switch {
		case best == nil:
			best, bestDraining = st, draining
		case draining && !bestDraining:
			best, bestDraining = st, draining
		case draining == bestDraining && dn.PendingWork() < best.Node().PendingWork():
			best = st
		}
	}
	return best
}

// emit queues the command for the executing node and bumps its work
// counters.
func (s *Scheduler) emit(item *WorkItem) {
	var cmd command.Command
	switch item.Strategy {
	case StrategyDecode:
		cmd = command.Command{
			Kind:            command.Reconstruct,
			BlockId:         item.Info.Id,
			GenerationStamp: item.Info.GenerationStamp,
			SourceSlots:     item.SourceSlots,
			SourceStorages:  item.SourceStorages,
			TargetSlots:     item.TargetSlots,
		}
	default:
		cmd = command.Command{
			Kind:            command.Transfer,
			BlockId:         item.Info.Id,
			GenerationStamp: item.Info.GenerationStamp,
			SourceStorage:   item.SourceStorage,
			SourceSlot:      item.SourceSlot,
		}
	}
	for _, t := range item.Targets {
		cmd.TargetNodes = append(cmd.TargetNodes, t.Node().Id())
		cmd.TargetStorages = append(cmd.TargetStorages, t.Id)
	}

	s.queues.Enqueue(item.SourceNode, cmd)
	for _, t := range item.Targets {
		if item.Strategy == StrategyDecode {
			t.Node().AddPendingReconstructions(1)
		} else {
			t.Node().AddPendingReplications(1)
		}
	}
	stats.EmittedWorkCounter.WithLabelValues(item.Strategy.String()).Inc()
	glog.V(1).Infof("scheduled %s", item)
}

// WorkConfirmed is called by report ingestion when an expected replica
// shows up. Node-side work counters unwind through the pending release
// hook.
func (s *Scheduler) WorkConfirmed(id types.BlockId, storageId types.StorageId) {
	if done := s.pending.ConfirmTarget(id, storageId); done {
		glog.V(1).Infof("repair of %s confirmed complete", id)
	}
}
