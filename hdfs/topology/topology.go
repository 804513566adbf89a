package topology

import (
	"time"

	"sync"

	"github.com/facebookgo/clock"
	"github.com/golang/glog"

	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

// Topology is the registry of racks, nodes and storages, plus the rack
// index placement and the redundancy monitor query. Nodes and storages are
// kept in flat tables keyed by id so the block map can hold plain ids
// instead of live references.
type Topology struct {
	sync.RWMutex
	racks    map[RackId]*Rack
	nodes    map[NodeId]*DataNode
	storages map[types.StorageId]*Storage

	clock      clock.Clock
	staleAfter time.Duration
	deadAfter  time.Duration
}

func NewTopology(clk clock.Clock, staleAfter, deadAfter time.Duration) *Topology {
	return &Topology{
		racks:      make(map[RackId]*Rack),
		nodes:      make(map[NodeId]*DataNode),
		storages:   make(map[types.StorageId]*Storage),
		clock:      clk,
		staleAfter: staleAfter,
		deadAfter:  deadAfter,
	}
}

func (t *Topology) Clock() clock.Clock {
	return t.clock
}

func (t *Topology) GetOrCreateRack(id RackId) *Rack {
	t.Lock()
	defer t.Unlock()
	if r, ok := t.racks[id]; ok {
		return r
	}
	r := NewRack(id)
	t.racks[id] = r
	glog.V(0).Infof("topology adds rack %s", id)
	return r
}

// RegisterNode adds a node under its rack, or refreshes its liveness if it
// is already known. A node that comes back on a different rack is relinked.
func (t *Topology) RegisterNode(id NodeId, rackId RackId) *DataNode {
	t.Lock()
	defer t.Unlock()
	if dn, ok := t.nodes[id]; ok {
		if dn.RackId() != rackId {
			glog.Warningf("node %s moved from rack %s to %s", id, dn.RackId(), rackId)
			if r, ok := t.racks[dn.RackId()]; ok {
				r.unlinkNode(id)
			}
			dn.rackId = rackId
			t.getOrCreateRack(rackId).linkNode(dn)
		}
		dn.UpdateLastSeen(t.clock.Now().Unix())
		return dn
	}
	dn := NewDataNode(id, rackId)
	dn.UpdateLastSeen(t.clock.Now().Unix())
	t.nodes[id] = dn
	t.getOrCreateRack(rackId).linkNode(dn)
	glog.V(0).Infof("topology adds node %s on rack %s", id, rackId)
	return dn
}

func (t *Topology) getOrCreateRack(id RackId) *Rack {
	if r, ok := t.racks[id]; ok {
		return r
	}
	r := NewRack(id)
	t.racks[id] = r
	return r
}

// RegisterStorage attaches one reported storage to its node and indexes it
// in the flat storage table.
func (t *Topology) RegisterStorage(dn *DataNode, id types.StorageId, storageType types.StorageType) *Storage {
	s := dn.GetOrCreateStorage(id, storageType)
	t.Lock()
	t.storages[id] = s
	t.Unlock()
	return s
}

func (t *Topology) GetNode(id NodeId) (*DataNode, bool) {
	t.RLock()
	defer t.RUnlock()
	dn, ok := t.nodes[id]
	return dn, ok
}

func (t *Topology) GetStorage(id types.StorageId) (*Storage, bool) {
	t.RLock()
	defer t.RUnlock()
	s, ok := t.storages[id]
	return s, ok
}

// RemoveNode unlinks a node and drops its storages from the table. The
// caller is responsible for purging the node's graph entries.
func (t *Topology) RemoveNode(id NodeId, reason string) (removed []*Storage) {
	t.Lock()
	defer t.Unlock()
	dn, ok := t.nodes[id]
	if !ok {
		return nil
	}
	for _, s := range dn.Storages() {
		delete(t.storages, s.Id)
		removed = append(removed, s)
	}
	if r, ok := t.racks[dn.RackId()]; ok {
		r.unlinkNode(id)
	}
	delete(t.nodes, id)
	stats.DeadNodeCounter.WithLabelValues(reason).Inc()
	glog.V(0).Infof("topology removes node %s (%s) with %d storages", id, reason, len(removed))
	return removed
}

func (t *Topology) Nodes() (ret []*DataNode) {
	t.RLock()
	defer t.RUnlock()
	for _, dn := range t.nodes {
		ret = append(ret, dn)
	}
	return
}

func (t *Topology) Racks() (ret []*Rack) {
	t.RLock()
	defer t.RUnlock()
	for _, r := range t.racks {
		ret = append(ret, r)
	}
	return
}

// RackCount counts racks that still hold at least one node.
func (t *Topology) RackCount() (count int) {
	t.RLock()
	defer t.RUnlock()
	for _, r := range t.racks {
		if r.NodeCount() > 0 {
			count++
		}
	}
	return
}

// Liveness derives a node's liveness from its last heartbeat.
func (t *Topology) Liveness(dn *DataNode) Liveness {
	age := t.clock.Now().Unix() - dn.LastSeen()
	if age > int64(t.deadAfter.Seconds()) {
		return Dead
	}
	if age > int64(t.staleAfter.Seconds()) {
		return Stale
	}
	return Alive
}

func (t *Topology) IsNodeDead(dn *DataNode) bool {
	return t.Liveness(dn) == Dead || dn.IsFatal()
}

// RackCountOfStorages answers how many distinct racks hold the given
// storages. Unknown storages are skipped.
func (t *Topology) RackCountOfStorages(ids []types.StorageId) int {
	t.RLock()
	defer t.RUnlock()
	racks := make(map[RackId]struct{})
	for _, id := range ids {
		if s, ok := t.storages[id]; ok {
			racks[s.Node().RackId()] = struct{}{}
		}
	}
	return len(racks)
}

// CollectDeadNodes returns the nodes whose heartbeats went silent for
// longer than the dead threshold, or that fatally failed.
func (t *Topology) CollectDeadNodes() (dead []*DataNode) {
	for _, dn := range t.Nodes() {
		if t.IsNodeDead(dn) {
			dead = append(dead, dn)
		}
	}
	return
}
