package topology

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

type NodeId string
type RackId string

type AdminState byte

const (
	Normal AdminState = iota
	Decommissioning
	Decommissioned
	EnteringMaintenance
	InMaintenance
)

func (s AdminState) String() string {
	switch s {
	case Normal:
		return "NORMAL"
	case Decommissioning:
		return "DECOMMISSIONING"
	case Decommissioned:
		return "DECOMMISSIONED"
	case EnteringMaintenance:
		return "ENTERING_MAINTENANCE"
	case InMaintenance:
		return "IN_MAINTENANCE"
	}
	return "UNKNOWN"
}

var adminTransitions = map[AdminState][]AdminState{
	Normal:              {Decommissioning, EnteringMaintenance},
	Decommissioning:     {Decommissioned, Normal},
	Decommissioned:      {},
	EnteringMaintenance: {InMaintenance, Normal},
	InMaintenance:       {Normal, EnteringMaintenance},
}

func canTransition(from, to AdminState) bool {
	for _, next := range adminTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type Liveness byte

const (
	Alive Liveness = iota
	Stale
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Stale:
		return "stale"
	case Dead:
		return "dead"
	}
	return "unknown"
}

// DataNode is the coordinator-side descriptor of one storage node: its
// rack, liveness, administrative state, attached storages and the repair
// work currently assigned to it. Physical bytes live on the node; this
// descriptor only mirrors what heartbeats and reports said.
type DataNode struct {
	sync.RWMutex
	id       NodeId
	rackId   RackId
	lastSeen int64 // unix time in seconds

	adminState    AdminState
	storages      map[types.StorageId]*Storage
	failedVolumes int
	fatal         bool

	pendingReplications    atomic.Int64
	pendingReconstructions atomic.Int64
}

func NewDataNode(id NodeId, rackId RackId) *DataNode {
	return &DataNode{
		id:       id,
		rackId:   rackId,
		storages: make(map[types.StorageId]*Storage),
	}
}

func (dn *DataNode) Id() NodeId     { return dn.id }
func (dn *DataNode) RackId() RackId { return dn.rackId }

func (dn *DataNode) String() string {
	return string(dn.rackId) + ":" + string(dn.id)
}

func (dn *DataNode) LastSeen() int64 {
	dn.RLock()
	defer dn.RUnlock()
	return dn.lastSeen
}

func (dn *DataNode) UpdateLastSeen(now int64) {
	dn.Lock()
	dn.lastSeen = now
	dn.Unlock()
}

func (dn *DataNode) AdminState() AdminState {
	dn.RLock()
	defer dn.RUnlock()
	return dn.adminState
}

// TryTransition moves the node's administrative state, rejecting requests
// that are not legal from the current state so an operator error never
// mutates anything.
func (dn *DataNode) TryTransition(to AdminState) error {
	dn.Lock()
	defer dn.Unlock()
	if dn.adminState == to {
		return fmt.Errorf("node %s already %s", dn.id, to)
	}
	if !canTransition(dn.adminState, to) {
		return fmt.Errorf("node %s: illegal admin transition %s -> %s", dn.id, dn.adminState, to)
	}
	glog.V(0).Infof("node %s admin state %s -> %s", dn.id, dn.adminState, to)
	dn.adminState = to
	return nil
}

// IsAvailableForPlacement reports whether new replicas may be placed here.
// Decommissioning and maintenance nodes keep serving reads but take no new
// data.
func (dn *DataNode) IsAvailableForPlacement() bool {
	dn.RLock()
	defer dn.RUnlock()
	return dn.adminState == Normal && !dn.fatal
}

// CountsTowardRedundancy reports whether this node's replicas still count
// against a block's target. Decommission drains count as zero so every
// block on the node is treated as under-replicated.
func (dn *DataNode) CountsTowardRedundancy() bool {
	dn.RLock()
	defer dn.RUnlock()
	if dn.fatal {
		return false
	}
	switch dn.adminState {
	case Decommissioning, Decommissioned:
		return false
	}
	return true
}

// CanServeReads reports whether replicas on this node may be used as a
// copy or decode source.
func (dn *DataNode) CanServeReads() bool {
	dn.RLock()
	defer dn.RUnlock()
	return !dn.fatal && dn.adminState != Decommissioned
}

func (dn *DataNode) GetOrCreateStorage(id types.StorageId, storageType types.StorageType) *Storage {
	dn.Lock()
	defer dn.Unlock()
	if s, ok := dn.storages[id]; ok {
		return s
	}
	s := &Storage{Id: id, Type: storageType, node: dn}
	dn.storages[id] = s
	glog.V(1).Infof("node %s adds storage %s (%s)", dn.id, id, storageType.ReadableString())
	return s
}

func (dn *DataNode) GetStorage(id types.StorageId) (*Storage, bool) {
	dn.RLock()
	defer dn.RUnlock()
	s, ok := dn.storages[id]
	return s, ok
}

func (dn *DataNode) Storages() (ret []*Storage) {
	dn.RLock()
	defer dn.RUnlock()
	for _, s := range dn.storages {
		ret = append(ret, s)
	}
	return
}

// RecordVolumeFailure marks one storage failed and returns the total
// failed volume count so the caller can compare to the tolerance.
func (dn *DataNode) RecordVolumeFailure(id types.StorageId) int {
	dn.Lock()
	defer dn.Unlock()
	if s, ok := dn.storages[id]; ok && !s.failed {
		s.failed = true
		dn.failedVolumes++
		glog.Warningf("node %s storage %s failed, %d failed volumes total", dn.id, id, dn.failedVolumes)
	}
	return dn.failedVolumes
}

func (dn *DataNode) FailedVolumeCount() int {
	dn.RLock()
	defer dn.RUnlock()
	return dn.failedVolumes
}

// MarkFatal flags the node as shutting down after exceeding its failed
// volume tolerance. Not an admin lifecycle state: there is no way back.
func (dn *DataNode) MarkFatal() {
	dn.Lock()
	defer dn.Unlock()
	if !dn.fatal {
		glog.Errorf("node %s exceeded failed volume tolerance, shutting down", dn.id)
		dn.fatal = true
	}
}

func (dn *DataNode) IsFatal() bool {
	dn.RLock()
	defer dn.RUnlock()
	return dn.fatal
}

// Pending work counters feed the placement tie-break (least loaded wins)
// and decommission progress reporting.

func (dn *DataNode) AddPendingReplications(delta int64) {
	dn.pendingReplications.Add(delta)
}

func (dn *DataNode) AddPendingReconstructions(delta int64) {
	dn.pendingReconstructions.Add(delta)
}

func (dn *DataNode) PendingWork() int64 {
	return dn.pendingReplications.Load() + dn.pendingReconstructions.Load()
}
