package blockmap

import (
	"fmt"
	"sync"

	"github.com/golang/glog"

	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

// NoSlot marks a replica of a plainly replicated block; striped replicas
// carry the internal-block slot they hold.
const NoSlot = -1

type Replica struct {
	StorageId types.StorageId
	Slot      int
	State     types.ReplicaState
}

type entry struct {
	info     *storage.BlockInfo
	replicas []Replica // insertion-ordered
}

// BlocksMap is the bidirectional block <-> storage index. One RWMutex
// serializes all access: ingestion writes exclusively, the redundancy scan
// and queries read concurrently. Entries reference storages by id only, so
// removing a node is a per-storage invalidation, never a graph walk.
type BlocksMap struct {
	sync.RWMutex
	blocks       map[types.BlockId]*entry
	storageIndex map[types.StorageId]map[types.BlockId]struct{}
	dirty        map[types.BlockId]struct{}
}

func NewBlocksMap() *BlocksMap {
	return &BlocksMap{
		blocks:       make(map[types.BlockId]*entry),
		storageIndex: make(map[types.StorageId]map[types.BlockId]struct{}),
		dirty:        make(map[types.BlockId]struct{}),
	}
}

func (bm *BlocksMap) AddBlock(info *storage.BlockInfo) error {
	bm.Lock()
	defer bm.Unlock()
	if _, ok := bm.blocks[info.Id]; ok {
		return fmt.Errorf("block %s already tracked", info.Id)
	}
	bm.blocks[info.Id] = &entry{info: info}
	bm.dirty[info.Id] = struct{}{}
	return nil
}

func (bm *BlocksMap) GetBlock(id types.BlockId) (*storage.BlockInfo, bool) {
	bm.RLock()
	defer bm.RUnlock()
	e, ok := bm.blocks[id]
	if !ok {
		return nil, false
	}
	return e.info, true
}

// AddReplica records one replica location. A report carrying an older
// generation stamp than the block's current one is stale and ignored; a
// newer stamp is a recovery event that invalidates every copy recorded
// before it.
func (bm *BlocksMap) AddReplica(id types.BlockId, storageId types.StorageId, slot int, gs types.GenerationStamp, state types.ReplicaState) (added bool, err error) {
	bm.Lock()
	defer bm.Unlock()
	e, ok := bm.blocks[id]
	if !ok {
		return false, fmt.Errorf("block %s not tracked", id)
	}
	if gs < e.info.GenerationStamp {
		stats.StaleReplicaReportCounter.Inc()
		glog.V(1).Infof("ignoring stale replica of %s on %s: %s < %s", id, storageId, gs, e.info.GenerationStamp)
		return false, nil
	}
	if gs > e.info.GenerationStamp {
		glog.V(0).Infof("block %s generation stamp %s -> %s, invalidating older copies", id, e.info.GenerationStamp, gs)
		e.info.GenerationStamp = gs
		for i := range e.replicas {
			if e.replicas[i].State.IsLive() {
				e.replicas[i].State = types.Corrupt
			}
		}
	}
	for i := range e.replicas {
		if e.replicas[i].StorageId == storageId {
			e.replicas[i].Slot = slot
			e.replicas[i].State = state
			bm.dirty[id] = struct{}{}
			return false, nil
		}
	}
	e.replicas = append(e.replicas, Replica{StorageId: storageId, Slot: slot, State: state})
	bm.indexStorage(storageId, id)
	bm.dirty[id] = struct{}{}
	return true, nil
}

func (bm *BlocksMap) indexStorage(storageId types.StorageId, id types.BlockId) {
	blocks, ok := bm.storageIndex[storageId]
	if !ok {
		blocks = make(map[types.BlockId]struct{})
		bm.storageIndex[storageId] = blocks
	}
	blocks[id] = struct{}{}
}

func (bm *BlocksMap) RemoveReplica(id types.BlockId, storageId types.StorageId) (removed bool) {
	bm.Lock()
	defer bm.Unlock()
	return bm.doRemoveReplica(id, storageId)
}

func (bm *BlocksMap) doRemoveReplica(id types.BlockId, storageId types.StorageId) (removed bool) {
	e, ok := bm.blocks[id]
	if !ok {
		return false
	}
	for i := range e.replicas {
		if e.replicas[i].StorageId == storageId {
			e.replicas = append(e.replicas[:i], e.replicas[i+1:]...)
			removed = true
			break
		}
	}
	if !removed {
		return false
	}
	if blocks, ok := bm.storageIndex[storageId]; ok {
		delete(blocks, id)
		if len(blocks) == 0 {
			delete(bm.storageIndex, storageId)
		}
	}
	bm.dirty[id] = struct{}{}
	bm.warnIfNoLiveReplica(e, storageId)
	return true
}

func (bm *BlocksMap) warnIfNoLiveReplica(e *entry, lastTouched types.StorageId) {
	if !e.info.Finalized {
		return
	}
	for _, r := range e.replicas {
		if r.State.IsLive() {
			return
		}
	}
	// never drop below one live replica silently
	glog.Errorf("block %s has no live replica left after change on %s", e.info.Id, lastTouched)
}

func (bm *BlocksMap) ListReplicas(id types.BlockId) (ret []Replica) {
	bm.RLock()
	defer bm.RUnlock()
	e, ok := bm.blocks[id]
	if !ok {
		return nil
	}
	ret = make([]Replica, len(e.replicas))
	copy(ret, e.replicas)
	return
}

func (bm *BlocksMap) ListBlocks(storageId types.StorageId) (ret []types.BlockId) {
	bm.RLock()
	defer bm.RUnlock()
	for id := range bm.storageIndex[storageId] {
		ret = append(ret, id)
	}
	return
}

func (bm *BlocksMap) MarkCorrupt(id types.BlockId, storageId types.StorageId) bool {
	return bm.setReplicaState(id, storageId, types.Corrupt)
}

func (bm *BlocksMap) MarkExcess(id types.BlockId, storageId types.StorageId) bool {
	return bm.setReplicaState(id, storageId, types.Excess)
}

func (bm *BlocksMap) setReplicaState(id types.BlockId, storageId types.StorageId, state types.ReplicaState) bool {
	bm.Lock()
	defer bm.Unlock()
	e, ok := bm.blocks[id]
	if !ok {
		return false
	}
	for i := range e.replicas {
		if e.replicas[i].StorageId == storageId {
			e.replicas[i].State = state
			bm.dirty[id] = struct{}{}
			if state == types.Corrupt {
				bm.warnIfNoLiveReplica(e, storageId)
			}
			return true
		}
	}
	return false
}

// RemoveBlock drops a block and all its locations, used when the owning
// file is deleted.
func (bm *BlocksMap) RemoveBlock(id types.BlockId) {
	bm.Lock()
	defer bm.Unlock()
	e, ok := bm.blocks[id]
	if !ok {
		return
	}
	for _, r := range e.replicas {
		if blocks, ok := bm.storageIndex[r.StorageId]; ok {
			delete(blocks, id)
			if len(blocks) == 0 {
				delete(bm.storageIndex, r.StorageId)
			}
		}
	}
	delete(bm.blocks, id)
	delete(bm.dirty, id)
}

// RemoveStorage invalidates every entry of one storage, returning the
// touched block ids so the caller can requeue them.
func (bm *BlocksMap) RemoveStorage(storageId types.StorageId) (touched []types.BlockId) {
	bm.Lock()
	defer bm.Unlock()
	for id := range bm.storageIndex[storageId] {
		touched = append(touched, id)
	}
	for _, id := range touched {
		bm.doRemoveReplica(id, storageId)
	}
	return
}

func (bm *BlocksMap) MarkDirty(id types.BlockId) {
	bm.Lock()
	bm.dirty[id] = struct{}{}
	bm.Unlock()
}

// TakeDirty hands out the set of blocks mutated since the last call and
// resets it.
func (bm *BlocksMap) TakeDirty() (ret []types.BlockId) {
	bm.Lock()
	defer bm.Unlock()
	for id := range bm.dirty {
		ret = append(ret, id)
	}
	bm.dirty = make(map[types.BlockId]struct{})
	return
}

func (bm *BlocksMap) BlockIds() (ret []types.BlockId) {
	bm.RLock()
	defer bm.RUnlock()
	for id := range bm.blocks {
		ret = append(ret, id)
	}
	return
}

// GetBlockAndReplicas returns a consistent copy of one block's info and
// locations under a single read-lock acquisition.
func (bm *BlocksMap) GetBlockAndReplicas(id types.BlockId) (*storage.BlockInfo, []Replica, bool) {
	bm.RLock()
	defer bm.RUnlock()
	e, ok := bm.blocks[id]
	if !ok {
		return nil, nil, false
	}
	replicas := make([]Replica, len(e.replicas))
	copy(replicas, e.replicas)
	return e.info, replicas, true
}

func (bm *BlocksMap) Size() int {
	bm.RLock()
	defer bm.RUnlock()
	return len(bm.blocks)
}
