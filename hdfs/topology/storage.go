package topology

import (
	"fmt"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

// Storage is one disk a node exposes. It is owned by exactly one DataNode;
// the block map references it only by id, so dropping the node invalidates
// every graph entry without a walk.
type Storage struct {
	Id   types.StorageId
	Type types.StorageType
	node *DataNode

	capacity uint64
	used     uint64
	failed   bool
}

func (s *Storage) Node() *DataNode {
	return s.node
}

func (s *Storage) String() string {
	return fmt.Sprintf("%s@%s", s.Id, s.node.Id())
}

func (s *Storage) UpdateUsage(capacity, used uint64) {
	s.node.Lock()
	s.capacity = capacity
	s.used = used
	s.node.Unlock()
}

func (s *Storage) Available() uint64 {
	s.node.RLock()
	defer s.node.RUnlock()
	if s.failed || s.used >= s.capacity {
		return 0
	}
	return s.capacity - s.used
}

func (s *Storage) IsFailed() bool {
	s.node.RLock()
	defer s.node.RUnlock()
	return s.failed
}
