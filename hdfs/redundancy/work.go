package redundancy

import (
	"fmt"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

type Strategy byte

const (
	// StrategyReplicate copies a replicated block to new storages.
	StrategyReplicate Strategy = iota
	// StrategyCopySlot copies one existing internal block of a striped
	// group to an unused rack; no decode involved.
	StrategyCopySlot
	// StrategyDecode reads d internal blocks and computes the missing ones.
	StrategyDecode
)

func (s Strategy) String() string {
	switch s {
	case StrategyReplicate:
		return "replicate"
	case StrategyCopySlot:
		return "copy_slot"
	case StrategyDecode:
		return "decode"
	}
	return "unknown"
}

// WorkItem is one planned repair: what to move or recompute, from where,
// to where.
type WorkItem struct {
	Info     *storage.BlockInfo
	Priority int
	Strategy Strategy

	SourceNode     topology.NodeId
	SourceStorage  types.StorageId
	SourceSlot     int
	SourceSlots    []int
	SourceStorages []types.StorageId

	Targets     []*topology.Storage
	TargetSlots []int
}

func (w *WorkItem) String() string {
	return fmt.Sprintf("%s %s via %s (%d targets)", w.Strategy, w.Info.Id, w.SourceNode, len(w.Targets))
}

func (w *WorkItem) TargetStorageIds() (ret []types.StorageId) {
	for _, t := range w.Targets {
		ret = append(ret, t.Id)
	}
	return
}
