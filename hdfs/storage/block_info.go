package storage

import (
	"fmt"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage/erasure_coding"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

// BlockInfo describes one logical block the coordinator tracks. It is a
// tagged variant: a replicated block carries a Replication factor and a nil
// EcPolicy; a striped block group carries an EcPolicy and its redundancy is
// the policy's data+parity slot count. Replication and EcPolicy are never
// both set.
type BlockInfo struct {
	Id              types.BlockId
	GenerationStamp types.GenerationStamp
	Length          int64
	Finalized       bool

	Replication int
	EcPolicy    *erasure_coding.Policy
}

func NewReplicatedBlock(id types.BlockId, gs types.GenerationStamp, length int64, replication int) *BlockInfo {
	return &BlockInfo{Id: id, GenerationStamp: gs, Length: length, Finalized: true, Replication: replication}
}

func NewStripedBlock(id types.BlockId, gs types.GenerationStamp, length int64, policy *erasure_coding.Policy) *BlockInfo {
	return &BlockInfo{Id: id, GenerationStamp: gs, Length: length, Finalized: true, EcPolicy: policy}
}

func (b *BlockInfo) IsStriped() bool {
	return b.EcPolicy != nil
}

// TargetRedundancy is the number of live replicas (or present internal
// slots) a healthy block must have.
func (b *BlockInfo) TargetRedundancy() int {
	if b.IsStriped() {
		return b.EcPolicy.TotalSlots()
	}
	return b.Replication
}

// TargetRackCount is the rack spread a healthy block should have given the
// cluster's distinct rack count. This is a soft target: falling short is
// legal but generates repair work.
func (b *BlockInfo) TargetRackCount(totalRacks int) int {
	if totalRacks <= 0 {
		return 1
	}
	target := b.TargetRedundancy()
	if target > totalRacks {
		return totalRacks
	}
	return target
}

func (b *BlockInfo) String() string {
	if b.IsStriped() {
		return fmt.Sprintf("%s(%s, %s, len=%d)", b.Id, b.EcPolicy, b.GenerationStamp, b.Length)
	}
	return fmt.Sprintf("%s(r=%d, %s, len=%d)", b.Id, b.Replication, b.GenerationStamp, b.Length)
}

// BlockRef names a block from the namespace layer's point of view.
type BlockRef struct {
	Id     types.BlockId
	FileId string
}
