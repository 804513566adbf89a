package command

import (
	"fmt"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

type Kind byte

const (
	Transfer Kind = iota
	Invalidate
	Reconstruct
	Shutdown
)

func (k Kind) String() string {
	switch k {
	case Transfer:
		return "TRANSFER"
	case Invalidate:
		return "INVALIDATE"
	case Reconstruct:
		return "RECONSTRUCT"
	case Shutdown:
		return "SHUTDOWN"
	}
	return "UNKNOWN"
}

// Command is one unit of work handed to a node on its next heartbeat.
type Command struct {
	Kind            Kind
	BlockId         types.BlockId
	GenerationStamp types.GenerationStamp

	// Transfer: push a copy of BlockId (or of SourceSlot for a striped
	// group) to the target storages.
	SourceStorage  types.StorageId
	SourceSlot     int
	TargetNodes    []topology.NodeId
	TargetStorages []types.StorageId

	// Invalidate: delete the local copies of these blocks.
	Blocks []types.BlockId

	// Reconstruct: read any SourceSlots, decode, write TargetSlots to the
	// target storages.
	SourceSlots    []int
	SourceStorages []types.StorageId
	TargetSlots    []int
}

func (c Command) String() string {
	switch c.Kind {
	case Invalidate:
		return fmt.Sprintf("INVALIDATE(%d blocks)", len(c.Blocks))
	case Reconstruct:
		return fmt.Sprintf("RECONSTRUCT(%s slots %v -> %v)", c.BlockId, c.SourceSlots, c.TargetSlots)
	case Transfer:
		return fmt.Sprintf("TRANSFER(%s -> %v)", c.BlockId, c.TargetNodes)
	}
	return c.Kind.String()
}
