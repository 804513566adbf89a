package redundancy

import (
	"github.com/hidataplus/hadoop-sub001/hdfs/blockmap"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/erasure_coding"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

type Health byte

const (
	Sufficient Health = iota
	LowRedundancy
	Corrupt
	Excess
	PendingReconstruction
)

func (h Health) String() string {
	switch h {
	case Sufficient:
		return "SUFFICIENT"
	case LowRedundancy:
		return "LOW_REDUNDANCY"
	case Corrupt:
		return "CORRUPT"
	case Excess:
		return "EXCESS"
	case PendingReconstruction:
		return "PENDING_RECONSTRUCTION"
	}
	return "UNKNOWN"
}

// Repair priorities, most urgent first. Zero live replicas (or a striped
// group below its data-slot floor) is imminent data loss; corrupt-but-not-
// zero and nearly-drained blocks come next; plain under-replication after
// that; rack-spread repairs are opportunistic.
const (
	PriorityHighest          = 0
	PriorityVeryLow          = 1
	PriorityLow              = 2
	PriorityBadlyDistributed = 3
	PriorityLevels           = 4
)

// Counts is the liveness-adjusted summary of one block's replicas.
type Counts struct {
	Live            int // counting toward the redundancy target
	Readable        int // usable as a copy/decode source
	Corrupt         int
	ExcessMarked    int
	Draining        int // live copies on decommissioning/maintenance nodes

	Racks         int // distinct racks among counting replicas
	ReadableRacks int

	LiveSlots     erasure_coding.SlotBits
	ReadableSlots erasure_coding.SlotBits
}

// Count classifies each recorded replica against the current registry
// state. Replicas on dead or fatally failed nodes, or on failed storages,
// are invisible; replicas on draining nodes remain readable but no longer
// count toward the target.
func Count(topo *topology.Topology, replicas []blockmap.Replica) (c Counts) {
	liveRacks := make(map[topology.RackId]struct{})
	readableRacks := make(map[topology.RackId]struct{})
	for _, r := range replicas {
		s, ok := topo.GetStorage(r.StorageId)
		if !ok {
			continue
		}
		dn := s.Node()
		if topo.IsNodeDead(dn) || s.IsFailed() {
			continue
		}
		if r.State == types.Corrupt {
			c.Corrupt++
			continue
		}
		if r.State == types.Excess {
			c.ExcessMarked++
			continue
		}
		if !r.State.IsLive() {
			continue
		}
		if dn.CanServeReads() {
			c.Readable++
			readableRacks[dn.RackId()] = struct{}{}
			if r.Slot != blockmap.NoSlot {
				c.ReadableSlots = c.ReadableSlots.AddSlotId(erasure_coding.SlotId(r.Slot))
			}
		}
		if dn.CountsTowardRedundancy() {
			c.Live++
			liveRacks[dn.RackId()] = struct{}{}
			if r.Slot != blockmap.NoSlot {
				c.LiveSlots = c.LiveSlots.AddSlotId(erasure_coding.SlotId(r.Slot))
			}
		} else if dn.CanServeReads() {
			c.Draining++
		}
	}
	c.Racks = len(liveRacks)
	c.ReadableRacks = len(readableRacks)
	return
}

// Classify runs the per-block state machine given the counts and the
// cluster's distinct rack count.
func Classify(info *storage.BlockInfo, c Counts, totalRacks int) (Health, int) {
	if info.IsStriped() {
		return classifyStriped(info, c, totalRacks)
	}
	return classifyReplicated(info, c, totalRacks)
}

func classifyReplicated(info *storage.BlockInfo, c Counts, totalRacks int) (Health, int) {
	target := info.Replication
	switch {
	case c.Live > target:
		return Excess, PriorityBadlyDistributed
	case c.Live >= target:
		if target >= 2 && c.Racks < info.TargetRackCount(totalRacks) {
			return LowRedundancy, PriorityBadlyDistributed
		}
		return Sufficient, PriorityBadlyDistributed
	case c.Live == 0 && c.Readable == 0:
		if c.Corrupt > 0 {
			return Corrupt, PriorityHighest
		}
		return LowRedundancy, PriorityHighest
	default:
		if c.Corrupt > 0 || c.Live*3 <= target {
			return LowRedundancy, PriorityVeryLow
		}
		return LowRedundancy, PriorityLow
	}
}

func classifyStriped(info *storage.BlockInfo, c Counts, totalRacks int) (Health, int) {
	p := info.EcPolicy
	present := c.LiveSlots.SlotIdCount()
	switch {
	case present >= p.TotalSlots():
		if c.Live > present {
			// duplicate copies of individual slots
			return Excess, PriorityBadlyDistributed
		}
		if c.Racks < info.TargetRackCount(totalRacks) {
			// mis-placed, not missing
			return LowRedundancy, PriorityBadlyDistributed
		}
		return Sufficient, PriorityBadlyDistributed
	case present < p.DataSlots:
		// not enough slots left to decode
		return Corrupt, PriorityHighest
	case present == p.DataSlots:
		// one more loss makes the group unrecoverable
		return LowRedundancy, PriorityVeryLow
	default:
		if c.Corrupt > 0 {
			return LowRedundancy, PriorityVeryLow
		}
		return LowRedundancy, PriorityLow
	}
}
