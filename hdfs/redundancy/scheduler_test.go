package redundancy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hidataplus/hadoop-sub001/hdfs/command"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/erasure_coding"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

func TestScheduleReplicatedRepair(t *testing.T) {
	f := newFixture(3, 1)
	f.addReplicatedBlock(t, 1, 3, storageId(0, 0), storageId(1, 0))

	item, err := f.sched.Schedule(1, PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, StrategyReplicate, item.Strategy)
	require.Len(t, item.Targets, 1)
	// the only rack without a copy
	assert.Equal(t, topology.RackId("/rack-2"), item.Targets[0].Node().RackId())

	// the command lands on the source node's queue
	cmds := f.cmdQ.Drain(item.SourceNode, 10)
	require.Len(t, cmds, 1)
	assert.Equal(t, command.Transfer, cmds[0].Kind)
	assert.Equal(t, types.BlockId(1), cmds[0].BlockId)
	assert.Equal(t, item.Targets[0].Id, cmds[0].TargetStorages[0])

	assert.True(t, f.pending.Contains(1))
}

func TestScheduleSatisfiedBlockIsNothingToDo(t *testing.T) {
	f := newFixture(3, 1)
	f.addReplicatedBlock(t, 1, 2, storageId(0, 0), storageId(1, 0))

	_, err := f.sched.Schedule(1, PriorityLow)
	assert.ErrorIs(t, err, ErrNothingToDo)
	assert.False(t, f.pending.Contains(1))
}

func TestSchedulePrefersDrainingSource(t *testing.T) {
	f := newFixture(4, 1)
	f.addReplicatedBlock(t, 1, 3, storageId(0, 0), storageId(1, 0))
	dn, _ := f.topo.GetNode(nodeId(0, 0))
	require.NoError(t, dn.TryTransition(topology.Decommissioning))

	// draining holder serves reads only, so it is the preferred source
	item, err := f.sched.Schedule(1, PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, nodeId(0, 0), item.SourceNode)
	// two targets: the draining copy no longer counts
	assert.Len(t, item.Targets, 2)
}

// Nine internal blocks of a 6+3 group squeezed onto five racks: everything
// is present, only the spread is wrong. The fix is one plain copy to a
// fresh rack, never a decode.
func TestScheduleMisplacedStripedGroupUsesPlainCopy(t *testing.T) {
	f := newFixture(6, 2)
	p := erasure_coding.DefaultPolicy

	slots := map[types.StorageId]int{
		storageId(0, 0): 0, storageId(0, 1): 1,
		storageId(1, 0): 2, storageId(1, 1): 3,
		storageId(2, 0): 4, storageId(2, 1): 5,
		storageId(3, 0): 6, storageId(3, 1): 7,
		storageId(4, 0): 8,
	}
	f.addStripedBlock(t, 1, p, slots)

	health, priority := f.classify(t, 1)
	require.Equal(t, LowRedundancy, health)
	require.Equal(t, PriorityBadlyDistributed, priority)

	item, err := f.sched.Schedule(1, priority)
	require.NoError(t, err)
	assert.Equal(t, StrategyCopySlot, item.Strategy)
	require.Len(t, item.Targets, 1)
	assert.Equal(t, topology.RackId("/rack-5"), item.Targets[0].Node().RackId())

	cmds := f.cmdQ.Drain(item.SourceNode, 10)
	require.Len(t, cmds, 1)
	assert.Equal(t, command.Transfer, cmds[0].Kind)
	assert.Equal(t, item.SourceSlot, cmds[0].SourceSlot)
}

func TestScheduleDecodeForMissingSlots(t *testing.T) {
	f := newFixture(9, 2)
	p := erasure_coding.DefaultPolicy

	// slots 7 and 8 lost
	slots := make(map[types.StorageId]int)
	for i := 0; i < 7; i++ {
		slots[storageId(i, 0)] = i
	}
	f.addStripedBlock(t, 1, p, slots)

	item, err := f.sched.Schedule(1, PriorityLow)
	require.NoError(t, err)
	assert.Equal(t, StrategyDecode, item.Strategy)
	assert.Len(t, item.SourceSlots, p.DataSlots)
	assert.ElementsMatch(t, []int{7, 8}, item.TargetSlots)
	assert.Len(t, item.Targets, 2)

	// the reconstruct command goes to the first target's node
	cmds := f.cmdQ.Drain(item.Targets[0].Node().Id(), 10)
	require.Len(t, cmds, 1)
	assert.Equal(t, command.Reconstruct, cmds[0].Kind)
	assert.Len(t, cmds[0].SourceStorages, p.DataSlots)
}

func TestScheduleDecodeAtDataFloor(t *testing.T) {
	f := newFixture(9, 2)
	p := erasure_coding.DefaultPolicy

	slots := make(map[types.StorageId]int)
	for i := 0; i < p.DataSlots; i++ {
		slots[storageId(i, 0)] = i
	}
	f.addStripedBlock(t, 1, p, slots)

	item, err := f.sched.Schedule(1, PriorityVeryLow)
	require.NoError(t, err)
	assert.Equal(t, StrategyDecode, item.Strategy)
	assert.Len(t, item.TargetSlots, p.ParitySlots)
}

func TestScheduleBelowDataFloorIsUnrecoverable(t *testing.T) {
	f := newFixture(9, 2)
	p := erasure_coding.DefaultPolicy

	slots := make(map[types.StorageId]int)
	for i := 0; i < p.DataSlots-1; i++ {
		slots[storageId(i, 0)] = i
	}
	f.addStripedBlock(t, 1, p, slots)

	_, err := f.sched.Schedule(1, PriorityHighest)
	assert.ErrorIs(t, err, ErrUnrecoverable)
	assert.False(t, f.pending.Contains(1))
}

func TestScheduleCountsWorkOnTargets(t *testing.T) {
	f := newFixture(3, 1)
	f.addReplicatedBlock(t, 1, 3, storageId(0, 0), storageId(1, 0))

	item, err := f.sched.Schedule(1, PriorityLow)
	require.NoError(t, err)
	target := item.Targets[0].Node()
	assert.Equal(t, int64(1), target.PendingWork())

	f.sched.WorkConfirmed(1, item.Targets[0].Id)
	assert.Equal(t, int64(0), target.PendingWork())
	assert.False(t, f.pending.Contains(1))
}
