package admin

import (
	"fmt"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hidataplus/hadoop-sub001/hdfs/blockmap"
	"github.com/hidataplus/hadoop-sub001/hdfs/command"
	"github.com/hidataplus/hadoop-sub001/hdfs/placement"
	"github.com/hidataplus/hadoop-sub001/hdfs/redundancy"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

const gb = 1 << 30

type fixture struct {
	topo    *topology.Topology
	mock    *clock.Mock
	bm      *blockmap.BlocksMap
	cmdQ    *command.Queues
	pending *redundancy.Pending
	monitor *redundancy.Monitor
	mgr     *Manager
}

func newFixture(racks, nodesPerRack int) *fixture {
	mock := clock.NewMock()
	topo := topology.NewTopology(mock, 30*time.Second, 630*time.Second)
	for r := 0; r < racks; r++ {
		for n := 0; n < nodesPerRack; n++ {
			dn := topo.RegisterNode(nodeId(r, n), topology.RackId(fmt.Sprintf("/rack-%d", r)))
			topo.RegisterStorage(dn, storageId(r, n), types.HardDriveType).UpdateUsage(10*gb, 1*gb)
		}
	}
	bm := blockmap.NewBlocksMap()
	cmdQ := command.NewQueues(1000)
	queues := redundancy.NewQueues()
	pending := redundancy.NewPending(mock, 300*time.Second)
	sched := redundancy.NewScheduler(topo, bm, placement.NewRackAwarePolicy(topo), cmdQ, pending)
	monitor := redundancy.NewMonitor(topo, bm, queues, cmdQ, pending, sched, mock, 3*time.Second, 100)
	return &fixture{
		topo: topo, mock: mock, bm: bm, cmdQ: cmdQ, pending: pending, monitor: monitor,
		mgr: NewManager(topo, bm, mock, 30*time.Second),
	}
}

func nodeId(rack, n int) topology.NodeId {
	return topology.NodeId(fmt.Sprintf("dn-%d-%d", rack, n))
}

func storageId(rack, n int) types.StorageId {
	return types.StorageId(fmt.Sprintf("s-%d-%d", rack, n))
}

func (f *fixture) addBlock(t *testing.T, id types.BlockId, replication int, on ...types.StorageId) {
	info := storage.NewReplicatedBlock(id, 1, 128, replication)
	require.NoError(t, f.bm.AddBlock(info))
	for _, s := range on {
		_, err := f.bm.AddReplica(id, s, blockmap.NoSlot, 1, types.Finalized)
		require.NoError(t, err)
	}
}

func (f *fixture) pendingCommands() (total int) {
	for _, dn := range f.topo.Nodes() {
		total += f.cmdQ.Pending(dn.Id())
	}
	return
}

// A draining node whose blocks are all safe elsewhere completes without
// any repair traffic.
func TestDecommissionCompletesWithoutWork(t *testing.T) {
	f := newFixture(3, 1)
	// factor 2, live on two other nodes plus the one being drained
	f.addBlock(t, 1, 2, storageId(0, 0), storageId(1, 0), storageId(2, 0))

	require.NoError(t, f.mgr.StartDecommission(nodeId(0, 0)))
	f.monitor.RunOnce()
	assert.Equal(t, 0, f.pendingCommands())
	assert.Equal(t, 0, f.pending.Size())

	f.mgr.CheckProgress()
	dn, _ := f.topo.GetNode(nodeId(0, 0))
	assert.Equal(t, topology.Decommissioned, dn.AdminState())
}

func TestDecommissionWaitsForReplication(t *testing.T) {
	f := newFixture(3, 1)
	f.addBlock(t, 1, 2, storageId(0, 0), storageId(1, 0))
	f.bm.TakeDirty()

	require.NoError(t, f.mgr.StartDecommission(nodeId(0, 0)))
	f.mgr.CheckProgress()
	dn, _ := f.topo.GetNode(nodeId(0, 0))
	assert.Equal(t, topology.Decommissioning, dn.AdminState())

	// the scan replicates the block away
	f.monitor.RunOnce()
	assert.True(t, f.pending.Contains(1))

	// replica lands on the new target
	_, err := f.bm.AddReplica(1, storageId(2, 0), blockmap.NoSlot, 1, types.Finalized)
	require.NoError(t, err)
	f.mgr.CheckProgress()
	assert.Equal(t, topology.Decommissioned, dn.AdminState())
}

func TestAbortDecommission(t *testing.T) {
	f := newFixture(3, 1)
	f.addBlock(t, 1, 2, storageId(0, 0), storageId(1, 0))
	require.NoError(t, f.mgr.StartDecommission(nodeId(0, 0)))

	require.NoError(t, f.mgr.AbortDecommission(nodeId(0, 0)))
	dn, _ := f.topo.GetNode(nodeId(0, 0))
	assert.Equal(t, topology.Normal, dn.AdminState())

	// the block classifies back to sufficient
	f.monitor.RunOnce()
	assert.Equal(t, 0, f.pendingCommands())
}

func TestInvalidTransitionsRejected(t *testing.T) {
	f := newFixture(3, 1)

	assert.Error(t, f.mgr.StartDecommission("unknown"))

	require.NoError(t, f.mgr.StartDecommission(nodeId(0, 0)))
	// already draining
	assert.Error(t, f.mgr.StartDecommission(nodeId(0, 0)))
	// cannot jump to maintenance from draining
	assert.Error(t, f.mgr.EnterMaintenance(nodeId(0, 0)))

	dn, _ := f.topo.GetNode(nodeId(0, 0))
	require.NoError(t, dn.TryTransition(topology.Decommissioned))
	// terminal: no way back
	assert.Error(t, f.mgr.AbortDecommission(nodeId(0, 0)))
}

func TestMaintenanceRoundTrip(t *testing.T) {
	f := newFixture(3, 1)
	f.addBlock(t, 1, 2, storageId(0, 0), storageId(1, 0), storageId(2, 0))

	require.NoError(t, f.mgr.EnterMaintenance(nodeId(0, 0)))
	f.mgr.CheckProgress()
	dn, _ := f.topo.GetNode(nodeId(0, 0))
	assert.Equal(t, topology.InMaintenance, dn.AdminState())

	require.NoError(t, f.mgr.ExitMaintenance(nodeId(0, 0)))
	assert.Equal(t, topology.Normal, dn.AdminState())
}

func TestVolumeFailureSummaries(t *testing.T) {
	f := newFixture(2, 1)
	dn, _ := f.topo.GetNode(nodeId(0, 0))
	dn.RecordVolumeFailure(storageId(0, 0))

	summaries := f.mgr.VolumeFailureSummaries()
	require.Len(t, summaries, 1)
	assert.Equal(t, nodeId(0, 0), summaries[0].NodeId)
	assert.Equal(t, 1, summaries[0].FailedVolumes)
	assert.False(t, summaries[0].Fatal)
}
