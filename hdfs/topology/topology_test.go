package topology

import (
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

func newTestTopology() (*Topology, *clock.Mock) {
	mock := clock.NewMock()
	return NewTopology(mock, 30*time.Second, 630*time.Second), mock
}

func TestRegisterNode(t *testing.T) {
	topo, _ := newTestTopology()

	dn := topo.RegisterNode("dn1", "/rack-a")
	assert.Equal(t, NodeId("dn1"), dn.Id())
	assert.Equal(t, RackId("/rack-a"), dn.RackId())

	again := topo.RegisterNode("dn1", "/rack-a")
	assert.Same(t, dn, again)
	assert.Equal(t, 1, topo.RackCount())
}

func TestNodeMovesRack(t *testing.T) {
	topo, _ := newTestTopology()
	topo.RegisterNode("dn1", "/rack-a")
	dn := topo.RegisterNode("dn1", "/rack-b")

	assert.Equal(t, RackId("/rack-b"), dn.RackId())
	// rack-a is empty now and no longer counts
	assert.Equal(t, 1, topo.RackCount())
}

func TestLiveness(t *testing.T) {
	topo, mock := newTestTopology()
	dn := topo.RegisterNode("dn1", "/rack-a")
	assert.Equal(t, Alive, topo.Liveness(dn))

	mock.Add(31 * time.Second)
	assert.Equal(t, Stale, topo.Liveness(dn))

	mock.Add(600 * time.Second)
	assert.Equal(t, Dead, topo.Liveness(dn))
	assert.True(t, topo.IsNodeDead(dn))

	// a heartbeat revives it
	topo.RegisterNode("dn1", "/rack-a")
	assert.Equal(t, Alive, topo.Liveness(dn))
}

func TestFatalNodeIsDead(t *testing.T) {
	topo, _ := newTestTopology()
	dn := topo.RegisterNode("dn1", "/rack-a")
	assert.False(t, topo.IsNodeDead(dn))
	dn.MarkFatal()
	assert.True(t, topo.IsNodeDead(dn))
}

func TestCollectDeadNodes(t *testing.T) {
	topo, mock := newTestTopology()
	topo.RegisterNode("dn1", "/rack-a")
	mock.Add(700 * time.Second)
	dn2 := topo.RegisterNode("dn2", "/rack-a")

	dead := topo.CollectDeadNodes()
	require.Len(t, dead, 1)
	assert.Equal(t, NodeId("dn1"), dead[0].Id())
	assert.NotEqual(t, dn2.Id(), dead[0].Id())
}

func TestRemoveNode(t *testing.T) {
	topo, _ := newTestTopology()
	dn := topo.RegisterNode("dn1", "/rack-a")
	topo.RegisterStorage(dn, "s1", "")
	topo.RegisterStorage(dn, "s2", "")

	removed := topo.RemoveNode("dn1", "heartbeat_timeout")
	assert.Len(t, removed, 2)
	_, ok := topo.GetNode("dn1")
	assert.False(t, ok)
	_, ok = topo.GetStorage("s1")
	assert.False(t, ok)
	assert.Equal(t, 0, topo.RackCount())

	assert.Nil(t, topo.RemoveNode("dn1", "heartbeat_timeout"))
}

func TestAdminTransitions(t *testing.T) {
	topo, _ := newTestTopology()
	dn := topo.RegisterNode("dn1", "/rack-a")

	require.NoError(t, dn.TryTransition(Decommissioning))
	assert.False(t, dn.CountsTowardRedundancy())
	assert.True(t, dn.CanServeReads())
	assert.False(t, dn.IsAvailableForPlacement())

	// decommissioning a draining node again is rejected
	assert.Error(t, dn.TryTransition(Decommissioning))

	require.NoError(t, dn.TryTransition(Decommissioned))
	assert.False(t, dn.CanServeReads())

	// terminal state
	assert.Error(t, dn.TryTransition(Normal))
	assert.Error(t, dn.TryTransition(EnteringMaintenance))
}

func TestMaintenanceCycle(t *testing.T) {
	topo, _ := newTestTopology()
	dn := topo.RegisterNode("dn1", "/rack-a")

	require.NoError(t, dn.TryTransition(EnteringMaintenance))
	require.NoError(t, dn.TryTransition(InMaintenance))
	assert.False(t, dn.CountsTowardRedundancy())
	require.NoError(t, dn.TryTransition(Normal))
	assert.True(t, dn.CountsTowardRedundancy())
}

func TestVolumeFailureCount(t *testing.T) {
	topo, _ := newTestTopology()
	dn := topo.RegisterNode("dn1", "/rack-a")
	topo.RegisterStorage(dn, "s1", "")
	topo.RegisterStorage(dn, "s2", "")

	assert.Equal(t, 1, dn.RecordVolumeFailure("s1"))
	// the same volume failing again does not double count
	assert.Equal(t, 1, dn.RecordVolumeFailure("s1"))
	assert.Equal(t, 2, dn.RecordVolumeFailure("s2"))
	assert.Equal(t, 2, dn.FailedVolumeCount())
}

func TestRackCountOfStorages(t *testing.T) {
	topo, _ := newTestTopology()
	a := topo.RegisterNode("dn1", "/rack-a")
	b := topo.RegisterNode("dn2", "/rack-b")
	topo.RegisterStorage(a, "s1", "")
	topo.RegisterStorage(b, "s2", "")

	assert.Equal(t, 2, topo.RackCountOfStorages([]types.StorageId{"s1", "s2"}))
	assert.Equal(t, 1, topo.RackCountOfStorages([]types.StorageId{"s1", "unknown"}))
}
