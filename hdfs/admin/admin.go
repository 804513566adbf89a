package admin

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/golang/glog"

	"github.com/hidataplus/hadoop-sub001/hdfs/blockmap"
	"github.com/hidataplus/hadoop-sub001/hdfs/redundancy"
	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

// Manager runs the node lifecycle: decommission requests, the periodic
// progress check that completes them, and maintenance mode. A node in
// either drain state keeps serving reads but stops counting toward
// redundancy, which is what makes the scan replicate its blocks away.
type Manager struct {
	topo          *topology.Topology
	bm            *blockmap.BlocksMap
	clock         clock.Clock
	checkInterval time.Duration
}

func NewManager(topo *topology.Topology, bm *blockmap.BlocksMap, clk clock.Clock, checkInterval time.Duration) *Manager {
	return &Manager{topo: topo, bm: bm, clock: clk, checkInterval: checkInterval}
}

// StartDecommission moves a node into the draining state and dirties its
// blocks so the next scan starts replicating them elsewhere.
func (m *Manager) StartDecommission(nodeId topology.NodeId) error {
	return m.drain(nodeId, topology.Decommissioning)
}

// AbortDecommission returns a draining node to service. Replication work
// already emitted is left to finish; the resulting surplus is pruned as
// excess.
func (m *Manager) AbortDecommission(nodeId topology.NodeId) error {
	dn, ok := m.topo.GetNode(nodeId)
	if !ok {
		return fmt.Errorf("node %s not registered", nodeId)
	}
	if err := dn.TryTransition(topology.Normal); err != nil {
		return err
	}
	glog.V(0).Infof("decommission of %s aborted", nodeId)
	m.dirtyNodeBlocks(dn)
	return nil
}

// EnterMaintenance is a short-lived drain for planned downtime.
func (m *Manager) EnterMaintenance(nodeId topology.NodeId) error {
	dn, ok := m.topo.GetNode(nodeId)
	if !ok {
		return fmt.Errorf("node %s not registered", nodeId)
	}
	if err := dn.TryTransition(topology.EnteringMaintenance); err != nil {
		return err
	}
	m.dirtyNodeBlocks(dn)
	return nil
}

// ExitMaintenance returns a maintenance node to service.
func (m *Manager) ExitMaintenance(nodeId topology.NodeId) error {
	dn, ok := m.topo.GetNode(nodeId)
	if !ok {
		return fmt.Errorf("node %s not registered", nodeId)
	}
	if err := dn.TryTransition(topology.Normal); err != nil {
		return err
	}
	m.dirtyNodeBlocks(dn)
	return nil
}

func (m *Manager) drain(nodeId topology.NodeId, to topology.AdminState) error {
	dn, ok := m.topo.GetNode(nodeId)
	if !ok {
		return fmt.Errorf("node %s not registered", nodeId)
	}
	if err := dn.TryTransition(to); err != nil {
		return err
	}
	glog.V(0).Infof("node %s entering %s", nodeId, to)
	m.dirtyNodeBlocks(dn)
	return nil
}

func (m *Manager) dirtyNodeBlocks(dn *topology.DataNode) {
	for _, st := range dn.Storages() {
		for _, id := range m.bm.ListBlocks(st.Id) {
			m.bm.MarkDirty(id)
		}
	}
}

// Start runs the progress check loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.checkInterval):
		}
		m.CheckProgress()
	}
}

// CheckProgress completes drains whose blocks are all safe elsewhere and
// refreshes the draining-nodes gauge.
func (m *Manager) CheckProgress() {
	draining := 0
	for _, dn := range m.topo.Nodes() {
		switch dn.AdminState() {
		case topology.Decommissioning:
			draining++
			if m.nodeBlocksSafe(dn) {
				if err := dn.TryTransition(topology.Decommissioned); err == nil {
					draining--
					glog.V(0).Infof("node %s fully decommissioned", dn.Id())
				}
			}
		case topology.EnteringMaintenance:
			draining++
			if m.nodeBlocksSafe(dn) {
				if err := dn.TryTransition(topology.InMaintenance); err == nil {
					glog.V(0).Infof("node %s now in maintenance", dn.Id())
				}
			}
		}
	}
	stats.DecommissioningNodes.Set(float64(draining))
}

// nodeBlocksSafe reports whether every block held by the node meets its
// redundancy target without counting the node itself.
func (m *Manager) nodeBlocksSafe(dn *topology.DataNode) bool {
	totalRacks := m.topo.RackCount()
	for _, st := range dn.Storages() {
		for _, id := range m.bm.ListBlocks(st.Id) {
			info, replicas, ok := m.bm.GetBlockAndReplicas(id)
			if !ok {
				continue
			}
			c := redundancy.Count(m.topo, replicas)
			if health, _ := redundancy.Classify(info, c, totalRacks); health == redundancy.LowRedundancy || health == redundancy.Corrupt {
				return false
			}
		}
	}
	return true
}

// VolumeFailureSummary is the per-node failed volume report for operators.
type VolumeFailureSummary struct {
	NodeId        topology.NodeId
	FailedVolumes int
	Fatal         bool
}

func (m *Manager) VolumeFailureSummaries() (ret []VolumeFailureSummary) {
	for _, dn := range m.topo.Nodes() {
		if n := dn.FailedVolumeCount(); n > 0 || dn.IsFatal() {
			ret = append(ret, VolumeFailureSummary{
				NodeId:        dn.Id(),
				FailedVolumes: n,
				Fatal:         dn.IsFatal(),
			})
		}
	}
	return
}
