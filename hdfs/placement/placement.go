package placement

import (
	"fmt"
	"sort"

	"github.com/golang/glog"

	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

// Error reports an unsatisfiable placement: fewer eligible nodes than
// requested remained after exclusions.
type Error struct {
	Requested int
	Found     int
	Reason    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("placement: found %d of %d requested targets: %s", e.Found, e.Requested, e.Reason)
}

// Policy chooses target storages for new replicas, maximizing rack
// diversity first and balancing load second. It reads the topology's
// registry only, never the block map.
type Policy struct {
	topo *topology.Topology
}

func NewRackAwarePolicy(topo *topology.Topology) *Policy {
	return &Policy{topo: topo}
}

// Choose picks numTargets storages for new replicas of one block.
// existing lists the storages already holding the block so their racks and
// nodes are avoided. The first pass insists on unused racks for every
// pick; when the cluster cannot satisfy that, a relaxed pass accepts
// same-rack targets (still never the same node) before giving up with a
// placement Error.
func (p *Policy) Choose(numTargets int, excluded map[topology.NodeId]struct{}, existing []types.StorageId, storageType types.StorageType) ([]*topology.Storage, error) {
	usedRacks, usedNodes := p.indexExisting(existing)

	targets, err := p.chooseTargets(numTargets, excluded, usedRacks, usedNodes, storageType, true)
	if err == nil {
		return targets, nil
	}
	glog.V(1).Infof("strict placement failed (%v), retrying with same-rack targets allowed", err)
	stats.PlacementFailureCounter.WithLabelValues("strict").Inc()

	usedRacks, usedNodes = p.indexExisting(existing)
	targets, err = p.chooseTargets(numTargets, excluded, usedRacks, usedNodes, storageType, false)
	if err != nil {
		stats.PlacementFailureCounter.WithLabelValues("relaxed").Inc()
	}
	return targets, err
}

func (p *Policy) indexExisting(existing []types.StorageId) (map[topology.RackId]int, map[topology.NodeId]struct{}) {
	usedRacks := make(map[topology.RackId]int)
	usedNodes := make(map[topology.NodeId]struct{})
	for _, id := range existing {
		if s, ok := p.topo.GetStorage(id); ok {
			usedRacks[s.Node().RackId()]++
			usedNodes[s.Node().Id()] = struct{}{}
		}
	}
	return usedRacks, usedNodes
}

type candidate struct {
	storage  *topology.Storage
	newRack  bool
	rackLoad int
}

func (p *Policy) chooseTargets(numTargets int, excluded map[topology.NodeId]struct{}, usedRacks map[topology.RackId]int, usedNodes map[topology.NodeId]struct{}, storageType types.StorageType, strict bool) (targets []*topology.Storage, err error) {
	for i := 0; i < numTargets; i++ {
		picked := p.pickOne(excluded, usedRacks, usedNodes, storageType, strict)
		if picked == nil {
			return nil, &Error{
				Requested: numTargets,
				Found:     len(targets),
				Reason:    fmt.Sprintf("no eligible node left (strict=%v, %d excluded)", strict, len(excluded)),
			}
		}
		targets = append(targets, picked)
		usedRacks[picked.Node().RackId()]++
		usedNodes[picked.Node().Id()] = struct{}{}
	}
	return targets, nil
}

func (p *Policy) pickOne(excluded map[topology.NodeId]struct{}, usedRacks map[topology.RackId]int, usedNodes map[topology.NodeId]struct{}, storageType types.StorageType, strict bool) *topology.Storage {
	var candidates []candidate
	for _, dn := range p.topo.Nodes() {
		if _, ok := excluded[dn.Id()]; ok {
			continue
		}
		if _, ok := usedNodes[dn.Id()]; ok {
			continue
		}
		if !dn.IsAvailableForPlacement() {
			continue
		}
		if p.topo.Liveness(dn) != topology.Alive {
			continue
		}
		s := pickStorage(dn, storageType)
		if s == nil {
			continue
		}
		rackLoad, rackUsed := usedRacks[dn.RackId()]
		if strict && rackUsed {
			continue
		}
		candidates = append(candidates, candidate{storage: s, newRack: !rackUsed, rackLoad: rackLoad})
	}
	if len(candidates) == 0 {
		return nil
	}
	// unused racks first, then racks with the fewest replicas so far,
	// then the least loaded node, then most free space
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.newRack != b.newRack {
			return a.newRack
		}
		if a.rackLoad != b.rackLoad {
			return a.rackLoad < b.rackLoad
		}
		aw, bw := a.storage.Node().PendingWork(), b.storage.Node().PendingWork()
		if aw != bw {
			return aw < bw
		}
		return a.storage.Available() > b.storage.Available()
	})
	return candidates[0].storage
}

func pickStorage(dn *topology.DataNode, storageType types.StorageType) *topology.Storage {
	var best *topology.Storage
	for _, s := range dn.Storages() {
		if s.IsFailed() {
			continue
		}
		if types.NormalizeStorageType(s.Type) != types.NormalizeStorageType(storageType) {
			continue
		}
		if s.Available() == 0 {
			continue
		}
		if best == nil || s.Available() > best.Available() {
			best = s
		}
	}
	return best
}
