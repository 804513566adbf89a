package namenode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/facebookgo/clock"
	"github.com/golang/glog"

	"github.com/hidataplus/hadoop-sub001/hdfs/admin"
	"github.com/hidataplus/hadoop-sub001/hdfs/blockmap"
	"github.com/hidataplus/hadoop-sub001/hdfs/command"
	"github.com/hidataplus/hadoop-sub001/hdfs/ingest"
	"github.com/hidataplus/hadoop-sub001/hdfs/placement"
	"github.com/hidataplus/hadoop-sub001/hdfs/redundancy"
	"github.com/hidataplus/hadoop-sub001/hdfs/sequence"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/erasure_coding"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
	"github.com/hidataplus/hadoop-sub001/hdfs/util"
)

var (
	// ErrBlockNotFound means the namespace never had, or no longer has,
	// this block.
	ErrBlockNotFound = errors.New("block not found")
	// ErrBlockNotAvailable means the block exists but has no readable
	// replica right now. A client read fails differently for the two.
	ErrBlockNotAvailable = errors.New("block has no available replica")
)

// BlockManager wires the whole block management engine together and is
// the surface the namespace layer, node RPC handlers, and operator
// tooling call into.
type BlockManager struct {
	Topology  *topology.Topology
	Blocks    *blockmap.BlocksMap
	Commands  *command.Queues
	Placement *placement.Policy
	Pending   *redundancy.Pending
	Queues    *redundancy.Queues
	Scheduler *redundancy.Scheduler
	Monitor   *redundancy.Monitor
	Admin     *admin.Manager
	Heartbeat *ingest.HeartbeatManager
	Reports   *ingest.ReportIngestor
	Sequencer *sequence.Sequencer

	clock         clock.Clock
	sweepInterval time.Duration
	cancel        context.CancelFunc
}

// NewBlockManager builds the engine from configuration. Pass a mock clock
// in tests to drive liveness and timeouts deterministically.
func NewBlockManager(config util.Configuration, clk clock.Clock) (*BlockManager, error) {
	config.SetDefault("redundancy.scan_interval_seconds", 3)
	config.SetDefault("redundancy.max_work_per_cycle", 100)
	config.SetDefault("redundancy.pending_timeout_seconds", 300)
	config.SetDefault("decommission.check_interval_seconds", 30)
	config.SetDefault("node.failed_volumes_tolerated", 0)
	config.SetDefault("node.stale_seconds", 30)
	config.SetDefault("node.dead_seconds", 630)
	config.SetDefault("node.max_commands_queued", 1000)
	config.SetDefault("sequence.coordinator_id", 1)

	seq, err := sequence.NewSequencer(int64(config.GetInt("sequence.coordinator_id")))
	if err != nil {
		return nil, fmt.Errorf("init sequencer: %v", err)
	}

	topo := topology.NewTopology(clk,
		time.Duration(config.GetInt("node.stale_seconds"))*time.Second,
		time.Duration(config.GetInt("node.dead_seconds"))*time.Second)
	bm := blockmap.NewBlocksMap()
	cmdQueues := command.NewQueues(config.GetInt("node.max_commands_queued"))
	place := placement.NewRackAwarePolicy(topo)
	pending := redundancy.NewPending(clk,
		time.Duration(config.GetInt("redundancy.pending_timeout_seconds"))*time.Second)
	queues := redundancy.NewQueues()
	scheduler := redundancy.NewScheduler(topo, bm, place, cmdQueues, pending)
	scanInterval := time.Duration(config.GetInt("redundancy.scan_interval_seconds")) * time.Second
	monitor := redundancy.NewMonitor(topo, bm, queues, cmdQueues, pending, scheduler,
		clk, scanInterval, config.GetInt("redundancy.max_work_per_cycle"))
	adminMgr := admin.NewManager(topo, bm, clk,
		time.Duration(config.GetInt("decommission.check_interval_seconds"))*time.Second)
	heartbeat := ingest.NewHeartbeatManager(topo, bm, cmdQueues, pending,
		config.GetInt("node.failed_volumes_tolerated"))
	reports := ingest.NewReportIngestor(topo, bm, cmdQueues, seq, scheduler.WorkConfirmed)

	return &BlockManager{
		Topology:      topo,
		Blocks:        bm,
		Commands:      cmdQueues,
		Placement:     place,
		Pending:       pending,
		Queues:        queues,
		Scheduler:     scheduler,
		Monitor:       monitor,
		Admin:         adminMgr,
		Heartbeat:     heartbeat,
		Reports:       reports,
		Sequencer:     seq,
		clock:         clk,
		sweepInterval: scanInterval,
	}, nil
}

// Start launches the background loops. Stop cancels them.
func (b *BlockManager) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	go b.Monitor.Start(ctx)
	go b.Admin.Start(ctx)
	go b.sweepLoop(ctx)
	glog.V(0).Infof("block manager started")
}

func (b *BlockManager) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *BlockManager) sweepLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.clock.After(b.sweepInterval):
		}
		if n := b.Heartbeat.SweepDeadNodes(); n > 0 {
			glog.V(0).Infof("removed %d dead nodes", n)
		}
	}
}

// AllocateReplicatedBlock mints a new replicated block and registers it
// in the graph. The caller (namespace layer) owns the file association.
func (b *BlockManager) AllocateReplicatedBlock(replication int) (*storage.BlockInfo, error) {
	if replication <= 0 {
		return nil, fmt.Errorf("invalid replication factor %d", replication)
	}
	info := &storage.BlockInfo{
		Id:              b.Sequencer.NextBlockId(),
		GenerationStamp: b.Sequencer.NextGenerationStamp(),
		Replication:     replication,
	}
	if err := b.Blocks.AddBlock(info); err != nil {
		return nil, err
	}
	return info, nil
}

// AllocateStripedBlock mints a new erasure-coded block group.
func (b *BlockManager) AllocateStripedBlock(policy *erasure_coding.Policy) (*storage.BlockInfo, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	info := &storage.BlockInfo{
		Id:              b.Sequencer.NextBlockId(),
		GenerationStamp: b.Sequencer.NextGenerationStamp(),
		EcPolicy:        policy,
	}
	if err := b.Blocks.AddBlock(info); err != nil {
		return nil, err
	}
	return info, nil
}

// FileDeleted removes the file's blocks from the graph and tells every
// holder to delete its copies.
func (b *BlockManager) FileDeleted(blocks []storage.BlockRef) {
	for _, ref := range blocks {
		b.Pending.Cancel(ref.Id)
		b.Queues.Remove(ref.Id)
		perNode := make(map[topology.NodeId][]types.StorageId)
		for _, r := range b.Blocks.ListReplicas(ref.Id) {
			if st, ok := b.Topology.GetStorage(r.StorageId); ok {
				perNode[st.Node().Id()] = append(perNode[st.Node().Id()], r.StorageId)
			}
		}
		b.Blocks.RemoveBlock(ref.Id)
		for nodeId, storages := range perNode {
			b.Commands.Enqueue(nodeId, command.Command{
				Kind:           command.Invalidate,
				Blocks:         []types.BlockId{ref.Id},
				TargetStorages: storages,
			})
		}
	}
}

// LocateBlock returns the storages a reader can fetch the block from.
// Distinguishes a block that never existed from one whose replicas are
// all currently unavailable.
func (b *BlockManager) LocateBlock(id types.BlockId) ([]*topology.Storage, error) {
	_, replicas, ok := b.Blocks.GetBlockAndReplicas(id)
	if !ok {
		return nil, ErrBlockNotFound
	}
	var ret []*topology.Storage
	for _, r := range replicas {
		if !r.State.IsLive() {
			continue
		}
		st, ok := b.Topology.GetStorage(r.StorageId)
		if !ok || st.IsFailed() {
			continue
		}
		dn := st.Node()
		if b.Topology.IsNodeDead(dn) || !dn.CanServeReads() {
			continue
		}
		ret = append(ret, st)
	}
	if len(ret) == 0 {
		return nil, ErrBlockNotAvailable
	}
	return ret, nil
}

// ListDeficientBlocks returns the blocks currently queued at the given
// priority, for operator tooling.
func (b *BlockManager) ListDeficientBlocks(priority int) ([]types.BlockId, error) {
	if priority < redundancy.PriorityHighest || priority >= redundancy.PriorityLevels {
		return nil, fmt.Errorf("priority out of range: %d", priority)
	}
	return b.Queues.BlocksAtPriority(priority), nil
}

// SetFailedVolumesTolerated adjusts the per-node volume failure tolerance
// at runtime.
func (b *BlockManager) SetFailedVolumesTolerated(n int) error {
	if n < 0 {
		return fmt.Errorf("tolerance must be non-negative, got %d", n)
	}
	b.Heartbeat.SetFailedVolumesTolerated(n)
	return nil
}
