package redundancy

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/hidataplus/hadoop-sub001/hdfs/blockmap"
	"github.com/hidataplus/hadoop-sub001/hdfs/command"
	"github.com/hidataplus/hadoop-sub001/hdfs/placement"
	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

// fullScanEvery forces a sweep of the whole block map every Nth cycle so
// drift that never dirtied a block still gets noticed.
const fullScanEvery = 10

// Monitor drives the redundancy control loop: classify changed blocks,
// queue the deficient ones, prune excess, requeue timed-out work, and
// emit up to a per-cycle budget of repairs through the scheduler.
type Monitor struct {
	topo      *topology.Topology
	bm        *blockmap.BlocksMap
	queues    *Queues
	cmdQueues *command.Queues
	pending   *Pending
	scheduler *Scheduler
	clock     clock.Clock

	scanInterval    time.Duration
	maxWorkPerCycle int
	cycle           int

	mu     sync.Mutex
	atRisk map[types.BlockId]struct{}
}

func NewMonitor(topo *topology.Topology, bm *blockmap.BlocksMap, queues *Queues,
	cmdQueues *command.Queues, pending *Pending, scheduler *Scheduler,
	clk clock.Clock, scanInterval time.Duration, maxWorkPerCycle int) *Monitor {
	return &Monitor{
		topo:            topo,
		bm:              bm,
		queues:          queues,
		cmdQueues:       cmdQueues,
		pending:         pending,
		scheduler:       scheduler,
		clock:           clk,
		scanInterval:    scanInterval,
		maxWorkPerCycle: maxWorkPerCycle,
		atRisk:          make(map[types.BlockId]struct{}),
	}
}

// Start runs scan cycles until ctx is cancelled. The sleep is jittered so
// restarts of many managers do not scan in lockstep.
func (m *Monitor) Start(ctx context.Context) {
	for {
		sleep := m.scanInterval + time.Duration(rand.Int63n(int64(m.scanInterval)/10+1))
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(sleep):
		}
		m.RunOnce()
	}
}

// RunOnce executes one full control cycle.
func (m *Monitor) RunOnce() {
	m.cycle++

	for _, id := range m.pending.TakeTimedOut() {
		m.bm.MarkDirty(id)
		glog.V(1).Infof("repair of %s timed out, requeueing", id)
	}

	var ids []types.BlockId
	if m.cycle%fullScanEvery == 0 {
		ids = m.bm.BlockIds()
		m.bm.TakeDirty()
	} else {
		ids = m.bm.TakeDirty()
	}
	m.classifyAll(ids)
	m.queues.updateGauges()

	m.emitWork()
}

// classifyAll re-derives the health of the given blocks and moves them in
// or out of the deficiency queues. Classification is read-only on the
// graph so it fans out across cores.
func (m *Monitor) classifyAll(ids []types.BlockId) {
	if len(ids) == 0 {
		return
	}
	totalRacks := m.topo.RackCount()

	type verdict struct {
		id       types.BlockId
		health   Health
		priority int
		info     *storage.BlockInfo
		replicas []blockmap.Replica
		counts   Counts
	}
	verdicts := make([]verdict, len(ids))

	eg := errgroup.Group{}
	eg.SetLimit(runtime.GOMAXPROCS(0))
	const chunk = 1024
	for start := 0; start < len(ids); start += chunk {
		start := start
		end := min(start+chunk, len(ids))
		eg.Go(func() error {
			for i := start; i < end; i++ {
				v := &verdicts[i]
				v.id = ids[i]
				info, replicas, ok := m.bm.GetBlockAndReplicas(ids[i])
				if !ok {
					v.health = Sufficient
					continue
				}
				v.info, v.replicas = info, replicas
				v.counts = Count(m.topo, replicas)
				v.health, v.priority = Classify(info, v.counts, totalRacks)
			}
			return nil
		})
	}
	eg.Wait()

	for i := range verdicts {
		v := &verdicts[i]
		switch v.health {
		case Sufficient:
			m.queues.Remove(v.id)
			m.clearAtRisk(v.id)
		case LowRedundancy:
			m.queues.Add(v.id, v.priority)
			m.clearAtRisk(v.id)
		case Corrupt:
			// keep it queued at highest priority in case a replica
			// reappears, but surface it as data at risk
			m.queues.Add(v.id, PriorityHighest)
			m.markAtRisk(v.id)
		case Excess:
			m.queues.Remove(v.id)
			m.clearAtRisk(v.id)
			m.pruneExcess(v.info, v.replicas, v.counts)
		}
	}
}

// emitWork drains the deficiency queues into the scheduler, highest
// priority first, up to the per-cycle budget. Blocks with in-flight work
// are skipped, and a placement failure leaves the block queued for the
// next cycle.
func (m *Monitor) emitWork() {
	emitted := 0
	for _, id := range m.queues.ChooseBlocks(m.maxWorkPerCycle * 2) {
		if emitted >= m.maxWorkPerCycle {
			break
		}
		if m.pending.Contains(id) {
			continue
		}
		priority, ok := m.queues.Contains(id)
		if !ok {
			continue
		}
		_, err := m.scheduler.Schedule(id, priority)
		switch {
		case err == nil:
			m.queues.Remove(id)
			emitted++
		case errors.Is(err, ErrNothingToDo):
			m.queues.Remove(id)
		case errors.Is(err, ErrUnrecoverable):
			m.markAtRisk(id)
		default:
			var placeErr *placement.Error
			if errors.As(err, &placeErr) {
				glog.V(1).Infof("cannot place repair of %s: %v", id, err)
			} else {
				glog.Warningf("cannot schedule repair of %s: %v", id, err)
			}
		}
	}
}

// pruneExcess trims a block back to its target count, choosing victims
// that keep the rack spread intact: a replica is only expendable when its
// rack keeps another live copy, unless the rack count already exceeds the
// target.
func (m *Monitor) pruneExcess(info *storage.BlockInfo, replicas []blockmap.Replica, c Counts) {
	if info.IsStriped() {
		m.pruneDuplicateSlots(info, replicas)
		return
	}

	excess := c.Live - info.Replication
	for ; excess > 0; excess-- {
		victim := m.pickExcessVictim(info, replicas)
		if victim == nil {
			return
		}
		m.invalidate(info, *victim)
		for i := range replicas {
			if replicas[i].StorageId == victim.StorageId {
				replicas[i].State = types.Excess
			}
		}
	}
}

// pickExcessVictim prefers a replica on a rack that holds more than one
// live copy, then the node with the least free space, matching the idea
// that deletions should relieve the fullest disks first.
func (m *Monitor) pickExcessVictim(info *storage.BlockInfo, replicas []blockmap.Replica) *blockmap.Replica {
	rackLive := make(map[topology.RackId]int)
	type cand struct {
		r  blockmap.Replica
		st *topology.Storage
	}
	var cands []cand
	for _, r := range replicas {
		if !r.State.IsLive() {
			continue
		}
		st, ok := m.topo.GetStorage(r.StorageId)
		if !ok {
			continue
		}
		rackLive[st.Node().RackId()]++
		cands = append(cands, cand{r: r, st: st})
	}
	var best *cand
	bestCrowded := false
	for i := range cands {
		c := &cands[i]
		crowded := rackLive[c.st.Node().RackId()] > 1
		switch {
		case best == nil:
			best, bestCrowded = c, crowded
		case crowded && !bestCrowded:
			best, bestCrowded = c, crowded
		case crowded == bestCrowded && c.st.Available() < best.st.Available():
			best = c
		}
	}
	if best == nil {
		return nil
	}
	if !bestCrowded && len(rackLive) <= info.TargetRackCount(m.topo.RackCount()) {
		// every remaining rack holds exactly one copy and the spread is
		// not above target, so any deletion would shrink it
		return nil
	}
	return &best.r
}

// pruneDuplicateSlots drops surplus copies of internal blocks in a striped
// group. Only exact slot duplicates are ever excess for striped storage.
func (m *Monitor) pruneDuplicateSlots(info *storage.BlockInfo, replicas []blockmap.Replica) {
	keeper := make(map[int]types.StorageId)
	for _, r := range replicas {
		if !r.State.IsLive() || r.Slot == blockmap.NoSlot {
			continue
		}
		if _, ok := m.topo.GetStorage(r.StorageId); !ok {
			continue
		}
		if _, ok := keeper[r.Slot]; !ok {
			keeper[r.Slot] = r.StorageId
			continue
		}
		m.invalidate(info, r)
	}
}

func (m *Monitor) invalidate(info *storage.BlockInfo, r blockmap.Replica) {
	st, ok := m.topo.GetStorage(r.StorageId)
	if !ok {
		return
	}
	m.bm.MarkExcess(info.Id, r.StorageId)
	m.cmdQueues.Enqueue(st.Node().Id(), command.Command{
		Kind:            command.Invalidate,
		GenerationStamp: info.GenerationStamp,
		Blocks:          []types.BlockId{info.Id},
		TargetStorages:  []types.StorageId{r.StorageId},
	})
	glog.V(1).Infof("invalidating excess replica of %s on %s", info.Id, r.StorageId)
}

func (m *Monitor) markAtRisk(id types.BlockId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.atRisk[id]; !ok {
		m.atRisk[id] = struct{}{}
		stats.DataAtRiskBlocks.Set(float64(len(m.atRisk)))
		glog.Errorf("block %s has lost too many replicas to repair", id)
	}
}

func (m *Monitor) clearAtRisk(id types.BlockId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.atRisk[id]; ok {
		delete(m.atRisk, id)
		stats.DataAtRiskBlocks.Set(float64(len(m.atRisk)))
	}
}

// AtRiskCount reports how many blocks currently have no repair path.
func (m *Monitor) AtRiskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.atRisk)
}
