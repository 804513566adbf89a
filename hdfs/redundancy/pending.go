package redundancy

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/facebookgo/clock"
	"github.com/google/btree"

	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

type pendingItem struct {
	blockId     types.BlockId
	deadline    time.Time
	targets     map[types.StorageId]struct{}
	reconstruct bool
}

func lessPending(a, b *pendingItem) bool {
	if !a.deadline.Equal(b.deadline) {
		return a.deadline.Before(b.deadline)
	}
	return a.blockId < b.blockId
}

// Pending tracks repair work that has been handed to nodes but not yet
// confirmed by a report. A pending block is excluded from re-emission until
// its deadline passes; each timeout stretches the next deadline so a slow
// node does not cause a duplicate work storm.
type Pending struct {
	sync.Mutex
	clock      clock.Clock
	timeout    time.Duration
	items      map[types.BlockId]*pendingItem
	byDeadline *btree.BTreeG[*pendingItem]
	retries    map[types.BlockId]*backoff.ExponentialBackOff
	onRelease  func(id types.StorageId, reconstruct bool)
}

// OnRelease installs a callback fired once per expected target whenever
// that expectation ends, by confirmation, cancellation, or timeout. The
// scheduler uses it to unwind node work counters.
func (p *Pending) OnRelease(f func(id types.StorageId, reconstruct bool)) {
	p.onRelease = f
}

func (p *Pending) release(item *pendingItem, id types.StorageId) {
	if p.onRelease != nil {
		p.onRelease(id, item.reconstruct)
	}
}

func NewPending(clk clock.Clock, timeout time.Duration) *Pending {
	return &Pending{
		clock:      clk,
		timeout:    timeout,
		items:      make(map[types.BlockId]*pendingItem),
		byDeadline: btree.NewG(8, lessPending),
		retries:    make(map[types.BlockId]*backoff.ExponentialBackOff),
	}
}

// Add registers in-flight work for a block. Returns false if the block is
// already pending.
func (p *Pending) Add(id types.BlockId, targets []types.StorageId, reconstruct bool) bool {
	p.Lock()
	defer p.Unlock()
	if _, ok := p.items[id]; ok {
		return false
	}
	wait := p.timeout
	if bo, ok := p.retries[id]; ok {
		wait = bo.NextBackOff()
	}
	item := &pendingItem{
		blockId:     id,
		deadline:    p.clock.Now().Add(wait),
		targets:     make(map[types.StorageId]struct{}),
		reconstruct: reconstruct,
	}
	for _, t := range targets {
		item.targets[t] = struct{}{}
	}
	p.items[id] = item
	p.byDeadline.ReplaceOrInsert(item)
	stats.PendingReconstructionBlocks.Set(float64(len(p.items)))
	return true
}

func (p *Pending) Contains(id types.BlockId) bool {
	p.Lock()
	defer p.Unlock()
	_, ok := p.items[id]
	return ok
}

// ConfirmTarget acknowledges that one expected target now holds the block.
// Returns true when every target is confirmed and the item is retired.
func (p *Pending) ConfirmTarget(id types.BlockId, storageId types.StorageId) (done bool) {
	p.Lock()
	defer p.Unlock()
	item, ok := p.items[id]
	if !ok {
		return false
	}
	if _, expected := item.targets[storageId]; !expected {
		return false
	}
	delete(item.targets, storageId)
	p.release(item, storageId)
	if len(item.targets) > 0 {
		return false
	}
	p.remove(item)
	delete(p.retries, id)
	return true
}

// Cancel drops in-flight work, either because the work became moot or the
// assignee left. Advisory: a late result is simply ignored.
func (p *Pending) Cancel(id types.BlockId) {
	p.Lock()
	defer p.Unlock()
	if item, ok := p.items[id]; ok {
		p.removeReleasing(item)
		delete(p.retries, id)
	}
}

// CancelForStorages cancels every item that expected a result on one of
// the given storages, returning the affected blocks for requeueing.
func (p *Pending) CancelForStorages(ids []types.StorageId) (cancelled []types.BlockId) {
	gone := make(map[types.StorageId]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}
	p.Lock()
	defer p.Unlock()
	for blockId, item := range p.items {
		for t := range item.targets {
			if _, ok := gone[t]; ok {
				cancelled = append(cancelled, blockId)
				p.removeReleasing(item)
				break
			}
		}
	}
	return
}

// TakeTimedOut removes and returns the blocks whose work deadline passed.
// The per-block retry backoff survives so the next Add waits longer.
func (p *Pending) TakeTimedOut() (ret []types.BlockId) {
	p.Lock()
	defer p.Unlock()
	now := p.clock.Now()
	for {
		item, ok := p.byDeadline.Min()
		if !ok || item.deadline.After(now) {
			break
		}
		p.removeReleasing(item)
		bo, ok := p.retries[item.blockId]
		if !ok {
			bo = backoff.NewExponentialBackOff()
			bo.InitialInterval = p.timeout
			bo.RandomizationFactor = 0
			bo.MaxInterval = 8 * p.timeout
			bo.MaxElapsedTime = 0
			bo.Reset()
			p.retries[item.blockId] = bo
		}
		stats.TimedOutReconstructionCounter.Inc()
		ret = append(ret, item.blockId)
	}
	return
}

// removeReleasing retires an item whose remaining targets never reported.
func (p *Pending) removeReleasing(item *pendingItem) {
	for t := range item.targets {
		p.release(item, t)
	}
	p.remove(item)
}

func (p *Pending) remove(item *pendingItem) {
	delete(p.items, item.blockId)
	p.byDeadline.Delete(item)
	stats.PendingReconstructionBlocks.Set(float64(len(p.items)))
}

func (p *Pending) Size() int {
	p.Lock()
	defer p.Unlock()
	return len(p.items)
}
