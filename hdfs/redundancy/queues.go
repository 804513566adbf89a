package redundancy

import (
	"sync"

	"github.com/hidataplus/hadoop-sub001/hdfs/stats"
	"github.com/hidataplus/hadoop-sub001/hdfs/storage/types"
)

// Queues buckets blocks needing repair by priority. A block lives in at
// most one bucket at a time; re-adding with a different priority moves it.
type Queues struct {
	sync.Mutex
	buckets [PriorityLevels]map[types.BlockId]struct{}
	level   map[types.BlockId]int
}

func NewQueues() *Queues {
	q := &Queues{
		level: make(map[types.BlockId]int),
	}
	for i := range q.buckets {
		q.buckets[i] = make(map[types.BlockId]struct{})
	}
	return q
}

func (q *Queues) Add(id types.BlockId, priority int) {
	if priority < 0 || priority >= PriorityLevels {
		priority = PriorityLevels - 1
	}
	q.Lock()
	defer q.Unlock()
	if old, ok := q.level[id]; ok {
		if old == priority {
			return
		}
		delete(q.buckets[old], id)
	}
	q.buckets[priority][id] = struct{}{}
	q.level[id] = priority
}

func (q *Queues) Remove(id types.BlockId) {
	q.Lock()
	defer q.Unlock()
	if old, ok := q.level[id]; ok {
		delete(q.buckets[old], id)
		delete(q.level, id)
	}
}

func (q *Queues) Contains(id types.BlockId) (int, bool) {
	q.Lock()
	defer q.Unlock()
	lv, ok := q.level[id]
	return lv, ok
}

// ChooseBlocks takes up to max blocks in priority order without removing
// them; the caller removes a block once it is scheduled.
func (q *Queues) ChooseBlocks(max int) (ret []types.BlockId) {
	q.Lock()
	defer q.Unlock()
	for prio := 0; prio < PriorityLevels && len(ret) < max; prio++ {
		for id := range q.buckets[prio] {
			ret = append(ret, id)
			if len(ret) >= max {
				break
			}
		}
	}
	return
}

func (q *Queues) Len(priority int) int {
	q.Lock()
	defer q.Unlock()
	return len(q.buckets[priority])
}

func (q *Queues) Size() int {
	q.Lock()
	defer q.Unlock()
	return len(q.level)
}

// BlocksAtPriority snapshots one bucket, for operator queries.
func (q *Queues) BlocksAtPriority(priority int) (ret []types.BlockId) {
	if priority < 0 || priority >= PriorityLevels {
		return nil
	}
	q.Lock()
	defer q.Unlock()
	for id := range q.buckets[priority] {
		ret = append(ret, id)
	}
	return
}

func (q *Queues) updateGauges() {
	q.Lock()
	defer q.Unlock()
	for prio := 0; prio < PriorityLevels; prio++ {
		stats.SetLowRedundancyBlocks(prio, len(q.buckets[prio]))
	}
}
