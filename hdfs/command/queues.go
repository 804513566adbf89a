package command

import (
	"sync"

	"github.com/golang/glog"
	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/hidataplus/hadoop-sub001/hdfs/topology"
)

type nodeQueue struct {
	sync.Mutex
	commands []Command
}

// Queues holds the per-node outgoing command queues drained by the next
// heartbeat from each node. Queues are bounded: a node that stops
// heartbeating must not accumulate work without limit.
type Queues struct {
	queues     cmap.ConcurrentMap[string, *nodeQueue]
	maxPerNode int
}

func NewQueues(maxPerNode int) *Queues {
	return &Queues{
		queues:     cmap.New[*nodeQueue](),
		maxPerNode: maxPerNode,
	}
}

func (q *Queues) get(node topology.NodeId) *nodeQueue {
	nq, ok := q.queues.Get(string(node))
	if !ok {
		nq = &nodeQueue{}
		if !q.queues.SetIfAbsent(string(node), nq) {
			nq, _ = q.queues.Get(string(node))
		}
	}
	return nq
}

// Enqueue appends a command for the node, dropping it when the queue is
// full. The monitor re-emits dropped work after the pending timeout.
func (q *Queues) Enqueue(node topology.NodeId, cmd Command) bool {
	nq := q.get(node)
	nq.Lock()
	defer nq.Unlock()
	if len(nq.commands) >= q.maxPerNode {
		glog.Warningf("command queue for %s full (%d), dropping %s", node, q.maxPerNode, cmd)
		return false
	}
	nq.commands = append(nq.commands, cmd)
	return true
}

// Drain removes and returns up to max pending commands for the node.
func (q *Queues) Drain(node topology.NodeId, max int) []Command {
	nq, ok := q.queues.Get(string(node))
	if !ok {
		return nil
	}
	nq.Lock()
	defer nq.Unlock()
	if len(nq.commands) == 0 {
		return nil
	}
	n := len(nq.commands)
	if max > 0 && n > max {
		n = max
	}
	out := make([]Command, n)
	copy(out, nq.commands[:n])
	nq.commands = append(nq.commands[:0], nq.commands[n:]...)
	return out
}

func (q *Queues) Pending(node topology.NodeId) int {
	nq, ok := q.queues.Get(string(node))
	if !ok {
		return 0
	}
	nq.Lock()
	defer nq.Unlock()
	return len(nq.commands)
}

// Purge drops all queued work for a node that left the cluster.
func (q *Queues) Purge(node topology.NodeId) {
	q.queues.Remove(string(node))
}
