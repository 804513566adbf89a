package topology

import (
	"sync"
)

type Rack struct {
	sync.RWMutex
	id    RackId
	nodes map[NodeId]*DataNode
}

func NewRack(id RackId) *Rack {
	return &Rack{
		id:    id,
		nodes: make(map[NodeId]*DataNode),
	}
}

func (r *Rack) Id() RackId {
	return r.id
}

func (r *Rack) Nodes() (ret []*DataNode) {
	r.RLock()
	defer r.RUnlock()
	for _, dn := range r.nodes {
		ret = append(ret, dn)
	}
	return
}

func (r *Rack) NodeCount() int {
	r.RLock()
	defer r.RUnlock()
	return len(r.nodes)
}

func (r *Rack) linkNode(dn *DataNode) {
	r.Lock()
	r.nodes[dn.Id()] = dn
	r.Unlock()
}

func (r *Rack) unlinkNode(id NodeId) {
	r.Lock()
	delete(r.nodes, id)
	r.Unlock()
}
