package rmap

import (
	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// NodeArena owns every StableNode for the engine's lifetime, addressed by
// NodeHandle rather than pointer (DESIGN NOTES §9).
type NodeArena struct {
	nodes []*StableNode
	free  []NodeHandle
}

// NewNodeArena returns an empty arena.
func NewNodeArena() *NodeArena {
	return &NodeArena{}
}

// New allocates a fresh StableNode, reusing a freed slot when available,
// and returns its handle.
func (a *NodeArena) New(pageHash hashpair.Pair, pfn wire.PFN) NodeHandle {
	node := newStableNode(pageHash, pfn)
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.nodes[h] = node
		return h
	}
	a.nodes = append(a.nodes, node)
	return NodeHandle(len(a.nodes) - 1)
}

// Get dereferences a handle. It returns nil for NilHandle or a freed slot.
func (a *NodeArena) Get(h NodeHandle) *StableNode {
	if h == NilHandle || int(h) >= len(a.nodes) {
		return nil
	}
	n := a.nodes[h]
	if n == nil || !n.live {
		return nil
	}
	return n
}

// Free releases a node's slot for reuse. The node must have no sharers and
// not be in the middle of a chain (spec.md "Lifecycle": "destroyed when
// shared_cnt reaches zero and it is not in the middle of a chain").
func (a *NodeArena) Free(h NodeHandle) {
	n := a.Get(h)
	if n == nil {
		return
	}
	n.live = false
	a.nodes[h] = nil
	a.free = append(a.free, h)
}
