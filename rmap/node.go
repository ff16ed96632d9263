package rmap

import (
	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// NodeHandle indexes a StableNode inside a NodeArena. DESIGN NOTES §9:
// "an arena of nodes with integer handles and next/prev as optional
// handles" replaces the source's embedded doubly-linked pointers, since
// the chain's HEAD-swap mutation is easier to reason about without
// aliasing.
type NodeHandle int32

// NilHandle is the zero-value-safe "no node" handle.
const NilHandle NodeHandle = -1

// MaxPageSharing bounds shared_cnt before a stable_node saturates and a new
// chain node is created (spec.md §3/§6).
const MaxPageSharing = wire.MaxPageSharing

// ChainRole distinguishes the node present in the global stable index from
// the nodes reachable only by walking its chain (spec.md §3).
type ChainRole uint8

// The two chain roles.
const (
	// Head is the node present in the global stable index.
	Head ChainRole = iota
	// Chain is a node reachable only from its Head via ChainNext.
	Chain
)

// StableNode is one distinct physical page the engine believes is shared
// (spec.md §3 stable_node).
type StableNode struct {
	PageHash hashpair.Pair
	PFN      wire.PFN

	// Sharers is the ordered set of rmap_item keys sharing this node,
	// backed by a slice (insertion order, spec.md "ordered set") plus an
	// index map for O(1) membership/removal.
	sharers   []wire.ItemKey
	sharerIdx map[wire.ItemKey]int

	Role      ChainRole
	ChainNext NodeHandle
	ChainPrev NodeHandle

	live bool // false once freed; arena slots are reused
}

func newStableNode(pageHash hashpair.Pair, pfn wire.PFN) *StableNode {
	return &StableNode{
		PageHash:  pageHash,
		PFN:       pfn,
		sharerIdx: make(map[wire.ItemKey]int),
		ChainNext: NilHandle,
		ChainPrev: NilHandle,
		Role:      Head,
		live:      true,
	}
}

// SharedCnt returns the number of sharers, which must always equal
// len(Sharers) (spec.md invariant).
func (n *StableNode) SharedCnt() int { return len(n.sharers) }

// Saturated reports whether this node has reached MaxPageSharing sharers.
func (n *StableNode) Saturated() bool { return n.SharedCnt() >= MaxPageSharing }

// Sharers returns the ordered set of item keys sharing this node. The
// returned slice must not be mutated by the caller.
func (n *StableNode) Sharers() []wire.ItemKey { return n.sharers }

// HasSharer reports whether key is currently a sharer of this node.
func (n *StableNode) HasSharer(key wire.ItemKey) bool {
	_, ok := n.sharerIdx[key]
	return ok
}

// AddSharer appends key to the ordered sharer set. It panics if key is
// already a sharer or the node is saturated, since both indicate a caller
// bug: the merge package is responsible for only linking a non-saturated
// node returned by StableIndex.Lookup or freshly created by Insert.
func (n *StableNode) AddSharer(key wire.ItemKey) {
	if _, ok := n.sharerIdx[key]; ok {
		panic("rmap: key is already a sharer of this node")
	}
	if n.Saturated() {
		panic("rmap: cannot add sharer to a saturated node")
	}
	n.sharerIdx[key] = len(n.sharers)
	n.sharers = append(n.sharers, key)
}

// RemoveSharer removes key from the ordered sharer set, reindexing the
// tail of the slice to keep sharerIdx consistent. It is a no-op if key is
// not a sharer.
func (n *StableNode) RemoveSharer(key wire.ItemKey) {
	i, ok := n.sharerIdx[key]
	if !ok {
		return
	}
	last := len(n.sharers) - 1
	n.sharers[i] = n.sharers[last]
	n.sharerIdx[n.sharers[i]] = i
	n.sharers = n.sharers[:last]
	delete(n.sharerIdx, key)
}
