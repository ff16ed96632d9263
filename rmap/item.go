// Package rmap implements the merge metadata of spec.md §3/§4.5: the
// reverse-map of tracked virtual pages (rmap_item), the stable hash-table
// with chains (stable_node), and the per-cycle unstable index. The engine
// exclusively owns every value here for its lifetime (spec.md "Ownership").
package rmap

import (
	"fmt"

	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// State is the state of one rmap_item (spec.md §3).
type State uint8

// The four rmap_item states.
const (
	None State = iota
	Volatile
	Unstable
	Stable
)

// String implements the Stringer interface.
func (s State) String() string {
	switch s {
	case None:
		return "None"
	case Volatile:
		return "Volatile"
	case Unstable:
		return "Unstable"
	case Stable:
		return "Stable"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// Item is one tracked virtual page, persistent across cycles (spec.md §3
// rmap_item).
type Item struct {
	Key wire.ItemKey

	State State

	PFN wire.PFN

	OldHash hashpair.Pair

	Age             uint64
	VolatilityScore int32
	SkipCnt         int32
	LastAccess      uint64

	// Node is the stable node this item shares, valid only when State ==
	// Stable. Invariant (spec.md §3): State == Stable iff the item appears
	// in exactly one stable_node.Sharers.
	Node NodeHandle
}

// NewItem constructs a freshly-seen rmap_item: state None with a null old
// hash, exactly as created lazily when the engine first encounters a key
// in a shadow page table (spec.md "Lifecycle").
func NewItem(key wire.ItemKey, pfn wire.PFN) *Item {
	return &Item{
		Key:     key,
		State:   None,
		PFN:     pfn,
		OldHash: hashpair.Null,
		Node:    NilHandle,
	}
}
