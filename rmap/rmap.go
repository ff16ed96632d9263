package rmap

import (
	"fmt"

	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Metadata bundles the reverse-map tree, the stable hash-table-with-chains,
// and the transient unstable hash-table (spec.md §2's "Merge metadata"
// component), the set of structures the engine exclusively owns for its
// lifetime.
type Metadata struct {
	Items    map[wire.ItemKey]*Item
	Arena    *NodeArena
	Stable   *StableIndex
	Unstable *UnstableIndex
}

// New returns an empty Metadata set.
func New() *Metadata {
	arena := NewNodeArena()
	return &Metadata{
		Items:    make(map[wire.ItemKey]*Item),
		Arena:    arena,
		Stable:   NewStableIndex(arena),
		Unstable: NewUnstableIndex(),
	}
}

// ItemFor returns the rmap_item for key, creating it lazily in state None
// if this is the first time the engine has seen this key (spec.md
// "Lifecycle"). pfn is the frame the shadow page table reports for key in
// the current cycle; it is only used to seed a freshly-created item, since
// an existing item's PFN is updated explicitly by the caller.
func (m *Metadata) ItemFor(key wire.ItemKey, pfn wire.PFN) *Item {
	item, ok := m.Items[key]
	if !ok {
		item = NewItem(key, pfn)
		m.Items[key] = item
	}
	return item
}

// Prune destroys every rmap_item whose LastAccess has fallen more than
// margin+1 cycles behind currentCycle (spec.md §4.4: "optionally prunes
// rmap_items whose last_access < current_cycle - 1 (kept under a tunable
// margin so churn is amortized)"). Stable items are skipped: pruning a
// Stable item without first detaching it from its stable_node would break
// the Stable-state invariant, and a Stable item's LastAccess is refreshed
// every cycle it is observed regardless of skip heuristics, so in practice
// it never falls behind enough to be eligible here.
func (m *Metadata) Prune(currentCycle uint64, margin uint64) {
	floor := int64(currentCycle) - 1 - int64(margin)
	for key, item := range m.Items {
		if item.State == Stable {
			continue
		}
		if int64(item.LastAccess) < floor {
			delete(m.Items, key)
		}
	}
}

// CheckInvariants validates the global invariants of spec.md §8 and
// returns the first breach found, wrapped as an *InvariantError. A nil
// return means every invariant held.
func (m *Metadata) CheckInvariants() error {
	for key, item := range m.Items {
		if item.State != Stable {
			continue
		}
		node := m.Arena.Get(item.Node)
		if node == nil {
			return &InvariantError{fmt.Errorf("stable item %v references a freed or nil node", key)}
		}
		if !node.HasSharer(key) {
			return &InvariantError{fmt.Errorf("stable item %v is not a sharer of its own node", key)}
		}
		if !item.OldHash.Eq(node.PageHash) {
			return &InvariantError{fmt.Errorf("stable item %v old_hash does not match node page_hash", key)}
		}
		if item.PFN != node.PFN {
			return &InvariantError{fmt.Errorf("stable item %v pfn does not match node pfn", key)}
		}
	}

	for _, bucket := range m.Stable.buckets {
		for _, h := range bucket {
			node := m.Arena.Get(h)
			if node == nil {
				continue
			}
			if node.SharedCnt() > MaxPageSharing {
				return &InvariantError{fmt.Errorf("node exceeds MaxPageSharing")}
			}
			if node.Role != Head {
				return &InvariantError{fmt.Errorf("bucket entry is not a HEAD")}
			}
			for cur := node.ChainNext; cur != NilHandle; {
				n := m.Arena.Get(cur)
				if n == nil {
					return &InvariantError{ErrChainNodeWithoutPrev}
				}
				if n.Role != Chain {
					return &InvariantError{fmt.Errorf("chain member has Role Head")}
				}
				cur = n.ChainNext
			}
		}
	}

	return nil
}

// CheckUnstableEmpty returns an *InvariantError if the unstable index is
// non-empty. Unlike CheckInvariants this only holds at the top of a cycle,
// after reconciliation has cleared the unstable index (spec.md §8), so
// callers invoke it there rather than unconditionally inside
// CheckInvariants.
func (m *Metadata) CheckUnstableEmpty() error {
	if m.Unstable.Len() != 0 {
		return &InvariantError{fmt.Errorf("unstable index has %d entries at top of cycle", m.Unstable.Len())}
	}
	return nil
}

// InvariantError marks an error as an invariant breach per spec.md §7:
// "treat as a bug". engine.FatalError recognizes this.
type InvariantError struct {
	Err error
}

// Error implements the error interface.
func (e *InvariantError) Error() string { return "rmap: invariant breach: " + e.Err.Error() }

// Unwrap allows errors.Is/As to see through to the underlying error.
func (e *InvariantError) Unwrap() error { return e.Err }

// Fatal marks this as an invariant breach for engine.FatalError.
func (e *InvariantError) Fatal() bool { return true }
