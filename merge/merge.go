// Package merge implements the compare-and-merge worker's per-page state
// machine (spec.md §4.6): given an rmap_item and its freshly read page
// contents, it decides whether to link the item into the stable index,
// promote an unstable pairing, or leave it for a later cycle, appending
// the corresponding decision to the cycle's event log.
package merge

import (
	"github.com/casys-kaist/bask-ae-eurosys26/eventlog"
	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/rmap"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Tunables selects the compare-and-merge worker's runtime behavior, mirroring
// the reference engine's CLI flags (spec.md §6): Legacy switches to the
// `-old` Stable-maintenance bookkeeping (SPEC_FULL.md §10.3), NoSkipOpt
// disables the volatility-aware skip heuristic entirely (spec.md §8: "With
// no_skip_opt, should_skip is identically false"), and Hash lets the scan
// driver supply the pre-hash worker's HashPage instead of hashing on demand
// (spec.md §4.1); a nil Hash falls back to hashpair.Compute.
type Tunables struct {
	Legacy    bool
	NoSkipOpt bool
	Hash      func(page []byte) hashpair.Pair
}

func (t Tunables) hash(page []byte) hashpair.Pair {
	if t.Hash != nil {
		return t.Hash(page)
	}
	return hashpair.Compute(page)
}

// Step runs one page through the compare-and-merge state machine. item is
// mutated in place; pfn and page are this cycle's freshly read values for
// item's key, as walked off the shadow page table.
func Step(meta *rmap.Metadata, log *eventlog.Log, item *rmap.Item, pfn wire.PFN, page []byte, t Tunables) error {
	switch item.State {
	case rmap.None, rmap.Unstable:
		return &FatalError{ErrUnreachableState}
	case rmap.Stable:
		return stepStable(meta, log, item, pfn, page, t)
	case rmap.Volatile:
		return stepVolatile(meta, log, item, pfn, page, t)
	default:
		return &FatalError{ErrUnreachableState}
	}
}

func stepStable(meta *rmap.Metadata, log *eventlog.Log, item *rmap.Item, pfn wire.PFN, page []byte, t Tunables) error {
	node := meta.Arena.Get(item.Node)
	if node == nil {
		return &FatalError{ErrFreedNode}
	}

	if pfn != node.PFN {
		// The host re-faulted the page at a new frame out from under an
		// already-merged item. Detach and restart from Volatile.
		detach(meta, log, item, node)
		item.PFN = pfn
		item.VolatilityScore++
		return stepVolatile(meta, log, item, pfn, page, t)
	}

	currHash := t.hash(page)
	switch {
	case currHash.Eq(item.OldHash):
		// Already in sync; nothing to propagate.
	case currHash.Eq(node.PageHash):
		meta.Stable.PropagateHash(item.Node, node.PageHash, meta.Items)
	default:
		return &FatalError{ErrHashDivergence}
	}

	if !t.Legacy && item.VolatilityScore > 0 {
		item.VolatilityScore--
	}
	return nil
}

// detach unlinks item from node, reverting it to Volatile and emitting
// either a stale-stable-node record (node now has zero sharers) or an
// item-state-change record, per spec.md §4.6's Stable re-fault branch and
// §4.4's identical chain-surgery step.
func detach(meta *rmap.Metadata, log *eventlog.Log, item *rmap.Item, node *rmap.StableNode) {
	handle := item.Node
	node.RemoveSharer(item.Key)
	item.State = rmap.Volatile
	item.Node = rmap.NilHandle

	if node.SharedCnt() == 0 {
		log.Append(wire.NewStaleStableNode(item.Key, node.PFN))
		meta.Stable.Remove(handle)
		meta.Arena.Free(handle)
		return
	}
	log.Append(wire.NewItemStateChange(item.Key, node.PFN, uint32(node.SharedCnt())))
}

func stepVolatile(meta *rmap.Metadata, log *eventlog.Log, item *rmap.Item, pfn wire.PFN, page []byte, t Tunables) error {
	item.Age++
	if !t.NoSkipOpt && shouldSkip(item) {
		item.SkipCnt--
		return nil
	}

	currHash := t.hash(page)
	if item.OldHash.Eq(currHash) {
		if item.VolatilityScore > 0 {
			item.VolatilityScore--
		}

		if h := meta.Stable.Lookup(currHash); h != rmap.NilHandle {
			linkStable(meta, log, item, h, pfn)
			return nil
		}

		if partnerKey, ok := meta.Unstable.Lookup(currHash); ok {
			h := meta.Stable.Insert(currHash, pfn)
			meta.Unstable.Remove(currHash)
			// Both items are linked with a nil log: the promotion is
			// reported as the single unstable-merge record below, not as a
			// pair of stable-merge records (spec.md §8 scenario 1: "result
			// has one log entry").
			linkStable(meta, nil, item, h, pfn)
			if partner, ok := meta.Items[partnerKey]; ok {
				linkStable(meta, nil, partner, h, pfn)
			}
			log.Append(wire.NewUnstableMerge(item.Key, partnerKey))
			return nil
		}

		if err := meta.Unstable.Insert(currHash, item.Key); err != nil {
			// spec.md §9 Open Questions: a genuine collision is a miss,
			// not an assertion failure. Leave the item Volatile; it tries
			// again next cycle.
			return nil
		}
		item.State = rmap.Unstable
		return nil
	}

	if !item.OldHash.IsNull() {
		item.VolatilityScore++
	}
	item.OldHash = currHash
	return nil
}

// linkStable makes item a sharer of the stable_node at h, updating its
// state/old_hash/pfn accordingly: like every sharer, item takes the node's
// pfn. When log is non-nil it also appends the stable-merge record for item
// specifically, naming the node's pfn (the unstable-promotion path emits
// one unstable-merge record covering both items instead, so the partner is
// linked with a nil log).
func linkStable(meta *rmap.Metadata, log *eventlog.Log, item *rmap.Item, h rmap.NodeHandle, pfn wire.PFN) {
	node := meta.Arena.Get(h)
	node.AddSharer(item.Key)
	item.State = rmap.Stable
	item.Node = h
	item.PFN = node.PFN
	item.OldHash = node.PageHash

	if log != nil {
		log.Append(wire.NewStableMerge(item.Key, node.PFN, uint32(node.SharedCnt())))
	}
}
