// Package reconcile implements the reconciliation engine of spec.md §4.4:
// applying the host's error table at the start of every cycle, then
// clearing the unstable index and pruning stale rmap_items before the scan
// driver reads a single shadow page table entry.
package reconcile

import (
	"github.com/casys-kaist/bask-ae-eurosys26/eventlog"
	"github.com/casys-kaist/bask-ae-eurosys26/rmap"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Apply replays errRecords (the host's error table for the previous cycle,
// already unmarshaled from the wire by the caller) against meta, appending
// any resulting stale-stable-node records to log, then clears the unstable
// index and prunes rmap_items whose LastAccess has fallen behind
// currentCycle by more than pruneMargin+1 (spec.md §4.4).
//
// Apply processes records in order (spec.md §4.4 lists the three variants
// in the order they are handled); a single invariant breach aborts the
// whole cycle per spec.md §7, leaving meta partially reconciled, since the
// caller is expected to halt the connection rather than continue scanning
// on inconsistent metadata.
func Apply(meta *rmap.Metadata, log *eventlog.Log, errRecords []wire.Record, currentCycle uint64, pruneMargin uint64) error {
	for _, rec := range errRecords {
		if err := applyOne(meta, log, rec); err != nil {
			return err
		}
	}

	revertUnstable(meta)
	meta.Unstable.Clear()

	meta.Prune(currentCycle, pruneMargin)
	return nil
}

func applyOne(meta *rmap.Metadata, log *eventlog.Log, rec wire.Record) error {
	switch rec.Type {
	case wire.HostStableMergeFailed:
		return applyStableMergeFailed(meta, log, rec)
	case wire.HostUnstableMergeFailed:
		return applyUnstableMergeFailed(meta, rec)
	case wire.HostStaleStableNode:
		return &FatalError{ErrHostStaleStableNode}
	default:
		// Unrelated engine-origin record types never appear in a host error
		// table; ignore rather than fail a whole cycle over a malformed
		// entry the host should never send.
		return nil
	}
}

// applyStableMergeFailed implements spec.md §4.4's first bullet
// (HOST_MERGE_ONE_FAILED in the original source): the host could not
// install the shared mapping for rec.From at rec.PFN.
func applyStableMergeFailed(meta *rmap.Metadata, log *eventlog.Log, rec wire.Record) error {
	item, ok := meta.Items[rec.From]
	if !ok {
		return &FatalError{ErrUnknownItem}
	}
	if item.State != rmap.Stable {
		return &FatalError{ErrNotStable}
	}

	handle := item.Node
	node := meta.Arena.Get(handle)
	if node == nil {
		return &FatalError{ErrMissingNode}
	}

	node.RemoveSharer(item.Key)
	item.State = rmap.Volatile
	item.Node = rmap.NilHandle
	item.VolatilityScore++

	if node.SharedCnt() == 0 {
		log.Append(wire.NewStaleStableNode(item.Key, node.PFN))
		meta.Stable.Remove(handle)
		meta.Arena.Free(handle)
	}
	return nil
}

// applyUnstableMergeFailed implements spec.md §4.4's second bullet
// (HOST_MERGE_TWO_FAILED): the host could not install the shared mapping
// for the pair that was just promoted from the unstable index. Every
// sharer of the node reverts to Volatile, and the node is freed
// unconditionally: spec.md says "since an unstable merge that the host
// rejected necessarily sharers the freshly promoted node only", i.e. this
// node has exactly the two items just promoted and no others, so there is
// no remaining sharer to leave it resident for.
func applyUnstableMergeFailed(meta *rmap.Metadata, rec wire.Record) error {
	from, ok := meta.Items[rec.From]
	if !ok {
		return &FatalError{ErrUnknownItem}
	}
	handle := from.Node
	node := meta.Arena.Get(handle)
	if node == nil {
		return &FatalError{ErrMissingNode}
	}

	for _, key := range append([]wire.ItemKey(nil), node.Sharers()...) {
		if item, ok := meta.Items[key]; ok {
			item.State = rmap.Volatile
			item.Node = rmap.NilHandle
			item.VolatilityScore++
		}
		node.RemoveSharer(key)
	}

	meta.Stable.Remove(handle)
	meta.Arena.Free(handle)
	return nil
}

// revertUnstable reverts every item currently referenced by the unstable
// index to Volatile, ahead of the index being cleared (spec.md
// "Lifecycle": "every referenced item reverts to Volatile").
func revertUnstable(meta *rmap.Metadata) {
	for _, item := range meta.Items {
		if item.State == rmap.Unstable {
			item.State = rmap.Volatile
		}
	}
}
