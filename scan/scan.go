// Package scan implements the outer scan driver loop of spec.md §4.7: for
// each shadow page table in a cycle's metadata descriptor, read the
// (virtual_address, pfn) map, then pipeline page-content windows through
// the compare-and-merge worker while the next window is still being read.
package scan

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/casys-kaist/bask-ae-eurosys26/eventlog"
	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/merge"
	"github.com/casys-kaist/bask-ae-eurosys26/rmap"
	"github.com/casys-kaist/bask-ae-eurosys26/shadowpt"
	"github.com/casys-kaist/bask-ae-eurosys26/transport"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Tunables bundles the scan driver's own knobs together with the
// compare-and-merge worker's (spec.md §6 CLI surface): MaxPagesInSGL bounds
// window size, PreHash enables the background pre-hash worker of §4.1.
type Tunables struct {
	Merge         merge.Tunables
	MaxPagesInSGL int
	PreHash       bool
}

// DefaultMaxPagesInSGL is wire.MaxPagesInSGL, the spec.md §6 constant.
const DefaultMaxPagesInSGL = wire.MaxPagesInSGL

// Driver runs the per-table scan of spec.md §4.7 against one connection.
// Driver holds no metadata of its own: the rmap.Metadata and eventlog.Log it
// mutates are supplied per call so a single Driver can be reused across
// cycles and, in tests, across independent Metadata instances.
type Driver struct {
	prehash *hashpair.Worker
}

// NewDriver returns a Driver with its own idle pre-hash worker.
func NewDriver() *Driver {
	return &Driver{prehash: hashpair.NewWorker()}
}

// windowRead is the result of a background window read, handed from the
// reader goroutine to the main driver loop over a channel (DESIGN NOTES §9:
// replace ad hoc synchronization with channels).
type windowRead struct {
	buf []byte
	win shadowpt.Window
	err error
}

// RunTable implements spec.md §4.7 for a single address space's shadow page
// table: read the map, split into windows, and pipeline window reads with
// compare-and-merge, returning the number of pages scanned.
func (d *Driver) RunTable(ctx context.Context, conn transport.Conn, pt wire.PTDesc, meta *rmap.Metadata, log *eventlog.Log, cycle uint64, t Tunables) (int, error) {
	entryCnt := int(pt.EntryCnt)
	mapBuf := make([]byte, entryCnt*shadowpt.EntrySize)
	mapRegion := transport.MemRegion{RKey: pt.MapRKey, Addr: pt.PTBaseAddr, Len: uint64(len(mapBuf))}
	if err := conn.ReadMap(ctx, mapRegion, mapBuf); err != nil {
		return 0, fmt.Errorf("scan: reading map for mm %d: %w", pt.MMID, err)
	}
	entries, err := shadowpt.DecodeEntries(mapBuf, entryCnt)
	if err != nil {
		return 0, fmt.Errorf("scan: decoding map for mm %d: %w", pt.MMID, err)
	}

	maxPages := t.MaxPagesInSGL
	if maxPages <= 0 {
		maxPages = DefaultMaxPagesInSGL
	}
	windows := shadowpt.Windows(entryCnt, maxPages)
	if len(windows) > len(pt.Entries) {
		return 0, fmt.Errorf("scan: mm %d needs %d windows but only %d scatter-gather descriptors were sent", pt.MMID, len(windows), len(pt.Entries))
	}

	results := make(chan windowRead, 1)
	issue := func(i int) {
		win := windows[i]
		desc := pt.Entries[i]
		buf := make([]byte, (win.End-win.Start)*hashpair.PageSize)
		region := transport.MemRegion{RKey: desc.PagesRKey, Addr: desc.PagesAddr, Len: uint64(len(buf))}
		err := conn.ReadPage(ctx, region, buf)
		results <- windowRead{buf: buf, win: win, err: err}
	}

	scanned := 0
	if len(windows) > 0 {
		go issue(0)
	}
	for i := range windows {
		cur := <-results
		if cur.err != nil {
			return scanned, fmt.Errorf("scan: reading window [%d,%d) for mm %d: %w", cur.win.Start, cur.win.End, pt.MMID, cur.err)
		}

		// Kick off the next window's read before processing this one, so
		// the read overlaps with compare-and-merge (spec.md §4.7 step 2b).
		if i+1 < len(windows) {
			go issue(i + 1)
		}

		n, err := d.processWindow(meta, log, pt.MMID, entries, cur.win, cur.buf, cycle, t)
		scanned += n
		if err != nil {
			return scanned, err
		}
	}

	if t.PreHash {
		d.prehash.Stop()
	}
	return scanned, nil
}

func (d *Driver) processWindow(meta *rmap.Metadata, log *eventlog.Log, mmID wire.AddrSpaceID, entries []shadowpt.Entry, win shadowpt.Window, buf []byte, cycle uint64, t Tunables) (int, error) {
	count := win.End - win.Start
	if t.PreHash {
		// The pre-hash chunk holds at most PreHashNum pages; pages past it
		// miss in HashPage and are hashed on demand.
		preCount := count
		if preCount > hashpair.PreHashNum {
			preCount = hashpair.PreHashNum
		}
		d.prehash.Start(buf, preCount)
	}

	merged := t.Merge
	if t.PreHash {
		base := buf
		merged.Hash = func(page []byte) hashpair.Pair {
			idx := pageIndex(base, page)
			return d.prehash.HashPage(base, idx, page)
		}
	}

	for i := 0; i < count; i++ {
		entry := entries[win.Start+i]
		key := wire.ItemKey{MMID: mmID, VA: entry.VA}
		item := meta.ItemFor(key, entry.PFN)
		if item.State == rmap.None {
			// A freshly-seen key starts Volatile the first time the worker
			// actually steps it; merge.Step treats None as unreachable
			// (spec.md §4.6).
			item.State = rmap.Volatile
		}
		item.PFN = entry.PFN
		item.LastAccess = cycle

		page := buf[i*hashpair.PageSize : (i+1)*hashpair.PageSize]
		if err := merge.Step(meta, log, item, entry.PFN, page, merged); err != nil {
			return i, fmt.Errorf("scan: stepping item %v: %w", key, err)
		}
	}
	return count, nil
}

// pageIndex derives page_idx = (page_ptr - base) / PAGE_SIZE per spec.md
// §4.1 step 1, the same pointer arithmetic hash_pair performs in the
// original source.
func pageIndex(base, page []byte) int {
	if len(base) == 0 || len(page) == 0 {
		return 0
	}
	return int((uintptr(unsafe.Pointer(&page[0])) - uintptr(unsafe.Pointer(&base[0]))) / hashpair.PageSize)
}
