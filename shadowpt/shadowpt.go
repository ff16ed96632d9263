// Package shadowpt implements the host-side shadow page table of spec.md
// §4.3: a per-address-space ordered list of (virtual_address, pfn) entries
// exported to the engine for one cycle, together with the page windows the
// engine reads page contents through.
package shadowpt

import (
	"encoding/binary"
	"fmt"

	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// EntrySize is the fixed wire width of one Entry: an 8-byte virtual address
// followed by an 8-byte pfn, little-endian (spec.md §6: "all little-endian,
// 8-byte aligned"). The map itself is not one of the tagged wire.Record
// descriptors of §6 — spec.md only requires it be "registered for remote
// read" as an opaque array — so this is the minimal fixed layout consistent
// with that alignment rule.
const EntrySize = 16

// Entry is one (virtual_address, pfn) pair as walked by the host.
type Entry struct {
	VA  wire.VA
	PFN wire.PFN
}

// EncodeEntries lays out entries as the host would before registering them
// for remote read: EntrySize bytes each, in order.
func EncodeEntries(entries []Entry) []byte {
	buf := make([]byte, len(entries)*EntrySize)
	for i, e := range entries {
		off := i * EntrySize
		binary.LittleEndian.PutUint64(buf[off:], uint64(e.VA))
		binary.LittleEndian.PutUint64(buf[off+8:], uint64(e.PFN))
	}
	return buf
}

// DecodeEntries parses a buffer read back from the host's map region into
// count Entry values. It returns an error if buf is shorter than
// count*EntrySize bytes.
func DecodeEntries(buf []byte, count int) ([]Entry, error) {
	need := count * EntrySize
	if len(buf) < need {
		return nil, fmt.Errorf("shadowpt: map buffer is %d bytes, need %d for %d entries", len(buf), need, count)
	}
	entries := make([]Entry, count)
	for i := range entries {
		off := i * EntrySize
		entries[i] = Entry{
			VA:  wire.VA(binary.LittleEndian.Uint64(buf[off:])),
			PFN: wire.PFN(binary.LittleEndian.Uint64(buf[off+8:])),
		}
	}
	return entries, nil
}

// Table is one address space's shadow page table for a single cycle. The
// order of Entries is the order the host walked them in, and decisions in
// the cycle's event log are appended in this same order (spec.md §5).
type Table struct {
	MMID    wire.AddrSpaceID
	Entries []Entry
}

// Len returns the number of tracked virtual pages in this table.
func (t Table) Len() int { return len(t.Entries) }

// Window is a contiguous slice of Entries the engine reads page contents
// for in one one-sided RDMA read (spec.md §4.3/§4.7, bounded by
// wire.MaxPagesInSGL entries).
type Window struct {
	Start, End int // [Start, End) indices into Table.Entries
}

// Windows splits a table's entry range into windows of at most maxPages
// entries each (spec.md §4.7 step 2: "Split the page range into windows of
// up to MAX_PAGES_IN_SGL pages").
func Windows(entryCount, maxPages int) []Window {
	if maxPages <= 0 {
		panic("shadowpt: maxPages must be positive")
	}
	var windows []Window
	for start := 0; start < entryCount; start += maxPages {
		end := start + maxPages
		if end > entryCount {
			end = entryCount
		}
		windows = append(windows, Window{Start: start, End: end})
	}
	return windows
}
