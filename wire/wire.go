// Package wire implements the protocol framing of spec.md §6: the
// metadata descriptor a host ships to the engine at the start of a cycle,
// the result descriptor the engine ships back, and the 32-byte event log
// record both directions use to describe merge decisions and host-side
// replay failures.
//
// Every type here implements surge.SizeHinter/Marshaler/Unmarshaler with
// the (buf []byte, rem int) contract used throughout the teacher's own
// message types (mulopen.Message, rng.RNGer, rkpg.RKPGer); fields are
// marshaled in declaration order with explicit width (MarshalU32/U64) and
// packed back to back. Apart from the explicit padding in Record and
// ResultDescriptor no alignment padding is inserted, so not every 8-byte
// field of a descriptor starts on an 8-byte boundary.
package wire

import "fmt"

// Size limits from spec.md §6.
const (
	MaxMMDescs     = 32
	MaxPagesDescs  = 512
	MaxPagesInSGL  = 65536
	MaxPageSharing = 256
	PageSize       = 4096
)

// VA is a page-aligned virtual address.
type VA uint64

// PFN is a host-assigned physical frame number.
type PFN uint64

// AddrSpaceID identifies one of the host's address spaces.
type AddrSpaceID int32

// RKey is a remote-access key for a registered memory region.
type RKey uint32

// DescEntry is one scatter-gather descriptor for a window of page frames
// (spec.md §6 `desc_entry`).
type DescEntry struct {
	PagesRKey RKey
	PagesAddr uint64
}

// SizeHint implements the surge.SizeHinter interface.
func (e DescEntry) SizeHint() int { return 4 + 8 }

// Marshal implements the surge.Marshaler interface.
func (e DescEntry) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := marshalU32(uint32(e.PagesRKey), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling pages_rkey: %w", err)
	}
	return marshalU64(e.PagesAddr, buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (e *DescEntry) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var rkey uint32
	buf, rem, err := unmarshalU32(&rkey, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling pages_rkey: %w", err)
	}
	e.PagesRKey = RKey(rkey)
	return unmarshalU64(&e.PagesAddr, buf, rem)
}

// PTDesc is one per-address-space shadow page table descriptor (spec.md §6
// `pt_desc`): where the (virtual_address, pfn) map lives, and the
// scatter-gather windows the engine will read page contents through.
type PTDesc struct {
	MMID       AddrSpaceID
	MapRKey    RKey
	PTBaseAddr uint64
	Entries    []DescEntry
	EntryCnt   uint64
}

// SizeHint implements the surge.SizeHinter interface.
func (d PTDesc) SizeHint() int {
	n := 4 + 4 + 8
	for _, e := range d.Entries {
		n += e.SizeHint()
	}
	return n + 8
}

// Marshal implements the surge.Marshaler interface.
func (d PTDesc) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := marshalU32(uint32(d.MMID), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling mm_id: %w", err)
	}
	buf, rem, err = marshalU32(uint32(d.MapRKey), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling map_rkey: %w", err)
	}
	buf, rem, err = marshalU64(d.PTBaseAddr, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling pt_base_addr: %w", err)
	}
	for i, e := range d.Entries {
		buf, rem, err = e.Marshal(buf, rem)
		if err != nil {
			return buf, rem, fmt.Errorf("marshaling desc_entries[%d]: %w", i, err)
		}
	}
	return marshalU64(d.EntryCnt, buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface. The caller must
// pre-size d.Entries to the number of entries expected: Marshal writes
// exactly len(Entries) entries, not a fixed array of MaxPagesDescs slots,
// and no entry count precedes them.
func (d *PTDesc) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var mmID, rkey uint32
	buf, rem, err := unmarshalU32(&mmID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling mm_id: %w", err)
	}
	d.MMID = AddrSpaceID(mmID)
	buf, rem, err = unmarshalU32(&rkey, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling map_rkey: %w", err)
	}
	d.MapRKey = RKey(rkey)
	buf, rem, err = unmarshalU64(&d.PTBaseAddr, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling pt_base_addr: %w", err)
	}
	for i := range d.Entries {
		buf, rem, err = d.Entries[i].Unmarshal(buf, rem)
		if err != nil {
			return buf, rem, fmt.Errorf("unmarshaling desc_entries[%d]: %w", i, err)
		}
	}
	return unmarshalU64(&d.EntryCnt, buf, rem)
}

// ETDescEntry is one scatter-gather descriptor covering part of the host's
// error table (spec.md §6 `et_desc_entry`).
type ETDescEntry struct {
	RKey RKey
	Addr uint64
}

// SizeHint implements the surge.SizeHinter interface.
func (e ETDescEntry) SizeHint() int { return 8 + 8 }

// Marshal implements the surge.Marshaler interface.
func (e ETDescEntry) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := marshalU64(uint64(e.RKey), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling rkey: %w", err)
	}
	return marshalU64(e.Addr, buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (e *ETDescEntry) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var rkey uint64
	buf, rem, err := unmarshalU64(&rkey, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling rkey: %w", err)
	}
	e.RKey = RKey(rkey)
	return unmarshalU64(&e.Addr, buf, rem)
}

// ErrorTableDescriptor describes the host's error table for the previous
// cycle (spec.md §6 `error_table_descriptor`).
type ErrorTableDescriptor struct {
	TotalCnt int32
	DescCnt  int32
	Entries  []ETDescEntry
}

// SizeHint implements the surge.SizeHinter interface.
func (d ErrorTableDescriptor) SizeHint() int {
	n := 4 + 4
	for _, e := range d.Entries {
		n += e.SizeHint()
	}
	return n
}

// Marshal implements the surge.Marshaler interface.
func (d ErrorTableDescriptor) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := marshalI32(d.TotalCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling total_cnt: %w", err)
	}
	buf, rem, err = marshalI32(d.DescCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling desc_cnt: %w", err)
	}
	for i, e := range d.Entries {
		buf, rem, err = e.Marshal(buf, rem)
		if err != nil {
			return buf, rem, fmt.Errorf("marshaling entries[%d]: %w", i, err)
		}
	}
	return buf, rem, nil
}

// Unmarshal implements the surge.Unmarshaler interface.
func (d *ErrorTableDescriptor) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := unmarshalI32(&d.TotalCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling total_cnt: %w", err)
	}
	buf, rem, err = unmarshalI32(&d.DescCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling desc_cnt: %w", err)
	}
	for i := range d.Entries {
		buf, rem, err = d.Entries[i].Unmarshal(buf, rem)
		if err != nil {
			return buf, rem, fmt.Errorf("unmarshaling entries[%d]: %w", i, err)
		}
	}
	return buf, rem, nil
}

// MetadataDescriptor is the host-to-engine descriptor sent at the start of
// every cycle (spec.md §6 `metadata_descriptor`).
type MetadataDescriptor struct {
	PTCnt  uint64
	PTs    []PTDesc
	ErrTbl ErrorTableDescriptor
}

// SizeHint implements the surge.SizeHinter interface.
func (d MetadataDescriptor) SizeHint() int {
	n := 8
	for _, pt := range d.PTs {
		n += pt.SizeHint()
	}
	return n + d.ErrTbl.SizeHint()
}

// Marshal implements the surge.Marshaler interface.
func (d MetadataDescriptor) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := marshalU64(d.PTCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling pt_cnt: %w", err)
	}
	for i, pt := range d.PTs {
		buf, rem, err = pt.Marshal(buf, rem)
		if err != nil {
			return buf, rem, fmt.Errorf("marshaling pt_descs[%d]: %w", i, err)
		}
	}
	return d.ErrTbl.Marshal(buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (d *MetadataDescriptor) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := unmarshalU64(&d.PTCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling pt_cnt: %w", err)
	}
	for i := range d.PTs {
		buf, rem, err = d.PTs[i].Unmarshal(buf, rem)
		if err != nil {
			return buf, rem, fmt.Errorf("unmarshaling pt_descs[%d]: %w", i, err)
		}
	}
	return d.ErrTbl.Unmarshal(buf, rem)
}

// ResultDescriptor is the engine-to-host descriptor exposing the decision
// log for remote read (spec.md §6 `result_descriptor`).
type ResultDescriptor struct {
	TotalScannedCnt int32
	LogCnt          int32
	RKey            RKey
	ResultTableAddr uint64
}

// SizeHint implements the surge.SizeHinter interface.
func (d ResultDescriptor) SizeHint() int { return 4 + 4 + 4 + 8 + 8 /* pad */ }

// Marshal implements the surge.Marshaler interface.
func (d ResultDescriptor) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := marshalI32(d.TotalScannedCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling total_scanned_cnt: %w", err)
	}
	buf, rem, err = marshalI32(d.LogCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling log_cnt: %w", err)
	}
	buf, rem, err = marshalU32(uint32(d.RKey), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling rkey: %w", err)
	}
	buf, rem, err = marshalU64(d.ResultTableAddr, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling result_table_addr: %w", err)
	}
	return marshalU64(0, buf, rem) // pad
}

// Unmarshal implements the surge.Unmarshaler interface.
func (d *ResultDescriptor) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := unmarshalI32(&d.TotalScannedCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling total_scanned_cnt: %w", err)
	}
	buf, rem, err = unmarshalI32(&d.LogCnt, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling log_cnt: %w", err)
	}
	var rkey uint32
	buf, rem, err = unmarshalU32(&rkey, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling rkey: %w", err)
	}
	d.RKey = RKey(rkey)
	buf, rem, err = unmarshalU64(&d.ResultTableAddr, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling result_table_addr: %w", err)
	}
	var pad uint64
	return unmarshalU64(&pad, buf, rem)
}
