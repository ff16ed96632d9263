package wire

import (
	"fmt"
)

// RecordSize is the fixed, exact width of every event log record (spec.md
// §6: "32 bytes exactly").
const RecordSize = 32

// ItemKey identifies an rmap_item by (address_space_id, virtual_address)
// (spec.md §3).
type ItemKey struct {
	MMID AddrSpaceID
	VA   VA
}

// RecordType tags the variant carried by a Record.
type RecordType uint32

// Record variants, three engine-origin and three host-origin, mirroring
// each other per spec.md §3 and §4.4.
const (
	// StableMerge: from-item -> pfn, shared_cnt.
	StableMerge RecordType = iota
	// UnstableMerge: from-item -> to-item.
	UnstableMerge
	// StaleStableNode: last referencing item + pfn.
	StaleStableNode
	// ItemStateChange: item + pfn + shared_cnt.
	ItemStateChange
	// HostStableMergeFailed mirrors StableMerge.
	HostStableMergeFailed
	// HostUnstableMergeFailed mirrors UnstableMerge.
	HostUnstableMergeFailed
	// HostStaleStableNode mirrors StaleStableNode; fatal on receipt
	// (spec.md §4.4).
	HostStaleStableNode
)

// String implements the Stringer interface.
func (t RecordType) String() string {
	switch t {
	case StableMerge:
		return "StableMerge"
	case UnstableMerge:
		return "UnstableMerge"
	case StaleStableNode:
		return "StaleStableNode"
	case ItemStateChange:
		return "ItemStateChange"
	case HostStableMergeFailed:
		return "HostStableMergeFailed"
	case HostUnstableMergeFailed:
		return "HostUnstableMergeFailed"
	case HostStaleStableNode:
		return "HostStaleStableNode"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(t))
	}
}

// Record is the fixed 32-byte tagged union of spec.md §3/§6. Only the
// fields relevant to Type are meaningful; the rest are zero. On the wire a
// record carries the 4-byte Type tag, the From key (4+8), and one second
// 4+8 slot that holds either the To key or (SharedCnt, PFN) depending on
// Type (see Marshal), plus 4 bytes of padding: 4+12+4+4+8 = 32.
type Record struct {
	Type RecordType

	From      ItemKey
	To        ItemKey
	PFN       PFN
	SharedCnt uint32
}

// NewStableMerge builds a StableMerge record: from `from` joining the
// stable node resident at pfn, which now has sharedCnt sharers.
func NewStableMerge(from ItemKey, pfn PFN, sharedCnt uint32) Record {
	return Record{Type: StableMerge, From: from, PFN: pfn, SharedCnt: sharedCnt}
}

// NewUnstableMerge builds an UnstableMerge record: `from` promoted together
// with its unstable partner `to` into a new stable node.
func NewUnstableMerge(from, to ItemKey) Record {
	return Record{Type: UnstableMerge, From: from, To: to}
}

// NewStaleStableNode builds a StaleStableNode record: `last` was the final
// referencing item of the stable node that previously lived at pfn.
func NewStaleStableNode(last ItemKey, pfn PFN) Record {
	return Record{Type: StaleStableNode, From: last, PFN: pfn}
}

// NewItemStateChange builds an ItemStateChange record.
func NewItemStateChange(item ItemKey, pfn PFN, sharedCnt uint32) Record {
	return Record{Type: ItemStateChange, From: item, PFN: pfn, SharedCnt: sharedCnt}
}

// NewHostStableMergeFailed builds the host-origin mirror of StableMerge:
// the host could not realize the merge of `from` at pfn.
func NewHostStableMergeFailed(from ItemKey, pfn PFN) Record {
	return Record{Type: HostStableMergeFailed, From: from, PFN: pfn}
}

// NewHostUnstableMergeFailed builds the host-origin mirror of
// UnstableMerge.
func NewHostUnstableMergeFailed(from, to ItemKey) Record {
	return Record{Type: HostUnstableMergeFailed, From: from, To: to}
}

// NewHostStaleStableNode builds the host-origin mirror of StaleStableNode.
// spec.md §4.4 treats receiving this as fatal.
func NewHostStaleStableNode(last ItemKey, pfn PFN) Record {
	return Record{Type: HostStaleStableNode, From: last, PFN: pfn}
}

// SizeHint implements the surge.SizeHinter interface.
func (r Record) SizeHint() int { return RecordSize }

// Marshal implements the surge.Marshaler interface. Layout: type(4) |
// from.mmid(4) | from.va(8) | second.mmid(4) | pad(4) | second.va(8). For
// variants that carry pfn/shared_cnt instead of a To key, SharedCnt takes
// To.MMID's place and PFN takes To.VA's place. The padding keeps the second
// 8-byte word 8-byte aligned, and every record is exactly RecordSize bytes
// regardless of variant.
func (r Record) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := marshalU32(uint32(r.Type), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling type: %w", err)
	}
	buf, rem, err = marshalU32(uint32(r.From.MMID), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling from.mmid: %w", err)
	}
	buf, rem, err = marshalU64(uint64(r.From.VA), buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling from.va: %w", err)
	}

	secondMMID := uint32(r.To.MMID)
	secondVA := uint64(r.To.VA)
	if r.usesPFNSlot() {
		secondMMID = r.SharedCnt
		secondVA = uint64(r.PFN)
	}
	buf, rem, err = marshalU32(secondMMID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling second word: %w", err)
	}
	buf, rem, err = marshalU32(0, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling pad: %w", err)
	}
	buf, rem, err = marshalU64(secondVA, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling second word: %w", err)
	}
	return buf, rem, nil
}

// usesPFNSlot reports whether this record's variant carries (pfn,
// shared_cnt) in the second key slot rather than a genuine "to" item key.
func (r Record) usesPFNSlot() bool {
	switch r.Type {
	case StableMerge, StaleStableNode, ItemStateChange, HostStableMergeFailed, HostStaleStableNode:
		return true
	default:
		return false
	}
}

// Unmarshal implements the surge.Unmarshaler interface.
func (r *Record) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	var typ uint32
	buf, rem, err := unmarshalU32(&typ, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling type: %w", err)
	}
	r.Type = RecordType(typ)

	var fromMMID uint32
	buf, rem, err = unmarshalU32(&fromMMID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling from.mmid: %w", err)
	}
	r.From.MMID = AddrSpaceID(fromMMID)
	var fromVA uint64
	buf, rem, err = unmarshalU64(&fromVA, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling from.va: %w", err)
	}
	r.From.VA = VA(fromVA)

	var secondMMID uint32
	buf, rem, err = unmarshalU32(&secondMMID, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling second word: %w", err)
	}
	var pad uint32
	buf, rem, err = unmarshalU32(&pad, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling pad: %w", err)
	}
	var secondVA uint64
	buf, rem, err = unmarshalU64(&secondVA, buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling second word: %w", err)
	}

	if r.usesPFNSlot() {
		r.SharedCnt = secondMMID
		r.PFN = PFN(secondVA)
	} else {
		r.To.MMID = AddrSpaceID(secondMMID)
		r.To.VA = VA(secondVA)
	}
	return buf, rem, nil
}
