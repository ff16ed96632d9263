// Package transport defines the contract the engine uses to move metadata,
// page contents, and results across the host/engine boundary (spec.md §1's
// "RDMA transport is out of scope; model it as an interface", grounded on
// the work-request tags of the original ksm_rdma.c).
//
// Conn is intentionally one-sided-read shaped: ReadMap/ReadPage/ReadResult
// model ibv_post_send(IBV_WR_RDMA_READ) against host-registered memory, and
// RecvMetadata/SendResult model the two-sided send/recv pair the host and
// engine use to exchange descriptors. A real implementation backs this with
// ibverbs; simconn.go backs it with an in-process loopback (a map of
// registered regions plus channels) for tests and the reference binary.
package transport

import (
	"context"
	"fmt"

	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Tag names one kind of work request, mirroring ksm_wr_tag_str's cases in
// the original source. Single-op fallback tags from the source
// (WR_SEND_SINGLE_OP and friends) are not modeled: spec.md's dataplane
// fallback path is out of scope (Non-goals).
type Tag int

// The work-request tags this engine issues or expects.
const (
	SendMetadata Tag = iota + 1
	RecvMetadata
	SendResult
	RecvResult
	RegMR
	ReadMap
	ReadPage
	ReadResult
	InvalidateMR
)

// String implements the Stringer interface.
func (t Tag) String() string {
	switch t {
	case SendMetadata:
		return "SEND_METADATA"
	case RecvMetadata:
		return "RECV_METADATA"
	case SendResult:
		return "SEND_RESULT"
	case RecvResult:
		return "RECV_RESULT"
	case RegMR:
		return "REG_MR"
	case ReadMap:
		return "READ_MAP"
	case ReadPage:
		return "READ_PAGE"
	case ReadResult:
		return "READ_RESULT"
	case InvalidateMR:
		return "INVALIDATE_MR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(t))
	}
}

// MemRegion identifies a remotely-readable region by the (rkey, addr, len)
// triple an RDMA one-sided read targets.
type MemRegion struct {
	RKey wire.RKey
	Addr uint64
	Len  uint64
}

// Conn is the per-cycle connection the engine holds to one host. Every
// method may block and must respect ctx cancellation; a real
// implementation polls a completion queue for the matching Tag, a loopback
// implementation just does the equivalent synchronous I/O.
//
// Conn is not safe for concurrent use by multiple goroutines issuing
// independent operations; the scan driver serializes access per spec.md
// §4.7's single outer loop.
type Conn interface {
	// RecvMetadata blocks for the host's wire.MetadataDescriptor at the
	// start of a cycle (RECV_METADATA).
	RecvMetadata(ctx context.Context) (wire.MetadataDescriptor, error)

	// ReadMap one-sided-reads a shadow page table's (virtual_address, pfn)
	// entries from region into dst (READ_MAP). dst must be sized for the
	// entry count the caller expects.
	ReadMap(ctx context.Context, region MemRegion, dst []byte) error

	// ReadPage one-sided-reads the page contents windows described by
	// region into dst (READ_PAGE).
	ReadPage(ctx context.Context, region MemRegion, dst []byte) error

	// ReadResult one-sided-reads the host's error table for the previous
	// cycle (READ_RESULT), sized by wire.ErrorTableDescriptor.
	ReadResult(ctx context.Context, region MemRegion, dst []byte) error

	// SendResult ships a wire.ResultDescriptor exposing this cycle's
	// decision log for the host to read back (SEND_RESULT).
	SendResult(ctx context.Context, desc wire.ResultDescriptor) error

	// RegisterLocal registers a local buffer for remote read and returns
	// its rkey (REG_MR). A loopback Conn may return a zero rkey since
	// nothing remote actually dereferences it.
	RegisterLocal(ctx context.Context, buf []byte) (wire.RKey, error)

	// Invalidate releases a previously-registered local buffer
	// (INVALIDATE_MR).
	Invalidate(ctx context.Context, rkey wire.RKey) error

	// Close tears down the connection.
	Close() error
}
