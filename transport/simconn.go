package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Host is the loopback stand-in for the remote host side of a connection:
// the region registry a real NIC would resolve rkeys against, plus the
// metadata/result mailboxes the two-sided operations rendezvous on. Grounded
// on the mutex-guarded shared-state pattern of go-ublk's queue Runner, since
// the real counterpart (ibverbs completion queues) is out of scope.
type Host struct {
	mu      sync.Mutex
	regions map[wire.RKey]*region
	nextKey wire.RKey

	metadata chan wire.MetadataDescriptor
	results  chan wire.ResultDescriptor
}

type region struct {
	buf []byte
}

// NewHost returns an empty loopback host with one-slot buffered
// metadata/result mailboxes (one cycle in flight at a time, matching
// spec.md's single outstanding cycle per host).
func NewHost() *Host {
	return &Host{
		regions:  make(map[wire.RKey]*region),
		nextKey:  1,
		metadata: make(chan wire.MetadataDescriptor, 1),
		results:  make(chan wire.ResultDescriptor, 1),
	}
}

// Register makes buf readable at the returned rkey, as if the host had
// called ib_reg_mr on it. Tests use this to stage shadow page tables, page
// content windows, and error tables for the engine to read.
func (h *Host) Register(buf []byte) wire.RKey {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := h.nextKey
	h.nextKey++
	h.regions[key] = &region{buf: buf}
	return key
}

// Deregister removes a previously-registered region.
func (h *Host) Deregister(key wire.RKey) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.regions, key)
}

// SubmitMetadata pushes a wire.MetadataDescriptor as if RECV_METADATA had
// just completed on the engine's side.
func (h *Host) SubmitMetadata(desc wire.MetadataDescriptor) {
	h.metadata <- desc
}

// Read returns a copy of the bytes at [addr, addr+length) in the region
// registered at key, as the host side of a harness would dereference a
// result descriptor's rkey directly rather than through a Conn. Real hosts
// do this with an RDMA read of their own; the loopback Host already holds
// the bytes locally.
func (h *Host) Read(key wire.RKey, addr, length uint64) ([]byte, error) {
	h.mu.Lock()
	r, ok := h.regions[key]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: rkey %d not registered", key)
	}
	end := addr + length
	if end > uint64(len(r.buf)) {
		return nil, fmt.Errorf("transport: read [%d,%d) out of bounds of %d-byte region", addr, end, len(r.buf))
	}
	out := make([]byte, length)
	copy(out, r.buf[addr:end])
	return out, nil
}

// TakeResult blocks for the next wire.ResultDescriptor the engine ships
// with SendResult.
func (h *Host) TakeResult(ctx context.Context) (wire.ResultDescriptor, error) {
	select {
	case r := <-h.results:
		return r, nil
	case <-ctx.Done():
		return wire.ResultDescriptor{}, ctx.Err()
	}
}

// SimConn is a non-RDMA transport.Conn backed by an in-process Host, for
// tests and the single-process reference binary: one-sided reads copy from
// the Host's registered regions, and the two-sided operations pass
// descriptors through the Host's channels. No network socket is involved.
type SimConn struct {
	host *Host
}

// Dial returns a Conn talking to host.
func Dial(host *Host) *SimConn {
	return &SimConn{host: host}
}

var _ Conn = (*SimConn)(nil)

// RecvMetadata implements Conn.
func (c *SimConn) RecvMetadata(ctx context.Context) (wire.MetadataDescriptor, error) {
	select {
	case d := <-c.host.metadata:
		return d, nil
	case <-ctx.Done():
		return wire.MetadataDescriptor{}, ctx.Err()
	}
}

func (c *SimConn) read(region MemRegion, dst []byte) error {
	c.host.mu.Lock()
	r, ok := c.host.regions[region.RKey]
	c.host.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: rkey %d not registered", region.RKey)
	}
	end := region.Addr + uint64(len(dst))
	if end > uint64(len(r.buf)) {
		return fmt.Errorf("transport: read [%d,%d) out of bounds of %d-byte region", region.Addr, end, len(r.buf))
	}
	copy(dst, r.buf[region.Addr:end])
	return nil
}

// ReadMap implements Conn.
func (c *SimConn) ReadMap(ctx context.Context, region MemRegion, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.read(region, dst)
}

// ReadPage implements Conn.
func (c *SimConn) ReadPage(ctx context.Context, region MemRegion, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.read(region, dst)
}

// ReadResult implements Conn.
func (c *SimConn) ReadResult(ctx context.Context, region MemRegion, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.read(region, dst)
}

// SendResult implements Conn.
func (c *SimConn) SendResult(ctx context.Context, desc wire.ResultDescriptor) error {
	select {
	case c.host.results <- desc:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterLocal implements Conn. The loopback host has no separate "local"
// address space from the engine's perspective, so this registers buf on
// the same Host registry the engine reads host-side regions through.
func (c *SimConn) RegisterLocal(ctx context.Context, buf []byte) (wire.RKey, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.host.Register(buf), nil
}

// Invalidate implements Conn.
func (c *SimConn) Invalidate(ctx context.Context, rkey wire.RKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.host.Deregister(rkey)
	return nil
}

// Close implements Conn. A loopback connection owns no resources beyond
// the shared Host, which outlives any single Conn.
func (c *SimConn) Close() error { return nil }
