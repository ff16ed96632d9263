// Package bemu assembles a scenario, runs it against a real Engine over the
// loopback transport, and hands back what the host side would observe —
// the same "build a small world, run it to completion, inspect the
// result" shape as the teacher's testutil.Network harness, rebuilt from
// scratch for this protocol's fixed two-party request/response cycle
// instead of testutil's N-party round-based message flooding (spec.md §4.7:
// one host, one engine, one metadata/result exchange per cycle — there is
// no broadcast topology or message shuffling/dropping to simulate here).
package bemu

import (
	"context"
	"fmt"

	"github.com/casys-kaist/bask-ae-eurosys26/engine"
	"github.com/casys-kaist/bask-ae-eurosys26/shadowpt"
	"github.com/casys-kaist/bask-ae-eurosys26/transport"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Sim is one simulated host paired with one Engine talking over a loopback
// transport.Conn.
type Sim struct {
	Host   *transport.Host
	Conn   transport.Conn
	Engine *engine.Engine
}

// New returns a Sim with a fresh Engine and an empty loopback Host.
func New(cfg engine.Config) *Sim {
	host := transport.NewHost()
	return &Sim{
		Host:   host,
		Conn:   transport.Dial(host),
		Engine: engine.New(cfg, nil),
	}
}

// Table stages a shadow page table and its page contents on the host,
// returning the wire.PTDesc ready to go in a cycle's metadata descriptor.
// pages must hold len(entries) consecutive PageSize pages in entries' order.
func (s *Sim) Table(mmID wire.AddrSpaceID, entries []shadowpt.Entry, pages []byte) wire.PTDesc {
	mapRKey := s.Host.Register(shadowpt.EncodeEntries(entries))
	pagesRKey := s.Host.Register(pages)
	return wire.PTDesc{
		MMID:       mmID,
		MapRKey:    mapRKey,
		PTBaseAddr: 0,
		EntryCnt:   uint64(len(entries)),
		Entries:    []wire.DescEntry{{PagesRKey: pagesRKey, PagesAddr: 0}},
	}
}

// ErrorTable stages a single-region error table holding records, returning
// the wire.ErrorTableDescriptor ready to go in a cycle's metadata
// descriptor. An empty records reports a zero-count, zero-descriptor table.
func (s *Sim) ErrorTable(records []wire.Record) (wire.ErrorTableDescriptor, error) {
	if len(records) == 0 {
		return wire.ErrorTableDescriptor{}, nil
	}
	buf, err := wire.EncodeRecords(records)
	if err != nil {
		return wire.ErrorTableDescriptor{}, fmt.Errorf("bemu: encoding error table: %w", err)
	}
	rkey := s.Host.Register(buf)
	return wire.ErrorTableDescriptor{
		TotalCnt: int32(len(records)),
		DescCnt:  1,
		Entries:  []wire.ETDescEntry{{RKey: rkey, Addr: 0}},
	}, nil
}

// Result is what the host observes at the end of one cycle: the descriptor
// the engine sent plus the decision log it exposes, already read back and
// decoded the way a host implementation would.
type Result struct {
	Descriptor wire.ResultDescriptor
	Records    []wire.Record
}

// RunCycle submits md as the cycle's metadata, drives the Engine through
// exactly one RunCycle, and reads back the resulting decision log the way
// the host side would: READ_RESULT against the rkey the engine just sent.
func (s *Sim) RunCycle(ctx context.Context, md wire.MetadataDescriptor) (engine.CycleStats, Result, error) {
	s.Host.SubmitMetadata(md)
	stats, err := s.Engine.RunCycle(ctx, s.Conn)
	if err != nil {
		return stats, Result{}, err
	}

	desc, err := s.Host.TakeResult(ctx)
	if err != nil {
		return stats, Result{}, fmt.Errorf("bemu: taking result: %w", err)
	}

	var records []wire.Record
	if desc.LogCnt > 0 {
		buf, err := s.Host.Read(desc.RKey, 0, uint64(desc.LogCnt)*wire.RecordSize)
		if err != nil {
			return stats, Result{Descriptor: desc}, fmt.Errorf("bemu: reading log: %w", err)
		}
		records, err = wire.DecodeRecords(buf, int(desc.LogCnt))
		if err != nil {
			return stats, Result{Descriptor: desc}, fmt.Errorf("bemu: decoding log: %w", err)
		}
	}
	return stats, Result{Descriptor: desc, Records: records}, nil
}
