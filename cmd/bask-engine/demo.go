package main

import (
	"github.com/casys-kaist/bask-ae-eurosys26/shadowpt"
	"github.com/casys-kaist/bask-ae-eurosys26/transport"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// demoHost is a synthetic host side for running the engine loop without a
// real RDMA-capable peer (spec.md §1: the RDMA verbs layer is delegated to
// external collaborators). It republishes the same two-page, single
// address-space shadow page table every cycle so the reference binary has
// something to scan.
type demoHost struct {
	host      *transport.Host
	mapRKey   wire.RKey
	pagesRKey wire.RKey
	entries   []shadowpt.Entry
}

func newDemoHost() *demoHost {
	entries := []shadowpt.Entry{
		{VA: 0x1000, PFN: 1},
		{VA: 0x2000, PFN: 2},
	}
	h := transport.NewHost()
	mapRKey := h.Register(shadowpt.EncodeEntries(entries))

	pages, err := transport.AllocPages(len(entries))
	if err != nil {
		panic(err)
	}
	for i := range pages {
		pages[i] = 0xCD
	}
	pagesRKey := h.Register(pages)

	return &demoHost{host: h, mapRKey: mapRKey, pagesRKey: pagesRKey, entries: entries}
}

// submitNextCycle publishes this cycle's metadata descriptor with an empty
// error table: the demo host never rejects a merge.
func (d *demoHost) submitNextCycle() {
	pt := wire.PTDesc{
		MMID:       0,
		MapRKey:    d.mapRKey,
		PTBaseAddr: 0,
		EntryCnt:   uint64(len(d.entries)),
		Entries:    []wire.DescEntry{{PagesRKey: d.pagesRKey, PagesAddr: 0}},
	}
	d.host.SubmitMetadata(wire.MetadataDescriptor{PTCnt: 1, PTs: []wire.PTDesc{pt}})
}
