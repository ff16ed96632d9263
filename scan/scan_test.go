package scan_test

import (
	"context"
	"errors"

	"github.com/casys-kaist/bask-ae-eurosys26/eventlog"
	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/merge"
	"github.com/casys-kaist/bask-ae-eurosys26/rmap"
	"github.com/casys-kaist/bask-ae-eurosys26/scan"
	"github.com/casys-kaist/bask-ae-eurosys26/shadowpt"
	"github.com/casys-kaist/bask-ae-eurosys26/transport"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func pageOf(b byte) []byte {
	buf := make([]byte, hashpair.PageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

var _ = Describe("Driver.RunTable", func() {
	var (
		host    *transport.Host
		conn    transport.Conn
		meta    *rmap.Metadata
		log     *eventlog.Log
		driver  *scan.Driver
		ctx     context.Context
		pt      wire.PTDesc
		entries []shadowpt.Entry
	)

	BeforeEach(func() {
		host = transport.NewHost()
		conn = transport.Dial(host)
		meta = rmap.New()
		log = eventlog.New()
		driver = scan.NewDriver()
		ctx = context.Background()

		entries = []shadowpt.Entry{
			{VA: 0x1000, PFN: 1},
			{VA: 0x2000, PFN: 2},
			{VA: 0x3000, PFN: 3},
		}
		mapKey := host.Register(shadowpt.EncodeEntries(entries))

		win1 := append(append([]byte{}, pageOf(0x11)...), pageOf(0x11)...)
		win2 := pageOf(0x22)
		key1 := host.Register(win1)
		key2 := host.Register(win2)

		pt = wire.PTDesc{
			MMID:       1,
			MapRKey:    mapKey,
			PTBaseAddr: 0,
			EntryCnt:   uint64(len(entries)),
			Entries: []wire.DescEntry{
				{PagesRKey: key1, PagesAddr: 0},
				{PagesRKey: key2, PagesAddr: 0},
			},
		}
	})

	It("splits the table into windows bounded by MaxPagesInSGL and scans every page", func() {
		n, err := driver.RunTable(ctx, conn, pt, meta, log, 1, scan.Tunables{MaxPagesInSGL: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		for _, e := range entries {
			item := meta.Items[wire.ItemKey{MMID: 1, VA: e.VA}]
			Expect(item).NotTo(BeNil())
			Expect(item.State).To(Equal(rmap.Volatile))
			Expect(item.LastAccess).To(Equal(uint64(1)))
		}
		Expect(log.Len()).To(Equal(0))
	})

	// Two byte-identical pages converge to a single stable merge by the
	// second cycle they're scanned together (spec.md §8 scenario 1), driven
	// end to end through the outer window-pipelining loop rather than
	// merge.Step directly.
	It("merges two identical pages into one stable node across two cycles", func() {
		_, err := driver.RunTable(ctx, conn, pt, meta, log, 1, scan.Tunables{MaxPagesInSGL: 2})
		Expect(err).NotTo(HaveOccurred())

		n, err := driver.RunTable(ctx, conn, pt, meta, log, 2, scan.Tunables{MaxPagesInSGL: 2})
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		itemA := meta.Items[wire.ItemKey{MMID: 1, VA: 0x1000}]
		itemB := meta.Items[wire.ItemKey{MMID: 1, VA: 0x2000}]
		Expect(itemA.State).To(Equal(rmap.Stable))
		Expect(itemB.State).To(Equal(rmap.Stable))
		Expect(itemA.Node).To(Equal(itemB.Node))

		snap := log.Snapshot()
		Expect(snap.Records).To(HaveLen(1))
		Expect(snap.Records[0].Type).To(Equal(wire.UnstableMerge))
	})

	It("produces the same result when the pre-hash worker is enabled", func() {
		t := scan.Tunables{MaxPagesInSGL: 2, PreHash: true}
		_, err := driver.RunTable(ctx, conn, pt, meta, log, 1, t)
		Expect(err).NotTo(HaveOccurred())
		n, err := driver.RunTable(ctx, conn, pt, meta, log, 2, t)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(3))

		itemA := meta.Items[wire.ItemKey{MMID: 1, VA: 0x1000}]
		itemB := meta.Items[wire.ItemKey{MMID: 1, VA: 0x2000}]
		Expect(itemA.State).To(Equal(rmap.Stable))
		Expect(itemB.State).To(Equal(rmap.Stable))
	})

	It("errors when too few scatter-gather descriptors cover the requested windows", func() {
		pt.Entries = pt.Entries[:1]
		_, err := driver.RunTable(ctx, conn, pt, meta, log, 1, scan.Tunables{MaxPagesInSGL: 2})
		Expect(err).To(HaveOccurred())
	})

	It("propagates a fatal error from the compare-and-merge worker", func() {
		item := meta.ItemFor(wire.ItemKey{MMID: 1, VA: 0x1000}, 1)
		item.State = rmap.Unstable // unreachable inside Step

		_, err := driver.RunTable(ctx, conn, pt, meta, log, 1, scan.Tunables{MaxPagesInSGL: 2})
		Expect(err).To(HaveOccurred())

		var fe *merge.FatalError
		Expect(errors.As(err, &fe)).To(BeTrue())
	})
})
