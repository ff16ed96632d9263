package wire_test

import (
	"github.com/casys-kaist/bask-ae-eurosys26/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var allRecords = []wire.Record{
	wire.NewStableMerge(wire.ItemKey{MMID: 1, VA: 0x1000}, 7, 3),
	wire.NewUnstableMerge(wire.ItemKey{MMID: 1, VA: 0x1000}, wire.ItemKey{MMID: 2, VA: 0x2000}),
	wire.NewStaleStableNode(wire.ItemKey{MMID: 1, VA: 0x1000}, 9),
	wire.NewItemStateChange(wire.ItemKey{MMID: 1, VA: 0x1000}, 9, 5),
	wire.NewHostStableMergeFailed(wire.ItemKey{MMID: 1, VA: 0x1000}, 7),
	wire.NewHostUnstableMergeFailed(wire.ItemKey{MMID: 1, VA: 0x1000}, wire.ItemKey{MMID: 2, VA: 0x2000}),
	wire.NewHostStaleStableNode(wire.ItemKey{MMID: 1, VA: 0x1000}, 9),
}

var _ = Describe("Record", func() {
	It("is exactly RecordSize bytes for every variant", func() {
		for _, r := range allRecords {
			Expect(r.SizeHint()).To(Equal(wire.RecordSize))
		}
	})

	It("round-trips every variant through Marshal/Unmarshal", func() {
		for _, r := range allRecords {
			buf, _, err := r.Marshal(make([]byte, 0, wire.RecordSize), wire.RecordSize)
			Expect(err).NotTo(HaveOccurred())
			Expect(buf).To(HaveLen(wire.RecordSize))

			var got wire.Record
			_, _, err = got.Unmarshal(buf, wire.RecordSize)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(r))
		}
	})

	It("round-trips a batch through EncodeRecords/DecodeRecords", func() {
		buf, err := wire.EncodeRecords(allRecords)
		Expect(err).NotTo(HaveOccurred())
		Expect(buf).To(HaveLen(len(allRecords) * wire.RecordSize))

		got, err := wire.DecodeRecords(buf, len(allRecords))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(allRecords))
	})

	It("fails to decode a short buffer", func() {
		_, err := wire.DecodeRecords(make([]byte, wire.RecordSize), 2)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("DescEntry", func() {
	It("round-trips through Marshal/Unmarshal", func() {
		e := wire.DescEntry{PagesRKey: 42, PagesAddr: 0xdeadbeef}
		buf, _, err := e.Marshal(make([]byte, 0, e.SizeHint()), e.SizeHint())
		Expect(err).NotTo(HaveOccurred())

		var got wire.DescEntry
		_, _, err = got.Unmarshal(buf, e.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(e))
	})
})

var _ = Describe("ETDescEntry", func() {
	It("round-trips through Marshal/Unmarshal", func() {
		e := wire.ETDescEntry{RKey: 99, Addr: 0x1234}
		buf, _, err := e.Marshal(make([]byte, 0, e.SizeHint()), e.SizeHint())
		Expect(err).NotTo(HaveOccurred())

		var got wire.ETDescEntry
		_, _, err = got.Unmarshal(buf, e.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(e))
	})
})

var _ = Describe("PTDesc", func() {
	It("round-trips with its scatter-gather entries", func() {
		d := wire.PTDesc{
			MMID:       3,
			MapRKey:    10,
			PTBaseAddr: 0x8000,
			Entries: []wire.DescEntry{
				{PagesRKey: 1, PagesAddr: 0x100},
				{PagesRKey: 2, PagesAddr: 0x200},
			},
			EntryCnt: 2,
		}
		buf, _, err := d.Marshal(make([]byte, 0, d.SizeHint()), d.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		Expect(buf).To(HaveLen(d.SizeHint()))

		got := wire.PTDesc{Entries: make([]wire.DescEntry, len(d.Entries))}
		_, _, err = got.Unmarshal(buf, d.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(d))
	})
})

var _ = Describe("ErrorTableDescriptor", func() {
	It("round-trips with its entries, including the empty case", func() {
		d := wire.ErrorTableDescriptor{
			TotalCnt: 5,
			DescCnt:  2,
			Entries: []wire.ETDescEntry{
				{RKey: 1, Addr: 0x10},
				{RKey: 2, Addr: 0x20},
			},
		}
		buf, _, err := d.Marshal(make([]byte, 0, d.SizeHint()), d.SizeHint())
		Expect(err).NotTo(HaveOccurred())

		got := wire.ErrorTableDescriptor{Entries: make([]wire.ETDescEntry, len(d.Entries))}
		_, _, err = got.Unmarshal(buf, d.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(d))

		empty := wire.ErrorTableDescriptor{}
		buf, _, err = empty.Marshal(make([]byte, 0, empty.SizeHint()), empty.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		var gotEmpty wire.ErrorTableDescriptor
		_, _, err = gotEmpty.Unmarshal(buf, empty.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		Expect(gotEmpty.TotalCnt).To(Equal(int32(0)))
	})
})

var _ = Describe("MetadataDescriptor", func() {
	It("round-trips a full metadata descriptor", func() {
		d := wire.MetadataDescriptor{
			PTCnt: 1,
			PTs: []wire.PTDesc{
				{
					MMID:       1,
					MapRKey:    2,
					PTBaseAddr: 0x100,
					Entries:    []wire.DescEntry{{PagesRKey: 3, PagesAddr: 0x200}},
					EntryCnt:   1,
				},
			},
			ErrTbl: wire.ErrorTableDescriptor{
				TotalCnt: 0,
				DescCnt:  0,
			},
		}
		buf, _, err := d.Marshal(make([]byte, 0, d.SizeHint()), d.SizeHint())
		Expect(err).NotTo(HaveOccurred())

		got := wire.MetadataDescriptor{PTs: []wire.PTDesc{{Entries: make([]wire.DescEntry, 1)}}}
		_, _, err = got.Unmarshal(buf, d.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(d))
	})
})

var _ = Describe("ResultDescriptor", func() {
	It("round-trips through Marshal/Unmarshal", func() {
		d := wire.ResultDescriptor{
			TotalScannedCnt: 10,
			LogCnt:          3,
			RKey:            7,
			ResultTableAddr: 0xabc,
		}
		buf, _, err := d.Marshal(make([]byte, 0, d.SizeHint()), d.SizeHint())
		Expect(err).NotTo(HaveOccurred())

		var got wire.ResultDescriptor
		_, _, err = got.Unmarshal(buf, d.SizeHint())
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(d))
	})
})
