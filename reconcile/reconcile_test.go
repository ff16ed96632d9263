package reconcile_test

import (
	"github.com/casys-kaist/bask-ae-eurosys26/eventlog"
	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/reconcile"
	"github.com/casys-kaist/bask-ae-eurosys26/rmap"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func keyFor(mmID int32, va uint64) wire.ItemKey {
	return wire.ItemKey{MMID: wire.AddrSpaceID(mmID), VA: wire.VA(va)}
}

var _ = Describe("Apply", func() {
	var (
		meta *rmap.Metadata
		log  *eventlog.Log
		hash hashpair.Pair
	)

	BeforeEach(func() {
		meta = rmap.New()
		log = eventlog.New()
		hash = hashpair.Compute(make([]byte, hashpair.PageSize))
	})

	// spec.md §8 scenario 2: items A and B promoted to a stable node, host
	// rejects the unstable-origin merge.
	It("reverts both sharers of a rejected unstable-merge node to Volatile and frees it", func() {
		a := keyFor(0, 0x1000)
		b := keyFor(0, 0x2000)

		h := meta.Stable.Insert(hash, 7)
		node := meta.Arena.Get(h)
		node.AddSharer(a)
		node.AddSharer(b)

		itemA := meta.ItemFor(a, 7)
		itemA.State = rmap.Stable
		itemA.Node = h
		itemA.OldHash = hash
		itemB := meta.ItemFor(b, 7)
		itemB.State = rmap.Stable
		itemB.Node = h
		itemB.OldHash = hash

		rec := wire.NewHostUnstableMergeFailed(a, b)
		Expect(reconcile.Apply(meta, log, []wire.Record{rec}, 1, 0)).To(Succeed())

		Expect(itemA.State).To(Equal(rmap.Volatile))
		Expect(itemA.VolatilityScore).To(Equal(int32(1)))
		Expect(itemB.State).To(Equal(rmap.Volatile))
		Expect(itemB.VolatilityScore).To(Equal(int32(1)))
		Expect(meta.Arena.Get(h)).To(BeNil())
	})

	// spec.md §8 scenario 4: C shares a node with A, host rejects C's
	// merge specifically; N persists with A as the remaining sharer.
	It("unlinks a single rejected sharer and leaves the node resident with the rest", func() {
		a := keyFor(0, 0x1000)
		c := keyFor(0, 0x3000)

		h := meta.Stable.Insert(hash, 9)
		node := meta.Arena.Get(h)
		node.AddSharer(a)
		node.AddSharer(c)

		itemA := meta.ItemFor(a, 9)
		itemA.State = rmap.Stable
		itemA.Node = h
		itemA.OldHash = hash
		itemC := meta.ItemFor(c, 9)
		itemC.State = rmap.Stable
		itemC.Node = h
		itemC.OldHash = hash

		rec := wire.NewHostStableMergeFailed(c, 9)
		Expect(reconcile.Apply(meta, log, []wire.Record{rec}, 1, 0)).To(Succeed())

		Expect(itemC.State).To(Equal(rmap.Volatile))
		Expect(itemC.VolatilityScore).To(Equal(int32(1)))
		Expect(meta.Arena.Get(h)).NotTo(BeNil())
		Expect(node.SharedCnt()).To(Equal(1))
		Expect(node.HasSharer(a)).To(BeTrue())
		Expect(log.Len()).To(Equal(0))
	})

	It("frees the node and emits a stale-stable-node record when the last sharer is rejected", func() {
		a := keyFor(0, 0x1000)
		h := meta.Stable.Insert(hash, 9)
		node := meta.Arena.Get(h)
		node.AddSharer(a)

		itemA := meta.ItemFor(a, 9)
		itemA.State = rmap.Stable
		itemA.Node = h
		itemA.OldHash = hash

		rec := wire.NewHostStableMergeFailed(a, 9)
		Expect(reconcile.Apply(meta, log, []wire.Record{rec}, 1, 0)).To(Succeed())

		Expect(meta.Arena.Get(h)).To(BeNil())
		Expect(log.Len()).To(Equal(1))
		Expect(log.Snapshot().Records[0].Type).To(Equal(wire.StaleStableNode))
	})

	It("rejects a host-stale-stable-node record as fatal", func() {
		rec := wire.NewHostStaleStableNode(keyFor(0, 0x1000), 1)
		err := reconcile.Apply(meta, log, []wire.Record{rec}, 1, 0)
		Expect(err).To(HaveOccurred())
		var fatal *reconcile.FatalError
		Expect(err).To(BeAssignableToTypeOf(fatal))
	})

	It("reverts every Unstable item and leaves the unstable index empty at the top of the cycle", func() {
		a := keyFor(0, 0x1000)
		item := meta.ItemFor(a, 1)
		item.State = rmap.Unstable
		Expect(meta.Unstable.Insert(hash, a)).To(Succeed())

		Expect(reconcile.Apply(meta, log, nil, 1, 0)).To(Succeed())

		Expect(item.State).To(Equal(rmap.Volatile))
		Expect(meta.CheckUnstableEmpty()).To(Succeed())
	})

	It("is a no-op on merge metadata beyond clearing the unstable index when the error table is empty", func() {
		a := keyFor(0, 0x1000)
		h := meta.Stable.Insert(hash, 1)
		node := meta.Arena.Get(h)
		node.AddSharer(a)
		item := meta.ItemFor(a, 1)
		item.State = rmap.Stable
		item.Node = h
		item.OldHash = hash

		Expect(reconcile.Apply(meta, log, nil, 1, 0)).To(Succeed())

		Expect(item.State).To(Equal(rmap.Stable))
		Expect(node.SharedCnt()).To(Equal(1))
		Expect(log.Len()).To(Equal(0))
	})

	It("prunes rmap_items whose LastAccess has fallen behind the margin", func() {
		a := keyFor(0, 0x1000)
		item := meta.ItemFor(a, 1)
		item.LastAccess = 1

		Expect(reconcile.Apply(meta, log, nil, 10, 0)).To(Succeed())
		_, ok := meta.Items[a]
		Expect(ok).To(BeFalse())
	})
})
