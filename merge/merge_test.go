package merge_test

import (
	"errors"

	"github.com/casys-kaist/bask-ae-eurosys26/eventlog"
	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/merge"
	"github.com/casys-kaist/bask-ae-eurosys26/rmap"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func page(b byte) []byte {
	buf := make([]byte, hashpair.PageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func itemKey(va uint64) wire.ItemKey { return wire.ItemKey{MMID: 0, VA: wire.VA(va)} }

var _ = Describe("Step on a Volatile item", func() {
	var (
		meta *rmap.Metadata
		log  *eventlog.Log
		t    merge.Tunables
	)

	BeforeEach(func() {
		meta = rmap.New()
		log = eventlog.New()
		t = merge.Tunables{}
	})

	It("records old_hash on first observation without bumping volatility", func() {
		item := meta.ItemFor(itemKey(1), 1)
		item.State = rmap.Volatile

		Expect(merge.Step(meta, log, item, 1, page(0x1), t)).To(Succeed())

		Expect(item.State).To(Equal(rmap.Volatile))
		Expect(item.VolatilityScore).To(Equal(int32(0)))
		Expect(item.OldHash.IsNull()).To(BeFalse())
		Expect(log.Len()).To(Equal(0))
	})

	// spec.md §8 scenario 1: two distinct items converge on the same page
	// content across two cycles and merge with exactly one log record.
	It("promotes a repeated-then-matched hash through Unstable into a single Stable merge", func() {
		a := meta.ItemFor(itemKey(1), 1)
		a.State = rmap.Volatile
		b := meta.ItemFor(itemKey(2), 2)
		b.State = rmap.Volatile

		Expect(merge.Step(meta, log, a, 1, page(0x7), t)).To(Succeed())
		Expect(merge.Step(meta, log, a, 1, page(0x7), t)).To(Succeed())
		Expect(a.State).To(Equal(rmap.Unstable))

		Expect(merge.Step(meta, log, b, 2, page(0x7), t)).To(Succeed())
		Expect(merge.Step(meta, log, b, 2, page(0x7), t)).To(Succeed())

		Expect(a.State).To(Equal(rmap.Stable))
		Expect(b.State).To(Equal(rmap.Stable))
		Expect(a.Node).To(Equal(b.Node))

		node := meta.Arena.Get(a.Node)
		Expect(node.SharedCnt()).To(Equal(2))

		snap := log.Snapshot()
		Expect(snap.Records).To(HaveLen(1))
		Expect(snap.Records[0].Type).To(Equal(wire.UnstableMerge))
	})

	It("joins an existing stable node directly once a third item matches its hash", func() {
		a := meta.ItemFor(itemKey(1), 1)
		a.State = rmap.Volatile
		b := meta.ItemFor(itemKey(2), 2)
		b.State = rmap.Volatile
		Expect(merge.Step(meta, log, a, 1, page(0x9), t)).To(Succeed())
		Expect(merge.Step(meta, log, a, 1, page(0x9), t)).To(Succeed())
		Expect(merge.Step(meta, log, b, 2, page(0x9), t)).To(Succeed())
		Expect(merge.Step(meta, log, b, 2, page(0x9), t)).To(Succeed())
		log.Reset()

		c := meta.ItemFor(itemKey(3), 3)
		c.State = rmap.Volatile
		Expect(merge.Step(meta, log, c, 3, page(0x9), t)).To(Succeed())
		Expect(merge.Step(meta, log, c, 3, page(0x9), t)).To(Succeed())

		Expect(c.State).To(Equal(rmap.Stable))
		Expect(c.Node).To(Equal(a.Node))

		snap := log.Snapshot()
		Expect(snap.Records).To(HaveLen(1))
		Expect(snap.Records[0].Type).To(Equal(wire.StableMerge))
	})

	It("chains instead of reusing a node once it has MaxPageSharing sharers", func() {
		node := meta.Arena.Get(meta.Stable.Insert(hashpair.Compute(page(0x3)), 1))
		for i := 0; i < rmap.MaxPageSharing; i++ {
			node.AddSharer(itemKey(uint64(1000 + i)))
		}
		Expect(node.Saturated()).To(BeTrue())
		headHandle := meta.Stable.Lookup(hashpair.Compute(page(0x3)))
		Expect(headHandle).To(Equal(rmap.NilHandle)) // saturated, no chain yet

		a := meta.ItemFor(itemKey(1), 1)
		a.State = rmap.Volatile
		b := meta.ItemFor(itemKey(2), 2)
		b.State = rmap.Volatile
		Expect(merge.Step(meta, log, a, 1, page(0x3), t)).To(Succeed())
		Expect(merge.Step(meta, log, a, 1, page(0x3), t)).To(Succeed())
		Expect(a.State).To(Equal(rmap.Unstable))

		Expect(merge.Step(meta, log, b, 2, page(0x3), t)).To(Succeed())
		Expect(merge.Step(meta, log, b, 2, page(0x3), t)).To(Succeed())

		Expect(a.State).To(Equal(rmap.Stable))
		chainNode := meta.Arena.Get(a.Node)
		Expect(chainNode.Role).To(Equal(rmap.Chain))
	})

	It("bypasses the skip heuristic entirely under NoSkipOpt", func() {
		item := meta.ItemFor(itemKey(1), 1)
		item.State = rmap.Volatile
		item.VolatilityScore = 5
		item.OldHash = hashpair.Null

		noSkip := merge.Tunables{NoSkipOpt: true}
		Expect(merge.Step(meta, log, item, 1, page(0x4), noSkip)).To(Succeed())

		// With skipping disabled the hash path always runs, so a
		// freshly-null old_hash is always populated this cycle.
		Expect(item.OldHash.Eq(hashpair.Compute(page(0x4)))).To(BeTrue())
	})

	It("hashes normally on the recharge cycle, then skips once skip_cnt is charged", func() {
		item := meta.ItemFor(itemKey(1), 1)
		item.State = rmap.Volatile
		item.VolatilityScore = 5
		item.OldHash = hashpair.Null

		// skip_cnt is zero to start, so this cycle recharges it and runs
		// the hash path normally rather than skipping.
		Expect(merge.Step(meta, log, item, 1, page(0x4), t)).To(Succeed())
		Expect(item.OldHash.IsNull()).To(BeFalse())
		Expect(item.SkipCnt).To(BeNumerically(">", 0))

		chargedSkipCnt := item.SkipCnt
		oldHash := item.OldHash

		// Now skip_cnt is charged: this cycle skips hashing entirely and
		// decrements it instead.
		Expect(merge.Step(meta, log, item, 1, page(0x5), t)).To(Succeed())
		Expect(item.OldHash).To(Equal(oldHash))
		Expect(item.SkipCnt).To(Equal(chargedSkipCnt - 1))
	})
})

var _ = Describe("Step on a Stable item", func() {
	var (
		meta *rmap.Metadata
		log  *eventlog.Log
	)

	BeforeEach(func() {
		meta = rmap.New()
		log = eventlog.New()
	})

	stableItem := func(va uint64, pfn wire.PFN, p []byte) (*rmap.Item, rmap.NodeHandle) {
		hash := hashpair.Compute(p)
		h := meta.Stable.Insert(hash, pfn)
		node := meta.Arena.Get(h)
		node.AddSharer(itemKey(va))
		item := meta.ItemFor(itemKey(va), pfn)
		item.State = rmap.Stable
		item.Node = h
		item.OldHash = hash
		item.PFN = pfn
		return item, h
	}

	It("does not decrement volatility_score under Legacy even when in sync", func() {
		item, _ := stableItem(1, 1, page(0x2))
		item.VolatilityScore = 3

		Expect(merge.Step(meta, log, item, 1, page(0x2), merge.Tunables{Legacy: true})).To(Succeed())
		Expect(item.VolatilityScore).To(Equal(int32(3)))
	})

	It("decays volatility_score when in sync and not Legacy", func() {
		item, _ := stableItem(1, 1, page(0x2))
		item.VolatilityScore = 3

		Expect(merge.Step(meta, log, item, 1, page(0x2), merge.Tunables{})).To(Succeed())
		Expect(item.VolatilityScore).To(Equal(int32(2)))
	})

	It("detaches and restarts from Volatile on a pfn mismatch, freeing a now-unshared node", func() {
		item, _ := stableItem(1, 1, page(0x2))

		Expect(merge.Step(meta, log, item, 2, page(0x2), merge.Tunables{})).To(Succeed())

		snap := log.Snapshot()
		Expect(snap.Records).To(HaveLen(1))
		Expect(snap.Records[0].Type).To(Equal(wire.StaleStableNode))
	})

	It("detaches with an item-state-change record when the node keeps other sharers", func() {
		item, h := stableItem(1, 1, page(0x2))
		node := meta.Arena.Get(h)
		node.AddSharer(itemKey(2))

		Expect(merge.Step(meta, log, item, 2, page(0x2), merge.Tunables{})).To(Succeed())

		// The restart from Volatile finds the page unchanged and the node
		// still live and non-saturated, so the item re-joins it at once.
		snap := log.Snapshot()
		Expect(snap.Records).To(HaveLen(2))
		Expect(snap.Records[0].Type).To(Equal(wire.ItemStateChange))
		Expect(snap.Records[1].Type).To(Equal(wire.StableMerge))
	})

	It("fails fatally when the current hash matches neither old_hash nor the node's page_hash", func() {
		item, _ := stableItem(1, 1, page(0x2))

		err := merge.Step(meta, log, item, 1, page(0x99), merge.Tunables{})
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, merge.ErrHashDivergence)).To(BeTrue())

		var fe *merge.FatalError
		Expect(errors.As(err, &fe)).To(BeTrue())
		Expect(fe.Fatal()).To(BeTrue())
	})
})

var _ = Describe("Step on an unreachable state", func() {
	It("is fatal for None", func() {
		meta := rmap.New()
		log := eventlog.New()
		item := meta.ItemFor(itemKey(1), 1)

		err := merge.Step(meta, log, item, 1, page(0x1), merge.Tunables{})
		Expect(errors.Is(err, merge.ErrUnreachableState)).To(BeTrue())
	})

	It("is fatal for Unstable", func() {
		meta := rmap.New()
		log := eventlog.New()
		item := meta.ItemFor(itemKey(1), 1)
		item.State = rmap.Unstable

		err := merge.Step(meta, log, item, 1, page(0x1), merge.Tunables{})
		Expect(errors.Is(err, merge.ErrUnreachableState)).To(BeTrue())
	})
})
