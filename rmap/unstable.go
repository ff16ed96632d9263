package rmap

import (
	"errors"

	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// ErrUnstableCollision is returned by UnstableIndex.Insert when the hash
// pair is already occupied by a different item within the same cycle.
// spec.md §9 Open Questions: the source asserts no collision can occur;
// this demotes that assertion to an ordinary error per the instruction
// there to treat adversarial collisions as a miss rather than a crash.
var ErrUnstableCollision = errors.New("rmap: unstable index collision")

// UnstableIndex is the per-cycle unstable_bucket table of spec.md §3: keyed
// by hash pair, each bucket holding a single rmap_item currently Unstable.
// It exists for at most one cycle and must be empty at the top of every
// cycle (spec.md §4.4, §8).
type UnstableIndex struct {
	buckets map[hashpair.Pair]wire.ItemKey
}

// NewUnstableIndex returns an empty index.
func NewUnstableIndex() *UnstableIndex {
	return &UnstableIndex{buckets: make(map[hashpair.Pair]wire.ItemKey)}
}

// Lookup returns the item key occupying hash, if any.
func (u *UnstableIndex) Lookup(hash hashpair.Pair) (wire.ItemKey, bool) {
	key, ok := u.buckets[hash]
	return key, ok
}

// Insert adds key to the index under hash. It returns ErrUnstableCollision
// if the bucket is already occupied by a different key, rather than
// asserting (spec.md §9 Open Questions).
func (u *UnstableIndex) Insert(hash hashpair.Pair, key wire.ItemKey) error {
	if existing, ok := u.buckets[hash]; ok && existing != key {
		return ErrUnstableCollision
	}
	u.buckets[hash] = key
	return nil
}

// Len returns the number of occupied buckets.
func (u *UnstableIndex) Len() int { return len(u.buckets) }

// Remove drops the bucket at hash, if any, used when its occupant is
// promoted into a stable_node and must stop being a valid unstable-merge
// partner for the rest of the cycle.
func (u *UnstableIndex) Remove(hash hashpair.Pair) {
	delete(u.buckets, hash)
}

// Clear empties the index. Called by reconciliation at the start of every
// cycle (spec.md §4.4: "the engine clears the unstable index"), and every
// referenced item must be reverted to Volatile by the caller first.
func (u *UnstableIndex) Clear() {
	u.buckets = make(map[hashpair.Pair]wire.ItemKey)
}
