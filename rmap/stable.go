package rmap

import (
	"errors"

	"github.com/casys-kaist/bask-ae-eurosys26/hashpair"
	"github.com/casys-kaist/bask-ae-eurosys26/wire"
)

// Sentinel errors for invariant breaches (spec.md §7): these indicate a bug
// in the engine, never a recoverable runtime condition.
var (
	// ErrChainNodeWithoutPrev is raised by CheckInvariants when a HEAD's
	// ChainNext walk reaches a freed or missing node.
	ErrChainNodeWithoutPrev = errors.New("rmap: chain node has no reachable head")
)

// StableIndex is the stable hash-table of spec.md §4.5: keyed by
// hashpair.Pair.XOR(), holding the HEAD node of every distinct page hash
// this engine currently believes is shared. Saturated HEADs are followed
// via ChainNext to find a non-saturated CHAIN node for the same hash.
type StableIndex struct {
	arena   *NodeArena
	buckets map[uint64][]NodeHandle // distinct-hash HEADs colliding on XOR
}

// NewStableIndex returns an empty index backed by the given arena.
func NewStableIndex(arena *NodeArena) *StableIndex {
	return &StableIndex{arena: arena, buckets: make(map[uint64][]NodeHandle)}
}

// headFor returns the HEAD handle for an exact PageHash match within a
// bucket, or NilHandle if none exists.
func (s *StableIndex) headFor(pageHash hashpair.Pair) NodeHandle {
	for _, h := range s.buckets[pageHash.XOR()] {
		if n := s.arena.Get(h); n != nil && n.PageHash.Eq(pageHash) {
			return h
		}
	}
	return NilHandle
}

// Lookup finds a non-saturated stable_node with the given page hash,
// walking the chain from HEAD if the HEAD itself is saturated (spec.md
// §4.5: "If the found HEAD is saturated, lookup walks chain.next and
// returns the first non-saturated node"; ties broken by chain order, i.e.
// first non-saturated node from HEAD).
func (s *StableIndex) Lookup(pageHash hashpair.Pair) NodeHandle {
	h := s.headFor(pageHash)
	if h == NilHandle {
		return NilHandle
	}
	for cur := h; cur != NilHandle; {
		n := s.arena.Get(cur)
		if n == nil {
			return NilHandle
		}
		if !n.Saturated() {
			return cur
		}
		cur = n.ChainNext
	}
	return NilHandle
}

// Insert creates a new stable_node for pageHash/pfn and makes it reachable
// from the index: as the HEAD if no node with this hash exists yet,
// otherwise appended to the tail of the existing HEAD's chain as a CHAIN
// node (spec.md §4.5).
func (s *StableIndex) Insert(pageHash hashpair.Pair, pfn wire.PFN) NodeHandle {
	h := s.New(pageHash, pfn)
	head := s.headFor(pageHash)
	if head == NilHandle {
		s.buckets[pageHash.XOR()] = append(s.buckets[pageHash.XOR()], h)
		return h
	}

	tail := head
	for {
		n := s.arena.Get(tail)
		if n.ChainNext == NilHandle {
			break
		}
		tail = n.ChainNext
	}
	tailNode := s.arena.Get(tail)
	node := s.arena.Get(h)
	node.Role = Chain
	node.ChainPrev = tail
	tailNode.ChainNext = h
	return h
}

// New allocates a stable_node without inserting it into the index. Insert
// calls it and then links the node in as a HEAD or CHAIN node.
func (s *StableIndex) New(pageHash hashpair.Pair, pfn wire.PFN) NodeHandle {
	return s.arena.New(pageHash, pfn)
}

// Remove detaches a node from the index/chain structure entirely, used
// when a node is about to be freed (shared_cnt reached zero). If the node
// is a HEAD with a chain, the next CHAIN node is promoted to HEAD and
// swapped into the bucket so the index invariant ("at most one HEAD per
// hash-pair bucket") is preserved.
func (s *StableIndex) Remove(h NodeHandle) {
	n := s.arena.Get(h)
	if n == nil {
		return
	}

	if n.Role == Chain {
		prev := s.arena.Get(n.ChainPrev)
		next := s.arena.Get(n.ChainNext)
		if prev != nil {
			prev.ChainNext = n.ChainNext
		}
		if next != nil {
			next.ChainPrev = n.ChainPrev
		}
		return
	}

	// n is the HEAD. If it has a chain, promote the next node to HEAD and
	// replace it in the bucket; otherwise drop the bucket entry.
	bucket := s.buckets[n.PageHash.XOR()]
	idx := -1
	for i, bh := range bucket {
		if bh == h {
			idx = i
			break
		}
	}
	if idx == -1 {
		return
	}

	if n.ChainNext == NilHandle {
		s.buckets[n.PageHash.XOR()] = append(bucket[:idx], bucket[idx+1:]...)
		return
	}

	newHead := s.arena.Get(n.ChainNext)
	newHead.Role = Head
	newHead.ChainPrev = NilHandle
	bucket[idx] = n.ChainNext
}

// PropagateHash implements the chain-wide hash update of spec.md §4.5:
// "Page-hash changed while pfn unchanged". newHash is written to every
// node in the chain that head belongs to (head itself plus every CHAIN
// node reachable via ChainNext), and the bucket is re-keyed since the
// index is keyed by hash. It also rewrites every sharer's OldHash to
// newHash via the supplied items map, preserving the invariant that every
// sharer's OldHash equals its stable_node's PageHash.
//
// PropagateHash is idempotent: invoking it with the node's current hash is
// a no-op beyond the sharer OldHash rewrite, which is itself a no-op if
// OldHash already equals newHash.
func (s *StableIndex) PropagateHash(member NodeHandle, newHash hashpair.Pair, items map[wire.ItemKey]*Item) {
	head := s.headOf(member)
	headNode := s.arena.Get(head)
	if headNode == nil {
		return
	}

	oldBucket := headNode.PageHash.XOR()
	if !headNode.PageHash.Eq(newHash) {
		s.removeFromBucket(oldBucket, head)
		headNode.PageHash = newHash
		s.buckets[newHash.XOR()] = append(s.buckets[newHash.XOR()], head)
	}

	for cur := head; cur != NilHandle; {
		n := s.arena.Get(cur)
		n.PageHash = newHash
		for _, key := range n.Sharers() {
			if item, ok := items[key]; ok {
				item.OldHash = newHash
			}
		}
		cur = n.ChainNext
	}
}

func (s *StableIndex) removeFromBucket(bucket uint64, h NodeHandle) {
	list := s.buckets[bucket]
	for i, bh := range list {
		if bh == h {
			s.buckets[bucket] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// headOf walks ChainPrev from member until it reaches the HEAD of its
// chain (spec.md §4.5: "If the changed item belongs to a CHAIN node, walk
// to the HEAD first").
func (s *StableIndex) headOf(member NodeHandle) NodeHandle {
	cur := member
	for {
		n := s.arena.Get(cur)
		if n == nil {
			return NilHandle
		}
		if n.Role == Head {
			return cur
		}
		if n.ChainPrev == NilHandle {
			return cur
		}
		cur = n.ChainPrev
	}
}
