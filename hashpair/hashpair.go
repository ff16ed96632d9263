// Package hashpair computes the two-half 128-bit content digest used to
// recognise when a page's contents have not changed across cycles.
package hashpair

import (
	"fmt"

	"github.com/renproject/surge"
)

// PageSize is the size, in bytes, of every page the engine hashes.
const PageSize = 4096

// halfSize is the number of bytes hashed into each half of a Pair.
const halfSize = PageSize / 2

// Pair is two 128-bit digests of a page: one over the first half, one over
// the second half, both computed from the same fixed, non-zero seeds (see
// Compute). Equality is component-wise on all four 64-bit words.
type Pair struct {
	Lo [2]uint64
	Hi [2]uint64
}

// Null is the designated "never computed" sentinel value. It is the all-zero
// Pair; a real page hash colliding with it is astronomically unlikely with a
//128-bit non-cryptographic hash, and the source treats it the same way.
var Null = Pair{}

// Eq reports whether two Pairs are equal, component-wise on all four 64-bit
// words.
func (p Pair) Eq(o Pair) bool {
	return p.Lo == o.Lo && p.Hi == o.Hi
}

// IsNull reports whether p is the Null sentinel.
func (p Pair) IsNull() bool { return p.Eq(Null) }

// XOR folds the four 64-bit words of a Pair into a single bucket key for the
// stable index (spec.md §4.5: "hash = XOR of the four 64-bit words").
func (p Pair) XOR() uint64 {
	return p.Lo[0] ^ p.Lo[1] ^ p.Hi[0] ^ p.Hi[1]
}

// SizeHint implements the surge.SizeHinter interface.
func (p Pair) SizeHint() int { return 32 }

// Marshal implements the surge.Marshaler interface.
func (p Pair) Marshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.MarshalU64(p.Lo[0], buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling lo[0]: %w", err)
	}
	buf, rem, err = surge.MarshalU64(p.Lo[1], buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling lo[1]: %w", err)
	}
	buf, rem, err = surge.MarshalU64(p.Hi[0], buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("marshaling hi[0]: %w", err)
	}
	return surge.MarshalU64(p.Hi[1], buf, rem)
}

// Unmarshal implements the surge.Unmarshaler interface.
func (p *Pair) Unmarshal(buf []byte, rem int) ([]byte, int, error) {
	buf, rem, err := surge.UnmarshalU64(&p.Lo[0], buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling lo[0]: %w", err)
	}
	buf, rem, err = surge.UnmarshalU64(&p.Lo[1], buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling lo[1]: %w", err)
	}
	buf, rem, err = surge.UnmarshalU64(&p.Hi[0], buf, rem)
	if err != nil {
		return buf, rem, fmt.Errorf("unmarshaling hi[0]: %w", err)
	}
	return surge.UnmarshalU64(&p.Hi[1], buf, rem)
}

// fnv1a64 is a small non-cryptographic 128-bit hash built from two 64-bit
// FNV-1a style passes over the same bytes: the first starts from seedA, the
// second from seedB and adds a constant to every byte before mixing it in.
// The seeds are the caller's; Compute passes fixed non-zero values.
func fnv1a64(data []byte, seedA, seedB uint64) (uint64, uint64) {
	const prime = 1099511628211
	a, b := seedA, seedB
	for _, c := range data {
		a ^= uint64(c)
		a *= prime
		b ^= uint64(c) + 0x9e3779b97f4a7c15
		b *= prime
	}
	return a, b
}

// Compute hashes a single PageSize-byte page on demand. It panics if page is
// not exactly PageSize bytes, since a shorter or longer buffer indicates a
// bug in the caller (a misregistered RDMA read window), not a recoverable
// condition.
func Compute(page []byte) Pair {
	if len(page) != PageSize {
		panic(fmt.Sprintf("hashpair: page must be %d bytes, got %d", PageSize, len(page)))
	}
	first := page[:halfSize]
	second := page[halfSize:]

	lo0, lo1 := fnv1a64(first, 0xcbf29ce484222325, 0x84222325cbf29ce4)
	hi0, hi1 := fnv1a64(second, 0xcbf29ce484222325, 0x84222325cbf29ce4)
	return Pair{Lo: [2]uint64{lo0, lo1}, Hi: [2]uint64{hi0, hi1}}
}
