package wire

import "github.com/renproject/surge"

// Thin helpers over surge's fixed-width primitives so the descriptor types
// above can marshal int32/uint32/uint64 fields (including ones backed by a
// named type, e.g. RKey) without repeating the cast at every call site.

func marshalU32(v uint32, buf []byte, rem int) ([]byte, int, error) {
	return surge.MarshalU32(v, buf, rem)
}

func unmarshalU32(v *uint32, buf []byte, rem int) ([]byte, int, error) {
	return surge.UnmarshalU32(v, buf, rem)
}

func marshalU64(v uint64, buf []byte, rem int) ([]byte, int, error) {
	return surge.MarshalU64(v, buf, rem)
}

func unmarshalU64(v *uint64, buf []byte, rem int) ([]byte, int, error) {
	return surge.UnmarshalU64(v, buf, rem)
}

func marshalI32(v int32, buf []byte, rem int) ([]byte, int, error) {
	return surge.MarshalU32(uint32(v), buf, rem)
}

func unmarshalI32(v *int32, buf []byte, rem int) ([]byte, int, error) {
	var u uint32
	buf, rem, err := surge.UnmarshalU32(&u, buf, rem)
	*v = int32(u)
	return buf, rem, err
}
