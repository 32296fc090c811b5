package localif

import "sync"

// Buffer pools for read chunks and encoded outbound frames. Callers only
// return buffers that came from bufGet; bufPut ignores foreign capacities.

const (
	bufSmall = 1024
	bufMed   = 4096
	bufLarge = 16384
	bufXL    = 65536
)

var (
	poolSmall = sync.Pool{New: func() any { b := make([]byte, bufSmall); return &b }}
	poolMed   = sync.Pool{New: func() any { b := make([]byte, bufMed); return &b }}
	poolLarge = sync.Pool{New: func() any { b := make([]byte, bufLarge); return &b }}
	poolXL    = sync.Pool{New: func() any { b := make([]byte, bufXL); return &b }}
)

// bufGet returns a zero-length slice with capacity of at least n.
func bufGet(n int) []byte {
	switch {
	case n <= bufSmall:
		return (*poolSmall.Get().(*[]byte))[:0]
	case n <= bufMed:
		return (*poolMed.Get().(*[]byte))[:0]
	case n <= bufLarge:
		return (*poolLarge.Get().(*[]byte))[:0]
	case n <= bufXL:
		return (*poolXL.Get().(*[]byte))[:0]
	default:
		return make([]byte, 0, n)
	}
}

// bufPut returns b to its pool if it originated from one.
func bufPut(b []byte) {
	switch cap(b) {
	case bufSmall:
		bb := b[:bufSmall]
		poolSmall.Put(&bb)
	case bufMed:
		bb := b[:bufMed]
		poolMed.Put(&bb)
	case bufLarge:
		bb := b[:bufLarge]
		poolLarge.Put(&bb)
	case bufXL:
		bb := b[:bufXL]
		poolXL.Put(&bb)
	}
}
