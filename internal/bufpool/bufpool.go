// Package bufpool provides pooled byte slices for the scratch DMA
// buffers Channel allocates on every DirectAppend/DirectRead chunk and
// every log's spill buffer, avoiding a hot-path allocation per zone-walk
// step.
package bufpool

import "sync"

// Buffer size thresholds, chosen around common ZASL/MDTS values (256KiB
// zone-append limits, up to 1MiB full-transfer chunks). A request larger
// than 1MiB still works, it's just unpooled.
const (
	size64k  = 64 * 1024
	size128k = 128 * 1024
	size256k = 256 * 1024
	size1m   = 1024 * 1024
)

// globalPool is the shared buffer pool for all channels. Uses
// pointer-to-slice pattern for efficient sync.Pool usage.
var globalPool = struct {
	pool64k  sync.Pool
	pool128k sync.Pool
	pool256k sync.Pool
	pool1m   sync.Pool
}{
	pool64k:  sync.Pool{New: func() any { b := make([]byte, size64k); return &b }},
	pool128k: sync.Pool{New: func() any { b := make([]byte, size128k); return &b }},
	pool256k: sync.Pool{New: func() any { b := make([]byte, size256k); return &b }},
	pool1m:   sync.Pool{New: func() any { b := make([]byte, size1m); return &b }},
}

// Get returns a pooled buffer of at least the requested size. Caller
// must call Put when done.
func Get(size uint32) []byte {
	switch {
	case size <= size64k:
		return (*globalPool.pool64k.Get().(*[]byte))[:size]
	case size <= size128k:
		return (*globalPool.pool128k.Get().(*[]byte))[:size]
	case size <= size256k:
		return (*globalPool.pool256k.Get().(*[]byte))[:size]
	case size <= size1m:
		return (*globalPool.pool1m.Get().(*[]byte))[:size]
	default:
		return make([]byte, size)
	}
}

// Put returns a buffer to the pool. The buffer's capacity determines
// which pool it goes to; non-standard capacities (from the size>1m
// fallback) are simply dropped.
func Put(buf []byte) {
	c := cap(buf)
	buf = buf[:c]
	switch c {
	case size64k:
		globalPool.pool64k.Put(&buf)
	case size128k:
		globalPool.pool128k.Put(&buf)
	case size256k:
		globalPool.pool256k.Put(&buf)
	case size1m:
		globalPool.pool1m.Put(&buf)
	}
}
