package szd

import (
	"github.com/szd-go/zns/internal/bufpool"
)

// Buffer is an owned, block-aligned DMA-capable byte region.
// Its backing storage comes from internal/bufpool so repeated
// construct/free cycles on the hot append/read path reuse memory instead
// of allocating fresh on every chunk.
type Buffer struct {
	data      []byte
	blockSize uint32
	freed     bool
}

// roundUpBlock returns the smallest multiple of blockSize at least n.
func roundUpBlock(n int, blockSize uint32) int {
	b := int(blockSize)
	if n <= 0 {
		return 0
	}
	return ((n + b - 1) / b) * b
}

// NewBuffer constructs a Buffer sized to at least size bytes, rounded up
// to a multiple of blockSize.
func NewBuffer(blockSize uint32, size int) (*Buffer, error) {
	if blockSize == 0 {
		return nil, NewError("NewBuffer", CodeInvalidArguments, "block size must be nonzero")
	}
	if size < 0 {
		return nil, NewError("NewBuffer", CodeInvalidArguments, "negative buffer size")
	}
	aligned := roundUpBlock(size, blockSize)
	return &Buffer{
		data:      bufpool.Get(uint32(aligned)),
		blockSize: blockSize,
	}, nil
}

// Raw returns the buffer's backing slice. The slice is borrowed: it is
// only valid until the next Realloc or Free.
func (b *Buffer) Raw() []byte {
	return b.data
}

// Len returns the buffer's current size in bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// AppendAt copies size bytes from src to the buffer at *writeHead,
// advancing *writeHead by size on success.
func (b *Buffer) AppendAt(src []byte, writeHead *uint32, size uint32) error {
	if b.freed {
		return NewError("Buffer.AppendAt", CodeInvalidArguments, "buffer already freed")
	}
	start := *writeHead
	end := uint64(start) + uint64(size)
	if end > uint64(len(b.data)) || uint64(size) > uint64(len(src)) {
		return NewError("Buffer.AppendAt", CodeInvalidArguments, "append would overflow buffer")
	}
	copy(b.data[start:end], src[:size])
	*writeHead = uint32(end)
	return nil
}

// WriteAt copies size bytes from src into the buffer at offset.
func (b *Buffer) WriteAt(src []byte, offset uint32, size uint32) error {
	if b.freed {
		return NewError("Buffer.WriteAt", CodeInvalidArguments, "buffer already freed")
	}
	end := uint64(offset) + uint64(size)
	if end > uint64(len(b.data)) || uint64(size) > uint64(len(src)) {
		return NewError("Buffer.WriteAt", CodeInvalidArguments, "write out of bounds")
	}
	copy(b.data[offset:end], src[:size])
	return nil
}

// ReadFrom copies size bytes out of the buffer at offset into dst.
func (b *Buffer) ReadFrom(dst []byte, offset uint32, size uint32) error {
	if b.freed {
		return NewError("Buffer.ReadFrom", CodeInvalidArguments, "buffer already freed")
	}
	end := uint64(offset) + uint64(size)
	if end > uint64(len(b.data)) || uint64(size) > uint64(len(dst)) {
		return NewError("Buffer.ReadFrom", CodeInvalidArguments, "read out of bounds")
	}
	copy(dst[:size], b.data[offset:end])
	return nil
}

// Realloc grows the buffer to at least newSize bytes (rounded up to
// blockSize), preserving existing contents. It never shrinks: a smaller
// newSize is a no-op.
func (b *Buffer) Realloc(newSize int) error {
	if b.freed {
		return NewError("Buffer.Realloc", CodeInvalidArguments, "buffer already freed")
	}
	if newSize < 0 {
		return NewError("Buffer.Realloc", CodeInvalidArguments, "negative buffer size")
	}
	aligned := roundUpBlock(newSize, b.blockSize)
	if aligned <= len(b.data) {
		return nil
	}
	next := bufpool.Get(uint32(aligned))
	copy(next, b.data)
	bufpool.Put(b.data)
	b.data = next
	return nil
}

// Free releases the buffer's backing storage back to the pool. The
// Buffer must not be used afterward.
func (b *Buffer) Free() {
	if b.freed {
		return
	}
	bufpool.Put(b.data)
	b.data = nil
	b.freed = true
}
