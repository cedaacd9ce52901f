package froxel

import (
	"fmt"
	"unsafe"
)

// FrameArena is a bump allocator for scratch data whose lifetime is one
// frame or render pass. Allocations are served from a single fixed block
// and released all at once by Reset; there is no per-allocation free.
// Not safe for concurrent use.
type FrameArena struct {
	buf []byte
	off int
}

// NewFrameArena allocates an arena with the given byte size. Panics if
// size is not positive.
func NewFrameArena(size int) *FrameArena {
	if size <= 0 {
		panic(fmt.Sprintf("froxel: FrameArena size must be positive, got %d", size))
	}
	return &FrameArena{buf: make([]byte, size)}
}

// Reset releases every allocation in bulk. Slices handed out earlier must
// not be used afterwards.
func (a *FrameArena) Reset() { a.off = 0 }

// Size returns the total capacity in bytes.
func (a *FrameArena) Size() int { return len(a.buf) }

// Used returns the bytes currently allocated.
func (a *FrameArena) Used() int { return a.off }

func (a *FrameArena) alloc(n, align int) []byte {
	off := (a.off + align - 1) &^ (align - 1)
	if off+n > len(a.buf) {
		panic(fmt.Sprintf("froxel: FrameArena exhausted: need %d bytes at offset %d of %d", n, off, len(a.buf)))
	}
	a.off = off + n
	b := a.buf[off : off+n : off+n]
	clear(b)
	return b
}

// ArenaAlloc returns a zeroed scratch slice of n elements of T drawn from
// the arena. The slice is valid until the next Reset. Panics when the
// arena is exhausted; sizing the arena is the caller's job.
func ArenaAlloc[T any](a *FrameArena, n int) []T {
	if n == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	align := int(unsafe.Alignof(zero))
	raw := a.alloc(n*size, align)
	return unsafe.Slice((*T)(unsafe.Pointer(&raw[0])), n)
}
