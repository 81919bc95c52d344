// Package allocator implements the bucket/bitmap pool and composition tree
// spec.md §4.5 describes: FixedBitmap, LinkedChain, SizeDeciding,
// LayoutNormalizer, and LockedGlobalAlloc, composed into the canonical
// global kernel allocator backed by internal/kheap.
//
// Go has no const generics, so the Rust FixedBitmap<BLOCK, CAPACITY> and
// LinkedChain<A, B> become ordinary structs sized at construction time
// instead of at compile time; the allocation algorithms are unchanged.
package allocator

import (
	"unsafe"

	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
)

// Layout describes a requested allocation: size and alignment in bytes.
type Layout struct {
	Size  uint64
	Align uint64
}

// Allocator is the interface every node in the composition tree satisfies.
type Allocator interface {
	Alloc(layout Layout) (uintptr, error)
	Dealloc(ptr uintptr, layout Layout) error
	IsOwner(ptr uintptr, layout Layout) bool
}

// maxBitmapAlign is the largest alignment FixedBitmap can satisfy; layouts
// requesting more must be routed elsewhere by a SizeDeciding ancestor.
const maxBitmapAlign = 16

// FixedBitmap is a fixed-capacity pool of equal-sized blocks tracked by a
// bitmap: bit i set means block i is allocated. block and capacity are
// supplied at construction time in place of Rust's const generic
// parameters.
type FixedBitmap struct {
	block    uint64
	storage  []byte
	bits     []byte
	capacity int
}

// NewFixedBitmap allocates a bitmap-tracked pool of capacity blocks of
// block bytes each, backed by a freshly allocated storage slice. Used where
// a FixedBitmap is exercised on its own, with no backing allocator to carve
// its storage from (e.g. in tests).
func NewFixedBitmap(block uint64, capacity int) *FixedBitmap {
	return &FixedBitmap{
		block:    block,
		storage:  make([]byte, block*uint64(capacity)),
		bits:     make([]byte, capacity),
		capacity: capacity,
	}
}

// fixedBitmapLayout is the Layout a backing allocator must satisfy for
// newFixedBitmapAt to carve both the block storage and the one-byte-per-slot
// bitmap out of a single allocation, mirroring the original source's
// FixedBitMap, whose bitmap and block storage are both inline fields of one
// struct constructed in place inside the backing allocation.
func fixedBitmapLayout(block uint64, capacity int) Layout {
	return Layout{Size: block*uint64(capacity) + uint64(capacity), Align: maxBitmapAlign}
}

// newFixedBitmapAt constructs a FixedBitmap whose storage and bitmap live
// inside mem, which must be at least as large as fixedBitmapLayout(block,
// capacity) reports — the pool is then the one real allocation obtained
// from the backing allocator, rather than a second, independent Go-heap
// allocation hanging off a bookkeeping pointer.
func newFixedBitmapAt(mem []byte, block uint64, capacity int) *FixedBitmap {
	storageLen := block * uint64(capacity)
	return &FixedBitmap{
		block:    block,
		storage:  mem[:storageLen],
		bits:     mem[storageLen : storageLen+uint64(capacity)],
		capacity: capacity,
	}
}

func (b *FixedBitmap) base() uintptr {
	if len(b.storage) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b.storage[0]))
}

func (b *FixedBitmap) blockPtr(i int) uintptr {
	return b.base() + uintptr(i)*uintptr(b.block)
}

// Alloc finds the first unset bit, sets it, and returns a pointer to that
// block. It fails if layout does not fit a single block or b is full.
func (b *FixedBitmap) Alloc(layout Layout) (uintptr, error) {
	if layout.Size > b.block || layout.Align > maxBitmapAlign {
		return 0, kernelerr.NewAllocationError("LAYOUT_TOO_LARGE",
			"layout does not fit a FixedBitmap block", map[string]any{"size": layout.Size, "align": layout.Align})
	}

	for i := 0; i < b.capacity; i++ {
		if b.bits[i] == 0 {
			b.bits[i] = 1
			return b.blockPtr(i), nil
		}
	}

	return 0, kernelerr.NewAllocationError("POOL_FULL", "FixedBitmap has no free block", nil)
}

// blockIndex computes the block index backing ptr.
func (b *FixedBitmap) blockIndex(ptr uintptr) int {
	offset := ptr - b.base()
	return int(offset / uintptr(b.block))
}

// Dealloc clears the bit for the block backing ptr. It fails if ptr does
// not back a currently allocated block in this pool — the Rust source
// treats this as a debug assertion; here it is a recoverable error, which
// LinkedChain passes straight back to its own caller instead of panicking.
func (b *FixedBitmap) Dealloc(ptr uintptr, _ Layout) error {
	idx := b.blockIndex(ptr)
	if idx < 0 || idx >= b.capacity || b.bits[idx] == 0 {
		return kernelerr.NewAllocationError("DOUBLE_FREE", "dealloc of a block that was not allocated", map[string]any{"index": idx})
	}
	b.bits[idx] = 0
	return nil
}

// IsOwner reports whether ptr lies within this bitmap's block range and
// layout fits a single block.
func (b *FixedBitmap) IsOwner(ptr uintptr, layout Layout) bool {
	if layout.Size > b.block || layout.Align > maxBitmapAlign || b.capacity == 0 {
		return false
	}
	base := b.blockPtr(0)
	last := b.blockPtr(b.capacity - 1)
	return ptr >= base && ptr <= last
}

// FreeCount reports how many blocks remain unallocated.
func (b *FixedBitmap) FreeCount() int {
	n := 0
	for _, set := range b.bits {
		if set == 0 {
			n++
		}
	}
	return n
}

var _ Allocator = (*FixedBitmap)(nil)
