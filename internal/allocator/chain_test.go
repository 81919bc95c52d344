package allocator

import (
	"testing"
	"unsafe"
)

// fakeBacking is a trivial nodeAllocator that hands out storage carved from
// a real Go-heap block per call, used to isolate LinkedChain's growth logic
// from a real kheap-backed allocator while still giving the returned
// pointer genuine memory behind it — LinkedChain writes a FixedBitmap
// directly into that memory, so a synthetic, non-backed pointer would not
// exercise the real code path.
type fakeBacking struct {
	blocks [][]byte
}

func (f *fakeBacking) Alloc(layout Layout) (uintptr, error) {
	block := make([]byte, layout.Size)
	f.blocks = append(f.blocks, block)
	return uintptr(unsafe.Pointer(&block[0])), nil
}

func (f *fakeBacking) Dealloc(uintptr, Layout) error { return nil }

func TestLinkedChainGrowsOnExhaustion(t *testing.T) {
	chain := NewLinkedChain(16, 2, &fakeBacking{})

	var ptrs []uintptr
	for i := 0; i < 5; i++ {
		ptr, err := chain.Alloc(Layout{Size: 16, Align: 8})
		if err != nil {
			t.Fatalf("Alloc %d: %v", i, err)
		}
		ptrs = append(ptrs, ptr)
	}

	for _, ptr := range ptrs {
		if !chain.IsOwner(ptr, Layout{Size: 16, Align: 8}) {
			t.Errorf("chain should own every pointer it allocated, missed %v", ptr)
		}
	}
}

func TestLinkedChainDeallocFindsOwningNode(t *testing.T) {
	chain := NewLinkedChain(16, 1, &fakeBacking{})

	first, _ := chain.Alloc(Layout{Size: 16, Align: 8})
	_, _ = chain.Alloc(Layout{Size: 16, Align: 8}) // forces growth to a second node

	if err := chain.Dealloc(first, Layout{Size: 16, Align: 8}); err != nil {
		t.Fatalf("Dealloc: %v", err)
	}
	// IsOwner reflects block-range membership, not current allocation
	// state (spec.md §4.5): a freed block is still "owned" by its pool.
	if !chain.IsOwner(first, Layout{Size: 16, Align: 8}) {
		t.Error("freed pointer should still be owned by its block range")
	}
	if err := chain.Dealloc(first, Layout{Size: 16, Align: 8}); err == nil {
		t.Error("expected failure on double free of the same pointer")
	}
}

func TestLinkedChainDeallocUnknownPointerFails(t *testing.T) {
	chain := NewLinkedChain(16, 1, &fakeBacking{})
	if err := chain.Dealloc(0xDEAD, Layout{Size: 16, Align: 8}); err == nil {
		t.Error("expected failure deallocating a pointer never allocated by this chain")
	}
}

// TestLinkedChainNodeStorageLivesInsideBackingBlock confirms a node's
// FixedBitmap is built in place inside the single allocation its backing
// allocator returned, rather than as an independent allocation the node
// merely records a pointer to (spec.md §3: a bucket pool is "allocated from
// B as one block").
func TestLinkedChainNodeStorageLivesInsideBackingBlock(t *testing.T) {
	backing := &fakeBacking{}
	chain := NewLinkedChain(16, 2, backing)

	ptr, err := chain.Alloc(Layout{Size: 16, Align: 8})
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}

	if len(backing.blocks) != 1 {
		t.Fatalf("expected exactly one backing block, got %d", len(backing.blocks))
	}
	block := backing.blocks[0]
	base := uintptr(unsafe.Pointer(&block[0]))
	end := base + uintptr(len(block))

	if ptr < base || ptr >= end {
		t.Errorf("allocated pointer %#x does not lie inside the node's backing block [%#x, %#x)", ptr, base, end)
	}
}
