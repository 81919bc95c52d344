package allocator

import (
	"github.com/dbartussek-go/kernelcore/internal/kheap"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/pagetable"
)

// HeapAdapter wraps kheap.Pages so it can sit as a leaf Allocator at the
// bottom of every SizeDeciding/LinkedChain branch, per spec.md §4.5's
// canonical composition tree.
type HeapAdapter struct {
	pages *kheap.Pages
}

// NewHeapAdapter wraps pages as an Allocator.
func NewHeapAdapter(pages *kheap.Pages) *HeapAdapter {
	return &HeapAdapter{pages: pages}
}

func (h *HeapAdapter) Alloc(layout Layout) (uintptr, error) {
	page, err := h.pages.Allocate(layout.Size, layout.Align)
	if err != nil {
		return 0, err
	}
	return uintptr(page.Address()), nil
}

func (h *HeapAdapter) Dealloc(ptr uintptr, layout Layout) error {
	pages := ceilDivLayout(layout.Size, memaddr.PageSize)
	return h.pages.Deallocate(memaddr.VirtPage(uint64(ptr)), pages)
}

func (h *HeapAdapter) IsOwner(ptr uintptr, _ Layout) bool {
	return pagetable.RegionKernelHeap.Bounds().Contains(memaddr.VirtPage(uint64(ptr)))
}

func ceilDivLayout(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}

var _ Allocator = (*HeapAdapter)(nil)
