package allocator

import "github.com/dbartussek-go/kernelcore/internal/memaddr"

// LayoutNormalizer rewrites every request before forwarding to inner: if
// align is sub-page, size is padded up to a multiple of align; else any
// sub-page size is rounded up to one page. A sub-page-aligned request is
// therefore not made a whole number of pages here (5000/8 stays 5000/8);
// internal/kheap rounds such sizes up to whole pages itself. The rewrite is applied
// identically on Dealloc so the inner allocator always sees the same
// normalized layout it was given on Alloc.
type LayoutNormalizer struct {
	inner Allocator
}

// NewLayoutNormalizer wraps inner with request normalization.
func NewLayoutNormalizer(inner Allocator) *LayoutNormalizer {
	return &LayoutNormalizer{inner: inner}
}

// Normalize applies the rewrite rule to layout without touching an inner
// allocator; exported so callers needing to predict the normalized layout
// (e.g. Dealloc accounting) can do so without an allocation.
func Normalize(layout Layout) Layout {
	switch {
	case layout.Align < memaddr.PageSize:
		// pad_to_align(): round size up to the next multiple of align,
		// not merely up to align itself.
		if rem := layout.Size % layout.Align; rem != 0 {
			layout.Size += layout.Align - rem
		}
		if layout.Size < layout.Align {
			layout.Size = layout.Align
		}
	case layout.Size < memaddr.PageSize:
		layout.Size = memaddr.PageSize
	}
	return layout
}

func (n *LayoutNormalizer) Alloc(layout Layout) (uintptr, error) {
	return n.inner.Alloc(Normalize(layout))
}

func (n *LayoutNormalizer) Dealloc(ptr uintptr, layout Layout) error {
	return n.inner.Dealloc(ptr, Normalize(layout))
}

func (n *LayoutNormalizer) IsOwner(ptr uintptr, layout Layout) bool {
	return n.inner.IsOwner(ptr, Normalize(layout))
}

var _ Allocator = (*LayoutNormalizer)(nil)
