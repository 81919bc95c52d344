package allocator

import "github.com/dbartussek-go/kernelcore/internal/kheap"

// bucketCapacity bounds how many blocks each FixedBitmap node starts with;
// LinkedChain grows the chain by one more node of this size once a node
// fills up.
const bucketCapacity = 64

// sizePageFallback is the largest block size the bucket tree hands to a
// bitmap pool before falling back to per-page allocation directly; it
// doubles as the threshold between the bucket tree and KernelHeapPages.
const sizePageFallback = 4096

// NewGlobal builds the canonical global kernel allocator spec.md §4.5
// describes: a LayoutNormalizer wrapping a SizeDeciding that routes
// requests at or below sizePageFallback into a LockedGlobalAlloc-guarded
// chain of fixed-size bitmap buckets (16/32/64/128/256/sizePageFallback
// bytes), each of which grows by taking new node storage from heap, and
// routes everything larger directly to heap.
func NewGlobal(heap *kheap.Pages) Allocator {
	backing := NewHeapAdapter(heap)

	bucket := func(blockSize uint64) *LinkedChain {
		return NewLinkedChain(blockSize, bucketCapacity, backing)
	}

	tree := NewSizeDeciding(16, bucket(16),
		NewSizeDeciding(32, bucket(32),
			NewSizeDeciding(64, bucket(64),
				NewSizeDeciding(128, bucket(128),
					NewSizeDeciding(256, bucket(256),
						bucket(sizePageFallback))))))

	locked := NewLockedGlobalAlloc(tree)

	return NewLayoutNormalizer(NewSizeDeciding(sizePageFallback, locked, backing))
}
