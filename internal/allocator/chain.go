package allocator

import (
	"unsafe"

	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
)

// nodeAllocator is the subset of a backing allocator LinkedChain needs to
// grow by one node: something that can hand out the fixed-size storage a
// new FixedBitmap head requires.
type nodeAllocator interface {
	Alloc(layout Layout) (uintptr, error)
	Dealloc(ptr uintptr, layout Layout) error
}

// chainNode is one link in a LinkedChain: an owned FixedBitmap plus the
// pointer returned for it by the backing allocator. The chain never
// releases a node once linked, so that pointer is never handed back.
type chainNode struct {
	pool    *FixedBitmap
	backing uintptr
	next    *chainNode
}

// LinkedChain walks a list of FixedBitmap nodes asking each to satisfy an
// allocation; on universal failure it grows the chain by asking its
// backing allocator B for storage for one more node, links it as the new
// head, and retries there. Because Go has no const type parameters, A's
// shape (block size, capacity) is fixed at construction via NewLinkedChain rather
// than via a generic Node<A> type.
type LinkedChain struct {
	block    uint64
	capacity int
	backing  nodeAllocator
	head     *chainNode
}

// NewLinkedChain returns an empty chain of FixedBitmap(block, capacity)
// nodes, grown on demand from backing.
func NewLinkedChain(block uint64, capacity int, backing nodeAllocator) *LinkedChain {
	return &LinkedChain{block: block, capacity: capacity, backing: backing}
}

func (c *LinkedChain) nodeLayout() Layout {
	return fixedBitmapLayout(c.block, c.capacity)
}

// growNode allocates storage for a new node from the backing allocator and
// links it in as the new head. The node's FixedBitmap is constructed
// in-place inside that one allocation — mirroring the original source's
// AllocatorBlock<A>, whose A::default() is written directly into the memory
// backing.alloc returns — rather than as a second, independent allocation
// the bookkeeping pointer merely happens to sit next to.
func (c *LinkedChain) growNode() (*chainNode, error) {
	layout := c.nodeLayout()
	ptr, err := c.backing.Alloc(layout)
	if err != nil {
		return nil, err
	}

	mem := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), layout.Size)
	node := &chainNode{pool: newFixedBitmapAt(mem, c.block, c.capacity), backing: ptr, next: c.head}
	c.head = node
	return node, nil
}

// Alloc tries every existing node in order; if none can satisfy layout, it
// grows the chain by one node and retries there.
func (c *LinkedChain) Alloc(layout Layout) (uintptr, error) {
	for n := c.head; n != nil; n = n.next {
		if ptr, err := n.pool.Alloc(layout); err == nil {
			return ptr, nil
		}
	}

	node, err := c.growNode()
	if err != nil {
		return 0, err
	}

	return node.pool.Alloc(layout)
}

// Dealloc walks the chain for the node owning ptr and frees it there.
func (c *LinkedChain) Dealloc(ptr uintptr, layout Layout) error {
	for n := c.head; n != nil; n = n.next {
		if n.pool.IsOwner(ptr, layout) {
			return n.pool.Dealloc(ptr, layout)
		}
	}
	return kernelerr.NewAllocationError("NOT_OWNED", "dealloc of a pointer not owned by this chain", nil)
}

// IsOwner walks the chain and short-circuits on the first owning node.
func (c *LinkedChain) IsOwner(ptr uintptr, layout Layout) bool {
	for n := c.head; n != nil; n = n.next {
		if n.pool.IsOwner(ptr, layout) {
			return true
		}
	}
	return false
}

var _ Allocator = (*LinkedChain)(nil)
