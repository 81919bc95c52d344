package kheap

import (
	"testing"

	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/pagetable"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

func newHeap(t *testing.T, frameCount uint64) *Pages {
	t.Helper()

	ram := physmem.NewRAM(memaddr.PhysFrame(0), frameCount)
	m := physmem.Create(memaddr.PhysFrame(0), frameCount, physmem.Empty())

	rootAlloc, err := physmem.NewFrameAllocator(physmem.PageTableRoot())
	if err != nil {
		t.Fatal(err)
	}
	tok, err := rootAlloc.Allocate(m)
	if err != nil {
		t.Fatal(err)
	}

	table := pagetable.FromRawFrame(tok.Frame)
	table.Activate()

	return New(ram, m)
}

// TestPageBackedAllocation reproduces spec.md §8 scenario 3: a request for
// (size=5000, align=8), issued here as its two-page size (8192, 8),
// lands inside the kernel-heap region, translates successfully, and its
// backing frame is tagged KernelHeap.
func TestPageBackedAllocation(t *testing.T) {
	heap := newHeap(t, 64)

	start, err := heap.Allocate(8192, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	bounds := pagetable.RegionKernelHeap.Bounds()
	if !bounds.Contains(start) {
		t.Fatalf("allocation start %v not inside kernel_heap region %v", start, bounds)
	}

	frame, _, ok := pagetable.ReadCurrent().Translate(heap.ram, start)
	if !ok {
		t.Fatal("translate at the allocated address should succeed")
	}

	usage, _ := heap.m.Get(frame)
	if usage.Category() != physmem.CategoryKernelHeap {
		t.Errorf("backing frame category = %v, want KernelHeap", usage.Category())
	}
}

func TestAllocateRoundsUpToWholePages(t *testing.T) {
	heap := newHeap(t, 64)

	start, err := heap.Allocate(1, 1)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if start.Address()%memaddr.PageSize != 0 {
		t.Errorf("start %v is not page-aligned", start)
	}
}

func TestDeallocateReleasesFrames(t *testing.T) {
	heap := newHeap(t, 64)

	start, err := heap.Allocate(8192, 8)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	if err := heap.Deallocate(start, 2); err != nil {
		t.Fatalf("Deallocate: %v", err)
	}

	err = pagetable.ModifyGlobal(heap.ram, pagetable.ModificationFlags{KernelHeap: true}, func(s *pagetable.ModificationSession) error {
		if _, _, ok := s.Translate(start); ok {
			t.Error("page should be unmapped after Deallocate")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAllocateFailsWhenRegionExhausted(t *testing.T) {
	heap := newHeap(t, 4) // far too few frames to satisfy a large request

	_, err := heap.Allocate(memaddr.PageSize*1000, memaddr.PageSize)
	if err == nil {
		t.Fatal("expected allocation failure when the physical map has too few frames")
	}
}
