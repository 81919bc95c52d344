// Package kheap implements KernelHeapPages: the page-granular allocator
// spec.md §4.4 describes. It maps whole pages: a size that is not a page
// multiple is rounded up to whole pages and an alignment below one page is
// treated as one page. It returns pointers inside the kernel-heap region.
package kheap

import (
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/pagetable"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

const leafFlags = pagetable.FlagPresent | pagetable.FlagWritable | pagetable.FlagNoExecute

// Pages is KernelHeapPages: a page-granular allocator backed by the
// kernel_heap region of whichever table is active in the simulated CR3 at
// the time of each call.
type Pages struct {
	ram *physmem.RAM
	m   *physmem.Map
}

// New returns a Pages allocator operating over ram and m.
func New(ram *physmem.RAM, m *physmem.Map) *Pages {
	return &Pages{ram: ram, m: m}
}

// Allocate satisfies a request of size bytes aligned to align bytes. size
// is rounded up to whole pages and align is used in whole pages (a sub-page
// align counts as one page). It returns the first virtual page of the
// mapped range.
func (p *Pages) Allocate(size, align uint64) (memaddr.VirtPage, error) {
	pages := ceilDiv(size, memaddr.PageSize)
	pageAlign := align / memaddr.PageSize
	if pageAlign == 0 {
		pageAlign = 1
	}

	var result memaddr.VirtPage
	err := pagetable.ModifyGlobal(p.ram, pagetable.ModificationFlags{KernelHeap: true}, func(s *pagetable.ModificationSession) error {
		free, err := s.FindFreePagesInRange(pagetable.RegionKernelHeap.Bounds(), pages, pageAlign)
		if err != nil {
			return err
		}

		if err := s.MapBlankPages(free, physmem.KernelHeap(), leafFlags, p.m); err != nil {
			return err
		}

		result = free.Start
		return nil
	})
	if err != nil {
		return 0, err
	}

	return result, nil
}

// Deallocate releases the count pages starting at start back to Empty and
// unmaps them.
func (p *Pages) Deallocate(start memaddr.VirtPage, count uint64) error {
	r := memaddr.Range{Start: start, End: start.Add(count)}

	return pagetable.ModifyGlobal(p.ram, pagetable.ModificationFlags{KernelHeap: true}, func(s *pagetable.ModificationSession) error {
		return s.UnmapPagesAndRelease(r, p.m)
	})
}

func ceilDiv(a, b uint64) uint64 {
	if a == 0 {
		return 0
	}
	return (a + b - 1) / b
}
