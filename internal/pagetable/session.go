package pagetable

import (
	"fmt"

	"github.com/dbartussek-go/kernelcore/internal/kernelerr"
	"github.com/dbartussek-go/kernelcore/internal/kmutex"
	"github.com/dbartussek-go/kernelcore/internal/memaddr"
	"github.com/dbartussek-go/kernelcore/internal/physmem"
)

// ModificationFlags declares which address-space regions a
// ModificationSession is permitted to touch. Declaring a region acquires
// its lock for the session's lifetime; every MapPages/UnmapPages call
// checks its range against the declared set via IsValidRange (spec.md
// §4.3, §8 scenario 4).
type ModificationFlags struct {
	UserSpace   bool
	Identity    bool
	KernelStack bool
	KernelHeap  bool
}

func (f ModificationFlags) String() string {
	return fmt.Sprintf("ModificationFlags{UserSpace:%v Identity:%v KernelStack:%v KernelHeap:%v}",
		f.UserSpace, f.Identity, f.KernelStack, f.KernelHeap)
}

// the three region locks, acquired in this fixed order by Modify to avoid
// deadlocks between sessions declaring overlapping region sets.
var (
	identityLock    = kmutex.New("pagetable.RegionIdentity")
	kernelStackLock = kmutex.New("pagetable.RegionKernelStack")
	kernelHeapLock  = kmutex.New("pagetable.RegionKernelHeap")
)

// ModificationSession bounds the lifetime of a table mutation under the
// locks its ModificationFlags declared. It must be closed (typically via
// defer) to release them.
type ModificationSession struct {
	table *ManagedPageTable
	ram   *physmem.RAM
	flags ModificationFlags
	guard []*kmutex.Guard
}

// Modify opens a ModificationSession on t, acquiring the lock for each
// declared region in identity -> kernel_stack -> kernel_heap order.
func (t *ManagedPageTable) Modify(ram *physmem.RAM, flags ModificationFlags) *ModificationSession {
	var guard []*kmutex.Guard

	if flags.Identity {
		guard = append(guard, identityLock.Guard())
	}
	if flags.KernelStack {
		guard = append(guard, kernelStackLock.Guard())
	}
	if flags.KernelHeap {
		guard = append(guard, kernelHeapLock.Guard())
	}

	return &ModificationSession{table: t, ram: ram, flags: flags, guard: guard}
}

// Close releases every region lock this session acquired, in reverse
// order. It is safe to call more than once.
func (s *ModificationSession) Close() {
	for i := len(s.guard) - 1; i >= 0; i-- {
		s.guard[i].Close()
	}
	s.guard = nil
}

// ModifyGlobal opens a session against the table currently loaded into the
// simulated CR3. UserSpace is always cleared — global sessions never
// declare user space, since the active table's lower half is meaningless
// outside the context of the process that installed it (spec.md §4.3).
func ModifyGlobal(ram *physmem.RAM, flags ModificationFlags, f func(*ModificationSession) error) error {
	flags.UserSpace = false
	session := ReadCurrent().Modify(ram, flags)
	defer session.Close()
	return f(session)
}

func (s *ModificationSession) regionDeclared(r Region) bool {
	switch r {
	case RegionIdentity:
		return s.flags.Identity
	case RegionKernelStack:
		return s.flags.KernelStack
	case RegionKernelHeap:
		return s.flags.KernelHeap
	default:
		return false
	}
}

// IsValidRange checks r against this session's declared regions: r must be
// canonical at both ends, must not straddle the user/kernel boundary or
// two kernel regions, and if it falls in kernel space, its region's lock
// must have been declared for this session.
func (s *ModificationSession) IsValidRange(r memaddr.Range) error {
	if r.Empty() {
		return nil
	}

	startAddr := r.Start.Address()
	lastAddr := r.End.Address() - memaddr.PageSize

	if !isCanonical(startAddr) {
		return kernelerr.NonCanonicalAddress(startAddr)
	}
	if !isCanonical(lastAddr) {
		return kernelerr.NonCanonicalAddress(lastAddr)
	}

	userSpace := startAddr < uint64(KernelSpaceBase)
	if userSpace {
		if lastAddr >= uint64(KernelSpaceBase) {
			return kernelerr.CrossRegionRange()
		}
		if !s.flags.UserSpace {
			return kernelerr.UserSpaceNotDeclared()
		}
		return nil
	}

	startRegion, ok := regionOf(startAddr)
	if !ok {
		return kernelerr.UnknownRegion(startAddr)
	}
	endRegion, ok := regionOf(lastAddr)
	if !ok {
		return kernelerr.UnknownRegion(lastAddr)
	}
	if startRegion != endRegion {
		return kernelerr.CrossRegionRange()
	}
	if !s.regionDeclared(startRegion) {
		return kernelerr.RegionLockNotHeld(startRegion.Name())
	}

	return nil
}

// MapPages maps r to the consecutive physical frames starting at
// frameStart, allocating any missing intermediate PageTable frames from m.
func (s *ModificationSession) MapPages(r memaddr.Range, frameStart memaddr.PhysFrame, flags Flags, m *physmem.Map) error {
	if err := s.IsValidRange(r); err != nil {
		return err
	}

	alloc, err := defaultIntermediateAllocator()
	if err != nil {
		return err
	}

	frame := frameStart
	for page := r.Start; page < r.End; page = page.Add(1) {
		leafTable, idx, ok, err := walkToLeaf(s.ram, s.table.l4, page, m, alloc)
		if err != nil {
			return err
		}
		if !ok {
			return errRangeNotPresent
		}
		writeEntry(s.ram, leafTable, idx, newEntry(frame, flags|FlagPresent))
		frame = frame.Add(1)
	}

	return nil
}

// MapPagesExternalFrameAllocator is MapPages, but the backing frame for
// each page is chosen by calling choose rather than incrementing a base
// frame — used to map a scatter of already-known frames (e.g. firmware
// memory-map regions) into a contiguous virtual range.
func (s *ModificationSession) MapPagesExternalFrameAllocator(r memaddr.Range, flags Flags, m *physmem.Map, choose func(*physmem.Map) (memaddr.PhysFrame, bool)) error {
	if err := s.IsValidRange(r); err != nil {
		return err
	}

	intermediate, err := defaultIntermediateAllocator()
	if err != nil {
		return err
	}

	for page := r.Start; page < r.End; page = page.Add(1) {
		frame, ok := choose(m)
		if !ok {
			return kernelerr.NoFreeFrame()
		}

		leafTable, idx, ok, err := walkToLeaf(s.ram, s.table.l4, page, m, intermediate)
		if err != nil {
			return err
		}
		if !ok {
			return errRangeNotPresent
		}
		writeEntry(s.ram, leafTable, idx, newEntry(frame, flags|FlagPresent))
	}

	return nil
}

// MapBlankPages maps every page of r to a freshly allocated, zeroed frame
// tagged usage in m — the path KernelHeapPages and kernel-stack allocation
// use to grow their backing store (spec.md §4.4, §4.6).
func (s *ModificationSession) MapBlankPages(r memaddr.Range, usage physmem.PageUsage, flags Flags, m *physmem.Map) error {
	if err := s.IsValidRange(r); err != nil {
		return err
	}

	leafAlloc, err := physmem.NewFrameAllocator(usage)
	if err != nil {
		return err
	}
	intermediate, err := defaultIntermediateAllocator()
	if err != nil {
		return err
	}

	for page := r.Start; page < r.End; page = page.Add(1) {
		tok, err := leafAlloc.Allocate(m)
		if err != nil {
			return err
		}

		zeroTable(s.ram, tok.Frame) // frame holds data, not a table, but the buffer still starts zeroed

		leafTable, idx, ok, err := walkToLeaf(s.ram, s.table.l4, page, m, intermediate)
		if err != nil {
			return err
		}
		if !ok {
			return errRangeNotPresent
		}
		writeEntry(s.ram, leafTable, idx, newEntry(tok.Frame, flags|FlagPresent))
	}

	return nil
}

// UnmapPages clears the leaf entry for every page in r without touching
// the PageUsageMap; the caller remains responsible for the frames.
func (s *ModificationSession) UnmapPages(r memaddr.Range) error {
	if err := s.IsValidRange(r); err != nil {
		return err
	}

	for page := r.Start; page < r.End; page = page.Add(1) {
		leafTable, idx, ok, err := walkToLeaf(s.ram, s.table.l4, page, nil, nil)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		writeEntry(s.ram, leafTable, idx, entry(0))
	}

	return nil
}

// UnmapPagesAndRelease clears the leaf entry for every mapped page in r
// and returns its backing frame to m as Empty.
func (s *ModificationSession) UnmapPagesAndRelease(r memaddr.Range, m *physmem.Map) error {
	if err := s.IsValidRange(r); err != nil {
		return err
	}

	for page := r.Start; page < r.End; page = page.Add(1) {
		leafTable, idx, ok, err := walkToLeaf(s.ram, s.table.l4, page, nil, nil)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		e := readEntry(s.ram, leafTable, idx)
		writeEntry(s.ram, leafTable, idx, entry(0))
		if e.present() {
			m.DeallocateFrame(e.frame())
		}
	}

	return nil
}

// FindFreePagesInRange scans r for the first run of count consecutive
// unmapped pages whose start is aligned to pageAlign pages (pageAlign must
// be at least 1) and returns it.
func (s *ModificationSession) FindFreePagesInRange(r memaddr.Range, count uint64, pageAlign uint64) (memaddr.Range, error) {
	if err := s.IsValidRange(r); err != nil {
		return memaddr.Range{}, err
	}
	if pageAlign == 0 {
		pageAlign = 1
	}
	if count == 0 {
		return memaddr.Range{Start: r.Start, End: r.Start}, nil
	}

	var runStart memaddr.VirtPage
	runLen := uint64(0)

	for page := r.Start; page < r.End; page = page.Add(1) {
		if _, _, mapped := s.table.Translate(s.ram, page); mapped {
			runLen = 0
			continue
		}

		if runLen == 0 {
			if page.Number()%pageAlign != 0 {
				continue
			}
			runStart = page
		}

		runLen++
		if runLen == count {
			return memaddr.Range{Start: runStart, End: runStart.Add(count)}, nil
		}
	}

	return memaddr.Range{}, kernelerr.NewAllocationError(
		"NO_FREE_VIRTUAL_RANGE",
		fmt.Sprintf("no run of %d page(s) aligned to %d page(s) found in range", count, pageAlign),
		map[string]any{"pages": count, "align": pageAlign},
	)
}

// Translate resolves page through this session's table.
func (s *ModificationSession) Translate(page memaddr.VirtPage) (memaddr.PhysFrame, Flags, bool) {
	return s.table.Translate(s.ram, page)
}
